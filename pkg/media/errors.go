/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package media

import "errors"

var (
	// ErrPermissionDenied indicates the user or host refused capture access
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDeviceUnavailable indicates no device can satisfy the constraints
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrTrackStopped indicates the track has been stopped
	ErrTrackStopped = errors.New("track is stopped")

	// ErrCodecMismatch indicates an audio codec on a video track or the reverse
	ErrCodecMismatch = errors.New("codec kind mismatch")
)
