/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package media

//go:generate mockgen -destination=mock_devices.go -package=media . Devices

import (
	"context"
)

// Constraints selects which kinds of capture to request
type Constraints struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// Empty reports whether nothing was requested
func (c Constraints) Empty() bool {
	return !c.Video && !c.Audio
}

// Devices is the host's capture provider.
// Acquire may block until the user answers a permission prompt and must honour ctx.
type Devices interface {
	// Acquire opens camera and/or microphone. Fails with ErrPermissionDenied or ErrDeviceUnavailable.
	Acquire(ctx context.Context, c Constraints) (*Source, error)
	// AcquireDisplay opens a screen capture source
	AcquireDisplay(ctx context.Context) (*Source, error)
}
