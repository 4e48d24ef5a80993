/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package call

import (
	"context"
	"errors"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/peer"
)

var (
	// ErrPermissionDenied indicates capture access was refused
	ErrPermissionDenied = media.ErrPermissionDenied

	// ErrDeviceUnavailable indicates no capture device could be opened
	ErrDeviceUnavailable = media.ErrDeviceUnavailable

	// ErrInvalidNegotiationState indicates the offer/answer exchange went out of order
	ErrInvalidNegotiationState = peer.ErrInvalidNegotiationState

	// ErrConnectionClosed indicates a connection closed or the call ended mid-start
	ErrConnectionClosed = peer.ErrConnectionClosed

	// ErrInvalidSessionState indicates the operation is not valid in the current session state
	ErrInvalidSessionState = errors.New("invalid session state")

	// ErrSessionNotFound indicates no session has the given ID
	ErrSessionNotFound = errors.New("session not found")
)

// FailureReason classifies a start failure for metrics and events
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrInvalidNegotiationState):
		return "negotiation"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrInvalidSessionState):
		return "invalid_state"
	default:
		return "other"
	}
}
