/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package events

import (
	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/peer"
)

// Attach routes every notification of s to sink as an Event.
// It replaces callbacks previously set on s.
func Attach(s *call.Session, sink func(Event)) {
	s.SetCallbacks(
		func(sessionID string, state call.State) {
			sink(New(TypeStateChanged, sessionID, "", StatePayload{State: state.String()}))
		},
		func(sessionID string, flags call.ControlFlags) {
			sink(New(TypeFlagsChanged, sessionID, "", FlagsPayload{
				Muted:         flags.Muted,
				VideoOff:      flags.VideoOff,
				ScreenSharing: flags.ScreenSharing,
			}))
		},
		func(sessionID, endpointID string, track peer.RemoteTrack) {
			sink(New(TypeTrackAdded, sessionID, endpointID, TrackInfo{
				TrackID:  track.ID(),
				StreamID: track.StreamID(),
				Kind:     track.Kind().String(),
			}))
		},
		func(sessionID string, err error) {
			sink(New(TypeError, sessionID, "", ErrorPayload{
				Reason:  call.FailureReason(err),
				Message: err.Error(),
			}))
		},
	)
}
