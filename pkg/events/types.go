/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package events

import (
	"encoding/json"
	"time"
)

// Type represents the type of a session event
type Type string

const (
	// TypeStateChanged is a session state transition
	TypeStateChanged Type = "state_changed"
	// TypeFlagsChanged is a mute / video / screen share change
	TypeFlagsChanged Type = "flags_changed"
	// TypeTrackAdded indicates a remote track arrived on an endpoint
	TypeTrackAdded Type = "track_added"
	// TypeError indicates an error occurred
	TypeError Type = "error"
)

// Code returns the integer code used across the FFI boundary
func (t Type) Code() int {
	switch t {
	case TypeStateChanged:
		return 1
	case TypeFlagsChanged:
		return 2
	case TypeTrackAdded:
		return 3
	case TypeError:
		return 4
	default:
		return 0
	}
}

// Event is one notification about a session
type Event struct {
	Type       Type            `json:"type"`
	SessionID  string          `json:"session_id"`
	EndpointID string          `json:"endpoint_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// New builds an event, marshalling payload to JSON
func New(t Type, sessionID, endpointID string, payload interface{}) Event {
	ev := Event{
		Type:       t,
		SessionID:  sessionID,
		EndpointID: endpointID,
		Timestamp:  time.Now().UnixMilli(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// ToJSON serializes the event
func (e Event) ToJSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// StatePayload carries a state transition
type StatePayload struct {
	State string `json:"state"`
}

// FlagsPayload carries the control flags
type FlagsPayload struct {
	Muted         bool `json:"muted"`
	VideoOff      bool `json:"video_off"`
	ScreenSharing bool `json:"screen_sharing"`
}

// TrackInfo represents track information
type TrackInfo struct {
	TrackID  string `json:"track_id"`
	StreamID string `json:"stream_id"`
	Kind     string `json:"kind"` // "audio" or "video"
}

// ErrorPayload represents an error
type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
