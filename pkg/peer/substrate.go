/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package peer

import (
	"github.com/pion/webrtc/v4"
)

// Sender is the sending half of an attached track
type Sender interface {
	// ReplaceTrack swaps the outgoing track without renegotiation
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is a track received from the other side
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	// Read reads one RTP packet into b
	Read(b []byte) (int, error)
}

// Connection is one half of a peer-to-peer media connection.
// Callbacks run on substrate goroutines.
type Connection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (Sender, error)

	// OnICECandidate receives nil once gathering is complete
	OnICECandidate(f func(candidate *webrtc.ICECandidateInit))
	OnTrack(f func(track RemoteTrack))
	OnConnectionStateChange(f func(state webrtc.PeerConnectionState))

	Close() error
}

// Substrate creates connections
type Substrate interface {
	NewConnection() (Connection, error)
}
