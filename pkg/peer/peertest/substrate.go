/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Package peertest provides an in-memory peer.Substrate for tests.
 * A connection reports Connected once it holds both descriptions.
 */
package peertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/peer"
)

// ErrClosed is returned by operations on a closed fake connection
var ErrClosed = errors.New("peertest: connection closed")

// Substrate hands out fake connections and remembers them
type Substrate struct {
	mu    sync.Mutex
	conns []*Conn

	// NewConnectionErr makes NewConnection fail
	NewConnectionErr error
	// CreateOfferErr makes CreateOffer fail
	CreateOfferErr error
	// Candidates is how many host candidates each connection gathers
	Candidates int
	// Hold keeps the transport in connecting forever
	Hold bool
	// FailTransport reports failed instead of connected
	FailTransport bool
}

// NewSubstrate returns a substrate whose connections gather two candidates
func NewSubstrate() *Substrate {
	return &Substrate{Candidates: 2}
}

// NewConnection implements peer.Substrate
func (s *Substrate) NewConnection() (peer.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.NewConnectionErr != nil {
		return nil, s.NewConnectionErr
	}

	c := &Conn{
		sub:   s,
		index: len(s.conns),
	}
	s.conns = append(s.conns, c)
	return c, nil
}

// Connections returns every connection created so far
func (s *Substrate) Connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Conn, len(s.conns))
	copy(result, s.conns)
	return result
}

// AllClosed reports whether every connection has been closed
func (s *Substrate) AllClosed() bool {
	for _, c := range s.Connections() {
		if !c.Closed() {
			return false
		}
	}
	return true
}

func (s *Substrate) settings() (candidates int, hold, fail bool, offerErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Candidates, s.Hold, s.FailTransport, s.CreateOfferErr
}

// Conn is a fake peer.Connection
type Conn struct {
	mu    sync.Mutex
	sub   *Substrate
	index int

	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription

	candidates []webrtc.ICECandidateInit
	senders    []*Sender
	started    bool
	closed     bool

	onICECandidate func(*webrtc.ICECandidateInit)
	onTrack        func(peer.RemoteTrack)
	onState        func(webrtc.PeerConnectionState)
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	_, _, _, offerErr := c.sub.settings()
	if offerErr != nil {
		return webrtc.SessionDescription{}, offerErr
	}
	return c.describe(webrtc.SDPTypeOffer)
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	hasRemote := c.remote != nil
	c.mu.Unlock()
	if !hasRemote {
		return webrtc.SessionDescription{}, errors.New("peertest: answer without remote offer")
	}
	return c.describe(webrtc.SDPTypeAnswer)
}

func (c *Conn) describe(t webrtc.SDPType) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	return webrtc.SessionDescription{
		Type: t,
		SDP:  fmt.Sprintf("v=0 fake-%s-%d tracks=%d", t, c.index, len(c.senders)),
	}, nil
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.local = &desc
	c.mu.Unlock()

	go c.gather()
	c.maybeConnect()
	return nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.remote = &desc
	c.mu.Unlock()

	c.maybeConnect()
	return nil
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.remote == nil {
		return errors.New("peertest: candidate before remote description")
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	s := &Sender{track: track}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *Conn) OnICECandidate(f func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICECandidate = f
}

func (c *Conn) OnTrack(f func(peer.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = f
}

func (c *Conn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = f
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cb := c.onState
	c.mu.Unlock()

	if cb != nil {
		go cb(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Candidates returns the remote candidates applied, in order
func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]webrtc.ICECandidateInit, len(c.candidates))
	copy(result, c.candidates)
	return result
}

// Senders returns the senders created by AddTrack
func (c *Conn) Senders() []*Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]*Sender, len(c.senders))
	copy(result, c.senders)
	return result
}

// SetTransportState reports state as if it came from the network
func (c *Conn) SetTransportState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

// gather emits the configured host candidates then the end-of-gathering nil
func (c *Conn) gather() {
	n, _, _, _ := c.sub.settings()

	c.mu.Lock()
	cb := c.onICECandidate
	c.mu.Unlock()
	if cb == nil {
		return
	}

	for i := 0; i < n; i++ {
		cb(&webrtc.ICECandidateInit{
			Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.%d.%d %d typ host", i, c.index, i+1, 50000+i),
		})
	}
	cb(nil)
}

// maybeConnect walks the transport to connected once both descriptions are set
func (c *Conn) maybeConnect() {
	_, hold, fail, _ := c.sub.settings()

	c.mu.Lock()
	ready := c.local != nil && c.remote != nil && !c.started && !c.closed
	if ready {
		c.started = true
	}
	cb := c.onState
	c.mu.Unlock()

	if !ready || cb == nil {
		return
	}

	go func() {
		cb(webrtc.PeerConnectionStateConnecting)
		if hold {
			return
		}
		if fail {
			cb(webrtc.PeerConnectionStateFailed)
			return
		}
		cb(webrtc.PeerConnectionStateConnected)
	}()
}

// Sender is a fake peer.Sender
type Sender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

// ReplaceTrack implements peer.Sender
func (s *Sender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

// Track returns the track currently being sent
func (s *Sender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

var _ peer.Substrate = (*Substrate)(nil)
var _ peer.Connection = (*Conn)(nil)
