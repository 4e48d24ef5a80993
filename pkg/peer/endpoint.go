/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// Role tells the two endpoints of a session apart
type Role int

const (
	RoleLocal Role = iota
	RoleRemote
)

func (r Role) String() string {
	switch r {
	case RoleLocal:
		return "local"
	case RoleRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// NegotiationState is where an endpoint is in the offer/answer exchange
type NegotiationState int

const (
	StateNew NegotiationState = iota
	StateLocalOfferCreated
	StateRemoteOfferSet
	StateLocalAnswerCreated
	StateRemoteAnswered
	StateConnected
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLocalOfferCreated:
		return "local-offer-created"
	case StateRemoteOfferSet:
		return "remote-offer-set"
	case StateLocalAnswerCreated:
		return "local-answer-created"
	case StateRemoteAnswered:
		return "remote-answered"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// negotiated reports whether the offer/answer exchange is complete
func (s NegotiationState) negotiated() bool {
	return s == StateRemoteAnswered || s == StateLocalAnswerCreated
}

// EndpointStatus is a snapshot of an endpoint
type EndpointStatus struct {
	ID               string `json:"id"`
	Role             string `json:"role"`
	State            string `json:"state"`
	Transport        string `json:"transport"`
	CandidatesSent   int    `json:"candidates_sent"`
	CandidatesAdded  int    `json:"candidates_added"`
	CandidatesQueued int    `json:"candidates_queued"`
	RemoteTracks     int    `json:"remote_tracks"`
}

// Endpoint is one half of a session's peer connection.
// It enforces the offer/answer order and queues ICE candidates that
// arrive before the remote description.
type Endpoint struct {
	mu sync.RWMutex

	id        string
	role      Role
	conn      Connection
	state     NegotiationState
	transport webrtc.PeerConnectionState
	failed    bool
	changed   chan struct{}

	// negMu serializes offer/answer steps, iceMu keeps candidates in insertion order
	negMu     sync.Mutex
	iceMu     sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	candidatesSent  int
	candidatesAdded int
	remoteTracks    int

	// callbacks
	onICECandidate   func(endpointID string, candidate webrtc.ICECandidateInit)
	onStateChange    func(endpointID string, state NegotiationState)
	onTrack          func(endpointID string, track RemoteTrack)
	onTransportState func(endpointID string, state webrtc.PeerConnectionState)

	logger *utils.Logger
}

// NewEndpoint creates an endpoint over a fresh connection from substrate
func NewEndpoint(role Role, substrate Substrate) (*Endpoint, error) {
	conn, err := substrate.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("create %s connection: %w", role, err)
	}

	e := &Endpoint{
		id:        role.String() + "-" + shortuuid.New(),
		role:      role,
		conn:      conn,
		state:     StateNew,
		transport: webrtc.PeerConnectionStateNew,
		changed:   make(chan struct{}),
		logger:    utils.GetLogger().With("peer"),
	}
	e.setupEventHandlers()

	return e, nil
}

// ID returns the endpoint ID
func (e *Endpoint) ID() string {
	return e.id
}

// Role returns local or remote
func (e *Endpoint) Role() Role {
	return e.role
}

// State returns the negotiation state
func (e *Endpoint) State() NegotiationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// ConnectionState returns the last transport state reported by the substrate
func (e *Endpoint) ConnectionState() webrtc.PeerConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transport
}

// SetCallbacks sets event callbacks
func (e *Endpoint) SetCallbacks(
	onICECandidate func(endpointID string, candidate webrtc.ICECandidateInit),
	onStateChange func(endpointID string, state NegotiationState),
	onTrack func(endpointID string, track RemoteTrack),
	onTransportState func(endpointID string, state webrtc.PeerConnectionState),
) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onICECandidate = onICECandidate
	e.onStateChange = onStateChange
	e.onTrack = onTrack
	e.onTransportState = onTransportState
}

func (e *Endpoint) setupEventHandlers() {
	e.conn.OnICECandidate(func(candidate *webrtc.ICECandidateInit) {
		if candidate == nil {
			return
		}

		e.mu.Lock()
		if e.state == StateClosed {
			e.mu.Unlock()
			return
		}
		e.candidatesSent++
		cb := e.onICECandidate
		e.mu.Unlock()

		if cb != nil {
			cb(e.id, *candidate)
		}
	})

	e.conn.OnTrack(func(track RemoteTrack) {
		e.mu.Lock()
		e.remoteTracks++
		cb := e.onTrack
		e.mu.Unlock()

		e.logger.Debug("Endpoint %s received %s track %s", e.id, track.Kind(), track.ID())
		if cb != nil {
			cb(e.id, track)
		}
	})

	e.conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.mu.Lock()
		if e.state == StateClosed {
			e.mu.Unlock()
			return
		}
		e.transport = state
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			e.failed = true
			e.notifyLocked()
		}
		cb := e.onTransportState
		e.mu.Unlock()

		e.logger.Debug("Endpoint %s transport %s", e.id, state)
		if cb != nil {
			cb(e.id, state)
		}
		e.checkConnected()
	})
}

// AddTrack attaches a local track. Only valid before the local description is created.
func (e *Endpoint) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	e.negMu.Lock()
	defer e.negMu.Unlock()

	switch state := e.State(); state {
	case StateNew, StateRemoteOfferSet:
	case StateClosed:
		return nil, ErrConnectionClosed
	default:
		return nil, fmt.Errorf("add track in %s: %w", state, ErrInvalidNegotiationState)
	}

	return e.conn.AddTrack(track)
}

// CreateOffer creates and applies a local offer. Valid only from New.
func (e *Endpoint) CreateOffer() (webrtc.SessionDescription, error) {
	e.negMu.Lock()
	defer e.negMu.Unlock()

	if err := e.expect("create offer", StateNew); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := e.conn.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := e.conn.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	e.setState(StateLocalOfferCreated)
	return offer, nil
}

// SetRemoteDescription applies the other side's description.
// From New it must be an offer, from LocalOfferCreated an answer.
func (e *Endpoint) SetRemoteDescription(desc webrtc.SessionDescription) error {
	e.negMu.Lock()
	defer e.negMu.Unlock()

	var next NegotiationState
	switch state := e.State(); {
	case state == StateClosed:
		return ErrConnectionClosed
	case state == StateNew && desc.Type == webrtc.SDPTypeOffer:
		next = StateRemoteOfferSet
	case state == StateLocalOfferCreated && desc.Type == webrtc.SDPTypeAnswer:
		next = StateRemoteAnswered
	default:
		return fmt.Errorf("set remote %s in %s: %w", desc.Type, state, ErrInvalidNegotiationState)
	}

	if err := e.conn.SetRemoteDescription(desc); err != nil {
		return err
	}

	e.setState(next)
	e.flushCandidates()
	e.checkConnected()
	return nil
}

// CreateAnswer creates and applies a local answer. Valid only from RemoteOfferSet.
func (e *Endpoint) CreateAnswer() (webrtc.SessionDescription, error) {
	e.negMu.Lock()
	defer e.negMu.Unlock()

	if err := e.expect("create answer", StateRemoteOfferSet); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := e.conn.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := e.conn.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	e.setState(StateLocalAnswerCreated)
	e.checkConnected()
	return answer, nil
}

// AddICECandidate applies a candidate from the other side.
// Candidates that arrive before the remote description are queued.
func (e *Endpoint) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	e.iceMu.Lock()
	defer e.iceMu.Unlock()

	if e.State() == StateClosed {
		return ErrConnectionClosed
	}

	if !e.remoteSet {
		e.pending = append(e.pending, candidate)
		return nil
	}

	if err := e.conn.AddICECandidate(candidate); err != nil {
		return err
	}

	e.mu.Lock()
	e.candidatesAdded++
	e.mu.Unlock()
	return nil
}

// flushCandidates applies queued candidates in arrival order
func (e *Endpoint) flushCandidates() {
	e.iceMu.Lock()
	defer e.iceMu.Unlock()

	e.remoteSet = true
	pending := e.pending
	e.pending = nil

	added := 0
	for _, c := range pending {
		if err := e.conn.AddICECandidate(c); err != nil {
			e.logger.Warn("Endpoint %s dropped queued candidate: %v", e.id, err)
			continue
		}
		added++
	}

	e.mu.Lock()
	e.candidatesAdded += added
	e.mu.Unlock()
}

// WaitConnected blocks until the endpoint is Connected, its transport
// fails or closes, or ctx is done.
func (e *Endpoint) WaitConnected(ctx context.Context) error {
	for {
		e.mu.RLock()
		state := e.state
		failed := e.failed
		changed := e.changed
		e.mu.RUnlock()

		switch {
		case state == StateConnected:
			return nil
		case state == StateClosed, failed:
			return ErrConnectionClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close tears down the connection. Valid from any state, idempotent.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosed
	e.notifyLocked()
	cb := e.onStateChange
	e.mu.Unlock()

	err := e.conn.Close()

	if cb != nil {
		cb(e.id, StateClosed)
	}
	return err
}

// Status returns a snapshot
func (e *Endpoint) Status() EndpointStatus {
	// iceMu is always taken before mu
	e.iceMu.Lock()
	queued := len(e.pending)
	e.iceMu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()

	return EndpointStatus{
		ID:               e.id,
		Role:             e.role.String(),
		State:            e.state.String(),
		Transport:        e.transport.String(),
		CandidatesSent:   e.candidatesSent,
		CandidatesAdded:  e.candidatesAdded,
		CandidatesQueued: queued,
		RemoteTracks:     e.remoteTracks,
	}
}

func (e *Endpoint) expect(op string, want NegotiationState) error {
	state := e.State()
	if state == StateClosed {
		return ErrConnectionClosed
	}
	if state != want {
		return fmt.Errorf("%s in %s: %w", op, state, ErrInvalidNegotiationState)
	}
	return nil
}

// setState moves forward unless Close won the race
func (e *Endpoint) setState(state NegotiationState) {
	e.mu.Lock()
	if e.state == StateClosed || e.state == state {
		e.mu.Unlock()
		return
	}
	e.state = state
	e.notifyLocked()
	cb := e.onStateChange
	e.mu.Unlock()

	if cb != nil {
		cb(e.id, state)
	}
}

// checkConnected enters Connected once negotiation is done and the transport is up
func (e *Endpoint) checkConnected() {
	e.mu.RLock()
	ready := e.state.negotiated() && e.transport == webrtc.PeerConnectionStateConnected
	e.mu.RUnlock()

	if ready {
		e.setState(StateConnected)
	}
}

func (e *Endpoint) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}
