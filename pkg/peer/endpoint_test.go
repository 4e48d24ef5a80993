/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package peer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maiguangyang/call_core/pkg/peer"
	"github.com/maiguangyang/call_core/pkg/peer/peertest"
)

func newPair(t *testing.T, sub peer.Substrate) (*peer.Endpoint, *peer.Endpoint) {
	t.Helper()

	local, err := peer.NewEndpoint(peer.RoleLocal, sub)
	require.NoError(t, err)
	remote, err := peer.NewEndpoint(peer.RoleRemote, sub)
	require.NoError(t, err)

	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return local, remote
}

// wire forwards each side's candidates to the other
func wire(a, b *peer.Endpoint) {
	a.SetCallbacks(func(_ string, c webrtc.ICECandidateInit) { _ = b.AddICECandidate(c) }, nil, nil, nil)
	b.SetCallbacks(func(_ string, c webrtc.ICECandidateInit) { _ = a.AddICECandidate(c) }, nil, nil, nil)
}

func negotiate(t *testing.T, offerer, answerer *peer.Endpoint) {
	t.Helper()

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, answerer.SetRemoteDescription(offer))
	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, offerer.SetRemoteDescription(answer))
}

func TestEndpoint_givenFreshPair_whenNegotiated_thenBothConnected(t *testing.T) {
	sub := peertest.NewSubstrate()
	local, remote := newPair(t, sub)
	wire(local, remote)

	negotiate(t, local, remote)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, local.WaitConnected(ctx))
	require.NoError(t, remote.WaitConnected(ctx))

	assert.Equal(t, peer.StateConnected, local.State())
	assert.Equal(t, peer.StateConnected, remote.State())
	assert.Equal(t, webrtc.PeerConnectionStateConnected, local.ConnectionState())
}

func TestEndpoint_givenWrongOrder_thenInvalidNegotiationState(t *testing.T) {
	sub := peertest.NewSubstrate()
	local, remote := newPair(t, sub)

	_, err := local.CreateAnswer()
	assert.True(t, errors.Is(err, peer.ErrInvalidNegotiationState), "answer from new: %v", err)

	err = local.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"})
	assert.True(t, errors.Is(err, peer.ErrInvalidNegotiationState), "answer in new: %v", err)

	offer, err := local.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, peer.StateLocalOfferCreated, local.State())

	_, err = local.CreateOffer()
	assert.True(t, errors.Is(err, peer.ErrInvalidNegotiationState), "second offer: %v", err)

	err = local.SetRemoteDescription(offer)
	assert.True(t, errors.Is(err, peer.ErrInvalidNegotiationState), "offer after offer: %v", err)

	require.NoError(t, remote.SetRemoteDescription(offer))
	assert.Equal(t, peer.StateRemoteOfferSet, remote.State())

	_, err = remote.CreateOffer()
	assert.True(t, errors.Is(err, peer.ErrInvalidNegotiationState), "offer after remote offer: %v", err)
}

func TestEndpoint_givenEarlyCandidates_whenRemoteSet_thenFlushedInOrder(t *testing.T) {
	sub := peertest.NewSubstrate()
	local, remote := newPair(t, sub)

	first := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.1.1.1 5000 typ host"}
	second := webrtc.ICECandidateInit{Candidate: "candidate:2 1 udp 1 10.1.1.2 5001 typ host"}
	require.NoError(t, remote.AddICECandidate(first))
	require.NoError(t, remote.AddICECandidate(second))
	assert.Equal(t, 2, remote.Status().CandidatesQueued)

	offer, err := local.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, remote.SetRemoteDescription(offer))

	conn := sub.Connections()[1]
	got := conn.Candidates()
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])

	status := remote.Status()
	assert.Equal(t, 0, status.CandidatesQueued)
	assert.Equal(t, 2, status.CandidatesAdded)

	third := webrtc.ICECandidateInit{Candidate: "candidate:3 1 udp 1 10.1.1.3 5002 typ host"}
	require.NoError(t, remote.AddICECandidate(third))
	assert.Equal(t, third, conn.Candidates()[2])
}

func TestEndpoint_whenClosed_thenIdempotentAndOperationsFail(t *testing.T) {
	sub := peertest.NewSubstrate()
	local, _ := newPair(t, sub)

	var states []peer.NegotiationState
	local.SetCallbacks(nil, func(_ string, s peer.NegotiationState) { states = append(states, s) }, nil, nil)

	require.NoError(t, local.Close())
	require.NoError(t, local.Close())

	assert.Equal(t, peer.StateClosed, local.State())
	assert.Equal(t, []peer.NegotiationState{peer.StateClosed}, states)
	assert.True(t, sub.Connections()[0].Closed())

	_, err := local.CreateOffer()
	assert.ErrorIs(t, err, peer.ErrConnectionClosed)
	assert.ErrorIs(t, local.AddICECandidate(webrtc.ICECandidateInit{}), peer.ErrConnectionClosed)
	assert.ErrorIs(t, local.WaitConnected(context.Background()), peer.ErrConnectionClosed)
}

func TestEndpoint_givenFailedTransport_whenWaitConnected_thenConnectionClosed(t *testing.T) {
	sub := peertest.NewSubstrate()
	sub.FailTransport = true
	local, remote := newPair(t, sub)
	wire(local, remote)

	negotiate(t, local, remote)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, local.WaitConnected(ctx), peer.ErrConnectionClosed)
}

func TestEndpoint_givenHeldTransport_whenContextExpires_thenContextError(t *testing.T) {
	sub := peertest.NewSubstrate()
	sub.Hold = true
	local, remote := newPair(t, sub)
	wire(local, remote)

	negotiate(t, local, remote)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, local.WaitConnected(ctx), context.DeadlineExceeded)
	assert.Equal(t, peer.StateRemoteAnswered, local.State())
	assert.Equal(t, peer.StateLocalAnswerCreated, remote.State())
}

func TestEndpoint_whenAddTrackAfterOffer_thenInvalidNegotiationState(t *testing.T) {
	sub := peertest.NewSubstrate()
	local, _ := newPair(t, sub)

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "stream")
	require.NoError(t, err)

	_, err = local.AddTrack(track)
	require.NoError(t, err)

	_, err = local.CreateOffer()
	require.NoError(t, err)

	_, err = local.AddTrack(track)
	assert.ErrorIs(t, err, peer.ErrInvalidNegotiationState)
}

func TestEndpoint_givenSubstrateError_whenNew_thenWrapped(t *testing.T) {
	sub := peertest.NewSubstrate()
	boom := errors.New("no sockets")
	sub.NewConnectionErr = boom

	_, err := peer.NewEndpoint(peer.RoleLocal, sub)
	assert.ErrorIs(t, err, boom)
}
