/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Session 状态机测试，使用 peertest 内存连接，结果确定
 */
package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/peer"
	"github.com/maiguangyang/call_core/pkg/peer/peertest"
)

// recordingDevices 记录发出的所有 Source，用于检查释放
type recordingDevices struct {
	*media.SyntheticDevices

	mu      sync.Mutex
	sources []*media.Source
}

func newRecordingDevices() *recordingDevices {
	return &recordingDevices{SyntheticDevices: media.NewSyntheticDevices(media.DefaultSyntheticConfig())}
}

func (d *recordingDevices) Acquire(ctx context.Context, c media.Constraints) (*media.Source, error) {
	src, err := d.SyntheticDevices.Acquire(ctx, c)
	if err == nil {
		d.mu.Lock()
		d.sources = append(d.sources, src)
		d.mu.Unlock()
	}
	return src, err
}

func (d *recordingDevices) AcquireDisplay(ctx context.Context) (*media.Source, error) {
	src, err := d.SyntheticDevices.AcquireDisplay(ctx)
	if err == nil {
		d.mu.Lock()
		d.sources = append(d.sources, src)
		d.mu.Unlock()
	}
	return src, err
}

func (d *recordingDevices) anyActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, src := range d.sources {
		if src.Active() {
			return true
		}
	}
	return false
}

// recordingObserver 记录指标钩子调用
type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	failures    []string
	toggles     []string
	negotiated  int
}

func (o *recordingObserver) SessionStateChanged(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from+"->"+to)
}

func (o *recordingObserver) StartFailed(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, reason)
}

func (o *recordingObserver) ControlToggled(control string, enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if enabled {
		o.toggles = append(o.toggles, control+"=on")
	} else {
		o.toggles = append(o.toggles, control+"=off")
	}
}

func (o *recordingObserver) NegotiationCompleted(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.negotiated++
}

func newTestSession(t *testing.T, devices media.Devices, sub *peertest.Substrate, opts Options) *Session {
	t.Helper()
	s := NewSession("test-session", devices, sub, sub, opts)
	t.Cleanup(s.End)
	return s
}

func startActive(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	require.Equal(t, StateActive, s.State())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func videoSenderTrack(t *testing.T, conn *peertest.Conn) webrtc.TrackLocal {
	t.Helper()
	for _, sender := range conn.Senders() {
		if track := sender.Track(); track != nil && track.Kind() == webrtc.RTPCodecTypeVideo {
			return track
		}
	}
	t.Fatal("no video sender")
	return nil
}

func TestSession_givenIdle_whenStartAndMute_thenActiveAndAudioDisabled(t *testing.T) {
	devices := newRecordingDevices()
	sub := peertest.NewSubstrate()
	s := newTestSession(t, devices, sub, DefaultOptions())

	var states []State
	var mu sync.Mutex
	s.SetCallbacks(func(_ string, state State) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	}, nil, nil, nil)

	startActive(t, s)

	require.Len(t, sub.Connections(), 2)
	assert.Equal(t, peer.StateConnected.String(), s.Status().Local.State)
	assert.Equal(t, peer.StateConnected.String(), s.Status().Remote.State)

	assert.True(t, s.ToggleMute())
	assert.Equal(t, ControlFlags{Muted: true}, s.Flags())
	for _, tr := range s.Source().AudioTracks() {
		assert.False(t, tr.Enabled())
	}
	for _, tr := range s.Source().VideoTracks() {
		assert.True(t, tr.Enabled())
	}

	s.End()
	assert.Equal(t, StateEnded, s.State())
	assert.Equal(t, ControlFlags{}, s.Flags())
	assert.False(t, devices.anyActive())
	assert.True(t, sub.AllClosed())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateActive, StateEnded}, states)
}

func TestSession_MuteParity(t *testing.T) {
	s := newTestSession(t, newRecordingDevices(), peertest.NewSubstrate(), DefaultOptions())
	startActive(t, s)

	for n := 1; n <= 6; n++ {
		require.True(t, s.ToggleMute())
		muted := n%2 == 1
		assert.Equal(t, muted, s.Flags().Muted, "after %d toggles", n)
		for _, tr := range s.Source().AudioTracks() {
			assert.Equal(t, !muted, tr.Enabled(), "after %d toggles", n)
		}
	}
}

func TestSession_ToggleVideoParity(t *testing.T) {
	s := newTestSession(t, newRecordingDevices(), peertest.NewSubstrate(), DefaultOptions())
	startActive(t, s)

	for n := 1; n <= 4; n++ {
		require.True(t, s.ToggleVideo())
		off := n%2 == 1
		assert.Equal(t, off, s.Flags().VideoOff)
		for _, tr := range s.Source().VideoTracks() {
			assert.Equal(t, !off, tr.Enabled())
		}
		for _, tr := range s.Source().AudioTracks() {
			assert.True(t, tr.Enabled())
		}
	}
}

func TestSession_EndIsIdempotent(t *testing.T) {
	s := newTestSession(t, newRecordingDevices(), peertest.NewSubstrate(), DefaultOptions())
	startActive(t, s)

	ended := 0
	s.SetCallbacks(func(_ string, state State) {
		if state == StateEnded {
			ended++
		}
	}, nil, nil, nil)

	s.End()
	s.End()
	s.End()

	assert.Equal(t, StateEnded, s.State())
	assert.Equal(t, 1, ended)
}

func TestSession_EndFromIdle(t *testing.T) {
	s := newTestSession(t, newRecordingDevices(), peertest.NewSubstrate(), DefaultOptions())

	s.End()
	assert.Equal(t, StateEnded, s.State())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSessionState)
}

func TestSession_TogglesIgnoredOutsideActive(t *testing.T) {
	s := newTestSession(t, newRecordingDevices(), peertest.NewSubstrate(), DefaultOptions())

	assert.False(t, s.ToggleMute())
	assert.False(t, s.ToggleVideo())
	assert.Equal(t, ControlFlags{}, s.Flags())
	assert.Equal(t, StateIdle, s.State())

	startActive(t, s)
	s.End()

	assert.False(t, s.ToggleMute())
	assert.False(t, s.ToggleVideo())
	assert.Equal(t, ControlFlags{}, s.Flags())
	assert.Equal(t, StateEnded, s.State())
}

func TestSession_givenDeviceUnavailable_whenStart_thenEndedWithoutConnections(t *testing.T) {
	ctrl := gomock.NewController(t)
	devices := media.NewMockDevices(ctrl)
	devices.EXPECT().
		Acquire(gomock.Any(), media.Constraints{Video: true, Audio: true}).
		Return(nil, media.ErrDeviceUnavailable)

	sub := peertest.NewSubstrate()
	s := newTestSession(t, devices, sub, DefaultOptions())
	observer := &recordingObserver{}
	s.SetObserver(observer)

	var gotErr error
	s.SetCallbacks(nil, nil, nil, func(_ string, err error) { gotErr = err })

	err := s.Start(context.Background())
	assert.True(t, errors.Is(err, ErrDeviceUnavailable), "got %v", err)
	assert.Equal(t, StateEnded, s.State())
	assert.Empty(t, sub.Connections())
	assert.ErrorIs(t, gotErr, ErrDeviceUnavailable)
	assert.Contains(t, s.Status().LastError, "device unavailable")
	assert.Equal(t, []string{"device_unavailable"}, observer.failures)
	assert.Equal(t, []string{"idle->connecting", "connecting->ended"}, observer.transitions)

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSessionState)
}

func TestSession_givenPermissionDenied_whenStart_thenEnded(t *testing.T) {
	devices := newRecordingDevices()
	devices.SetPermission(media.PermissionDeny)
	s := newTestSession(t, devices, peertest.NewSubstrate(), DefaultOptions())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateEnded, s.State())
}

func TestSession_givenAcquireInFlight_whenEnd_thenLateSourceReleased(t *testing.T) {
	synthetic := media.NewSyntheticDevices(media.DefaultSyntheticConfig())
	late, err := synthetic.Acquire(context.Background(), media.Constraints{Video: true, Audio: true})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})

	ctrl := gomock.NewController(t)
	devices := media.NewMockDevices(ctrl)
	devices.EXPECT().
		Acquire(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ media.Constraints) (*media.Source, error) {
			close(entered)
			<-release
			// 设备忽略取消，依旧返回 Source
			return late, nil
		})

	sub := peertest.NewSubstrate()
	s := newTestSession(t, devices, sub, DefaultOptions())

	result := make(chan error, 1)
	go func() { result <- s.Start(context.Background()) }()

	<-entered
	assert.Equal(t, StateConnecting, s.State())
	s.End()
	close(release)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	assert.Equal(t, StateEnded, s.State())
	assert.False(t, late.Active())
	assert.Empty(t, sub.Connections())
}

func TestSession_givenConnecting_whenEnd_thenEverythingReleased(t *testing.T) {
	devices := newRecordingDevices()
	sub := peertest.NewSubstrate()
	sub.Hold = true
	s := newTestSession(t, devices, sub, DefaultOptions())

	result := make(chan error, 1)
	go func() { result <- s.Start(context.Background()) }()

	// 等两端都进入协商后再结束
	waitFor(t, func() bool { return len(sub.Connections()) == 2 })
	s.End()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	assert.Equal(t, StateEnded, s.State())
	assert.False(t, devices.anyActive())
	waitFor(t, sub.AllClosed)
}

func TestSession_givenNegotiationTimeout_whenTransportHangs_thenEnded(t *testing.T) {
	devices := newRecordingDevices()
	sub := peertest.NewSubstrate()
	sub.Hold = true

	opts := DefaultOptions()
	opts.NegotiationTimeout = 50 * time.Millisecond
	s := newTestSession(t, devices, sub, opts)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", FailureReason(err))
	assert.Equal(t, StateEnded, s.State())
	assert.False(t, devices.anyActive())
	assert.True(t, sub.AllClosed())
}

func TestSession_givenFailedTransport_whenStart_thenConnectionClosed(t *testing.T) {
	sub := peertest.NewSubstrate()
	sub.FailTransport = true
	s := newTestSession(t, newRecordingDevices(), sub, DefaultOptions())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, StateEnded, s.State())
}

func TestSession_givenOfferFails_whenStart_thenEndedAndReleased(t *testing.T) {
	devices := newRecordingDevices()
	sub := peertest.NewSubstrate()
	sub.CreateOfferErr = errors.New("sdp failure")
	s := newTestSession(t, devices, sub, DefaultOptions())

	err := s.Start(context.Background())
	assert.ErrorContains(t, err, "sdp failure")
	assert.Equal(t, StateEnded, s.State())
	assert.False(t, devices.anyActive())
	assert.True(t, sub.AllClosed())
}

func TestSession_ShareScreen(t *testing.T) {
	devices := newRecordingDevices()
	sub := peertest.NewSubstrate()
	s := newTestSession(t, devices, sub, DefaultOptions())

	err := s.ShareScreen(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSessionState)
	assert.False(t, s.Flags().ScreenSharing)

	startActive(t, s)
	camera := s.Source().VideoTracks()[0]
	localConn := sub.Connections()[0]
	assert.Equal(t, camera.ID(), videoSenderTrack(t, localConn).ID())

	require.Eventually(t, func() bool {
		_, _, ok := camera.LastWritten()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	// 摄像头停发后再共享，sender 上的序号只能向前
	camera.SetEnabled(false)
	camSeq, _, _ := camera.LastWritten()

	require.NoError(t, s.ShareScreen(context.Background()))
	assert.True(t, s.Flags().ScreenSharing)
	assert.Equal(t, media.SourceScreen, s.Preview().Kind())
	screenTrack := s.Preview().VideoTracks()[0]
	assert.Equal(t, screenTrack.ID(), videoSenderTrack(t, localConn).ID())
	assert.Equal(t, "screen", s.Status().Preview)

	require.Eventually(t, func() bool {
		seq, _, ok := screenTrack.LastWritten()
		return ok && seqAhead(seq, camSeq)
	}, 2*time.Second, 10*time.Millisecond)

	// 重复共享无副作用
	require.NoError(t, s.ShareScreen(context.Background()))

	s.StopScreenShare()
	assert.False(t, s.Flags().ScreenSharing)
	assert.Equal(t, media.SourceCamera, s.Preview().Kind())
	assert.True(t, screenTrack.Stopped())
	assert.Equal(t, camera.ID(), videoSenderTrack(t, localConn).ID())

	screenSeq, _, _ := screenTrack.LastWritten()
	camera.SetEnabled(true)
	require.Eventually(t, func() bool {
		seq, _, _ := camera.LastWritten()
		return seqAhead(seq, screenSeq)
	}, 2*time.Second, 10*time.Millisecond)

	s.StopScreenShare()
	assert.Equal(t, StateActive, s.State())
}

// seqAhead reports a > b in RTP sequence space
func seqAhead(a, b uint16) bool {
	return a != b && a-b < 1<<15
}

func TestSession_givenNoDisplay_whenShareScreen_thenStateUnchanged(t *testing.T) {
	devices := newRecordingDevices()
	devices.SetDisplayAvailable(false)
	s := newTestSession(t, devices, peertest.NewSubstrate(), DefaultOptions())
	startActive(t, s)

	var gotErr error
	s.SetCallbacks(nil, nil, nil, func(_ string, err error) { gotErr = err })

	err := s.ShareScreen(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, gotErr, ErrDeviceUnavailable)
	assert.Equal(t, StateActive, s.State())
	assert.False(t, s.Flags().ScreenSharing)
	assert.Equal(t, media.SourceCamera, s.Preview().Kind())
}

func TestSession_givenLocalPreviewOnly_whenShareScreen_thenPeerKeepsCamera(t *testing.T) {
	sub := peertest.NewSubstrate()
	opts := DefaultOptions()
	opts.ShareScreenToPeer = false
	s := newTestSession(t, newRecordingDevices(), sub, opts)
	startActive(t, s)

	camera := s.Source().VideoTracks()[0]
	require.NoError(t, s.ShareScreen(context.Background()))
	assert.Equal(t, media.SourceScreen, s.Preview().Kind())
	assert.Equal(t, camera.ID(), videoSenderTrack(t, sub.Connections()[0]).ID())
}

func TestSession_EndWhileSharingReleasesScreen(t *testing.T) {
	devices := newRecordingDevices()
	s := newTestSession(t, devices, peertest.NewSubstrate(), DefaultOptions())
	startActive(t, s)
	require.NoError(t, s.ShareScreen(context.Background()))

	s.End()
	assert.False(t, devices.anyActive())
	assert.Nil(t, s.Preview())
}

func TestSession_ObserverAndStatus(t *testing.T) {
	s := newTestSession(t, newRecordingDevices(), peertest.NewSubstrate(), DefaultOptions())
	observer := &recordingObserver{}
	s.SetObserver(observer)

	startActive(t, s)
	s.ToggleMute()
	s.ToggleVideo()
	s.ToggleMute()

	status := s.Status()
	assert.Equal(t, "active", status.State)
	assert.Equal(t, "camera", status.Preview)
	assert.NotZero(t, status.StartedAt)
	assert.Zero(t, status.EndedAt)
	assert.True(t, strings.Contains(status.ToJSON(), `"state":"active"`))

	s.End()

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, 1, observer.negotiated)
	assert.Equal(t, []string{"mute=on", "video_off=on", "mute=off"}, observer.toggles)
	assert.Equal(t, []string{"idle->connecting", "connecting->active", "active->ended"}, observer.transitions)
}

func TestSequenceTracker(t *testing.T) {
	packet := func(seq uint16) []byte {
		return []byte{0x80, 96, byte(seq >> 8), byte(seq), 0, 0, 0, 0, 0, 0, 0, 1}
	}

	var tr sequenceTracker
	assert.Equal(t, uint64(0), tr.observe(packet(10)))
	assert.Equal(t, uint64(0), tr.observe(packet(11)))
	assert.Equal(t, uint64(2), tr.observe(packet(14)))
	assert.Equal(t, uint64(0), tr.observe(packet(14)))
	assert.Equal(t, uint64(0), tr.observe(packet(12)))
	assert.Equal(t, uint64(0), tr.observe(packet(15)))
	assert.Equal(t, uint64(0), tr.observe(packet(40000)))
	assert.Equal(t, uint64(0), tr.observe(packet(40001)))
	assert.Equal(t, uint64(0), tr.observe([]byte{1, 2}))

	tr = sequenceTracker{}
	tr.observe(packet(65534))
	assert.Equal(t, uint64(1), tr.observe(packet(0)))
}

func TestTrafficStats_Snapshot(t *testing.T) {
	stats := NewTrafficStats()
	stats.AddPacketIn(100)
	stats.AddPacketIn(200)
	stats.AddPacketsLost(1)
	stats.AddReleased(media.TrackStats{PacketsSent: 3, BytesSent: 300})

	snap := stats.Snapshot(media.TrackStats{PacketsSent: 1, BytesSent: 50})
	assert.Equal(t, uint64(300), snap.TotalBytesIn)
	assert.Equal(t, uint64(2), snap.TotalPacketsIn)
	assert.Equal(t, uint64(350), snap.TotalBytesOut)
	assert.Equal(t, uint64(4), snap.TotalPacketsOut)
	assert.InDelta(t, 1.0/3.0, snap.LossRate, 0.0001)
	assert.Contains(t, snap.ToJSON(), `"total_bytes_in":300`)
}
