/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Session - 一对一通话会话
 * 持有一个 MediaSource 和两个进程内 Peer Endpoint (local / remote)，
 * 驱动 offer/answer 与 ICE 交换，并提供静音、关闭视频、屏幕共享控制
 *
 * 状态机: Idle --Start--> Connecting --(两端 Connected)--> Active --End--> Ended
 */
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/peer"
	"github.com/maiguangyang/call_core/pkg/utils"
)

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ControlFlags 通话控制标志
type ControlFlags struct {
	Muted         bool `json:"muted"`
	VideoOff      bool `json:"video_off"`
	ScreenSharing bool `json:"screen_sharing"`
}

// Options 会话选项
type Options struct {
	Constraints media.Constraints
	// NegotiationTimeout 限制整个 Start 的耗时，0 表示不限制；服务端配置要求其小于 HTTP 写超时
	NegotiationTimeout time.Duration
	// ShareScreenToPeer 屏幕共享时通过 ReplaceTrack 把屏幕发给对端
	ShareScreenToPeer bool
}

// DefaultOptions 默认选项：音视频，无超时，屏幕共享发送给对端
func DefaultOptions() Options {
	return Options{
		Constraints:       media.Constraints{Video: true, Audio: true},
		ShareScreenToPeer: true,
	}
}

// Observer 会话指标钩子
type Observer interface {
	SessionStateChanged(from, to string)
	StartFailed(reason string)
	ControlToggled(control string, enabled bool)
	NegotiationCompleted(d time.Duration)
}

// Session 通话会话
type Session struct {
	mu sync.RWMutex

	id      string
	opts    Options
	devices media.Devices

	localSubstrate  peer.Substrate
	remoteSubstrate peer.Substrate

	state State
	flags ControlFlags

	// 资源
	source      *media.Source
	screen      *media.Source
	local       *peer.Endpoint
	remote      *peer.Endpoint
	videoSender peer.Sender

	cancelStart context.CancelFunc

	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
	lastErr   error

	stats    *TrafficStats
	observer Observer

	// 回调
	onStateChange func(sessionID string, state State)
	onFlagsChange func(sessionID string, flags ControlFlags)
	onRemoteTrack func(sessionID, endpointID string, track peer.RemoteTrack)
	onError       func(sessionID string, err error)

	logger *utils.Logger
}

// NewSession 创建会话，local/remote 两端可使用不同的 Substrate
func NewSession(id string, devices media.Devices, localSubstrate, remoteSubstrate peer.Substrate, opts Options) *Session {
	return &Session{
		id:              id,
		opts:            opts,
		devices:         devices,
		localSubstrate:  localSubstrate,
		remoteSubstrate: remoteSubstrate,
		state:           StateIdle,
		createdAt:       time.Now(),
		stats:           NewTrafficStats(),
		logger:          utils.GetLogger().With("session"),
	}
}

// ID 返回会话 ID
func (s *Session) ID() string {
	return s.id
}

// State 返回当前状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Flags 返回控制标志
func (s *Session) Flags() ControlFlags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// Source 返回摄像头 Source，未开始或已结束时为 nil
func (s *Session) Source() *media.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Preview 返回本地预览：共享屏幕时为屏幕 Source，否则为摄像头
func (s *Session) Preview() *media.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.screen != nil {
		return s.screen
	}
	return s.source
}

// SetObserver 设置指标钩子
func (s *Session) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// SetCallbacks 设置回调
func (s *Session) SetCallbacks(
	onStateChange func(sessionID string, state State),
	onFlagsChange func(sessionID string, flags ControlFlags),
	onRemoteTrack func(sessionID, endpointID string, track peer.RemoteTrack),
	onError func(sessionID string, err error),
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = onStateChange
	s.onFlagsChange = onFlagsChange
	s.onRemoteTrack = onRemoteTrack
	s.onError = onError
}

// Start 发起通话，仅 Idle 可调用
// 任一步失败都直接进入 Ended 并释放已获取的资源；
// Connecting 期间被 End 中止时返回 ErrConnectionClosed
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("start in %s: %w", state, ErrInvalidSessionState)
	}

	var cancelTimeout context.CancelFunc = func() {}
	if s.opts.NegotiationTimeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, s.opts.NegotiationTimeout)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelStart = cancel
	s.startedAt = time.Now()
	s.state = StateConnecting
	s.mu.Unlock()

	defer cancelTimeout()
	defer cancel()

	s.emitStateChange(StateIdle, StateConnecting)
	s.logger.Info("Session %s connecting", s.id)

	if err := s.connect(ctx); err != nil {
		return s.abort(err)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// End 抢先完成
		s.mu.Unlock()
		return fmt.Errorf("call ended during start: %w", ErrConnectionClosed)
	}
	s.state = StateActive
	s.cancelStart = nil
	elapsed := time.Since(s.startedAt)
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer.NegotiationCompleted(elapsed)
	}
	s.emitStateChange(StateConnecting, StateActive)
	s.logger.Info("Session %s active after %v", s.id, elapsed)
	return nil
}

// connect 顺序执行：采集 -> 创建两端 -> 挂载 Track -> offer/answer -> 等待连接
func (s *Session) connect(ctx context.Context) error {
	src, err := s.devices.Acquire(ctx, s.opts.Constraints)
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}
	if err := s.adopt(func() { s.source = src }, src.Stop); err != nil {
		return err
	}

	local, err := peer.NewEndpoint(peer.RoleLocal, s.localSubstrate)
	if err != nil {
		return err
	}
	if err := s.adopt(func() { s.local = local }, func() { local.Close() }); err != nil {
		return err
	}

	remote, err := peer.NewEndpoint(peer.RoleRemote, s.remoteSubstrate)
	if err != nil {
		return err
	}
	if err := s.adopt(func() { s.remote = remote }, func() { remote.Close() }); err != nil {
		return err
	}

	s.wire(local, remote)

	// 本端先挂载 Track 再创建 offer
	var videoSender peer.Sender
	for _, track := range src.Tracks() {
		sender, err := local.AddTrack(track.Local())
		if err != nil {
			return fmt.Errorf("attach %s track: %w", track.Kind(), err)
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo && videoSender == nil {
			videoSender = sender
		}
	}
	if err := s.adopt(func() { s.videoSender = videoSender }, func() {}); err != nil {
		return err
	}

	offer, err := local.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := remote.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}

	// 远端在收到 offer 后挂载 Track，复用 offer 协商出的 transceiver
	for _, track := range src.Tracks() {
		if _, err := remote.AddTrack(track.Local()); err != nil {
			return fmt.Errorf("attach remote %s track: %w", track.Kind(), err)
		}
	}

	answer, err := remote.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := local.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}

	if err := local.WaitConnected(ctx); err != nil {
		return fmt.Errorf("local endpoint: %w", err)
	}
	if err := remote.WaitConnected(ctx); err != nil {
		return fmt.Errorf("remote endpoint: %w", err)
	}
	return nil
}

// adopt 把 Start 创建的资源挂到会话上；若 End 已执行则立即释放
func (s *Session) adopt(attach func(), release func()) error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		release()
		return fmt.Errorf("call ended during start: %w", ErrConnectionClosed)
	}
	attach()
	s.mu.Unlock()
	return nil
}

// wire 交叉转发两端的 ICE Candidate，并接管远端 Track
func (s *Session) wire(local, remote *peer.Endpoint) {
	forward := func(to *peer.Endpoint) func(string, webrtc.ICECandidateInit) {
		return func(from string, c webrtc.ICECandidateInit) {
			if err := to.AddICECandidate(c); err != nil {
				s.logger.Debug("Session %s candidate %s -> %s dropped: %v", s.id, from, to.ID(), err)
			}
		}
	}

	local.SetCallbacks(forward(remote), nil, s.handleRemoteTrack, s.handleTransportState)
	remote.SetCallbacks(forward(local), nil, s.handleRemoteTrack, s.handleTransportState)
}

// handleTransportState 通话中链路失败时上报错误，会话保持 Active 由调用方决定是否结束
func (s *Session) handleTransportState(endpointID string, state webrtc.PeerConnectionState) {
	if state != webrtc.PeerConnectionStateFailed {
		return
	}
	if s.State() != StateActive {
		return
	}
	s.logger.Warn("Session %s endpoint %s transport failed", s.id, endpointID)
	s.emitError(fmt.Errorf("endpoint %s: %w", endpointID, ErrConnectionClosed))
}

// handleRemoteTrack 通知上层并在后台读取统计，连接关闭后读取自然退出
func (s *Session) handleRemoteTrack(endpointID string, track peer.RemoteTrack) {
	s.mu.RLock()
	cb := s.onRemoteTrack
	s.mu.RUnlock()

	if cb != nil {
		cb(s.id, endpointID, track)
	}

	go s.drain(track)
}

func (s *Session) drain(track peer.RemoteTrack) {
	buf := utils.GetBuffer(1500)
	defer utils.PutBuffer(buf)

	var seq sequenceTracker
	for {
		n, err := track.Read(buf)
		if err != nil {
			return
		}
		s.stats.AddPacketIn(n)
		if lost := seq.observe(buf[:n]); lost > 0 {
			s.stats.AddPacketsLost(lost)
		}
	}
}

// abort 处理 Start 失败：记录错误，若会话尚未结束则释放资源进入 Ended
func (s *Session) abort(err error) error {
	s.mu.Lock()
	if s.state == StateEnded {
		// End 已释放资源
		s.mu.Unlock()
		return fmt.Errorf("call ended during start: %w", ErrConnectionClosed)
	}
	s.lastErr = err
	res := s.detachLocked()
	s.state = StateEnded
	s.endedAt = time.Now()
	observer := s.observer
	s.mu.Unlock()

	res.release(s.stats)

	reason := FailureReason(err)
	s.logger.Warn("Session %s start failed (%s): %v", s.id, reason, err)
	if observer != nil {
		observer.StartFailed(reason)
	}
	s.emitError(err)
	s.emitStateChange(StateConnecting, StateEnded)
	return err
}

// ToggleMute 切换麦克风，仅 Active 生效，返回是否执行
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return false
	}
	s.flags.Muted = !s.flags.Muted
	muted := s.flags.Muted
	for _, t := range s.source.AudioTracks() {
		t.SetEnabled(!muted)
	}
	s.mu.Unlock()

	s.emitToggle("mute", muted)
	return true
}

// ToggleVideo 切换摄像头，仅 Active 生效，返回是否执行
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return false
	}
	s.flags.VideoOff = !s.flags.VideoOff
	off := s.flags.VideoOff
	for _, t := range s.source.VideoTracks() {
		t.SetEnabled(!off)
	}
	s.mu.Unlock()

	s.emitToggle("video_off", off)
	return true
}

// ShareScreen 采集屏幕替换本地预览，仅 Active 可调用
// 采集失败时状态不变
func (s *Session) ShareScreen(ctx context.Context) error {
	s.mu.RLock()
	state := s.state
	sharing := s.flags.ScreenSharing
	s.mu.RUnlock()

	if state != StateActive {
		return fmt.Errorf("share screen in %s: %w", state, ErrInvalidSessionState)
	}
	if sharing {
		return nil
	}

	screen, err := s.devices.AcquireDisplay(ctx)
	if err != nil {
		err = fmt.Errorf("acquire display: %w", err)
		s.emitError(err)
		return err
	}

	s.mu.Lock()
	if s.state != StateActive || s.flags.ScreenSharing {
		state, sharing := s.state, s.flags.ScreenSharing
		s.mu.Unlock()
		screen.Stop()
		if sharing {
			return nil
		}
		return fmt.Errorf("share screen in %s: %w", state, ErrInvalidSessionState)
	}
	s.screen = screen
	s.flags.ScreenSharing = true
	sender := s.videoSender
	toPeer := s.opts.ShareScreenToPeer
	camera := s.cameraTrackLocked()
	s.mu.Unlock()

	if toPeer && sender != nil {
		if tracks := screen.VideoTracks(); len(tracks) > 0 {
			// sender 保持 SSRC 不变，屏幕 Track 的序号需接在摄像头之后
			tracks[0].ContinueFrom(camera)
			if err := sender.ReplaceTrack(tracks[0].Local()); err != nil {
				s.rollbackScreen(screen)
				err = fmt.Errorf("send screen: %w", err)
				s.emitError(err)
				return err
			}
		}
	}

	s.logger.Info("Session %s screen sharing started", s.id)
	s.emitToggle("screen_share", true)
	return nil
}

// rollbackScreen 撤销失败的屏幕共享
func (s *Session) rollbackScreen(screen *media.Source) {
	s.mu.Lock()
	if s.screen == screen {
		s.screen = nil
		s.flags.ScreenSharing = false
	}
	s.mu.Unlock()

	s.stats.AddReleased(screen.Stats())
	screen.Stop()
}

// StopScreenShare 停止屏幕共享并恢复摄像头，未共享时无操作
func (s *Session) StopScreenShare() {
	s.mu.Lock()
	if s.screen == nil {
		s.mu.Unlock()
		return
	}
	screen := s.screen
	s.screen = nil
	s.flags.ScreenSharing = false
	sender := s.videoSender
	toPeer := s.opts.ShareScreenToPeer
	camera := s.cameraTrackLocked()
	s.mu.Unlock()

	if toPeer && sender != nil && camera != nil {
		if tracks := screen.VideoTracks(); len(tracks) > 0 {
			camera.ContinueFrom(tracks[0])
		}
		if err := sender.ReplaceTrack(camera.Local()); err != nil {
			s.logger.Warn("Session %s restore camera track: %v", s.id, err)
		}
	}

	s.stats.AddReleased(screen.Stats())
	screen.Stop()

	s.logger.Info("Session %s screen sharing stopped", s.id)
	s.emitToggle("screen_share", false)
}

// cameraTrackLocked 返回摄像头的第一个视频 Track，调用方持有锁
func (s *Session) cameraTrackLocked() *media.Track {
	if s.source == nil {
		return nil
	}
	if tracks := s.source.VideoTracks(); len(tracks) > 0 {
		return tracks[0]
	}
	return nil
}

// End 结束通话，任意状态可调用，幂等且不会失败
func (s *Session) End() {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	prev := s.state
	res := s.detachLocked()
	s.state = StateEnded
	s.endedAt = time.Now()
	cancel := s.cancelStart
	s.cancelStart = nil
	s.mu.Unlock()

	// 中止进行中的 Start
	if cancel != nil {
		cancel()
	}
	res.release(s.stats)

	s.logger.Info("Session %s ended from %s", s.id, prev)
	s.emitStateChange(prev, StateEnded)
}

// resources 从会话上摘下、待释放的资源
type resources struct {
	source *media.Source
	screen *media.Source
	local  *peer.Endpoint
	remote *peer.Endpoint
}

// detachLocked 摘下全部资源并重置控制标志，调用方持有锁
func (s *Session) detachLocked() resources {
	res := resources{
		source: s.source,
		screen: s.screen,
		local:  s.local,
		remote: s.remote,
	}
	s.source = nil
	s.screen = nil
	s.local = nil
	s.remote = nil
	s.videoSender = nil
	s.flags = ControlFlags{}
	return res
}

func (r resources) release(stats *TrafficStats) {
	for _, src := range []*media.Source{r.source, r.screen} {
		if src != nil {
			stats.AddReleased(src.Stats())
			src.Stop()
		}
	}
	for _, e := range []*peer.Endpoint{r.local, r.remote} {
		if e != nil {
			e.Close()
		}
	}
}

// Stats 流量统计快照
func (s *Session) Stats() TrafficStatsSnapshot {
	s.mu.RLock()
	var live media.TrackStats
	for _, src := range []*media.Source{s.source, s.screen} {
		if src != nil {
			st := src.Stats()
			live.PacketsSent += st.PacketsSent
			live.BytesSent += st.BytesSent
		}
	}
	s.mu.RUnlock()

	return s.stats.Snapshot(live)
}

// SessionStatus 会话状态快照
type SessionStatus struct {
	ID        string               `json:"id"`
	State     string               `json:"state"`
	Flags     ControlFlags         `json:"flags"`
	Preview   string               `json:"preview,omitempty"`
	Local     *peer.EndpointStatus `json:"local,omitempty"`
	Remote    *peer.EndpointStatus `json:"remote,omitempty"`
	Stats     TrafficStatsSnapshot `json:"stats"`
	CreatedAt int64                `json:"created_at"`
	StartedAt int64                `json:"started_at,omitempty"`
	EndedAt   int64                `json:"ended_at,omitempty"`
	LastError string               `json:"last_error,omitempty"`
}

// Status 获取会话状态
func (s *Session) Status() SessionStatus {
	stats := s.Stats()

	s.mu.RLock()
	status := SessionStatus{
		ID:        s.id,
		State:     s.state.String(),
		Flags:     s.flags,
		Stats:     stats,
		CreatedAt: s.createdAt.UnixMilli(),
	}
	if !s.startedAt.IsZero() {
		status.StartedAt = s.startedAt.UnixMilli()
	}
	if !s.endedAt.IsZero() {
		status.EndedAt = s.endedAt.UnixMilli()
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	if s.screen != nil {
		status.Preview = s.screen.Kind().String()
	} else if s.source != nil {
		status.Preview = s.source.Kind().String()
	}
	local, remote := s.local, s.remote
	s.mu.RUnlock()

	if local != nil {
		st := local.Status()
		status.Local = &st
	}
	if remote != nil {
		st := remote.Status()
		status.Remote = &st
	}
	return status
}

// ToJSON 序列化为 JSON
func (s SessionStatus) ToJSON() string {
	data, _ := json.Marshal(s)
	return string(data)
}

func (s *Session) emitStateChange(from, to State) {
	s.mu.RLock()
	cb := s.onStateChange
	observer := s.observer
	s.mu.RUnlock()

	if observer != nil {
		observer.SessionStateChanged(from.String(), to.String())
	}
	if cb != nil {
		cb(s.id, to)
	}
}

func (s *Session) emitToggle(control string, enabled bool) {
	s.mu.RLock()
	cb := s.onFlagsChange
	observer := s.observer
	flags := s.flags
	s.mu.RUnlock()

	if observer != nil {
		observer.ControlToggled(control, enabled)
	}
	if cb != nil {
		cb(s.id, flags)
	}
}

func (s *Session) emitError(err error) {
	s.mu.RLock()
	cb := s.onError
	s.mu.RUnlock()

	if cb != nil {
		cb(s.id, err)
	}
}
