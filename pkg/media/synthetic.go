/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * SyntheticDevices - headless capture provider
 *
 * Every acquired track is fed by a pump that writes RTP packets at a fixed
 * frame interval while the track is enabled. Hosts without real capture
 * (servers, CI) use it, and its permission policy lets callers exercise
 * the denial paths.
 */
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// Permission is how the simulated user answers capture prompts
type Permission int

const (
	PermissionGrant Permission = iota
	PermissionDeny
	PermissionUnavailable
)

func (p Permission) String() string {
	switch p {
	case PermissionGrant:
		return "grant"
	case PermissionDeny:
		return "deny"
	case PermissionUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ParsePermission parses "grant", "deny" or "unavailable"
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grant", "":
		return PermissionGrant, nil
	case "deny":
		return PermissionDeny, nil
	case "unavailable":
		return PermissionUnavailable, nil
	default:
		return PermissionGrant, fmt.Errorf("unknown permission policy %q", s)
	}
}

// SyntheticConfig configures SyntheticDevices
type SyntheticConfig struct {
	Permission       Permission
	DisplayAvailable bool

	VideoCodec CodecInfo
	AudioCodec CodecInfo

	VideoFrameInterval time.Duration
	AudioFrameInterval time.Duration
	PayloadSize        int

	// PromptDelay simulates the time a user takes to answer the prompt
	PromptDelay time.Duration
}

// DefaultSyntheticConfig returns 30fps VP8 video and 20ms Opus audio, always granted
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Permission:         PermissionGrant,
		DisplayAvailable:   true,
		VideoCodec:         CodecVP8,
		AudioCodec:         CodecOpus,
		VideoFrameInterval: 33 * time.Millisecond,
		AudioFrameInterval: 20 * time.Millisecond,
		PayloadSize:        160,
	}
}

// SyntheticDevices implements Devices without touching hardware
type SyntheticDevices struct {
	mu       sync.RWMutex
	cfg      SyntheticConfig
	acquired int
	logger   *utils.Logger
}

// NewSyntheticDevices creates a provider; zero intervals and payload fall back to defaults
func NewSyntheticDevices(cfg SyntheticConfig) *SyntheticDevices {
	def := DefaultSyntheticConfig()
	if cfg.VideoCodec.MimeType == "" {
		cfg.VideoCodec = def.VideoCodec
	}
	if cfg.AudioCodec.MimeType == "" {
		cfg.AudioCodec = def.AudioCodec
	}
	if cfg.VideoFrameInterval <= 0 {
		cfg.VideoFrameInterval = def.VideoFrameInterval
	}
	if cfg.AudioFrameInterval <= 0 {
		cfg.AudioFrameInterval = def.AudioFrameInterval
	}
	if cfg.PayloadSize <= 0 {
		cfg.PayloadSize = def.PayloadSize
	}

	return &SyntheticDevices{
		cfg:    cfg,
		logger: utils.GetLogger().With("media"),
	}
}

// SetPermission changes how later prompts are answered
func (d *SyntheticDevices) SetPermission(p Permission) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Permission = p
}

// SetDisplayAvailable toggles whether a screen can be captured
func (d *SyntheticDevices) SetDisplayAvailable(available bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.DisplayAvailable = available
}

// Acquired returns how many sources have been handed out
func (d *SyntheticDevices) Acquired() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.acquired
}

// Acquire implements Devices
func (d *SyntheticDevices) Acquire(ctx context.Context, c Constraints) (*Source, error) {
	if c.Empty() {
		return nil, fmt.Errorf("no audio or video requested: %w", ErrDeviceUnavailable)
	}

	cfg, err := d.prompt(ctx)
	if err != nil {
		return nil, err
	}

	switch cfg.Permission {
	case PermissionDeny:
		return nil, fmt.Errorf("camera/microphone: %w", ErrPermissionDenied)
	case PermissionUnavailable:
		return nil, fmt.Errorf("camera/microphone: %w", ErrDeviceUnavailable)
	}

	streamID := "camera-" + shortuuid.New()
	var tracks []*Track
	if c.Audio {
		t, err := NewTrack(webrtc.RTPCodecTypeAudio, cfg.AudioCodec, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := NewTrack(webrtc.RTPCodecTypeVideo, cfg.VideoCodec, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}

	return d.start(SourceCamera, streamID, tracks, cfg), nil
}

// AcquireDisplay implements Devices
func (d *SyntheticDevices) AcquireDisplay(ctx context.Context) (*Source, error) {
	cfg, err := d.prompt(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Permission == PermissionDeny {
		return nil, fmt.Errorf("display: %w", ErrPermissionDenied)
	}
	if !cfg.DisplayAvailable || cfg.Permission == PermissionUnavailable {
		return nil, fmt.Errorf("display: %w", ErrDeviceUnavailable)
	}

	streamID := "screen-" + shortuuid.New()
	t, err := NewTrack(webrtc.RTPCodecTypeVideo, cfg.VideoCodec, streamID)
	if err != nil {
		return nil, err
	}

	return d.start(SourceScreen, streamID, []*Track{t}, cfg), nil
}

// prompt waits out the simulated prompt and snapshots the config
func (d *SyntheticDevices) prompt(ctx context.Context) (SyntheticConfig, error) {
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	if cfg.PromptDelay > 0 {
		timer := time.NewTimer(cfg.PromptDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return cfg, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (d *SyntheticDevices) start(kind SourceKind, streamID string, tracks []*Track, cfg SyntheticConfig) *Source {
	for _, t := range tracks {
		interval := cfg.AudioFrameInterval
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			interval = cfg.VideoFrameInterval
		}
		go d.pump(t, interval, cfg.PayloadSize)
	}

	d.mu.Lock()
	d.acquired++
	d.mu.Unlock()

	src := NewSource(kind, streamID, tracks...)
	d.logger.Debug("Acquired %s source %s with %d tracks", kind, src.ID(), len(tracks))
	return src
}

// pump writes one packet per frame interval until the track stops
func (d *SyntheticDevices) pump(t *Track, interval time.Duration, payloadSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	codec := t.Codec()
	step := uint32(float64(codec.ClockRate) * interval.Seconds())
	payload := make([]byte, payloadSize)
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version: 2,
			SSRC:    uint32(time.Now().UnixNano()),
		},
		Payload: payload,
	}

	for {
		select {
		case <-t.Done():
			return
		case <-ticker.C:
		}

		// the media clock keeps running while disabled; sequence numbers only count sent packets
		pkt.Timestamp += step
		if !t.Enabled() {
			continue
		}

		pkt.SequenceNumber++
		pkt.Marker = t.Kind() == webrtc.RTPCodecTypeVideo
		payload[0] = byte(pkt.SequenceNumber)

		if err := t.WriteRTP(pkt); err != nil && !errors.Is(err, ErrTrackStopped) {
			d.logger.Debug("Track %s write failed: %v", t.ID(), err)
		}
	}
}
