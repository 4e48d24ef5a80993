/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/utils"
)

func TestLoad_givenNoFile_whenLoad_thenDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Call.Audio)
	assert.True(t, cfg.Call.Video)
	assert.True(t, cfg.Call.ShareScreenToPeer)
	assert.Equal(t, 8*time.Second, cfg.Call.NegotiationTimeout)
	assert.Less(t, cfg.Call.NegotiationTimeout, cfg.Server.WriteTimeout)
	require.NoError(t, cfg.ValidateServer())
	assert.Equal(t, 33*time.Millisecond, cfg.Media.VideoFrameInterval)
	assert.Equal(t, utils.LogLevelInfo, cfg.LogLevel())
	assert.Empty(t, cfg.PionOptions())
}

func TestLoad_givenYAMLFile_whenLoad_thenOverridesApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callcore.yaml")
	yaml := `
log:
  level: debug
server:
  write_timeout: 20s
call:
  video: false
  negotiation_timeout: 15s
media:
  permission: deny
  video_codec: H264
webrtc:
  ice_servers:
    - stun:stun.l.google.com:19302
  port_min: 50000
  port_max: 50100
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, utils.LogLevelDebug, cfg.LogLevel())
	assert.False(t, cfg.Call.Video)
	assert.True(t, cfg.Call.Audio)
	assert.Equal(t, 15*time.Second, cfg.Call.NegotiationTimeout)
	require.NoError(t, cfg.ValidateServer())
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEServers)
	assert.Len(t, cfg.PionOptions(), 2)

	opts := cfg.CallOptions()
	assert.Equal(t, media.Constraints{Audio: true}, opts.Constraints)
	assert.Equal(t, 15*time.Second, opts.NegotiationTimeout)

	sc, err := cfg.SyntheticConfig()
	require.NoError(t, err)
	assert.Equal(t, media.PermissionDeny, sc.Permission)
	assert.Equal(t, media.CodecTypeH264, sc.VideoCodec.Type)
}

func TestLoad_givenEnvOverride_whenLoad_thenEnvWins(t *testing.T) {
	t.Setenv("CALLCORE_SERVER_ADDR", ":9999")
	t.Setenv("CALLCORE_CALL_SHARE_SCREEN_TO_PEER", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.False(t, cfg.Call.ShareScreenToPeer)
}

func TestLoad_givenMissingFile_whenLoad_thenError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON(`{"call":{"negotiation_timeout":"2s"},"media":{"display_available":false}}`)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Call.NegotiationTimeout)
	assert.False(t, cfg.Media.DisplayAvailable)

	cfg, err = FromJSON("")
	require.NoError(t, err)
	assert.True(t, cfg.Media.DisplayAvailable)

	_, err = FromJSON(`{not json`)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }},
		{name: "empty addr", mutate: func(c *Config) { c.Server.Addr = "" }},
		{name: "no media", mutate: func(c *Config) { c.Call.Audio, c.Call.Video = false, false }},
		{name: "negative timeout", mutate: func(c *Config) { c.Call.NegotiationTimeout = -time.Second }},
		{name: "unbounded negotiation", mutate: func(c *Config) { c.Call.NegotiationTimeout = 0 }},
		{name: "permission", mutate: func(c *Config) { c.Media.Permission = "ask" }},
		{name: "video codec", mutate: func(c *Config) { c.Media.VideoCodec = "theora" }},
		{name: "audio codec", mutate: func(c *Config) { c.Media.AudioCodec = "VP8" }},
		{name: "frame interval", mutate: func(c *Config) { c.Media.VideoFrameInterval = 0 }},
		{name: "payload", mutate: func(c *Config) { c.Media.PayloadSize = 5000 }},
		{name: "half port range", mutate: func(c *Config) { c.WebRTC.PortMin = 5000 }},
		{name: "inverted port range", mutate: func(c *Config) { c.WebRTC.PortMin, c.WebRTC.PortMax = 6000, 5000 }},
		{name: "metrics interval", mutate: func(c *Config) { c.Metrics.Interval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestValidateServer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "negotiation outlasts write timeout", mutate: func(c *Config) { c.Call.NegotiationTimeout = 30 * time.Second }},
		{name: "negotiation equals write timeout", mutate: func(c *Config) { c.Call.NegotiationTimeout = c.Server.WriteTimeout }},
		{name: "negative read timeout", mutate: func(c *Config) { c.Server.ReadTimeout = -time.Second }},
		{name: "ping period", mutate: func(c *Config) { c.Server.PingPeriod = 0 }},
		{name: "base validation", mutate: func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.ValidateServer())

			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.ValidateServer(), ErrInvalidConfig)
		})
	}

	// a long negotiation is fine when the write timeout is disabled
	cfg := Default()
	cfg.Server.WriteTimeout = 0
	cfg.Call.NegotiationTimeout = time.Minute
	assert.NoError(t, cfg.ValidateServer())
	assert.NoError(t, cfg.Validate())
}

func TestFromJSON_givenZeroNegotiationTimeout_thenInvalid(t *testing.T) {
	_, err := FromJSON(`{"call":{"negotiation_timeout":"0s"}}`)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
