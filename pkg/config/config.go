/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Config - YAML/JSON configuration loaded with viper.
 * Every key can be overridden with a CALLCORE_ env var, e.g. CALLCORE_SERVER_ADDR.
 */
package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/peer"
	"github.com/maiguangyang/call_core/pkg/utils"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes environment overrides
const EnvPrefix = "CALLCORE"

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Call    CallConfig    `mapstructure:"call"`
	Media   MediaConfig   `mapstructure:"media"`
	WebRTC  WebRTCConfig  `mapstructure:"webrtc"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
}

type CallConfig struct {
	Audio              bool          `mapstructure:"audio"`
	Video              bool          `mapstructure:"video"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	ShareScreenToPeer  bool          `mapstructure:"share_screen_to_peer"`
}

type MediaConfig struct {
	Permission         string        `mapstructure:"permission"` // grant | deny | unavailable
	DisplayAvailable   bool          `mapstructure:"display_available"`
	VideoCodec         string        `mapstructure:"video_codec"`
	AudioCodec         string        `mapstructure:"audio_codec"`
	VideoFrameInterval time.Duration `mapstructure:"video_frame_interval"`
	AudioFrameInterval time.Duration `mapstructure:"audio_frame_interval"`
	PayloadSize        int           `mapstructure:"payload_size"`
	PromptDelay        time.Duration `mapstructure:"prompt_delay"`
}

type WebRTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
	PortMin    uint16   `mapstructure:"port_min"`
	PortMax    uint16   `mapstructure:"port_max"`
}

type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.ping_period", "30s")

	v.SetDefault("call.audio", true)
	v.SetDefault("call.video", true)
	v.SetDefault("call.negotiation_timeout", "8s")
	v.SetDefault("call.share_screen_to_peer", true)

	v.SetDefault("media.permission", "grant")
	v.SetDefault("media.display_available", true)
	v.SetDefault("media.video_codec", "VP8")
	v.SetDefault("media.audio_codec", "opus")
	v.SetDefault("media.video_frame_interval", "33ms")
	v.SetDefault("media.audio_frame_interval", "20ms")
	v.SetDefault("media.payload_size", 160)
	v.SetDefault("media.prompt_delay", "0s")

	v.SetDefault("webrtc.ice_servers", []string{})
	v.SetDefault("webrtc.port_min", 0)
	v.SetDefault("webrtc.port_max", 0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.interval", "5s")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration plus env overrides
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults always decode; env overrides may not
		utils.Warn("Config env override ignored: %v", err)
		cfg, _ = decode(withoutEnv())
	}
	return cfg
}

func withoutEnv() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// Load reads path (YAML or JSON by extension). An empty path uses defaults and env only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		utils.Info("Loaded config: %s", path)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromJSON parses a JSON document on top of the defaults; used by the FFI surface
func FromJSON(data string) (*Config, error) {
	v := newViper()
	if strings.TrimSpace(data) != "" {
		v.SetConfigType("json")
		if err := v.ReadConfig(bytes.NewBufferString(data)); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and names
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalidConfig)
	}

	if !c.Call.Audio && !c.Call.Video {
		return fmt.Errorf("%w: call needs audio or video", ErrInvalidConfig)
	}
	if c.Call.NegotiationTimeout <= 0 {
		return fmt.Errorf("%w: call.negotiation_timeout must be positive", ErrInvalidConfig)
	}

	if _, err := media.ParsePermission(c.Media.Permission); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	registry := media.NewCodecRegistry()
	if _, ok := registry.FindVideoCodec(c.Media.VideoCodec); !ok {
		return fmt.Errorf("%w: unsupported video codec %q", ErrInvalidConfig, c.Media.VideoCodec)
	}
	if _, ok := registry.FindAudioCodec(c.Media.AudioCodec); !ok {
		return fmt.Errorf("%w: unsupported audio codec %q", ErrInvalidConfig, c.Media.AudioCodec)
	}
	if c.Media.VideoFrameInterval <= 0 || c.Media.AudioFrameInterval <= 0 {
		return fmt.Errorf("%w: frame intervals must be positive", ErrInvalidConfig)
	}
	if c.Media.PayloadSize <= 0 || c.Media.PayloadSize > 1200 {
		return fmt.Errorf("%w: media.payload_size must be in 1..1200", ErrInvalidConfig)
	}

	if (c.WebRTC.PortMin == 0) != (c.WebRTC.PortMax == 0) {
		return fmt.Errorf("%w: webrtc.port_min and port_max must be set together", ErrInvalidConfig)
	}
	if c.WebRTC.PortMin > c.WebRTC.PortMax {
		return fmt.Errorf("%w: webrtc.port_min > port_max", ErrInvalidConfig)
	}

	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		return fmt.Errorf("%w: metrics.interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// ValidateServer checks the settings only the HTTP server depends on.
// POST /calls answers after Start returns, so negotiation has to finish
// inside the server's write timeout or the response is lost.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Server.WriteTimeout > 0 && c.Call.NegotiationTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("%w: call.negotiation_timeout %v must be below server.write_timeout %v",
			ErrInvalidConfig, c.Call.NegotiationTimeout, c.Server.WriteTimeout)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: server timeouts must not be negative", ErrInvalidConfig)
	}
	if c.Server.PingPeriod <= 0 {
		return fmt.Errorf("%w: server.ping_period must be positive", ErrInvalidConfig)
	}
	return nil
}

// LogLevel returns the configured level
func (c *Config) LogLevel() utils.LogLevel {
	return utils.ParseLogLevel(c.Log.Level)
}

// CallOptions converts to session options
func (c *Config) CallOptions() call.Options {
	return call.Options{
		Constraints:        media.Constraints{Audio: c.Call.Audio, Video: c.Call.Video},
		NegotiationTimeout: c.Call.NegotiationTimeout,
		ShareScreenToPeer:  c.Call.ShareScreenToPeer,
	}
}

// SyntheticConfig converts to the headless device settings
func (c *Config) SyntheticConfig() (media.SyntheticConfig, error) {
	permission, err := media.ParsePermission(c.Media.Permission)
	if err != nil {
		return media.SyntheticConfig{}, err
	}

	registry := media.NewCodecRegistry()
	video, ok := registry.FindVideoCodec(c.Media.VideoCodec)
	if !ok {
		return media.SyntheticConfig{}, fmt.Errorf("unsupported video codec %q", c.Media.VideoCodec)
	}
	audio, ok := registry.FindAudioCodec(c.Media.AudioCodec)
	if !ok {
		return media.SyntheticConfig{}, fmt.Errorf("unsupported audio codec %q", c.Media.AudioCodec)
	}

	return media.SyntheticConfig{
		Permission:         permission,
		DisplayAvailable:   c.Media.DisplayAvailable,
		VideoCodec:         video,
		AudioCodec:         audio,
		VideoFrameInterval: c.Media.VideoFrameInterval,
		AudioFrameInterval: c.Media.AudioFrameInterval,
		PayloadSize:        c.Media.PayloadSize,
		PromptDelay:        c.Media.PromptDelay,
	}, nil
}

// PionOptions converts to substrate options
func (c *Config) PionOptions() []peer.PionOption {
	var opts []peer.PionOption
	if len(c.WebRTC.ICEServers) > 0 {
		opts = append(opts, peer.WithICEServers([]webrtc.ICEServer{{URLs: c.WebRTC.ICEServers}}))
	}
	if c.WebRTC.PortMin != 0 {
		opts = append(opts, peer.WithPortRange(c.WebRTC.PortMin, c.WebRTC.PortMax))
	}
	return opts
}
