// Package config provides the configuration schema and loader for the
// livebridge daemon.
package config

import (
	"os"
	"time"

	"github.com/redglass/livebridge/internal/capture"
	"github.com/redglass/livebridge/internal/pipeline"
	"github.com/redglass/livebridge/pkg/provider/live"
)

// apiKeyEnv is consulted when session.api_key is not set.
const apiKeyEnv = "GEMINI_API_KEY"

// defaultModel is the realtime model used when session.model is not set.
const defaultModel = "models/gemini-2.0-flash-exp"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Capture CaptureConfig `yaml:"capture"`
	MCP     MCPConfig     `yaml:"mcp"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr, when set, serves Prometheus metrics on this TCP address
	// (e.g. ":9091").
	MetricsAddr string `yaml:"metrics_addr"`
}

// SessionConfig configures the realtime AI session.
type SessionConfig struct {
	// APIKey authenticates with the backend. Falls back to the GEMINI_API_KEY
	// environment variable when empty.
	APIKey string `yaml:"api_key"`

	// Model selects the realtime model.
	Model string `yaml:"model"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Voice selects the synthesised output voice.
	Voice string `yaml:"voice"`

	// ResponseModalities lists the requested output kinds, e.g. AUDIO, TEXT.
	ResponseModalities []string `yaml:"response_modalities"`

	// MediaResolution hints how the backend processes inbound images.
	MediaResolution string `yaml:"media_resolution"`

	// SystemInstruction is the optional system-level prompt.
	SystemInstruction string `yaml:"system_instruction"`
}

// ResolveAPIKey returns the configured key or the environment fallback.
func (s SessionConfig) ResolveAPIKey() string {
	if s.APIKey != "" {
		return s.APIKey
	}
	return os.Getenv(apiKeyEnv)
}

// CaptureConfig tunes the media capture paths. The *Command fields are argv
// vectors for the external helpers that provide raw frames and PCM; an empty
// vector disables that device.
type CaptureConfig struct {
	// VideoInterval is the pause between video frames.
	VideoInterval time.Duration `yaml:"video_interval"`

	// CameraMaxDim bounds the longer edge of camera frames.
	CameraMaxDim int `yaml:"camera_max_dim"`

	// ScreenMaxWidth bounds the width of screen frames.
	ScreenMaxWidth int `yaml:"screen_max_width"`

	// JPEGQuality is the encoder quality for screen frames, 1–100.
	JPEGQuality int `yaml:"jpeg_quality"`

	// ChunkSize is the number of PCM frames per microphone chunk.
	ChunkSize int `yaml:"chunk_size"`

	// SendSampleRate is the microphone sample rate in Hz, declared to the
	// session for realtime audio input. The playback rate is fixed by the
	// playback_command argv, so there is no matching receive knob.
	SendSampleRate int `yaml:"send_sample_rate"`

	// QueueCapacity bounds the outbound media queue.
	QueueCapacity int `yaml:"queue_capacity"`

	CameraCommand   []string `yaml:"camera_command"`
	ScreenCommand   []string `yaml:"screen_command"`
	MicCommand      []string `yaml:"mic_command"`
	PlaybackCommand []string `yaml:"playback_command"`
}

// MCPConfig lists tool servers to connect at startup.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one tool server process.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Default returns a config with every tunable at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-valued tunables.
func (c *Config) applyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Session.Model == "" {
		c.Session.Model = defaultModel
	}
	if c.Capture.VideoInterval == 0 {
		c.Capture.VideoInterval = capture.DefaultInterval
	}
	if c.Capture.CameraMaxDim == 0 {
		c.Capture.CameraMaxDim = capture.DefaultCameraMaxDim
	}
	if c.Capture.ScreenMaxWidth == 0 {
		c.Capture.ScreenMaxWidth = capture.DefaultScreenMaxWidth
	}
	if c.Capture.JPEGQuality == 0 {
		c.Capture.JPEGQuality = capture.DefaultJPEGQuality
	}
	if c.Capture.ChunkSize == 0 {
		c.Capture.ChunkSize = capture.DefaultChunkFrames
	}
	if c.Capture.SendSampleRate == 0 {
		c.Capture.SendSampleRate = live.SendSampleRate
	}
	if c.Capture.QueueCapacity == 0 {
		c.Capture.QueueCapacity = pipeline.DefaultQueueCapacity
	}
}
