package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Capture.VideoInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.video_interval must not be negative"))
	}
	if cfg.Capture.CameraMaxDim < 0 {
		errs = append(errs, fmt.Errorf("capture.camera_max_dim must not be negative"))
	}
	if cfg.Capture.ScreenMaxWidth < 0 {
		errs = append(errs, fmt.Errorf("capture.screen_max_width must not be negative"))
	}
	if cfg.Capture.JPEGQuality < 1 || cfg.Capture.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("capture.jpeg_quality %d is out of range [1, 100]", cfg.Capture.JPEGQuality))
	}
	if cfg.Capture.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_size must be positive"))
	}
	if cfg.Capture.SendSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.send_sample_rate must be positive"))
	}
	if cfg.Capture.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("capture.queue_capacity must be positive"))
	}

	namesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			namesSeen[srv.Name] = i
		}
		if srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required", prefix))
		}
	}

	return errors.Join(errs...)
}
