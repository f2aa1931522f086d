package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Fields absent from the document keep their defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxLinks < 0 {
		errs = append(errs, fmt.Errorf("server.max_links %d must not be negative", cfg.Server.MaxLinks))
	}

	// Modem
	if _, err := cfg.Modem.Build(); err != nil {
		errs = append(errs, fmt.Errorf("modem: %w", err))
	}

	// Feed
	if cfg.Feed.ChunkFrames <= 0 {
		errs = append(errs, fmt.Errorf("feed.chunk_frames %d must be positive", cfg.Feed.ChunkFrames))
	}
	if cfg.Feed.ChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("feed.chunk_bytes %d must not be negative", cfg.Feed.ChunkBytes))
	}
	if cfg.Feed.Interval <= 0 {
		errs = append(errs, fmt.Errorf("feed.interval %s must be positive", cfg.Feed.Interval))
	}

	return errors.Join(errs...)
}
