// Package config provides the configuration schema, loader, and file watcher
// for the fskmodem tools and server.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/fskmodem/pkg/fsk"
)

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

// Level maps l to a [slog.Level]. Unknown and empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Modem  ModemConfig  `yaml:"modem"`
	Feed   FeedConfig   `yaml:"feed"`
}

// ServerConfig holds network and logging settings for `fskmodem serve`.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxLinks caps concurrent WebSocket modem links. Zero means unlimited.
	MaxLinks int `yaml:"max_links"`
}

// ModemConfig is the YAML form of an [fsk.Config].
type ModemConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Format     string  `yaml:"format"`
	Channels   int     `yaml:"channels"`
	Mode       int     `yaml:"mode"`
	Threshold  float64 `yaml:"threshold"`
}

// Build validates m and returns the engine configuration.
func (m ModemConfig) Build() (fsk.Config, error) {
	format, err := fsk.ParseSampleFormat(m.Format)
	if err != nil {
		return fsk.Config{}, err
	}
	return fsk.NewConfig(m.SampleRate, format, fsk.Channels(m.Channels), fsk.Mode(m.Mode), m.Threshold)
}

func (m ModemConfig) String() string {
	return fmt.Sprintf("%d Hz %s ch=%d mode=%d threshold=%g%%", m.SampleRate, m.Format, m.Channels, m.Mode, m.Threshold)
}

// FeedConfig paces producers that push data into the engines.
type FeedConfig struct {
	// ChunkFrames is the number of sample frames handed to a decoder per
	// append.
	ChunkFrames int `yaml:"chunk_frames"`

	// ChunkBytes is the number of bytes handed to an encoder per append.
	// Zero uses the modem's chunk size.
	ChunkBytes int `yaml:"chunk_bytes"`

	// Interval is the back-off after an append reports back-pressure.
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given: 44.1 kHz
// 16-bit mono in mode 4 with a 20% threshold.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			MaxLinks:   16,
		},
		Modem: ModemConfig{
			SampleRate: 44100,
			Format:     "pcm16",
			Channels:   1,
			Mode:       4,
			Threshold:  fsk.DefaultThreshold,
		},
		Feed: FeedConfig{
			ChunkFrames: 1024,
			Interval:    100 * time.Millisecond,
		},
	}
}
