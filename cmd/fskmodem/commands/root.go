package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/fskmodem/internal/config"
	"github.com/MrWong99/fskmodem/internal/feed"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// Version is reported by the MCP server and in telemetry. It is set at link
// time with -ldflags "-X .../commands.Version=...".
var Version = "dev"

var (
	// Global flags
	configPath string
	logLevel   string

	// Modem overrides
	sampleRate int
	format     string
	channels   int
	mode       int
	threshold  float64

	// Loaded in PersistentPreRunE.
	settings *config.Config
	levelVar = new(slog.LevelVar)
	logger   = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "fskmodem",
	Short: "Software FSK modem",
	Long: `fskmodem - a software FSK acoustic modem.

Bytes are sent as 8N1/8N2 frames on two audio tones and recovered from
sampled PCM with Goertzel tone detection. Four modes trade speed for
robustness:

  mode 1   1225 baud   space 4900 Hz   mark 7350 Hz
  mode 2    630 baud   space 3150 Hz   mark 6300 Hz
  mode 3    315 baud   space 1575 Hz   mark 3150 Hz
  mode 4    126 baud   space  882 Hz   mark 1764 Hz

Settings come from the YAML file given with --config; modem flags override
the file.

Examples:
  echo hello | fskmodem encode -o hello.wav
  fskmodem decode -i hello.wav
  fskmodem inspect hello.wav
  fskmodem serve --config fskmodem.yaml`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides the config file)")
	pf.IntVar(&sampleRate, "rate", 0, "sample rate in Hz")
	pf.StringVar(&format, "format", "", "sample format: pcm8 or pcm16")
	pf.IntVar(&channels, "channels", 0, "channel count: 1 or 2")
	pf.IntVar(&mode, "mode", 0, "modem mode 1-4")
	pf.Float64Var(&threshold, "threshold", 0, "detection threshold in percent")
}

// setup loads the configuration, applies flag overrides and installs the
// logger.
func setup(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	applyOverrides(cmd, cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	settings = cfg

	levelVar.Set(cfg.Server.LogLevel.Level())
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)
	return nil
}

// applyOverrides copies explicitly set flags into cfg.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Server.LogLevel = config.LogLevel(logLevel)
	}
	if flags.Changed("rate") {
		cfg.Modem.SampleRate = sampleRate
	}
	if flags.Changed("format") {
		cfg.Modem.Format = format
	}
	if flags.Changed("channels") {
		cfg.Modem.Channels = channels
	}
	if flags.Changed("mode") {
		cfg.Modem.Mode = mode
	}
	if flags.Changed("threshold") {
		cfg.Modem.Threshold = threshold
	}
}

// modemConfig returns the effective modem profile.
func modemConfig() (fsk.Config, error) {
	return settings.Modem.Build()
}

// feedConfig converts the feed section of c.
func feedConfig(c *config.Config) feed.Options {
	return feed.Options{
		ChunkBytes:  c.Feed.ChunkBytes,
		ChunkFrames: c.Feed.ChunkFrames,
		Interval:    c.Feed.Interval,
		Logger:      logger,
	}
}

// feedOptions returns the configured producer pacing for cfg.
func feedOptions(cfg fsk.Config) feed.Options {
	return feedConfig(settings).Defaults(cfg)
}

// openInput opens path for reading, or returns stdin for "" and "-".
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}
