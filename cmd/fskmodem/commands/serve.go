package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/fskmodem/internal/config"
	"github.com/MrWong99/fskmodem/internal/health"
	"github.com/MrWong99/fskmodem/internal/link"
	"github.com/MrWong99/fskmodem/internal/observe"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP server and the
// open links.
const shutdownTimeout = 15 * time.Second

var (
	serveListen  string
	serveOrigins []string
	serveReload  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the modem server",
	Long: `Run the modem server.

Routes:
  GET /modem     WebSocket modem link (query: rate, format, channels, mode, threshold)
  GET /healthz   liveness probe
  GET /readyz    readiness probe (modem profile, link capacity)
  GET /metrics   Prometheus metrics

With --config the file is watched: log level, modem profile, feed pacing
and link limit changes apply without a restart. New links use the new
profile; open links keep theirs.

Examples:
  fskmodem serve --listen :8080 --mode 3
  fskmodem serve --config fskmodem.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "listen address (overrides server.listen_addr)")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "origin", nil, "allowed cross-origin WebSocket origin patterns")
	serveCmd.Flags().DurationVar(&serveReload, "reload-interval", 5*time.Second, "config file polling interval")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := settings
	if serveListen != "" {
		cfg.Server.ListenAddr = serveListen
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	d, err := newDaemon(cfg, observe.DefaultMetrics(), promhttp.Handler(), logger)
	if err != nil {
		return err
	}

	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			// Flag overrides keep precedence over the file.
			o, n := *old, *new
			applyOverrides(cmd, &o)
			applyOverrides(cmd, &n)
			d.apply(&o, &n)
		}, config.WithInterval(serveReload), config.WithWatcherLogger(logger))
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return d.serve(ctx, ln)
}

// daemon is the HTTP side of `fskmodem serve`.
type daemon struct {
	links   *link.Server
	health  *health.Handler
	handler http.Handler
	logger  *slog.Logger
}

func newDaemon(cfg *config.Config, m *observe.Metrics, metricsHandler http.Handler, logger *slog.Logger) (*daemon, error) {
	modem, err := cfg.Modem.Build()
	if err != nil {
		return nil, err
	}

	links := link.NewServer(modem,
		link.WithMaxLinks(cfg.Server.MaxLinks),
		link.WithMetrics(m),
		link.WithLogger(logger),
		link.WithFeed(feedConfig(cfg)),
		link.WithOriginPatterns(serveOrigins...),
	)
	hh := health.New(
		health.Checker{Name: "modem", Check: func(context.Context) error {
			return selfTest(links.Config())
		}},
		health.Checker{Name: "links", Check: links.CheckCapacity},
	)

	mux := http.NewServeMux()
	hh.Register(mux)
	mux.Handle("GET /metrics", metricsHandler)
	mux.Handle("GET /modem", links)

	return &daemon{
		links:   links,
		health:  hh,
		handler: observe.Middleware(m, logger)(mux),
		logger:  logger,
	}, nil
}

// selfTest loops one probe byte through cfg.
func selfTest(cfg fsk.Config) error {
	const probe = 0xa5
	got, _, err := fsk.Demodulate(cfg, fsk.Modulate(cfg, []byte{probe}))
	if err != nil {
		return err
	}
	if len(got) != 1 || got[0] != probe {
		return fmt.Errorf("loopback of %#x returned % x", probe, got)
	}
	return nil
}

// serve runs the HTTP server on ln until ctx ends, then drains: readiness
// fails first, the listener closes and open links are shut down.
func (d *daemon) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	d.logger.Info("server ready", "addr", ln.Addr().String(), "config", d.links.Config().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	d.logger.Info("shutdown signal received, stopping")
	d.health.Drain()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Shutdown does not wait for hijacked WebSocket connections.
	err := errors.Join(srv.Shutdown(sctx), d.links.Shutdown(sctx))
	if serr := <-errCh; !errors.Is(serr, http.ErrServerClosed) {
		err = errors.Join(err, serr)
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	d.logger.Info("goodbye")
	return nil
}

// apply hot-reloads the settings that do not need a restart.
func (d *daemon) apply(old, new *config.Config) {
	diff := config.Diff(old, new)
	if diff.LogLevelChanged {
		levelVar.Set(diff.NewLogLevel.Level())
		d.logger.Info("log level changed", "level", string(diff.NewLogLevel))
	}
	if diff.ModemChanged {
		modem, err := diff.NewModem.Build()
		if err != nil {
			d.logger.Warn("ignoring modem profile", "profile", diff.NewModem.String(), "err", err)
		} else {
			d.links.SetConfig(modem)
		}
	}
	if diff.FeedChanged {
		d.links.SetFeed(feedConfig(new))
	}
	if diff.MaxLinksChanged {
		d.links.SetMaxLinks(diff.NewMaxLinks)
		d.logger.Info("link limit changed", "max_links", diff.NewMaxLinks)
	}
}
