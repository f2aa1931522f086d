package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/fskmodem/internal/feed"
	"github.com/MrWong99/fskmodem/internal/observe"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// ErrFull is reported by [Server.CheckCapacity] when every link slot is
// taken.
var ErrFull = errors.New("link: all link slots in use")

// Server accepts modem links over WebSocket. It implements http.Handler.
//
// New links use the profile current at the time they are accepted; changing
// it with [Server.SetConfig] leaves open links untouched.
type Server struct {
	metrics *observe.Metrics
	logger  *slog.Logger
	origins []string

	mu       sync.Mutex
	cfg      fsk.Config
	feed     feed.Options
	maxLinks int
	active   int

	nextID atomic.Uint64
	wg     sync.WaitGroup

	base     context.Context
	shutdown context.CancelFunc
}

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithMaxLinks limits concurrent links. Zero or less means unlimited.
func WithMaxLinks(n int) ServerOption {
	return func(s *Server) { s.maxLinks = n }
}

// WithMetrics records link and engine metrics on m.
func WithMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFeed sets the pacing used when feeding client data into the engines.
func WithFeed(o feed.Options) ServerOption {
	return func(s *Server) { s.feed = o }
}

// WithOriginPatterns allows cross-origin browser clients matching patterns.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) { s.origins = patterns }
}

// NewServer returns a server handing out links for cfg.
func NewServer(cfg fsk.Config, opts ...ServerOption) *Server {
	s := &Server{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.base, s.shutdown = context.WithCancel(context.Background())
	return s
}

// Config returns the profile new links use.
func (s *Server) Config() fsk.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig changes the profile for links accepted from now on.
func (s *Server) SetConfig(cfg fsk.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info("link: modem profile updated", "config", cfg.String())
}

// SetFeed changes the pacing for links accepted from now on.
func (s *Server) SetFeed(o feed.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = o
}

// SetMaxLinks changes the link limit. Open links above a lowered limit stay
// open.
func (s *Server) SetMaxLinks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxLinks = n
}

// Active returns the number of open links.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// CheckCapacity returns [ErrFull] when no further link can be accepted. It
// fits the health.Checker signature.
func (s *Server) CheckCapacity(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxLinks > 0 && s.active >= s.maxLinks {
		return fmt.Errorf("%w: %d of %d", ErrFull, s.active, s.maxLinks)
	}
	return nil
}

// Shutdown closes every open link and waits for them to finish or ctx to
// end. The server accepts no links afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.base.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	s.mu.Lock()
	base, fo := s.cfg, s.feed
	s.mu.Unlock()

	cfg, err := ParseQuery(base, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.acquire() {
		http.Error(w, ErrFull.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		// Accept has already written the error response.
		s.logger.Debug("link: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	id := s.nextID.Add(1)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	ctx, span := observe.StartSpan(ctx, "fsk.link",
		trace.WithAttributes(
			attribute.Int64("link.id", int64(id)),
			attribute.Int("fsk.mode", int(cfg.Mode())),
			attribute.Int("fsk.sample_rate", cfg.SampleRate()),
		),
	)
	defer span.End()

	logger := observe.Logger(ctx, s.logger).With("link", id, "remote", r.RemoteAddr)
	logger.Info("link: opened", "config", cfg.String())

	var obs fsk.Observer
	if s.metrics != nil {
		s.metrics.ActiveLinks.Add(ctx, 1)
		defer s.metrics.ActiveLinks.Add(context.Background(), -1)
		obs = s.metrics.Observer(observe.Attr("transport", "websocket"))
	}

	sess := newSession(conn, cfg, fo, obs, logger)
	if err := sess.run(ctx); err != nil {
		span.RecordError(err)
		logger.Warn("link: closed with error", "err", err)
		return
	}
	enc, dec := sess.enc.Stats(), sess.dec.Stats()
	logger.Info("link: closed",
		"bytes_sent", enc.BytesSent,
		"bytes_decoded", dec.BytesDecoded,
		"framing_errors", dec.FramingErrors,
	)
}

func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxLinks > 0 && s.active >= s.maxLinks {
		return false
	}
	s.active++
	s.wg.Add(1)
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	s.wg.Done()
}
