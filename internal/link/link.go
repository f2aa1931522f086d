package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fskmodem/internal/feed"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// outboundDepth bounds the messages queued for the write loop. The engine
// callbacks block once it is full.
const outboundDepth = 64

// errPeerClosed ends a link after the client closed the connection.
var errPeerClosed = errors.New("link: peer closed")

type message struct {
	typ  websocket.MessageType
	data []byte
}

// session is one open link.
type session struct {
	conn   *websocket.Conn
	cfg    fsk.Config
	feed   feed.Options
	logger *slog.Logger

	enc *fsk.Encoder
	dec *fsk.Decoder

	out      chan message
	done     chan struct{}
	quitOnce sync.Once
}

func newSession(conn *websocket.Conn, cfg fsk.Config, fo feed.Options, obs fsk.Observer, logger *slog.Logger) *session {
	s := &session{
		conn:   conn,
		cfg:    cfg,
		feed:   fo.Defaults(cfg),
		logger: logger,
		out:    make(chan message, outboundDepth),
		done:   make(chan struct{}),
	}
	s.feed.Logger = logger

	engineOpts := []fsk.Option{fsk.WithLogger(logger), fsk.WithObserver(obs)}
	s.enc = fsk.NewEncoder(cfg, s.onBlock, engineOpts...)
	s.dec = fsk.NewDecoder(cfg, s.onDecoded,
		append(engineOpts, fsk.WithFramingErrorHandler(s.onFramingError))...)
	return s
}

// run serves the link until ctx ends, the peer closes the connection or an
// I/O error occurs. A clean close by the peer returns nil.
func (s *session) run(ctx context.Context) error {
	defer s.close()

	profile := ProfileOf(s.cfg)
	if err := s.writeEvent(ctx, Event{Type: EventHello, Profile: &profile}); err != nil {
		return fmt.Errorf("link: send hello: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	context.AfterFunc(gctx, s.quit)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, errPeerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// quit releases everything blocked in enqueue.
func (s *session) quit() {
	s.quitOnce.Do(func() { close(s.done) })
}

func (s *session) close() {
	s.quit()
	s.enc.Stop()
	s.dec.Stop()
	<-s.enc.Done()
	<-s.dec.Done()
	s.conn.Close(websocket.StatusNormalClosure, "link closed")
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errPeerClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("link: read: %w", err)
		}

		if typ == websocket.MessageBinary {
			if err := feed.Signal(ctx, s.dec, data, s.feed); err != nil {
				if errors.Is(err, fsk.ErrPartialFrame) {
					s.enqueueEvent(Event{Type: EventError, Message: err.Error()})
					continue
				}
				return err
			}
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.enqueueEvent(Event{Type: EventError, Message: "malformed event: " + err.Error()})
			continue
		}
		switch ev.Type {
		case EventSend:
			if err := feed.Bytes(ctx, s.enc, ev.Data, s.feed); err != nil {
				return err
			}
		default:
			s.enqueueEvent(Event{Type: EventError, Message: fmt.Sprintf("unexpected event type %q", ev.Type)})
		}
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.out:
			if err := s.conn.Write(ctx, m.typ, m.data); err != nil {
				return fmt.Errorf("link: write: %w", err)
			}
		}
	}
}

func (s *session) writeEvent(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// enqueue hands m to the write loop, giving up once the link is closing.
func (s *session) enqueue(m message) {
	select {
	case s.out <- m:
	case <-s.done:
	}
}

func (s *session) enqueueEvent(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("link: marshal event", "type", ev.Type, "err", err)
		return
	}
	s.enqueue(message{typ: websocket.MessageText, data: data})
}

func (s *session) onBlock(b fsk.Block) {
	s.enqueue(message{typ: websocket.MessageBinary, data: b.Data})
}

func (s *session) onDecoded(data []byte) {
	s.enqueueEvent(Event{Type: EventDecoded, Data: data})
}

func (s *session) onFramingError(fe fsk.FramingError) {
	s.enqueueEvent(Event{Type: EventFramingError, Reason: string(fe.Reason), Offset: fe.Offset})
}
