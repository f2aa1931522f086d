package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// DialError reports a rejected WebSocket handshake.
type DialError struct {
	// StatusCode is the HTTP status of the handshake response, or zero if
	// none was received.
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("link: dial: HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("link: dial: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Client is the peer side of a link.
type Client struct {
	conn    *websocket.Conn
	profile Profile
	cfg     fsk.Config

	events chan Event
	audio  chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	err       error
	closing   atomic.Bool
	closeOnce sync.Once
}

// DialOption configures [Dial].
type DialOption func(*dialOptions)

type dialOptions struct {
	audio  bool
	header http.Header
}

// WithAudio delivers the audio the server modulates on [Client.Audio].
// Without it binary messages are discarded.
func WithAudio() DialOption {
	return func(o *dialOptions) { o.audio = true }
}

// WithHeader adds HTTP headers to the handshake.
func WithHeader(h http.Header) DialOption {
	return func(o *dialOptions) { o.header = h }
}

// Dial opens a link and waits for the server's hello. Profile overrides go
// into the URL query (see [Query]).
func Dial(ctx context.Context, url string, opts ...DialOption) (*Client, error) {
	var o dialOptions
	for _, opt := range opts {
		opt(&o)
	}

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: o.header})
	if err != nil {
		de := &DialError{Err: err}
		if resp != nil {
			de.StatusCode = resp.StatusCode
		}
		return nil, de
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "no hello")
		return nil, fmt.Errorf("link: read hello: %w", err)
	}
	var hello Event
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != EventHello || hello.Profile == nil {
		conn.Close(websocket.StatusProtocolError, "bad hello")
		return nil, fmt.Errorf("link: unexpected first message %q", data)
	}
	cfg, err := hello.Profile.Config()
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "bad profile")
		return nil, fmt.Errorf("link: server profile: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		profile: *hello.Profile,
		cfg:     cfg,
		events:  make(chan Event, 64),
		ctx:     cctx,
		cancel:  cancel,
	}
	if o.audio {
		c.audio = make(chan []byte, 64)
	}
	go c.readLoop()
	return c, nil
}

// Profile returns the profile announced by the server.
func (c *Client) Profile() Profile { return c.profile }

// Config returns the modem configuration of the link.
func (c *Client) Config() fsk.Config { return c.cfg }

// Events delivers decoded, framing_error and error events. It is closed when
// the link ends.
func (c *Client) Events() <-chan Event { return c.events }

// Audio delivers modulated PCM when dialled [WithAudio]; otherwise it is nil.
// It is closed when the link ends.
func (c *Client) Audio() <-chan []byte { return c.audio }

// SendPCM sends audio for the server to decode.
func (c *Client) SendPCM(ctx context.Context, pcm []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return fmt.Errorf("link: send audio: %w", err)
	}
	return nil
}

// Send asks the server to modulate data.
func (c *Client) Send(ctx context.Context, data []byte) error {
	msg, err := json.Marshal(Event{Type: EventSend, Data: data})
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("link: send data: %w", err)
	}
	return nil
}

// Err returns the error that ended the link, or nil after a clean close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the link.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		err = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
	})
	return err
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		if c.audio != nil {
			close(c.audio)
		}
	}()

	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			switch {
			case c.ctx.Err() != nil, c.closing.Load():
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
			case errors.Is(err, context.Canceled):
			default:
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}

		if typ == websocket.MessageBinary {
			if c.audio == nil {
				continue
			}
			select {
			case c.audio <- data:
			case <-c.ctx.Done():
				return
			}
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}
