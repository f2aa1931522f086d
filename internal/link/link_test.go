package link_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/fskmodem/internal/link"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

var testConfig = fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode3, fsk.DefaultThreshold)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server, q url.Values) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func startServer(t *testing.T, opts ...link.ServerOption) (*link.Server, *httptest.Server) {
	t.Helper()
	s := link.NewServer(testConfig, opts...)
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		srv.Close()
	})
	return s, srv
}

func dial(t *testing.T, url string, opts ...link.DialOption) *link.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := link.Dial(ctx, url, opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// collectDecoded reads events until n decoded bytes arrived or the timeout
// passes.
func collectDecoded(t *testing.T, c *link.Client, n int) ([]byte, []link.Event) {
	t.Helper()
	var got []byte
	var others []link.Event
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("link ended after %q: %v", got, c.Err())
			}
			if ev.Type == link.EventDecoded {
				got = append(got, ev.Data...)
			} else {
				others = append(others, ev)
			}
		case <-timeout:
			t.Fatalf("timed out with %q decoded", got)
		}
	}
	return got, others
}

// corruptStopBit overwrites the stop bit of frame k with the space tone.
func corruptStopBit(cfg fsk.Config, pcm []byte, k int) {
	spb := cfg.SamplesPerBit()
	frame := k * cfg.FrameSamples()
	from := frame + int(math.Round(float64(fsk.DataBits+1)*spb))
	to := frame + int(math.Round(float64(fsk.DataBits+2)*spb))
	tone := make([]float64, to-from)
	fsk.SynthesizeTone(tone, cfg.SpaceFrequency(), cfg.SampleRate(), 0)
	fb := cfg.FrameBytes()
	fsk.PutSamples(pcm[from*fb:to*fb], tone, cfg.SampleFormat(), cfg.Channels())
}

func TestLink_HelloCarriesProfile(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)
	c := dial(t, wsURL(srv, nil))

	p := c.Profile()
	if p.SampleRate != 44100 || p.Format != "pcm16" || p.Channels != 1 || p.Mode != 3 {
		t.Errorf("profile = %+v", p)
	}
	if p.FrameSamples != testConfig.FrameSamples() || p.MarkFrequency != testConfig.MarkFrequency() {
		t.Errorf("derived profile fields = %+v", p)
	}
	if c.Config() != testConfig {
		t.Errorf("Config() = %s, want %s", c.Config(), testConfig)
	}
}

func TestLink_DecodesClientAudio(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)
	c := dial(t, wsURL(srv, nil))

	payload := []byte("hello over the wire")
	pcm := fsk.Modulate(testConfig, payload)
	ctx := context.Background()
	// Uneven chunks, each a whole number of frames.
	for len(pcm) > 0 {
		n := min(len(pcm), 2*777)
		if err := c.SendPCM(ctx, pcm[:n]); err != nil {
			t.Fatalf("SendPCM: %v", err)
		}
		pcm = pcm[n:]
	}

	got, _ := collectDecoded(t, c, len(payload))
	if !bytes.Equal(got, payload) {
		t.Errorf("decoded %q, want %q", got, payload)
	}
}

func TestLink_ModulatesSendEvents(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)
	c := dial(t, wsURL(srv, nil), link.WithAudio())

	payload := []byte{0x00, 0xff, 'o', 'k'}
	if err := c.Send(context.Background(), payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := len(payload) * testConfig.FrameSamples() * testConfig.FrameBytes()
	var pcm []byte
	timeout := time.After(5 * time.Second)
	for len(pcm) < want {
		select {
		case b, ok := <-c.Audio():
			if !ok {
				t.Fatalf("link ended: %v", c.Err())
			}
			pcm = append(pcm, b...)
		case <-timeout:
			t.Fatalf("timed out with %d of %d bytes", len(pcm), want)
		}
	}
	got, _, err := fsk.Demodulate(testConfig, pcm)
	if err != nil {
		t.Fatalf("Demodulate: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("server audio decodes to %q, want %q", got, payload)
	}
}

func TestLink_FramingErrorEvent(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)
	c := dial(t, wsURL(srv, nil))

	pcm := fsk.Modulate(testConfig, []byte("ABCD"))
	corruptStopBit(testConfig, pcm, 1)
	if err := c.SendPCM(context.Background(), pcm); err != nil {
		t.Fatalf("SendPCM: %v", err)
	}

	got, others := collectDecoded(t, c, 3)
	if string(got) != "ACD" {
		t.Errorf("decoded %q, want %q", got, "ACD")
	}
	found := false
	for _, ev := range others {
		if ev.Type == link.EventFramingError && ev.Reason == string(fsk.FramingStopBit) {
			found = true
		}
	}
	if !found {
		t.Errorf("no stop bit framing_error event among %+v", others)
	}
}

func TestLink_QueryOverridesProfile(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)
	cfg := fsk.MustConfig(48000, fsk.PCM8, fsk.Stereo, fsk.Mode2, 35)
	c := dial(t, wsURL(srv, link.Query(cfg)))

	if c.Config() != cfg {
		t.Fatalf("Config() = %s, want %s", c.Config(), cfg)
	}

	payload := []byte("stereo 8 bit")
	if err := c.SendPCM(context.Background(), fsk.Modulate(cfg, payload)); err != nil {
		t.Fatalf("SendPCM: %v", err)
	}
	if got, _ := collectDecoded(t, c, len(payload)); !bytes.Equal(got, payload) {
		t.Errorf("decoded %q, want %q", got, payload)
	}
}

func TestLink_InvalidQueryRejected(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)
	for _, q := range []string{"mode=9", "rate=8000", "format=float", "channels=x", "threshold=abc"} {
		v, _ := url.ParseQuery(q)
		_, err := link.Dial(context.Background(), wsURL(srv, v))
		var de *link.DialError
		if !errors.As(err, &de) || de.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: err = %v, want HTTP 400", q, err)
		}
	}
}

func TestLink_MaxLinks(t *testing.T) {
	t.Parallel()
	s, srv := startServer(t, link.WithMaxLinks(1))
	first := dial(t, wsURL(srv, nil))

	if err := s.CheckCapacity(context.Background()); !errors.Is(err, link.ErrFull) {
		t.Errorf("CheckCapacity with one of one links = %v, want ErrFull", err)
	}
	_, err := link.Dial(context.Background(), wsURL(srv, nil))
	var de *link.DialError
	if !errors.As(err, &de) || de.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second dial err = %v, want HTTP 503", err)
	}

	if err := first.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Active() = %d after close", s.Active())
		}
		time.Sleep(10 * time.Millisecond)
	}
	dial(t, wsURL(srv, nil))
}

func TestLink_MalformedMessages(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, nil), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if _, _, err := conn.Read(ctx); err != nil { // hello
		t.Fatalf("read hello: %v", err)
	}
	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"dance"}`))
	_ = conn.Write(ctx, websocket.MessageText, []byte(`not json`))
	_ = conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3}) // odd PCM16 length

	for i := range 3 {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !strings.Contains(string(data), `"type":"error"`) {
			t.Errorf("message %d = %s, want an error event", i, data)
		}
	}
}

func TestServer_SetConfigAffectsNewLinks(t *testing.T) {
	t.Parallel()
	s, srv := startServer(t)
	old := dial(t, wsURL(srv, nil))

	next := fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode1, fsk.DefaultThreshold)
	s.SetConfig(next)
	fresh := dial(t, wsURL(srv, nil))

	if old.Config() != testConfig {
		t.Errorf("existing link config = %s, want %s", old.Config(), testConfig)
	}
	if fresh.Config() != next {
		t.Errorf("new link config = %s, want %s", fresh.Config(), next)
	}
}

func TestServer_ShutdownClosesLinks(t *testing.T) {
	t.Parallel()
	s, srv := startServer(t)
	c := dial(t, wsURL(srv, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case _, ok := <-c.Events():
		for ok {
			_, ok = <-c.Events()
		}
	case <-ctx.Done():
		t.Fatal("client events not closed after shutdown")
	}

	_, err := link.Dial(context.Background(), wsURL(srv, nil))
	var de *link.DialError
	if !errors.As(err, &de) || de.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dial after shutdown err = %v, want HTTP 503", err)
	}
}

func TestParseQuery_Empty(t *testing.T) {
	t.Parallel()
	cfg, err := link.ParseQuery(testConfig, url.Values{})
	if err != nil || cfg != testConfig {
		t.Errorf("ParseQuery(empty) = %s, %v", cfg, err)
	}
}
