package fsk_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// collectBytes returns a decoded-bytes callback and a getter for everything
// received so far.
func collectBytes() (func([]byte), func() []byte) {
	var mu sync.Mutex
	var out []byte
	onDecoded := func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		out = append(out, b...)
	}
	get := func() []byte {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Clone(out)
	}
	return onDecoded, get
}

// appendAll feeds pcm to dec, retrying rejected frames until all are
// accepted.
func appendAll(t *testing.T, dec *fsk.Decoder, pcm []byte) {
	t.Helper()
	fb := dec.Config().FrameBytes()
	deadline := time.Now().Add(10 * time.Second)
	for len(pcm) > 0 {
		_, err := dec.AppendSignal(pcm)
		if err == nil {
			return
		}
		var bp *fsk.BackpressureError
		if !errors.As(err, &bp) {
			t.Fatalf("AppendSignal: %v", err)
		}
		pcm = pcm[bp.Accepted*fb:]
		if time.Now().After(deadline) {
			t.Fatal("decoder never freed buffer space")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDecoder_StreamingRoundTrip(t *testing.T) {
	t.Parallel()

	for _, cfg := range []fsk.Config{
		fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode1, 20),
		fsk.MustConfig(29400, fsk.PCM8, fsk.Stereo, fsk.Mode2, 20),
		fsk.MustConfig(48000, fsk.PCM16, fsk.Stereo, fsk.Mode3, 20),
		fsk.MustConfig(22050, fsk.PCM8, fsk.Mono, fsk.Mode4, 20),
	} {
		t.Run(cfg.String(), func(t *testing.T) {
			t.Parallel()

			onDecoded, got := collectBytes()
			dec := fsk.NewDecoder(cfg, onDecoded)
			defer dec.Stop()

			enc := fsk.NewEncoder(cfg, func(b fsk.Block) { appendAll(t, dec, b.Data) }, fsk.WithBlockFrames(333))
			defer enc.Stop()

			msg := randomBytes(uint64(cfg.Mode()), 24)
			for off := 0; off < len(msg); off += 5 {
				if _, err := enc.AppendData(msg[off:min(off+5, len(msg))]); err != nil {
					t.Fatalf("AppendData: %v", err)
				}
			}
			drain(t, enc)
			drain(t, dec)

			if !bytes.Equal(got(), msg) {
				t.Fatalf("decoded %x, want %x", got(), msg)
			}
			st := dec.Stats()
			if st.BytesDecoded != int64(len(msg)) || st.FramingErrors != 0 {
				t.Errorf("Stats = %+v", st)
			}
		})
	}
}

func TestDecoder_EmptyInputDecodesNothing(t *testing.T) {
	t.Parallel()

	cfg := fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode4, 20)
	onDecoded, got := collectBytes()
	dec := fsk.NewDecoder(cfg, onDecoded)
	defer dec.Stop()

	if _, err := dec.AppendSignal(nil); err != nil {
		t.Fatalf("AppendSignal(nil): %v", err)
	}
	if _, err := dec.AppendSignal(make([]byte, 8820)); err != nil {
		t.Fatalf("AppendSignal(silence): %v", err)
	}
	drain(t, dec)
	if b := got(); len(b) != 0 {
		t.Fatalf("decoded %x from silence", b)
	}
}

func TestDecoder_BatchesPreserveOrder(t *testing.T) {
	t.Parallel()

	cfg := fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode1, 20)
	var (
		mu      sync.Mutex
		batches [][]byte
	)
	dec := fsk.NewDecoder(cfg, func(b []byte) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	}, fsk.WithBatchBytes(4))
	defer dec.Stop()

	msg := []byte("0123456789abcdef")
	appendAll(t, dec, fsk.Modulate(cfg, msg))
	drain(t, dec)

	mu.Lock()
	defer mu.Unlock()
	var all []byte
	for _, b := range batches {
		if len(b) > 4 {
			t.Errorf("batch of %d bytes exceeds limit 4", len(b))
		}
		all = append(all, b...)
	}
	if !bytes.Equal(all, msg) {
		t.Fatalf("decoded %q, want %q", all, msg)
	}
}

func TestDecoder_Backpressure(t *testing.T) {
	t.Parallel()

	cfg := fsk.MustConfig(22050, fsk.PCM16, fsk.Mono, fsk.Mode4, 20)
	release := make(chan struct{})
	var once sync.Once
	dec := fsk.NewDecoder(cfg, func([]byte) {
		once.Do(func() { <-release })
	}, fsk.WithBatchBytes(1))
	defer dec.Stop()
	defer close(release)

	// One byte to park the goroutine in the callback.
	appendAll(t, dec, fsk.Modulate(cfg, []byte{0x42}))
	time.Sleep(50 * time.Millisecond)

	over := make([]byte, (cfg.BufferFrames()+100)*cfg.FrameBytes())
	remaining, err := dec.AppendSignal(over)
	if !errors.Is(err, fsk.ErrBackpressure) {
		t.Fatalf("AppendSignal error = %v, want ErrBackpressure", err)
	}
	var bp *fsk.BackpressureError
	if !errors.As(err, &bp) {
		t.Fatalf("error %T is not *BackpressureError", err)
	}
	if bp.Accepted >= cfg.BufferFrames()+100 || bp.Rejected < 100 {
		t.Errorf("BackpressureError = %+v", bp)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0 on a full buffer", remaining)
	}

	// A full buffer keeps rejecting without blocking.
	if _, err := dec.AppendSignal(make([]byte, 4)); !errors.Is(err, fsk.ErrBackpressure) {
		t.Errorf("second AppendSignal error = %v, want ErrBackpressure", err)
	}
	if st := dec.Stats(); st.FramesRejected < int64(bp.Rejected) {
		t.Errorf("FramesRejected = %d, want >= %d", st.FramesRejected, bp.Rejected)
	}
}

func TestDecoder_PartialFrameRejected(t *testing.T) {
	t.Parallel()

	cfg := fsk.MustConfig(44100, fsk.PCM16, fsk.Stereo, fsk.Mode4, 20)
	dec := fsk.NewDecoder(cfg, func([]byte) {})
	defer dec.Stop()

	remaining, err := dec.AppendSignal(make([]byte, 7))
	if !errors.Is(err, fsk.ErrPartialFrame) {
		t.Fatalf("error = %v, want ErrPartialFrame", err)
	}
	if remaining != cfg.BufferFrames() {
		t.Errorf("remaining = %d, want untouched buffer %d", remaining, cfg.BufferFrames())
	}
}

func TestDecoder_AppendSamples(t *testing.T) {
	t.Parallel()

	cfg := fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode2, 20)
	onDecoded, got := collectBytes()
	dec := fsk.NewDecoder(cfg, onDecoded)
	defer dec.Stop()

	samples := fsk.BytesToInt16s(fsk.Modulate(cfg, []byte("int16")))
	remaining, err := dec.AppendSamples(samples)
	if err != nil {
		t.Fatalf("AppendSamples: %v", err)
	}
	if remaining > cfg.BufferFrames()-len(samples) {
		t.Errorf("remaining = %d, want <= %d", remaining, cfg.BufferFrames()-len(samples))
	}
	drain(t, dec)
	if string(got()) != "int16" {
		t.Fatalf("decoded %q, want %q", got(), "int16")
	}

	pcm8 := fsk.NewDecoder(fsk.MustConfig(44100, fsk.PCM8, fsk.Mono, fsk.Mode2, 20), func([]byte) {})
	defer pcm8.Stop()
	if _, err := pcm8.AppendSamples(samples); !errors.Is(err, fsk.ErrConfig) {
		t.Errorf("AppendSamples on PCM8 decoder error = %v, want ErrConfig", err)
	}
}

func TestDecoder_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode4, 20)
	dec := fsk.NewDecoder(cfg, func([]byte) {})
	if _, err := dec.AppendSignal(make([]byte, 1000)); err != nil {
		t.Fatalf("AppendSignal: %v", err)
	}
	dec.Stop()
	dec.Stop()

	select {
	case <-dec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("decoder goroutine did not exit")
	}
	if _, err := dec.AppendSignal(make([]byte, 2)); !errors.Is(err, fsk.ErrStopped) {
		t.Errorf("AppendSignal after Stop error = %v, want ErrStopped", err)
	}
}

func TestDecoder_StoppedWinsOverPartialFrame(t *testing.T) {
	t.Parallel()

	cfg := fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode4, 20)
	dec := fsk.NewDecoder(cfg, func([]byte) {})
	dec.Stop()

	if _, err := dec.AppendSignal(make([]byte, 3)); !errors.Is(err, fsk.ErrStopped) {
		t.Errorf("AppendSignal(odd length) after Stop error = %v, want ErrStopped", err)
	}
	if _, err := dec.AppendSamples([]int16{1, 2, 3}); !errors.Is(err, fsk.ErrStopped) {
		t.Errorf("AppendSamples after Stop error = %v, want ErrStopped", err)
	}
	if err := dec.Flush(context.Background()); !errors.Is(err, fsk.ErrStopped) {
		t.Errorf("Flush after Stop error = %v, want ErrStopped", err)
	}
}

func TestDecoder_FlushDecodesShortFinalFrame(t *testing.T) {
	t.Parallel()

	for _, cfg := range []fsk.Config{
		fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode3, 20),
		fsk.MustConfig(48000, fsk.PCM8, fsk.Stereo, fsk.Mode4, 20),
	} {
		t.Run(cfg.String(), func(t *testing.T) {
			t.Parallel()

			onDecoded, got := collectBytes()
			dec := fsk.NewDecoder(cfg, onDecoded)
			defer dec.Stop()

			msg := []byte("last byte counts")
			pcm := fsk.Modulate(cfg, msg)
			appendAll(t, dec, pcm[:len(pcm)-2*cfg.FrameBytes()])
			drain(t, dec)
			if want := msg[:len(msg)-1]; !bytes.Equal(got(), want) {
				t.Fatalf("after Drain decoded %q, want %q pending the last frame", got(), want)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := dec.Flush(ctx); err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if !bytes.Equal(got(), msg) {
				t.Fatalf("after Flush decoded %q, want %q", got(), msg)
			}

			// Input may continue after a flush.
			appendAll(t, dec, fsk.Modulate(cfg, []byte("!")))
			if err := dec.Flush(ctx); err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if want := string(msg) + "!"; string(got()) != want {
				t.Fatalf("decoded %q, want %q", got(), want)
			}
			if st := dec.Stats(); st.FramingErrors != 0 {
				t.Errorf("Stats = %+v", st)
			}
		})
	}
}

func TestDecoder_FramingErrorHandler(t *testing.T) {
	t.Parallel()

	cfg := fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode3, 20)
	var (
		mu   sync.Mutex
		errs []fsk.FramingError
	)
	onData, got := collectBytes()
	dec := fsk.NewDecoder(cfg, onData, fsk.WithFramingErrorHandler(func(fe fsk.FramingError) {
		mu.Lock()
		errs = append(errs, fe)
		mu.Unlock()
	}))
	defer dec.Stop()

	pcm := fsk.Modulate(cfg, []byte("ABCD"))
	corruptStopBit(cfg, pcm, 1)
	appendAll(t, dec, pcm)
	drain(t, dec)

	if string(got()) != "ACD" {
		t.Fatalf("decoded %q, want %q", got(), "ACD")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("framing errors = %v, want 1", errs)
	}
	fe := errs[0]
	if fe.Reason != fsk.FramingStopBit || fe.Bit != 1+fsk.DataBits {
		t.Errorf("FramingError = %+v", fe)
	}
	if want := int64(cfg.FrameSamples()); fe.Offset < want-2 || fe.Offset > want+2 {
		t.Errorf("Offset = %d, want ~%d", fe.Offset, want)
	}
	if st := dec.Stats(); st.StopBitFailures != 1 || st.FramingErrors != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

// countingObserver records engine events.
type countingObserver struct {
	mu       sync.Mutex
	encoded  int
	decoded  int
	framing  int
	rejected map[string]int
}

func (o *countingObserver) BytesEncoded(n int) { o.mu.Lock(); o.encoded += n; o.mu.Unlock() }
func (o *countingObserver) BytesDecoded(n int) { o.mu.Lock(); o.decoded += n; o.mu.Unlock() }
func (o *countingObserver) FramingError(fsk.FramingError) {
	o.mu.Lock()
	o.framing++
	o.mu.Unlock()
}
func (o *countingObserver) Backpressure(component string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rejected == nil {
		o.rejected = map[string]int{}
	}
	o.rejected[component] += n
}

func TestObserver_ReceivesEngineEvents(t *testing.T) {
	t.Parallel()

	cfg := fsk.MustConfig(44100, fsk.PCM16, fsk.Mono, fsk.Mode1, 20)
	obs := &countingObserver{}

	dec := fsk.NewDecoder(cfg, func([]byte) {}, fsk.WithObserver(obs))
	defer dec.Stop()
	enc := fsk.NewEncoder(cfg, func(b fsk.Block) { appendAll(t, dec, b.Data) }, fsk.WithObserver(obs))
	defer enc.Stop()

	if _, err := enc.AppendData([]byte("observed")); err != nil {
		t.Fatalf("AppendData: %v", err)
	}
	drain(t, enc)
	drain(t, dec)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.encoded != 8 || obs.decoded != 8 || obs.framing != 0 {
		t.Errorf("observer = encoded %d decoded %d framing %d", obs.encoded, obs.decoded, obs.framing)
	}
}
