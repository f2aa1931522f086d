package fsk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// readChunk is the most sample frames the decoder goroutine takes from the
// ring buffer per lock acquisition.
const readChunk = 4096

// DecoderStats is a snapshot of decoder counters.
type DecoderStats struct {
	BytesDecoded    int64
	FramingErrors   int64
	FramesAppended  int64
	FramesRejected  int64
	BufferedFrames  int
	AmbiguousBits   int64
	StopBitFailures int64
}

// Decoder recovers bytes from FSK audio on a background goroutine.
//
// Appended PCM is averaged to one channel and buffered in a ring of
// [Config.BufferFrames] sample frames. The goroutine runs the bit
// synchronisation state machine over buffered samples and delivers decoded
// bytes in order. Bytes decoded during one processing pass are batched into
// a single callback, split every [WithBatchBytes] bytes (default 64).
//
// A data bit that cannot be classified drops the frame as a [FramingError]
// and the search for the next start bit resumes at the end of that frame. A
// stop bit that is not mark drops the frame the same way and the search
// resumes after the stop bit.
//
// The decoder cannot tell a pause from the end of a transmission. Call
// [Decoder.Flush] when the input ends so a final frame whose last bit is a
// few samples short is still decoded.
//
// All exported methods are safe for concurrent use.
type Decoder struct {
	cfg       Config
	onDecoded func([]byte)
	opts      options

	// Owned by the decoding goroutine.
	demod   *demodulator
	scratch []float64
	batch   []byte

	mu      sync.Mutex
	ring    *ring[float64]
	stopped  bool
	flushing bool
	idle     idleGate

	notify   chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	decoded   atomic.Int64
	appended  atomic.Int64
	rejected  atomic.Int64
	ambiguous atomic.Int64
	stopBits  atomic.Int64
}

// NewDecoder starts a decoder for cfg. onDecoded receives runs of decoded
// bytes sequentially on the decoder goroutine; it owns the slice and must
// not block for extended periods.
//
// Call [Decoder.Stop] to release the goroutine.
func NewDecoder(cfg Config, onDecoded func([]byte), opts ...Option) *Decoder {
	o := defaultOptions()
	o.bufferFrames = cfg.BufferFrames()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Decoder{
		cfg:       cfg,
		onDecoded: onDecoded,
		opts:      o,
		scratch:   make([]float64, readChunk),
		ring:      newRing[float64](o.bufferFrames),
		idle:      newIdleGate(),
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	d.demod = newDemodulator(cfg, d.collect, d.framingError)
	o.logger.Debug("fsk decoder started", "config", cfg.String(), "buffer_frames", o.bufferFrames)
	go d.run()
	return d
}

// Config returns the decoder's configuration.
func (d *Decoder) Config() Config { return d.cfg }

// AppendSignal copies interleaved PCM in the configured format into the
// ring buffer without blocking and returns the free capacity left, in sample
// frames.
//
// When the buffer cannot hold every frame, the frames that fit are kept and
// the error is a [*BackpressureError] counting frames. pcm must hold whole
// sample frames, otherwise nothing is appended and the error wraps
// [ErrPartialFrame]. After [Decoder.Stop] it returns [ErrStopped].
func (d *Decoder) AppendSignal(pcm []byte) (int, error) {
	if d.isStopped() {
		return 0, ErrStopped
	}
	if fb := d.cfg.FrameBytes(); len(pcm)%fb != 0 {
		return d.Free(), fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrPartialFrame, len(pcm), fb)
	}
	samples := ReadSamples(make([]float64, 0, len(pcm)/d.cfg.FrameBytes()), pcm, d.cfg.SampleFormat(), d.cfg.Channels())
	return d.appendSamples(samples)
}

// AppendSamples appends interleaved PCM16 samples. It is equivalent to
// [Decoder.AppendSignal] with the samples encoded little-endian and requires
// a PCM16 config.
func (d *Decoder) AppendSamples(samples []int16) (int, error) {
	if d.isStopped() {
		return 0, ErrStopped
	}
	if d.cfg.SampleFormat() != PCM16 {
		return d.Free(), &ConfigError{Field: "sample format", Value: d.cfg.SampleFormat(), Reason: "int16 samples need PCM16"}
	}
	return d.AppendSignal(Int16sToBytes(samples))
}

func (d *Decoder) appendSamples(samples []float64) (int, error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return 0, ErrStopped
	}
	n := d.ring.Write(samples)
	free := d.ring.Free()
	if n > 0 {
		d.idle.busy()
	}
	d.mu.Unlock()

	if n > 0 {
		d.appended.Add(int64(n))
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
	if n < len(samples) {
		rej := len(samples) - n
		d.rejected.Add(int64(rej))
		d.opts.observer.Backpressure(ComponentDecoder, rej)
		return free, &BackpressureError{Accepted: n, Rejected: rej}
	}
	return free, nil
}

func (d *Decoder) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// Free returns the ring buffer's free capacity in sample frames.
func (d *Decoder) Free() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ring.Free()
}

// Stop halts decoding. Buffered samples and any partially collected frame
// are discarded; bytes already decoded in the current pass are still
// delivered. Stop does not wait for the goroutine to exit (see
// [Decoder.Done]) and is safe to call repeatedly and from the callback.
func (d *Decoder) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.ring.Reset()
		d.mu.Unlock()
		close(d.stop)
		d.opts.logger.Debug("fsk decoder stopping")
	})
}

// Done returns a channel closed once the decoder goroutine has exited.
func (d *Decoder) Done() <-chan struct{} { return d.done }

// Drain blocks until every appended sample has been examined and the
// resulting bytes delivered, ctx is done, or the decoder stops. A frame
// whose tail has not arrived yet stays pending until more input or
// [Decoder.Flush]. It returns [ErrStopped] if
// the decoder stopped first.
func (d *Decoder) Drain(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle.ch
	d.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush marks the end of the input. It waits like [Decoder.Drain], and once
// every appended sample has been examined it decodes a final frame whose last
// bit is cut short by at most one eighth of a symbol. Appending after Flush
// starts a new stretch of input.
func (d *Decoder) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	d.flushing = true
	d.idle.busy()
	idle := d.idle.ch
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	select {
	case <-idle:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() DecoderStats {
	d.mu.Lock()
	buffered := d.ring.Len()
	d.mu.Unlock()
	amb, stop := d.ambiguous.Load(), d.stopBits.Load()
	return DecoderStats{
		BytesDecoded:    d.decoded.Load(),
		FramingErrors:   amb + stop,
		FramesAppended:  d.appended.Load(),
		FramesRejected:  d.rejected.Load(),
		BufferedFrames:  buffered,
		AmbiguousBits:   amb,
		StopBitFailures: stop,
	}
}

func (d *Decoder) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.notify:
		}

		for {
			select {
			case <-d.stop:
				d.deliver()
				return
			default:
			}
			n := d.take()
			if n == 0 {
				break
			}
			d.demod.feed(d.scratch[:n])
		}
		if d.endOfInput() {
			d.demod.finish()
		}
		d.deliver()
		d.markIdle()
	}
}

// take moves the next chunk of samples from the ring into scratch.
func (d *Decoder) take() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ring.Read(d.scratch)
}

// collect receives each validated byte from the demodulator.
func (d *Decoder) collect(b byte) {
	d.batch = append(d.batch, b)
	if len(d.batch) >= d.opts.batchBytes {
		d.deliver()
	}
}

func (d *Decoder) deliver() {
	if len(d.batch) == 0 {
		return
	}
	out := make([]byte, len(d.batch))
	copy(out, d.batch)
	d.batch = d.batch[:0]
	d.decoded.Add(int64(len(out)))
	d.opts.observer.BytesDecoded(len(out))
	d.onDecoded(out)
}

func (d *Decoder) framingError(fe FramingError) {
	switch fe.Reason {
	case FramingAmbiguousBit:
		d.ambiguous.Add(1)
	case FramingStopBit:
		d.stopBits.Add(1)
	}
	d.opts.logger.Debug("fsk framing error", "reason", string(fe.Reason), "offset", fe.Offset, "bit", fe.Bit)
	d.opts.observer.FramingError(fe)
	if d.opts.onFraming != nil {
		d.opts.onFraming(fe)
	}
}

// endOfInput reports, once per Flush, that the ring has run dry.
func (d *Decoder) endOfInput() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.flushing || d.ring.Len() > 0 {
		return false
	}
	d.flushing = false
	return true
}

func (d *Decoder) markIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ring.Len() == 0 && !d.flushing {
		d.idle.idle()
	}
}
