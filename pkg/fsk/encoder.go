package fsk

import (
	"context"
	"sync"
	"sync/atomic"
)

// Block is one chunk of encoder output in the configured PCM format.
type Block struct {
	Format   SampleFormat
	Channels Channels
	Data     []byte
}

// Frames returns the number of sample frames in the block.
func (b Block) Frames() int {
	return len(b.Data) / (b.Format.BytesPerSample() * int(b.Channels))
}

// Int16s returns the block's samples for PCM16 blocks and nil otherwise.
func (b Block) Int16s() []int16 {
	if b.Format != PCM16 {
		return nil
	}
	return BytesToInt16s(b.Data)
}

// EncoderStats is a snapshot of encoder counters.
type EncoderStats struct {
	BytesQueued   int64
	BytesSent     int64
	BytesRejected int64
	Blocks        int64
	Queued        int
}

// Encoder turns queued bytes into FSK audio on a background goroutine and
// delivers it as [Block]s.
//
// Blocks hold a fixed number of sample frames (see [WithBlockFrames]), except
// the last block of each busy period which is flushed short as soon as the
// queue empties. While the queue is empty the encoder emits nothing; the
// synthesizer phase carries over to the next burst.
//
// All exported methods are safe for concurrent use.
type Encoder struct {
	cfg     Config
	onBlock func(Block)
	opts    options

	// Owned by the encoding goroutine.
	framer  *framer
	pending []float64

	mu      sync.Mutex
	queue   *ring[byte]
	stopped bool
	idle    idleGate

	notify   chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	queued   atomic.Int64
	sent     atomic.Int64
	rejected atomic.Int64
	blocks   atomic.Int64
}

// NewEncoder starts an encoder for cfg. onBlock receives every output block
// sequentially on the encoder goroutine; it owns the block's Data and must
// not block for extended periods.
//
// Call [Encoder.Stop] to release the goroutine.
func NewEncoder(cfg Config, onBlock func(Block), opts ...Option) *Encoder {
	o := defaultOptions()
	o.queueBytes = cfg.QueueCapacity()
	for _, opt := range opts {
		opt(&o)
	}
	e := &Encoder{
		cfg:     cfg,
		onBlock: onBlock,
		opts:    o,
		framer:  newFramer(cfg),
		pending: make([]float64, 0, o.blockFrames),
		queue:   newRing[byte](o.queueBytes),
		idle:    newIdleGate(),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	o.logger.Debug("fsk encoder started", "config", cfg.String(), "queue_bytes", o.queueBytes)
	go e.run()
	return e
}

// Config returns the encoder's configuration.
func (e *Encoder) Config() Config { return e.cfg }

// AppendData queues data for transmission without blocking and returns the
// number of bytes accepted. When the queue cannot hold all of data, the
// accepted prefix is queued and the error is a [*BackpressureError]; the
// caller should retry the remainder later. After [Encoder.Stop] it returns
// [ErrStopped].
func (e *Encoder) AppendData(data []byte) (int, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return 0, ErrStopped
	}
	n := e.queue.Write(data)
	if n > 0 {
		e.idle.busy()
	}
	e.mu.Unlock()

	if n > 0 {
		e.queued.Add(int64(n))
		select {
		case e.notify <- struct{}{}:
		default:
		}
	}
	if n < len(data) {
		rej := len(data) - n
		e.rejected.Add(int64(rej))
		e.opts.observer.Backpressure(ComponentEncoder, rej)
		return n, &BackpressureError{Accepted: n, Rejected: rej}
	}
	return n, nil
}

// Free returns the number of bytes the queue can currently accept.
func (e *Encoder) Free() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Free()
}

// Stop ends transmission. A frame that is being synthesized is completed and
// delivered; bytes still queued are discarded. Stop does not wait for the
// goroutine to exit (see [Encoder.Done]) and is safe to call repeatedly and
// from the block callback.
func (e *Encoder) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		dropped := e.queue.Len()
		e.queue.Reset()
		e.mu.Unlock()
		close(e.stop)
		e.opts.logger.Debug("fsk encoder stopping", "discarded_bytes", dropped)
	})
}

// Done returns a channel closed once the encoder goroutine has exited.
func (e *Encoder) Done() <-chan struct{} { return e.done }

// Drain blocks until every queued byte has been synthesized and delivered,
// ctx is done, or the encoder stops. It returns [ErrStopped] in the last
// case.
func (e *Encoder) Drain(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle.ch
	e.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the encoder counters.
func (e *Encoder) Stats() EncoderStats {
	e.mu.Lock()
	q := e.queue.Len()
	e.mu.Unlock()
	return EncoderStats{
		BytesQueued:   e.queued.Load(),
		BytesSent:     e.sent.Load(),
		BytesRejected: e.rejected.Load(),
		Blocks:        e.blocks.Load(),
		Queued:        q,
	}
}

func (e *Encoder) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case <-e.notify:
		}

		sent := 0
		for {
			b, ok := e.next()
			if !ok {
				break
			}
			e.emit(e.framer.render(b))
			sent++
		}
		e.flush()
		if sent > 0 {
			e.sent.Add(int64(sent))
			e.opts.observer.BytesEncoded(sent)
		}
		e.markIdle()
	}
}

// next pops one byte from the queue.
func (e *Encoder) next() (byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return 0, false
	}
	var b [1]byte
	if e.queue.Read(b[:]) == 0 {
		return 0, false
	}
	return b[0], true
}

// emit appends samples to the pending block, delivering each block that
// fills up.
func (e *Encoder) emit(samples []float64) {
	for len(samples) > 0 {
		n := min(len(samples), e.opts.blockFrames-len(e.pending))
		e.pending = append(e.pending, samples[:n]...)
		samples = samples[n:]
		if len(e.pending) == e.opts.blockFrames {
			e.flush()
		}
	}
}

// flush delivers the pending samples as a block, if any.
func (e *Encoder) flush() {
	if len(e.pending) == 0 {
		return
	}
	data := AppendSamples(nil, e.pending, e.cfg.SampleFormat(), e.cfg.Channels())
	e.pending = e.pending[:0]
	e.blocks.Add(1)
	e.onBlock(Block{Format: e.cfg.SampleFormat(), Channels: e.cfg.Channels(), Data: data})
}

func (e *Encoder) markIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue.Len() == 0 {
		e.idle.idle()
	}
}
