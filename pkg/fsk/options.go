package fsk

import "log/slog"

// Observer receives engine events, typically to feed metrics. Methods are
// called on the engine's processing goroutine, except Backpressure which is
// called on the producer's goroutine, and must not block.
type Observer interface {
	BytesEncoded(n int)
	BytesDecoded(n int)
	FramingError(fe FramingError)
	Backpressure(component string, rejected int)
}

// Component names passed to [Observer.Backpressure].
const (
	ComponentEncoder = "encoder"
	ComponentDecoder = "decoder"
)

type nopObserver struct{}

func (nopObserver) BytesEncoded(int)          {}
func (nopObserver) BytesDecoded(int)          {}
func (nopObserver) FramingError(FramingError) {}
func (nopObserver) Backpressure(string, int)  {}

const (
	// DefaultBlockFrames is the encoder output block size in sample frames.
	DefaultBlockFrames = 1024

	// defaultBatchBytes flushes decoded bytes early once a batch grows this
	// large within one processing pass.
	defaultBatchBytes = 64
)

type options struct {
	logger       *slog.Logger
	observer     Observer
	blockFrames  int
	batchBytes   int
	onFraming    func(FramingError)
	queueBytes   int
	bufferFrames int
}

func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		observer:    nopObserver{},
		blockFrames: DefaultBlockFrames,
		batchBytes:  defaultBatchBytes,
	}
}

// Option configures an [Encoder] or a [Decoder]. Options that do not apply to
// an engine are ignored by it.
type Option func(*options)

// WithLogger sets the logger for lifecycle and diagnostic messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an [Observer] for counters.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithBlockFrames sets the encoder output block size in sample frames.
func WithBlockFrames(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockFrames = n
		}
	}
}

// WithBatchBytes sets how many decoded bytes are delivered at most per
// callback. One delivers every byte as soon as its frame validates.
func WithBatchBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchBytes = n
		}
	}
}

// WithFramingErrorHandler registers a diagnostic callback for dropped frames.
// It runs on the decoder goroutine and must not block.
func WithFramingErrorHandler(fn func(FramingError)) Option {
	return func(o *options) {
		o.onFraming = fn
	}
}

// WithQueueCapacity overrides the encoder queue bound in bytes
// (default [Config.QueueCapacity]).
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueBytes = n
		}
	}
}

// WithBufferFrames overrides the decoder ring buffer capacity in sample
// frames (default [Config.BufferFrames]).
func WithBufferFrames(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferFrames = n
		}
	}
}
