// Package feed pushes data into the modem engines at the pace they accept
// it.
//
// Both engines reject input instead of blocking when their buffers are full.
// The helpers here cut input into chunks, retry the rejected remainder after
// a pause and stop as soon as the context ends or the engine stops.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/fskmodem/pkg/fsk"
)

// DefaultInterval is the pause after a chunk was rejected.
const DefaultInterval = 100 * time.Millisecond

// DefaultChunkFrames is the number of sample frames appended per call.
const DefaultChunkFrames = 1024

// ByteSink accepts bytes to transmit. [*fsk.Encoder] implements it.
type ByteSink interface {
	AppendData(data []byte) (int, error)
}

// SignalSink accepts PCM to decode. [*fsk.Decoder] implements it.
type SignalSink interface {
	AppendSignal(pcm []byte) (int, error)
}

// Options controls chunking and pacing. Zero fields are filled by
// [Options.Defaults].
type Options struct {
	// ChunkBytes is the most payload bytes handed to a ByteSink per call.
	ChunkBytes int
	// ChunkFrames is the most sample frames handed to a SignalSink per call.
	ChunkFrames int
	// FrameBytes is the size of one sample frame.
	FrameBytes int
	// Interval is the pause after back-pressure.
	Interval time.Duration
	Logger   *slog.Logger
}

// Defaults returns o with zero fields derived from cfg.
func (o Options) Defaults(cfg fsk.Config) Options {
	if o.ChunkBytes <= 0 {
		o.ChunkBytes = cfg.ChunkSize()
	}
	if o.ChunkFrames <= 0 {
		o.ChunkFrames = DefaultChunkFrames
	}
	if o.FrameBytes <= 0 {
		o.FrameBytes = cfg.FrameBytes()
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Bytes appends all of data to sink. It returns nil once every byte was
// accepted, ctx.Err() when ctx ends first, and the sink's error for anything
// other than back-pressure.
func Bytes(ctx context.Context, sink ByteSink, data []byte, o Options) error {
	if o.ChunkBytes <= 0 {
		return fmt.Errorf("feed: chunk size %d must be positive", o.ChunkBytes)
	}
	return push(ctx, data, o.ChunkBytes, sink.AppendData, o, "bytes")
}

// Signal appends all of pcm to sink in chunks of whole sample frames. It
// returns like [Bytes]; a trailing partial frame is reported by the sink.
func Signal(ctx context.Context, sink SignalSink, pcm []byte, o Options) error {
	if o.ChunkFrames <= 0 || o.FrameBytes <= 0 {
		return fmt.Errorf("feed: chunk of %d frames of %d bytes is empty", o.ChunkFrames, o.FrameBytes)
	}
	// The decoder counts accepted frames, not bytes.
	appendFrames := func(p []byte) (int, error) {
		_, err := sink.AppendSignal(p)
		var bp *fsk.BackpressureError
		if errors.As(err, &bp) {
			return bp.Accepted * o.FrameBytes, err
		}
		if err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return push(ctx, pcm, o.ChunkFrames*o.FrameBytes, appendFrames, o, "signal")
}

func push(ctx context.Context, data []byte, chunk int, appendFn func([]byte) (int, error), o Options, kind string) error {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := o.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := appendFn(data[:min(chunk, len(data))])
		data = data[n:]
		switch {
		case err == nil:
			continue
		case errors.Is(err, fsk.ErrBackpressure):
			logger.Debug("feed: sink full, backing off", "kind", kind, "remaining", len(data), "interval", interval)
		default:
			return fmt.Errorf("feed: %s: %w", kind, err)
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
