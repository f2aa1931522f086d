package fsk

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is matched by every [*ConfigError].
	ErrConfig = errors.New("fsk: invalid config")

	// ErrBackpressure is matched by every [*BackpressureError].
	ErrBackpressure = errors.New("fsk: buffer full")

	// ErrStopped is returned by append calls made after Stop.
	ErrStopped = errors.New("fsk: stopped")

	// ErrPartialFrame is returned when a PCM buffer does not hold a whole
	// number of sample frames for the configured format and channel count.
	ErrPartialFrame = errors.New("fsk: partial sample frame")
)

// ConfigError reports why a [Config] could not be constructed.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fsk: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Is reports whether target is [ErrConfig].
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// BackpressureError reports a partially accepted append. Accepted items were
// queued; Rejected items were not and must be retried by the caller.
//
// Items are bytes for an [Encoder] and sample frames for a [Decoder].
type BackpressureError struct {
	Accepted int
	Rejected int
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("fsk: buffer full: accepted %d, rejected %d", e.Accepted, e.Rejected)
}

// Is reports whether target is [ErrBackpressure].
func (e *BackpressureError) Is(target error) bool { return target == ErrBackpressure }

// FramingReason classifies a [FramingError].
type FramingReason string

const (
	// FramingAmbiguousBit means a data bit could not be classified as mark or
	// space with the configured threshold.
	FramingAmbiguousBit FramingReason = "ambiguous data bit"

	// FramingStopBit means the stop bit did not carry the mark tone.
	FramingStopBit FramingReason = "stop bit mismatch"
)

// FramingError describes a frame the decoder dropped. It is a soft error: it
// is reported through counters, the Observer and the framing error handler,
// and the decoder resumes searching for the next start bit.
type FramingError struct {
	Reason FramingReason
	// Offset is the sample frame index of the start bit boundary, counted
	// from the first sample appended to the decoder.
	Offset int64
	// Bit is the index within the frame where the error was detected:
	// 1..8 for data bits, 9 for the stop bit.
	Bit int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("fsk: framing error at sample %d bit %d: %s", e.Offset, e.Bit, e.Reason)
}
