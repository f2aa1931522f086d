// Package fsk implements a software acoustic modem that carries a byte stream
// over an audio channel using binary frequency-shift keying.
//
// A [Config] fixes the physical parameters of the channel. An [Encoder] frames
// queued bytes as asynchronous serial characters (one start bit, eight data
// bits least-significant first, one or two stop bits) and renders each bit as a
// phase-continuous tone through a [Synthesizer]. A [Decoder] consumes PCM
// chunks into a bounded buffer, locates start bits with a [ToneDetector],
// re-synchronises its bit clock on every frame and delivers recovered bytes.
//
// Both engines run one processing goroutine each. Producers push data with
// non-blocking append calls that report back-pressure instead of blocking;
// results are delivered through callbacks invoked sequentially on the
// processing goroutine.
//
// [Modulate] and [Demodulate] run the same framing and detection logic
// synchronously over whole buffers.
package fsk
