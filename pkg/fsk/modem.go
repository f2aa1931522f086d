package fsk

import "fmt"

// Modulate renders data as FSK audio in cfg's PCM format in one call. The
// output is identical to the concatenated blocks an [Encoder] produces for
// the same bytes.
func Modulate(cfg Config, data []byte) []byte {
	f := newFramer(cfg)
	out := make([]byte, 0, len(data)*cfg.FrameSamples()*cfg.FrameBytes())
	for _, b := range data {
		out = AppendSamples(out, f.render(b), cfg.SampleFormat(), cfg.Channels())
	}
	return out
}

// Demodulate decodes a complete PCM buffer in cfg's format. A frame cut off
// by the end of pcm is discarded, unless only the final few samples of its
// last bit are missing. Framing errors are counted in the
// returned stats; the error is non-nil only when pcm holds a partial sample
// frame.
func Demodulate(cfg Config, pcm []byte) ([]byte, DecoderStats, error) {
	var stats DecoderStats
	if fb := cfg.FrameBytes(); len(pcm)%fb != 0 {
		return nil, stats, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrPartialFrame, len(pcm), fb)
	}
	samples := ReadSamples(nil, pcm, cfg.SampleFormat(), cfg.Channels())

	var out []byte
	d := newDemodulator(cfg,
		func(b byte) { out = append(out, b) },
		func(fe FramingError) {
			stats.FramingErrors++
			switch fe.Reason {
			case FramingAmbiguousBit:
				stats.AmbiguousBits++
			case FramingStopBit:
				stats.StopBitFailures++
			}
		},
	)
	d.feed(samples)
	d.finish()

	stats.BytesDecoded = int64(len(out))
	stats.FramesAppended = int64(len(samples))
	return out, stats, nil
}
