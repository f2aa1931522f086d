package fsk

// framer renders bytes as asynchronous serial frames of tone samples:
// a start bit (space), eight data bits least-significant first, then the
// stop bits (mark). Bit k of a frame spans samples
// [round(k·spb), round((k+1)·spb)), so fractional bit lengths never
// accumulate drift within a frame.
type framer struct {
	cfg   Config
	synth *Synthesizer
	frame []float64
}

func newFramer(cfg Config) *framer {
	return &framer{
		cfg:   cfg,
		synth: NewSynthesizer(cfg.SampleRate()),
		frame: make([]float64, cfg.FrameSamples()),
	}
}

// render synthesizes one framed byte. The returned slice is reused by the
// next call.
func (f *framer) render(b byte) []float64 {
	bits := f.cfg.FrameBits()
	for k := range bits {
		from, to := f.cfg.bitOffset(k), f.cfg.bitOffset(k+1)
		f.synth.Tone(f.frame[from:to], f.frequency(b, k))
	}
	return f.frame
}

// frequency returns the tone for bit k of the frame carrying b.
func (f *framer) frequency(b byte, k int) float64 {
	switch {
	case k == 0:
		return f.cfg.SpaceFrequency()
	case k <= DataBits:
		if b>>(k-1)&1 == 1 {
			return f.cfg.MarkFrequency()
		}
		return f.cfg.SpaceFrequency()
	default:
		return f.cfg.MarkFrequency()
	}
}
