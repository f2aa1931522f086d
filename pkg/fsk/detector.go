package fsk

import "math"

// Tone is the classification of one detector window.
type Tone int

const (
	// ToneNone means neither tone won by the configured margin, or the
	// window was below the squelch level.
	ToneNone Tone = iota
	// ToneSpace is bit value 0, also the start bit.
	ToneSpace
	// ToneMark is bit value 1, also the stop bit and idle line.
	ToneMark
)

func (t Tone) String() string {
	switch t {
	case ToneSpace:
		return "space"
	case ToneMark:
		return "mark"
	default:
		return "none"
	}
}

// Bit returns the data bit value of a decisive tone.
func (t Tone) Bit() (bit byte, ok bool) {
	switch t {
	case ToneMark:
		return 1, true
	case ToneSpace:
		return 0, true
	}
	return 0, false
}

// Squelch is the tone amplitude, as a fraction of full scale, below which a
// window is treated as silence.
const Squelch = 0.01

// Detection is the result of scoring one window.
type Detection struct {
	Tone Tone
	// Mark and Space are the estimated tone amplitudes as fractions of full
	// scale.
	Mark  float64
	Space float64
	// Margin is |Mark-Space| / max(Mark, Space), in [0, 1].
	Margin float64
}

// ToneDetector scores a window of mono samples at the mark and space
// frequencies of a [Config] with a pair of Goertzel resonators. It is
// stateless per call and safe for concurrent use.
type ToneDetector struct {
	threshold  float64 // fraction, not percent
	markCoeff  float64
	spaceCoeff float64
	window     int
}

// NewToneDetector returns a detector for cfg.
func NewToneDetector(cfg Config) *ToneDetector {
	rate := float64(cfg.SampleRate())
	return &ToneDetector{
		threshold:  cfg.Threshold() / 100,
		markCoeff:  2 * math.Cos(2*math.Pi*cfg.MarkFrequency()/rate),
		spaceCoeff: 2 * math.Cos(2*math.Pi*cfg.SpaceFrequency()/rate),
		window:     cfg.SymbolLength(),
	}
}

// Detect scores window and classifies it. A window shorter than one symbol
// is scored over the samples present, so a partial window at the edge of the
// buffered signal still yields a usable estimate.
func (d *ToneDetector) Detect(window []float64) Detection {
	if len(window) == 0 {
		return Detection{}
	}
	mark, space := d.scores(window, len(window))
	return d.Classify(mark, space)
}

// Classify applies the decision rule to a pair of tone amplitudes. The
// stronger tone wins when the margin is strictly greater than the threshold;
// a margin exactly at the threshold is ambiguous.
func (d *ToneDetector) Classify(mark, space float64) Detection {
	det := Detection{Mark: mark, Space: space}
	peak := max(mark, space)
	if peak < Squelch {
		return det
	}
	det.Margin = math.Abs(mark-space) / peak
	if det.Margin <= d.threshold {
		return det
	}
	if mark > space {
		det.Tone = ToneMark
	} else {
		det.Tone = ToneSpace
	}
	return det
}

// scores returns the mark and space amplitudes of window normalized as if it
// held n samples. Passing n greater than len(window) treats the missing
// samples as silence.
func (d *ToneDetector) scores(window []float64, n int) (mark, space float64) {
	norm := 2 / float64(n)
	return goertzel(window, d.markCoeff) * norm, goertzel(window, d.spaceCoeff) * norm
}

// bias returns space minus mark amplitude over one full symbol starting at
// window, which may be truncated.
func (d *ToneDetector) bias(window []float64) float64 {
	mark, space := d.scores(window, d.window)
	return space - mark
}

// goertzel returns the DFT magnitude of x at the frequency encoded by
// coeff = 2cos(ω).
func goertzel(x []float64, coeff float64) float64 {
	var s1, s2 float64
	for _, v := range x {
		s0 := v + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	p := s1*s1 + s2*s2 - coeff*s1*s2
	if p < 0 {
		return 0
	}
	return math.Sqrt(p)
}
