package fsk

import "math"

// Amplitude is the peak level of synthesized tones as a fraction of full
// scale. Stereo output duplicates the tone into both channels at this level.
const Amplitude = 0.7

// SynthesizeTone fills dst with a sine at freq Hz sampled at sampleRate,
// starting at phase (in cycles, [0, 1)). It returns the phase following the
// last sample, which continues the tone without a discontinuity when passed
// to the next call.
func SynthesizeTone(dst []float64, freq float64, sampleRate int, phase float64) float64 {
	inc := freq / float64(sampleRate)
	for i := range dst {
		dst[i] = Amplitude * math.Sin(2*math.Pi*phase)
		phase += inc
		if phase >= 1 {
			phase -= math.Floor(phase)
		}
	}
	return phase
}

// Synthesizer holds the phase accumulator of one continuous tone stream.
// Switching frequency between calls keeps the waveform continuous; only its
// slope changes. A Synthesizer is not safe for concurrent use.
type Synthesizer struct {
	sampleRate int
	phase      float64
}

// NewSynthesizer returns a Synthesizer starting at phase zero.
func NewSynthesizer(sampleRate int) *Synthesizer {
	return &Synthesizer{sampleRate: sampleRate}
}

// Tone fills dst with the next len(dst) samples of a tone at freq Hz.
func (s *Synthesizer) Tone(dst []float64, freq float64) {
	s.phase = SynthesizeTone(dst, freq, s.sampleRate, s.phase)
}

// Phase returns the accumulator in cycles.
func (s *Synthesizer) Phase() float64 { return s.phase }

// SetPhase sets the accumulator, wrapping it into [0, 1).
func (s *Synthesizer) SetPhase(p float64) { s.phase = p - math.Floor(p) }
