// Package spectrum estimates the power spectrum of a capture so it can be
// checked against the modem tone plan.
//
// [Analyze] averages Hann-windowed FFT frames with 50% overlap (Welch's
// method) using gonum's real FFT.
package spectrum

import (
	"errors"
	"math"
	"slices"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/fskmodem/pkg/fsk"
)

const (
	// DefaultFrameSize is the FFT length used when the capture is long enough.
	DefaultFrameSize = 4096

	minFrameSize = 256
	maxPeaks     = 8

	// shareBins is the half-width, in bins, of the band Share integrates.
	shareBins = 2
)

// ErrTooShort is returned for captures shorter than the smallest FFT frame.
var ErrTooShort = errors.New("spectrum: capture too short")

// Peak is a local maximum of the averaged spectrum.
type Peak struct {
	Frequency float64
	Power     float64
}

// Report is the averaged power spectrum of a capture.
type Report struct {
	SampleRate int
	FrameSize  int
	Frames     int
	// Resolution is the bin spacing in Hz.
	Resolution float64
	// Peaks holds the strongest local maxima, strongest first.
	Peaks []Peak

	power []float64
	total float64
}

// Analyze computes the spectrum of mono samples taken at sampleRate.
func Analyze(samples []float64, sampleRate int) (Report, error) {
	size := DefaultFrameSize
	for size > len(samples) && size > minFrameSize {
		size /= 2
	}
	if len(samples) < size || sampleRate <= 0 {
		return Report{}, ErrTooShort
	}

	fft := fourier.NewFFT(size)
	window := hann(size)
	frame := make([]float64, size)
	coeffs := make([]complex128, size/2+1)
	power := make([]float64, size/2+1)

	frames := 0
	for off := 0; off+size <= len(samples); off += size / 2 {
		for i := range frame {
			frame[i] = samples[off+i] * window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		for i, c := range coeffs {
			re, im := real(c), imag(c)
			power[i] += re*re + im*im
		}
		frames++
	}

	var total float64
	for i := range power {
		power[i] /= float64(frames)
		total += power[i]
	}

	r := Report{
		SampleRate: sampleRate,
		FrameSize:  size,
		Frames:     frames,
		Resolution: float64(sampleRate) / float64(size),
		power:      power,
		total:      total,
	}
	r.Peaks = r.findPeaks()
	return r, nil
}

// PowerAt returns the averaged power of the bin nearest freq.
func (r Report) PowerAt(freq float64) float64 {
	i := r.bin(freq)
	if i < 0 {
		return 0
	}
	return r.power[i]
}

// Share returns the fraction of the total power within a few bins of freq.
func (r Report) Share(freq float64) float64 {
	i := r.bin(freq)
	if i < 0 || r.total == 0 {
		return 0
	}
	lo, hi := max(0, i-shareBins), min(len(r.power)-1, i+shareBins)
	var sum float64
	for _, p := range r.power[lo : hi+1] {
		sum += p
	}
	return sum / r.total
}

// ModeMatch scores how much of a capture's power sits on one mode's tones.
type ModeMatch struct {
	Mode       fsk.Mode
	MarkShare  float64
	SpaceShare float64
}

// Score is the combined share of both tones.
func (m ModeMatch) Score() float64 { return m.MarkShare + m.SpaceShare }

// Match scores every mode usable at the report's sample rate, best first.
func (r Report) Match(format fsk.SampleFormat, channels fsk.Channels) []ModeMatch {
	var out []ModeMatch
	for _, mode := range []fsk.Mode{fsk.Mode1, fsk.Mode2, fsk.Mode3, fsk.Mode4} {
		cfg, err := fsk.NewConfig(r.SampleRate, format, channels, mode, fsk.DefaultThreshold)
		if err != nil {
			continue
		}
		out = append(out, ModeMatch{
			Mode:       mode,
			MarkShare:  r.Share(cfg.MarkFrequency()),
			SpaceShare: r.Share(cfg.SpaceFrequency()),
		})
	}
	slices.SortStableFunc(out, func(a, b ModeMatch) int {
		switch {
		case a.Score() > b.Score():
			return -1
		case a.Score() < b.Score():
			return 1
		}
		return 0
	})
	return out
}

func (r Report) bin(freq float64) int {
	if r.Resolution == 0 || freq < 0 {
		return -1
	}
	i := int(math.Round(freq / r.Resolution))
	if i >= len(r.power) {
		return -1
	}
	return i
}

func (r Report) findPeaks() []Peak {
	var peaks []Peak
	for i := 1; i < len(r.power)-1; i++ {
		p := r.power[i]
		if p > r.power[i-1] && p >= r.power[i+1] && p > 0 {
			peaks = append(peaks, Peak{Frequency: float64(i) * r.Resolution, Power: p})
		}
	}
	slices.SortFunc(peaks, func(a, b Peak) int {
		switch {
		case a.Power > b.Power:
			return -1
		case a.Power < b.Power:
			return 1
		}
		return 0
	})
	if len(peaks) > maxPeaks {
		peaks = peaks[:maxPeaks]
	}
	return peaks
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
