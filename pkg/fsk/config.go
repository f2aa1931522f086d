package fsk

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// SampleFormat is the PCM sample encoding. Its numeric value is the number of
// bytes per sample.
type SampleFormat int

const (
	// PCM8 is unsigned 8-bit PCM centred on 128.
	PCM8 SampleFormat = 1
	// PCM16 is signed 16-bit little-endian PCM.
	PCM16 SampleFormat = 2
)

// BytesPerSample returns the size of one sample of one channel.
func (f SampleFormat) BytesPerSample() int { return int(f) }

func (f SampleFormat) String() string {
	switch f {
	case PCM8:
		return "pcm8"
	case PCM16:
		return "pcm16"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(f))
	}
}

// ParseSampleFormat parses "pcm8" or "pcm16" (also "8" and "16").
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pcm8", "8", "u8":
		return PCM8, nil
	case "pcm16", "16", "s16le":
		return PCM16, nil
	}
	return 0, &ConfigError{Field: "sample format", Value: s, Reason: `must be "pcm8" or "pcm16"`}
}

// Channels is the channel layout of PCM data. Stereo data is interleaved
// left, right.
type Channels int

const (
	Mono   Channels = 1
	Stereo Channels = 2
)

func (c Channels) String() string {
	switch c {
	case Mono:
		return "mono"
	case Stereo:
		return "stereo"
	default:
		return fmt.Sprintf("Channels(%d)", int(c))
	}
}

// Mode selects a baud rate and tone pair. Lower modes are faster; higher
// modes spend more time per bit and tolerate more noise.
type Mode int

const (
	Mode1 Mode = 1
	Mode2 Mode = 2
	Mode3 Mode = 3
	Mode4 Mode = 4
)

func (m Mode) String() string { return fmt.Sprintf("mode%d", int(m)) }

// profile is the physical layer of one mode. Each tone completes a whole
// number of cycles per bit so the two correlators are orthogonal over one
// symbol.
type profile struct {
	baud     float64
	space    float64
	mark     float64
	stopBits int
}

var profiles = map[Mode]profile{
	Mode1: {baud: 1225, space: 4900, mark: 7350, stopBits: 2},
	Mode2: {baud: 630, space: 3150, mark: 6300, stopBits: 2},
	Mode3: {baud: 315, space: 1575, mark: 3150, stopBits: 1},
	Mode4: {baud: 126, space: 882, mark: 1764, stopBits: 1},
}

// SupportedSampleRates lists the accepted sample rates in Hz.
var SupportedSampleRates = []int{22050, 29400, 32000, 44100, 48000}

const (
	// DataBits is the number of data bits per frame.
	DataBits = 8

	// minSymbolLength is the shortest bit window the detector can resolve.
	minSymbolLength = 16

	// nyquistGuard keeps the mark tone clear of the Nyquist frequency.
	nyquistGuard = 0.9

	// DefaultThreshold is the default decision margin in percent.
	DefaultThreshold = 20
)

// Config is an immutable description of the audio channel shared by an
// [Encoder] and a [Decoder]. The zero value is not usable; construct one with
// [NewConfig].
type Config struct {
	sampleRate int
	format     SampleFormat
	channels   Channels
	mode       Mode
	threshold  float64

	profile       profile
	samplesPerBit float64
	symbolLength  int
}

// NewConfig validates the primary channel parameters and derives the engine
// constants from them. threshold is a percentage in [0, 100].
//
// The returned error is a [*ConfigError] when any parameter is unsupported.
func NewConfig(sampleRate int, format SampleFormat, channels Channels, mode Mode, threshold float64) (Config, error) {
	if !slices.Contains(SupportedSampleRates, sampleRate) {
		return Config{}, &ConfigError{
			Field:  "sample rate",
			Value:  sampleRate,
			Reason: fmt.Sprintf("must be one of %v", SupportedSampleRates),
		}
	}
	if format != PCM8 && format != PCM16 {
		return Config{}, &ConfigError{Field: "sample format", Value: format, Reason: "must be PCM8 or PCM16"}
	}
	if channels != Mono && channels != Stereo {
		return Config{}, &ConfigError{Field: "channels", Value: int(channels), Reason: "must be 1 or 2"}
	}
	p, ok := profiles[mode]
	if !ok {
		return Config{}, &ConfigError{Field: "mode", Value: int(mode), Reason: "must be 1..4"}
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 100 {
		return Config{}, &ConfigError{Field: "threshold", Value: threshold, Reason: "must be within [0, 100]"}
	}

	if p.mark >= nyquistGuard*float64(sampleRate)/2 {
		return Config{}, &ConfigError{
			Field:  "mode",
			Value:  int(mode),
			Reason: fmt.Sprintf("mark tone %.0f Hz too close to Nyquist at %d Hz", p.mark, sampleRate),
		}
	}
	spb := float64(sampleRate) / p.baud
	if int(spb) < minSymbolLength {
		return Config{}, &ConfigError{
			Field:  "mode",
			Value:  int(mode),
			Reason: fmt.Sprintf("symbol of %.1f samples too short at %d Hz", spb, sampleRate),
		}
	}

	return Config{
		sampleRate:    sampleRate,
		format:        format,
		channels:      channels,
		mode:          mode,
		threshold:     threshold,
		profile:       p,
		samplesPerBit: spb,
		symbolLength:  int(spb),
	}, nil
}

// MustConfig is like [NewConfig] but panics on error. It is intended for
// tests and package-level defaults.
func MustConfig(sampleRate int, format SampleFormat, channels Channels, mode Mode, threshold float64) Config {
	cfg, err := NewConfig(sampleRate, format, channels, mode, threshold)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c Config) SampleRate() int            { return c.sampleRate }
func (c Config) SampleFormat() SampleFormat { return c.format }
func (c Config) Channels() Channels         { return c.channels }
func (c Config) Mode() Mode                 { return c.mode }

// Threshold returns the decision margin in percent.
func (c Config) Threshold() float64 { return c.threshold }

// MarkFrequency returns the tone for bit value 1 in Hz.
func (c Config) MarkFrequency() float64 { return c.profile.mark }

// SpaceFrequency returns the tone for bit value 0 in Hz.
func (c Config) SpaceFrequency() float64 { return c.profile.space }

// Baud returns the symbol rate in bits per second.
func (c Config) Baud() float64 { return c.profile.baud }

// SamplesPerBit returns the exact, possibly fractional, bit duration in
// sample frames.
func (c Config) SamplesPerBit() float64 { return c.samplesPerBit }

// SymbolLength returns the detector window in sample frames.
func (c Config) SymbolLength() int { return c.symbolLength }

// StopBits returns the number of stop bits per frame (1 or 2).
func (c Config) StopBits() int { return c.profile.stopBits }

// FrameBits returns the total bits per transmitted byte.
func (c Config) FrameBits() int { return 1 + DataBits + c.profile.stopBits }

// FrameSamples returns the length of one framed byte in sample frames.
func (c Config) FrameSamples() int { return c.bitOffset(c.FrameBits()) }

// BytesPerSecond returns the payload throughput.
func (c Config) BytesPerSecond() float64 { return c.profile.baud / float64(c.FrameBits()) }

// ChunkSize returns the largest byte chunk a producer should hand to
// [Encoder.AppendData] at once: roughly one second of airtime.
func (c Config) ChunkSize() int { return int(math.Ceil(c.BytesPerSecond())) }

// QueueCapacity returns the encoder queue bound in bytes.
func (c Config) QueueCapacity() int { return 4 * c.ChunkSize() }

// BufferFrames returns the decoder ring buffer capacity in sample frames,
// one second of audio.
func (c Config) BufferFrames() int { return c.sampleRate }

// FrameBytes returns the size of one interleaved sample frame in bytes.
func (c Config) FrameBytes() int { return c.format.BytesPerSample() * int(c.channels) }

// bitOffset returns the sample offset of bit k from the start of a frame.
func (c Config) bitOffset(k int) int {
	return int(math.Round(float64(k) * c.samplesPerBit))
}

func (c Config) String() string {
	return fmt.Sprintf("%d Hz %s %s mode %d threshold %g%%",
		c.sampleRate, c.format, c.channels, c.mode, c.threshold)
}
