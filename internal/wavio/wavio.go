// Package wavio moves modem audio in and out of WAV files and headerless PCM.
//
// Only integer PCM is supported: 8-bit unsigned or 16-bit signed
// little-endian, one or two channels, 11025 to 48000 Hz. A [Clip] carries its
// samples in the same interleaved byte layout the modem engines consume, so a
// clip read from disk can be appended to a decoder as-is.
package wavio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/fskmodem/pkg/fsk"
)

const (
	// MinSampleRate and MaxSampleRate bound the WAV files Read accepts.
	MinSampleRate = 11025
	MaxSampleRate = 48000

	wavFormatPCM = 1
)

// ErrUnsupported is wrapped by every error for a well-formed file this
// package cannot handle.
var ErrUnsupported = errors.New("wavio: unsupported audio")

// Clip is a run of interleaved PCM with its stream parameters.
type Clip struct {
	SampleRate int
	Format     fsk.SampleFormat
	Channels   fsk.Channels
	PCM        []byte
}

// NewClip wraps pcm produced for cfg.
func NewClip(cfg fsk.Config, pcm []byte) *Clip {
	return &Clip{
		SampleRate: cfg.SampleRate(),
		Format:     cfg.SampleFormat(),
		Channels:   cfg.Channels(),
		PCM:        pcm,
	}
}

// Frames returns the number of whole sample frames in the clip.
func (c *Clip) Frames() int {
	fb := c.Format.BytesPerSample() * int(c.Channels)
	if fb == 0 {
		return 0
	}
	return len(c.PCM) / fb
}

// Duration returns the playing time of the clip.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Samples returns the clip averaged to mono in [-1, 1].
func (c *Clip) Samples() []float64 {
	return fsk.ReadSamples(make([]float64, 0, c.Frames()), c.PCM, c.Format, c.Channels)
}

// Config builds a modem configuration matching the clip's stream
// parameters.
func (c *Clip) Config(mode fsk.Mode, threshold float64) (fsk.Config, error) {
	return fsk.NewConfig(c.SampleRate, c.Format, c.Channels, mode, threshold)
}

// Read decodes a WAV file.
func Read(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("wavio: invalid WAV file: %w", err)
		}
		return nil, errors.New("wavio: invalid WAV file")
	}

	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: audio format %d is not integer PCM", ErrUnsupported, dec.WavAudioFormat)
	}
	var format fsk.SampleFormat
	switch dec.BitDepth {
	case 8:
		format = fsk.PCM8
	case 16:
		format = fsk.PCM16
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, dec.BitDepth)
	}
	channels := fsk.Channels(dec.NumChans)
	if channels != fsk.Mono && channels != fsk.Stereo {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupported, dec.NumChans)
	}
	rate := int(dec.SampleRate)
	if rate < MinSampleRate || rate > MaxSampleRate {
		return nil, fmt.Errorf("%w: sample rate %d Hz outside %d..%d", ErrUnsupported, rate, MinSampleRate, MaxSampleRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavio: read samples: %w", err)
	}

	clip := &Clip{SampleRate: rate, Format: format, Channels: channels}
	clip.PCM = packInts(buf.Data, format)
	if extra := len(clip.PCM) % (format.BytesPerSample() * int(channels)); extra != 0 {
		clip.PCM = clip.PCM[:len(clip.PCM)-extra]
	}
	return clip, nil
}

// Write encodes clip as a WAV file.
func Write(w io.WriteSeeker, clip *Clip) error {
	bits := 8 * clip.Format.BytesPerSample()
	enc := wav.NewEncoder(w, clip.SampleRate, bits, int(clip.Channels), wavFormatPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(clip.Channels), SampleRate: clip.SampleRate},
		Data:           unpackInts(clip.PCM, clip.Format),
		SourceBitDepth: bits,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavio: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavio: finish file: %w", err)
	}
	return nil
}

// Encode returns clip as an in-memory WAV file.
func Encode(clip *Clip) ([]byte, error) {
	var sb seekBuffer
	if err := Write(&sb, clip); err != nil {
		return nil, err
	}
	return sb.buf, nil
}

// Decode parses an in-memory WAV file.
func Decode(data []byte) (*Clip, error) {
	return Read(bytes.NewReader(data))
}

// ReadRaw reads headerless PCM. A trailing partial frame is dropped.
func ReadRaw(r io.Reader, sampleRate int, format fsk.SampleFormat, channels fsk.Channels) (*Clip, error) {
	pcm, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("wavio: read raw PCM: %w", err)
	}
	fb := format.BytesPerSample() * int(channels)
	if fb <= 0 {
		return nil, fmt.Errorf("%w: %s with %d channels", ErrUnsupported, format, channels)
	}
	pcm = pcm[:len(pcm)-len(pcm)%fb]
	return &Clip{SampleRate: sampleRate, Format: format, Channels: channels, PCM: pcm}, nil
}

// packInts converts decoded sample values to interleaved PCM bytes. 8-bit
// values are unsigned, 16-bit values signed.
func packInts(data []int, format fsk.SampleFormat) []byte {
	if format == fsk.PCM8 {
		out := make([]byte, len(data))
		for i, v := range data {
			out[i] = byte(v)
		}
		return out
	}
	s := make([]int16, len(data))
	for i, v := range data {
		s[i] = int16(v)
	}
	return fsk.Int16sToBytes(s)
}

func unpackInts(pcm []byte, format fsk.SampleFormat) []int {
	if format == fsk.PCM8 {
		out := make([]int, len(pcm))
		for i, b := range pcm {
			out[i] = int(b)
		}
		return out
	}
	s := fsk.BytesToInt16s(pcm)
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = int(v)
	}
	return out
}

// seekBuffer is an in-memory io.WriteSeeker for the WAV encoder, which
// patches the header sizes after the samples are written.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("wavio: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("wavio: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}
