package fsk

import (
	"encoding/binary"
	"math"
	"slices"
)

// PutSamples quantizes mono samples in [-1, 1] into dst using format and
// writes each sample to every channel. dst must hold at least
// len(samples)*format.BytesPerSample()*channels bytes. It returns the number
// of bytes written.
func PutSamples(dst []byte, samples []float64, format SampleFormat, channels Channels) int {
	bps := format.BytesPerSample()
	n := 0
	for _, s := range samples {
		s = max(-1, min(1, s))
		for range int(channels) {
			switch format {
			case PCM8:
				dst[n] = uint8(math.Round(128 + 127*s))
			case PCM16:
				binary.LittleEndian.PutUint16(dst[n:], uint16(int16(math.Round(32767*s))))
			}
			n += bps
		}
	}
	return n
}

// AppendSamples is like [PutSamples] but appends to dst.
func AppendSamples(dst []byte, samples []float64, format SampleFormat, channels Channels) []byte {
	need := len(samples) * format.BytesPerSample() * int(channels)
	dst = slices.Grow(dst, need)
	n := PutSamples(dst[len(dst):len(dst)+need], samples, format, channels)
	return dst[:len(dst)+n]
}

// ReadSamples converts interleaved PCM to mono samples in [-1, 1), averaging
// the channels of stereo frames. Trailing bytes that do not form a whole
// frame are ignored. The samples are appended to dst.
func ReadSamples(dst []float64, pcm []byte, format SampleFormat, channels Channels) []float64 {
	bps := format.BytesPerSample()
	frame := bps * int(channels)
	frames := len(pcm) / frame
	for i := range frames {
		var sum float64
		for ch := range int(channels) {
			off := i*frame + ch*bps
			switch format {
			case PCM8:
				sum += (float64(pcm[off]) - 128) / 128
			case PCM16:
				sum += float64(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
			}
		}
		dst = append(dst, sum/float64(channels))
	}
	return dst
}

// Int16sToBytes encodes samples as little-endian PCM16.
func Int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16s decodes little-endian PCM16. A trailing odd byte is ignored.
func BytesToInt16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}
