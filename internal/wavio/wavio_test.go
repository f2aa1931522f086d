package wavio_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/fskmodem/internal/wavio"
	"github.com/MrWong99/fskmodem/pkg/fsk"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		format   fsk.SampleFormat
		channels fsk.Channels
	}{
		{"pcm8 mono", fsk.PCM8, fsk.Mono},
		{"pcm8 stereo", fsk.PCM8, fsk.Stereo},
		{"pcm16 mono", fsk.PCM16, fsk.Mono},
		{"pcm16 stereo", fsk.PCM16, fsk.Stereo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := fsk.MustConfig(44100, tt.format, tt.channels, fsk.Mode3, fsk.DefaultThreshold)
			in := wavio.NewClip(cfg, fsk.Modulate(cfg, []byte("wav")))

			data, err := wavio.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
				t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
			}

			out, err := wavio.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if out.SampleRate != 44100 || out.Format != tt.format || out.Channels != tt.channels {
				t.Errorf("decoded params = %d/%s/%s", out.SampleRate, out.Format, out.Channels)
			}
			if !bytes.Equal(out.PCM, in.PCM) {
				t.Fatalf("PCM differs after round trip (%d vs %d bytes)", len(out.PCM), len(in.PCM))
			}

			got, _, err := fsk.Demodulate(cfg, out.PCM)
			if err != nil {
				t.Fatalf("Demodulate: %v", err)
			}
			if string(got) != "wav" {
				t.Errorf("decoded %q, want %q", got, "wav")
			}
		})
	}
}

func TestWrite_File(t *testing.T) {
	t.Parallel()
	cfg := fsk.MustConfig(22050, fsk.PCM16, fsk.Mono, fsk.Mode4, fsk.DefaultThreshold)
	path := filepath.Join(t.TempDir(), "burst.wav")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := wavio.Write(f, wavio.NewClip(cfg, fsk.Modulate(cfg, []byte{0x55}))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f, err = os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	clip, err := wavio.Read(f)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if clip.Frames() != cfg.FrameSamples() {
		t.Errorf("Frames() = %d, want %d", clip.Frames(), cfg.FrameSamples())
	}
	want := time.Duration(cfg.FrameSamples()) * time.Second / 22050
	if clip.Duration() != want {
		t.Errorf("Duration() = %v, want %v", clip.Duration(), want)
	}
}

func TestRead_Unsupported(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		rate     int
		bits     int
		channels int
	}{
		{"24 bit", 44100, 24, 1},
		{"three channels", 44100, 16, 3},
		{"rate too low", 8000, 16, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "bad.wav")
			f, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}
			enc := wav.NewEncoder(f, tt.rate, tt.bits, tt.channels, 1)
			buf := &audio.IntBuffer{
				Format:         &audio.Format{NumChannels: tt.channels, SampleRate: tt.rate},
				Data:           make([]int, 300*tt.channels),
				SourceBitDepth: tt.bits,
			}
			if err := enc.Write(buf); err != nil {
				t.Fatal(err)
			}
			if err := enc.Close(); err != nil {
				t.Fatal(err)
			}
			f.Close()

			f, err = os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			if _, err := wavio.Read(f); !errors.Is(err, wavio.ErrUnsupported) {
				t.Errorf("Read error = %v, want ErrUnsupported", err)
			}
		})
	}
}

func TestRead_Garbage(t *testing.T) {
	t.Parallel()
	_, err := wavio.Decode([]byte("this is not a wav file at all"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, wavio.ErrUnsupported) {
		t.Errorf("garbage input reported as unsupported audio: %v", err)
	}
}

func TestReadRaw_DropsPartialFrame(t *testing.T) {
	t.Parallel()
	clip, err := wavio.ReadRaw(bytes.NewReader(make([]byte, 4*10+3)), 48000, fsk.PCM16, fsk.Stereo)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if len(clip.PCM) != 40 || clip.Frames() != 10 {
		t.Errorf("len(PCM) = %d, Frames() = %d; want 40 and 10", len(clip.PCM), clip.Frames())
	}
}

func TestClip_Config(t *testing.T) {
	t.Parallel()
	clip := &wavio.Clip{SampleRate: 48000, Format: fsk.PCM8, Channels: fsk.Stereo}
	cfg, err := clip.Config(fsk.Mode2, 30)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.SampleRate() != 48000 || cfg.Mode() != fsk.Mode2 || cfg.Threshold() != 30 {
		t.Errorf("cfg = %s", cfg)
	}

	// 11025 Hz files are readable but too slow for any modem profile.
	clip.SampleRate = 11025
	if _, err := clip.Config(fsk.Mode4, fsk.DefaultThreshold); !errors.Is(err, fsk.ErrConfig) {
		t.Errorf("Config at 11025 Hz error = %v, want ErrConfig", err)
	}
}

func TestClip_Samples(t *testing.T) {
	t.Parallel()
	clip := &wavio.Clip{SampleRate: 44100, Format: fsk.PCM16, Channels: fsk.Stereo,
		PCM: fsk.Int16sToBytes([]int16{16384, -16384, 16384, 16384})}
	s := clip.Samples()
	if len(s) != 2 || s[0] != 0 || s[1] != 0.5 {
		t.Errorf("Samples() = %v, want [0 0.5]", s)
	}
}
