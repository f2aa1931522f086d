package fsk

import "testing"

func TestRing_WrapAround(t *testing.T) {
	t.Parallel()

	r := newRing[int](5)
	if n := r.Write([]int{1, 2, 3}); n != 3 {
		t.Fatalf("Write = %d, want 3", n)
	}
	out := make([]int, 2)
	if n := r.Read(out); n != 2 || out[0] != 1 || out[1] != 2 {
		t.Fatalf("Read = %d %v, want 2 [1 2]", n, out)
	}

	// Tail wraps past the end of the backing array.
	if n := r.Write([]int{4, 5, 6, 7, 8}); n != 4 {
		t.Fatalf("Write = %d, want 4 (capacity)", n)
	}
	if r.Free() != 0 || r.Len() != 5 {
		t.Fatalf("Len/Free = %d/%d, want 5/0", r.Len(), r.Free())
	}
	if n := r.Write([]int{9}); n != 0 {
		t.Fatalf("Write on full ring = %d, want 0", n)
	}

	out = make([]int, 10)
	n := r.Read(out)
	want := []int{3, 4, 5, 6, 7}
	if n != len(want) {
		t.Fatalf("Read = %d, want %d", n, len(want))
	}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("out[%d] = %d, want %d", i, out[i], w)
		}
	}
}

func TestRing_Reset(t *testing.T) {
	t.Parallel()

	r := newRing[byte](4)
	r.Write([]byte("abc"))
	r.Reset()
	if r.Len() != 0 || r.Free() != 4 {
		t.Fatalf("after Reset Len/Free = %d/%d", r.Len(), r.Free())
	}
	if n := r.Read(make([]byte, 4)); n != 0 {
		t.Fatalf("Read after Reset = %d", n)
	}
}

func TestDemodulator_StateNames(t *testing.T) {
	t.Parallel()

	for s, want := range map[demodState]string{
		stateSearching:  "searching",
		stateSyncing:    "syncing",
		stateCollecting: "collecting",
		stateValidating: "validating",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestDemodulator_IncrementalFeedMatchesWhole(t *testing.T) {
	t.Parallel()

	cfg := MustConfig(32000, PCM16, Mono, Mode2, 20)
	msg := []byte("incremental feed")
	samples := ReadSamples(nil, Modulate(cfg, msg), cfg.SampleFormat(), cfg.Channels())

	var got []byte
	d := newDemodulator(cfg, func(b byte) { got = append(got, b) }, nil)
	for i := 0; i < len(samples); i += 37 {
		d.feed(samples[i:min(i+37, len(samples))])
	}
	if string(got) != string(msg) {
		t.Fatalf("decoded %q, want %q", got, msg)
	}
	if len(d.buf) > 4*d.n+37+cfg.FrameSamples() {
		t.Errorf("history not compacted: %d samples retained", len(d.buf))
	}
}

func TestDemodulator_BoundaryNeverPrecedesPreviousFrame(t *testing.T) {
	t.Parallel()

	cfg := MustConfig(44100, PCM16, Mono, Mode3, 20)
	msg := []byte{0x00, 0xFF, 0x00, 0x7E}
	samples := ReadSamples(nil, Modulate(cfg, msg), cfg.SampleFormat(), cfg.Channels())

	var (
		d    *demodulator
		prev int64 = -1
		got  []byte
	)
	d = newDemodulator(cfg, func(b byte) {
		got = append(got, b)
		if d.start < d.floor {
			t.Errorf("frame %d starts at %d, before floor %d", len(got), d.start, d.floor)
		}
		if prev >= 0 {
			end := prev + int64(cfg.bitOffset(1+DataBits)+d.n)
			if d.floor != end-int64(d.step) {
				t.Errorf("frame %d floor = %d, want %d", len(got), d.floor, end-int64(d.step))
			}
		}
		prev = d.start
	}, nil)
	d.feed(samples)
	d.finish()

	if string(got) != string(msg) {
		t.Fatalf("decoded %x, want %x", got, msg)
	}
}
