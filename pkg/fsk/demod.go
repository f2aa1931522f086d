package fsk

// demodState is the framing phase of the demodulator.
type demodState int

const (
	stateSearching demodState = iota
	stateSyncing
	stateCollecting
	stateValidating
)

func (s demodState) String() string {
	switch s {
	case stateSearching:
		return "searching"
	case stateSyncing:
		return "syncing"
	case stateCollecting:
		return "collecting"
	case stateValidating:
		return "validating"
	}
	return "unknown"
}

// edgeRatio is the smallest edge score, relative to the start bit's space
// amplitude, accepted as a bit boundary. A space-to-space transition, as
// after a corrupted stop bit, scores near zero; mark or silence to space
// scores one to two.
const edgeRatio = 0.5

// demodulator is the bit synchronisation state machine. It is single-owner:
// the decoder goroutine (or [Demodulate]) feeds it and it never locks.
//
// Positions are absolute sample frame indices since the first sample fed.
// buf holds samples [base, base+len(buf)).
type demodulator struct {
	cfg  Config
	det  *ToneDetector
	n    int // detector window
	step int // search stride

	buf  []float64
	base int64

	state demodState
	pos   int64 // next search window start
	floor int64 // earliest boundary the next frame may claim
	hit   int64 // search position that saw a start bit
	start int64 // refined start bit boundary
	bit   int   // next bit to sample, 1..DataBits
	value byte

	// slack lets the last checked bit of a frame run past the end of the
	// input by up to one search step. Non-zero only inside finish.
	slack int64

	onByte    func(byte)
	onFraming func(FramingError)
}

func newDemodulator(cfg Config, onByte func(byte), onFraming func(FramingError)) *demodulator {
	n := cfg.SymbolLength()
	return &demodulator{
		cfg:       cfg,
		det:       NewToneDetector(cfg),
		n:         n,
		step:      max(1, n/8),
		onByte:    onByte,
		onFraming: onFraming,
	}
}

// feed appends samples and advances the state machine as far as the
// buffered signal allows.
func (d *demodulator) feed(samples []float64) {
	d.buf = append(d.buf, samples...)
	for d.advance() {
	}
	d.compact()
}

// finish marks the end of input. A frame whose final bit is cut short by at
// most one search step, as when the bit clock lands a sample late on the
// last frame, is scored over the samples present.
func (d *demodulator) finish() {
	d.slack = int64(d.step)
	for d.advance() {
	}
	d.slack = 0
	d.compact()
}

// end returns the absolute index one past the last buffered sample.
func (d *demodulator) end() int64 { return d.base + int64(len(d.buf)) }

// window returns buffered samples [from, to), clipped to what is retained.
func (d *demodulator) window(from, to int64) []float64 {
	from = max(from, d.base)
	to = min(to, d.end())
	if to <= from {
		return nil
	}
	return d.buf[from-d.base : to-d.base]
}

// advance performs one state transition. It returns false when more samples
// are needed.
func (d *demodulator) advance() bool {
	n := int64(d.n)
	switch d.state {
	case stateSearching:
		if d.pos+n > d.end() {
			return false
		}
		if d.det.Detect(d.window(d.pos, d.pos+n)).Tone == ToneSpace {
			d.hit = d.pos
			d.state = stateSyncing
			return true
		}
		d.pos += int64(d.step)
		return true

	case stateSyncing:
		lo := max(d.hit-int64(d.step), d.floor)
		hi := d.hit + n/2
		if hi+n > d.end() {
			return false
		}
		b, edge := d.boundary(lo, hi)
		start := d.det.Detect(d.window(b, b+n))
		if edge < edgeRatio*start.Space {
			// No mark or silence precedes the space: keep the search hit.
			b = d.hit
			start = d.det.Detect(d.window(b, b+n))
		}
		if start.Tone != ToneSpace {
			d.pos = d.hit + int64(d.step)
			d.state = stateSearching
			return true
		}
		d.start = b
		d.bit = 1
		d.value = 0
		d.state = stateCollecting
		return true

	case stateCollecting:
		off := d.start + int64(d.cfg.bitOffset(d.bit))
		if off+n-d.slack > d.end() {
			return false
		}
		bit, ok := d.det.Detect(d.window(off, off+n)).Tone.Bit()
		if !ok {
			// The rest of the frame may hold space bits that look like a
			// start bit, so skip to its end.
			d.fail(FramingAmbiguousBit, d.start+int64(d.cfg.FrameSamples()))
			return true
		}
		d.value |= bit << (d.bit - 1)
		if d.bit == DataBits {
			d.state = stateValidating
		} else {
			d.bit++
		}
		return true

	case stateValidating:
		off := d.start + int64(d.cfg.bitOffset(1+DataBits))
		if off+n-d.slack > d.end() {
			return false
		}
		if d.det.Detect(d.window(off, off+n)).Tone != ToneMark {
			d.bit = 1 + DataBits
			d.fail(FramingStopBit, off+n)
			return true
		}
		d.onByte(d.value)
		d.resume(off + n)
		return true
	}
	return false
}

// boundary returns the offset in [lo, hi] where the signal changes most
// sharply towards the space tone, with its edge score: the bias of the
// symbol starting there minus the bias of the symbol ending there. The
// earliest maximum wins.
func (d *demodulator) boundary(lo, hi int64) (int64, float64) {
	n := int64(d.n)
	best, bestScore := lo, 0.0
	for t := lo; t <= hi; t++ {
		score := d.det.bias(d.window(t, t+n)) - d.det.bias(d.window(t-n, t))
		if t == lo || score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, bestScore
}

func (d *demodulator) fail(reason FramingReason, resume int64) {
	if d.onFraming != nil {
		d.onFraming(FramingError{Reason: reason, Offset: d.start, Bit: d.bit})
	}
	d.resume(resume)
}

// resume returns to SEARCHING at pos. The next boundary may sit up to one
// search step before pos to absorb clock drift, never earlier.
func (d *demodulator) resume(pos int64) {
	d.pos = pos
	d.floor = pos - int64(d.step)
	d.state = stateSearching
}

// compact drops samples no future window can reach. Two symbols of history
// before the oldest live position are kept for boundary scoring.
func (d *demodulator) compact() {
	keep := d.pos
	switch d.state {
	case stateSyncing:
		keep = d.hit - int64(d.step)
	case stateCollecting, stateValidating:
		keep = d.start
	}
	keep -= 2 * int64(d.n)
	drop := min(keep-d.base, int64(len(d.buf)))
	if drop <= 0 || drop < int64(len(d.buf))/2 {
		return
	}
	d.buf = append(d.buf[:0], d.buf[drop:]...)
	d.base += drop
}
