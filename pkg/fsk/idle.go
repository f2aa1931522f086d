package fsk

// idleGate is a broadcast latch that is closed while an engine has no work.
// It is guarded by the owning engine's mutex.
type idleGate struct {
	ch     chan struct{}
	closed bool
}

func newIdleGate() idleGate {
	ch := make(chan struct{})
	close(ch)
	return idleGate{ch: ch, closed: true}
}

// busy re-arms the latch when new work arrives.
func (g *idleGate) busy() {
	if g.closed {
		g.ch = make(chan struct{})
		g.closed = false
	}
}

// idle releases every waiter.
func (g *idleGate) idle() {
	if !g.closed {
		close(g.ch)
		g.closed = true
	}
}
