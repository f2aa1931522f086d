package fsk

// ring is a fixed-capacity FIFO. Unlike an overwriting ring buffer it never
// evicts queued data: writes accept the prefix that fits and report the
// rest. It is not synchronized; owners guard it with their own mutex.
type ring[T any] struct {
	buf        []T
	head, tail int64
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{buf: make([]T, size)}
}

func (r *ring[T]) Len() int  { return int(r.tail - r.head) }
func (r *ring[T]) Cap() int  { return len(r.buf) }
func (r *ring[T]) Free() int { return len(r.buf) - r.Len() }

// Write appends as much of p as fits and returns the count written.
func (r *ring[T]) Write(p []T) int {
	n := min(len(p), r.Free())
	if n == 0 {
		return 0
	}
	tail := int(r.tail % int64(len(r.buf)))
	c := copy(r.buf[tail:], p[:n])
	copy(r.buf, p[c:n])
	r.tail += int64(n)
	return n
}

// Read moves up to len(p) elements into p and returns the count read.
func (r *ring[T]) Read(p []T) int {
	n := min(len(p), r.Len())
	if n == 0 {
		return 0
	}
	head := int(r.head % int64(len(r.buf)))
	c := copy(p[:n], r.buf[head:])
	copy(p[c:n], r.buf)
	r.head += int64(n)
	return n
}

// Reset discards all queued elements.
func (r *ring[T]) Reset() {
	r.head = r.tail
}
