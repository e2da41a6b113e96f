package ringbuf

// Buffer is a fixed-capacity FIFO. Once full, Push evicts the oldest
// element. It is not safe for concurrent use; callers serialize access.
type Buffer[T any] struct {
	buf  []T
	head int // index of the oldest element
	size int
}

// New returns a buffer holding at most capacity elements.
// A capacity below 1 is clamped to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when at capacity.
func (b *Buffer[T]) Push(v T) {
	n := len(b.buf)
	if b.size == n {
		b.buf[b.head] = v
		b.head = (b.head + 1) % n
		return
	}
	b.buf[(b.head+b.size)%n] = v
	b.size++
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.buf) }

// Snapshot returns the elements oldest to newest in a new slice.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, b.size)
	n := len(b.buf)
	for i := 0; i < b.size; i++ {
		out[i] = b.buf[(b.head+i)%n]
	}
	return out
}

// Last returns up to n newest elements, oldest first. n <= 0 returns all.
func (b *Buffer[T]) Last(n int) []T {
	all := b.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Clear drops all elements, keeping capacity.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.buf {
		b.buf[i] = zero
	}
	b.head = 0
	b.size = 0
}
