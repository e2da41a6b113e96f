package syncutil

import "context"

// AsyncMutex is a single-holder mutex built on a one-slot channel so
// acquisition can be cancelled and probed without blocking. It serializes
// background file operations (log trims) inside one process.
type AsyncMutex struct {
	ch chan struct{}
}

func NewAsyncMutex() *AsyncMutex {
	return &AsyncMutex{ch: make(chan struct{}, 1)}
}

// Lock blocks until the mutex is held or ctx is done.
func (m *AsyncMutex) Lock(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the mutex without blocking. It reports whether the
// caller now holds it.
func (m *AsyncMutex) TryLock() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. Unlocking an unheld mutex panics, matching
// sync.Mutex semantics.
func (m *AsyncMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("syncutil: unlock of unheld AsyncMutex")
	}
}
