package event

import "sync"

// Bus fans events out to subscribers. Delivery is synchronous on the
// publishing goroutine, in subscription order; slow consumers should
// hand off to their own goroutine.
type Bus struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns an unsubscribe function.
// Unsubscribing twice is harmless.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to all current subscribers.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs))
	for id := 0; id < b.next; id++ {
		if fn, ok := b.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}
