package authbridge

import (
	"sync"
)

// Event is an auth state change notification.
type Event struct {
	SignedIn bool
	Session  *Session
}

// Bridge fans auth state changes out to subscribers. The storefront
// wiring subscribes for the lifetime of the application and releases
// the subscription on shutdown.
type Bridge struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func NewBridge() *Bridge {
	return &Bridge{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns its release func. Releasing twice
// is harmless.
func (b *Bridge) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Emit delivers the event to every current subscriber, in-order on the
// caller's goroutine.
func (b *Bridge) Emit(e Event) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
