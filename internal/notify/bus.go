// Package notify is a tiny cross-component publish/subscribe bus for
// the unread notification count. Channel list, chat view and window
// chrome all observe the same integer without referencing each other.
package notify

import "sync"

// Bus fans one unread count out to its subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]func(int)
	nextID int
	count  int
}

// NewBus creates an empty bus with a count of zero.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(int))}
}

// Subscribe registers fn and immediately delivers the current count so
// late subscribers don't render stale state. The returned unsubscribe
// removes exactly this registration and is safe to call multiple times.
func (b *Bus) Subscribe(fn func(count int)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	current := b.count
	b.mu.Unlock()

	fn(current)

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish sets the count and notifies all subscribers.
func (b *Bus) Publish(count int) {
	b.mu.Lock()
	b.count = count
	subs := make([]func(int), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(count)
	}
}

// Add adjusts the count by delta (negative deltas clamp at zero) and
// notifies subscribers.
func (b *Bus) Add(delta int) {
	b.mu.Lock()
	b.count += delta
	if b.count < 0 {
		b.count = 0
	}
	count := b.count
	subs := make([]func(int), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(count)
	}
}

// Count returns the current unread count.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
