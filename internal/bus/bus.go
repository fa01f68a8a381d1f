// Package bus is a minimal typed publish/subscribe channel used to tell
// observers (e.g. a conversation browser) to re-query the store without
// polling.
package bus

import "sync"

// TopicReload is published after every successful conversation bind or
// message append. It carries no payload.
const TopicReload = "reload"

type subscriber struct {
	id int
	fn func()
}

// Bus dispatches topic notifications to registered callbacks. Callbacks are
// invoked synchronously in subscription order; they must not block.
type Bus struct {
	mu     sync.Mutex
	nextID int
	topics map[string][]subscriber
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]subscriber)}
}

// Subscribe registers fn for topic and returns an unsubscribe function.
// Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(topic string, fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscriber{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		for i, s := range subs {
			if s.id == id {
				b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish invokes every callback registered for topic.
func (b *Bus) Publish(topic string) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.Unlock()

	for _, s := range subs {
		s.fn()
	}
}
