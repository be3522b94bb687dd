package eventbus

import (
	"sync"

	"chat-directory/internal/models"
	"chat-directory/internal/observability"
)

// Bus fans out directory events to an open set of subscribers. Publish never
// blocks: a subscriber whose buffer is full simply misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
}

// Subscriber receives events on a bounded channel until Close is called.
type Subscriber struct {
	bus *Bus
	ch  chan models.DirectoryEvent

	closeOnce sync.Once
}

// NewBus creates a bus whose subscribers buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		bus: b,
		ch:  make(chan models.DirectoryEvent, b.buffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers the event to every current subscriber without blocking.
// Delivery to a full subscriber is dropped and counted; the publisher never
// learns about it.
func (b *Bus) Publish(event models.DirectoryEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			observability.IncBusDroppedEvent(event.Type)
		}
	}
}

// Events is the subscriber's receive channel. It is closed by Close.
func (s *Subscriber) Events() <-chan models.DirectoryEvent {
	return s.ch
}

// Close unsubscribes and closes the event channel.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
