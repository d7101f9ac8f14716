package notify

import (
	"context"
	"sync"

	"chat-relay/internal/chat"
	"chat-relay/internal/metrics"
)

const subscriberBuffer = 16

// Broker is the in-process fan-out. Sends never block: a subscriber that
// cannot keep up loses events and recovers through the polling fallback.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]chan Event
	nextID  uint64
	metrics *metrics.Metrics
}

func NewBroker(m *metrics.Metrics) *Broker {
	return &Broker{
		subs:    make(map[string]map[uint64]chan Event),
		metrics: m,
	}
}

func (b *Broker) Subscribe(_ context.Context, sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[uint64]chan Event)
	}
	b.subs[sessionID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if m := b.subs[sessionID]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(b.subs, sessionID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Broker) publish(ev Event) {
	b.metrics.EventPublished(string(ev.Type))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Broker) MessageInserted(_ context.Context, m chat.Message) {
	b.publish(Event{Type: EventInsert, SessionID: m.SessionID, Message: m})
}

func (b *Broker) MessageUpdated(_ context.Context, m chat.Message) {
	b.publish(Event{Type: EventUpdate, SessionID: m.SessionID, Message: m})
}
