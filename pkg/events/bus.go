package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Bus fans events out to subscribers over buffered channels. A slow
// subscriber drops events rather than stalling the executor; the transport
// layer resynchronizes from sequence numbers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      int64
	seq         uint64
	logger      zerolog.Logger
}

// NewBus creates an event bus
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[int64]chan Event),
		logger:      logger,
	}
}

// Subscribe registers a consumer. The returned cancel func must be called
// when the consumer goes away.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

// Emit implements Emitter
func (b *Bus) Emit(event Event) {
	event.Seq = int64(atomic.AddUint64(&b.seq, 1))
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn().
				Int64("subscriber", id).
				Str("event", string(event.Type)).
				Int64("seq", event.Seq).
				Msg("Dropping event for slow subscriber")
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
