package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher and the delivery pipeline.
const (
	TypeOwnerSkipped    = "dispatch.owner_skipped"
	TypeUnmatched       = "dispatch.unmatched"
	TypeAmbiguous       = "dispatch.ambiguous"
	TypeThrottled       = "dispatch.throttled"
	TypeDeliveryQueued  = "delivery.queued"
	TypeDeliverySent    = "delivery.sent"
	TypeDeliveryFailed  = "delivery.failed"
	TypeDeliveryDropped = "delivery.dropped"
	TypeSettingsChanged = "settings.changed"
)

// Event is a small in-memory signal. Data should be JSON-serializable since
// subscribers may log it.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a full channel drops the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// Dropped returns how many deliveries to slow subscribers were skipped.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		b.offer(ch, e)
	}
}

// offer tolerates a channel closed by a concurrent unsubscribe.
func (b *MemBus) offer(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
