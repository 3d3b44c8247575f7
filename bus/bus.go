// Package bus implements the single-producer/many-consumer broadcast fan-out
// (C5). Publishing never blocks on a slow subscriber: a full queue drops the
// newest record for that subscriber, and a subscriber that drops too much
// too fast is closed.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"netscope/dissect"
	"netscope/log"
)

const (
	// DefaultQueueDepth is the bounded per-subscriber queue size.
	DefaultQueueDepth = 1024
	// dropThreshold and dropWindow define the slow-consumer policy: this
	// many drops inside this window closes the subscriber.
	dropThreshold = 1024
	dropWindow    = 10 * time.Second
)

type State string

const (
	StateOpen     State = "open"
	StateDraining State = "draining"
	StateClosed   State = "closed"
)

// Event is what a subscriber receives: either a record or the terminal
// sentinel when the subscriber is closed for being too slow.
type Event struct {
	Record *dissect.Record
	Closed bool
	Reason string
}

// Subscriber is one live consumer's handle.
type Subscriber struct {
	ID    uuid.UUID
	queue chan Event

	mu           sync.Mutex
	state        State
	dropped      uint64
	dropStamps   []time.Time
}

// Recv returns the channel to read events from. It is closed when the bus
// closes the subscriber as a slow consumer; Unsubscribe marks the subscriber
// StateClosed but leaves the channel open.
func (s *Subscriber) Recv() <-chan Event { return s.queue }

// Dropped returns the current accumulated drop count.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// State returns the subscriber's current lifecycle state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bus is the broadcast bus singleton-per-engine. A bus instance is created
// per capture engine, not a global — multiple engines in tests don't share
// subscriber state.
type Bus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscriber
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uuid.UUID]*Subscriber)}
}

// Subscribe opens a new subscription with the default queue depth.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{
		ID:    uuid.New(),
		queue: make(chan Event, DefaultQueueDepth),
		state: StateOpen,
	}
	b.mu.Lock()
	b.subs[s.ID] = s
	b.mu.Unlock()
	return s
}

// Unsubscribe releases a subscription (disconnect/cancel path).
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	}
}

// Publish places rec into every open subscriber's queue, dropping the
// newest for any subscriber whose queue is full. Never blocks.
func (b *Bus) Publish(rec *dissect.Record) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, rec)
	}
}

func (b *Bus) deliver(s *Subscriber, rec *dissect.Record) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.queue <- Event{Record: rec}:
	default:
		s.recordDrop()
		if s.shouldClose() {
			b.closeSlow(s)
		}
	}
}

func (s *Subscriber) recordDrop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
	now := time.Now()
	s.dropStamps = append(s.dropStamps, now)
	cutoff := now.Add(-dropWindow)
	i := 0
	for i < len(s.dropStamps) && s.dropStamps[i].Before(cutoff) {
		i++
	}
	s.dropStamps = s.dropStamps[i:]
}

func (s *Subscriber) shouldClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dropStamps) >= dropThreshold
}

// closeSlow discards the subscriber's remaining queued items, delivers the
// terminal sentinel, and releases its handle.
func (b *Bus) closeSlow(s *Subscriber) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateDraining
	s.mu.Unlock()

drain:
	for {
		select {
		case <-s.queue:
		default:
			break drain
		}
	}

	select {
	case s.queue <- Event{Closed: true, Reason: "closed: slow consumer"}:
	default:
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.queue)

	b.mu.Lock()
	delete(b.subs, s.ID)
	b.mu.Unlock()

	log.Warnf("bus: subscriber %s closed: slow consumer (dropped=%d)", s.ID, s.Dropped())
}

// Count returns the number of currently open subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
