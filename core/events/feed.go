package events

import (
	"sync"
	"sync/atomic"

	"whistlechain/core/types"
)

// Feed is an Emitter that copies every event to its live subscribers.
// Delivery never blocks the emitter: a subscriber whose buffer is full misses
// the event and its drop counter increases.
type Feed struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// Subscription receives events from a Feed until Close is called.
type Subscription struct {
	id      uint64
	feed    *Feed
	ch      chan *types.Event
	dropped atomic.Uint64
	once    sync.Once
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber with the supplied buffer size.
func (f *Feed) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := &Subscription{id: f.nextID, feed: f, ch: make(chan *types.Event, buffer)}
	f.subs[sub.id] = sub
	return sub
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Emit implements the Emitter interface.
func (f *Feed) Emit(evt Event) {
	rendered := Render(evt)
	if rendered == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		select {
		case sub.ch <- rendered:
		default:
			sub.dropped.Add(1)
		}
	}
}

// C returns the delivery channel. It is closed once the subscription ends.
func (s *Subscription) C() <-chan *types.Event { return s.ch }

// Dropped reports how many events were discarded because the buffer was
// full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription from its feed.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.id)
		s.feed.mu.Unlock()
		close(s.ch)
	})
}
