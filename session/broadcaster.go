package session

import (
	"sync"
	"sync/atomic"

	"github.com/conduitrun/conduit"
)

const subscriberCapacity = 256

// Subscriber is one consumer's view of a session's event stream.
type Subscriber struct {
	Events <-chan conduit.AgentEvent

	dropped *atomic.Uint64
	ch      chan conduit.AgentEvent
}

// Dropped reports how many events this subscriber has missed because it
// fell behind: the broadcaster never blocks a producer on a slow reader.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// broadcaster fans one event stream out to N subscribers with a bounded
// buffer per subscriber. A subscriber that falls behind the buffer depth
// loses events rather than stalling the producer, matching teacher's
// filter/filter.go channel-middleware idiom generalized to multicast.
type broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*Subscriber]struct{})}
}

func (b *broadcaster) subscribe() *Subscriber {
	ch := make(chan conduit.AgentEvent, subscriberCapacity)
	sub := &Subscriber{Events: ch, ch: ch, dropped: &atomic.Uint64{}}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *broadcaster) publish(ev conduit.AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// closeAll closes every subscriber's channel. Called once, when the
// underlying Runner's event stream ends.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
