package remote

import (
	"slices"
	"sync"
)

// Hub fans auth events out to subscribers.
//
// Publish never blocks and never calls subscribers on the publishing
// goroutine. A single dispatch goroutine delivers events in FIFO order, so
// a SIGNED_IN followed by SIGNED_OUT is observed in that order.
//
// Thread-safety: all methods may be called from any goroutine.
type Hub struct {
	mu      sync.Mutex
	subs    map[int64]func(AuthEvent)
	nextID  int64
	events  []AuthEvent
	signal  chan struct{} // buffered, size 1
	closed  bool
	started bool
	done    chan struct{}
}

// NewHub creates a hub. The dispatch goroutine starts on first Publish.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[int64]func(AuthEvent)),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Subscribe registers fn and returns its handle.
func (h *Hub) Subscribe(fn func(AuthEvent)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs[id] = fn
	return &hubSubscription{hub: h, id: id}
}

// Publish enqueues ev for delivery. Returns false once the hub is closed.
func (h *Hub) Publish(ev AuthEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.events = append(h.events, ev)
	if !h.started {
		h.started = true
		go h.dispatch()
	}

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case h.signal <- struct{}{}:
	default:
	}
	return true
}

// Close stops delivery. Events not yet dispatched are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	started := h.started
	close(h.signal)
	h.mu.Unlock()

	if started {
		<-h.done
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) dispatch() {
	defer close(h.done)
	for range h.signal {
		for {
			ev, subs, ok := h.next()
			if !ok {
				break
			}
			for _, fn := range subs {
				fn(ev)
			}
		}
	}
}

// next pops the front event and snapshots subscribers under the lock.
func (h *Hub) next() (AuthEvent, []func(AuthEvent), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.events) == 0 || h.closed {
		return AuthEvent{}, nil, false
	}
	ev := h.events[0]
	h.events[0] = AuthEvent{}
	h.events = h.events[1:]

	ids := make([]int64, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(AuthEvent), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, h.subs[id])
	}
	return ev, subs, true
}

type hubSubscription struct {
	hub  *Hub
	id   int64
	once sync.Once
}

// Unsubscribe removes the registration. Safe to call more than once.
func (s *hubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		delete(s.hub.subs, s.id)
	})
}
