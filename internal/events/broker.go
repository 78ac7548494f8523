// Package events fans out committed state changes to in-process subscribers.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the order engine.
const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypePromotionUpdated   = "promotion.updated"
	TypeReservationUpdated = "reservation.updated"
)

// Event is a coherent snapshot of one committed change.
type Event struct {
	Type       string          `json:"type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Status     string          `json:"status,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Filter selects which events a subscription receives. A nil Filter matches all.
type Filter func(Event) bool

// Handler is invoked once per matching event, in publish order.
// It must not call Cancel on its own Subscription.
type Handler func(Event)

// backlogWarning is the queue depth at which a slow subscriber is reported.
const backlogWarning = 256

// Subscription is a cancellable handle returned by Broker.Subscribe.
type Subscription struct {
	broker  *Broker
	filter  Filter
	handler Handler
	wake    chan struct{}
	done    chan struct{}
	exited  chan struct{}

	// qmu guards pending, the events not yet handed to handler.
	qmu     sync.Mutex
	pending []Event

	// mu is held while the handler runs so Cancel can wait it out.
	mu        sync.Mutex
	cancelled bool
	once      sync.Once
}

// Broker delivers every published event to each matching subscription.
// Each subscription has its own goroutine and queue, so a slow handler only
// delays itself.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers handler for events matching filter.
func (b *Broker) Subscribe(filter Filter, handler Handler) *Subscription {
	s := &Subscription{
		broker:  b,
		filter:  filter,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run()
	return s
}

// Publish enqueues e for every matching subscription and returns without
// waiting for any handler.
func (b *Broker) Publish(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.filter == nil || s.filter(e) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(e)
	}
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Backlog returns the number of events waiting for the handler.
func (s *Subscription) Backlog() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.pending)
}

func (s *Subscription) enqueue(e Event) {
	select {
	case <-s.done:
		return
	default:
	}

	s.qmu.Lock()
	s.pending = append(s.pending, e)
	if len(s.pending) == backlogWarning {
		log.Printf("WARNING: subscriber backlog reached %d events (latest %s)", backlogWarning, e.Type)
	}
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (Event, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.pending) == 0 {
		return Event{}, false
	}
	e := s.pending[0]
	s.pending[0] = Event{}
	s.pending = s.pending[1:]
	if len(s.pending) == 0 {
		s.pending = nil
	}
	return e, true
}

func (s *Subscription) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.wake:
			for {
				e, ok := s.next()
				if !ok {
					break
				}
				s.mu.Lock()
				if s.cancelled {
					s.mu.Unlock()
					return
				}
				s.handler(e)
				s.mu.Unlock()
			}
		case <-s.done:
			return
		}
	}
}

// Cancel stops delivery and discards queued events. When Cancel returns no
// handler call is in progress and none will start. Calling Cancel more than
// once is safe.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
		close(s.done)

		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()

		<-s.exited

		s.qmu.Lock()
		s.pending = nil
		s.qmu.Unlock()
	})
}
