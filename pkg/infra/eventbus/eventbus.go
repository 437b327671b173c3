// Package eventbus provides the in-process publish/subscribe channel that
// the monitoring loops emit their state transitions onto: collected
// snapshots, fired alerts, delivered escalations and scaling directives.
// Subscribers (history writer, tests) consume asynchronously so a slow
// subscriber never stalls a tick.
package eventbus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Well-known event domains.
const (
	DomainMonitor = "monitor"
	DomainAlert   = "alert"
	DomainScaling = "scaling"
)

// Event is a single state transition published on the bus.
type Event interface {
	Type() string
	Domain() string
	Payload() any
	Timestamp() time.Time
}

// BaseEvent is the canonical Event implementation used by publishers.
type BaseEvent struct {
	EventDomain string
	EventType   string
	Data        any
	At          time.Time
}

func NewEvent(domain, eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventDomain: domain,
		EventType:   eventType,
		Data:        payload,
		At:          time.Now(),
	}
}

func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Domain() string       { return e.EventDomain }
func (e *BaseEvent) Payload() any         { return e.Data }
func (e *BaseEvent) Timestamp() time.Time { return e.At }

type SubscriptionID string

type Handler func(event Event) error

// Filter decides whether a subscription receives an event.
type Filter func(event Event) bool

// Bus is the publish/subscribe contract the loops depend on.
type Bus interface {
	Publish(event Event) error
	Subscribe(handler Handler, filters ...Filter) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	Close() error
}

// InMemoryBus dispatches events to subscribers from a small worker pool
// behind a buffered channel.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[SubscriptionID]*subscription
	events      chan Event
	workers     int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closed      bool
}

type subscription struct {
	handler Handler
	filters []Filter
}

type Option func(*busOptions)

type busOptions struct {
	buffer  int
	workers int
}

func WithBuffer(n int) Option {
	return func(o *busOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(o *busOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

func NewInMemoryBus(opts ...Option) *InMemoryBus {
	o := &busOptions{buffer: 256, workers: 2}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &InMemoryBus{
		subscribers: make(map[SubscriptionID]*subscription),
		events:      make(chan Event, o.buffer),
		workers:     o.workers,
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.drain()
	}
	return b
}

// Publish enqueues an event for asynchronous dispatch. It only blocks when
// the buffer is full and never after Close. The read lock is held across
// the send so Close cannot close the channel under a publisher mid-send.
func (b *InMemoryBus) Publish(event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("eventbus is closed")
	}

	select {
	case b.events <- event:
		return nil
	case <-b.ctx.Done():
		return fmt.Errorf("eventbus is closed")
	}
}

func (b *InMemoryBus) Subscribe(handler Handler, filters ...Filter) (SubscriptionID, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("eventbus is closed")
	}

	id := SubscriptionID(newSubscriptionID())
	b.subscribers[id] = &subscription{handler: handler, filters: filters}
	return id, nil
}

func (b *InMemoryBus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[id]; !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subscribers, id)
	return nil
}

// Close stops dispatch after draining already-queued events.
func (b *InMemoryBus) Close() error {
	// Cancel before taking the write lock: a publisher blocked on a full
	// buffer holds the read lock until its select returns.
	b.cancel()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	b.subscribers = make(map[SubscriptionID]*subscription)
	b.mu.Unlock()
	return nil
}

func (b *InMemoryBus) drain() {
	defer b.wg.Done()
	for event := range b.events {
		b.dispatch(event)
	}
}

func (b *InMemoryBus) dispatch(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !matches(event, sub.filters) {
			continue
		}
		// Handler errors are the subscriber's problem, not the publisher's.
		_ = sub.handler(event)
	}
}

func matches(event Event, filters []Filter) bool {
	for _, f := range filters {
		if !f(event) {
			return false
		}
	}
	return true
}

func FilterByDomain(domain string) Filter {
	return func(event Event) bool { return event.Domain() == domain }
}

func FilterByType(eventType string) Filter {
	return func(event Event) bool { return event.Type() == eventType }
}

func newSubscriptionID() string {
	buf := make([]byte, 12)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
