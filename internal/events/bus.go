// Package events implements the peer event bus the depth pile manager uses
// to learn when a sensor or GNSS service becomes active, goes inactive, or
// has a fresh reading ready to correlate against the current fix: a
// buffered channel with non-blocking sends and a context-cancelled run
// loop on the subscriber side.
package events

import (
	"context"
	"sync"

	"github.com/bramburn/argos-tracker/internal/model"
)

// ServiceEventType classifies a ServiceEvent.
type ServiceEventType int

const (
	// ServiceActive reports a service beginning a sampling/acquisition
	// session (e.g. the GNSS driver starting a fix attempt).
	ServiceActive ServiceEventType = iota
	// ServiceInactive reports a service session ending, successfully or
	// not.
	ServiceInactive
	// ServiceLogUpdated reports a fresh sample ready to be committed to
	// the depth pile.
	ServiceLogUpdated
)

func (t ServiceEventType) String() string {
	switch t {
	case ServiceActive:
		return "SERVICE_ACTIVE"
	case ServiceInactive:
		return "SERVICE_INACTIVE"
	case ServiceLogUpdated:
		return "SERVICE_LOG_UPDATED"
	default:
		return "UNKNOWN"
	}
}

// ServiceEvent is the payload delivered to every bus subscriber.
type ServiceEvent struct {
	Type    ServiceEventType
	Service model.ServiceID
	Fix     model.GpsFix
	Sample  model.SensorSample
}

// subscriber is one registered listener; each gets its own buffered channel
// so a slow consumer cannot stall the others.
type subscriber struct {
	ch chan ServiceEvent
}

// Bus fans a single stream of ServiceEvents out to any number of
// subscribers. Safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]*subscriber)}
}

// Subscribe registers a new listener and returns a receive-only channel of
// events plus an Unsubscribe func to release it. The channel is buffered;
// if a subscriber falls behind, Notify drops events for it rather than
// blocking the publisher.
func (b *Bus) Subscribe() (<-chan ServiceEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan ServiceEvent, 32)}
	b.subscribers[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			close(s.ch)
			delete(b.subscribers, id)
		}
	}
	return sub.ch, unsubscribe
}

// Notify publishes an event to every current subscriber.
func (b *Bus) Notify(evt ServiceEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// NotifyActive is a convenience wrapper for a SERVICE_ACTIVE event.
func (b *Bus) NotifyActive(service model.ServiceID) {
	b.Notify(ServiceEvent{Type: ServiceActive, Service: service})
}

// NotifyInactive is a convenience wrapper for a SERVICE_INACTIVE event.
func (b *Bus) NotifyInactive(service model.ServiceID) {
	b.Notify(ServiceEvent{Type: ServiceInactive, Service: service})
}

// NotifyLogUpdated is a convenience wrapper for a SERVICE_LOG_UPDATED event
// carrying the fix and sample that triggered it.
func (b *Bus) NotifyLogUpdated(service model.ServiceID, fix model.GpsFix, sample model.SensorSample) {
	b.Notify(ServiceEvent{Type: ServiceLogUpdated, Service: service, Fix: fix, Sample: sample})
}

// WaitFor blocks until ctx is cancelled, ch is closed, or an event matching
// pred arrives on ch, returning the first such event and true; on
// cancellation or a closed channel it returns false.
func WaitFor(ctx context.Context, ch <-chan ServiceEvent, pred func(ServiceEvent) bool) (ServiceEvent, bool) {
	for {
		select {
		case <-ctx.Done():
			return ServiceEvent{}, false
		case evt, ok := <-ch:
			if !ok {
				return ServiceEvent{}, false
			}
			if pred(evt) {
				return evt, true
			}
		}
	}
}
