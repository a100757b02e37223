package alert

import (
	"context"
	"log/slog"
	"sync/atomic"

	"touristguard/internal/domain"
)

// Sink receives emitted alerts. Publish is fire-and-forget: implementations
// log their own delivery failures and must not block the caller for long.
type Sink interface {
	Publish(alert domain.Alert)
}

type SinkFunc func(alert domain.Alert)

func (f SinkFunc) Publish(alert domain.Alert) { f(alert) }

// Fanout publishes every alert to each sink in order.
type Fanout []Sink

func (f Fanout) Publish(alert domain.Alert) {
	for _, s := range f {
		if s != nil {
			s.Publish(alert)
		}
	}
}

// Discard drops every alert.
type Discard struct{}

func (Discard) Publish(domain.Alert) {}

// Resolver is implemented by sinks that also mirror resolutions.
type Resolver interface {
	AlertResolved(alert domain.Alert)
}

// Async decouples a slow sink from the evaluation path. Publish and
// AlertResolved enqueue without blocking and drop the event when the queue
// is full; Run delivers queued events to the wrapped sink, in the order they
// were accepted, until ctx is cancelled. A resolution therefore never
// overtakes the insert of the alert it resolves.
type Async struct {
	next    Sink
	queue   chan domain.AlertDelta
	logger  *slog.Logger
	dropped atomic.Int64
	onDrop  func(domain.Alert)
}

func NewAsync(next Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	return &Async{
		next:   next,
		queue:  make(chan domain.AlertDelta, buffer),
		logger: logger,
	}
}

// OnDrop registers a callback invoked for every dropped event.
func (a *Async) OnDrop(fn func(domain.Alert)) *Async {
	a.onDrop = fn
	return a
}

func (a *Async) Publish(alert domain.Alert) {
	a.enqueue(domain.AlertDelta{Type: domain.DeltaNew, Alert: alert})
}

// AlertResolved queues a resolution behind any pending publishes. It is a
// no-op when the wrapped sink does not implement Resolver.
func (a *Async) AlertResolved(alert domain.Alert) {
	if _, ok := a.next.(Resolver); !ok {
		return
	}
	a.enqueue(domain.AlertDelta{Type: domain.DeltaResolved, Alert: alert})
}

func (a *Async) enqueue(d domain.AlertDelta) {
	select {
	case a.queue <- d:
	default:
		a.dropped.Add(1)
		a.logger.Warn("alert queue full, dropping event",
			"alert_id", d.Alert.ID,
			"tourist_id", d.Alert.TouristID,
			"type", d.Alert.Type,
			"event", d.Type,
		)
		if a.onDrop != nil {
			a.onDrop(d.Alert)
		}
	}
}

func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case d := <-a.queue:
			a.deliver(d)
		}
	}
}

func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Async) deliver(d domain.AlertDelta) {
	switch d.Type {
	case domain.DeltaResolved:
		if r, ok := a.next.(Resolver); ok {
			r.AlertResolved(d.Alert)
		}
	default:
		a.next.Publish(d.Alert)
	}
}

func (a *Async) drain() {
	for {
		select {
		case d := <-a.queue:
			a.deliver(d)
		default:
			return
		}
	}
}
