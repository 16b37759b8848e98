package event

import (
	"context"
	"sync/atomic"
	"time"

	"firestige.xyz/textcast/internal/log"
	"firestige.xyz/textcast/internal/metrics"
)

// Publisher delivers events to one sink. Implementations must be safe
// for concurrent use. Publish errors are the sink's problem: the core
// fires and forgets, so a failing sink must never affect the session or
// the capture pipeline.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
	Flush(ctx context.Context) error
}

// Fanout delivers each event to every target. A failing target is
// logged and counted, the rest still receive the event.
type Fanout struct {
	targets []Publisher
	logger  log.Logger
}

func NewFanout(targets ...Publisher) *Fanout {
	return &Fanout{
		targets: targets,
		logger:  log.GetLogger(),
	}
}

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	for _, t := range f.targets {
		metrics.EventsPublishedTotal.WithLabelValues(t.Name(), string(ev.Type)).Inc()
		if err := t.Publish(ctx, ev); err != nil {
			metrics.EventPublishErrorsTotal.WithLabelValues(t.Name()).Inc()
			f.logger.WithError(err).WithField("publisher", t.Name()).
				Warnf("event publish failed, type=%s", ev.Type)
		}
	}
	return nil
}

func (f *Fanout) Flush(ctx context.Context) error {
	for _, t := range f.targets {
		if err := t.Flush(ctx); err != nil {
			f.logger.WithError(err).WithField("publisher", t.Name()).Warn("event flush failed")
		}
	}
	return nil
}

// Async decouples publishing from delivery with a bounded queue. When
// the queue is full the event is dropped and counted rather than
// blocking the producer.
type Async struct {
	inner   Publisher
	queue   chan Event
	done    chan struct{}
	pending atomic.Int64
	dropped atomic.Uint64
	logger  log.Logger
}

func NewAsync(inner Publisher, capacity int) *Async {
	if capacity <= 0 {
		capacity = 256
	}
	a := &Async{
		inner:  inner,
		queue:  make(chan Event, capacity),
		done:   make(chan struct{}),
		logger: log.GetLogger(),
	}
	go a.deliverLoop()
	return a
}

func (a *Async) Name() string { return "async(" + a.inner.Name() + ")" }

func (a *Async) deliverLoop() {
	defer close(a.done)
	for ev := range a.queue {
		if err := a.inner.Publish(context.Background(), ev); err != nil {
			a.logger.WithError(err).Warn("async event delivery failed")
		}
		a.pending.Add(-1)
	}
}

func (a *Async) Publish(_ context.Context, ev Event) error {
	select {
	case a.queue <- ev:
		a.pending.Add(1)
	default:
		a.dropped.Add(1)
		metrics.EventsDroppedTotal.WithLabelValues(a.inner.Name()).Inc()
	}
	return nil
}

// Flush waits until every event published before the call has been
// delivered, bounded by ctx, then flushes the inner publisher.
func (a *Async) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for a.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return a.inner.Flush(ctx)
}

// Close stops the delivery goroutine after draining queued events.
// Publish must not be called after Close.
func (a *Async) Close(ctx context.Context) error {
	close(a.queue)
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.inner.Flush(ctx)
}

// Dropped reports how many events were discarded on queue overflow.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// LogPublisher writes events to the application log at debug level.
// Useful as an always-on sink during development.
type LogPublisher struct {
	logger log.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: log.GetLogger()}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	if !p.logger.IsDebugEnabled() {
		return nil
	}
	p.logger.WithFields(map[string]interface{}{
		"type":    string(ev.Type),
		"session": ev.SessionID,
	}).Debugf("event: %+v", ev.Payload)
	return nil
}

func (p *LogPublisher) Flush(context.Context) error { return nil }
