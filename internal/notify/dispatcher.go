package notify

import (
	"context"
	"log/slog"
	"time"
)

// Publisher is what domain services depend on to announce events.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Emitter delivers one event synchronously.
type Emitter interface {
	Emit(ctx context.Context, event Event) int
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}

const drainTimeout = 5 * time.Second

// Dispatcher queues events and hands them to an Emitter on a background
// worker, so publishing never waits on webhook latency. When the queue is
// full the event is dropped and counted.
type Dispatcher struct {
	emitter Emitter
	queue   chan Event
	logger  *slog.Logger
	metrics *Metrics
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher with a queue of the given length.
func NewDispatcher(emitter Emitter, queueLength int, opts ...DispatcherOption) *Dispatcher {
	if queueLength <= 0 {
		queueLength = 1024
	}
	d := &Dispatcher{
		emitter: emitter,
		queue:   make(chan Event, queueLength),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish enqueues event without blocking.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	select {
	case d.queue <- event:
	default:
		d.metrics.incDropped()
		d.logger.WarnContext(ctx, "event queue full, dropping event",
			"event", event.Type,
			"passport_id", event.Agent.PassportID,
		)
	}
}

// Run emits queued events until ctx is cancelled, then drains what is left
// within a short grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case event := <-d.queue:
			d.emitter.Emit(ctx, event)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case event := <-d.queue:
			d.emitter.Emit(ctx, event)
		default:
			return
		}
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}
