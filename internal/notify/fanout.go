// Package notify pushes agent events to owner-configured webhooks and keeps
// an in-memory audit log of every event plus a log of every delivery attempt.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/platform/ringbuffer"
)

const (
	// DefaultTimeout bounds a single delivery attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultSinkTimeout bounds one event's mirror to every audit sink.
	DefaultSinkTimeout = 5 * time.Second

	userAgent    = "AgentPass-Webhook/1.0"
	secretHeader = "X-AgentPass-Secret"
)

// AuditSink mirrors the audit log somewhere durable.
type AuditSink interface {
	Record(ctx context.Context, event Event) error
}

// Fanout owns the webhook destinations and both logs.
type Fanout struct {
	mu       sync.RWMutex
	webhooks []WebhookConfig

	client      *http.Client
	timeout     time.Duration
	sinkTimeout time.Duration
	auditLog    *ringbuffer.Buffer[Event]
	deliveryLog *ringbuffer.Buffer[DeliveryRecord]
	sinks       []AuditSink
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

type Option func(*Fanout)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Fanout) {
		f.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(f *Fanout) {
		f.metrics = m
	}
}

// WithHTTPClient replaces the client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fanout) {
		f.client = client
	}
}

// WithTimeout bounds every delivery attempt. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithSinkTimeout bounds how long Emit waits on the audit sinks. Non-positive
// values keep the default.
func WithSinkTimeout(d time.Duration) Option {
	return func(f *Fanout) {
		if d > 0 {
			f.sinkTimeout = d
		}
	}
}

// WithLogCapacity sets the size of both the audit and the delivery log.
func WithLogCapacity(capacity int) Option {
	return func(f *Fanout) {
		f.auditLog = ringbuffer.New[Event](capacity)
		f.deliveryLog = ringbuffer.New[DeliveryRecord](capacity)
	}
}

// WithAuditSink mirrors every emitted event to sink.
func WithAuditSink(sink AuditSink) Option {
	return func(f *Fanout) {
		f.sinks = append(f.sinks, sink)
	}
}

// New creates a Fanout with no destinations.
func New(opts ...Option) *Fanout {
	f := &Fanout{
		client:      &http.Client{},
		timeout:     DefaultTimeout,
		sinkTimeout: DefaultSinkTimeout,
		auditLog:    ringbuffer.New[Event](ringbuffer.DefaultCapacity),
		deliveryLog: ringbuffer.New[DeliveryRecord](ringbuffer.DefaultCapacity),
		logger:      slog.New(slog.DiscardHandler),
		tracer:      otel.Tracer("agentpass/notify"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AddWebhook appends a destination. Duplicates are allowed.
func (f *Fanout) AddWebhook(config WebhookConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, config.clone())
}

// RemoveWebhook removes the first destination with the given URL.
func (f *Fanout) RemoveWebhook(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.webhooks {
		if w.URL == url {
			f.webhooks = append(f.webhooks[:i], f.webhooks[i+1:]...)
			return true
		}
	}
	return false
}

// ListWebhooks returns a copy of the destinations in registration order.
func (f *Fanout) ListWebhooks() []WebhookConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]WebhookConfig, len(f.webhooks))
	for i, w := range f.webhooks {
		out[i] = w.clone()
	}
	return out
}

// AuditLog returns every retained event, oldest first.
func (f *Fanout) AuditLog() []Event {
	return f.auditLog.Snapshot()
}

// DeliveryLog returns every retained delivery attempt, oldest first.
func (f *Fanout) DeliveryLog() []DeliveryRecord {
	return f.deliveryLog.Snapshot()
}

// Emit records event in the audit log and delivers it to every subscribed
// destination concurrently. Deliveries are independent: one failing never
// prevents the others. Audit sinks run alongside the deliveries under their
// own timeout, so a stalled sink never holds back a webhook. It returns the
// number of successful deliveries.
func (f *Fanout) Emit(ctx context.Context, event Event) int {
	f.auditLog.Append(event)
	f.metrics.observeEmit(event.Type)

	var g errgroup.Group
	if len(f.sinks) > 0 {
		g.Go(func() error {
			f.mirror(ctx, event)
			return nil
		})
	}

	var succeeded atomic.Int64
	for _, target := range f.ListWebhooks() {
		if !target.Accepts(event.Type) {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			err := f.Deliver(ctx, target, event)
			record := DeliveryRecord{
				EventType: event.Type,
				URL:       target.URL,
				Status:    DeliverySuccess,
				Timestamp: time.Now().UTC(),
			}
			if err != nil {
				record.Status = DeliveryFailed
				record.Error = err.Error()
				f.logger.WarnContext(ctx, "webhook delivery failed",
					"event", event.Type,
					"url", target.URL,
					"error", err,
				)
			} else {
				succeeded.Add(1)
			}
			f.deliveryLog.Append(record)
			f.metrics.observeDelivery(record.Status, start)
			return nil
		})
	}
	_ = g.Wait()
	return int(succeeded.Load())
}

// Deliver POSTs event to a single destination. There is no retry.
func (f *Fanout) Deliver(ctx context.Context, config WebhookConfig, event Event) error {
	ctx, span := f.tracer.Start(ctx, "notify.deliver", trace.WithAttributes(
		attribute.String("event.type", string(event.Type)),
		attribute.String("webhook.url", config.URL),
	))
	defer span.End()

	err := f.post(ctx, config, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
	}
	return err
}

func (f *Fanout) post(ctx context.Context, config WebhookConfig, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode event")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.URL, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDeliveryFailed, "invalid webhook url")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if config.Secret != "" {
		req.Header.Set(secretHeader, config.Secret)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDeliveryFailed, "webhook request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return dErrors.New(dErrors.CodeDeliveryFailed, fmt.Sprintf("webhook responded with status %d", resp.StatusCode))
	}
	return nil
}

func (f *Fanout) mirror(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, f.sinkTimeout)
	defer cancel()
	for _, sink := range f.sinks {
		if err := sink.Record(ctx, event); err != nil {
			f.logger.WarnContext(ctx, "audit sink failed", "event", event.Type, "error", err)
		}
	}
}
