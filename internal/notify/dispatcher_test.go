package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingEmitter struct {
	mu      sync.Mutex
	emitted []Event
	gate    chan struct{}
}

func (b *blockingEmitter) Emit(_ context.Context, event Event) int {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitted = append(b.emitted, event)
	return 0
}

func (b *blockingEmitter) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.emitted)
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(&blockingEmitter{}, 2, WithDispatcherMetrics(metrics))

	done := make(chan struct{})
	go func() {
		for range 5 {
			d.Publish(context.Background(), testEvent(EventSMSReceived))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	assert.Equal(t, 2, d.Pending())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.EventsDropped))
}

func TestDispatcherRunDeliversInOrder(t *testing.T) {
	emitter := &blockingEmitter{}
	d := NewDispatcher(emitter, 8)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	d.Publish(ctx, testEvent(EventAgentRegistered))
	d.Publish(ctx, testEvent(EventAgentRevoked))

	require.Eventually(t, func() bool { return emitter.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.True(t, errors.Is(<-errCh, context.Canceled))

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	assert.Equal(t, EventAgentRegistered, emitter.emitted[0].Type)
	assert.Equal(t, EventAgentRevoked, emitter.emitted[1].Type)
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	emitter := &blockingEmitter{}
	d := NewDispatcher(emitter, 8)
	d.Publish(context.Background(), testEvent(EventAgentDeleted))
	d.Publish(context.Background(), testEvent(EventAgentDeleted))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = d.Run(ctx)

	assert.Equal(t, 2, emitter.count())
	assert.Zero(t, d.Pending())
}
