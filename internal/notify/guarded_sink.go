package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agentpass/pkg/platform/circuit"
	"agentpass/pkg/platform/clock"
)

// DefaultProbeInterval is how often an open sink is retried.
const DefaultProbeInterval = 30 * time.Second

// GuardedSink skips a failing audit sink while its circuit is open, letting
// one probe event through per interval.
type GuardedSink struct {
	sink          AuditSink
	breaker       *circuit.Breaker
	clock         clock.Clock
	probeInterval time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	lastProbe time.Time
	skipped   int
}

// NewGuardedSink wraps sink with breaker. A nil clock uses the wall clock.
func NewGuardedSink(sink AuditSink, breaker *circuit.Breaker, clk clock.Clock, probeInterval time.Duration, logger *slog.Logger) *GuardedSink {
	if clk == nil {
		clk = clock.Real()
	}
	if probeInterval <= 0 {
		probeInterval = DefaultProbeInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GuardedSink{
		sink:          sink,
		breaker:       breaker,
		clock:         clk,
		probeInterval: probeInterval,
		logger:        logger,
	}
}

// Record forwards event unless the circuit is open and no probe is due.
// Skipped events are counted, not reported as errors.
func (g *GuardedSink) Record(ctx context.Context, event Event) error {
	if g.breaker.IsOpen() && !g.probeDue() {
		g.mu.Lock()
		g.skipped++
		g.mu.Unlock()
		return nil
	}

	if err := g.sink.Record(ctx, event); err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.markProbe()
			g.logger.WarnContext(ctx, "audit sink circuit opened", "sink", g.breaker.Name(), "error", err)
		}
		return err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.mu.Lock()
		skipped := g.skipped
		g.skipped = 0
		g.mu.Unlock()
		g.logger.InfoContext(ctx, "audit sink circuit closed", "sink", g.breaker.Name(), "skipped", skipped)
	}
	return nil
}

// Skipped returns how many events were not mirrored since the circuit last closed.
func (g *GuardedSink) Skipped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skipped
}

func (g *GuardedSink) probeDue() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if now.Sub(g.lastProbe) < g.probeInterval {
		return false
	}
	g.lastProbe = now
	return true
}

func (g *GuardedSink) markProbe() {
	g.mu.Lock()
	g.lastProbe = g.clock.Now()
	g.mu.Unlock()
}
