// Package aggregate consumes the captured packet stream and maintains
// the rolling traffic statistics: totals, per-protocol counts, bytes,
// and a bounded window of recent packets. The Run goroutine is the
// stream's only consumer and the only writer; readers take an immutable
// snapshot copy.
package aggregate

import (
	"context"
	"sync"
	"time"

	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/event"
	"firestige.xyz/textcast/internal/log"
)

const (
	defaultWindow        = 50
	defaultBatchSize     = 16
	defaultFlushInterval = time.Second
)

// Config carries the aggregation tunables.
type Config struct {
	Window        int           // recent-window ring capacity
	BatchSize     int           // publish after this many records
	FlushInterval time.Duration // or after this long, whichever first
}

// Aggregator folds packet records into rolling statistics and publishes
// them in batches.
type Aggregator struct {
	cfg       Config
	pub       event.Publisher
	sessionID string

	mu        sync.Mutex
	total     uint64
	bytes     uint64
	byProto   map[string]uint64
	window    *recentWindow
	startedAt time.Time
	lastAt    time.Time

	// batch is the publish backlog, touched only by the Run goroutine.
	batch []core.PacketRecord
}

// New builds an aggregator for one session. pub may be nil, which turns
// batch publication off while keeping the counters.
func New(cfg Config, sessionID string, pub event.Publisher) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &Aggregator{
		cfg:       cfg,
		pub:       pub,
		sessionID: sessionID,
		byProto:   make(map[string]uint64),
		window:    newRecentWindow(cfg.Window),
		startedAt: time.Now(),
		batch:     make([]core.PacketRecord, 0, cfg.BatchSize),
	}
}

// Run consumes records until ctx is canceled or in closes, flushing the
// pending batch on the way out. Blocking call.
func (a *Aggregator) Run(ctx context.Context, in <-chan core.PacketRecord) {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flush()
			return
		case rec, ok := <-in:
			if !ok {
				a.flush()
				return
			}
			a.consume(rec)
			if len(a.batch) >= a.cfg.BatchSize {
				a.flush()
			}
		case <-ticker.C:
			a.flush()
		}
	}
}

func (a *Aggregator) consume(rec core.PacketRecord) {
	a.mu.Lock()
	a.total++
	a.bytes += uint64(rec.Length)
	a.byProto[rec.Protocol]++
	a.window.push(rec)
	a.lastAt = rec.Timestamp
	a.mu.Unlock()

	a.batch = append(a.batch, rec)
}

// flush publishes the pending batch. Publish failures are swallowed
// here: the counters above are already settled and must never be held
// hostage by a slow or absent subscriber.
func (a *Aggregator) flush() {
	if len(a.batch) == 0 {
		return
	}
	records := append([]core.PacketRecord(nil), a.batch...)
	a.batch = a.batch[:0]
	if a.pub == nil {
		return
	}

	a.mu.Lock()
	total, bytes := a.total, a.bytes
	a.mu.Unlock()

	ev := event.New(event.TypePacketBatch, a.sessionID, event.PacketBatchPayload{
		Records:      records,
		TotalPackets: total,
		TotalBytes:   bytes,
	})
	if err := a.pub.Publish(context.Background(), ev); err != nil {
		log.GetLogger().Debugf("packet batch publish: %v", err)
	}
}

// Snapshot returns an immutable copy of the statistics, safe to hold
// across further aggregation.
func (a *Aggregator) Snapshot() core.TrafficSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	byProto := make(map[string]uint64, len(a.byProto))
	for k, v := range a.byProto {
		byProto[k] = v
	}
	return core.TrafficSnapshot{
		SessionID:     a.sessionID,
		TotalPackets:  a.total,
		TotalBytes:    a.bytes,
		ByProtocol:    byProto,
		RecentPackets: a.window.ordered(),
		StartedAt:     a.startedAt,
		LastPacketAt:  a.lastAt,
	}
}
