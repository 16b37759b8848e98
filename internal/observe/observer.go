// Package observe runs the per-session observation pipeline: when a
// session starts it opens a capture source filtered to the
// controller/device pair and an aggregator consuming its records; when
// the session ends it drains and keeps the final statistics. The
// pipeline is wired to the session controller only through lifecycle
// hooks and never shares mutable state with it.
package observe

import (
	"context"
	"sync"
	"time"

	"firestige.xyz/textcast/internal/aggregate"
	"firestige.xyz/textcast/internal/capture"
	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/event"
	"firestige.xyz/textcast/internal/log"
)

// Config carries the observation settings, resolved at startup.
type Config struct {
	Enabled         bool
	Interface       string
	SnapLen         int
	PollTimeout     time.Duration
	ChannelCapacity int
	LocalHost       string // controller side of the pair filter
	DeviceHost      string
	Window          int
	BatchSize       int
	FlushInterval   time.Duration
}

// sourceRunner is the slice of capture.Source the observer drives.
type sourceRunner interface {
	Run(ctx context.Context, out chan<- core.PacketRecord) error
	Stats() capture.Stats
}

// Observer owns at most one running pipeline, keyed to the live
// session. It implements the session lifecycle hook interface.
type Observer struct {
	cfg Config
	pub event.Publisher

	// newSource builds the capture side; replaced by tests.
	newSource func(capture.Config) sourceRunner

	mu        sync.Mutex
	running   bool
	sessionID string
	degraded  string // open failure reason; empty while capturing
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	source    sourceRunner
	agg       *aggregate.Aggregator
	last      core.TrafficSnapshot
}

// New builds an observer. pub receives capture state events and the
// aggregated packet batches.
func New(cfg Config, pub event.Publisher) *Observer {
	o := &Observer{cfg: cfg, pub: pub}
	o.newSource = func(c capture.Config) sourceRunner { return capture.NewSource(c) }
	return o
}

// Running reports whether a pipeline is up.
func (o *Observer) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running && o.degraded == ""
}

// SessionStarted starts the pipeline for the new session. The capture
// handle is opened inside the source goroutine, so the hook returns
// immediately; an open failure degrades this session to running without
// observation instead of failing it.
func (o *Observer) SessionStarted(id string) {
	if !o.cfg.Enabled {
		return
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}

	filter := capture.PairFilter(o.cfg.LocalHost, o.cfg.DeviceHost)
	src := o.newSource(capture.Config{
		Interface:   o.cfg.Interface,
		Filter:      filter,
		SnapLen:     o.cfg.SnapLen,
		PollTimeout: o.cfg.PollTimeout,
	})
	agg := aggregate.New(aggregate.Config{
		Window:        o.cfg.Window,
		BatchSize:     o.cfg.BatchSize,
		FlushInterval: o.cfg.FlushInterval,
	}, id, o.pub)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan core.PacketRecord, o.cfg.ChannelCapacity)
	wg := &sync.WaitGroup{}

	o.running = true
	o.sessionID = id
	o.degraded = ""
	o.cancel = cancel
	o.wg = wg
	o.source = src
	o.agg = agg
	o.mu.Unlock()

	o.publishState(id, true, "")

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := src.Run(ctx, ch)
		// The source is the channel's only producer; closing it lets
		// the aggregator drain and exit.
		close(ch)
		if err != nil {
			log.GetLogger().Warnf("observation disabled for session %s: %v", id, err)
			o.mu.Lock()
			if o.sessionID == id {
				o.degraded = err.Error()
			}
			o.mu.Unlock()
			o.publishState(id, false, err.Error())
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		agg.Run(context.Background(), ch)
	}()
}

// SessionEnded drains the pipeline and keeps its final snapshot for
// later stats reads. Bounded by the source's poll timeout.
func (o *Observer) SessionEnded(id string) {
	o.mu.Lock()
	if !o.running || o.sessionID != id {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	wg := o.wg
	src := o.source
	agg := o.agg
	degraded := o.degraded
	o.mu.Unlock()

	cancel()
	wg.Wait()

	snap := agg.Snapshot()
	snap.Dropped = src.Stats().Dropped

	o.mu.Lock()
	o.last = snap
	o.running = false
	o.sessionID = ""
	o.cancel = nil
	o.wg = nil
	o.source = nil
	o.agg = nil
	o.mu.Unlock()

	if degraded == "" {
		o.publishState(id, false, "session ended")
	}
	log.GetLogger().Infof("observation for session %s ended: %d packets, %d bytes",
		id, snap.TotalPackets, snap.TotalBytes)
}

// Stop tears down whatever pipeline is running. Used on shutdown.
func (o *Observer) Stop() {
	o.mu.Lock()
	id := o.sessionID
	o.mu.Unlock()
	if id != "" {
		o.SessionEnded(id)
	}
}

// Snapshot returns the live statistics while a pipeline runs, or the
// final statistics of the last one.
func (o *Observer) Snapshot() core.TrafficSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running && o.agg != nil {
		snap := o.agg.Snapshot()
		snap.Capturing = o.degraded == ""
		snap.Dropped = o.source.Stats().Dropped
		return snap
	}
	return o.last
}

func (o *Observer) publishState(id string, running bool, reason string) {
	if o.pub == nil {
		return
	}
	_ = o.pub.Publish(context.Background(), event.New(event.TypeCaptureState, id, event.CaptureStatePayload{
		Running:   running,
		Interface: o.cfg.Interface,
		Filter:    capture.PairFilter(o.cfg.LocalHost, o.cfg.DeviceHost),
		Reason:    reason,
	}))
}
