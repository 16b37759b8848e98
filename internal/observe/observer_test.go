package observe

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/textcast/internal/capture"
	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/event"
)

type fakeSource struct {
	recs  []core.PacketRecord
	err   error
	stats capture.Stats
}

func (f *fakeSource) Run(ctx context.Context, out chan<- core.PacketRecord) error {
	if f.err != nil {
		return f.err
	}
	for _, r := range f.recs {
		select {
		case out <- r:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func (f *fakeSource) Stats() capture.Stats { return f.stats }

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, ev event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Flush(context.Context) error { return nil }

func (p *recordingPublisher) captureStates() []event.CaptureStatePayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.CaptureStatePayload
	for _, ev := range p.events {
		if ev.Type == event.TypeCaptureState {
			out = append(out, ev.Payload.(event.CaptureStatePayload))
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		Enabled:         true,
		Interface:       "fake0",
		SnapLen:         1600,
		PollTimeout:     10 * time.Millisecond,
		ChannelCapacity: 64,
		LocalHost:       "192.168.1.10",
		DeviceHost:      "192.168.1.50",
		Window:          10,
		BatchSize:       2,
		FlushInterval:   10 * time.Millisecond,
	}
}

func record(proto string, length int) core.PacketRecord {
	return core.PacketRecord{Timestamp: time.Now(), Protocol: proto, Length: length}
}

func waitFor(t *testing.T, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipelineFollowsSessionLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	o := New(testConfig(), pub)
	src := &fakeSource{
		recs: []core.PacketRecord{
			record(core.ProtoTCP, 60),
			record(core.ProtoTCP, 60),
			record(core.ProtoUDP, 90),
		},
		stats: capture.Stats{Received: 3, Dropped: 1},
	}
	o.newSource = func(capture.Config) sourceRunner { return src }

	o.SessionStarted("s1")
	waitFor(t, "records aggregated", func() bool {
		return o.Snapshot().TotalPackets == 3
	})

	snap := o.Snapshot()
	assert.True(t, snap.Capturing)
	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, uint64(2), snap.ByProtocol[core.ProtoTCP])

	o.SessionEnded("s1")
	assert.False(t, o.Running())

	final := o.Snapshot()
	assert.False(t, final.Capturing)
	assert.Equal(t, uint64(3), final.TotalPackets)
	assert.Equal(t, uint64(210), final.TotalBytes)
	assert.Equal(t, uint64(1), final.Dropped)

	states := pub.captureStates()
	require.Len(t, states, 2)
	assert.True(t, states[0].Running)
	assert.Equal(t, "fake0", states[0].Interface)
	assert.Contains(t, states[0].Filter, "192.168.1.50")
	assert.False(t, states[1].Running)
}

func TestCaptureUnavailableDegradesQuietly(t *testing.T) {
	pub := &recordingPublisher{}
	o := New(testConfig(), pub)
	o.newSource = func(capture.Config) sourceRunner {
		return &fakeSource{err: fmt.Errorf("%w: permission denied", core.ErrCaptureUnavailable)}
	}

	o.SessionStarted("s1")
	waitFor(t, "degraded state", func() bool { return !o.Running() })

	snap := o.Snapshot()
	assert.False(t, snap.Capturing)
	assert.Equal(t, uint64(0), snap.TotalPackets)

	// Session teardown must not hang on the dead pipeline.
	done := make(chan struct{})
	go func() {
		o.SessionEnded("s1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session end hung on unavailable capture")
	}

	states := pub.captureStates()
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	assert.False(t, last.Running)
	assert.Contains(t, last.Reason, "permission denied")
}

func TestDisabledObserverIsInert(t *testing.T) {
	pub := &recordingPublisher{}
	cfg := testConfig()
	cfg.Enabled = false
	o := New(cfg, pub)
	o.newSource = func(capture.Config) sourceRunner {
		t.Fatal("source must not be built when capture is disabled")
		return nil
	}

	o.SessionStarted("s1")
	o.SessionEnded("s1")

	assert.False(t, o.Running())
	assert.Equal(t, uint64(0), o.Snapshot().TotalPackets)
	assert.Empty(t, pub.captureStates())
}

func TestStopTearsDownRunningPipeline(t *testing.T) {
	o := New(testConfig(), &recordingPublisher{})
	o.newSource = func(capture.Config) sourceRunner { return &fakeSource{} }

	o.SessionStarted("s1")
	waitFor(t, "pipeline up", o.Running)

	o.Stop()
	assert.False(t, o.Running())
}

func TestMismatchedSessionEndIgnored(t *testing.T) {
	o := New(testConfig(), &recordingPublisher{})
	o.newSource = func(capture.Config) sourceRunner { return &fakeSource{} }

	o.SessionStarted("s1")
	waitFor(t, "pipeline up", o.Running)

	o.SessionEnded("other")
	assert.True(t, o.Running())

	o.SessionEnded("s1")
	assert.False(t, o.Running())
}
