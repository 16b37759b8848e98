package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher collects events and can be told to fail.
type recordingPublisher struct {
	mu      sync.Mutex
	name    string
	events  []Event
	failErr error
	flushed int
	block   chan struct{} // when set, Publish blocks until closed
}

func (r *recordingPublisher) Name() string { return r.name }

func (r *recordingPublisher) Publish(_ context.Context, ev Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Flush(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed++
	return nil
}

func (r *recordingPublisher) received() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestFanoutDeliversToAllTargets(t *testing.T) {
	a := &recordingPublisher{name: "a"}
	b := &recordingPublisher{name: "b"}
	f := NewFanout(a, b)

	ev := New(TypeMessageSent, "s1", MessageSentPayload{Text: "hi", Delivered: true})
	require.NoError(t, f.Publish(context.Background(), ev))

	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
	assert.Equal(t, "s1", a.received()[0].SessionID)
}

func TestFanoutFailingTargetDoesNotStarveOthers(t *testing.T) {
	bad := &recordingPublisher{name: "bad", failErr: errors.New("sink down")}
	good := &recordingPublisher{name: "good"}
	f := NewFanout(bad, good)

	err := f.Publish(context.Background(), New(TypeSessionState, "", SessionStatePayload{State: "active"}))

	// Fanout swallows sink errors.
	assert.NoError(t, err)
	assert.Len(t, good.received(), 1)
}

func TestAsyncDeliversInBackground(t *testing.T) {
	sink := &recordingPublisher{name: "sink"}
	a := NewAsync(sink, 8)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Publish(context.Background(), New(TypeMessageSent, "s", nil)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	assert.Len(t, sink.received(), 5)
	assert.Equal(t, uint64(0), a.Dropped())
}

func TestAsyncDropsOnOverflowInsteadOfBlocking(t *testing.T) {
	gate := make(chan struct{})
	sink := &recordingPublisher{name: "slow", block: gate}
	a := NewAsync(sink, 2)

	// First event is pulled by the delivery goroutine and blocks in the
	// sink; two more fill the queue; the rest must be dropped.
	deadline := time.After(time.Second)
	for i := 0; i < 10; i++ {
		done := make(chan struct{})
		go func() {
			a.Publish(context.Background(), New(TypePacketBatch, "s", nil))
			close(done)
		}()
		select {
		case <-done:
		case <-deadline:
			t.Fatal("Publish blocked on full queue")
		}
	}

	assert.Greater(t, a.Dropped(), uint64(0))

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestAsyncFlushDrainsQueue(t *testing.T) {
	sink := &recordingPublisher{name: "sink"}
	a := NewAsync(sink, 16)

	for i := 0; i < 10; i++ {
		a.Publish(context.Background(), New(TypePacketBatch, "s", nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Flush(ctx))

	assert.Len(t, sink.received(), 10)
	assert.Equal(t, 1, sink.flushed)
}

func TestNewStampsTimestamp(t *testing.T) {
	before := time.Now()
	ev := New(TypeCaptureState, "sid", CaptureStatePayload{Running: true})
	assert.Equal(t, TypeCaptureState, ev.Type)
	assert.Equal(t, "sid", ev.SessionID)
	assert.False(t, ev.Timestamp.Before(before))
}
