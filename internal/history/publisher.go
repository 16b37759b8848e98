package history

import (
	"context"

	"firestige.xyz/textcast/internal/event"
)

// Publisher writes the event stream into the store. It implements
// event.Publisher and sits behind the async fanout, so a failed write
// is logged and counted there without reaching the emitter.
type Publisher struct {
	store *Store
}

// NewPublisher wraps the store as an event sink.
func NewPublisher(store *Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Name() string { return "history" }

// Publish routes one event to the matching table. Capture state
// changes and unknown payloads are not persisted.
func (p *Publisher) Publish(ctx context.Context, ev event.Event) error {
	switch payload := ev.Payload.(type) {
	case event.SessionStatePayload:
		return p.store.RecordSessionState(ctx, ev.SessionID, payload.State,
			payload.DeviceName, payload.DeviceAddress, payload.Reason, ev.Timestamp)
	case event.MessageSentPayload:
		return p.store.RecordMessage(ctx, ev.SessionID, payload.Text,
			payload.Delivered, payload.LatencyMS, ev.Timestamp)
	case event.PacketBatchPayload:
		var batchBytes uint64
		for _, rec := range payload.Records {
			batchBytes += uint64(rec.Length)
		}
		return p.store.RecordPacketBatch(ctx, ev.SessionID, len(payload.Records),
			batchBytes, payload.TotalPackets, payload.TotalBytes, ev.Timestamp)
	default:
		return nil
	}
}

func (p *Publisher) Flush(ctx context.Context) error { return nil }
