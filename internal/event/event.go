// Package event defines the observation event stream emitted by the
// session controller and the packet pipeline, and the publisher
// boundary that external sinks implement.
package event

import (
	"time"

	"firestige.xyz/textcast/internal/core"
)

// Type discriminates event payloads.
type Type string

const (
	// TypeSessionState is emitted on every session state transition.
	TypeSessionState Type = "session_state"
	// TypeMessageSent is emitted after each text send attempt.
	TypeMessageSent Type = "message_sent"
	// TypePacketBatch is emitted per aggregated batch of observed packets.
	TypePacketBatch Type = "packet_batch"
	// TypeCaptureState is emitted when the observation pipeline starts or stops.
	TypeCaptureState Type = "capture_state"
)

// Event is the envelope every sink receives. Payload holds one of the
// *Payload structs below, matching Type.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Payload   any       `json:"payload"`
}

// SessionStatePayload describes a session state transition.
type SessionStatePayload struct {
	State         string `json:"state"`
	DeviceAddress string `json:"device_address"`
	DeviceName    string `json:"device_name,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// MessageSentPayload describes one text send attempt.
type MessageSentPayload struct {
	Text      string  `json:"text"`
	Delivered bool    `json:"delivered"`
	LatencyMS float64 `json:"latency_ms"`
}

// PacketBatchPayload carries a batch of observed packets together with
// the running totals at publish time.
type PacketBatchPayload struct {
	Records      []core.PacketRecord `json:"records"`
	TotalPackets uint64              `json:"total_packets"`
	TotalBytes   uint64              `json:"total_bytes"`
}

// CaptureStatePayload describes the observation pipeline state.
type CaptureStatePayload struct {
	Running   bool   `json:"running"`
	Interface string `json:"interface,omitempty"`
	Filter    string `json:"filter,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// New builds an event stamped with the current time.
func New(t Type, sessionID string, payload any) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   payload,
	}
}
