// Package core defines core data structures with zero external dependencies.
package core

import "time"

// Protocol tags assigned by the capture classifier. Anything that is not
// TCP/UDP/ICMP is tagged with the numeric IP protocol, e.g. "PROTO_47".
const (
	ProtoTCP   = "TCP"
	ProtoUDP   = "UDP"
	ProtoICMP  = "ICMP"
	ProtoOther = "OTHER"
)

// PacketRecord is one observed packet between the controller host and
// the device, reduced to the fields the aggregation layer needs.
type PacketRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`
	Src       string    `json:"src"` // "ip:port", or "ip" when the transport has no ports
	Dst       string    `json:"dst"`
	Length    int       `json:"size"` // original wire length, not the captured length
}

// TrafficSnapshot is a point-in-time copy of the aggregated capture
// statistics. The per-protocol counts always sum to TotalPackets.
type TrafficSnapshot struct {
	SessionID     string           `json:"session_id,omitempty"`
	Capturing     bool             `json:"capturing"`
	TotalPackets  uint64           `json:"total_packets"`
	TotalBytes    uint64           `json:"total_bytes"`
	Dropped       uint64           `json:"dropped"`
	ByProtocol    map[string]uint64 `json:"protocol_breakdown"`
	RecentPackets []PacketRecord   `json:"recent_packets"`
	StartedAt     time.Time        `json:"started_at,omitempty"`
	LastPacketAt  time.Time        `json:"last_packet_at,omitempty"`
}
