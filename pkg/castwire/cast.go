// Package castwire implements the Cast v2 wire protocol: protobuf
// CastMessage envelopes framed with a 4-byte length prefix, exchanged
// over TLS with a display device.
//
// The envelope schema is tiny and frozen, so messages are encoded by
// hand with protowire instead of generated code.
package castwire

// DefaultPort is the device's TLS port for the cast channel.
const DefaultPort = 8009

// Protocol namespaces carried in the envelope namespace field.
const (
	// NamespaceConnection carries CONNECT/CLOSE for virtual channels.
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"

	// NamespaceHeartbeat carries PING/PONG keepalives.
	NamespaceHeartbeat = "urn:x-cast:com.google.cast.tp.heartbeat"

	// NamespaceReceiver carries LAUNCH/STOP/GET_STATUS and the
	// RECEIVER_STATUS replies.
	NamespaceReceiver = "urn:x-cast:com.google.cast.receiver"

	// NamespaceDashCast is the DashCast application channel. Payloads
	// are {"url": ..., "force": ...} objects.
	NamespaceDashCast = "urn:x-cast:es.offd.dashcast"
)

// Well-known endpoint ids. sender-0 and receiver-0 address the
// platform; application traffic goes to the transport id reported in
// the receiver status.
const (
	SenderID   = "sender-0"
	ReceiverID = "receiver-0"
)

// Receiver application ids.
const (
	// AppDashCast renders an arbitrary URL full screen.
	AppDashCast = "5CB45E5A"

	// AppBackdrop is the idle screen.
	AppBackdrop = "E8C28D3C"

	// AppMediaReceiver is the default media player.
	AppMediaReceiver = "CC1AD845"
)
