package castwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PayloadType selects which payload field of an envelope is set.
type PayloadType int32

const (
	PayloadTypeString PayloadType = 0
	PayloadTypeBinary PayloadType = 1
)

// ProtocolVersion is the only protocol revision in use, CASTV2_1_0.
const ProtocolVersion = 0

// CastMessage field numbers from the cast_channel schema.
const (
	fieldProtocolVersion = 1
	fieldSourceID        = 2
	fieldDestinationID   = 3
	fieldNamespace       = 4
	fieldPayloadType     = 5
	fieldPayloadUTF8     = 6
	fieldPayloadBinary   = 7
)

// Message is a single CastMessage envelope.
type Message struct {
	ProtocolVersion int32
	SourceID        string
	DestinationID   string
	Namespace       string
	PayloadType     PayloadType
	PayloadUTF8     string
	PayloadBinary   []byte
}

// NewTextMessage builds a STRING-payload envelope, the only kind this
// module sends.
func NewTextMessage(source, destination, namespace, payload string) *Message {
	return &Message{
		ProtocolVersion: ProtocolVersion,
		SourceID:        source,
		DestinationID:   destination,
		Namespace:       namespace,
		PayloadType:     PayloadTypeString,
		PayloadUTF8:     payload,
	}
}

// Marshal encodes the envelope in protobuf wire format. The schema
// marks the header fields required, so all of them are written even
// when zero-valued.
func (m *Message) Marshal() []byte {
	b := make([]byte, 0, 64+len(m.SourceID)+len(m.DestinationID)+len(m.Namespace)+len(m.PayloadUTF8)+len(m.PayloadBinary))
	b = protowire.AppendTag(b, fieldProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ProtocolVersion))
	b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
	b = protowire.AppendString(b, m.SourceID)
	b = protowire.AppendTag(b, fieldDestinationID, protowire.BytesType)
	b = protowire.AppendString(b, m.DestinationID)
	b = protowire.AppendTag(b, fieldNamespace, protowire.BytesType)
	b = protowire.AppendString(b, m.Namespace)
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.PayloadType))
	if m.PayloadType == PayloadTypeBinary {
		b = protowire.AppendTag(b, fieldPayloadBinary, protowire.BytesType)
		b = protowire.AppendBytes(b, m.PayloadBinary)
	} else {
		b = protowire.AppendTag(b, fieldPayloadUTF8, protowire.BytesType)
		b = protowire.AppendString(b, m.PayloadUTF8)
	}
	return b
}

// Unmarshal decodes a protobuf-encoded CastMessage. Unknown fields are
// skipped so newer device firmware stays readable; known fields with an
// unexpected wire type are treated as unknown.
func Unmarshal(data []byte) (*Message, error) {
	m := &Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("malformed cast message: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldProtocolVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fieldError(num, n)
			}
			m.ProtocolVersion = int32(v)
			data = data[n:]
		case num == fieldSourceID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fieldError(num, n)
			}
			m.SourceID = v
			data = data[n:]
		case num == fieldDestinationID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fieldError(num, n)
			}
			m.DestinationID = v
			data = data[n:]
		case num == fieldNamespace && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fieldError(num, n)
			}
			m.Namespace = v
			data = data[n:]
		case num == fieldPayloadType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fieldError(num, n)
			}
			m.PayloadType = PayloadType(v)
			data = data[n:]
		case num == fieldPayloadUTF8 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fieldError(num, n)
			}
			m.PayloadUTF8 = v
			data = data[n:]
		case num == fieldPayloadBinary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fieldError(num, n)
			}
			m.PayloadBinary = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fieldError(num, n)
			}
			data = data[n:]
		}
	}
	return m, nil
}

func fieldError(num protowire.Number, n int) error {
	return fmt.Errorf("malformed cast message field %d: %w", num, protowire.ParseError(n))
}
