package castwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single frame body. The platform caps cast
// channel messages at 64 KiB; anything larger means a corrupt stream.
const MaxMessageSize = 64 * 1024

// WriteMessage writes one envelope to w. The frame format is
// [4 bytes body length, big-endian uint32] [protobuf body], written as
// a single Write so concurrent framers never interleave.
func WriteMessage(w io.Writer, m *Message) error {
	body := m.Marshal()
	if len(body) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(body), MaxMessageSize)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write message frame: %w", err)
	}
	return nil
}

// ReadMessage reads one envelope from r. Returns an error if the
// stream is malformed or the body exceeds MaxMessageSize.
func ReadMessage(r io.Reader) (*Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read message header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxMessageSize {
		return nil, fmt.Errorf("body length %d exceeds maximum %d", size, MaxMessageSize)
	}
	body := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("read message body: %w", err)
		}
	}
	return Unmarshal(body)
}
