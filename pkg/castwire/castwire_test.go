package castwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMessageRoundTrip(t *testing.T) {
	in := NewTextMessage(SenderID, ReceiverID, NamespaceReceiver, `{"type":"GET_STATUS","requestId":1}`)

	out, err := Unmarshal(in.Marshal())
	require.NoError(t, err)

	assert.Equal(t, int32(ProtocolVersion), out.ProtocolVersion)
	assert.Equal(t, SenderID, out.SourceID)
	assert.Equal(t, ReceiverID, out.DestinationID)
	assert.Equal(t, NamespaceReceiver, out.Namespace)
	assert.Equal(t, PayloadTypeString, out.PayloadType)
	assert.Equal(t, in.PayloadUTF8, out.PayloadUTF8)
	assert.Nil(t, out.PayloadBinary)
}

func TestBinaryPayloadRoundTrip(t *testing.T) {
	in := &Message{
		SourceID:      SenderID,
		DestinationID: ReceiverID,
		Namespace:     NamespaceConnection,
		PayloadType:   PayloadTypeBinary,
		PayloadBinary: []byte{0x00, 0x01, 0xff, 0x7f},
	}

	out, err := Unmarshal(in.Marshal())
	require.NoError(t, err)

	assert.Equal(t, PayloadTypeBinary, out.PayloadType)
	assert.Equal(t, in.PayloadBinary, out.PayloadBinary)
	assert.Empty(t, out.PayloadUTF8)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := NewTextMessage("s", "d", NamespaceHeartbeat, `{"type":"PING"}`).Marshal()

	// Simulate fields added by newer firmware.
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, "s", out.SourceID)
	assert.Equal(t, NamespaceHeartbeat, out.Namespace)
	assert.Equal(t, `{"type":"PING"}`, out.PayloadUTF8)
}

func TestUnmarshalTruncated(t *testing.T) {
	b := NewTextMessage("s", "d", NamespaceHeartbeat, `{"type":"PING"}`).Marshal()

	_, err := Unmarshal(b[:len(b)-3])
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	first := NewTextMessage(SenderID, ReceiverID, NamespaceConnection, `{"type":"CONNECT"}`)
	second := NewTextMessage(SenderID, ReceiverID, NamespaceHeartbeat, `{"type":"PING"}`)
	require.NoError(t, WriteMessage(&buf, first))
	require.NoError(t, WriteMessage(&buf, second))

	out, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, NamespaceConnection, out.Namespace)
	assert.Equal(t, `{"type":"CONNECT"}`, out.PayloadUTF8)

	out, err = ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, NamespaceHeartbeat, out.Namespace)

	_, err = ReadMessage(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessageRejectsOversizeBody(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxMessageSize+1)

	_, err := ReadMessage(bytes.NewReader(header[:]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestReadMessageTruncatedBody(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 10)
	data := append(header[:], 0x01, 0x02, 0x03)

	_, err := ReadMessage(bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestWriteMessageRejectsOversizeMessage(t *testing.T) {
	var buf bytes.Buffer
	m := NewTextMessage(SenderID, ReceiverID, NamespaceDashCast, strings.Repeat("x", MaxMessageSize+1))

	err := WriteMessage(&buf, m)
	require.Error(t, err)
	assert.Zero(t, buf.Len(), "oversize message must not be partially written")
}
