package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyNetError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, ErrRefused},
		{"net unreachable", &net.OpError{Op: "dial", Err: syscall.ENETUNREACH}, ErrNetworkUnreachable},
		{"host unreachable", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, ErrNetworkUnreachable},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"net timeout", timeoutErr{}, ErrTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "tv.local"}, ErrNetworkUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyNetError(tt.in)
			assert.True(t, errors.Is(got, tt.want), "got %v, want class %v", got, tt.want)
		})
	}
}

func TestClassifyNetErrorPassthrough(t *testing.T) {
	plain := errors.New("something else")
	assert.Equal(t, plain, ClassifyNetError(plain))
	assert.Nil(t, ClassifyNetError(nil))
}

func TestClassifiedErrorKeepsCause(t *testing.T) {
	cause := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	err := ClassifyNetError(cause)

	assert.True(t, errors.Is(err, ErrRefused))
	assert.Contains(t, err.Error(), "connection refused")

	// Wrapping the classified error keeps the class matchable.
	wrapped := fmt.Errorf("open control channel: %w", err)
	assert.True(t, errors.Is(wrapped, ErrRefused))
}

func TestDeviceTargetAddr(t *testing.T) {
	d := DeviceTarget{Host: "192.168.1.50", Port: 8009}
	assert.Equal(t, "192.168.1.50:8009", d.Addr())
	assert.Equal(t, "192.168.1.50:8009", d.Label())

	d.Name = "living room tv"
	assert.Equal(t, "living room tv", d.Label())
}

func TestTrafficSnapshotProtocolSum(t *testing.T) {
	snap := TrafficSnapshot{
		Capturing:    true,
		TotalPackets: 3,
		TotalBytes:   180,
		ByProtocol:   map[string]uint64{ProtoTCP: 2, ProtoUDP: 1},
		RecentPackets: []PacketRecord{
			{Timestamp: time.Unix(1700000000, 0), Protocol: ProtoTCP, Src: "10.0.0.2:5001", Dst: "10.0.0.9:8009", Length: 60},
		},
	}

	var total uint64
	for _, n := range snap.ByProtocol {
		total += n
	}
	assert.Equal(t, snap.TotalPackets, total)
}
