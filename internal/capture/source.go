// Package capture taps a network interface and turns the traffic
// between the controller host and the device into classified packet
// records. The read loop owns the capture handle exclusively; shutdown
// goes through context cancellation, never a concurrent Close, so the
// loop can finish its in-flight read before the handle is released.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/log"
	"firestige.xyz/textcast/internal/metrics"
)

// readRetryDelay paces the loop after a transient read failure.
const readRetryDelay = 2 * time.Second

// Config carries the per-source capture settings.
type Config struct {
	Interface   string
	Filter      string
	SnapLen     int
	PollTimeout time.Duration
}

// Stats is the source's view of the stream.
type Stats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

// Source reads one interface and emits records until stopped. A Source
// runs once; a fresh session gets a fresh Source.
type Source struct {
	cfg Config

	// open acquires the handle; replaced by tests.
	open       func() (Handle, error)
	retryDelay time.Duration

	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewSource builds a source over a live pcap handle.
func NewSource(cfg Config) *Source {
	s := &Source{
		cfg:        cfg,
		retryDelay: readRetryDelay,
	}
	s.open = func() (Handle, error) {
		return OpenLive(cfg.Interface, cfg.Filter, cfg.SnapLen, cfg.PollTimeout)
	}
	return s
}

// Stats returns the running counters.
func (s *Source) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// Run captures packets into out until ctx is canceled or the stream
// ends. Blocking call. The output send never blocks: when the channel
// is full the packet is dropped and counted, so a stalled consumer can
// not stall the read loop. Returns ErrCaptureUnavailable when the
// handle cannot be opened.
func (s *Source) Run(ctx context.Context, out chan<- core.PacketRecord) error {
	h, err := s.open()
	if err != nil {
		return err
	}
	defer h.Close()

	logger := log.GetLogger()
	logger.Infof("capture started on %s (filter %q)", s.cfg.Interface, s.cfg.Filter)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("capture stopped on %s", s.cfg.Interface)
			return nil
		default:
		}

		data, ci, err := h.ReadPacketData()
		if err != nil {
			if ctx.Err() != nil {
				logger.Infof("capture stopped on %s", s.cfg.Interface)
				return nil
			}
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			if errors.Is(err, io.EOF) {
				logger.Infof("capture stream on %s ended", s.cfg.Interface)
				return nil
			}
			logger.Warnf("capture read on %s: %v", s.cfg.Interface, err)
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		rec := classify(data, ci)
		s.received.Add(1)
		metrics.PacketsCapturedTotal.WithLabelValues(rec.Protocol).Inc()
		metrics.CaptureBytesTotal.Add(float64(rec.Length))

		select {
		case out <- rec:
		case <-ctx.Done():
			return nil
		default:
			s.dropped.Add(1)
			metrics.CaptureDropsTotal.WithLabelValues("channel_full").Inc()
		}
	}
}

// classify reduces a raw frame to the record the aggregator consumes.
// Anything without a network layer keeps the OTHER tag and empty
// addresses but still counts.
func classify(data []byte, ci gopacket.CaptureInfo) core.PacketRecord {
	rec := core.PacketRecord{
		Timestamp: ci.Timestamp,
		Protocol:  core.ProtoOther,
		Length:    ci.Length,
	}

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	netLayer := pkt.NetworkLayer()
	if netLayer == nil {
		return rec
	}
	flow := netLayer.NetworkFlow()
	src, dst := flow.Src().String(), flow.Dst().String()
	rec.Src, rec.Dst = src, dst

	switch t := pkt.TransportLayer().(type) {
	case *layers.TCP:
		rec.Protocol = core.ProtoTCP
		rec.Src = fmt.Sprintf("%s:%d", src, t.SrcPort)
		rec.Dst = fmt.Sprintf("%s:%d", dst, t.DstPort)
	case *layers.UDP:
		rec.Protocol = core.ProtoUDP
		rec.Src = fmt.Sprintf("%s:%d", src, t.SrcPort)
		rec.Dst = fmt.Sprintf("%s:%d", dst, t.DstPort)
	default:
		switch ip := netLayer.(type) {
		case *layers.IPv4:
			if ip.Protocol == layers.IPProtocolICMPv4 {
				rec.Protocol = core.ProtoICMP
			} else {
				rec.Protocol = fmt.Sprintf("PROTO_%d", ip.Protocol)
			}
		case *layers.IPv6:
			if ip.NextHeader == layers.IPProtocolICMPv6 {
				rec.Protocol = core.ProtoICMP
			} else {
				rec.Protocol = fmt.Sprintf("PROTO_%d", ip.NextHeader)
			}
		}
	}
	return rec
}
