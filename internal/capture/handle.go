package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/textcast/internal/core"
)

// Handle is the capture tap the source reads from. *pcap.Handle
// satisfies it; tests substitute scripted handles.
type Handle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Close()
}

// OpenLive opens a live pcap handle on iface with the pair filter
// applied. The poll timeout bounds each blocking read so the read loop
// can observe cancellation. Open failures (missing privileges, unknown
// device) come back as ErrCaptureUnavailable; the caller is expected to
// degrade to running without observation.
func OpenLive(iface, filter string, snapLen int, pollTimeout time.Duration) (Handle, error) {
	h, err := pcap.OpenLive(iface, int32(snapLen), false, pollTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", core.ErrCaptureUnavailable, iface, err)
	}
	if filter != "" {
		if err := h.SetBPFFilter(filter); err != nil {
			h.Close()
			return nil, fmt.Errorf("%w: apply filter %q: %v", core.ErrCaptureUnavailable, filter, err)
		}
	}
	return h, nil
}
