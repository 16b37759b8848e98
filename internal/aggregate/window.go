package aggregate

import "firestige.xyz/textcast/internal/core"

// recentWindow is a fixed-capacity ring over the most recent records.
// Insertion evicts the oldest entry once full, which bounds memory for
// any capture duration.
type recentWindow struct {
	records []core.PacketRecord
	next    int
	filled  bool
}

func newRecentWindow(capacity int) *recentWindow {
	return &recentWindow{records: make([]core.PacketRecord, capacity)}
}

func (w *recentWindow) push(rec core.PacketRecord) {
	w.records[w.next] = rec
	w.next = (w.next + 1) % len(w.records)
	if w.next == 0 {
		w.filled = true
	}
}

// ordered returns a copy of the window contents, oldest first.
func (w *recentWindow) ordered() []core.PacketRecord {
	if !w.filled {
		return append([]core.PacketRecord(nil), w.records[:w.next]...)
	}
	out := make([]core.PacketRecord, 0, len(w.records))
	out = append(out, w.records[w.next:]...)
	out = append(out, w.records[:w.next]...)
	return out
}
