package converter

import "time"

const (
	DefaultDedupHistory = 16
	DefaultDedupWindow  = 30 * time.Second
)

// DedupKey identifies one transmission of a message by a device.
type DedupKey struct {
	Endpoint uint8
	Cluster  uint16
	Seq      uint8
}

type dedupEntry struct {
	key DedupKey
	at  time.Time
}

// dedupHistory is a fixed-size ring of recently processed keys of one device.
type dedupHistory struct {
	entries []dedupEntry
	next    int
}

// Gate detects retransmitted messages. Sequence numbers are 8 bits and wrap,
// so a key only counts as a duplicate within Window of its first sighting.
type Gate struct {
	Size   int
	Window time.Duration
	Now    func() time.Time
}

// seen reports whether key was already processed within the window and
// records it otherwise.
func (g Gate) seen(h *dedupHistory, key DedupKey) bool {
	now := g.now()
	for _, e := range h.entries {
		if e.key == key && now.Sub(e.at) <= g.window() {
			return true
		}
	}

	size := g.Size
	if size <= 0 {
		size = DefaultDedupHistory
	}
	entry := dedupEntry{key: key, at: now}
	if len(h.entries) < size {
		h.entries = append(h.entries, entry)
		return false
	}
	h.entries[h.next%len(h.entries)] = entry
	h.next = (h.next + 1) % len(h.entries)
	return false
}

func (g Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Gate) window() time.Duration {
	if g.Window <= 0 {
		return DefaultDedupWindow
	}
	return g.Window
}
