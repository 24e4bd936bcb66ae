package converter

import (
	"testing"
	"time"
)

func TestGateRingEvictsOldest(t *testing.T) {
	now := time.Unix(0, 0)
	g := Gate{Size: 2, Window: time.Minute, Now: func() time.Time { return now }}
	var h dedupHistory

	a := DedupKey{Endpoint: 1, Cluster: 0x0702, Seq: 1}
	b := DedupKey{Endpoint: 1, Cluster: 0x0702, Seq: 2}
	c := DedupKey{Endpoint: 1, Cluster: 0x0702, Seq: 3}

	for _, k := range []DedupKey{a, b, c} {
		if g.seen(&h, k) {
			t.Fatalf("%v reported seen on first sighting", k)
		}
	}
	if len(h.entries) != 2 {
		t.Fatalf("history holds %d entries, want 2", len(h.entries))
	}
	if g.seen(&h, a) {
		t.Error("evicted key still reported seen")
	}
	if !g.seen(&h, a) {
		t.Error("re-recorded key not seen")
	}
}

func TestGateKeyIncludesClusterAndEndpoint(t *testing.T) {
	g := Gate{}
	var h dedupHistory
	g.seen(&h, DedupKey{Endpoint: 1, Cluster: 0x0702, Seq: 5})

	if g.seen(&h, DedupKey{Endpoint: 1, Cluster: 0x0B04, Seq: 5}) {
		t.Error("different cluster treated as duplicate")
	}
	if g.seen(&h, DedupKey{Endpoint: 2, Cluster: 0x0702, Seq: 5}) {
		t.Error("different endpoint treated as duplicate")
	}
	if !g.seen(&h, DedupKey{Endpoint: 1, Cluster: 0x0702, Seq: 5}) {
		t.Error("repeated key not detected")
	}
}
