package stream

import (
	"math/big"
	"testing"
	"time"
)

func TestHistory_CapacityInvariant(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		extra    int
	}{
		{"small", 50, 17},
		{"default", DefaultMaxBufferSize, 17},
		{"default doubled", DefaultMaxBufferSize, DefaultMaxBufferSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(tt.capacity)
			for i := 0; i < tt.capacity+tt.extra; i++ {
				h.Push(ValueEntry(big.NewInt(int64(i))))
				h.EvictIfOverCapacity()
				if h.Len() > tt.capacity {
					t.Fatalf("after push %d: Len = %d > %d", i, h.Len(), tt.capacity)
				}
			}

			snap := h.Snapshot(h.Len())
			if len(snap) != tt.capacity {
				t.Fatalf("expected %d entries, got %d", tt.capacity, len(snap))
			}
			for i, e := range snap {
				want := int64(tt.extra + i)
				if e.Value().Int64() != want {
					t.Fatalf("entry %d = %s, want %d", i, e, want)
				}
			}
			if h.Offset() != uint64(tt.extra) {
				t.Errorf("Offset = %d, want %d", h.Offset(), tt.extra)
			}
		})
	}
}

func TestHistory_EvictReportsCount(t *testing.T) {
	h := NewHistory(2)
	h.Push(ValueEntry(big.NewInt(2)))
	h.Push(ValueEntry(big.NewInt(3)))
	if n := h.EvictIfOverCapacity(); n != 0 {
		t.Errorf("at capacity: evicted %d, want 0", n)
	}
	h.Push(ValueEntry(big.NewInt(5)))
	if n := h.EvictIfOverCapacity(); n != 1 {
		t.Errorf("over capacity: evicted %d, want 1", n)
	}
}

func TestHistory_MarkersOccupySlots(t *testing.T) {
	h := NewHistory(3)
	at := time.UnixMilli(1741922040000)

	h.Push(MarkerEntry(MarkerConnectionEstablished, at))
	h.Push(ValueEntry(big.NewInt(7)))
	h.Push(MarkerEntry(MarkerOffline, at))
	h.Push(ValueEntry(big.NewInt(11)))
	h.EvictIfOverCapacity()

	snap := h.Snapshot(10)
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	if snap[0].IsMarker() {
		t.Error("connection marker should have been evicted first")
	}
	kind, ts, ok := snap[1].Marker()
	if !ok || kind != MarkerOffline || !ts.Equal(at) {
		t.Errorf("entry 1 = %v, %v, %v; want offline marker", kind, ts, ok)
	}
	if snap[1].Value() != nil {
		t.Error("marker should have no value")
	}
}

func TestHistory_SnapshotClamps(t *testing.T) {
	h := NewHistory(10)
	h.Push(ValueEntry(big.NewInt(2)))
	h.Push(ValueEntry(big.NewInt(3)))

	if got := len(h.Snapshot(-1)); got != 0 {
		t.Errorf("Snapshot(-1) len = %d, want 0", got)
	}
	if got := len(h.Snapshot(99)); got != 2 {
		t.Errorf("Snapshot(99) len = %d, want 2", got)
	}
	if got := len(h.Window(1, 99)); got != 1 {
		t.Errorf("Window(1, 99) len = %d, want 1", got)
	}
	if got := len(h.Window(5, 1)); got != 0 {
		t.Errorf("Window(5, 1) len = %d, want 0", got)
	}
}

func TestEntry_Immutable(t *testing.T) {
	v := big.NewInt(13)
	e := ValueEntry(v)
	v.SetInt64(14)
	if e.Value().Int64() != 13 {
		t.Error("entry shares storage with the caller's value")
	}
	e.Value().SetInt64(15)
	if e.Value().Int64() != 13 {
		t.Error("entry shares storage with returned value")
	}
}

func TestEntry_String(t *testing.T) {
	if s := ValueEntry(big.NewInt(97)).String(); s != "97" {
		t.Errorf("value String = %q", s)
	}
	at := time.Date(2025, 3, 14, 3, 14, 0, 0, time.UTC)
	if s := MarkerEntry(MarkerOffline, at).String(); s != "offline@2025-03-14T03:14:00Z" {
		t.Errorf("marker String = %q", s)
	}
}
