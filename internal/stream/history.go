package stream

import (
	"math/big"
	"time"
)

// DefaultMaxBufferSize bounds the history log.
const DefaultMaxBufferSize = 5000

// EntryKind tags an Entry as a produced value or an out-of-band marker.
type EntryKind uint8

const (
	KindValue EntryKind = iota
	KindMarker
)

// MarkerKind identifies a stream event recorded between values.
type MarkerKind uint8

const (
	MarkerConnectionEstablished MarkerKind = iota + 1
	MarkerOffline
)

func (m MarkerKind) String() string {
	switch m {
	case MarkerConnectionEstablished:
		return "connection_established"
	case MarkerOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Entry is one immutable slot of the history log.
type Entry struct {
	kind   EntryKind
	value  *big.Int
	marker MarkerKind
	at     time.Time
}

// ValueEntry records a produced prime.
func ValueEntry(v *big.Int) Entry {
	return Entry{kind: KindValue, value: new(big.Int).Set(v)}
}

// MarkerEntry records a stream event at the given instant.
func MarkerEntry(kind MarkerKind, at time.Time) Entry {
	return Entry{kind: KindMarker, marker: kind, at: at}
}

func (e Entry) Kind() EntryKind { return e.kind }

func (e Entry) IsMarker() bool { return e.kind == KindMarker }

// Value returns a copy of the recorded prime, or nil for markers.
func (e Entry) Value() *big.Int {
	if e.kind != KindValue || e.value == nil {
		return nil
	}
	return new(big.Int).Set(e.value)
}

// Marker returns the marker kind and timestamp. ok is false for values.
func (e Entry) Marker() (kind MarkerKind, at time.Time, ok bool) {
	if e.kind != KindMarker {
		return 0, time.Time{}, false
	}
	return e.marker, e.at, true
}

func (e Entry) String() string {
	if e.kind == KindMarker {
		return e.marker.String() + "@" + e.at.UTC().Format(time.RFC3339Nano)
	}
	if e.value == nil {
		return "<nil>"
	}
	return e.value.String()
}

// History is an append-only log bounded at a fixed capacity. Each entry has a
// logical sequence number that survives eviction: Offset() is the sequence of
// the oldest retained entry.
type History struct {
	entries  []Entry
	capacity int
	offset   uint64
}

// NewHistory creates a History holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultMaxBufferSize
	}
	return &History{
		entries:  make([]Entry, 0, min(capacity+1, 1024)),
		capacity: capacity,
	}
}

// Push appends e. The caller pairs it with EvictIfOverCapacity.
func (h *History) Push(e Entry) {
	h.entries = append(h.entries, e)
}

// EvictIfOverCapacity drops the oldest entry when the log is over capacity
// and reports how many entries were dropped (0 or 1).
func (h *History) EvictIfOverCapacity() int {
	if len(h.entries) <= h.capacity {
		return 0
	}
	h.entries[0] = Entry{}
	h.entries = h.entries[1:]
	h.offset++
	return 1
}

// Snapshot copies the first upto entries. upto is clamped to [0, Len()].
func (h *History) Snapshot(upto int) []Entry {
	return h.Window(0, upto)
}

// Window copies entries [from, upto), both clamped to [0, Len()].
func (h *History) Window(from, upto int) []Entry {
	upto = clamp(upto, 0, len(h.entries))
	from = clamp(from, 0, upto)
	out := make([]Entry, upto-from)
	copy(out, h.entries[from:upto])
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int { return len(h.entries) }

// Cap returns the fixed capacity.
func (h *History) Cap() int { return h.capacity }

// Offset returns the sequence number of the oldest retained entry, which is
// also the total number of entries evicted so far.
func (h *History) Offset() uint64 { return h.offset }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
