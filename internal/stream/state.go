package stream

import "math/big"

// State is the single aggregate a stream engine mutates: the generator
// cursor, the history log and the reveal cursor over that log.
type State struct {
	cursor  *big.Int
	history *History
	reveal  int
}

// NewState creates an empty State positioned at cursor.
func NewState(cursor *big.Int, capacity int) *State {
	return &State{
		cursor:  new(big.Int).Set(cursor),
		history: NewHistory(capacity),
	}
}

// Cursor returns a copy of the generator cursor.
func (s *State) Cursor() *big.Int { return new(big.Int).Set(s.cursor) }

// SetCursor moves the generator cursor without recording anything.
func (s *State) SetCursor(c *big.Int) { s.cursor.Set(c) }

// Advance records prime p as the new cursor and appends it to the history.
func (s *State) Advance(p *big.Int) int {
	s.cursor.Set(p)
	return s.Append(ValueEntry(p))
}

// Append pushes e and, in the same step, evicts past capacity and shifts the
// reveal cursor down by the number of evicted entries so it keeps pointing at
// the same logical suffix. It returns the number of evicted entries.
func (s *State) Append(e Entry) int {
	s.history.Push(e)
	evicted := s.history.EvictIfOverCapacity()
	s.reveal -= evicted
	if s.reveal < 0 {
		s.reveal = 0
	}
	return evicted
}

// History exposes the log for read-only use.
func (s *State) History() *History { return s.history }

// Len is the number of buffered entries.
func (s *State) Len() int { return s.history.Len() }

// Revealed is the reveal cursor: how many leading entries are exposed.
func (s *State) Revealed() int { return s.reveal }

// Backlog is the number of buffered but unrevealed entries.
func (s *State) Backlog() int { return s.history.Len() - s.reveal }

// RevealedSnapshot copies the exposed entries.
func (s *State) RevealedSnapshot() []Entry { return s.history.Snapshot(s.reveal) }

// advanceReveal moves the reveal cursor forward by at most n and returns the
// distance actually moved.
func (s *State) advanceReveal(n int) int {
	if n <= 0 {
		return 0
	}
	next := min(s.reveal+n, s.history.Len())
	moved := next - s.reveal
	s.reveal = next
	return moved
}
