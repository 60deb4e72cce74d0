package stream

import "time"

// Reveal pacing defaults.
const (
	DefaultBatchSize       = 100
	DefaultSyncThreshold   = 50
	DefaultTrickleInterval = 30 * time.Millisecond
)

// Scheduler paces how much of the history a consumer sees. Demand reveals a
// batch of backlog on request; Trickle reveals a backlog-proportional slice
// per tick while the consumer sits at the live edge.
type Scheduler struct {
	BatchSize     int
	SyncThreshold int
}

// DefaultScheduler returns a Scheduler with the default batch size and threshold.
func DefaultScheduler() Scheduler {
	return Scheduler{BatchSize: DefaultBatchSize, SyncThreshold: DefaultSyncThreshold}
}

// Demand reveals up to BatchSize more entries and returns how many.
func (sc Scheduler) Demand(s *State) int {
	if s.Revealed() >= s.Len() {
		return 0
	}
	return s.advanceReveal(min(sc.BatchSize, s.Backlog()))
}

// Trickle runs one trickle tick. It is a no-op unless atEdge is set.
func (sc Scheduler) Trickle(s *State, atEdge bool) int {
	if !atEdge {
		return 0
	}
	return s.advanceReveal(TrickleStep(s.Backlog()))
}

// Bootstrap exposes a first batch when nothing has been revealed yet.
func (sc Scheduler) Bootstrap(s *State) int {
	if s.Revealed() != 0 || s.Len() == 0 {
		return 0
	}
	return s.advanceReveal(min(s.Len(), sc.BatchSize))
}

// IsLive reports whether s is within SyncThreshold of the live edge.
func (sc Scheduler) IsLive(s *State) bool {
	return IsLive(s.Revealed(), s.Len(), sc.SyncThreshold)
}

// TrickleStep is the per-tick reveal increment for a backlog. It slows
// geometrically as the backlog drains.
func TrickleStep(backlog int) int {
	switch {
	case backlog <= 0:
		return 0
	case backlog > 500:
		return 100
	case backlog > 100:
		return 20
	default:
		return max(1, (backlog+9)/10)
	}
}

// IsLive reports whether revealed is within threshold of length.
func IsLive(revealed, length, threshold int) bool {
	return revealed >= length-threshold
}
