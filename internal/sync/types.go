package sync

// ClockTick is broadcast to every subscriber on each interval.
type ClockTick struct {
	BroadcasterID string `json:"broadcaster_id"`
	Sequence      uint64 `json:"sequence"`
	Timestamp     int64  `json:"timestamp"`
	Cursor        string `json:"cursor"`
	Epoch         int64  `json:"epoch"`
	Velocity      int64  `json:"velocity"`
}

// ClockSnapshot is sent once to a new subscriber. It carries the tick fields
// plus the broadcaster's cadence and load.
type ClockSnapshot struct {
	ClockTick
	IntervalMs int64 `json:"interval_ms"`
	Sessions   int   `json:"sessions"`
}
