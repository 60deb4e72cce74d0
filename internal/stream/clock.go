package stream

import (
	"math/big"
	"time"
)

var (
	one   = big.NewInt(1)
	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// DefaultEpoch is the genesis instant shared by every process: 2025-03-14T03:14:00Z.
var DefaultEpoch = time.UnixMilli(1741922040000).UTC()

// DefaultVelocity advances the stream one unit per millisecond.
const DefaultVelocity int64 = 1

// Clock maps wall-clock time onto a stream cursor. Two processes with the
// same Epoch and Velocity resolve identical cursors for identical instants.
type Clock struct {
	Epoch    time.Time
	Velocity int64
}

// NewClock creates a Clock anchored at epoch.
func NewClock(epoch time.Time, velocity int64) Clock {
	return Clock{Epoch: epoch, Velocity: velocity}
}

// DefaultClock returns the Clock every viewer uses unless configured otherwise.
func DefaultClock() Clock {
	return NewClock(DefaultEpoch, DefaultVelocity)
}

// Resolve returns the stream cursor for now. Instants before the epoch
// resolve as the epoch itself. The result is always odd.
func (c Clock) Resolve(now time.Time) *big.Int {
	elapsed := now.UnixMilli() - c.Epoch.UnixMilli()
	if elapsed < 0 {
		elapsed = 0
	}
	velocity := c.Velocity
	if velocity < 0 {
		velocity = 0
	}

	cursor := new(big.Int).Mul(big.NewInt(elapsed), big.NewInt(velocity))
	cursor.Add(cursor, two)
	if cursor.Bit(0) == 0 {
		cursor.Add(cursor, one)
	}
	return cursor
}
