package stream

import (
	"context"
	"fmt"
	"math/big"
)

// Oracle decides primality. Implementations must be pure and total.
type Oracle interface {
	IsPrime(n *big.Int) bool
}

// ContextOracle is an Oracle whose test can be abandoned part way through.
// IsPrimeContext returns ctx.Err() instead of an answer once ctx is done.
type ContextOracle interface {
	Oracle
	IsPrimeContext(ctx context.Context, n *big.Int) (bool, error)
}

// divisorCheckEvery is how many trial divisors run between context checks.
const divisorCheckEvery = 1 << 14

// Oracle names accepted by NewOracle.
const (
	OracleTrial    = "trial"
	OracleProbable = "probable"
)

// NewOracle returns the oracle registered under name.
func NewOracle(name string) (Oracle, error) {
	switch name {
	case "", OracleTrial:
		return TrialDivision{}, nil
	case OracleProbable:
		return ProbablePrime{Rounds: 20}, nil
	default:
		return nil, fmt.Errorf("unknown oracle: %s (must be '%s' or '%s')", name, OracleTrial, OracleProbable)
	}
}

// TrialDivision is an exact test dividing by every odd integer up to sqrt(n).
type TrialDivision struct{}

// IsPrime implements Oracle.
func (t TrialDivision) IsPrime(n *big.Int) bool {
	prime, _ := t.IsPrimeContext(context.Background(), n)
	return prime
}

// IsPrimeContext implements ContextOracle.
func (TrialDivision) IsPrimeContext(ctx context.Context, n *big.Int) (bool, error) {
	if n.Sign() <= 0 {
		return false, nil
	}
	if n.IsUint64() {
		return isPrimeUint64(ctx, n.Uint64())
	}
	return isPrimeBig(ctx, n)
}

func isPrimeUint64(ctx context.Context, n uint64) (bool, error) {
	switch {
	case n < 2:
		return false, nil
	case n < 4:
		return true, nil
	case n%2 == 0:
		return false, nil
	}
	// d <= n/d instead of d*d <= n so the bound never overflows
	tried := 0
	for d := uint64(3); d <= n/d; d += 2 {
		if n%d == 0 {
			return false, nil
		}
		if tried++; tried%divisorCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

func isPrimeBig(ctx context.Context, n *big.Int) (bool, error) {
	if n.Bit(0) == 0 {
		return false, nil
	}
	limit := new(big.Int).Sqrt(n)
	d := big.NewInt(3)
	rem := new(big.Int)
	tried := 0
	for d.Cmp(limit) <= 0 {
		if rem.Rem(n, d).Sign() == 0 {
			return false, nil
		}
		d.Add(d, two)
		if tried++; tried%divisorCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// ProbablePrime delegates to big.Int.ProbablyPrime (Baillie-PSW plus
// Rounds Miller-Rabin rounds). It is exact for every n < 2^64, which covers
// the stream for the next few hundred million years at the default velocity.
type ProbablePrime struct {
	Rounds int
}

// IsPrime implements Oracle.
func (p ProbablePrime) IsPrime(n *big.Int) bool {
	if n.Sign() <= 0 {
		return false
	}
	rounds := p.Rounds
	if rounds < 0 {
		rounds = 0
	}
	return n.ProbablyPrime(rounds)
}
