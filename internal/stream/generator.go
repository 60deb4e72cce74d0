package stream

import (
	"context"
	"math/big"
)

// cancelCheckEvery is how many candidates a search tests between context checks.
const cancelCheckEvery = 64

// Generator walks the prime sequence forward and backward from a cursor.
// It keeps no state of its own and is safe for concurrent use.
type Generator struct {
	oracle Oracle
}

// NewGenerator creates a Generator. A nil oracle means TrialDivision.
func NewGenerator(oracle Oracle) *Generator {
	if oracle == nil {
		oracle = TrialDivision{}
	}
	return &Generator{oracle: oracle}
}

// Oracle returns the primality test backing the generator.
func (g *Generator) Oracle() Oracle {
	return g.oracle
}

// IsPrimeContext tests n with the generator's oracle, abandoning the test
// when ctx is done if the oracle supports it.
func (g *Generator) IsPrimeContext(ctx context.Context, n *big.Int) (bool, error) {
	if co, ok := g.oracle.(ContextOracle); ok {
		return co.IsPrimeContext(ctx, n)
	}
	return g.oracle.IsPrime(n), nil
}

// Next returns the smallest prime strictly greater than cursor.
func (g *Generator) Next(cursor *big.Int) *big.Int {
	p, _ := g.NextContext(context.Background(), cursor)
	return p
}

// NextContext is Next with cooperative cancellation. The search is never cut
// short with a wrong answer: it either returns the next prime or ctx.Err().
func (g *Generator) NextContext(ctx context.Context, cursor *big.Int) (*big.Int, error) {
	candidate := new(big.Int).Add(cursor, one)
	if candidate.Cmp(two) <= 0 {
		return big.NewInt(2), nil
	}
	if candidate.Bit(0) == 0 {
		candidate.Add(candidate, one)
	}

	for tested := 1; ; tested++ {
		prime, err := g.IsPrimeContext(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if prime {
			return candidate, nil
		}
		candidate.Add(candidate, two)

		if tested%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
}

// Previous returns up to count primes strictly below n, oldest first.
// Fewer are returned when the sequence runs out at 2.
func (g *Generator) Previous(n *big.Int, count int) []*big.Int {
	found, _ := g.PreviousContext(context.Background(), n, count)
	return found
}

// PreviousContext is Previous with cooperative cancellation. It returns
// ctx.Err() and no primes when the walk is abandoned.
func (g *Generator) PreviousContext(ctx context.Context, n *big.Int, count int) ([]*big.Int, error) {
	if count <= 0 {
		return nil, nil
	}

	candidate := new(big.Int).Sub(n, one)
	if candidate.Cmp(two) > 0 && candidate.Bit(0) == 0 {
		candidate.Sub(candidate, one)
	}

	found := make([]*big.Int, 0, min(count, 1024))
	for tested := 1; len(found) < count && candidate.Cmp(two) >= 0; tested++ {
		prime, err := g.IsPrimeContext(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if prime {
			found = append(found, new(big.Int).Set(candidate))
		}
		if candidate.Cmp(three) <= 0 {
			candidate.Sub(candidate, one)
		} else {
			candidate.Sub(candidate, two)
		}

		if tested%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	return found, nil
}
