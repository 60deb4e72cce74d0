package main

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/primestream/internal/api"
	"github.com/dgnsrekt/primestream/internal/stream"
)

// primeSource answers lookups locally or through a remote server.
type primeSource interface {
	NextPrime(ctx context.Context, after *big.Int) (*big.Int, error)
	PreviousPrimes(ctx context.Context, before *big.Int, count int) ([]*big.Int, error)
	CheckPrime(ctx context.Context, n *big.Int) (bool, error)
}

type localSource struct {
	gen *stream.Generator
}

func (l localSource) NextPrime(ctx context.Context, after *big.Int) (*big.Int, error) {
	return l.gen.NextContext(ctx, after)
}

func (l localSource) PreviousPrimes(ctx context.Context, before *big.Int, count int) ([]*big.Int, error) {
	return l.gen.PreviousContext(ctx, before, count)
}

func (l localSource) CheckPrime(ctx context.Context, n *big.Int) (bool, error) {
	return l.gen.IsPrimeContext(ctx, n)
}

var (
	_ primeSource = localSource{}
	_ primeSource = (*api.HTTPClient)(nil)
)

func primesCmd() *cobra.Command {
	var (
		serverURL string
		oracle    string
	)

	cmd := &cobra.Command{
		Use:   "primes",
		Short: "Prime lookups",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "query a running server instead of computing locally")
	cmd.PersistentFlags().StringVar(&oracle, "oracle", "", "primality test for local lookups: trial or probable (default server.oracle)")

	source := func() (primeSource, error) {
		if serverURL != "" {
			return remoteClient(serverURL, logger), nil
		}
		name := oracle
		if name == "" {
			name = cfg.Server.Oracle
		}
		o, err := stream.NewOracle(name)
		if err != nil {
			return nil, err
		}
		return localSource{gen: stream.NewGenerator(o)}, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "next N",
		Short: "Print the smallest prime greater than N",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNatural(args[0])
			if err != nil {
				return err
			}
			src, err := source()
			if err != nil {
				return err
			}
			p, err := src.NextPrime(cmd.Context(), n)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	})

	var count int
	previous := &cobra.Command{
		Use:   "previous N",
		Short: "Print up to --count primes below N, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNatural(args[0])
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("--count must be >= 1, got %d", count)
			}
			src, err := source()
			if err != nil {
				return err
			}
			primes, err := src.PreviousPrimes(cmd.Context(), n, count)
			if err != nil {
				return err
			}
			return printPrimes(cmd.OutOrStdout(), primes)
		},
	}
	previous.Flags().IntVarP(&count, "count", "n", stream.DefaultPrefillCount, "how many primes")
	cmd.AddCommand(previous)

	cmd.AddCommand(&cobra.Command{
		Use:   "check N",
		Short: "Report whether N is prime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNatural(args[0])
			if err != nil {
				return err
			}
			src, err := source()
			if err != nil {
				return err
			}
			prime, err := src.CheckPrime(cmd.Context(), n)
			if err != nil {
				return err
			}
			if prime {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is prime\n", n)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not prime\n", n)
			}
			return nil
		},
	})

	return cmd
}

func printPrimes(w io.Writer, primes []*big.Int) error {
	for _, p := range primes {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}
