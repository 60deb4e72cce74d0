package main

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/primestream/internal/api"
)

// parseNatural parses a non-negative decimal integer argument.
func parseNatural(arg string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(arg, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid number %q (want a non-negative integer)", arg)
	}
	return n, nil
}

// parseInstant accepts RFC3339 or unix milliseconds. Empty means now.
func parseInstant(arg string) (time.Time, error) {
	if arg == "" {
		return time.Now(), nil
	}
	if ms, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, arg)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid instant %q (use RFC3339 or unix milliseconds): %w", arg, err)
	}
	return t, nil
}

// remoteClient builds a REST client for --server.
func remoteClient(serverURL string, logger *zap.Logger) *api.HTTPClient {
	return api.NewClient(serverURL, 10, 30*time.Second, 500*time.Millisecond, 3, logger)
}
