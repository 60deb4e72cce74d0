// Package api is a client for a remote primestream server's REST API.
package api

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client interface for testability
type Client interface {
	Cursor(ctx context.Context, at time.Time) (Cursor, error)
	NextPrime(ctx context.Context, after *big.Int) (*big.Int, error)
	PreviousPrimes(ctx context.Context, before *big.Int, count int) ([]*big.Int, error)
	CheckPrime(ctx context.Context, n *big.Int) (bool, error)
}

// Cursor is a remote clock resolution.
type Cursor struct {
	At       time.Time
	Cursor   *big.Int
	EpochMs  int64
	Velocity int64
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewClient(baseURL string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) Cursor(ctx context.Context, at time.Time) (Cursor, error) {
	q := url.Values{}
	if !at.IsZero() {
		q.Set("at", strconv.FormatInt(at.UnixMilli(), 10))
	}
	body, err := c.get(ctx, "/v1/cursor", q)
	if err != nil {
		return Cursor{}, err
	}

	cursor, err := parseBig(gjson.GetBytes(body, "cursor"))
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{
		At:       time.UnixMilli(gjson.GetBytes(body, "at").Int()).UTC(),
		Cursor:   cursor,
		EpochMs:  gjson.GetBytes(body, "epoch").Int(),
		Velocity: gjson.GetBytes(body, "velocity").Int(),
	}, nil
}

func (c *HTTPClient) NextPrime(ctx context.Context, after *big.Int) (*big.Int, error) {
	body, err := c.get(ctx, "/v1/primes/next", url.Values{"after": {after.String()}})
	if err != nil {
		return nil, err
	}
	return parseBig(gjson.GetBytes(body, "prime"))
}

func (c *HTTPClient) PreviousPrimes(ctx context.Context, before *big.Int, count int) ([]*big.Int, error) {
	q := url.Values{"before": {before.String()}, "count": {strconv.Itoa(count)}}
	body, err := c.get(ctx, "/v1/primes/previous", q)
	if err != nil {
		return nil, err
	}

	items := gjson.GetBytes(body, "primes").Array()
	primes := make([]*big.Int, 0, len(items))
	for _, item := range items {
		p, err := parseBig(item)
		if err != nil {
			return nil, err
		}
		primes = append(primes, p)
	}
	return primes, nil
}

func (c *HTTPClient) CheckPrime(ctx context.Context, n *big.Int) (bool, error) {
	body, err := c.get(ctx, "/v1/primes/check/"+n.String(), nil)
	if err != nil {
		return false, err
	}
	prime := gjson.GetBytes(body, "prime")
	if !prime.IsBool() {
		return false, fmt.Errorf("decoding response: missing prime flag")
	}
	return prime.Bool(), nil
}

// get issues a rate limited GET with retries on transport errors, 429 and
// 5xx responses.
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	c.logger.Debug("requesting", zap.String("url", target))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusBadRequest:
			return nil, fmt.Errorf("%w: %s", ErrBadRequest, errorMessage(body))
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("decoding response: invalid JSON")
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func parseBig(v gjson.Result) (*big.Int, error) {
	n, ok := new(big.Int).SetString(v.String(), 10)
	if !ok {
		return nil, fmt.Errorf("decoding response: %q is not an integer", v.String())
	}
	return n, nil
}

func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return msg.String()
	}
	return strings.TrimSpace(string(body))
}
