package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/primestream/internal/stream"
)

const defaultPreviousCount = 100

// SessionCounter reports live viewer sessions.
type SessionCounter interface {
	Count() int
}

type Server struct {
	clock       stream.Clock
	gen         *stream.Generator
	sessions    SessionCounter
	maxPrevious int
	now         func() time.Time
	logger      *zap.Logger
}

// NewServer wires the REST handlers. sessions may be nil.
func NewServer(clock stream.Clock, oracle stream.Oracle, sessions SessionCounter, maxPrevious int, logger *zap.Logger) *Server {
	return &Server{
		clock:       clock,
		gen:         stream.NewGenerator(oracle),
		sessions:    sessions,
		maxPrevious: maxPrevious,
		now:         time.Now,
		logger:      logger,
	}
}

type HealthResponse struct {
	Status   string `json:"status"`
	Epoch    int64  `json:"epoch"`
	Velocity int64  `json:"velocity"`
	Sessions int    `json:"sessions"`
	Cursor   string `json:"cursor"`
}

type CursorResponse struct {
	At       int64  `json:"at"`
	Cursor   string `json:"cursor"`
	Epoch    int64  `json:"epoch"`
	Velocity int64  `json:"velocity"`
}

type NextResponse struct {
	After string `json:"after"`
	Prime string `json:"prime"`
}

type PreviousResponse struct {
	Before string   `json:"before"`
	Count  int      `json:"count"`
	Primes []string `json:"primes"`
}

type CheckResponse struct {
	N     string `json:"n"`
	Prime bool   `json:"prime"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	sessions := 0
	if s.sessions != nil {
		sessions = s.sessions.Count()
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Epoch:    s.clock.Epoch.UnixMilli(),
		Velocity: s.clock.Velocity,
		Sessions: sessions,
		Cursor:   s.clock.Resolve(s.now()).String(),
	})
}

// GetCursor handles GET /v1/cursor.
func (s *Server) GetCursor(w http.ResponseWriter, r *http.Request) {
	at := s.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be unix milliseconds")
			return
		}
		at = time.UnixMilli(ms)
	}

	writeJSON(w, http.StatusOK, CursorResponse{
		At:       at.UnixMilli(),
		Cursor:   s.clock.Resolve(at).String(),
		Epoch:    s.clock.Epoch.UnixMilli(),
		Velocity: s.clock.Velocity,
	})
}

// GetNextPrime handles GET /v1/primes/next.
func (s *Server) GetNextPrime(w http.ResponseWriter, r *http.Request) {
	after, ok := parseNatural(r.URL.Query().Get("after"))
	if !ok {
		writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
		return
	}

	prime, err := s.gen.NextContext(r.Context(), after)
	if err != nil {
		s.logger.Debug("next prime search abandoned", zap.Stringer("after", after), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "search cancelled")
		return
	}

	writeJSON(w, http.StatusOK, NextResponse{After: after.String(), Prime: prime.String()})
}

// GetPreviousPrimes handles GET /v1/primes/previous.
func (s *Server) GetPreviousPrimes(w http.ResponseWriter, r *http.Request) {
	before, ok := parseNatural(r.URL.Query().Get("before"))
	if !ok {
		writeError(w, http.StatusBadRequest, "before must be a non-negative integer")
		return
	}

	count := defaultPreviousCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > s.maxPrevious {
			writeError(w, http.StatusBadRequest, "count must be between 1 and "+strconv.Itoa(s.maxPrevious))
			return
		}
		count = n
	}
	count = min(count, s.maxPrevious)

	primes, err := s.gen.PreviousContext(r.Context(), before, count)
	if err != nil {
		s.logger.Debug("previous primes search abandoned", zap.Stringer("before", before), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "search cancelled")
		return
	}
	out := make([]string, len(primes))
	for i, p := range primes {
		out[i] = p.String()
	}

	writeJSON(w, http.StatusOK, PreviousResponse{Before: before.String(), Count: len(out), Primes: out})
}

// CheckPrime handles GET /v1/primes/check/{n}.
func (s *Server) CheckPrime(w http.ResponseWriter, r *http.Request) {
	n, ok := parseNatural(chi.URLParam(r, "n"))
	if !ok {
		writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
		return
	}

	prime, err := s.gen.IsPrimeContext(r.Context(), n)
	if err != nil {
		s.logger.Debug("primality check abandoned", zap.Stringer("n", n), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "check cancelled")
		return
	}

	writeJSON(w, http.StatusOK, CheckResponse{N: n.String(), Prime: prime})
}

// parseNatural accepts a decimal string >= 0.
func parseNatural(raw string) (*big.Int, bool) {
	if raw == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
