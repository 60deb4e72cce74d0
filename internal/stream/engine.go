package stream

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPrefillCount is how many earlier primes a new engine starts with.
const DefaultPrefillCount = 100

// ErrStopped is returned by engine calls made after Run has returned.
var ErrStopped = errors.New("stream engine stopped")

// Config tunes an Engine.
type Config struct {
	Clock           Clock
	Oracle          Oracle
	MaxBufferSize   int
	BatchSize       int
	SyncThreshold   int
	PrefillCount    int
	TrickleInterval time.Duration
	// StepDelay pauses the generator between primes. Zero means run flat out.
	StepDelay time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Clock:           DefaultClock(),
		Oracle:          TrialDivision{},
		MaxBufferSize:   DefaultMaxBufferSize,
		BatchSize:       DefaultBatchSize,
		SyncThreshold:   DefaultSyncThreshold,
		PrefillCount:    DefaultPrefillCount,
		TrickleInterval: DefaultTrickleInterval,
		Now:             time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Clock.Epoch.IsZero() {
		c.Clock = d.Clock
	}
	if c.Oracle == nil {
		c.Oracle = d.Oracle
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = d.MaxBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.SyncThreshold < 0 {
		c.SyncThreshold = d.SyncThreshold
	}
	if c.PrefillCount < 0 {
		c.PrefillCount = d.PrefillCount
	}
	if c.TrickleInterval <= 0 {
		c.TrickleInterval = d.TrickleInterval
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// View is a consistent read of an engine's state.
type View struct {
	Cursor *big.Int
	// Offset is the sequence number of Entries[0].
	Offset       uint64
	Entries      []Entry
	BufferLength int
	Revealed     int
	Backlog      int
	Live         bool
	AtEdge       bool
	Paused       bool
}

// Seq is the sequence number one past the last revealed entry.
func (v View) Seq() uint64 {
	return v.Offset + uint64(len(v.Entries))
}

type produced struct {
	generation uint64
	value      *big.Int
}

type viewRequest struct {
	after uint64
	limit int
	reply chan View
}

type control int

const (
	controlPause control = iota
	controlResume
)

// Engine drives one synchronised stream. Run owns the State: every mutation
// (generated primes, demand and trickle reveals, pause and resume) happens on
// the Run goroutine, so the reveal cursor has a single writer. Primality
// searches run on a separate goroutine and never delay the triggers.
type Engine struct {
	cfg    Config
	gen    *Generator
	sched  Scheduler
	state  *State
	logger *zap.Logger

	produced chan produced
	demand   chan struct{}
	edge     chan bool
	control  chan control
	views    chan viewRequest
	done     chan struct{}

	// owned by Run
	atEdge     bool
	paused     bool
	generation uint64

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

// NewEngine resolves the cursor for the current instant, prefills the
// history with the primes just below it and records a connection marker.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	gen := NewGenerator(cfg.Oracle)
	now := cfg.Now()
	cursor := cfg.Clock.Resolve(now)

	state := NewState(cursor, cfg.MaxBufferSize)
	for _, p := range gen.Previous(cursor, cfg.PrefillCount) {
		state.Append(ValueEntry(p))
	}
	state.Append(MarkerEntry(MarkerConnectionEstablished, now))
	state.advanceReveal(state.Len())

	logger.Debug("stream engine initialised",
		zap.Stringer("cursor", cursor),
		zap.Int("prefilled", state.Len()-1),
	)

	return &Engine{
		cfg:      cfg,
		gen:      gen,
		sched:    Scheduler{BatchSize: cfg.BatchSize, SyncThreshold: cfg.SyncThreshold},
		state:    state,
		logger:   logger,
		produced: make(chan produced),
		demand:   make(chan struct{}),
		edge:     make(chan bool),
		control:  make(chan control),
		views:    make(chan viewRequest),
		done:     make(chan struct{}),
		subs:     make(map[chan struct{}]struct{}),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run processes generator output and triggers until ctx is cancelled.
// Call it exactly once, in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.TrickleInterval)
	defer ticker.Stop()

	stopGenerator := e.startGenerator(ctx)
	defer func() { stopGenerator() }()

	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("stream engine stopping", zap.Stringer("cursor", e.state.cursor))
			return

		case p := <-e.produced:
			if p.generation != e.generation {
				continue
			}
			e.state.Advance(p.value)
			e.sched.Bootstrap(e.state)
			e.notify()

		case <-ticker.C:
			if e.sched.Trickle(e.state, e.atEdge) > 0 {
				e.notify()
			}

		case <-e.demand:
			if e.sched.Demand(e.state) > 0 {
				e.notify()
			}

		case atEdge := <-e.edge:
			e.atEdge = atEdge

		case c := <-e.control:
			switch c {
			case controlPause:
				if e.paused {
					continue
				}
				stopGenerator()
				e.generation++
				e.paused = true
				e.state.Append(MarkerEntry(MarkerOffline, e.cfg.Now()))
				e.logger.Debug("stream paused", zap.Stringer("cursor", e.state.cursor))
			case controlResume:
				if !e.paused {
					continue
				}
				e.resync()
				e.paused = false
				stopGenerator = e.startGenerator(ctx)
			}
			e.notify()

		case req := <-e.views:
			req.reply <- e.buildView(req.after, req.limit)
		}
	}
}

// resync jumps the cursor to the clock position, skipping whatever the
// stream produced while paused, and records a fresh connection marker.
func (e *Engine) resync() {
	now := e.cfg.Now()
	resolved := e.cfg.Clock.Resolve(now)
	if resolved.Cmp(e.state.cursor) > 0 {
		e.state.SetCursor(resolved)
	}
	e.state.Append(MarkerEntry(MarkerConnectionEstablished, now))
	e.logger.Debug("stream resumed", zap.Stringer("cursor", e.state.cursor))
}

// startGenerator launches a forward search from the current cursor and
// returns a function that stops it. Results from a stopped search carry a
// stale generation and are ignored.
func (e *Engine) startGenerator(ctx context.Context) func() {
	e.generation++
	generation := e.generation
	genCtx, cancel := context.WithCancel(ctx)
	cursor := e.state.Cursor()

	go func() {
		for {
			next, err := e.gen.NextContext(genCtx, cursor)
			if err != nil {
				return
			}
			select {
			case <-genCtx.Done():
				return
			case e.produced <- produced{generation: generation, value: next}:
			}
			cursor = next

			if e.cfg.StepDelay > 0 {
				select {
				case <-genCtx.Done():
					return
				case <-time.After(e.cfg.StepDelay):
				}
			}
		}
	}()

	return cancel
}

func (e *Engine) buildView(after uint64, limit int) View {
	h := e.state.History()
	revealed := e.state.Revealed()

	from := 0
	if after > h.Offset() {
		from = int(min(after-h.Offset(), uint64(revealed)))
	}
	if limit > 0 && revealed-from > limit {
		from = revealed - limit
	}

	return View{
		Cursor:       e.state.Cursor(),
		Offset:       h.Offset() + uint64(from),
		Entries:      h.Window(from, revealed),
		BufferLength: h.Len(),
		Revealed:     revealed,
		Backlog:      e.state.Backlog(),
		Live:         e.sched.IsLive(e.state),
		AtEdge:       e.atEdge,
		Paused:       e.paused,
	}
}

// View returns the revealed entries with sequence >= after, capped to the
// newest limit entries when limit > 0.
func (e *Engine) View(ctx context.Context, after uint64, limit int) (View, error) {
	req := viewRequest{after: after, limit: limit, reply: make(chan View, 1)}
	select {
	case e.views <- req:
	case <-e.done:
		return View{}, ErrStopped
	case <-ctx.Done():
		return View{}, ctx.Err()
	}

	select {
	case v := <-req.reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Demand asks for the next batch of buffered history.
func (e *Engine) Demand(ctx context.Context) error {
	select {
	case e.demand <- struct{}{}:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetAtEdge reports whether the consumer is positioned at the live edge.
func (e *Engine) SetAtEdge(ctx context.Context, atEdge bool) error {
	select {
	case e.edge <- atEdge:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause stops generation and records an offline marker.
func (e *Engine) Pause(ctx context.Context) error {
	return e.sendControl(ctx, controlPause)
}

// Resume re-synchronises with the clock and restarts generation.
func (e *Engine) Resume(ctx context.Context) error {
	return e.sendControl(ctx, controlResume)
}

func (e *Engine) sendControl(ctx context.Context, c control) error {
	select {
	case e.control <- c:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Subscribe returns a channel signalled after state changes. Signals are
// coalesced: a slow reader sees one pending signal, never a backlog.
// The returned function unsubscribes.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.subsMu.Lock()
	e.subs[ch] = struct{}{}
	e.subsMu.Unlock()

	return ch, func() {
		e.subsMu.Lock()
		delete(e.subs, ch)
		e.subsMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
