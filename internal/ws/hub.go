package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/primestream/internal/stream"
)

// EngineFactory builds a fresh engine for a new viewer.
type EngineFactory func() *stream.Engine

// HubConfig tunes session handling.
type HubConfig struct {
	MaxSessions int
	SendBuffer  int
	// ViewLimit caps the entries carried by one view message.
	ViewLimit int
}

// Hub tracks live viewer sessions. Each session owns an independent engine;
// sessions never share stream state.
type Hub struct {
	name       string
	cfg        HubConfig
	newEngine  EngineFactory
	encoder    *Encoder
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	// slots holds one token per admitted session; nil means unlimited.
	slots  chan struct{}
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(name string, cfg HubConfig, newEngine EngineFactory, logger *zap.Logger) (*Hub, error) {
	enc, err := NewEncoder()
	if err != nil {
		return nil, err
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = sendBufferSize
	}
	var slots chan struct{}
	if cfg.MaxSessions > 0 {
		slots = make(chan struct{}, cfg.MaxSessions)
	}
	return &Hub{
		name:       name,
		cfg:        cfg,
		newEngine:  newEngine,
		encoder:    enc,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		slots:      slots,
		logger:     logger,
	}, nil
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.String("hub", h.name))
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered",
				zap.String("hub", h.name),
				zap.String("connID", client.connID),
				zap.Int("sessions", count),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.cancel()
				h.release()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client unregistered",
				zap.String("hub", h.name),
				zap.String("connID", client.connID),
				zap.Int("sessions", count),
			)
		}
	}
}

// shutdown stops every session.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.cancel()
		delete(h.clients, client)
		h.release()
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// acquire reserves a session slot, reporting false when the limit is reached.
// Every successful acquire is paired with exactly one release.
func (h *Hub) acquire() bool {
	if h.slots == nil {
		return true
	}
	select {
	case h.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (h *Hub) release() {
	if h.slots == nil {
		return
	}
	select {
	case <-h.slots:
	default:
	}
}
