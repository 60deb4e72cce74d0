package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/primestream/internal/stream"
)

// SessionCounter reports live viewer sessions.
type SessionCounter interface {
	Count() int
}

// SyncBroadcaster publishes the shared clock position to SSE subscribers so
// external viewers can check they agree on the cursor.
type SyncBroadcaster struct {
	broadcasterID string
	clock         stream.Clock
	sessions      SessionCounter
	now           func() time.Time
	logger        *zap.Logger

	mu       gosync.RWMutex
	sequence uint64
	clients  map[*sseClient]bool

	interval time.Duration
}

// sseClient represents a connected SSE subscriber.
type sseClient struct {
	remote  string
	dataCh  chan []byte
	doneCh  chan struct{}
	flusher http.Flusher
	writer  http.ResponseWriter
}

// NewSyncBroadcaster creates a new sync broadcaster. sessions may be nil.
func NewSyncBroadcaster(
	broadcasterID string,
	clock stream.Clock,
	interval time.Duration,
	sessions SessionCounter,
	logger *zap.Logger,
) *SyncBroadcaster {
	return &SyncBroadcaster{
		broadcasterID: broadcasterID,
		clock:         clock,
		sessions:      sessions,
		now:           time.Now,
		logger:        logger,
		clients:       make(map[*sseClient]bool),
		interval:      interval,
	}
}

// Run starts the periodic broadcast loop.
func (sb *SyncBroadcaster) Run(ctx context.Context) {
	sb.logger.Info("sync broadcaster starting",
		zap.String("broadcaster_id", sb.broadcasterID),
		zap.Duration("interval", sb.interval),
	)

	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sb.logger.Info("sync broadcaster stopping")
			return
		case <-ticker.C:
			sb.broadcastToAll()
		}
	}
}

// HandleSSE handles the SSE endpoint for subscribers.
func (sb *SyncBroadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// The server's write timeout would otherwise end the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	client := &sseClient{
		remote:  r.RemoteAddr,
		dataCh:  make(chan []byte, 10),
		doneCh:  make(chan struct{}),
		flusher: flusher,
		writer:  w,
	}

	sb.addClient(client)
	defer sb.removeClient(client)

	sb.logger.Info("sync client connected", zap.String("remote_addr", r.RemoteAddr))

	if err := sb.sendEvent(client, "snapshot", sb.buildSnapshot()); err != nil {
		sb.logger.Error("failed to send snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			sb.logger.Info("sync client disconnected", zap.String("remote_addr", r.RemoteAddr))
			return
		case <-client.doneCh:
			return
		case eventData := <-client.dataCh:
			if _, err := client.writer.Write(eventData); err != nil {
				sb.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			client.flusher.Flush()
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (sb *SyncBroadcaster) ClientCount() int {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return len(sb.clients)
}

func (sb *SyncBroadcaster) addClient(client *sseClient) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.clients[client] = true
}

func (sb *SyncBroadcaster) removeClient(client *sseClient) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	delete(sb.clients, client)
	close(client.doneCh)
}

// buildTick resolves the clock and stamps the next sequence number.
func (sb *SyncBroadcaster) buildTick() ClockTick {
	now := sb.now()

	sb.mu.Lock()
	sb.sequence++
	seq := sb.sequence
	sb.mu.Unlock()

	return ClockTick{
		BroadcasterID: sb.broadcasterID,
		Sequence:      seq,
		Timestamp:     now.UnixMilli(),
		Cursor:        sb.clock.Resolve(now).String(),
		Epoch:         sb.clock.Epoch.UnixMilli(),
		Velocity:      sb.clock.Velocity,
	}
}

func (sb *SyncBroadcaster) buildSnapshot() ClockSnapshot {
	snap := ClockSnapshot{
		ClockTick:  sb.buildTick(),
		IntervalMs: sb.interval.Milliseconds(),
	}
	if sb.sessions != nil {
		snap.Sessions = sb.sessions.Count()
	}
	return snap
}

func (sb *SyncBroadcaster) broadcastToAll() {
	sb.mu.RLock()
	clients := make([]*sseClient, 0, len(sb.clients))
	for client := range sb.clients {
		clients = append(clients, client)
	}
	sb.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	tick := sb.buildTick()
	eventData, err := formatEvent("tick", tick.Sequence, tick)
	if err != nil {
		sb.logger.Error("failed to format tick", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.dataCh <- eventData:
		default:
			// Channel full, client is slow
			sb.logger.Debug("client channel full, dropping tick",
				zap.String("remote_addr", client.remote),
			)
		}
	}
}

func (sb *SyncBroadcaster) sendEvent(client *sseClient, eventType string, snap ClockSnapshot) error {
	eventData, err := formatEvent(eventType, snap.Sequence, snap)
	if err != nil {
		return err
	}

	if _, err := client.writer.Write(eventData); err != nil {
		return err
	}
	client.flusher.Flush()
	return nil
}

func formatEvent(eventType string, seq uint64, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	event := fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, jsonData)
	return []byte(event), nil
}
