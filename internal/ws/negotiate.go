package ws

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dgnsrekt/primestream/internal/stream"
)

// NegotiateResponse tells a viewer where and how to connect.
type NegotiateResponse struct {
	WebsocketURL string   `json:"websocket_url"`
	Subprotocols []string `json:"subprotocols"`
	EpochMs      int64    `json:"epoch_ms"`
	Velocity     int64    `json:"velocity"`
	Sessions     int      `json:"sessions"`
	MaxSessions  int      `json:"max_sessions"`
}

// NegotiateHandler handles the /negotiate endpoint.
type NegotiateHandler struct {
	hub    *Hub
	clock  stream.Clock
	logger *zap.Logger
}

// NewNegotiateHandler creates a new NegotiateHandler.
func NewNegotiateHandler(hub *Hub, clock stream.Clock, logger *zap.Logger) *NegotiateHandler {
	return &NegotiateHandler{hub: hub, clock: clock, logger: logger}
}

// HandleNegotiate handles GET /negotiate.
func (h *NegotiateHandler) HandleNegotiate(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}

	response := NegotiateResponse{
		WebsocketURL: fmt.Sprintf("%s://%s/ws/stream", scheme, r.Host),
		Subprotocols: []string{SubprotocolJSON, SubprotocolProtobuf},
		EpochMs:      h.clock.Epoch.UnixMilli(),
		Velocity:     h.clock.Velocity,
		Sessions:     h.hub.Count(),
		MaxSessions:  h.hub.cfg.MaxSessions,
	}

	h.logger.Debug("negotiate successful", zap.String("remote", r.RemoteAddr))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode negotiate response", zap.Error(err))
	}
}
