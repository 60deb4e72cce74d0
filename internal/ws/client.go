package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/primestream/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{SubprotocolJSON, SubprotocolProtobuf},
}

// frame is one outbound websocket message.
type frame struct {
	msgType int
	data    []byte
}

// Client is one viewer session. It owns its engine for the lifetime of the
// connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan frame
	connID   string
	engine   *stream.Engine
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	protocol string // "protobuf" or "json"
}

// negotiateProtocol picks the first supported subprotocol the client offered.
// JSON is the default when none was offered.
func negotiateProtocol(r *http.Request) (string, http.Header) {
	for _, proto := range websocket.Subprotocols(r) {
		switch proto {
		case SubprotocolProtobuf:
			return "protobuf", http.Header{"Sec-WebSocket-Protocol": {proto}}
		case SubprotocolJSON:
			return "json", http.Header{"Sec-WebSocket-Protocol": {proto}}
		}
	}
	return "json", nil
}

// HandleStream upgrades the request and starts a viewer session.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !h.acquire() {
		h.logger.Warn("session limit reached", zap.Int("maxSessions", h.cfg.MaxSessions))
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}

	protocol, responseHeader := negotiateProtocol(r)
	h.logger.Debug("websocket subprotocol negotiated",
		zap.String("protocol", protocol),
		zap.Strings("requested", websocket.Subprotocols(r)),
	)

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.release()
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.New().String()
	logger := h.logger.With(zap.String("connID", connID))

	// The session outlives the upgrade request.
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan frame, h.cfg.SendBuffer),
		connID:   connID,
		engine:   h.newEngine(),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		protocol: protocol,
	}

	select {
	case h.register <- client:
	case <-h.done:
		h.release()
		cancel()
		conn.Close()
		return
	}

	go client.engine.Run(ctx)

	clock := client.engine.Config().Clock
	client.enqueueText(buildConnectedMessageJSON(connID, clock.Epoch.UnixMilli(), clock.Velocity))

	go client.writePump()
	go client.readPump()
	go client.viewPump()
}

// enqueue queues a frame for the write pump. A viewer that cannot keep up
// with its buffer is disconnected.
func (c *Client) enqueue(f frame) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	select {
	case c.send <- f:
	default:
		c.logger.Warn("send buffer full, closing session")
		c.cancel()
	}
}

func (c *Client) enqueueText(data []byte) {
	c.enqueue(frame{msgType: websocket.TextMessage, data: data})
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(f.msgType, f.data); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// handleMessage processes an incoming upstream message.
func (c *Client) handleMessage(data []byte) {
	msg, err := parseUpstreamMessage(data)
	if err != nil {
		c.logger.Debug("failed to parse upstream message", zap.Error(err))
		c.enqueueText(buildErrorMessageJSON(err.Error()))
		return
	}

	switch m := msg.(type) {
	case *positionRequest:
		c.ack(m.ackID, c.engine.SetAtEdge(c.ctx, m.atEdge))

	case *demandRequest:
		c.ack(m.ackID, c.engine.Demand(c.ctx))

	case *pauseRequest:
		c.ack(m.ackID, c.engine.Pause(c.ctx))

	case *resumeRequest:
		c.ack(m.ackID, c.engine.Resume(c.ctx))

	case *pingRequest:
		c.enqueueText(buildPongMessageJSON())
	}
}

// ack confirms an upstream request when the viewer asked for it.
func (c *Client) ack(ackID *uint64, err error) {
	if err != nil {
		c.logger.Debug("upstream request failed", zap.Error(err))
	}
	if ackID == nil {
		return
	}
	c.enqueueText(buildAckMessageJSON(*ackID, err == nil))
}
