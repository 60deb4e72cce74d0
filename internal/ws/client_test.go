package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/primestream/internal/stream"
)

var testEpoch = time.UnixMilli(1741922040000).UTC()

func testEngineFactory() *stream.Engine {
	return stream.NewEngine(stream.Config{
		Clock:           stream.NewClock(testEpoch, 1),
		PrefillCount:    5,
		TrickleInterval: 5 * time.Millisecond,
		StepDelay:       time.Millisecond,
		Now:             func() time.Time { return testEpoch.Add(100 * time.Millisecond) },
	}, zap.NewNop())
}

func startHub(t *testing.T, cfg HubConfig) (*Hub, *httptest.Server) {
	t.Helper()
	hub, err := NewHub("test", cfg, testEngineFactory, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleStream))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, subprotocol string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := websocket.Dialer{HandshakeTimeout: time.Second}
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if subprotocol != "" && resp.Header.Get("Sec-WebSocket-Protocol") != subprotocol {
		t.Fatalf("negotiated %q, want %q", resp.Header.Get("Sec-WebSocket-Protocol"), subprotocol)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads text messages until one has the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", msgType, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
}

func TestSessionJSON(t *testing.T) {
	_, srv := startHub(t, HubConfig{MaxSessions: 4, ViewLimit: 1000})
	conn := dial(t, srv, SubprotocolJSON)

	connected := readUntil(t, conn, "system")
	if connected["event"] != "connected" || connected["connectionId"] == "" {
		t.Fatalf("unexpected greeting: %v", connected)
	}
	if connected["epochMs"] != float64(testEpoch.UnixMilli()) {
		t.Errorf("epochMs = %v", connected["epochMs"])
	}

	view := readUntil(t, conn, "view")
	entries := view["entries"].([]any)
	want := []string{"79", "83", "89", "97", "101"}
	if len(entries) != len(want)+1 {
		t.Fatalf("len(entries) = %d, want %d", len(entries), len(want)+1)
	}
	for i, w := range want {
		e := entries[i].(map[string]any)
		if e["value"] != w {
			t.Errorf("entries[%d] = %v, want %s", i, e["value"], w)
		}
	}
	last := entries[len(want)].(map[string]any)
	if last["marker"] != "connection_established" {
		t.Errorf("last entry = %v, want connection marker", last)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	readUntil(t, conn, "pong")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pause","ackId":7}`)); err != nil {
		t.Fatalf("write pause: %v", err)
	}
	ack := readUntil(t, conn, "ack")
	if ack["ackId"] != float64(7) || ack["success"] != true {
		t.Errorf("unexpected ack: %v", ack)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	readUntil(t, conn, "error")
}

func TestSessionDeltaViews(t *testing.T) {
	_, srv := startHub(t, HubConfig{ViewLimit: 1000})
	conn := dial(t, srv, "")

	first := readUntil(t, conn, "view")
	seq := first["seq"].(float64)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"position","atEdge":true}`)); err != nil {
		t.Fatalf("write position: %v", err)
	}

	// At the edge, trickle reveals generated primes; later views carry only
	// entries after the previous sequence.
	for {
		v := readUntil(t, conn, "view")
		if v["offset"].(float64) < seq {
			t.Fatalf("offset %v went behind previous seq %v", v["offset"], seq)
		}
		if len(v["entries"].([]any)) > 0 {
			e := v["entries"].([]any)[0].(map[string]any)
			if e["value"] != "107" {
				t.Errorf("first new entry = %v, want 107", e["value"])
			}
			return
		}
		seq = v["seq"].(float64)
	}
}

func TestSessionProtobuf(t *testing.T) {
	_, srv := startHub(t, HubConfig{ViewLimit: 1000})
	conn := dial(t, srv, SubprotocolProtobuf)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		st, err := DecodeView(data)
		if err != nil {
			t.Fatalf("DecodeView: %v", err)
		}
		if got := st.GetFields()["cursor"].GetStringValue(); got != "103" {
			t.Errorf("cursor = %q, want 103", got)
		}
		if n := len(st.GetFields()["entries"].GetListValue().GetValues()); n != 6 {
			t.Errorf("len(entries) = %d, want 6", n)
		}
		return
	}
}

func TestSessionLimit(t *testing.T) {
	hub, srv := startHub(t, HubConfig{MaxSessions: 1, ViewLimit: 10})
	dial(t, srv, SubprotocolJSON)

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected second session to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("response = %v, want 503", resp)
	}
}

func TestSessionLimitConcurrentDials(t *testing.T) {
	const limit = 2
	hub, srv := startHub(t, HubConfig{MaxSessions: limit, ViewLimit: 10})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []*websocket.Conn
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
			conn, resp, err := dialer.Dial(url, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted = append(admitted, conn)
				return
			}
			if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
				rejected++
			}
		}()
	}
	wg.Wait()
	t.Cleanup(func() {
		for _, conn := range admitted {
			conn.Close()
		}
	})

	if len(admitted) != limit || rejected != 10-limit {
		t.Fatalf("admitted %d, rejected %d; want %d and %d", len(admitted), rejected, limit, 10-limit)
	}
	if hub.Count() > limit {
		t.Errorf("Count() = %d, exceeds limit %d", hub.Count(), limit)
	}
}

func TestSessionLimitFreesSlotOnClose(t *testing.T) {
	hub, srv := startHub(t, HubConfig{MaxSessions: 1, ViewLimit: 10})
	conn := dial(t, srv, SubprotocolJSON)
	readUntil(t, conn, "view")
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Count() = %d after close, want 0", hub.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	readUntil(t, dial(t, srv, SubprotocolJSON), "connected")
}

func TestSessionUnregistersOnClose(t *testing.T) {
	hub, srv := startHub(t, HubConfig{ViewLimit: 10})
	conn := dial(t, srv, SubprotocolJSON)
	readUntil(t, conn, "view")

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Count() = %d after close, want 0", hub.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNegotiate(t *testing.T) {
	hub, err := NewHub("test", HubConfig{MaxSessions: 8}, testEngineFactory, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	h := NewNegotiateHandler(hub, stream.NewClock(testEpoch, 3), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "http://example.com/negotiate", nil)
	rec := httptest.NewRecorder()
	h.HandleNegotiate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got NegotiateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.WebsocketURL != "ws://example.com/ws/stream" {
		t.Errorf("WebsocketURL = %q", got.WebsocketURL)
	}
	if got.Velocity != 3 || got.EpochMs != testEpoch.UnixMilli() || got.MaxSessions != 8 {
		t.Errorf("unexpected response: %+v", got)
	}
}
