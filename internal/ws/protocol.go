package ws

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/dgnsrekt/primestream/internal/stream"
)

// Negotiated subprotocols.
const (
	SubprotocolJSON     = "json.primestream.v1"
	SubprotocolProtobuf = "protobuf.primestream.v1"
)

// TypeURLView tags binary view frames.
const TypeURLView = "primestream.view"

// upstreamSchema constrains every message a viewer may send.
const upstreamSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["position", "demand", "pause", "resume", "ping"]},
    "atEdge": {"type": "boolean"},
    "ackId": {"type": "integer", "minimum": 0}
  },
  "if": {"properties": {"type": {"const": "position"}}},
  "then": {"required": ["atEdge"]}
}`

var upstreamValidator = jsonschema.MustCompileString("upstream.schema.json", upstreamSchema)

// Upstream message types for internal routing
type (
	positionRequest struct {
		atEdge bool
		ackID  *uint64
	}
	demandRequest struct {
		ackID *uint64
	}
	pauseRequest struct {
		ackID *uint64
	}
	resumeRequest struct {
		ackID *uint64
	}
	pingRequest struct{}
)

// parseUpstreamMessage validates and decodes a JSON upstream message.
func parseUpstreamMessage(data []byte) (any, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("upstream message is not valid JSON")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal upstream message: %w", err)
	}
	if err := upstreamValidator.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid upstream message: %w", err)
	}

	var ackID *uint64
	if v := gjson.GetBytes(data, "ackId"); v.Exists() {
		id := v.Uint()
		ackID = &id
	}

	switch msgType := gjson.GetBytes(data, "type").String(); msgType {
	case "position":
		return &positionRequest{atEdge: gjson.GetBytes(data, "atEdge").Bool(), ackID: ackID}, nil
	case "demand":
		return &demandRequest{ackID: ackID}, nil
	case "pause":
		return &pauseRequest{ackID: ackID}, nil
	case "resume":
		return &resumeRequest{ackID: ackID}, nil
	case "ping":
		return &pingRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown upstream message type: %s", msgType)
	}
}

// entryJSON is the wire form of a history entry.
type entryJSON struct {
	Kind      string `json:"kind"`
	Value     string `json:"value,omitempty"`
	Marker    string `json:"marker,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// viewJSON is the wire form of an engine view.
type viewJSON struct {
	Type         string      `json:"type"`
	Offset       uint64      `json:"offset"`
	Seq          uint64      `json:"seq"`
	Cursor       string      `json:"cursor"`
	BufferLength int         `json:"bufferLength"`
	Revealed     int         `json:"revealed"`
	Backlog      int         `json:"backlog"`
	Live         bool        `json:"live"`
	AtEdge       bool        `json:"atEdge"`
	Paused       bool        `json:"paused"`
	Entries      []entryJSON `json:"entries"`
}

func toEntryJSON(e stream.Entry) entryJSON {
	if kind, at, ok := e.Marker(); ok {
		return entryJSON{Kind: "marker", Marker: kind.String(), Timestamp: at.UnixMilli()}
	}
	return entryJSON{Kind: "value", Value: e.Value().String()}
}

func toViewJSON(v stream.View) viewJSON {
	entries := make([]entryJSON, len(v.Entries))
	for i, e := range v.Entries {
		entries[i] = toEntryJSON(e)
	}
	return viewJSON{
		Type:         "view",
		Offset:       v.Offset,
		Seq:          v.Seq(),
		Cursor:       v.Cursor.String(),
		BufferLength: v.BufferLength,
		Revealed:     v.Revealed,
		Backlog:      v.Backlog,
		Live:         v.Live,
		AtEdge:       v.AtEdge,
		Paused:       v.Paused,
		Entries:      entries,
	}
}

// ============================================================================
// JSON Protocol Message Builders
// ============================================================================

// buildConnectedMessageJSON creates the greeting sent after upgrade.
func buildConnectedMessageJSON(connectionID string, epochMs, velocity int64) []byte {
	msg := map[string]interface{}{
		"type":         "system",
		"event":        "connected",
		"connectionId": connectionID,
		"epochMs":      epochMs,
		"velocity":     velocity,
	}
	data, _ := json.Marshal(msg)
	return data
}

// buildAckMessageJSON creates a JSON acknowledgment message.
func buildAckMessageJSON(ackID uint64, success bool) []byte {
	msg := map[string]interface{}{
		"type":    "ack",
		"ackId":   ackID,
		"success": success,
	}
	data, _ := json.Marshal(msg)
	return data
}

// buildViewMessageJSON serialises a view.
func buildViewMessageJSON(v stream.View) []byte {
	data, _ := json.Marshal(toViewJSON(v))
	return data
}

// buildPongMessageJSON creates a JSON PongMessage.
func buildPongMessageJSON() []byte {
	msg := map[string]interface{}{
		"type": "pong",
	}
	data, _ := json.Marshal(msg)
	return data
}

// buildErrorMessageJSON reports a rejected upstream message.
func buildErrorMessageJSON(reason string) []byte {
	msg := map[string]interface{}{
		"type":  "error",
		"error": reason,
	}
	data, _ := json.Marshal(msg)
	return data
}
