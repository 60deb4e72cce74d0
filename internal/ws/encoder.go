package ws

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dgnsrekt/primestream/internal/stream"
)

// Encoder converts views to the binary wire format: a google.protobuf.Any
// whose value is a Zstd-compressed google.protobuf.Struct.
type Encoder struct {
	zstdEncoder *zstd.Encoder
}

// NewEncoder creates a new Encoder with Zstd compression.
func NewEncoder() (*Encoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Encoder{zstdEncoder: enc}, nil
}

// EncodeView serialises v for protobuf clients.
func (e *Encoder) EncodeView(v stream.View) ([]byte, error) {
	vj := toViewJSON(v)

	entries := make([]interface{}, len(vj.Entries))
	for i, entry := range vj.Entries {
		m := map[string]interface{}{"kind": entry.Kind}
		if entry.Kind == "marker" {
			m["marker"] = entry.Marker
			m["timestamp"] = entry.Timestamp
		} else {
			m["value"] = entry.Value
		}
		entries[i] = m
	}

	// 1. Build the Struct
	st, err := structpb.NewStruct(map[string]interface{}{
		"offset":       vj.Offset,
		"seq":          vj.Seq,
		"cursor":       vj.Cursor,
		"bufferLength": vj.BufferLength,
		"revealed":     vj.Revealed,
		"backlog":      vj.Backlog,
		"live":         vj.Live,
		"atEdge":       vj.AtEdge,
		"paused":       vj.Paused,
		"entries":      entries,
	})
	if err != nil {
		return nil, fmt.Errorf("build view struct: %w", err)
	}

	// 2. Serialize to protobuf bytes
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	// 3. Compress with Zstd and wrap with the type URL
	anyMsg := &anypb.Any{
		TypeUrl: TypeURLView,
		Value:   e.zstdEncoder.EncodeAll(pbData, nil),
	}
	data, err := proto.Marshal(anyMsg)
	if err != nil {
		return nil, fmt.Errorf("marshal any: %w", err)
	}
	return data, nil
}

// Close releases encoder resources.
func (e *Encoder) Close() {
	if e.zstdEncoder != nil {
		e.zstdEncoder.Close()
	}
}

// DecodeView reverses EncodeView. Clients written in Go use it; the server
// only needs it in tests.
func DecodeView(data []byte) (*structpb.Struct, error) {
	var anyMsg anypb.Any
	if err := proto.Unmarshal(data, &anyMsg); err != nil {
		return nil, fmt.Errorf("unmarshal any: %w", err)
	}
	if anyMsg.GetTypeUrl() != TypeURLView {
		return nil, fmt.Errorf("unexpected type url: %s", anyMsg.GetTypeUrl())
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(anyMsg.GetValue(), nil)
	if err != nil {
		return nil, fmt.Errorf("decompress view: %w", err)
	}

	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal view struct: %w", err)
	}
	return &st, nil
}
