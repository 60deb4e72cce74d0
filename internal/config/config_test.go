package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/primestream/internal/stream"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.Stream.EpochMs != 1741922040000 {
		t.Errorf("expected genesis epoch, got %d", cfg.Stream.EpochMs)
	}
	if cfg.Stream.Velocity != 1 {
		t.Errorf("expected velocity 1, got %d", cfg.Stream.Velocity)
	}
	if cfg.Stream.MaxBufferSize != 5000 {
		t.Errorf("expected max buffer 5000, got %d", cfg.Stream.MaxBufferSize)
	}
	if cfg.Stream.BatchSize != 100 || cfg.Stream.SyncThreshold != 50 {
		t.Errorf("unexpected batch/threshold: %d/%d", cfg.Stream.BatchSize, cfg.Stream.SyncThreshold)
	}
	if cfg.Stream.TrickleInterval != 30*time.Millisecond {
		t.Errorf("expected 30ms trickle, got %s", cfg.Stream.TrickleInterval)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.Oracle != stream.OracleProbable {
		t.Errorf("expected probable lookups, got %q", cfg.Server.Oracle)
	}
	if cfg.Sync.BroadcasterID == "" {
		t.Error("expected a default broadcaster id")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRIMESTREAM_STREAM_VELOCITY", "3")
	t.Setenv("PRIMESTREAM_STREAM_TRICKLE_INTERVAL", "50ms")
	t.Setenv("PRIMESTREAM_STREAM_ORACLE", "probable")
	t.Setenv("PRIMESTREAM_SERVER_PORT", "9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Stream.Velocity != 3 {
		t.Errorf("expected velocity 3, got %d", cfg.Stream.Velocity)
	}
	if cfg.Stream.TrickleInterval != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %s", cfg.Stream.TrickleInterval)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}

	engineCfg, err := cfg.Stream.EngineConfig()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := engineCfg.Oracle.(stream.ProbablePrime); !ok {
		t.Errorf("expected ProbablePrime oracle, got %T", engineCfg.Oracle)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primestream.yaml")
	content := []byte(`
stream:
  epoch_ms: 1700000000000
  max_buffer_size: 800
  prefill_count: 10
ws:
  enabled: false
`)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Stream.Epoch().Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("unexpected epoch %v", cfg.Stream.Epoch())
	}
	if cfg.Stream.MaxBufferSize != 800 || cfg.Stream.PrefillCount != 10 {
		t.Errorf("file values not applied: %+v", cfg.Stream)
	}
	if cfg.WS.Enabled {
		t.Error("expected ws disabled")
	}
	if cfg.Stream.BatchSize != 100 {
		t.Errorf("defaults should fill unset keys, got batch %d", cfg.Stream.BatchSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRIMESTREAM_STREAM_VELOCITY", "0")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for zero velocity")
	}
}

func TestStreamClock(t *testing.T) {
	s := StreamConfig{EpochMs: stream.DefaultEpoch.UnixMilli(), Velocity: 1}
	got := s.Clock().Resolve(stream.DefaultEpoch.Add(time.Second))
	if got.Int64() != 1003 {
		t.Errorf("Resolve = %s, want 1003", got)
	}
}
