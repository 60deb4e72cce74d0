package config

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/primestream/internal/stream"
	"go.uber.org/zap/zapcore"
)

// FieldError describes one invalid setting.
type FieldError struct {
	Key    string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []FieldError
}

func (e *ValidationErrors) add(key, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Key: key, Reason: fmt.Sprintf(format, args...)})
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.Fields {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", f.Key, f.Reason))
	}
	return sb.String()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateStream(errs, c.Stream)

	if c.Server.Port == "" {
		errs.add("server.port", "must not be empty")
	}
	if c.Server.RatePerSecond < 1 {
		errs.add("server.rate_per_second", "must be >= 1, got %d", c.Server.RatePerSecond)
	}
	if c.Server.MaxPrevious < 1 {
		errs.add("server.max_previous", "must be >= 1, got %d", c.Server.MaxPrevious)
	}
	if _, err := stream.NewOracle(c.Server.Oracle); err != nil {
		errs.add("server.oracle", "%v", err)
	}
	if c.WS.Enabled && c.WS.SendBuffer < 1 {
		errs.add("ws.send_buffer", "must be >= 1, got %d", c.WS.SendBuffer)
	}
	if c.WS.Enabled && c.WS.MaxSessions < 1 {
		errs.add("ws.max_sessions", "must be >= 1, got %d", c.WS.MaxSessions)
	}
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		errs.add("sync.interval", "must be positive, got %s", c.Sync.Interval)
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs.add("logging.level", "unknown level %q", c.Logging.Level)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateStream(errs *ValidationErrors, s StreamConfig) {
	if s.Velocity < 1 {
		errs.add("stream.velocity", "must be >= 1, got %d", s.Velocity)
	}
	if s.MaxBufferSize < 1 {
		errs.add("stream.max_buffer_size", "must be >= 1, got %d", s.MaxBufferSize)
	}
	if s.BatchSize < 1 {
		errs.add("stream.batch_size", "must be >= 1, got %d", s.BatchSize)
	}
	if s.SyncThreshold < 0 || s.SyncThreshold >= s.MaxBufferSize {
		errs.add("stream.sync_threshold", "must be in [0, max_buffer_size), got %d", s.SyncThreshold)
	}
	if s.PrefillCount < 0 || s.PrefillCount >= s.MaxBufferSize {
		errs.add("stream.prefill_count", "must be in [0, max_buffer_size), got %d", s.PrefillCount)
	}
	if s.TrickleInterval <= 0 {
		errs.add("stream.trickle_interval", "must be positive, got %s", s.TrickleInterval)
	}
	if s.StepDelay < 0 {
		errs.add("stream.step_delay", "must not be negative, got %s", s.StepDelay)
	}
	if _, err := stream.NewOracle(s.Oracle); err != nil {
		errs.add("stream.oracle", "%v", err)
	}
}
