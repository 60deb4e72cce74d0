package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/primestream/internal/stream"
)

type Config struct {
	Stream  StreamConfig  `mapstructure:"stream"`
	Server  ServerConfig  `mapstructure:"server"`
	WS      WSConfig      `mapstructure:"ws"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type StreamConfig struct {
	EpochMs         int64         `mapstructure:"epoch_ms"`
	Velocity        int64         `mapstructure:"velocity"`
	MaxBufferSize   int           `mapstructure:"max_buffer_size"`
	BatchSize       int           `mapstructure:"batch_size"`
	SyncThreshold   int           `mapstructure:"sync_threshold"`
	PrefillCount    int           `mapstructure:"prefill_count"`
	TrickleInterval time.Duration `mapstructure:"trickle_interval"`
	StepDelay       time.Duration `mapstructure:"step_delay"`
	Oracle          string        `mapstructure:"oracle"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RatePerSecond   int           `mapstructure:"rate_per_second"`
	MaxPrevious     int           `mapstructure:"max_previous"`
	// Oracle answers the /v1/primes lookups. Callers pick arbitrary inputs,
	// so this defaults to the probabilistic test.
	Oracle string `mapstructure:"oracle"`
}

type WSConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	SendBuffer  int  `mapstructure:"send_buffer"`
	MaxSessions int  `mapstructure:"max_sessions"`
	ViewLimit   int  `mapstructure:"view_limit"`
}

type SyncConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BroadcasterID string        `mapstructure:"broadcaster_id"`
	Interval      time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("stream.epoch_ms", stream.DefaultEpoch.UnixMilli())
	v.SetDefault("stream.velocity", stream.DefaultVelocity)
	v.SetDefault("stream.max_buffer_size", stream.DefaultMaxBufferSize)
	v.SetDefault("stream.batch_size", stream.DefaultBatchSize)
	v.SetDefault("stream.sync_threshold", stream.DefaultSyncThreshold)
	v.SetDefault("stream.prefill_count", stream.DefaultPrefillCount)
	v.SetDefault("stream.trickle_interval", stream.DefaultTrickleInterval)
	v.SetDefault("stream.step_delay", time.Duration(0))
	v.SetDefault("stream.oracle", stream.OracleTrial)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.rate_per_second", 20)
	v.SetDefault("server.max_previous", 1000)
	v.SetDefault("server.oracle", stream.OracleProbable)
	v.SetDefault("ws.enabled", true)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.max_sessions", 64)
	v.SetDefault("ws.view_limit", 1000)
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.broadcaster_id", defaultBroadcasterID())
	v.SetDefault("sync.interval", time.Second)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("PRIMESTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Epoch returns the configured genesis instant.
func (s StreamConfig) Epoch() time.Time {
	return time.UnixMilli(s.EpochMs).UTC()
}

// Clock returns the position resolver for this configuration.
func (s StreamConfig) Clock() stream.Clock {
	return stream.NewClock(s.Epoch(), s.Velocity)
}

// EngineConfig converts the stream section into engine tuning.
func (s StreamConfig) EngineConfig() (stream.Config, error) {
	oracle, err := stream.NewOracle(s.Oracle)
	if err != nil {
		return stream.Config{}, err
	}
	return stream.Config{
		Clock:           s.Clock(),
		Oracle:          oracle,
		MaxBufferSize:   s.MaxBufferSize,
		BatchSize:       s.BatchSize,
		SyncThreshold:   s.SyncThreshold,
		PrefillCount:    s.PrefillCount,
		TrickleInterval: s.TrickleInterval,
		StepDelay:       s.StepDelay,
		Now:             time.Now,
	}, nil
}

// defaultBroadcasterID names this process in sync events.
func defaultBroadcasterID() string {
	hostname, _ := os.Hostname()
	if hostname != "" {
		return hostname
	}
	return "primestream"
}
