package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Presence  PresenceConfig  `yaml:"presence"`
	Typing    TypingConfig    `yaml:"typing"`
	History   HistoryConfig   `yaml:"history"`
	Limits    LimitsConfig    `yaml:"limits"`
	Security  SecurityConfig  `yaml:"security"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StorageConfig selects the message store backend. The backend is decided
// once at startup and never switched per-call.
type StorageConfig struct {
	Backend string `yaml:"backend"` // pebble | memory
	DBPath  string `yaml:"db_path"`
}

// PresenceConfig tunes the offline grace window.
type PresenceConfig struct {
	GraceWindow Duration `yaml:"grace_window"`
}

// TypingConfig tunes typing-marker expiry.
type TypingConfig struct {
	TTL           Duration `yaml:"ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// HistoryConfig bounds history-on-join retrieval.
type HistoryConfig struct {
	PageSize int `yaml:"page_size"`
}

// LimitsConfig bounds inbound payloads and command rates.
type LimitsConfig struct {
	MaxBodyBytes SizeBytes `yaml:"max_body_bytes"`
	WSRPS        float64   `yaml:"ws_rps"`
	WSBurst      int       `yaml:"ws_burst"`
}

// SecurityConfig holds the CORS origin whitelist for the HTTP surface and
// the websocket upgrader.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

// RetentionConfig holds configuration for the tombstone purge runner.
type RetentionConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Cron      string   `yaml:"cron"`
	Period    Duration `yaml:"period"`
	BatchSize int      `yaml:"batch_size"`
	DryRun    bool     `yaml:"dry_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Duration is a time.Duration unmarshaled from strings like "30s" or "10m",
// or from a bare integer meaning seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(raw); err == nil {
		*d = Duration(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64KB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }
