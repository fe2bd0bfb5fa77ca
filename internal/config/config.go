package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	BatchLimit int         `json:"batch_limit" yaml:"batch_limit"`
	Kafka      KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type CacheConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
}

type TelemetryConfig struct {
	DefaultHistoryLimit int `json:"default_history_limit" yaml:"default_history_limit"`
	MaxHistoryLimit     int `json:"max_history_limit" yaml:"max_history_limit"`
}

type AnalyticsConfig struct {
	Window time.Duration `json:"window" yaml:"window"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		API:      APIConfig{Enabled: true, Addr: ":8080"},
		Storage:  StorageConfig{Driver: "sqlite", DSN: "file:fleetguard.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"},
		Ingest: IngestConfig{
			BatchLimit: 1000,
			Kafka:      KafkaConfig{Enabled: false},
		},
		Cache:     CacheConfig{Enabled: false, Addr: "localhost:6379", TTL: 30 * time.Second},
		Telemetry: TelemetryConfig{DefaultHistoryLimit: 100, MaxHistoryLimit: 1000},
		Analytics: AnalyticsConfig{Window: 24 * time.Hour},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Ingest.BatchLimit <= 0 {
		cfg.Ingest.BatchLimit = 1000
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 30 * time.Second
	}
	if cfg.Telemetry.DefaultHistoryLimit <= 0 {
		cfg.Telemetry.DefaultHistoryLimit = 100
	}
	if cfg.Telemetry.MaxHistoryLimit <= 0 {
		cfg.Telemetry.MaxHistoryLimit = 1000
	}
	if cfg.Analytics.Window <= 0 {
		cfg.Analytics.Window = 24 * time.Hour
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		return errors.New("cache.addr required when cache.enabled is true")
	}
	if cfg.Telemetry.DefaultHistoryLimit > cfg.Telemetry.MaxHistoryLimit {
		return errors.New("telemetry.default_history_limit must not exceed max_history_limit")
	}
	return nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
