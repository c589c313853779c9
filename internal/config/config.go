package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/notam-watch/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Upstream adapters.
	FAABaseURL       string
	FAAClientID      string
	FAAClientSecret  string
	NavCanBaseURL    string
	UpstreamTimeout  time.Duration
	FallbackPrefixes []string

	// Scheduling and rate budget.
	ICAOs           []string
	BatchSize       int
	RateLimitCalls  int
	RateLimitWindow time.Duration
	DrainInterval   time.Duration
	RefreshInterval time.Duration
	MaxAttempts     int
	MaxRecords      int

	// Highlight lifecycle.
	HighlightTTL  time.Duration
	SweepInterval time.Duration
	FeedSize      int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Optional sinks.
	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaChangesTopic string
	RedisAddr         string
	RedisSnapshotTTL  time.Duration
}

// credentials is the shape of the optional CREDENTIALS_FILE. JSON is valid
// YAML, so both config.json and config.yaml work.
type credentials struct {
	FAAClientID     string `yaml:"faa_client_id"`
	FAAClientSecret string `yaml:"faa_client_secret"`
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		FAABaseURL:        strings.TrimRight(sharedcfg.EnvOrDefault("FAA_BASE_URL", "https://external-api.faa.gov/notamapi/v1"), "/"),
		FAAClientID:       os.Getenv("FAA_CLIENT_ID"),
		FAAClientSecret:   os.Getenv("FAA_CLIENT_SECRET"),
		NavCanBaseURL:     strings.TrimRight(sharedcfg.EnvOrDefault("NAVCAN_BASE_URL", "https://plan.navcanada.ca"), "/"),
		FallbackPrefixes:  splitList(sharedcfg.EnvOrDefault("FALLBACK_PREFIXES", "C")),
		HTTPAddr:          sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:          sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:   shutdownTimeout,
		KafkaEnabled:      os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaChangesTopic: sharedcfg.EnvOrDefault("KAFKA_CHANGES_TOPIC", "notam-changes"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
	}

	durations := []struct {
		dst *time.Duration
		key string
		def string
	}{
		{&cfg.UpstreamTimeout, "UPSTREAM_TIMEOUT", "15s"},
		{&cfg.RateLimitWindow, "RATE_LIMIT_WINDOW", "65s"},
		{&cfg.DrainInterval, "DRAIN_INTERVAL", "300ms"},
		{&cfg.RefreshInterval, "REFRESH_INTERVAL", "5m"},
		{&cfg.HighlightTTL, "HIGHLIGHT_TTL", "60s"},
		{&cfg.SweepInterval, "SWEEP_INTERVAL", "1s"},
		{&cfg.RedisSnapshotTTL, "REDIS_SNAPSHOT_TTL", "6h"},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		dst       *int
		key       string
		def       int
		allowZero bool
	}{
		{&cfg.BatchSize, "BATCH_SIZE", 10, false},
		{&cfg.RateLimitCalls, "RATE_LIMIT_CALLS", 30, false},
		{&cfg.MaxAttempts, "MAX_ATTEMPTS", 0, true},
		{&cfg.MaxRecords, "MAX_RECORDS", 50, false},
		{&cfg.FeedSize, "FEED_SIZE", 10, false},
	}
	for _, n := range ints {
		if *n.dst, err = parseInt(n.key, n.def, n.allowZero); err != nil {
			return nil, err
		}
	}

	if cfg.ICAOs, err = parseICAOs(os.Getenv("ICAOS")); err != nil {
		return nil, err
	}

	if cfg.FAAClientID == "" || cfg.FAAClientSecret == "" {
		if err := cfg.loadCredentials(sharedcfg.EnvOrDefault("CREDENTIALS_FILE", "config.json")); err != nil {
			return nil, err
		}
	}

	if cfg.FAAClientID == "" || cfg.FAAClientSecret == "" {
		return nil, errors.New("FAA_CLIENT_ID and FAA_CLIENT_SECRET are required")
	}
	if cfg.BatchSize > cfg.RateLimitCalls {
		return nil, fmt.Errorf("BATCH_SIZE (%d) must not exceed RATE_LIMIT_CALLS (%d)", cfg.BatchSize, cfg.RateLimitCalls)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaChangesTopic == "" {
		return nil, errors.New("KAFKA_CHANGES_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

// loadCredentials fills any missing FAA credentials from path. A missing file
// is not an error here; Load reports the missing credentials instead.
func (c *Config) loadCredentials(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read CREDENTIALS_FILE %s: %w", path, err)
	}

	var creds credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse CREDENTIALS_FILE %s: %w", path, err)
	}
	if c.FAAClientID == "" {
		c.FAAClientID = creds.FAAClientID
	}
	if c.FAAClientSecret == "" {
		c.FAAClientSecret = creds.FAAClientSecret
	}
	return nil
}

func parseDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, s)
	}
	return d, nil
}

func parseInt(key string, def int, allowZero bool) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || (n == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, s)
	}
	return n, nil
}

func parseICAOs(s string) ([]string, error) {
	var out []string
	for _, code := range splitList(s) {
		icao, err := domain.NormalizeICAO(code)
		if err != nil {
			return nil, fmt.Errorf("invalid ICAOS: %w", err)
		}
		out = append(out, icao)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
