// Package redis persists the latest envelope per airport so a restarted
// process can diff its first poll against what it last saw.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

const keyPrefix = "notam:snapshot:"

// SnapshotStore saves and loads envelopes. It implements
// scheduler.SnapshotStore and scheduler.Publisher.
type SnapshotStore struct {
	client  *goredis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient connects to addr, which may be a host:port or a redis:// URL.
func NewClient(ctx context.Context, addr string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(addr)
	if err != nil {
		opts = &goredis.Options{Addr: addr}
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// NewSnapshotStore creates a store whose entries expire after ttl.
func NewSnapshotStore(client *goredis.Client, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl, logger: logger, metrics: metrics}
}

func snapshotKey(icao string) string { return keyPrefix + icao }

// Save stores env under its ICAO code.
func (s *SnapshotStore) Save(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(env.Metadata.ICAO), data, s.ttl).Err(); err != nil {
		s.metrics.SinkWrites.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("save snapshot %s: %w", env.Metadata.ICAO, err)
	}
	s.metrics.SinkWrites.WithLabelValues("redis", "success").Inc()
	return nil
}

// Load returns the saved envelope for icao. A missing key is not an error.
func (s *SnapshotStore) Load(ctx context.Context, icao string) (domain.Envelope, bool, error) {
	data, err := s.client.Get(ctx, snapshotKey(icao)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Envelope{}, false, nil
	}
	if err != nil {
		return domain.Envelope{}, false, fmt.Errorf("load snapshot %s: %w", icao, err)
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("discarding unreadable snapshot", "icao", icao, "error", err)
		return domain.Envelope{}, false, nil
	}
	return env, true, nil
}

// Delete removes the saved envelope for icao.
func (s *SnapshotStore) Delete(ctx context.Context, icao string) error {
	if err := s.client.Del(ctx, snapshotKey(icao)).Err(); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", icao, err)
	}
	return nil
}

// Publish saves the envelope of every completed poll.
func (s *SnapshotStore) Publish(ctx context.Context, result domain.PollResult) error {
	return s.Save(ctx, result.Envelope)
}

// CheckReadiness pings Redis.
func (s *SnapshotStore) CheckReadiness(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
