package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/notam-watch/internal/adapter/faa"
	httpadapter "github.com/couchcryptid/notam-watch/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/notam-watch/internal/adapter/kafka"
	"github.com/couchcryptid/notam-watch/internal/adapter/navcan"
	redisadapter "github.com/couchcryptid/notam-watch/internal/adapter/redis"
	"github.com/couchcryptid/notam-watch/internal/config"
	"github.com/couchcryptid/notam-watch/internal/highlight"
	"github.com/couchcryptid/notam-watch/internal/observability"
	"github.com/couchcryptid/notam-watch/internal/pipeline"
	"github.com/couchcryptid/notam-watch/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	primary := faa.NewClient(cfg.FAABaseURL, cfg.FAAClientID, cfg.FAAClientSecret, cfg.UpstreamTimeout, metrics, logger)
	secondary := navcan.NewClient(cfg.NavCanBaseURL, cfg.UpstreamTimeout, metrics, logger)
	fetcher := pipeline.NewFetcher(primary, secondary, pipeline.Options{
		FallbackPrefixes: cfg.FallbackPrefixes,
		MaxRecords:       cfg.MaxRecords,
	}, logger, metrics)

	session := scheduler.NewSession()
	sched := scheduler.New(fetcher, session, clock, scheduler.Options{
		BatchSize:       cfg.BatchSize,
		WindowCalls:     cfg.RateLimitCalls,
		WindowSize:      cfg.RateLimitWindow,
		DrainInterval:   cfg.DrainInterval,
		RefreshInterval: cfg.RefreshInterval,
		SweepInterval:   cfg.SweepInterval,
		MaxAttempts:     cfg.MaxAttempts,
	}, logger, metrics)

	tracker := highlight.NewTracker(cfg.HighlightTTL, clock, metrics)
	feed := highlight.NewFeed(cfg.FeedSize, clock, metrics)
	sched.SetSweeper(tracker)
	sched.AddPublisher(highlight.NewLifecycle(tracker, feed, clock, logger))

	// Optional sinks (feature-flagged via REDIS_ADDR / KAFKA_ENABLED).
	if cfg.RedisAddr != "" {
		client, err := redisadapter.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, snapshots disabled", "error", err)
		} else {
			defer client.Close() //nolint:errcheck // best-effort on shutdown
			store := redisadapter.NewSnapshotStore(client, cfg.RedisSnapshotTTL, logger, metrics)
			sched.SetSnapshotStore(store)
			sched.AddPublisher(store)
			logger.Info("redis snapshots enabled", "ttl", cfg.RedisSnapshotTTL)
		}
	}

	var changes *kafkaadapter.ChangePublisher
	if cfg.KafkaEnabled {
		changes = kafkaadapter.NewChangePublisher(cfg, logger, metrics)
		sched.AddPublisher(changes)
		logger.Info("kafka change publishing enabled", "topic", cfg.KafkaChangesTopic)
	}

	if len(cfg.ICAOs) > 0 {
		if _, err := sched.Track(ctx, cfg.ICAOs...); err != nil {
			logger.Error("failed to track initial icaos", "error", err)
			os.Exit(1)
		}
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Scheduler:  sched,
		Session:    session,
		Highlights: tracker,
		Feed:       feed,
		Ready:      sched,
	}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start scheduler.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before shutdown timeout")
	}
	if changes != nil {
		if err := changes.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
