package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/twmb/franz-go/pkg/kgo"

	adminhandler "certrepo/internal/admin/handler"
	"certrepo/internal/engine"
	"certrepo/internal/health"
	"certrepo/internal/lock"
	"certrepo/internal/platform/config"
	"certrepo/internal/platform/httpserver"
	"certrepo/internal/platform/kafka"
	"certrepo/internal/platform/logger"
	"certrepo/internal/platform/metrics"
	platformredis "certrepo/internal/platform/redis"
	"certrepo/internal/records"
	"certrepo/internal/records/kafkafeed"
	"certrepo/internal/records/postgres"
)

// relayedCollections are published to Kafka when the relay is enabled.
var relayedCollections = []string{
	records.CollectionUsers,
	records.CollectionTemplates,
	records.CollectionDocuments,
	records.CollectionCertificates,
}

// main wires high-level dependencies, exposes the admin router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	deps := engine.Deps{
		Registerer: m.Registry,
		Logger:     log,
		Health: engine.HealthConfig{
			Interval:     cfg.Engine.HealthInterval,
			ProbeTimeout: cfg.Engine.ProbeTimeout,
			StatsTTL:     cfg.Engine.StatsTTL,
		},
	}

	// Record store and its native change feed.
	var native records.ChangeFeed
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		cleanup = append(cleanup, func() { closeDB(db, log) })
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		store := postgres.New(db)
		deps.Store = store
		native = postgres.NewFeed(cfg.Database.URL, store, postgres.WithFeedLogger(log.With("component", "postgres_feed")))
		log.Info("using postgres record store")
	} else {
		store := records.NewInMemoryStore()
		cleanup = append(cleanup, func() { _ = store.Close() })
		deps.Store = store
		native = store
		log.Warn("using in-memory record store; data is lost on exit")
	}
	deps.Feed = native

	// Lease lock backend.
	if cfg.Engine.LockBackend == config.LockRedis {
		rc, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, func() { _ = rc.Close() })
		deps.Locker = lock.NewRedisLock(rc.Client, engine.InstanceID())
		deps.Probes = append(deps.Probes, health.DependencyProbe(health.ComponentLockBackend, rc.Health))
	}

	// Kafka: CDC relay out of the native feed, and/or the Kafka change feed.
	if cfg.Kafka.Brokers != "" {
		kcfg := kafka.Config{Brokers: kafka.ParseBrokers(cfg.Kafka.Brokers), ClientID: cfg.Kafka.ClientID}
		producer, err := kafka.NewClient(kcfg, kgo.AllowAutoTopicCreation())
		if err != nil {
			return err
		}
		cleanup = append(cleanup, producer.Close)
		if err := kafka.Ping(ctx, producer); err != nil {
			return err
		}
		deps.Probes = append(deps.Probes, health.DependencyProbe(health.ComponentChangeStream, func(ctx context.Context) error {
			return kafka.Ping(ctx, producer)
		}))

		if cfg.Engine.RelayChanges {
			deps.Services = append(deps.Services, kafkafeed.NewRelay(native, producer, relayedCollections,
				kafkafeed.WithRelayLogger(log.With("component", "cdc_relay")),
				kafkafeed.WithRelayMetrics(kafkafeed.NewRelayMetrics(m.Registry)),
				kafkafeed.WithRelayTopicPrefix(cfg.Kafka.TopicPrefix),
			))
		}
		if cfg.Engine.ChangeFeed == config.FeedKafka {
			deps.Feed = kafkafeed.NewFeed(kcfg, deps.Store,
				kafkafeed.WithLogger(log.With("component", "kafka_feed")),
				kafkafeed.WithTopicPrefix(cfg.Kafka.TopicPrefix),
			)
			log.Info("using kafka change feed", "topic_prefix", cfg.Kafka.TopicPrefix)
		}
	}

	eng, err := engine.New(deps)
	if err != nil {
		return err
	}
	if err := eng.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		if err := eng.Dispose(); err != nil {
			log.Warn("engine dispose", "error", err)
		}
	}()

	router := chi.NewRouter()
	adminhandler.New(eng, eng.Orchestrator(), log.With("component", "admin"), m, cfg.Server.AdminToken).Register(router)
	srv := httpserver.New(cfg.Server.Addr, router)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting certrepo", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("certrepo stopped")
	return nil
}

func closeDB(db *sql.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Warn("close database", "error", err)
	}
}
