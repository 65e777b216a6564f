package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/arvindrk/silverbot/internal/blob/s3"
	"github.com/arvindrk/silverbot/internal/cache/redis"
	"github.com/arvindrk/silverbot/internal/config"
	"github.com/arvindrk/silverbot/internal/domain"
	"github.com/arvindrk/silverbot/internal/metrics"
	"github.com/arvindrk/silverbot/internal/oracle"
	"github.com/arvindrk/silverbot/internal/platform/upstox"
	"github.com/arvindrk/silverbot/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Snapshots domain.SnapshotStore
	Trades    domain.TradeStore
	Tokens    domain.TokenSource
	Archiver  domain.ReplayArchiver // nil when S3 is disabled

	Broker *upstox.Client
	Feed   *upstox.Feed
	Oracle *oracle.Client

	Metrics *metrics.Metrics
}

// needsPostgres returns true for modes that require the trade log.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "monitor":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
	}

	// --- Redis: snapshot document + shared auth token ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Snapshots = redis.NewSnapshotStore(redisClient, cfg.Broker.ContractName)

	if cfg.Broker.AccessToken != "" {
		deps.Tokens = domain.StaticTokenSource(cfg.Broker.AccessToken)
	} else {
		deps.Tokens = redis.NewTokenWatcher(redisClient, "", cfg.Location())
	}

	// --- PostgreSQL: the trade log ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Trades = postgres.NewTradeStore(pgClient.Pool())
	}

	// --- S3: replay archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewReplayArchiver(s3Client)
	}

	// --- Broker REST + feed ---
	deps.Broker = upstox.NewClient(cfg.Broker.APIHost, cfg.Broker.InstrumentKey, deps.Tokens)
	deps.Feed = upstox.NewFeed(cfg.Broker.FeedHost, cfg.Broker.InstrumentKey, deps.Tokens, logger)

	// --- Decision oracle ---
	deps.Oracle = oracle.NewClient(
		cfg.Oracle.BaseURL,
		cfg.Oracle.APIKey,
		cfg.Oracle.Model,
		time.Duration(cfg.Oracle.TimeoutSec)*time.Second,
	)

	return deps, cleanup, nil
}
