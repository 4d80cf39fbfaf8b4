package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/polymonitor/internal/archive"
	s3blob "github.com/alanyoungcy/polymonitor/internal/blob/s3"
	"github.com/alanyoungcy/polymonitor/internal/cache/redis"
	"github.com/alanyoungcy/polymonitor/internal/config"
	"github.com/alanyoungcy/polymonitor/internal/domain"
	"github.com/alanyoungcy/polymonitor/internal/monitor"
	"github.com/alanyoungcy/polymonitor/internal/rpc"
	"github.com/alanyoungcy/polymonitor/internal/store/postgres"
)

// Dependencies bundles everything Run needs to operate. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TradeStore    domain.TradeStore
	PositionStore domain.PositionStore
	SyncStore     domain.SyncStore

	// Pipeline
	Pool    *rpc.Pool
	Scanner *monitor.Scanner

	// Background workers (nil when disabled)
	Archiver *archive.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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

	pool := pgClient.Pool()
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	syncStore := postgres.NewSyncStore(pool)
	deps.SyncStore = syncStore

	bands := domain.SettlementBands{
		Win:  cfg.Monitor.SettleWinThreshold,
		Loss: cfg.Monitor.SettleLossThreshold,
	}
	ingestStore := postgres.NewIngestStore(pool, bands, uuid.NewString())

	// --- Redis trade notification bus (optional) ---
	var notifier domain.TradeNotifier
	if cfg.Redis.Enabled {
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
		notifier = redis.NewTradeNotifier(redisClient)
	}

	// --- S3 trade archive (optional) ---
	if cfg.Archive.Enabled {
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
		deps.Archiver = archive.NewArchiver(
			deps.TradeStore,
			s3blob.NewWriter(s3Client),
			cfg.Archive.RetentionDays,
			logger,
		)
	}

	// --- Chain endpoint pool ---
	endpoints := make([]rpc.EndpointConfig, 0, len(cfg.Chain.Endpoints))
	for _, ep := range cfg.Chain.Endpoints {
		endpoints = append(endpoints, rpc.EndpointConfig{
			URL:      ep.URL,
			MaxRange: ep.MaxRange,
		})
	}
	chainPool, err := rpc.NewPool(rpc.PoolConfig{
		Endpoints: endpoints,
		Retry: rpc.RetryPolicy{
			MaxAttempts: cfg.Chain.MaxRetries,
			Delay:       cfg.Chain.RetryDelay.Duration,
		},
		RequestDelay: cfg.Chain.RequestDelay.Duration,
		CoolDown:     cfg.Chain.CoolDown.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: endpoint pool: %w", err)
	}
	closers = append(closers, chainPool.Close)
	deps.Pool = chainPool

	// --- Decoder and scanner ---
	ctfExchange := common.HexToAddress(cfg.Monitor.CTFExchange)
	negRiskExchange := common.HexToAddress(cfg.Monitor.NegRiskExchange)
	decoder := monitor.NewDecoder(ctfExchange, negRiskExchange)

	accounts := make([]common.Address, 0, len(cfg.Monitor.Accounts))
	for _, acct := range cfg.Monitor.Accounts {
		accounts = append(accounts, common.HexToAddress(acct))
	}

	initialCursor, err := resolveCursor(ctx, syncStore)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: load sync state: %w", err)
	}

	ingestor := monitor.NewIngestor(ingestStore, notifier, logger)
	deps.Scanner = monitor.NewScanner(chainPool, ingestor, decoder, monitor.ScanConfig{
		Accounts:             accounts,
		Contracts:            []common.Address{ctfExchange, negRiskExchange},
		PollInterval:         cfg.Monitor.PollInterval.Duration,
		BatchSize:            cfg.Monitor.BatchSize,
		StartBlock:           cfg.Monitor.StartBlock,
		LookbackHours:        cfg.Monitor.LookbackHours,
		CatchupThreshold:     cfg.Monitor.CatchupThreshold,
		MaxConsecutiveErrors: cfg.Monitor.MaxConsecutiveErrs,
	}, initialCursor, logger)

	return deps, cleanup, nil
}

// resolveCursor loads the persisted checkpoint; a missing row means this is
// the first run and the scanner picks its own start block.
func resolveCursor(ctx context.Context, store domain.SyncStore) (uint64, error) {
	state, err := store.Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return state.LastBlockProcessed, nil
}
