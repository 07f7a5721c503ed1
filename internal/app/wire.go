package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/fanpredict/marketd/internal/blob/s3"
	"github.com/fanpredict/marketd/internal/cache/redis"
	"github.com/fanpredict/marketd/internal/config"
	"github.com/fanpredict/marketd/internal/crypto"
	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/engine"
	"github.com/fanpredict/marketd/internal/notify"
	"github.com/fanpredict/marketd/internal/settle"
	"github.com/fanpredict/marketd/internal/store/postgres"
	"github.com/fanpredict/marketd/internal/token"
)

// Dependencies holds every wired resource the settlement engine needs. All
// modes get the full set: the mirror stores and Redis back both the API and
// the reconcile worker, so there is no mode that runs without them. Archiver
// and Notifier are nil when their config sections are disabled.
type Dependencies struct {
	// Mirror stores (PostgreSQL).
	MarketStore domain.MarketStore
	BetStore    domain.BetStore
	AuditStore  domain.AuditStore

	// Redis-backed infrastructure.
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Settlement core. The token ledger escrows stakes; the market ledger is
	// the authority for pools, resolution, and claims.
	Tokens     *token.Ledger
	Ledger     *engine.Ledger
	Reconciler *settle.Reconciler

	// Creator identity. Only this address may create and resolve markets.
	CreatorKey  *ecdsa.PrivateKey
	CreatorAddr common.Address
	TokenAddr   common.Address

	// Archiver exports settled mirror rows to object storage; the reader and
	// deleter back the archive browsing endpoints. All nil unless
	// archive.enabled is set.
	Archiver    *s3blob.BetArchiver
	BlobReader  domain.BlobReader
	BlobDeleter domain.BlobDeleter

	// Notifier is nil when no notification channel is configured.
	Notifier *notify.Notifier
}

// Wire constructs all dependencies from the configuration. It returns the
// dependency set and a cleanup function that closes every opened resource in
// reverse order. On error, any resources opened so far are closed before
// returning.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Creator signing key. The private key never leaves this process; the
	// derived address is the identity every resolve call is checked against.
	key, addr, err := crypto.LoadSigningKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Creator.PrivateKey,
		EncryptedKeyPath: cfg.Creator.EncryptedKeyPath,
		KeyPassword:      cfg.Creator.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: creator key: %w", err)
	}
	deps.CreatorKey = key
	deps.CreatorAddr = addr
	deps.TokenAddr = common.HexToAddress(cfg.Token.Address)

	// PostgreSQL mirror.
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pg.Close)

	if cfg.Database.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: migrations: %w", err)
		}
	}

	betStore := postgres.NewBetStore(pg.Pool())
	deps.MarketStore = postgres.NewMarketStore(pg.Pool())
	deps.BetStore = betStore
	deps.AuditStore = postgres.NewAuditStore(pg.Pool())

	// Redis: cache, rate limiting, locks, and the event bus.
	rdb, err := redis.New(ctx, redis.ClientConfig{
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
	closers = append(closers, func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close failed", slog.String("error", err.Error()))
		}
	})

	deps.MarketCache = redis.NewMarketCache(rdb)
	deps.RateLimiter = redis.NewRateLimiter(rdb)
	deps.LockManager = redis.NewLockManager(rdb)
	deps.SignalBus = redis.NewSignalBus(rdb)

	// Settlement core.
	deps.Tokens = token.NewLedger(cfg.Token.Symbol)
	deps.Ledger = engine.New(deps.Tokens, logger)
	deps.Reconciler = settle.NewReconciler(betStore, deps.Ledger, deps.LockManager, logger)

	// Object storage, only when archiving is on.
	if cfg.Archive.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
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
		if err := s3c.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		writer := s3blob.NewWriter(s3c)
		reader := s3blob.NewReader(s3c)
		deps.BlobReader = reader
		deps.BlobDeleter = reader
		deps.Archiver = s3blob.NewBetArchiver(writer, betStore, deps.AuditStore, logger)
	}

	// Notification senders.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("creator", addr.Hex()),
		slog.String("token", cfg.Token.Symbol),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier != nil),
	)

	return deps, cleanup, nil
}
