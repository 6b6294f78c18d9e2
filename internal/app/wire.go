package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/iouledger/internal/blob/s3"
	"github.com/alanyoungcy/iouledger/internal/cache/memory"
	"github.com/alanyoungcy/iouledger/internal/cache/redis"
	"github.com/alanyoungcy/iouledger/internal/config"
	"github.com/alanyoungcy/iouledger/internal/crypto"
	"github.com/alanyoungcy/iouledger/internal/domain"
	"github.com/alanyoungcy/iouledger/internal/notary"
	"github.com/alanyoungcy/iouledger/internal/notify"
	"github.com/alanyoungcy/iouledger/internal/server/handler"
	"github.com/alanyoungcy/iouledger/internal/store/postgres"
	"github.com/alanyoungcy/iouledger/internal/vault"
)

// Dependencies bundles every domain-level dependency that node mode needs to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Identity
	Signer      *crypto.Signer
	Me          domain.Party
	NotaryParty domain.Party

	// Stores
	Vault    domain.Vault
	EventLog domain.EventLog

	// Caches and coordination
	Uniqueness  domain.UniquenessProvider
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter // nil without Redis
	SignalBus   domain.SignalBus

	// Blob storage
	Archive domain.TxArchive // nil when S3 is disabled

	// Notifications
	Notifier *notify.Notifier

	// Health checks for the backing services that were wired.
	Checks map[string]handler.CheckFunc
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.CheckFunc{}}

	// --- Identity ---
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Identity.PrivateKey,
		EncryptedKeyPath: cfg.Identity.KeyFile,
		KeyPassword:      cfg.Identity.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: identity: %w", err)
	}
	deps.Signer = signer
	deps.Me = domain.Party{Name: cfg.Node.Name, Address: signer.Address()}
	if cfg.Node.Role == "notary" {
		deps.NotaryParty = deps.Me
	} else {
		deps.NotaryParty = domain.Party{Name: cfg.Notary.Name, Address: common.HexToAddress(cfg.Notary.Address)}
	}

	// --- Vault (PostgreSQL or in-memory) ---
	switch cfg.Vault.Backend {
	case "postgres":
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

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Vault = postgres.NewVault(pool)
		deps.EventLog = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	default:
		deps.Vault = vault.NewMemory()
		deps.EventLog = memory.NewEventLog(0)
	}

	// --- Redis (optional; in-process fallbacks otherwise) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		if cfg.Notary.Uniqueness == "redis" {
			deps.Uniqueness = redis.NewUniquenessProvider(redisClient)
		}
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
	}
	if deps.Uniqueness == nil {
		deps.Uniqueness = notary.NewMemoryUniqueness()
	}

	// --- S3 transaction archive ---
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
		deps.Archive = s3blob.NewTxArchiver(s3blob.NewBucket(s3Client))
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("party", deps.Me.Name),
		slog.String("address", deps.Me.Address.Hex()),
		slog.String("vault", cfg.Vault.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("archive", deps.Archive != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)

	return deps, cleanup, nil
}
