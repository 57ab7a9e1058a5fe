package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/groupledger/internal/blob/s3"
	"github.com/alanyoungcy/groupledger/internal/cache/local"
	"github.com/alanyoungcy/groupledger/internal/cache/redis"
	"github.com/alanyoungcy/groupledger/internal/config"
	"github.com/alanyoungcy/groupledger/internal/domain"
	"github.com/alanyoungcy/groupledger/internal/notify"
	"github.com/alanyoungcy/groupledger/internal/server/handler"
	"github.com/alanyoungcy/groupledger/internal/service"
	"github.com/alanyoungcy/groupledger/internal/store/memory"
	"github.com/alanyoungcy/groupledger/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Registry   domain.SchemaRegistry
	Groups     domain.GroupStore
	Users      domain.UserStore
	Ledger     domain.LedgerStore
	Portfolios domain.PortfolioStore

	// Caches, locks and rate limits. Redis-backed when enabled, in-process
	// otherwise.
	Cache       domain.PortfolioCache
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter

	// Bus is nil when Redis is disabled.
	Bus *redis.SignalBus

	// Blob storage; all nil when S3 is disabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifier is nil when no sender is configured.
	Notifier *notify.Notifier

	// Health lists the pingable backends by name.
	Health map[string]handler.Pinger

	Logger *slog.Logger
}

// pingFunc adapts a function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger), Logger: logger}

	// --- Primary store ---
	switch strings.ToLower(cfg.Storage) {
	case "memory":
		st := memory.New()
		deps.Registry = st.Registry()
		deps.Groups = st.Groups()
		deps.Users = st.Users()
		deps.Ledger = st.Ledger()
		deps.Portfolios = st.Portfolios()
		logger.WarnContext(ctx, "using in-memory storage; data is lost on exit")

	default:
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

			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
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
		deps.Registry = postgres.NewSchemaRegistry(pool)
		deps.Groups = postgres.NewGroupStore(pool)
		deps.Users = postgres.NewUserStore(pool)
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.Portfolios = postgres.NewPortfolioStore(pool)
		deps.Health["postgres"] = pgClient
	}

	// --- Redis (optional) ---
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

		deps.Cache = redis.NewPortfolioCache(redisClient, cfg.Ledger.SnapshotTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamLen)
		deps.Health["redis"] = redisClient
	} else {
		deps.Cache = local.NewPortfolioCache(cfg.Ledger.SnapshotTTL.Duration)
		deps.Locks = local.NewLockManager()
		deps.RateLimiter = local.NewRateLimiter()
	}

	// --- S3 blob storage (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(writer, reader, deps.Ledger, deps.Portfolios,
			logger.With(slog.String("component", "archiver")))
		deps.Health["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// Services bundles the ledger services built over one set of dependencies.
type Services struct {
	Schema     *service.SchemaService
	Groups     *service.GroupService
	Users      *service.UserService
	Ledger     *service.LedgerService
	Portfolios *service.PortfolioService
}

// BuildServices constructs every service over deps. events receives the
// post-commit domain events and may be nil.
func BuildServices(cfg *config.Config, deps *Dependencies, events domain.EventPublisher, logger *slog.Logger) *Services {
	opts := service.Options{OpTimeout: cfg.Ledger.OpTimeout.Duration}
	idem := service.NewIdempotency(cfg.Ledger.IdempotencyTTL.Duration)

	svc := &Services{
		Schema: service.NewSchemaService(deps.Registry, deps.Locks, deps.Cache, opts, logger),
		Groups: service.NewGroupService(deps.Groups, deps.Archiver, events, opts, logger),
		Users:  service.NewUserService(deps.Users, events, cfg.Ledger.NotificationPage, opts, logger),
		Ledger: service.NewLedgerService(deps.Ledger, idem, events, opts, logger),
		Portfolios: service.NewPortfolioService(deps.Users, deps.Ledger, deps.Portfolios, deps.Cache,
			service.PageSizes{
				Transactions:     cfg.Ledger.TransactionPage,
				PortfolioUpdates: cfg.Ledger.PortfolioUpdatePage,
			}, opts, logger),
	}
	// Portfolio ids restart after a reset, so stored receipts must not replay.
	svc.Schema.OnReset(idem.Flush)
	return svc
}

// eventPublisher assembles the post-commit fan-out: external notifications
// plus either the Redis bus or the in-process hub.
func eventPublisher(deps *Dependencies, hub domain.EventPublisher) domain.EventPublisher {
	var fan notify.Fanout
	if deps.Notifier != nil {
		fan = append(fan, notify.Background{P: deps.Notifier, Logger: deps.Logger})
	}
	switch {
	case deps.Bus != nil:
		fan = append(fan, redis.EventPublisher{Bus: deps.Bus})
	case hub != nil:
		fan = append(fan, hub)
	}
	if len(fan) == 0 {
		return nil
	}
	return fan
}
