package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/babyfood/internal/health"
	"github.com/vladislavdragonenkov/babyfood/internal/storage/memory"
	"github.com/vladislavdragonenkov/babyfood/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/babyfood/internal/storage/redis"
)

// runtimeDependencies — хранилища выбранного драйвера и их проверки здоровья.
type runtimeDependencies struct {
	inventory        domain.InventoryRepository
	orders           domain.OrderRepository
	sequence         domain.OrderNumberSequence
	prices           domain.PriceRepository
	carts            domain.CartStore
	outboxRepo       domain.OutboxRepository
	timelineRepo     domain.TimelineRepository
	checkoutAttempts domain.CheckoutAttemptRepository

	storageChecker healthcheck.Checker
	cacheChecker   healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(string(cfg.StorageDriver))))

	var deps *runtimeDependencies
	switch driver {
	case StorageDriverMemory, "":
		deps = newMemoryDependencies()
		logger.Info("используем in-memory хранилище")
	case StorageDriverPostgres:
		pg, err := newPostgresDependencies(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		deps = pg
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		if err := attachRedis(ctx, deps, strings.TrimSpace(cfg.RedisAddr), logger); err != nil {
			_ = deps.close()
			return nil, err
		}
	}

	return deps, nil
}

func newMemoryDependencies() *runtimeDependencies {
	store := memory.NewStore()
	return &runtimeDependencies{
		inventory:        store.Inventory(),
		orders:           store.Orders(),
		sequence:         store.Sequence(),
		prices:           memory.NewPriceRepository(),
		carts:            memory.NewCartStore(),
		outboxRepo:       memory.NewOutboxRepository(),
		timelineRepo:     memory.NewTimelineRepository(),
		checkoutAttempts: memory.NewCheckoutAttemptRepository(),
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, errors.New("postgres storage driver requires BF_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("миграции postgres применены")
	}

	repos := store.Repositories()
	logger.Info("используем postgres хранилище")

	return &runtimeDependencies{
		inventory:        repos.Inventory,
		orders:           repos.Orders,
		sequence:         repos.Sequence,
		prices:           repos.Prices,
		carts:            memory.NewCartStore(),
		outboxRepo:       repos.Outbox,
		timelineRepo:     repos.Timeline,
		checkoutAttempts: repos.CheckoutAttempts,
		storageChecker:   healthcheck.NewSimpleChecker("postgres", store.Ping),
		closeFn:          store.Close,
	}, nil
}

// attachRedis переносит корзины и счётчик номеров заказов в Redis.
func attachRedis(ctx context.Context, deps *runtimeDependencies, addr string, logger *log.Entry) error {
	client, err := redisstore.Open(ctx, addr)
	if err != nil {
		return err
	}

	deps.carts = redisstore.NewCartStore(client, redisstore.DefaultCartTTL)
	deps.sequence = redisstore.NewOrderNumberSequence(client)
	deps.cacheChecker = healthcheck.NewSimpleChecker("redis", redisstore.NewChecker(client).Check)

	closeStorage := deps.closeFn
	deps.closeFn = func() error {
		var errs []error
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		if closeStorage != nil {
			if err := closeStorage(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	logger.WithField("addr", addr).Info("корзины и номера заказов хранятся в redis")
	return nil
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// registerCheckers подключает проверки хранилищ к /healthz и /readyz.
func (d *runtimeDependencies) registerCheckers(handler *healthcheck.Handler) {
	if d.storageChecker != nil {
		handler.RegisterChecker("postgres", d.storageChecker)
	}
	if d.cacheChecker != nil {
		handler.RegisterChecker("redis", d.cacheChecker)
	}
}
