package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/storage/memory"
	"github.com/vladislavdragonenkov/returns/internal/storage/postgres"
)

// runtimeDependencies — репозитории выбранного хранилища.
type runtimeDependencies struct {
	returnsRepo      domain.ReturnRepository
	messageRepo      domain.MessageRepository
	refundRepo       domain.RefundRepository
	orderRepo        domain.OrderRepository
	walletRepo       domain.WalletRepository
	notificationRepo domain.NotificationRepository
	outboxRepo       domain.OutboxRepository
	idempotencyRepo  domain.IdempotencyRepository

	users    domain.UserRepository
	products domain.ProductRepository
	policies domain.PolicyRepository
	reasons  domain.ReasonRepository

	// ping проверяет доступность хранилища для readiness.
	ping  func(ctx context.Context) error
	close func() error
}

// initRuntimeDependencies создаёт репозитории по StorageDriver.
// Для postgres при PostgresAutoMigrate применяются все ожидающие миграции.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.New().WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return newMemoryDependencies(), nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage driver requires dsn")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return newPostgresDependencies(store), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func newMemoryDependencies() *runtimeDependencies {
	catalog := memory.NewCatalog()
	seedDefaults(catalog)

	return &runtimeDependencies{
		returnsRepo:      memory.NewReturnRepository(),
		messageRepo:      memory.NewMessageRepository(),
		refundRepo:       memory.NewRefundRepository(),
		orderRepo:        memory.NewOrderRepository(),
		walletRepo:       memory.NewWalletRepository(),
		notificationRepo: memory.NewNotificationRepository(),
		outboxRepo:       memory.NewOutboxRepository(),
		idempotencyRepo:  memory.NewIdempotencyRepository(),
		users:            catalog.Users(),
		products:         catalog.Products(),
		policies:         catalog.Policies(),
		reasons:          catalog.Reasons(),
		ping:             func(context.Context) error { return nil },
		close:            func() error { return nil },
	}
}

func newPostgresDependencies(store *postgres.Store) *runtimeDependencies {
	catalog := postgres.NewCatalog(store)
	return &runtimeDependencies{
		returnsRepo:      postgres.NewReturnRepository(store),
		messageRepo:      postgres.NewMessageRepository(store),
		refundRepo:       postgres.NewRefundRepository(store),
		orderRepo:        postgres.NewOrderRepository(store),
		walletRepo:       postgres.NewWalletRepository(store),
		notificationRepo: postgres.NewNotificationRepository(store),
		outboxRepo:       postgres.NewOutboxRepository(store),
		idempotencyRepo:  postgres.NewIdempotencyRepository(store),
		users:            catalog.Users(),
		products:         catalog.Products(),
		policies:         catalog.Policies(),
		reasons:          catalog.Reasons(),
		ping:             store.Ping,
		close:            store.Close,
	}
}

// seedDefaults заполняет in-memory каталог системной политикой и базовыми причинами возврата.
// В postgres те же строки создаёт миграция 0003_default_catalog.
func seedDefaults(catalog *memory.Catalog) {
	catalog.PutPolicy(domain.ReturnPolicy{
		ID:                    "system-default",
		ReturnWindowDays:      7,
		ReplacementWindowDays: 7,
		RefundWindowDays:      7,
		ShippingPaidBy:        domain.ShippingPaidBySeller,
	})
	for _, r := range []domain.ReturnReason{
		{ID: "damaged", Title: "Item arrived damaged", RequiresMedia: true, Active: true},
		{ID: "defective", Title: "Item is defective", RequiresMedia: true, Active: true},
		{ID: "wrong-item", Title: "Wrong item delivered", RequiresMedia: true, Active: true},
		{ID: "not-as-described", Title: "Item not as described", Active: true},
		{ID: "changed-mind", Title: "Changed my mind", Active: true},
	} {
		catalog.PutReason(r)
	}
}
