package api

import (
	"errors"
	"fmt"

	"ticketing/internal/cache"
	"ticketing/internal/config"
	"ticketing/internal/database"
	"ticketing/internal/external"
	"ticketing/internal/logger"
	"ticketing/internal/messaging"
	"ticketing/internal/repository"
	"ticketing/internal/search"
	"ticketing/internal/service"
)

// Backends holds every connection a process needs to run the services.
// Redis, NATS and Elasticsearch are optional: when one is disabled or
// unreachable the services run without it.
type Backends struct {
	DB       *database.DB
	Repos    *repository.Repositories
	NATS     *messaging.NATSClient
	Cache    *cache.ConfirmationCache
	Search   *search.ElasticsearchClient
	Payments *external.PaymentClient
	Mail     service.Notifier
	Services *service.Services
}

// Connect открывает соединения и собирает сервисы
func Connect(cfg *config.Config) (*Backends, error) {
	log := logger.Get()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	b := &Backends{
		DB:       db,
		Repos:    repository.NewRepositories(db),
		Payments: external.NewPaymentClient(cfg.Payment),
	}

	if cfg.Redis.Enabled {
		rdb, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, confirmations run without cache", "error", err)
		} else {
			b.Cache = cache.NewConfirmationCache(rdb, cfg.Redis)
		}
	}

	if cfg.NATS.Enabled {
		nc, err := messaging.NewNATSClient(cfg.NATS)
		if err != nil {
			log.Warn("NATS unavailable, lifecycle events are not published", "error", err)
		} else {
			b.NATS = nc
		}
	}

	if cfg.Elasticsearch.Enabled {
		es, err := search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			log.Warn("Elasticsearch unavailable, search falls back to the database", "error", err)
		} else {
			b.Search = es
		}
	}

	if cfg.Mail.Host != "" {
		b.Mail = external.NewMailNotifier(cfg.Mail)
	} else {
		b.Mail = external.LogNotifier{}
	}

	deps := service.Dependencies{
		Ledger:        b.Repos.Ledger,
		Events:        b.Repos.Events,
		Tickets:       b.Repos.Tickets,
		Checkouts:     b.Repos.Checkouts,
		Registrations: b.Repos.Registrations,
		Payments:      b.Repos.Payments,
		Users:         b.Repos.Users,
		Gateway:       b.Payments,
		Notifier:      b.Mail,
	}
	// Интерфейсы заполняются только живыми клиентами, иначе nil указатель
	// превратится в не-nil интерфейс
	if b.NATS != nil {
		deps.Publisher = b.NATS
		if cfg.QueueNotifications {
			deps.Notifier = messaging.NewQueueNotifier(b.NATS)
		}
	}
	if b.Cache != nil {
		deps.Cache = b.Cache
	}
	if b.Search != nil {
		deps.Search = b.Search
	}

	b.Services = service.NewServices(deps, cfg.Checkout)
	return b, nil
}

// Close закрывает соединения в обратном порядке
func (b *Backends) Close() error {
	var errs []error
	if b.NATS != nil {
		if err := b.NATS.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close NATS: %w", err))
		}
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close Redis: %w", err))
		}
	}
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
