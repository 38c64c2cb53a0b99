package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/cafepos/cafepos/internal/availability"
	"github.com/cafepos/cafepos/internal/bom"
	"github.com/cafepos/cafepos/internal/catalog"
	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/observability"
	"github.com/cafepos/cafepos/internal/platform/cache"
	"github.com/cafepos/cafepos/internal/recipes"
)

// Notifier publishes and subscribes to stock change events.
type Notifier interface {
	inventory.Publisher
	inventory.Subscriber
}

// Services is the assembled domain layer shared by the API, the worker and the CLI.
type Services struct {
	Config      *Config
	Stores      *Stores
	Notifier    Notifier
	Inventory   *inventory.Service
	Recipes     *recipes.Service
	Deduction   *deduction.Service
	Classifier  *availability.Classifier
	Broadcaster *availability.Broadcaster
	Metrics     *observability.Metrics

	redis *redis.Client
}

// BuildServices opens the configured store and notifier and wires every service.
// metrics may be nil.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Services, error) {
	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc := &Services{Config: cfg, Stores: stores, Metrics: metrics}

	switch cfg.NotifyDriver {
	case NotifyRedis:
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			_ = stores.Close()
			return nil, err
		}
		svc.redis = client
		svc.Notifier = inventory.NewRedisNotifier(client, logger)
	default:
		svc.Notifier = inventory.NewLocalNotifier()
	}

	thresholds := inventory.Thresholds{LowStockMax: cfg.StockLowThreshold}
	pub := &invalidatingPublisher{next: svc.Notifier}
	svc.Inventory = inventory.NewService(stores.Inventory, stores.Audit, pub, inventory.ServiceConfig{Thresholds: thresholds}, logger)
	svc.Recipes = recipes.NewService(stores.Recipes, stores.Audit, pub, bom.ValidateRecipe, logger)

	dedCfg := deduction.ServiceConfig{Thresholds: thresholds, Policy: cfg.Policy()}
	bcCfg := availability.BroadcasterConfig{Concurrency: cfg.BroadcastConcurrency}
	if metrics != nil {
		dedCfg.Observer = metrics
		bcCfg.Observer = metrics
	}
	svc.Deduction = deduction.NewService(stores.Deductions, svc.Recipes, pub, dedCfg, logger)
	svc.Classifier = availability.NewClassifier(svc.Recipes, svc.Inventory, thresholds, logger)
	pub.classifier = svc.Classifier
	svc.Broadcaster = availability.NewBroadcaster(svc.Classifier, svc.Recipes, bcCfg, logger)
	return svc, nil
}

// invalidatingPublisher starts a new classifier generation before forwarding a local change.
type invalidatingPublisher struct {
	next       inventory.Publisher
	classifier *availability.Classifier
}

func (p *invalidatingPublisher) Publish(ctx context.Context, evt inventory.ChangeEvent) error {
	if p.classifier != nil {
		p.classifier.Invalidate()
	}
	return p.next.Publish(ctx, evt)
}

// SeedCatalog applies CATALOG_SEED_PATH when set.
func (s *Services) SeedCatalog(ctx context.Context, logger *slog.Logger) error {
	if s.Config == nil || s.Config.CatalogSeedPath == "" {
		return nil
	}
	return s.ApplyCatalog(ctx, s.Config.CatalogSeedPath, logger)
}

// ApplyCatalog loads a seed file and applies it through the services.
func (s *Services) ApplyCatalog(ctx context.Context, path string, logger *slog.Logger) error {
	f, err := catalog.Load(path)
	if err != nil {
		return err
	}
	if _, err := catalog.Apply(ctx, f, s.Inventory, s.Recipes, logger); err != nil {
		return fmt.Errorf("app: seed catalog: %w", err)
	}
	return nil
}

// Close releases the store and the Redis connection.
func (s *Services) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.Stores.Close())
	return errors.Join(errs...)
}
