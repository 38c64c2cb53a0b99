package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/platform/db"
	"github.com/cafepos/cafepos/internal/recipes"
	"github.com/cafepos/cafepos/internal/shared"
	"github.com/cafepos/cafepos/internal/store/memory"
	"github.com/cafepos/cafepos/internal/store/sqlite"
)

// Stores bundles the repositories selected by STORE_DRIVER.
type Stores struct {
	Inventory  inventory.RepositoryPort
	Recipes    recipes.RepositoryPort
	Deductions deduction.RepositoryPort
	Audit      AuditRecorder

	ping    func(context.Context) error
	closers []func() error
}

// AuditRecorder satisfies both the inventory and recipes audit ports.
type AuditRecorder interface {
	inventory.AuditPort
	recipes.AuditPort
}

// OpenStores connects the configured backend and applies its schema.
func OpenStores(ctx context.Context, cfg *Config, logger *slog.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("store ready", slog.String("driver", StorePostgres))
		return &Stores{
			Inventory:  inventory.NewRepository(pool),
			Recipes:    recipes.NewRepository(pool),
			Deductions: deduction.NewRepository(pool),
			Audit:      shared.NewAuditLogger(pool),
			ping:       pool.Ping,
			closers:    []func() error{func() error { pool.Close(); return nil }},
		}, nil
	case StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("store ready", slog.String("driver", StoreSQLite), slog.String("path", cfg.SQLitePath))
		return &Stores{
			Inventory:  store.Inventory(),
			Recipes:    store.Recipes(),
			Deductions: store.Deductions(),
			Audit:      shared.NewAuditBuffer(1000),
			ping:       store.Ping,
			closers:    []func() error{store.Close},
		}, nil
	case StoreMemory:
		store := memory.New()
		logger.Info("store ready", slog.String("driver", StoreMemory))
		return &Stores{
			Inventory:  store.Inventory(),
			Recipes:    store.Recipes(),
			Deductions: store.Deductions(),
			Audit:      shared.NewAuditBuffer(1000),
			closers:    []func() error{store.Close},
		}, nil
	}
	return nil, fmt.Errorf("app: unsupported store driver %q", cfg.StoreDriver)
}

// Ping checks the backend. Drivers without a connection always succeed.
func (s *Stores) Ping(ctx context.Context) error {
	if s == nil || s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
