package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cafepos/cafepos/internal/platform/db"
	"github.com/cafepos/cafepos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMaterials(ctx context.Context, filter ListFilter) ([]RawMaterial, error)
	GetMaterial(ctx context.Context, id int64) (RawMaterial, error)
	GetMaterials(ctx context.Context, ids []int64) (map[int64]RawMaterial, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertMaterial(ctx context.Context, m RawMaterial) (int64, error)
	GetMaterialForUpdate(ctx context.Context, id int64) (RawMaterial, error)
	UpdateMaterial(ctx context.Context, m RawMaterial) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates manual stock ledger edits.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	publisher  Publisher
	thresholds Thresholds
	maxRetries int
	logger     *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Thresholds Thresholds
	// MaxRetries bounds replays of an edit that lost a race with a concurrent commit.
	MaxRetries int
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, publisher Publisher, cfg ServiceConfig, logger *slog.Logger) *Service {
	thresholds := cfg.Thresholds
	if thresholds.LowStockMax <= 0 {
		thresholds = DefaultThresholds
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = db.DefaultRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, publisher: publisher, thresholds: thresholds, maxRetries: cfg.MaxRetries, logger: logger}
}

// Thresholds exposes the configured status bands.
func (s *Service) Thresholds() Thresholds {
	return s.thresholds
}

// Create registers a raw material with its opening quantity.
func (s *Service) Create(ctx context.Context, input CreateInput) (RawMaterial, error) {
	name := strings.TrimSpace(input.Name)
	unit := strings.TrimSpace(input.Unit)
	if name == "" || unit == "" {
		return RawMaterial{}, ErrMissingFields
	}
	if input.Quantity < 0 || math.IsNaN(input.Quantity) {
		return RawMaterial{}, ErrNegativeStock
	}
	category, err := ParseCategory(input.Category)
	if err != nil {
		return RawMaterial{}, err
	}
	material := RawMaterial{
		Name:      name,
		Category:  category,
		Unit:      unit,
		Quantity:  input.Quantity,
		Status:    s.thresholds.StatusFor(input.Quantity),
		UpdatedAt: time.Now().UTC(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertMaterial(ctx, material)
		if err != nil {
			return err
		}
		material.ID = id
		return nil
	})
	if err != nil {
		return RawMaterial{}, err
	}
	s.afterCommit(ctx, input.ActorID, ReasonCreate, material, map[string]any{"quantity": material.Quantity})
	return material, nil
}

// Restock adds inbound quantity.
func (s *Service) Restock(ctx context.Context, input RestockInput) (RawMaterial, error) {
	if input.Qty <= 0 || math.IsNaN(input.Qty) {
		return RawMaterial{}, ErrInvalidQuantity
	}
	material, err := s.mutate(ctx, input.MaterialID, func(m *RawMaterial) error {
		m.Quantity += input.Qty
		return nil
	})
	if err != nil {
		return RawMaterial{}, err
	}
	s.afterCommit(ctx, input.ActorID, ReasonRestock, material, map[string]any{"qty": input.Qty, "note": input.Note})
	return material, nil
}

// Adjust overwrites the quantity with a counted value.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (RawMaterial, error) {
	if input.Counted < 0 || math.IsNaN(input.Counted) {
		return RawMaterial{}, ErrNegativeStock
	}
	var previous float64
	material, err := s.mutate(ctx, input.MaterialID, func(m *RawMaterial) error {
		previous = m.Quantity
		m.Quantity = input.Counted
		return nil
	})
	if err != nil {
		return RawMaterial{}, err
	}
	s.afterCommit(ctx, input.ActorID, ReasonAdjust, material, map[string]any{"previous": previous, "counted": input.Counted, "note": input.Note})
	return material, nil
}

// Delete soft deletes a material so it no longer resolves in recipes.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	material, err := s.mutate(ctx, id, func(m *RawMaterial) error {
		m.Deleted = true
		return nil
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, actorID, ReasonDelete, material, nil)
	return nil
}

// Get returns a single material, including deleted ones.
func (s *Service) Get(ctx context.Context, id int64) (RawMaterial, error) {
	if id <= 0 {
		return RawMaterial{}, ErrMaterialNotFound
	}
	return s.repo.GetMaterial(ctx, id)
}

// List returns materials matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]RawMaterial, error) {
	return s.repo.ListMaterials(ctx, filter)
}

// Lookup fetches the current ledger rows for the given ids. Unknown ids are absent from the map.
func (s *Service) Lookup(ctx context.Context, ids []int64) (map[int64]RawMaterial, error) {
	if len(ids) == 0 {
		return map[int64]RawMaterial{}, nil
	}
	return s.repo.GetMaterials(ctx, ids)
}

// Summary reports how many active materials are low or out.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	materials, err := s.repo.ListMaterials(ctx, ListFilter{})
	if err != nil {
		return Summary{}, err
	}
	return Summarise(materials, s.thresholds), nil
}

func (s *Service) mutate(ctx context.Context, id int64, fn func(*RawMaterial) error) (RawMaterial, error) {
	if id <= 0 {
		return RawMaterial{}, ErrMaterialNotFound
	}
	var material RawMaterial
	err := db.Retry(ctx, s.maxRetries, func(attempt int, err error) {
		s.logger.Warn("stock edit retry", slog.Int64("material_id", id), slog.Int("attempt", attempt), slog.Any("error", err))
	}, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetMaterialForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if current.Deleted {
				return ErrMaterialDeleted
			}
			if err := fn(&current); err != nil {
				return err
			}
			if current.Quantity < 0 {
				return ErrNegativeStock
			}
			current.Status = s.thresholds.StatusFor(current.Quantity)
			current.UpdatedAt = time.Now().UTC()
			if err := tx.UpdateMaterial(ctx, current); err != nil {
				return err
			}
			material = current
			return nil
		})
	})
	if err != nil {
		return RawMaterial{}, err
	}
	return material, nil
}

func (s *Service) afterCommit(ctx context.Context, actorID int64, reason string, m RawMaterial, meta map[string]any) {
	if s.audit != nil {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["status"] = string(m.Status)
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("inventory:%s", reason),
			Entity:   "raw_material",
			EntityID: fmt.Sprintf("%d", m.ID),
			Meta:     meta,
		}); err != nil {
			s.logger.Warn("inventory audit", slog.Any("error", err), slog.Int64("material_id", m.ID))
		}
	}
	if s.publisher != nil {
		evt := ChangeEvent{MaterialIDs: []int64{m.ID}, Reason: reason, At: m.UpdatedAt}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("publish stock change", slog.Any("error", err), slog.Int64("material_id", m.ID))
		}
	}
}
