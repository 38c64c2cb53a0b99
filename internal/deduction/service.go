package deduction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cafepos/cafepos/internal/bom"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/platform/db"
	"github.com/cafepos/cafepos/internal/recipes"
)

const epsilon = 1e-9

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBySale(ctx context.Context, saleID string) ([]Deduction, error)
	ListByMaterial(ctx context.Context, materialID int64, limit, offset int) ([]Deduction, int, error)
}

// TxRepository exposes the transactional operations of one commit.
type TxRepository interface {
	// ClaimSale records the sale id, failing with ErrSaleAlreadyCommitted on reuse.
	ClaimSale(ctx context.Context, saleID string, at time.Time) error
	// LockMaterials reads and locks rows in ascending id order. Unknown ids are absent.
	LockMaterials(ctx context.Context, ids []int64) (map[int64]inventory.RawMaterial, error)
	UpdateMaterial(ctx context.Context, m inventory.RawMaterial) error
	InsertDeductions(ctx context.Context, rows []Deduction) error
}

// RecipeSource resolves the recipe variant for a sold line.
type RecipeSource interface {
	LookupVariant(ctx context.Context, productID int64, variant, size string) (recipes.Recipe, bool, error)
}

// Observer receives commit outcomes for metrics.
type Observer interface {
	DeductionCommitted(materials, insufficient int)
	DeductionRejected(reason string)
}

// Service commits orders against the ledger.
type Service struct {
	repo       RepositoryPort
	recipes    RecipeSource
	publisher  inventory.Publisher
	observer   Observer
	thresholds inventory.Thresholds
	policy     Policy
	maxRetries int
	logger     *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Thresholds inventory.Thresholds
	Policy     Policy
	MaxRetries int
	Observer   Observer
}

// NewService builds Service.
func NewService(repo RepositoryPort, source RecipeSource, publisher inventory.Publisher, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.Thresholds.LowStockMax <= 0 {
		cfg.Thresholds = inventory.DefaultThresholds
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyBlock
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = db.DefaultRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		recipes:    source,
		publisher:  publisher,
		observer:   cfg.Observer,
		thresholds: cfg.Thresholds,
		policy:     cfg.Policy,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// Policy returns the configured shortage policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// usage tracks which sizes and menu items consumed a material.
type usage struct {
	sizes     []string
	menuItems []string
}

type orderPlan struct {
	demand  bom.Demand
	usage   map[int64]*usage
	skipped []int64
}

// Commit resolves every line, merges demand and applies it in one transaction.
func (s *Service) Commit(ctx context.Context, saleID string, lines []LineItem) (Result, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" || len(saleID) > 64 {
		return Result{}, fmt.Errorf("%w: sale id must be 1-64 characters", ErrInvalidOrder)
	}
	if len(lines) == 0 {
		return Result{}, fmt.Errorf("%w: no line items", ErrInvalidOrder)
	}
	plan, err := s.plan(ctx, lines)
	if err != nil {
		s.reject("plan")
		return Result{}, err
	}

	var result Result
	err = db.Retry(ctx, s.maxRetries, func(attempt int, err error) {
		s.logger.Warn("deduction retry", slog.String("sale_id", saleID), slog.Int("attempt", attempt), slog.Any("error", err))
	}, func() error {
		var applyErr error
		result, applyErr = s.apply(ctx, saleID, plan)
		return applyErr
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientStock):
			s.reject("insufficient")
			s.logger.Info("deduction blocked", slog.String("sale_id", saleID), slog.Any("error", err))
		case errors.Is(err, ErrSaleAlreadyCommitted):
			s.reject("duplicate")
		default:
			s.reject("error")
			s.logger.Error("deduction failed", slog.String("sale_id", saleID), slog.Any("error", err))
		}
		return Result{}, err
	}
	result.SkippedProducts = plan.skipped

	if s.observer != nil {
		s.observer.DeductionCommitted(len(result.Applied), len(result.Insufficient))
	}
	if len(result.Insufficient) > 0 {
		s.logger.Warn("deduction committed with shortfall", slog.String("sale_id", saleID), slog.Int("insufficient", len(result.Insufficient)))
	}
	if s.publisher != nil && len(result.Applied) > 0 {
		ids := make([]int64, 0, len(result.Applied))
		for _, row := range result.Applied {
			ids = append(ids, row.RawMaterialID)
		}
		evt := inventory.ChangeEvent{MaterialIDs: ids, Reason: inventory.ReasonDeduction, At: time.Now().UTC()}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("publish deduction", slog.Any("error", err), slog.String("sale_id", saleID))
		}
	}
	return result, nil
}

// ListBySale returns the audit rows of one sale.
func (s *Service) ListBySale(ctx context.Context, saleID string) ([]Deduction, error) {
	return s.repo.ListBySale(ctx, strings.TrimSpace(saleID))
}

// ListByMaterial returns the newest audit rows touching a material.
func (s *Service) ListByMaterial(ctx context.Context, materialID int64, limit, offset int) ([]Deduction, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByMaterial(ctx, materialID, limit, offset)
}

func (s *Service) plan(ctx context.Context, lines []LineItem) (orderPlan, error) {
	p := orderPlan{usage: map[int64]*usage{}}
	for i, line := range lines {
		if line.ProductID <= 0 || line.Quantity <= 0 {
			return orderPlan{}, fmt.Errorf("%w: line %d needs a product and a positive quantity", ErrInvalidOrder, i+1)
		}
		rec, ok, err := s.recipes.LookupVariant(ctx, line.ProductID, line.Variant, line.Size)
		if err != nil {
			return orderPlan{}, fmt.Errorf("deduction: recipe for product %d: %w", line.ProductID, err)
		}
		if !ok || rec.Empty() {
			s.logger.Info("no recipe, skipping deduction", slog.Int64("product_id", line.ProductID))
			p.skipped = append(p.skipped, line.ProductID)
			continue
		}
		size := line.Size
		if size == "" {
			size = rec.DefaultSize()
		}
		d, err := bom.Resolve(rec, size, line.AddOns)
		if err != nil {
			return orderPlan{}, fmt.Errorf("%w: product %d: %v", ErrUnitMismatch, line.ProductID, err)
		}
		if err := p.demand.Merge(d, float64(line.Quantity)); err != nil {
			return orderPlan{}, fmt.Errorf("%w: product %d: %v", ErrUnitMismatch, line.ProductID, err)
		}
		name := line.MenuItemName
		if name == "" {
			name = fmt.Sprintf("product %d", line.ProductID)
		}
		for _, id := range d.IDs() {
			u := p.usage[id]
			if u == nil {
				u = &usage{}
				p.usage[id] = u
			}
			u.sizes = appendDistinct(u.sizes, size)
			u.menuItems = appendDistinct(u.menuItems, name)
		}
	}
	return p, nil
}

func (s *Service) apply(ctx context.Context, saleID string, p orderPlan) (Result, error) {
	result := Result{SaleID: saleID, Applied: []Deduction{}, Insufficient: []Insufficient{}}
	now := time.Now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result.Applied = result.Applied[:0]
		result.Insufficient = result.Insufficient[:0]
		result.SkippedMaterials = nil
		if err := tx.ClaimSale(ctx, saleID, now); err != nil {
			return err
		}
		if p.demand.Len() == 0 {
			return nil
		}
		materials, err := tx.LockMaterials(ctx, p.demand.IDs())
		if err != nil {
			return err
		}

		type write struct {
			material inventory.RawMaterial
			row      Deduction
		}
		writes := make([]write, 0, p.demand.Len())
		for _, line := range p.demand.Lines() {
			m, ok := materials[line.MaterialID]
			if !ok || m.Deleted {
				s.logger.Warn("unknown raw material skipped",
					slog.String("sale_id", saleID),
					slog.Int64("material_id", line.MaterialID),
					slog.String("cached_name", line.Name))
				result.SkippedMaterials = append(result.SkippedMaterials, line.MaterialID)
				continue
			}
			need, err := bom.Convert(line.Amount, line.Unit, m.Unit)
			if err != nil {
				return fmt.Errorf("%w: material %d: %v", ErrUnitMismatch, m.ID, err)
			}
			deduct := need
			available := math.Max(m.Quantity, 0)
			if available+epsilon < need {
				if line.Required {
					result.Insufficient = append(result.Insufficient, Insufficient{
						RawMaterialID: m.ID,
						Name:          m.Name,
						Needed:        need,
						Available:     m.Quantity,
						Unit:          m.Unit,
					})
				}
				deduct = available
			}
			u := p.usage[m.ID]
			row := Deduction{
				SaleID:          saleID,
				RawMaterialID:   m.ID,
				RawMaterialName: m.Name,
				Quantity:        deduct,
				Unit:            m.Unit,
				AddOns:          strings.Join(line.AddOns, ", "),
				Shortfall:       need - deduct,
				DeductedAt:      now,
			}
			if u != nil {
				row.SizeVariant = strings.Join(u.sizes, ", ")
				row.MenuItems = strings.Join(u.menuItems, ", ")
			}
			writes = append(writes, write{material: m, row: row})
		}
		if len(result.Insufficient) > 0 && s.policy == PolicyBlock {
			return &InsufficientStockError{Items: append([]Insufficient(nil), result.Insufficient...)}
		}

		rows := make([]Deduction, 0, len(writes))
		for _, w := range writes {
			m := w.material
			newQty := m.Quantity - w.row.Quantity
			if newQty < -epsilon {
				return fmt.Errorf("%w: material %d would reach %.4f", ErrConsistency, m.ID, newQty)
			}
			if math.Abs(newQty) < epsilon {
				newQty = 0
			}
			m.Quantity = newQty
			m.Status = s.thresholds.StatusFor(newQty)
			m.UpdatedAt = now
			if err := tx.UpdateMaterial(ctx, m); err != nil {
				return err
			}
			rows = append(rows, w.row)
		}
		if err := tx.InsertDeductions(ctx, rows); err != nil {
			return err
		}
		result.Applied = append(result.Applied, rows...)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (s *Service) reject(reason string) {
	if s.observer != nil {
		s.observer.DeductionRejected(reason)
	}
}

func appendDistinct(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
