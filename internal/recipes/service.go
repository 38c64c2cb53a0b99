package recipes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/shared"
)

// RepositoryPort abstracts recipe persistence.
type RepositoryPort interface {
	ListByProduct(ctx context.Context, productID int64) ([]Recipe, error)
	Get(ctx context.Context, productID int64, variant string) (Recipe, error)
	Upsert(ctx context.Context, r Recipe) (Recipe, error)
	Delete(ctx context.Context, productID int64, variant string) error
	ListProductIDs(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CheckFunc performs structural validation beyond struct tags.
type CheckFunc func(Recipe) error

// Service manages the recipe catalog.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	publisher inventory.Publisher
	check     CheckFunc
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewService builds Service. check may be nil.
func NewService(repo RepositoryPort, audit AuditPort, publisher inventory.Publisher, check CheckFunc, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, publisher: publisher, check: check, validate: validator.New(), logger: logger}
}

// Save validates and stores the recipe, replacing any existing (product, variant) row.
func (s *Service) Save(ctx context.Context, r Recipe, actorID int64) (Recipe, error) {
	r = normalise(r)
	if err := s.validate.Struct(r); err != nil {
		return Recipe{}, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
	}
	if s.check != nil {
		if err := s.check(r); err != nil {
			return Recipe{}, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
		}
	}
	r.UpdatedAt = time.Now().UTC()
	saved, err := s.repo.Upsert(ctx, r)
	if err != nil {
		return Recipe{}, err
	}
	s.afterCommit(ctx, actorID, "recipes:save", saved)
	return saved, nil
}

// Get returns one variant.
func (s *Service) Get(ctx context.Context, productID int64, variant string) (Recipe, error) {
	if strings.TrimSpace(variant) == "" {
		variant = DefaultVariant
	}
	return s.repo.Get(ctx, productID, variant)
}

// ListByProduct returns every variant of a product in stored order.
func (s *Service) ListByProduct(ctx context.Context, productID int64) ([]Recipe, error) {
	return s.repo.ListByProduct(ctx, productID)
}

// Lookup selects the variant that applies to size. found is false when the product has no recipe.
func (s *Service) Lookup(ctx context.Context, productID int64, size string) (Recipe, bool, error) {
	candidates, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return Recipe{}, false, err
	}
	r, ok := Select(candidates, size)
	return r, ok, nil
}

// LookupVariant prefers an explicitly named variant and falls back to Lookup by size.
func (s *Service) LookupVariant(ctx context.Context, productID int64, variant, size string) (Recipe, bool, error) {
	candidates, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return Recipe{}, false, err
	}
	if variant != "" {
		for _, r := range candidates {
			if EqualFold(r.VariantName, variant) {
				return r, true, nil
			}
		}
	}
	r, ok := Select(candidates, size)
	return r, ok, nil
}

// ProductIDs lists products that have at least one recipe.
func (s *Service) ProductIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.repo.ListProductIDs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Delete removes a variant.
func (s *Service) Delete(ctx context.Context, productID int64, variant string, actorID int64) error {
	if err := s.repo.Delete(ctx, productID, variant); err != nil {
		return err
	}
	s.afterCommit(ctx, actorID, "recipes:delete", Recipe{ProductID: productID, VariantName: variant})
	return nil
}

func (s *Service) afterCommit(ctx context.Context, actorID int64, action string, r Recipe) {
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "recipe",
			EntityID: fmt.Sprintf("%d:%s", r.ProductID, r.VariantName),
			Meta:     map[string]any{"ingredients": len(r.Ingredients), "add_ons": len(r.AddOns)},
		}); err != nil {
			s.logger.Warn("recipe audit", slog.Any("error", err))
		}
	}
	if s.publisher != nil {
		evt := inventory.ChangeEvent{Reason: "recipe", At: time.Now().UTC()}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("publish recipe change", slog.Any("error", err), slog.Int64("product_id", r.ProductID))
		}
	}
}

func normalise(r Recipe) Recipe {
	r = r.Clone()
	r.VariantName = strings.TrimSpace(r.VariantName)
	if r.VariantName == "" {
		r.VariantName = DefaultVariant
	}
	for i := range r.Sizes {
		r.Sizes[i] = strings.TrimSpace(r.Sizes[i])
	}
	for i := range r.Ingredients {
		r.Ingredients[i] = normaliseIngredient(r.Ingredients[i])
	}
	for i := range r.AddOns {
		r.AddOns[i].Name = strings.TrimSpace(r.AddOns[i].Name)
		for j := range r.AddOns[i].Ingredients {
			r.AddOns[i].Ingredients[j] = normaliseIngredient(r.AddOns[i].Ingredients[j])
		}
	}
	return r
}

func normaliseIngredient(ing Ingredient) Ingredient {
	ing.Unit = strings.TrimSpace(ing.Unit)
	ing.SizeVariant = strings.TrimSpace(ing.SizeVariant)
	ing.AddOnName = strings.TrimSpace(ing.AddOnName)
	if !ing.IsAddOn {
		ing.AddOnName = ""
		ing.AddOnExtraQuantity = 0
	}
	return ing
}
