// Package memory keeps the ledger, recipe catalog and deduction audit in process memory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/recipes"
	"github.com/cafepos/cafepos/internal/shared"
)

// Store is the shared state behind the per-domain adapters. A transaction holds
// the store lock until it commits, so commits are serialised.
type Store struct {
	mu     sync.Mutex
	closed bool

	materials    map[int64]inventory.RawMaterial
	nextMaterial int64

	recipes    []recipes.Recipe
	nextRecipe int64

	sales         map[string]time.Time
	deductions    []deduction.Deduction
	nextDeduction int64
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		materials: map[int64]inventory.RawMaterial{},
		sales:     map[string]time.Time{},
	}
}

// Close rejects further use of the store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Inventory returns the ledger adapter.
func (s *Store) Inventory() *InventoryRepo {
	return &InventoryRepo{s: s}
}

// Recipes returns the catalog adapter.
func (s *Store) Recipes() *RecipeRepo {
	return &RecipeRepo{s: s}
}

// Deductions returns the deduction audit adapter.
func (s *Store) Deductions() *DeductionRepo {
	return &DeductionRepo{s: s}
}

func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return shared.ErrStoreClosed
	}
	return nil
}

// tx stages writes until the callback succeeds. Callers hold s.mu.
type tx struct {
	s          *Store
	materials  map[int64]inventory.RawMaterial
	sales      map[string]time.Time
	deductions []deduction.Deduction
}

func (s *Store) begin() *tx {
	return &tx{s: s, materials: map[int64]inventory.RawMaterial{}, sales: map[string]time.Time{}}
}

func (t *tx) material(id int64) (inventory.RawMaterial, bool) {
	if m, ok := t.materials[id]; ok {
		return m, true
	}
	m, ok := t.s.materials[id]
	return m, ok
}

func (t *tx) commit() {
	for id, m := range t.materials {
		t.s.materials[id] = m
	}
	for id, at := range t.sales {
		t.s.sales[id] = at
	}
	t.s.deductions = append(t.s.deductions, t.deductions...)
}

func (s *Store) withTx(fn func(*tx) error) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	t := s.begin()
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// InventoryRepo implements inventory.RepositoryPort.
type InventoryRepo struct {
	s *Store
}

type inventoryTx struct {
	*tx
}

// WithTx runs fn against staged state and applies it only when fn succeeds.
func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.withTx(func(t *tx) error {
		return fn(ctx, inventoryTx{t})
	})
}

// ListMaterials returns materials ordered by category then name.
func (r *InventoryRepo) ListMaterials(_ context.Context, filter inventory.ListFilter) ([]inventory.RawMaterial, error) {
	if err := r.s.lock(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	out := make([]inventory.RawMaterial, 0, len(r.s.materials))
	for _, m := range r.s.materials {
		if m.Deleted && !filter.IncludeDeleted {
			continue
		}
		if filter.Category != "" && m.Category != filter.Category {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetMaterial loads one row.
func (r *InventoryRepo) GetMaterial(_ context.Context, id int64) (inventory.RawMaterial, error) {
	if err := r.s.lock(); err != nil {
		return inventory.RawMaterial{}, err
	}
	defer r.s.mu.Unlock()
	m, ok := r.s.materials[id]
	if !ok {
		return inventory.RawMaterial{}, inventory.ErrMaterialNotFound
	}
	return m, nil
}

// GetMaterials loads many rows keyed by id, deleted rows included.
func (r *InventoryRepo) GetMaterials(_ context.Context, ids []int64) (map[int64]inventory.RawMaterial, error) {
	if err := r.s.lock(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	out := make(map[int64]inventory.RawMaterial, len(ids))
	for _, id := range ids {
		if m, ok := r.s.materials[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (t inventoryTx) InsertMaterial(_ context.Context, m inventory.RawMaterial) (int64, error) {
	name := strings.ToLower(m.Name)
	taken := func(existing inventory.RawMaterial) bool {
		return !existing.Deleted && strings.ToLower(existing.Name) == name
	}
	for _, existing := range t.materials {
		if taken(existing) {
			return 0, inventory.ErrDuplicateMaterial
		}
	}
	for id, existing := range t.s.materials {
		if _, staged := t.materials[id]; !staged && taken(existing) {
			return 0, inventory.ErrDuplicateMaterial
		}
	}
	t.s.nextMaterial++
	m.ID = t.s.nextMaterial
	t.materials[m.ID] = m
	return m.ID, nil
}

func (t inventoryTx) GetMaterialForUpdate(_ context.Context, id int64) (inventory.RawMaterial, error) {
	m, ok := t.material(id)
	if !ok {
		return inventory.RawMaterial{}, inventory.ErrMaterialNotFound
	}
	return m, nil
}

func (t inventoryTx) UpdateMaterial(_ context.Context, m inventory.RawMaterial) error {
	return t.updateMaterial(m)
}

func (t *tx) updateMaterial(m inventory.RawMaterial) error {
	current, ok := t.material(m.ID)
	if !ok {
		return inventory.ErrMaterialNotFound
	}
	current.Quantity = m.Quantity
	current.Status = m.Status
	current.Deleted = m.Deleted
	current.UpdatedAt = m.UpdatedAt
	t.materials[m.ID] = current
	return nil
}

// RecipeRepo implements recipes.RepositoryPort.
type RecipeRepo struct {
	s *Store
}

// ListByProduct returns variants in insertion order.
func (r *RecipeRepo) ListByProduct(_ context.Context, productID int64) ([]recipes.Recipe, error) {
	if err := r.s.lock(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []recipes.Recipe
	for _, rec := range r.s.recipes {
		if rec.ProductID == productID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Get loads one variant, matching the variant name case-insensitively.
func (r *RecipeRepo) Get(_ context.Context, productID int64, variant string) (recipes.Recipe, error) {
	if err := r.s.lock(); err != nil {
		return recipes.Recipe{}, err
	}
	defer r.s.mu.Unlock()
	if i := r.find(productID, variant, recipes.EqualFold); i >= 0 {
		return r.s.recipes[i].Clone(), nil
	}
	return recipes.Recipe{}, recipes.ErrRecipeNotFound
}

// Upsert inserts or replaces the exact (product, variant) row.
func (r *RecipeRepo) Upsert(_ context.Context, rec recipes.Recipe) (recipes.Recipe, error) {
	if err := r.s.lock(); err != nil {
		return recipes.Recipe{}, err
	}
	defer r.s.mu.Unlock()
	rec = rec.Clone()
	exact := func(a, b string) bool { return a == b }
	if i := r.find(rec.ProductID, rec.VariantName, exact); i >= 0 {
		rec.ID = r.s.recipes[i].ID
		r.s.recipes[i] = rec
		return rec.Clone(), nil
	}
	r.s.nextRecipe++
	rec.ID = r.s.nextRecipe
	r.s.recipes = append(r.s.recipes, rec)
	return rec.Clone(), nil
}

// Delete removes a variant.
func (r *RecipeRepo) Delete(_ context.Context, productID int64, variant string) error {
	if err := r.s.lock(); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	i := r.find(productID, variant, recipes.EqualFold)
	if i < 0 {
		return recipes.ErrRecipeNotFound
	}
	r.s.recipes = append(r.s.recipes[:i], r.s.recipes[i+1:]...)
	return nil
}

// ListProductIDs returns distinct product ids with recipes.
func (r *RecipeRepo) ListProductIDs(_ context.Context) ([]int64, error) {
	if err := r.s.lock(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	seen := map[int64]struct{}{}
	var out []int64
	for _, rec := range r.s.recipes {
		if _, ok := seen[rec.ProductID]; ok {
			continue
		}
		seen[rec.ProductID] = struct{}{}
		out = append(out, rec.ProductID)
	}
	return out, nil
}

func (r *RecipeRepo) find(productID int64, variant string, eq func(a, b string) bool) int {
	for i, rec := range r.s.recipes {
		if rec.ProductID == productID && eq(rec.VariantName, variant) {
			return i
		}
	}
	return -1
}

// DeductionRepo implements deduction.RepositoryPort.
type DeductionRepo struct {
	s *Store
}

type deductionTx struct {
	*tx
}

// WithTx runs fn against staged state and applies it only when fn succeeds.
func (r *DeductionRepo) WithTx(ctx context.Context, fn func(context.Context, deduction.TxRepository) error) error {
	return r.s.withTx(func(t *tx) error {
		return fn(ctx, deductionTx{t})
	})
}

// ListBySale returns rows ordered by material id.
func (r *DeductionRepo) ListBySale(_ context.Context, saleID string) ([]deduction.Deduction, error) {
	if err := r.s.lock(); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []deduction.Deduction
	for _, d := range r.s.deductions {
		if d.SaleID == saleID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RawMaterialID < out[j].RawMaterialID })
	return out, nil
}

// ListByMaterial returns the newest rows first with the total row count.
func (r *DeductionRepo) ListByMaterial(_ context.Context, materialID int64, limit, offset int) ([]deduction.Deduction, int, error) {
	if err := r.s.lock(); err != nil {
		return nil, 0, err
	}
	defer r.s.mu.Unlock()
	var matched []deduction.Deduction
	for i := len(r.s.deductions) - 1; i >= 0; i-- {
		if d := r.s.deductions[i]; d.RawMaterialID == materialID {
			matched = append(matched, d)
		}
	}
	total := len(matched)
	if offset >= total {
		return []deduction.Deduction{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (t deductionTx) ClaimSale(_ context.Context, saleID string, at time.Time) error {
	if _, ok := t.s.sales[saleID]; ok {
		return deduction.ErrSaleAlreadyCommitted
	}
	if _, ok := t.sales[saleID]; ok {
		return deduction.ErrSaleAlreadyCommitted
	}
	t.sales[saleID] = at
	return nil
}

func (t deductionTx) LockMaterials(_ context.Context, ids []int64) (map[int64]inventory.RawMaterial, error) {
	out := make(map[int64]inventory.RawMaterial, len(ids))
	for _, id := range ids {
		if m, ok := t.material(id); ok {
			out[id] = m
		}
	}
	return out, nil
}

func (t deductionTx) UpdateMaterial(_ context.Context, m inventory.RawMaterial) error {
	return t.updateMaterial(m)
}

func (t deductionTx) InsertDeductions(_ context.Context, rows []deduction.Deduction) error {
	for i := range rows {
		t.s.nextDeduction++
		rows[i].ID = t.s.nextDeduction
	}
	t.deductions = append(t.deductions, rows...)
	return nil
}
