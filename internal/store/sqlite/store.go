// Package sqlite persists the ledger, recipe catalog and deduction audit in a single SQLite file
// for single-till deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/recipes"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_materials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'OTHER',
	unit TEXT NOT NULL,
	quantity REAL NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	status TEXT NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS raw_materials_live_name_idx ON raw_materials (LOWER(name)) WHERE deleted = 0;

CREATE TABLE IF NOT EXISTS recipes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL,
	variant_name TEXT NOT NULL,
	recipe_json TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (product_id, variant_name)
);

CREATE TABLE IF NOT EXISTS sales_committed (
	sale_id TEXT PRIMARY KEY,
	committed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ingredient_deductions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sale_id TEXT NOT NULL REFERENCES sales_committed (sale_id),
	raw_material_id INTEGER NOT NULL,
	raw_material_name TEXT NOT NULL,
	quantity REAL NOT NULL,
	unit TEXT NOT NULL,
	size_variant TEXT NOT NULL DEFAULT '',
	add_ons TEXT NOT NULL DEFAULT '',
	menu_items TEXT NOT NULL DEFAULT '',
	shortfall REAL NOT NULL DEFAULT 0,
	deducted_at TEXT NOT NULL,
	UNIQUE (sale_id, raw_material_id)
);
CREATE INDEX IF NOT EXISTS ingredient_deductions_material_idx ON ingredient_deductions (raw_material_id, id);
`

const (
	materialColumns  = "id, name, category, unit, quantity, status, deleted, updated_at"
	deductionColumns = "id, sale_id, raw_material_id, raw_material_name, quantity, unit, size_variant, add_ons, menu_items, shortfall, deducted_at"
)

// Store wraps one SQLite database. A single connection serialises every transaction.
type Store struct {
	db *sql.DB
}

// Open creates the file if needed and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store/sqlite: create directory: %w", err)
		}
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store/sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Inventory returns the ledger adapter.
func (s *Store) Inventory() *InventoryRepo { return &InventoryRepo{db: s.db} }

// Recipes returns the catalog adapter.
func (s *Store) Recipes() *RecipeRepo { return &RecipeRepo{db: s.db} }

// Deductions returns the deduction audit adapter.
func (s *Store) Deductions() *DeductionRepo { return &DeductionRepo{db: s.db} }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store/sqlite: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store/sqlite: commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMaterial(row rowScanner) (inventory.RawMaterial, error) {
	var (
		m        inventory.RawMaterial
		category string
		status   string
		updated  string
	)
	if err := row.Scan(&m.ID, &m.Name, &category, &m.Unit, &m.Quantity, &status, &m.Deleted, &updated); err != nil {
		return inventory.RawMaterial{}, err
	}
	m.Category = inventory.Category(category)
	parsed, err := inventory.ParseStatus(status)
	if err != nil {
		return inventory.RawMaterial{}, err
	}
	m.Status = parsed
	at, err := parseTime(updated)
	if err != nil {
		return inventory.RawMaterial{}, err
	}
	m.UpdatedAt = at
	return m, nil
}

func loadMaterial(ctx context.Context, q querier, id int64) (inventory.RawMaterial, error) {
	m, err := scanMaterial(q.QueryRowContext(ctx, "SELECT "+materialColumns+" FROM raw_materials WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.RawMaterial{}, inventory.ErrMaterialNotFound
	}
	return m, err
}

func updateMaterial(ctx context.Context, q querier, m inventory.RawMaterial) error {
	res, err := q.ExecContext(ctx, `UPDATE raw_materials SET quantity = ?, status = ?, deleted = ?, updated_at = ? WHERE id = ?`,
		m.Quantity, string(m.Status), m.Deleted, formatTime(m.UpdatedAt), m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return inventory.ErrMaterialNotFound
	}
	return nil
}

func materialsByID(ctx context.Context, q querier, ids []int64) (map[int64]inventory.RawMaterial, error) {
	out := make(map[int64]inventory.RawMaterial, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	args := make([]any, len(sorted))
	for i, id := range sorted {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sorted)), ",")
	rows, err := q.QueryContext(ctx, "SELECT "+materialColumns+" FROM raw_materials WHERE id IN ("+placeholders+") ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// InventoryRepo implements inventory.RepositoryPort.
type InventoryRepo struct {
	db *sql.DB
}

type inventoryTx struct {
	tx *sql.Tx
}

// WithTx executes the callback inside one SQLite transaction.
func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &inventoryTx{tx: tx})
	})
}

// ListMaterials returns materials ordered by category then name.
func (r *InventoryRepo) ListMaterials(ctx context.Context, filter inventory.ListFilter) ([]inventory.RawMaterial, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := "SELECT " + materialColumns + " FROM raw_materials"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY category, name, id"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.RawMaterial
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMaterial loads one row.
func (r *InventoryRepo) GetMaterial(ctx context.Context, id int64) (inventory.RawMaterial, error) {
	return loadMaterial(ctx, r.db, id)
}

// GetMaterials loads many rows keyed by id, deleted rows included.
func (r *InventoryRepo) GetMaterials(ctx context.Context, ids []int64) (map[int64]inventory.RawMaterial, error) {
	return materialsByID(ctx, r.db, ids)
}

func (t *inventoryTx) InsertMaterial(ctx context.Context, m inventory.RawMaterial) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO raw_materials (name, category, unit, quantity, status, deleted, updated_at) VALUES (?, ?, ?, ?, ?, 0, ?)`,
		m.Name, string(m.Category), m.Unit, m.Quantity, string(m.Status), formatTime(m.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, inventory.ErrDuplicateMaterial
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (t *inventoryTx) GetMaterialForUpdate(ctx context.Context, id int64) (inventory.RawMaterial, error) {
	return loadMaterial(ctx, t.tx, id)
}

func (t *inventoryTx) UpdateMaterial(ctx context.Context, m inventory.RawMaterial) error {
	return updateMaterial(ctx, t.tx, m)
}

// RecipeRepo implements recipes.RepositoryPort.
type RecipeRepo struct {
	db *sql.DB
}

// ListByProduct returns variants in insertion order.
func (r *RecipeRepo) ListByProduct(ctx context.Context, productID int64) ([]recipes.Recipe, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, recipe_json, updated_at FROM recipes WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []recipes.Recipe
	for rows.Next() {
		rec, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get loads one variant.
func (r *RecipeRepo) Get(ctx context.Context, productID int64, variant string) (recipes.Recipe, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, recipe_json, updated_at FROM recipes WHERE product_id = ? AND LOWER(variant_name) = LOWER(?) ORDER BY id LIMIT 1`, productID, variant)
	rec, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recipes.Recipe{}, recipes.ErrRecipeNotFound
	}
	return rec, err
}

// Upsert inserts or replaces the variant.
func (r *RecipeRepo) Upsert(ctx context.Context, rec recipes.Recipe) (recipes.Recipe, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return recipes.Recipe{}, fmt.Errorf("recipes: encode: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `INSERT INTO recipes (product_id, variant_name, recipe_json, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (product_id, variant_name) DO UPDATE SET recipe_json = excluded.recipe_json, updated_at = excluded.updated_at
RETURNING id`, rec.ProductID, rec.VariantName, string(doc), formatTime(rec.UpdatedAt)).Scan(&rec.ID)
	if err != nil {
		return recipes.Recipe{}, err
	}
	return rec, nil
}

// Delete removes a variant.
func (r *RecipeRepo) Delete(ctx context.Context, productID int64, variant string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recipes WHERE product_id = ? AND LOWER(variant_name) = LOWER(?)`, productID, variant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recipes.ErrRecipeNotFound
	}
	return nil
}

// ListProductIDs returns distinct product ids with recipes.
func (r *RecipeRepo) ListProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT product_id FROM recipes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanRecipe(row rowScanner) (recipes.Recipe, error) {
	var (
		rec     recipes.Recipe
		id      int64
		doc     string
		updated string
	)
	if err := row.Scan(&id, &doc, &updated); err != nil {
		return recipes.Recipe{}, err
	}
	if err := recipes.Decode([]byte(doc), &rec); err != nil {
		return recipes.Recipe{}, err
	}
	at, err := parseTime(updated)
	if err != nil {
		return recipes.Recipe{}, err
	}
	rec.ID = id
	rec.UpdatedAt = at
	return rec, nil
}

// DeductionRepo implements deduction.RepositoryPort.
type DeductionRepo struct {
	db *sql.DB
}

type deductionTx struct {
	tx *sql.Tx
}

// WithTx executes the callback inside one SQLite transaction.
func (r *DeductionRepo) WithTx(ctx context.Context, fn func(context.Context, deduction.TxRepository) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &deductionTx{tx: tx})
	})
}

// ListBySale returns rows ordered by material id.
func (r *DeductionRepo) ListBySale(ctx context.Context, saleID string) ([]deduction.Deduction, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deductionColumns+" FROM ingredient_deductions WHERE sale_id = ? ORDER BY raw_material_id", saleID)
	if err != nil {
		return nil, err
	}
	return collectDeductions(rows)
}

// ListByMaterial returns the newest rows first with the total row count.
func (r *DeductionRepo) ListByMaterial(ctx context.Context, materialID int64, limit, offset int) ([]deduction.Deduction, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingredient_deductions WHERE raw_material_id = ?`, materialID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, "SELECT "+deductionColumns+" FROM ingredient_deductions WHERE raw_material_id = ? ORDER BY id DESC LIMIT ? OFFSET ?", materialID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectDeductions(rows)
	return out, total, err
}

func (t *deductionTx) ClaimSale(ctx context.Context, saleID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO sales_committed (sale_id, committed_at) VALUES (?, ?)`, saleID, formatTime(at))
	if err != nil {
		if isUniqueViolation(err) {
			return deduction.ErrSaleAlreadyCommitted
		}
		return err
	}
	return nil
}

func (t *deductionTx) LockMaterials(ctx context.Context, ids []int64) (map[int64]inventory.RawMaterial, error) {
	return materialsByID(ctx, t.tx, ids)
}

func (t *deductionTx) UpdateMaterial(ctx context.Context, m inventory.RawMaterial) error {
	return updateMaterial(ctx, t.tx, m)
}

func (t *deductionTx) InsertDeductions(ctx context.Context, rows []deduction.Deduction) error {
	for i := range rows {
		d := &rows[i]
		res, err := t.tx.ExecContext(ctx, `INSERT INTO ingredient_deductions
(sale_id, raw_material_id, raw_material_name, quantity, unit, size_variant, add_ons, menu_items, shortfall, deducted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.SaleID, d.RawMaterialID, d.RawMaterialName, d.Quantity, d.Unit, d.SizeVariant, d.AddOns, d.MenuItems, d.Shortfall, formatTime(d.DeductedAt))
		if err != nil {
			return err
		}
		if d.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

func collectDeductions(rows *sql.Rows) ([]deduction.Deduction, error) {
	defer rows.Close()
	var out []deduction.Deduction
	for rows.Next() {
		var (
			d  deduction.Deduction
			at string
		)
		if err := rows.Scan(&d.ID, &d.SaleID, &d.RawMaterialID, &d.RawMaterialName, &d.Quantity, &d.Unit, &d.SizeVariant, &d.AddOns, &d.MenuItems, &d.Shortfall, &at); err != nil {
			return nil, err
		}
		t, err := parseTime(at)
		if err != nil {
			return nil, err
		}
		d.DeductedAt = t
		out = append(out, d)
	}
	return out, rows.Err()
}
