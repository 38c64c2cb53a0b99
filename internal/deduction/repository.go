package deduction

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/platform/db"
)

const deductionColumns = "id, sale_id, raw_material_id, raw_material_name, quantity, unit, size_variant, add_ons, menu_items, shortfall, deducted_at"

// Repository persists deductions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	q db.DBTX
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx})
	})
}

// ListBySale returns rows ordered by material id.
func (r *Repository) ListBySale(ctx context.Context, saleID string) ([]Deduction, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+deductionColumns+" FROM ingredient_deductions WHERE sale_id = $1 ORDER BY raw_material_id", saleID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListByMaterial returns the newest rows first with the total row count.
func (r *Repository) ListByMaterial(ctx context.Context, materialID int64, limit, offset int) ([]Deduction, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ingredient_deductions WHERE raw_material_id = $1", materialID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, "SELECT "+deductionColumns+" FROM ingredient_deductions WHERE raw_material_id = $1 ORDER BY deducted_at DESC, id DESC LIMIT $2 OFFSET $3", materialID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := collect(rows)
	return out, total, err
}

func (t *txRepo) ClaimSale(ctx context.Context, saleID string, at time.Time) error {
	_, err := t.q.Exec(ctx, `INSERT INTO sales_committed (sale_id, committed_at) VALUES ($1, $2)`, saleID, at)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrSaleAlreadyCommitted
		}
		return err
	}
	return nil
}

func (t *txRepo) LockMaterials(ctx context.Context, ids []int64) (map[int64]inventory.RawMaterial, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rows, err := t.q.Query(ctx, "SELECT "+inventory.MaterialColumns+" FROM raw_materials WHERE id = ANY($1) ORDER BY id FOR UPDATE", sorted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]inventory.RawMaterial, len(ids))
	for rows.Next() {
		m, err := inventory.ScanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

func (t *txRepo) UpdateMaterial(ctx context.Context, m inventory.RawMaterial) error {
	return inventory.UpdateMaterial(ctx, t.q, m)
}

func (t *txRepo) InsertDeductions(ctx context.Context, rows []Deduction) error {
	for i := range rows {
		d := &rows[i]
		err := t.q.QueryRow(ctx, `INSERT INTO ingredient_deductions
(sale_id, raw_material_id, raw_material_name, quantity, unit, size_variant, add_ons, menu_items, shortfall, deducted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
			d.SaleID, d.RawMaterialID, d.RawMaterialName, d.Quantity, d.Unit, d.SizeVariant, d.AddOns, d.MenuItems, d.Shortfall, d.DeductedAt).Scan(&d.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func collect(rows pgx.Rows) ([]Deduction, error) {
	defer rows.Close()
	var out []Deduction
	for rows.Next() {
		var d Deduction
		if err := rows.Scan(&d.ID, &d.SaleID, &d.RawMaterialID, &d.RawMaterialName, &d.Quantity, &d.Unit, &d.SizeVariant, &d.AddOns, &d.MenuItems, &d.Shortfall, &d.DeductedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
