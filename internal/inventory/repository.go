package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cafepos/cafepos/internal/platform/db"
)

// MaterialColumns is the canonical column list for raw_materials scans.
const MaterialColumns = "id, name, category, unit, quantity, status, deleted, updated_at"

// Repository persists the stock ledger in PostgreSQL.
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

// ListMaterials returns materials ordered by category then name.
func (r *Repository) ListMaterials(ctx context.Context, filter ListFilter) ([]RawMaterial, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeDeleted {
		where = append(where, "NOT deleted")
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := "SELECT " + MaterialColumns + " FROM raw_materials"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY category, name"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RawMaterial
	for rows.Next() {
		m, err := ScanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMaterial loads one row.
func (r *Repository) GetMaterial(ctx context.Context, id int64) (RawMaterial, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+MaterialColumns+" FROM raw_materials WHERE id = $1", id)
	return scanOne(row)
}

// GetMaterials loads many rows keyed by id, deleted rows included.
func (r *Repository) GetMaterials(ctx context.Context, ids []int64) (map[int64]RawMaterial, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+MaterialColumns+" FROM raw_materials WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]RawMaterial, len(ids))
	for rows.Next() {
		m, err := ScanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

func (t *txRepo) InsertMaterial(ctx context.Context, m RawMaterial) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO raw_materials (name, category, unit, quantity, status, deleted, updated_at)
VALUES ($1, $2, $3, $4, $5, FALSE, $6) RETURNING id`,
		m.Name, string(m.Category), m.Unit, m.Quantity, string(m.Status), m.UpdatedAt).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateMaterial
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) GetMaterialForUpdate(ctx context.Context, id int64) (RawMaterial, error) {
	row := t.q.QueryRow(ctx, "SELECT "+MaterialColumns+" FROM raw_materials WHERE id = $1 FOR UPDATE", id)
	return scanOne(row)
}

func (t *txRepo) UpdateMaterial(ctx context.Context, m RawMaterial) error {
	return UpdateMaterial(ctx, t.q, m)
}

// UpdateMaterial writes quantity, status and deletion flag for one row.
func UpdateMaterial(ctx context.Context, q db.DBTX, m RawMaterial) error {
	tag, err := q.Exec(ctx, `UPDATE raw_materials SET quantity = $2, status = $3, deleted = $4, updated_at = $5 WHERE id = $1`,
		m.ID, m.Quantity, string(m.Status), m.Deleted, m.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

// ScanMaterial reads a row selected with MaterialColumns.
func ScanMaterial(row pgx.Row) (RawMaterial, error) {
	var (
		m        RawMaterial
		category string
		status   string
	)
	if err := row.Scan(&m.ID, &m.Name, &category, &m.Unit, &m.Quantity, &status, &m.Deleted, &m.UpdatedAt); err != nil {
		return RawMaterial{}, err
	}
	m.Category = Category(category)
	parsed, err := ParseStatus(status)
	if err != nil {
		return RawMaterial{}, err
	}
	m.Status = parsed
	return m, nil
}

func scanOne(row pgx.Row) (RawMaterial, error) {
	m, err := ScanMaterial(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return RawMaterial{}, ErrMaterialNotFound
	}
	return m, err
}
