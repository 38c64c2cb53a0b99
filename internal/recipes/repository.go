package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists recipes as one JSON document per (product, variant) row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByProduct returns variants in insertion order.
func (r *Repository) ListByProduct(ctx context.Context, productID int64) ([]Recipe, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, recipe_json, updated_at FROM recipes WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recipe
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
func (r *Repository) Get(ctx context.Context, productID int64, variant string) (Recipe, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, recipe_json, updated_at FROM recipes WHERE product_id = $1 AND LOWER(variant_name) = LOWER($2)`, productID, variant)
	rec, err := scanRecipe(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipe{}, ErrRecipeNotFound
	}
	return rec, err
}

// Upsert inserts or replaces the variant.
func (r *Repository) Upsert(ctx context.Context, rec Recipe) (Recipe, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return Recipe{}, fmt.Errorf("recipes: encode: %w", err)
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO recipes (product_id, variant_name, recipe_json, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (product_id, variant_name) DO UPDATE SET recipe_json = EXCLUDED.recipe_json, updated_at = EXCLUDED.updated_at
RETURNING id`, rec.ProductID, rec.VariantName, doc, rec.UpdatedAt).Scan(&rec.ID)
	if err != nil {
		return Recipe{}, err
	}
	return rec, nil
}

// Delete removes a variant.
func (r *Repository) Delete(ctx context.Context, productID int64, variant string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recipes WHERE product_id = $1 AND LOWER(variant_name) = LOWER($2)`, productID, variant)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecipeNotFound
	}
	return nil
}

// ListProductIDs returns distinct product ids with recipes.
func (r *Repository) ListProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT product_id FROM recipes`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanRecipe(row pgx.Row) (Recipe, error) {
	var (
		rec Recipe
		id  int64
		doc []byte
	)
	if err := row.Scan(&id, &doc, &rec.UpdatedAt); err != nil {
		return Recipe{}, err
	}
	updated := rec.UpdatedAt
	if err := Decode(doc, &rec); err != nil {
		return Recipe{}, err
	}
	rec.ID = id
	rec.UpdatedAt = updated
	return rec, nil
}

// Decode parses a stored recipe document.
func Decode(doc []byte, rec *Recipe) error {
	if err := json.Unmarshal(doc, rec); err != nil {
		return fmt.Errorf("recipes: decode: %w", err)
	}
	return nil
}
