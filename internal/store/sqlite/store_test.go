package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cafepos/cafepos/internal/bom"
	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/recipes"
	"github.com/cafepos/cafepos/internal/shared"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type services struct {
	inventory *inventory.Service
	recipes   *recipes.Service
	deduction *deduction.Service
}

func newServices(store *Store) services {
	notifier := inventory.NewLocalNotifier()
	audit := shared.NewAuditBuffer(16)
	inv := inventory.NewService(store.Inventory(), audit, notifier, inventory.ServiceConfig{}, nil)
	rec := recipes.NewService(store.Recipes(), audit, notifier, bom.ValidateRecipe, nil)
	return services{
		inventory: inv,
		recipes:   rec,
		deduction: deduction.NewService(store.Deductions(), rec, notifier, deduction.ServiceConfig{}, nil),
	}
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "cafepos.db")
	store := openStore(t, path)
	svc := newServices(store)

	matcha, err := svc.inventory.Create(ctx, inventory.CreateInput{Name: "Matcha Powder", Category: "POWDER", Unit: "g", Quantity: 100})
	require.NoError(t, err)
	milk, err := svc.inventory.Create(ctx, inventory.CreateInput{Name: "Fresh Milk", Category: "MILK", Unit: "l", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.recipes.Save(ctx, recipes.Recipe{
		ProductID:   101,
		VariantName: recipes.DefaultVariant,
		Ingredients: []recipes.Ingredient{
			{RawMaterialID: matcha.ID, RawMaterialName: "Matcha Powder", Quantity: 15, Unit: "g", Required: true},
			{RawMaterialID: milk.ID, RawMaterialName: "Fresh Milk", Quantity: 200, Unit: "ml", Required: true},
		},
	}, 0)
	require.NoError(t, err)

	res, err := svc.deduction.Commit(ctx, "S-100", []deduction.LineItem{{ProductID: 101, MenuItemName: "Matcha Latte", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)

	_, err = svc.deduction.Commit(ctx, "S-100", []deduction.LineItem{{ProductID: 101, Quantity: 1}})
	require.ErrorIs(t, err, deduction.ErrSaleAlreadyCommitted)

	require.NoError(t, store.Close())
	reopened := openStore(t, path)
	inv := reopened.Inventory()

	got, err := inv.GetMaterial(ctx, matcha.ID)
	require.NoError(t, err)
	require.Equal(t, 70.0, got.Quantity)
	got, err = inv.GetMaterial(ctx, milk.ID)
	require.NoError(t, err)
	require.InDelta(t, 1.6, got.Quantity, 1e-9)
	require.Equal(t, "l", got.Unit)

	rows, err := reopened.Deductions().ListBySale(ctx, "S-100")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, matcha.ID, rows[0].RawMaterialID)
	require.Equal(t, "Matcha Latte", rows[0].MenuItems)
}

func TestBlockedCommitWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "cafepos.db"))
	svc := newServices(store)

	beans, err := svc.inventory.Create(ctx, inventory.CreateInput{Name: "Espresso Beans", Category: "COFFEE BEANS", Unit: "g", Quantity: 20})
	require.NoError(t, err)
	_, err = svc.recipes.Save(ctx, recipes.Recipe{
		ProductID:   103,
		VariantName: recipes.DefaultVariant,
		Ingredients: []recipes.Ingredient{{RawMaterialID: beans.ID, Quantity: 18, Unit: "g", Required: true}},
	}, 0)
	require.NoError(t, err)

	_, err = svc.deduction.Commit(ctx, "S-1", []deduction.LineItem{{ProductID: 103, Quantity: 2}})
	var insufficient *deduction.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	rows, err := store.Deductions().ListBySale(ctx, "S-1")
	require.NoError(t, err)
	require.Empty(t, rows)
	got, err := store.Inventory().GetMaterial(ctx, beans.ID)
	require.NoError(t, err)
	require.Equal(t, 20.0, got.Quantity)

	_, err = svc.deduction.Commit(ctx, "S-1", []deduction.LineItem{{ProductID: 103, Quantity: 1}})
	require.NoError(t, err)
	history, total, err := store.Deductions().ListByMaterial(ctx, beans.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, 18.0, history[0].Quantity)
}

func TestMaterialNamesAreUniqueWhileLive(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "cafepos.db"))
	svc := newServices(store)

	m, err := svc.inventory.Create(ctx, inventory.CreateInput{Name: "Oat Milk", Unit: "ml", Quantity: 10})
	require.NoError(t, err)
	_, err = svc.inventory.Create(ctx, inventory.CreateInput{Name: "oat milk", Unit: "ml"})
	require.ErrorIs(t, err, inventory.ErrDuplicateMaterial)

	require.NoError(t, svc.inventory.Delete(ctx, m.ID, 0))
	_, err = svc.inventory.Create(ctx, inventory.CreateInput{Name: "Oat Milk", Unit: "ml"})
	require.NoError(t, err)

	live, err := store.Inventory().ListMaterials(ctx, inventory.ListFilter{})
	require.NoError(t, err)
	require.Len(t, live, 1)
	all, err := store.Inventory().ListMaterials(ctx, inventory.ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestRecipeUpsertAndLookup(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "cafepos.db"))
	repo := store.Recipes()

	first, err := repo.Upsert(ctx, recipes.Recipe{
		ProductID:   7,
		VariantName: "Oat",
		Ingredients: []recipes.Ingredient{{RawMaterialID: 1, Quantity: 100, Unit: "ml", Required: true}},
	})
	require.NoError(t, err)
	second, err := repo.Upsert(ctx, recipes.Recipe{
		ProductID:   7,
		VariantName: "Oat",
		Ingredients: []recipes.Ingredient{{RawMaterialID: 1, Quantity: 150, Unit: "ml", Required: true}},
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	got, err := repo.Get(ctx, 7, "oat")
	require.NoError(t, err)
	require.Equal(t, 150.0, got.Ingredients[0].Quantity)

	ids, err := repo.ListProductIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{7}, ids)

	require.NoError(t, repo.Delete(ctx, 7, "OAT"))
	_, err = repo.Get(ctx, 7, "Oat")
	require.ErrorIs(t, err, recipes.ErrRecipeNotFound)
	require.ErrorIs(t, repo.Delete(ctx, 7, "Oat"), recipes.ErrRecipeNotFound)
}
