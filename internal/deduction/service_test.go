package deduction_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cafepos/cafepos/internal/deduction"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/testing/fixture"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seeded(t *testing.T, cfg deduction.ServiceConfig) *fixture.Cafe {
	t.Helper()
	cafe := fixture.NewCafe(t, cfg)
	cafe.Seed(t)
	return cafe
}

func matcha(qty int) deduction.LineItem {
	return deduction.LineItem{ProductID: fixture.MatchaLatte, MenuItemName: "Matcha Latte", Quantity: qty}
}

type countingObserver struct {
	mu        sync.Mutex
	committed int
	rejected  []string
}

func (o *countingObserver) DeductionCommitted(int, int) {
	o.mu.Lock()
	o.committed++
	o.mu.Unlock()
}

func (o *countingObserver) DeductionRejected(reason string) {
	o.mu.Lock()
	o.rejected = append(o.rejected, reason)
	o.mu.Unlock()
}

func TestCommitMergesDemandAcrossLines(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{})
	ctx := context.Background()

	result, err := cafe.Deduction.Commit(ctx, "S-100", []deduction.LineItem{
		matcha(2),
		{ProductID: fixture.IcedCoffee, MenuItemName: "Iced Coffee", Size: "Large", AddOns: []string{"Extra Pearls"}, Quantity: 1},
		matcha(1),
	})
	require.NoError(t, err)
	require.Empty(t, result.Insufficient)
	require.Len(t, result.Applied, 5)

	expected := map[string]float64{
		"Matcha Powder":  45,
		"Fresh Milk":     650,
		"Vanilla Syrup":  30,
		"Cold Brew":      30,
		"Tapioca Pearls": 35,
	}
	deducted := map[string]float64{}
	for _, row := range result.Applied {
		require.Equal(t, "S-100", row.SaleID)
		require.NotZero(t, row.ID)
		deducted[row.RawMaterialName] += row.Quantity
	}
	require.Equal(t, expected, deducted)

	require.Equal(t, 55.0, cafe.Quantity(t, "Matcha Powder"))
	require.Equal(t, 1350.0, cafe.Quantity(t, "Fresh Milk"))
	require.Equal(t, 465.0, cafe.Quantity(t, "Tapioca Pearls"))

	rows, err := cafe.Deduction.ListBySale(ctx, "S-100")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, row := range rows {
		if row.RawMaterialName == "Fresh Milk" {
			require.Equal(t, "Regular, Large", row.SizeVariant)
			require.Equal(t, "Matcha Latte, Iced Coffee", row.MenuItems)
		}
		if row.RawMaterialName == "Tapioca Pearls" {
			require.Equal(t, "Extra Pearls", row.AddOns)
		}
	}
}

func TestCommitBlockPolicyWritesNothing(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{})
	ctx := context.Background()
	cafe.SetQuantity(t, "Matcha Powder", 10)

	_, err := cafe.Deduction.Commit(ctx, "S-200", []deduction.LineItem{matcha(1)})
	require.ErrorIs(t, err, deduction.ErrInsufficientStock)
	var short *deduction.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Len(t, short.Items, 1)
	require.Equal(t, "Matcha Powder", short.Items[0].Name)
	require.Equal(t, 15.0, short.Items[0].Needed)
	require.Equal(t, 10.0, short.Items[0].Available)

	require.Equal(t, 10.0, cafe.Quantity(t, "Matcha Powder"))
	require.Equal(t, 2000.0, cafe.Quantity(t, "Fresh Milk"))
	rows, err := cafe.Deduction.ListBySale(ctx, "S-200")
	require.NoError(t, err)
	require.Empty(t, rows)

	cafe.SetQuantity(t, "Matcha Powder", 20)
	_, err = cafe.Deduction.Commit(ctx, "S-200", []deduction.LineItem{matcha(1)})
	require.NoError(t, err)
	require.Equal(t, 5.0, cafe.Quantity(t, "Matcha Powder"))
}

func TestCommitFlagPolicyClampsAndReports(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{Policy: deduction.PolicyFlag})
	ctx := context.Background()
	cafe.SetQuantity(t, "Matcha Powder", 10)

	result, err := cafe.Deduction.Commit(ctx, "S-300", []deduction.LineItem{matcha(1)})
	require.NoError(t, err)
	require.Len(t, result.Insufficient, 1)
	require.Equal(t, cafe.Materials["Matcha Powder"], result.Insufficient[0].RawMaterialID)

	var row deduction.Deduction
	for _, r := range result.Applied {
		if r.RawMaterialName == "Matcha Powder" {
			row = r
		}
	}
	require.Equal(t, 10.0, row.Quantity)
	require.Equal(t, 5.0, row.Shortfall)

	m, err := cafe.Inventory.Get(ctx, cafe.Materials["Matcha Powder"])
	require.NoError(t, err)
	require.Equal(t, 0.0, m.Quantity)
	require.Equal(t, inventory.StatusOutOfStock, m.Status)
	require.Equal(t, 1800.0, cafe.Quantity(t, "Fresh Milk"))
}

func TestCommitClampsOptionalIngredients(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{})
	cafe.SetQuantity(t, "Vanilla Syrup", 4)

	result, err := cafe.Deduction.Commit(context.Background(), "S-400", []deduction.LineItem{matcha(1)})
	require.NoError(t, err)
	require.Empty(t, result.Insufficient)
	require.Equal(t, 0.0, cafe.Quantity(t, "Vanilla Syrup"))
	for _, r := range result.Applied {
		if r.RawMaterialName == "Vanilla Syrup" {
			require.Equal(t, 4.0, r.Quantity)
			require.Equal(t, 6.0, r.Shortfall)
		}
	}
}

func TestCommitRejectsReusedSaleID(t *testing.T) {
	obs := &countingObserver{}
	cafe := seeded(t, deduction.ServiceConfig{Observer: obs})
	ctx := context.Background()

	_, err := cafe.Deduction.Commit(ctx, "S-500", []deduction.LineItem{matcha(1)})
	require.NoError(t, err)
	_, err = cafe.Deduction.Commit(ctx, "S-500", []deduction.LineItem{matcha(1)})
	require.ErrorIs(t, err, deduction.ErrSaleAlreadyCommitted)

	require.Equal(t, 85.0, cafe.Quantity(t, "Matcha Powder"))
	rows, err := cafe.Deduction.ListBySale(ctx, "S-500")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 1, obs.committed)
	require.Equal(t, []string{"duplicate"}, obs.rejected)
}

func TestCommitSkipsMissingRecipesAndMaterials(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{})
	ctx := context.Background()
	require.NoError(t, cafe.Inventory.Delete(ctx, cafe.Materials["Vanilla Syrup"], 0))

	result, err := cafe.Deduction.Commit(ctx, "S-600", []deduction.LineItem{
		{ProductID: 999, MenuItemName: "Croissant", Quantity: 2},
		matcha(1),
	})
	require.NoError(t, err)
	require.Equal(t, []int64{999}, result.SkippedProducts)
	require.Equal(t, []int64{cafe.Materials["Vanilla Syrup"]}, result.SkippedMaterials)
	require.Len(t, result.Applied, 2)

	only, err := cafe.Deduction.Commit(ctx, "S-601", []deduction.LineItem{{ProductID: 999, Quantity: 1}})
	require.NoError(t, err)
	require.Empty(t, only.Applied)
}

func TestCommitConvertsIntoLedgerUnit(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{})

	result, err := cafe.Deduction.Commit(context.Background(), "S-700", []deduction.LineItem{{ProductID: fixture.Americano, Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)
	require.Equal(t, "kg", result.Applied[0].Unit)
	require.InDelta(t, 0.036, result.Applied[0].Quantity, 1e-9)
	require.InDelta(t, 0.964, cafe.Quantity(t, "Espresso Beans"), 1e-9)
	require.Equal(t, "product 103", result.Applied[0].MenuItems)
}

func TestCommitValidatesInput(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{})
	ctx := context.Background()

	_, err := cafe.Deduction.Commit(ctx, "  ", []deduction.LineItem{matcha(1)})
	require.ErrorIs(t, err, deduction.ErrInvalidOrder)
	_, err = cafe.Deduction.Commit(ctx, "S-800", nil)
	require.ErrorIs(t, err, deduction.ErrInvalidOrder)
	_, err = cafe.Deduction.Commit(ctx, "S-800", []deduction.LineItem{matcha(0)})
	require.ErrorIs(t, err, deduction.ErrInvalidOrder)
}

func TestConcurrentCommitsNeverOversell(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{})
	ctx := context.Background()

	const orders = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		blocked int
	)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := cafe.Deduction.Commit(ctx, fmt.Sprintf("S-9%d", i), []deduction.LineItem{matcha(1)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, deduction.ErrInsufficientStock):
				blocked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 6, ok)
	require.Equal(t, 4, blocked)
	require.Equal(t, 10.0, cafe.Quantity(t, "Matcha Powder"))
}

func TestCommitPublishesChangeEvent(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := cafe.Notifier.Subscribe(ctx)
	require.NoError(t, err)

	_, err = cafe.Deduction.Commit(ctx, "S-1000", []deduction.LineItem{matcha(1)})
	require.NoError(t, err)

	select {
	case evt := <-events:
		require.Equal(t, inventory.ReasonDeduction, evt.Reason)
		require.ElementsMatch(t, []int64{
			cafe.Materials["Matcha Powder"],
			cafe.Materials["Fresh Milk"],
			cafe.Materials["Vanilla Syrup"],
		}, evt.MaterialIDs)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}
}

func TestListByMaterialPagesNewestFirst(t *testing.T) {
	cafe := seeded(t, deduction.ServiceConfig{})
	ctx := context.Background()
	for _, id := range []string{"S-1", "S-2", "S-3"} {
		_, err := cafe.Deduction.Commit(ctx, id, []deduction.LineItem{matcha(1)})
		require.NoError(t, err)
	}

	rows, total, err := cafe.Deduction.ListByMaterial(ctx, cafe.Materials["Fresh Milk"], 2, 0)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, rows, 2)
	require.Equal(t, "S-3", rows[0].SaleID)
	require.Equal(t, "S-2", rows[1].SaleID)
}
