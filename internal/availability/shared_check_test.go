package availability_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cafepos/cafepos/internal/availability"
	"github.com/cafepos/cafepos/internal/inventory"
	"github.com/cafepos/cafepos/internal/recipes"
	"github.com/cafepos/cafepos/internal/testing/fixture"
)

// gatedLedger parks the first lookup after reading until release is closed.
type gatedLedger struct {
	mu      sync.Mutex
	qty     float64
	calls   int
	entered chan struct{}
	release chan struct{}
}

func newGatedLedger(qty float64) *gatedLedger {
	return &gatedLedger{qty: qty, entered: make(chan struct{}), release: make(chan struct{})}
}

func (l *gatedLedger) Lookup(ctx context.Context, ids []int64) (map[int64]inventory.RawMaterial, error) {
	l.mu.Lock()
	l.calls++
	first := l.calls == 1
	m := inventory.RawMaterial{ID: 1, Name: "Matcha Powder", Unit: "g", Quantity: l.qty}
	l.mu.Unlock()
	if first {
		close(l.entered)
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return map[int64]inventory.RawMaterial{m.ID: m}, nil
}

func (l *gatedLedger) set(qty float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.qty = qty
}

func (l *gatedLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type matchaOnly struct{}

func (matchaOnly) Lookup(context.Context, int64, string) (recipes.Recipe, bool, error) {
	return recipes.Recipe{
		ProductID:   fixture.MatchaLatte,
		VariantName: recipes.DefaultVariant,
		Ingredients: []recipes.Ingredient{{RawMaterialID: 1, RawMaterialName: "Matcha Powder", Quantity: 15, Unit: "g", Required: true}},
	}, true, nil
}

type checkOutcome struct {
	res availability.Result
	err error
}

func TestCheckAfterInvalidateReadsLedgerAgain(t *testing.T) {
	ledger := newGatedLedger(0)
	c := availability.NewClassifier(matchaOnly{}, ledger, inventory.DefaultThresholds, fixture.Logger())
	ctx := context.Background()

	first := make(chan checkOutcome, 1)
	go func() {
		res, err := c.CheckAvailability(ctx, fixture.MatchaLatte, "")
		first <- checkOutcome{res, err}
	}()
	<-ledger.entered

	ledger.set(100)
	c.Invalidate()
	res, err := c.CheckAvailability(ctx, fixture.MatchaLatte, "")
	require.NoError(t, err)
	require.True(t, res.Available)
	require.Empty(t, res.MissingText)
	require.Equal(t, 2, ledger.callCount())

	close(ledger.release)
	out := <-first
	require.NoError(t, out.err)
	require.False(t, out.res.Available)
}

func TestCancelledCallerDoesNotFailSharedCheck(t *testing.T) {
	ledger := newGatedLedger(100)
	c := availability.NewClassifier(matchaOnly{}, ledger, inventory.DefaultThresholds, fixture.Logger())

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.CheckAvailability(firstCtx, fixture.MatchaLatte, "")
		firstErr <- err
	}()
	<-ledger.entered

	second := make(chan checkOutcome, 1)
	go func() {
		res, err := c.CheckAvailability(context.Background(), fixture.MatchaLatte, "")
		second <- checkOutcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(ledger.release)
	out := <-second
	require.NoError(t, out.err)
	require.True(t, out.res.Available)
	require.Equal(t, 1, ledger.callCount())
}

func TestRefreshAfterCancelledRefreshPublishesNewStock(t *testing.T) {
	ledger := newGatedLedger(0)
	c := availability.NewClassifier(matchaOnly{}, ledger, inventory.DefaultThresholds, fixture.Logger())
	b := availability.NewBroadcaster(c, nil, availability.BroadcasterConfig{}, fixture.Logger())
	b.Track(fixture.MatchaLatte)

	staleCtx, cancel := context.WithCancel(context.Background())
	staleErr := make(chan error, 1)
	go func() {
		_, err := b.Refresh(staleCtx)
		staleErr <- err
	}()
	<-ledger.entered

	ledger.set(100)
	cancel()
	snap, err := b.Refresh(context.Background())
	require.NoError(t, err)
	ok, known := snap.Available(fixture.MatchaLatte)
	require.True(t, known)
	require.True(t, ok)
	require.Empty(t, snap.MissingText(fixture.MatchaLatte))

	close(ledger.release)
	require.Error(t, <-staleErr)
	require.Same(t, snap, b.Current())
}
