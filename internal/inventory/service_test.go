package inventory

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/cafepos/cafepos/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	materials map[int64]RawMaterial
	nextID    int64
}

type memoryTx struct {
	repo    *memoryRepo
	pending map[int64]RawMaterial
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{materials: make(map[int64]RawMaterial)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, pending: map[int64]RawMaterial{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, m := range tx.pending {
		r.materials[id] = m
	}
	return nil
}

func (r *memoryRepo) ListMaterials(_ context.Context, filter ListFilter) ([]RawMaterial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RawMaterial
	for _, m := range r.materials {
		if m.Deleted && !filter.IncludeDeleted {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *memoryRepo) GetMaterial(_ context.Context, id int64) (RawMaterial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.materials[id]
	if !ok {
		return RawMaterial{}, ErrMaterialNotFound
	}
	return m, nil
}

func (r *memoryRepo) GetMaterials(_ context.Context, ids []int64) (map[int64]RawMaterial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64]RawMaterial{}
	for _, id := range ids {
		if m, ok := r.materials[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertMaterial(_ context.Context, m RawMaterial) (int64, error) {
	for _, existing := range tx.repo.materials {
		if !existing.Deleted && strings.EqualFold(existing.Name, m.Name) {
			return 0, ErrDuplicateMaterial
		}
	}
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.pending[m.ID] = m
	return m.ID, nil
}

func (tx *memoryTx) GetMaterialForUpdate(_ context.Context, id int64) (RawMaterial, error) {
	if m, ok := tx.pending[id]; ok {
		return m, nil
	}
	m, ok := tx.repo.materials[id]
	if !ok {
		return RawMaterial{}, ErrMaterialNotFound
	}
	return m, nil
}

func (tx *memoryTx) UpdateMaterial(_ context.Context, m RawMaterial) error {
	tx.pending[m.ID] = m
	return nil
}

type recordingPublisher struct {
	events []ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt ChangeEvent) error {
	p.events = append(p.events, evt)
	return nil
}

// conflictingRepo fails the next `conflicts` transactions with a serialization failure.
type conflictingRepo struct {
	*memoryRepo
	conflicts int
	calls     int
}

func (r *conflictingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.calls++
	if r.conflicts > 0 {
		r.conflicts--
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	}
	return r.memoryRepo.WithTx(ctx, fn)
}

func newTestService() (*Service, *shared.AuditBuffer, *recordingPublisher) {
	audit := shared.NewAuditBuffer(10)
	pub := &recordingPublisher{}
	return NewService(newMemoryRepo(), audit, pub, ServiceConfig{}, nil), audit, pub
}

func TestStatusThresholdBoundaries(t *testing.T) {
	th := DefaultThresholds
	require.Equal(t, StatusOutOfStock, th.StatusFor(0))
	require.Equal(t, StatusOutOfStock, th.StatusFor(-1))
	require.Equal(t, StatusLowStock, th.StatusFor(1))
	require.Equal(t, StatusLowStock, th.StatusFor(10))
	require.Equal(t, StatusInStock, th.StatusFor(11))

	custom := Thresholds{LowStockMax: 500}
	require.Equal(t, StatusLowStock, custom.StatusFor(500))
	require.Equal(t, StatusInStock, custom.StatusFor(500.5))
}

func TestCreateRestockAdjust(t *testing.T) {
	svc, audit, pub := newTestService()
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateInput{Name: " Matcha Powder ", Category: "powder", Unit: "g", Quantity: 8, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, "Matcha Powder", m.Name)
	require.Equal(t, CategoryPowder, m.Category)
	require.Equal(t, StatusLowStock, m.Status)

	m, err = svc.Restock(ctx, RestockInput{MaterialID: m.ID, Qty: 92})
	require.NoError(t, err)
	require.Equal(t, 100.0, m.Quantity)
	require.Equal(t, StatusInStock, m.Status)

	m, err = svc.Adjust(ctx, AdjustInput{MaterialID: m.ID, Counted: 0})
	require.NoError(t, err)
	require.Equal(t, StatusOutOfStock, m.Status)

	entries := audit.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "inventory:create", entries[0].Action)
	require.Equal(t, int64(7), entries[0].ActorID)
	require.Equal(t, 100.0, entries[2].Meta["previous"])

	require.Len(t, pub.events, 3)
	require.Equal(t, ReasonAdjust, pub.events[2].Reason)
	require.Equal(t, []int64{m.ID}, pub.events[2].MaterialIDs)
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "", Unit: "g"})
	require.ErrorIs(t, err, ErrMissingFields)
	_, err = svc.Create(ctx, CreateInput{Name: "Milk", Unit: "ml", Quantity: -1})
	require.ErrorIs(t, err, ErrNegativeStock)
	_, err = svc.Create(ctx, CreateInput{Name: "Milk", Unit: "ml", Category: "BREAD"})
	require.ErrorIs(t, err, ErrInvalidCategory)

	_, err = svc.Create(ctx, CreateInput{Name: "Milk", Unit: "ml"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "milk", Unit: "ml"})
	require.ErrorIs(t, err, ErrDuplicateMaterial)
}

func TestRestockRejectsNonPositiveQuantity(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateInput{Name: "Sugar", Unit: "g", Quantity: 5})
	require.NoError(t, err)

	_, err = svc.Restock(ctx, RestockInput{MaterialID: m.ID, Qty: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Restock(ctx, RestockInput{MaterialID: 404, Qty: 1})
	require.ErrorIs(t, err, ErrMaterialNotFound)
}

func TestDeleteHidesMaterial(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateInput{Name: "Caramel Syrup", Category: "SYRUP", Unit: "ml", Quantity: 300})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, m.ID, 1))
	_, err = svc.Restock(ctx, RestockInput{MaterialID: m.ID, Qty: 1})
	require.ErrorIs(t, err, ErrMaterialDeleted)

	list, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)

	got, err := svc.Lookup(ctx, []int64{m.ID})
	require.NoError(t, err)
	require.True(t, got[m.ID].Deleted)
}

func TestSummaryMessages(t *testing.T) {
	th := DefaultThresholds
	require.Equal(t, "All stocks are in good condition.", Summarise([]RawMaterial{{Quantity: 50}}, th).Message)

	s := Summarise([]RawMaterial{{Quantity: 50}, {Quantity: 3}, {Quantity: 4}, {Quantity: 0, Deleted: true}}, th)
	require.Equal(t, 3, s.Total)
	require.Equal(t, 2, s.LowStock)
	require.Equal(t, "2 items running low", s.Message)

	s = Summarise([]RawMaterial{{Quantity: 0}, {Quantity: 3}}, th)
	require.Equal(t, "1 items out of stock", s.Message)
}

func TestParseHelpers(t *testing.T) {
	status, err := ParseStatus("running_low")
	require.NoError(t, err)
	require.Equal(t, StatusLowStock, status)
	_, err = ParseStatus("plenty")
	require.Error(t, err)

	c, err := ParseCategory("shakers / toppings / jams")
	require.NoError(t, err)
	require.Equal(t, CategoryToppings, c)
	c, err = ParseCategory("")
	require.NoError(t, err)
	require.Equal(t, CategoryOther, c)
}

func TestRestockRetriesSerializationFailure(t *testing.T) {
	repo := &conflictingRepo{memoryRepo: newMemoryRepo()}
	pub := &recordingPublisher{}
	svc := NewService(repo, nil, pub, ServiceConfig{}, nil)
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateInput{Name: "Oat Milk", Category: "milk", Unit: "ml", Quantity: 5})
	require.NoError(t, err)

	repo.calls = 0
	repo.conflicts = 1
	m, err = svc.Restock(ctx, RestockInput{MaterialID: m.ID, Qty: 995})
	require.NoError(t, err)
	require.Equal(t, 1000.0, m.Quantity)
	require.Equal(t, 2, repo.calls)
	require.Len(t, pub.events, 2)

	stored, err := svc.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, 1000.0, stored.Quantity)
}

func TestAdjustGivesUpAfterMaxRetries(t *testing.T) {
	repo := &conflictingRepo{memoryRepo: newMemoryRepo()}
	svc := NewService(repo, nil, nil, ServiceConfig{MaxRetries: 1}, nil)
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateInput{Name: "Espresso Beans", Category: "coffee beans", Unit: "g", Quantity: 50})
	require.NoError(t, err)

	repo.calls = 0
	repo.conflicts = 5
	_, err = svc.Adjust(ctx, AdjustInput{MaterialID: m.ID, Counted: 40})
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "40001", pgErr.Code)
	require.Equal(t, 2, repo.calls)
}
