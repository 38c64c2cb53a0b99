package availability

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cafepos/cafepos/internal/inventory"
)

// ErrSuperseded is returned by Refresh when a newer recomputation started before it finished.
var ErrSuperseded = errors.New("availability: refresh superseded")

// Snapshot is one published recomputation. It is never modified after publication;
// accessors hand out copies.
type Snapshot struct {
	generation uint64
	at         time.Time
	available  map[int64]bool
	lowStock   map[int64]bool
	missing    map[int64]string
}

// Generation increases by one with every published snapshot.
func (s *Snapshot) Generation() uint64 { return s.generation }

// At is when the snapshot was published.
func (s *Snapshot) At() time.Time { return s.at }

// Available reports the verdict for a product and whether it is tracked at all.
func (s *Snapshot) Available(productID int64) (available, known bool) {
	available, known = s.available[productID]
	return available, known
}

// LowStock reports whether a product is close to running out.
func (s *Snapshot) LowStock(productID int64) bool { return s.lowStock[productID] }

// MissingText returns the comma-joined missing material names for a product.
func (s *Snapshot) MissingText(productID int64) string { return s.missing[productID] }

// ProductIDs returns every product in the snapshot in ascending order.
func (s *Snapshot) ProductIDs() []int64 {
	ids := make([]int64, 0, len(s.available))
	for id := range s.available {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AvailabilityMap returns a copy of availability by product.
func (s *Snapshot) AvailabilityMap() map[int64]bool { return copyMap(s.available) }

// LowStockMap returns a copy of low stock flags by product.
func (s *Snapshot) LowStockMap() map[int64]bool { return copyMap(s.lowStock) }

// MissingTextMap returns a copy of missing text by product.
func (s *Snapshot) MissingTextMap() map[int64]string { return copyMap(s.missing) }

// SnapshotView is the wire form of a snapshot.
type SnapshotView struct {
	Generation   uint64           `json:"generation"`
	At           time.Time        `json:"at"`
	Availability map[int64]bool   `json:"availability"`
	LowStock     map[int64]bool   `json:"low_stock"`
	MissingText  map[int64]string `json:"missing_text"`
}

// View renders the snapshot for JSON responses.
func (s *Snapshot) View() SnapshotView {
	return SnapshotView{
		Generation:   s.generation,
		At:           s.at,
		Availability: s.AvailabilityMap(),
		LowStock:     s.LowStockMap(),
		MissingText:  s.MissingTextMap(),
	}
}

func copyMap[V any](in map[int64]V) map[int64]V {
	out := make(map[int64]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Checker classifies one product.
type Checker interface {
	CheckAvailability(ctx context.Context, productID int64, size string) (Result, error)
}

// Invalidator is implemented by checkers that share in-flight ledger reads.
type Invalidator interface {
	Invalidate()
}

// ProductSource lists products that have recipes.
type ProductSource interface {
	ProductIDs(ctx context.Context) ([]int64, error)
}

// PublishObserver receives publication statistics for metrics.
type PublishObserver interface {
	SnapshotPublished(products, unavailable int, took time.Duration)
}

// BroadcasterConfig groups optional settings.
type BroadcasterConfig struct {
	Concurrency int
	Observer    PublishObserver
}

// Broadcaster recomputes availability for every tracked product on stock changes
// and pushes the latest snapshot to subscribers.
type Broadcaster struct {
	checker     Checker
	products    ProductSource
	concurrency int
	observer    PublishObserver
	logger      *slog.Logger

	requested atomic.Uint64
	current   atomic.Pointer[Snapshot]

	mu      sync.Mutex
	tracked map[int64]struct{}
	last    map[int64]Result
	subs    map[string]chan *Snapshot
}

// NewBroadcaster constructs Broadcaster. products may be nil when only tracked ids matter.
func NewBroadcaster(checker Checker, products ProductSource, cfg BroadcasterConfig, logger *slog.Logger) *Broadcaster {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		checker:     checker,
		products:    products,
		concurrency: cfg.Concurrency,
		observer:    cfg.Observer,
		logger:      logger,
		tracked:     map[int64]struct{}{},
		last:        map[int64]Result{},
		subs:        map[string]chan *Snapshot{},
	}
}

// Track adds products to every future recomputation.
func (b *Broadcaster) Track(ids ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if id > 0 {
			b.tracked[id] = struct{}{}
		}
	}
}

// Untrack removes explicitly tracked products. Products with recipes stay tracked.
func (b *Broadcaster) Untrack(ids ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.tracked, id)
	}
}

// Current returns the latest snapshot, or nil before the first publication.
func (b *Broadcaster) Current() *Snapshot {
	return b.current.Load()
}

// Subscribe registers an observer. An empty observerID gets a generated one.
// The channel holds at most the newest snapshot and closes when ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context, observerID string) (string, <-chan *Snapshot) {
	if observerID == "" {
		observerID = uuid.NewString()
	}
	ch := make(chan *Snapshot, 1)
	b.mu.Lock()
	if prev, ok := b.subs[observerID]; ok {
		close(prev)
	}
	b.subs[observerID] = ch
	if snap := b.current.Load(); snap != nil {
		ch <- snap
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.subs[observerID] == ch {
			delete(b.subs, observerID)
			close(ch)
		}
	}()
	return observerID, ch
}

// Subscribers reports the number of registered observers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Run recomputes once, then again after every change event until ctx ends or events closes.
// A change arriving mid-recomputation cancels the stale one.
func (b *Broadcaster) Run(ctx context.Context, events <-chan inventory.ChangeEvent) error {
	var (
		wg     sync.WaitGroup
		cancel context.CancelFunc
	)
	start := func() {
		if cancel != nil {
			cancel()
		}
		var rctx context.Context
		rctx, cancel = context.WithCancel(ctx)
		wg.Add(1)
		go func(rctx context.Context) {
			defer wg.Done()
			if _, err := b.Refresh(rctx); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, context.Canceled) {
				b.logger.Error("availability refresh", slog.Any("error", err))
			}
		}(rctx)
	}
	defer func() {
		if cancel != nil {
			cancel()
		}
		wg.Wait()
	}()

	start()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.logger.Debug("stock changed", slog.String("reason", evt.Reason), slog.Int("materials", len(evt.MaterialIDs)))
			start()
		}
	}
}

// Refresh recomputes every tracked product and publishes the result.
func (b *Broadcaster) Refresh(ctx context.Context) (*Snapshot, error) {
	gen := b.requested.Add(1)
	started := time.Now()
	if inv, ok := b.checker.(Invalidator); ok {
		inv.Invalidate()
	}

	ids, err := b.productIDs(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(ids))
	failed := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := b.checker.CheckAvailability(gctx, id, "")
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				b.logger.Warn("availability check failed", slog.Int64("product_id", id), slog.Any("error", err))
				failed[i] = true
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.requested.Load() {
		return nil, ErrSuperseded
	}
	snap := &Snapshot{
		at:        time.Now().UTC(),
		available: make(map[int64]bool, len(ids)),
		lowStock:  make(map[int64]bool, len(ids)),
		missing:   make(map[int64]string, len(ids)),
	}
	if prev := b.current.Load(); prev != nil {
		snap.generation = prev.generation + 1
	} else {
		snap.generation = 1
	}
	last := make(map[int64]Result, len(ids))
	unavailable := 0
	for i, id := range ids {
		res := results[i]
		if failed[i] {
			prev, ok := b.last[id]
			if !ok {
				prev = Result{ProductID: id, Available: true}
			}
			res = prev
		}
		last[id] = res
		snap.available[id] = res.Available
		snap.lowStock[id] = res.LowStock
		snap.missing[id] = res.MissingText
		if !res.Available {
			unavailable++
		}
	}
	b.last = last
	b.current.Store(snap)
	for _, ch := range b.subs {
		deliver(ch, snap)
	}
	if b.observer != nil {
		b.observer.SnapshotPublished(len(ids), unavailable, time.Since(started))
	}
	return snap, nil
}

func (b *Broadcaster) productIDs(ctx context.Context) ([]int64, error) {
	set := map[int64]struct{}{}
	b.mu.Lock()
	for id := range b.tracked {
		set[id] = struct{}{}
	}
	b.mu.Unlock()
	if b.products != nil {
		ids, err := b.products.ProductIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// deliver replaces a pending stale snapshot. Callers hold b.mu, so no other sender races.
func deliver(ch chan *Snapshot, snap *Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- snap
}
