package inventory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type memoryStore struct {
	mu        sync.Mutex
	stock     map[int64]int64
	movements []Movement
	purchases map[int64]procurement.PurchaseTransaction
	nextID    int64
	conflicts int
	pageCalls int
	// txPageCalls counts page reads made inside a transaction.
	txPageCalls int
}

type memoryTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		stock:     make(map[int64]int64),
		purchases: make(map[int64]procurement.PurchaseTransaction),
	}
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return shared.ErrConcurrencyConflict
	}
	stock := maps.Clone(s.stock)
	movements := slices.Clone(s.movements)
	purchases := maps.Clone(s.purchases)
	if err := fn(ctx, &memoryTx{store: s}); err != nil {
		s.stock, s.movements, s.purchases = stock, movements, purchases
		return err
	}
	return nil
}

func (s *memoryStore) ListMovementsPage(ctx context.Context, filter MovementFilter, after *Cursor, limit int) ([]Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageCalls++
	return s.listPage(filter, after, limit), nil
}

// listPage expects s.mu to be held.
func (s *memoryStore) listPage(filter MovementFilter, after *Cursor, limit int) []Movement {
	rows := slices.Clone(s.movements)
	slices.SortFunc(rows, func(a, b Movement) int {
		if c := a.TransactionDate.Compare(b.TransactionDate); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	if filter.Descending {
		slices.Reverse(rows)
	}
	var out []Movement
	for _, mv := range rows {
		if filter.ProductID > 0 && mv.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && mv.Type != filter.Type {
			continue
		}
		if !filter.IncludeReversed && mv.Reversed() {
			continue
		}
		if after != nil {
			c := mv.TransactionDate.Compare(after.TransactionDate)
			if c == 0 {
				c = int(mv.ID - after.ID)
			}
			if (!filter.Descending && c <= 0) || (filter.Descending && c >= 0) {
				continue
			}
		}
		out = append(out, mv)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *memoryStore) ProductIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Collect(maps.Keys(s.stock))
	slices.Sort(ids)
	return ids, nil
}

func (tx *memoryTx) GetProductStockForUpdate(ctx context.Context, productID int64) (int64, error) {
	stock, ok := tx.store.stock[productID]
	if !ok {
		return 0, ErrProductNotFound
	}
	return stock, nil
}

func (tx *memoryTx) UpdateProductStock(ctx context.Context, productID, stock int64) error {
	tx.store.stock[productID] = stock
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	tx.store.nextID++
	mv.ID = tx.store.nextID
	tx.store.movements = append(tx.store.movements, mv)
	return mv.ID, nil
}

func (tx *memoryTx) GetMovementForUpdate(ctx context.Context, id int64) (Movement, error) {
	for _, mv := range tx.store.movements {
		if mv.ID == id {
			return mv, nil
		}
	}
	return Movement{}, ErrMovementNotFound
}

func (tx *memoryTx) MarkReversed(ctx context.Context, id, actorID int64, at time.Time) error {
	for i, mv := range tx.store.movements {
		if mv.ID == id && !mv.Reversed() {
			tx.store.movements[i].ReversedAt = &at
			tx.store.movements[i].ReversedBy = actorID
			return nil
		}
	}
	return ErrMovementNotFound
}

func (tx *memoryTx) ListMovementsPage(ctx context.Context, filter MovementFilter, after *Cursor, limit int) ([]Movement, error) {
	tx.store.txPageCalls++
	return tx.store.listPage(filter, after, limit), nil
}

func (tx *memoryTx) InsertPurchase(ctx context.Context, p procurement.PurchaseTransaction) (int64, error) {
	p.ID = int64(len(tx.store.purchases) + 1)
	tx.store.purchases[p.ID] = p
	return p.ID, nil
}

func (tx *memoryTx) GetPurchaseForUpdate(ctx context.Context, id int64) (procurement.PurchaseTransaction, error) {
	p, ok := tx.store.purchases[id]
	if !ok {
		return procurement.PurchaseTransaction{}, procurement.ErrPurchaseNotFound
	}
	return p, nil
}

func (tx *memoryTx) UpdatePurchaseProgress(ctx context.Context, p procurement.PurchaseTransaction) error {
	tx.store.purchases[p.ID] = p
	return nil
}

type countingMetrics struct {
	movements atomic.Int64
	conflicts atomic.Int64
}

func (m *countingMetrics) ObserveMovement(string, string) { m.movements.Add(1) }
func (m *countingMetrics) ObserveConflict()               { m.conflicts.Add(1) }

type recordingObserver struct {
	mu       sync.Mutex
	products []int64
}

func (o *recordingObserver) StockChanged(_ context.Context, productID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.products = append(o.products, productID)
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type fixture struct {
	store    *memoryStore
	svc      *Service
	metrics  *countingMetrics
	observer *recordingObserver
	idem     *memoryIdempotency
}

func newFixture(t *testing.T, maxRetries int) fixture {
	t.Helper()
	f := fixture{
		store:    newMemoryStore(),
		metrics:  &countingMetrics{},
		observer: &recordingObserver{},
		idem:     &memoryIdempotency{keys: map[string]bool{}},
	}
	f.svc = NewService(f.store, Deps{
		Idempotency: f.idem,
		Reconciler:  procurement.NewService(nil, nil, nil, procurement.ServiceConfig{}),
		Observer:    f.observer,
		Metrics:     f.metrics,
	}, ServiceConfig{MaxRetries: maxRetries, PageSize: 2})
	return f
}

func (f fixture) seedPurchase(productID, ordered int64, status procurement.Status) int64 {
	id := int64(len(f.store.purchases) + 100)
	f.store.purchases[id] = procurement.PurchaseTransaction{
		ID:              id,
		ProductID:       productID,
		InvoiceNumber:   "INV-100",
		OrderedQuantity: ordered,
		PricePerUnit:    decimal.NewFromInt(1000),
		TotalPrice:      decimal.NewFromInt(1000 * ordered),
		Status:          status,
	}
	return id
}

func day(d int) time.Time {
	return time.Date(2026, 5, d, 8, 0, 0, 0, time.UTC)
}

func TestRecordMovementAppliesDelta(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 10
	ctx := context.Background()

	res, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 1, Type: MovementIn, Quantity: 5, RecordedBy: 9})
	require.NoError(t, err)
	require.Equal(t, int64(15), res.CurrentStock)
	require.Equal(t, int64(15), res.Movement.BalanceAfter)
	require.Equal(t, SourceOther, res.Movement.Source)

	res, err = f.svc.RecordMovement(ctx, MovementInput{ProductID: 1, Type: MovementOut, Quantity: 15, Source: SourceSale})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.CurrentStock)
	require.Equal(t, int64(2), f.metrics.movements.Load())
	require.Equal(t, []int64{1, 1}, f.observer.products)
}

func TestRecordMovementRejectsNegativeStock(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 3

	_, err := f.svc.RecordMovement(context.Background(), MovementInput{ProductID: 1, Type: MovementOut, Quantity: 4})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(3), f.store.stock[1])
	require.Empty(t, f.store.movements)
	require.Empty(t, f.observer.products)
}

func TestRecordMovementValidation(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 3
	po := int64(5)
	cases := []struct {
		name  string
		input MovementInput
		field string
	}{
		{"zero quantity", MovementInput{ProductID: 1, Type: MovementIn}, "quantity"},
		{"missing product", MovementInput{Type: MovementIn, Quantity: 1}, "product_id"},
		{"bad type", MovementInput{ProductID: 1, Type: "sideways", Quantity: 1}, "type"},
		{"bad source", MovementInput{ProductID: 1, Type: MovementIn, Quantity: 1, Source: "gift"}, "source"},
		{"purchase on stock-out", MovementInput{ProductID: 1, Type: MovementOut, Quantity: 1, PurchaseTransactionID: &po}, "purchase_transaction_id"},
		{"purchase with other source", MovementInput{ProductID: 1, Type: MovementIn, Quantity: 1, Source: SourceReturn, PurchaseTransactionID: &po}, "source"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RecordMovement(context.Background(), tc.input)
			require.ErrorIs(t, err, shared.ErrValidation)
			require.Equal(t, tc.field, shared.FieldOf(err))
		})
	}

	_, err := f.svc.RecordMovement(context.Background(), MovementInput{ProductID: 404, Type: MovementIn, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStockInReconcilesPurchase(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[7] = 0
	po := f.seedPurchase(7, 10, procurement.StatusPending)
	ctx := context.Background()

	res, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 7, Type: MovementIn, Quantity: 4, PurchaseTransactionID: &po})
	require.NoError(t, err)
	require.Equal(t, SourcePurchaseTransaction, res.Movement.Source)
	require.Equal(t, int64(4), *res.ReceivedQuantity)
	require.Equal(t, string(procurement.StatusPartiallyReceived), res.PurchaseStatus)

	res, err = f.svc.RecordMovement(ctx, MovementInput{ProductID: 7, Type: MovementIn, Quantity: 8, PurchaseTransactionID: &po})
	require.NoError(t, err)
	require.Equal(t, string(procurement.StatusCompleted), res.PurchaseStatus)
	require.NotEmpty(t, res.Warning)
	require.Equal(t, int64(12), f.store.purchases[po].ReceivedQuantity)
	require.Equal(t, int64(12), f.store.stock[7])
}

func TestReconcileFailureRollsBackMovement(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[7] = 2
	cancelled := f.seedPurchase(7, 10, procurement.StatusCancelled)
	other := f.seedPurchase(8, 10, procurement.StatusPending)
	missing := int64(999)

	for _, po := range []int64{cancelled, other, missing} {
		_, err := f.svc.RecordMovement(context.Background(), MovementInput{
			ProductID: 7, Type: MovementIn, Quantity: 3, ReferenceCode: "GRN-1", PurchaseTransactionID: &po,
		})
		require.Error(t, err)
		require.Equal(t, int64(2), f.store.stock[7])
		require.Empty(t, f.store.movements)
	}
	require.Zero(t, f.store.purchases[other].ReceivedQuantity)
	require.Empty(t, f.idem.keys)
}

func TestReferenceCodeIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 0
	input := MovementInput{ProductID: 1, Type: MovementIn, Quantity: 2, ReferenceCode: " GRN-7 "}

	_, err := f.svc.RecordMovement(context.Background(), input)
	require.NoError(t, err)
	_, err = f.svc.RecordMovement(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, int64(2), f.store.stock[1])
}

func TestReferenceCodeScopedToProduct(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 0
	f.store.stock[2] = 0
	ctx := context.Background()

	_, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 1, Type: MovementIn, Quantity: 3, ReferenceCode: "DN-001"})
	require.NoError(t, err)
	res, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 2, Type: MovementIn, Quantity: 5, ReferenceCode: "DN-001"})
	require.NoError(t, err)
	require.Equal(t, int64(5), res.CurrentStock)
	require.Equal(t, int64(3), f.store.stock[1])

	_, err = f.svc.RecordMovement(ctx, MovementInput{ProductID: 2, Type: MovementIn, Quantity: 5, ReferenceCode: "DN-001"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestReverseReleasesReferenceCode(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[4] = 1
	ctx := context.Background()
	input := MovementInput{ProductID: 4, Type: MovementIn, Quantity: 6, ReferenceCode: "GRN-9"}

	first, err := f.svc.RecordMovement(ctx, input)
	require.NoError(t, err)
	_, err = f.svc.ReverseMovement(ctx, first.Movement.ID, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), f.store.stock[4])

	again, err := f.svc.RecordMovement(ctx, input)
	require.NoError(t, err)
	require.Equal(t, int64(7), again.CurrentStock)
	require.NotEqual(t, first.Movement.ID, again.Movement.ID)
}

func TestReverseMovementRestoresStock(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[7] = 5
	po := f.seedPurchase(7, 10, procurement.StatusPending)
	ctx := context.Background()

	in, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 7, Type: MovementIn, Quantity: 10, PurchaseTransactionID: &po})
	require.NoError(t, err)
	require.Equal(t, string(procurement.StatusCompleted), in.PurchaseStatus)

	rev, err := f.svc.ReverseMovement(ctx, in.Movement.ID, 3)
	require.NoError(t, err)
	require.Equal(t, int64(5), rev.CurrentStock)
	require.True(t, rev.Movement.Reversed())
	require.Equal(t, string(procurement.StatusPending), rev.PurchaseStatus)
	require.Zero(t, f.store.purchases[po].ReceivedQuantity)

	_, err = f.svc.ReverseMovement(ctx, in.Movement.ID, 3)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReverseStockInBlockedWhenConsumed(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 0
	ctx := context.Background()

	in, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 1, Type: MovementIn, Quantity: 4})
	require.NoError(t, err)
	_, err = f.svc.RecordMovement(ctx, MovementInput{ProductID: 1, Type: MovementOut, Quantity: 3})
	require.NoError(t, err)

	_, err = f.svc.ReverseMovement(ctx, in.Movement.ID, 1)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(1), f.store.stock[1])
	require.False(t, f.store.movements[0].Reversed())
}

func TestConcurrentStockOutNeverOversells(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 20

	var wg sync.WaitGroup
	var ok, short atomic.Int64
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordMovement(context.Background(), MovementInput{ProductID: 1, Type: MovementOut, Quantity: 1})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				short.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(20), ok.Load())
	require.Equal(t, int64(30), short.Load())
	require.Zero(t, f.store.stock[1])
	require.Len(t, f.store.movements, 20)
}

func TestRecordMovementRetriesConflicts(t *testing.T) {
	f := newFixture(t, 2)
	f.store.stock[1] = 1
	f.store.conflicts = 2

	res, err := f.svc.RecordMovement(context.Background(), MovementInput{ProductID: 1, Type: MovementIn, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.CurrentStock)
	require.Equal(t, int64(2), f.metrics.conflicts.Load())

	f.store.conflicts = 3
	_, err = f.svc.RecordMovement(context.Background(), MovementInput{ProductID: 1, Type: MovementIn, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.Equal(t, int64(2), f.store.stock[1])
}

func TestListMovementsOrderingAndRestart(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 0
	f.store.stock[2] = 0
	ctx := context.Background()
	for i, d := range []int{3, 1, 2, 2, 5} {
		_, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 1, Type: MovementIn, Quantity: int64(i + 1), TransactionDate: day(d)})
		require.NoError(t, err)
	}
	_, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 2, Type: MovementIn, Quantity: 1, TransactionDate: day(4)})
	require.NoError(t, err)

	collect := func(filter MovementFilter) []int64 {
		var ids []int64
		for mv, err := range f.svc.ListMovements(ctx, filter) {
			require.NoError(t, err)
			ids = append(ids, mv.ID)
		}
		return ids
	}

	asc := collect(MovementFilter{ProductID: 1})
	require.Equal(t, []int64{2, 3, 4, 1, 5}, asc)
	require.Equal(t, asc, collect(MovementFilter{ProductID: 1}))

	desc := collect(MovementFilter{ProductID: 1, Descending: true})
	require.Equal(t, []int64{5, 1, 4, 3, 2}, desc)

	before := f.store.pageCalls
	for range f.svc.ListMovements(ctx, MovementFilter{ProductID: 1}) {
		break
	}
	require.Equal(t, before+1, f.store.pageCalls)

	for _, err := range f.svc.ListMovements(ctx, MovementFilter{Type: "sideways"}) {
		require.ErrorIs(t, err, shared.ErrValidation)
	}
}

func TestReplayMatchesCurrentStock(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 0
	ctx := context.Background()
	for _, in := range []MovementInput{
		{ProductID: 1, Type: MovementIn, Quantity: 9},
		{ProductID: 1, Type: MovementOut, Quantity: 4},
		{ProductID: 1, Type: MovementIn, Quantity: 2},
	} {
		_, err := f.svc.RecordMovement(ctx, in)
		require.NoError(t, err)
	}
	_, err := f.svc.ReverseMovement(ctx, 3, 1)
	require.NoError(t, err)

	drift, err := f.svc.Replay(ctx, 1)
	require.NoError(t, err)
	require.True(t, drift.Consistent())
	require.Equal(t, int64(5), drift.Replayed)

	f.store.stock[1] = 8
	drift, err = f.svc.Replay(ctx, 1)
	require.NoError(t, err)
	require.False(t, drift.Consistent())
}

func TestReplayFoldsInsideTransaction(t *testing.T) {
	f := newFixture(t, 1)
	f.store.stock[1] = 0
	ctx := context.Background()
	for range 5 {
		_, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 1, Type: MovementIn, Quantity: 2})
		require.NoError(t, err)
	}
	pageCalls := f.store.pageCalls
	f.store.conflicts = 1

	drift, err := f.svc.Replay(ctx, 1)
	require.NoError(t, err)
	require.True(t, drift.Consistent())
	require.Equal(t, int64(10), drift.Replayed)
	require.Equal(t, pageCalls, f.store.pageCalls)
	require.Equal(t, 3, f.store.txPageCalls)
	require.Equal(t, int64(1), f.metrics.conflicts.Load())

	_, err = f.svc.Replay(ctx, 99)
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestReplayConsistentUnderConcurrentWrites(t *testing.T) {
	f := newFixture(t, 0)
	f.store.stock[1] = 0
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordMovement(ctx, MovementInput{ProductID: 1, Type: MovementIn, Quantity: 1})
			require.NoError(t, err)
		}()
	}
	drifts := make(chan Drift, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			drift, err := f.svc.Replay(ctx, 1)
			require.NoError(t, err)
			drifts <- drift
		}()
	}
	wg.Wait()
	close(drifts)
	for drift := range drifts {
		require.True(t, drift.Consistent(), "replayed %d, stored %d", drift.Replayed, drift.CurrentStock)
	}
}
