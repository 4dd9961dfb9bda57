package procurement

import (
	"context"
	"maps"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type memoryProcRepo struct {
	purchases map[int64]PurchaseTransaction
	products  map[string]ProductRef
	nextID    int64
	block     chan struct{}
	entered   chan struct{}
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		purchases: make(map[int64]PurchaseTransaction),
		products:  make(map[string]ProductRef),
	}
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := maps.Clone(r.purchases)
	if err := fn(ctx, &memoryProcTx{repo: r}); err != nil {
		r.purchases = snapshot
		return err
	}
	return nil
}

func (r *memoryProcRepo) GetPurchase(ctx context.Context, id int64) (PurchaseTransaction, error) {
	p, ok := r.purchases[id]
	if !ok {
		return PurchaseTransaction{}, ErrPurchaseNotFound
	}
	return p, nil
}

func (r *memoryProcRepo) ListPurchases(ctx context.Context, filters ListFilters) ([]PurchaseTransaction, int, error) {
	var out []PurchaseTransaction
	for _, p := range r.purchases {
		if filters.Status != "" && p.Status != filters.Status {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (r *memoryProcRepo) FindPurchaseByInvoice(ctx context.Context, invoice string) (PurchaseTransaction, error) {
	if r.entered != nil {
		close(r.entered)
	}
	if r.block != nil {
		<-r.block
	}
	for _, p := range r.purchases {
		if strings.EqualFold(p.InvoiceNumber, invoice) && p.Status != StatusCancelled {
			return p, nil
		}
	}
	return PurchaseTransaction{}, ErrPurchaseNotFound
}

func (r *memoryProcRepo) FindProductByCode(ctx context.Context, code string) (ProductRef, error) {
	if ref, ok := r.products[code]; ok {
		return ref, nil
	}
	return ProductRef{}, shared.ErrNotFound
}

func (tx *memoryProcTx) InsertPurchase(ctx context.Context, p PurchaseTransaction) (int64, error) {
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.repo.purchases[p.ID] = p
	return p.ID, nil
}

func (tx *memoryProcTx) GetPurchaseForUpdate(ctx context.Context, id int64) (PurchaseTransaction, error) {
	return tx.repo.GetPurchase(ctx, id)
}

func (tx *memoryProcTx) UpdatePurchaseProgress(ctx context.Context, p PurchaseTransaction) error {
	if _, ok := tx.repo.purchases[p.ID]; !ok {
		return ErrPurchaseNotFound
	}
	tx.repo.purchases[p.ID] = p
	return nil
}

func newTestService(repo *memoryProcRepo) *Service {
	svc := NewService(repo, nil, nil, ServiceConfig{LookupTimeout: time.Second})
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return svc
}

func seedPurchase(t *testing.T, svc *Service, ordered int64) PurchaseTransaction {
	t.Helper()
	p, err := svc.CreatePurchase(context.Background(), CreatePurchaseInput{
		SupplierID:      3,
		ProductID:       7,
		InvoiceNumber:   "inv-001",
		OrderedQuantity: ordered,
		PricePerUnit:    decimal.RequireFromString("55000.50"),
	})
	require.NoError(t, err)
	return p
}

func TestCreatePurchaseComputesTotal(t *testing.T) {
	svc := newTestService(newMemoryProcRepo())
	p := seedPurchase(t, svc, 4)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, "INV-001", p.InvoiceNumber)
	require.True(t, decimal.RequireFromString("220002").Equal(p.TotalPrice))
	require.Equal(t, int64(4), p.RemainingQuantity())

	_, err := svc.CreatePurchase(context.Background(), CreatePurchaseInput{SupplierID: 1, ProductID: 1, InvoiceNumber: "X", OrderedQuantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "ordered_quantity", shared.FieldOf(err))
}

func TestReceiptsAdvanceStatusForwardOnly(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	p := seedPurchase(t, svc, 10)
	ctx := context.Background()

	apply := func(qty int64) ReconcileOutcome {
		var out ReconcileOutcome
		err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			out, err = svc.OnStockInCommitted(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: qty})
			return err
		})
		require.NoError(t, err)
		return out
	}

	out := apply(4)
	require.Equal(t, StatusPartiallyReceived, out.Purchase.Status)
	require.Equal(t, int64(6), out.Purchase.RemainingQuantity())
	require.Empty(t, out.Warning)

	out = apply(6)
	require.Equal(t, StatusCompleted, out.Purchase.Status)
	require.Zero(t, out.Purchase.RemainingQuantity())

	out = apply(3)
	require.Equal(t, StatusCompleted, out.Purchase.Status)
	require.Equal(t, int64(13), out.Purchase.ReceivedQuantity)
	require.Zero(t, out.Purchase.RemainingQuantity())
	require.NotEmpty(t, out.Warning)
}

func TestReceiptRejectsCancelledAndMismatchedProduct(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	p := seedPurchase(t, svc, 5)

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.OnStockInCommitted(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 99, Quantity: 1})
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "product_id", shared.FieldOf(err))

	_, err = svc.CancelPurchase(ctx, p.ID, 1)
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.OnStockInCommitted(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: 1})
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, int64(0), repo.purchases[p.ID].ReceivedQuantity)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.OnStockInCommitted(ctx, tx, Receipt{PurchaseID: 404, ProductID: 7, Quantity: 1})
		return err
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCancelOnlyFromOpenStates(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	p := seedPurchase(t, svc, 2)

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.OnStockInCommitted(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: 2})
		return err
	}))

	_, err := svc.CancelPurchase(ctx, p.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, StatusCompleted, repo.purchases[p.ID].Status)
}

func TestReversalRederivesStatus(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	p := seedPurchase(t, svc, 5)

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.OnStockInCommitted(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: 5})
		return err
	}))
	var out ReconcileOutcome
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = svc.OnStockInReversed(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: 3})
		return err
	}))
	require.Equal(t, StatusPartiallyReceived, out.Purchase.Status)
	require.Equal(t, int64(2), out.Purchase.ReceivedQuantity)

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = svc.OnStockInReversed(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: 2})
		return err
	}))
	require.Equal(t, StatusPending, out.Purchase.Status)
	require.Zero(t, out.Purchase.ReceivedQuantity)
}

func TestReversalKeepsCancelledStatus(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	p := seedPurchase(t, svc, 5)

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.OnStockInCommitted(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: 2})
		return err
	}))
	_, err := svc.CancelPurchase(ctx, p.ID, 1)
	require.NoError(t, err)

	var out ReconcileOutcome
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = svc.OnStockInReversed(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: 2})
		return err
	}))
	require.Equal(t, StatusCancelled, out.Purchase.Status)
	require.Zero(t, out.Purchase.ReceivedQuantity)
}

func TestAutofillFromPurchaseDefaultsToRemaining(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	p := seedPurchase(t, svc, 10)
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.OnStockInCommitted(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: 4})
		return err
	}))

	sug, err := svc.AutofillFromCode(ctx, AutofillRequest{Seq: 9, Code: "  ｉｎｖ-001 "})
	require.NoError(t, err)
	require.False(t, sug.Miss)
	require.Equal(t, uint64(9), sug.Seq)
	require.Equal(t, int64(6), sug.Quantity)
	require.Equal(t, "purchase_transaction", sug.Source)
	require.Equal(t, "2026-03-14", sug.StockInDate)
	require.NotNil(t, sug.PurchaseTransactionID)
	require.Equal(t, p.ID, *sug.PurchaseTransactionID)
	require.Equal(t, int64(6), sug.PurchaseInfo.RemainingQuantity)
	require.Empty(t, sug.Warning)
}

func TestAutofillFullyReceivedWarns(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	p := seedPurchase(t, svc, 3)
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.OnStockInCommitted(ctx, tx, Receipt{PurchaseID: p.ID, ProductID: 7, Quantity: 3})
		return err
	}))

	sug, err := svc.AutofillFromCode(ctx, AutofillRequest{Code: "INV-001"})
	require.NoError(t, err)
	require.Zero(t, sug.PurchaseInfo.RemainingQuantity)
	require.NotEmpty(t, sug.Warning)
}

func TestAutofillProductAndMiss(t *testing.T) {
	repo := newMemoryProcRepo()
	repo.products["SKU-42"] = ProductRef{ID: 42, Code: "SKU-42", SupplierName: "Acme"}
	svc := newTestService(repo)
	ctx := context.Background()

	sug, err := svc.AutofillFromCode(ctx, AutofillRequest{Seq: 1, Code: "sku-42"})
	require.NoError(t, err)
	require.Equal(t, int64(42), sug.ProductID)
	require.Equal(t, int64(1), sug.Quantity)
	require.Equal(t, "Acme", sug.SupplierName)
	require.Nil(t, sug.PurchaseTransactionID)
	require.Empty(t, sug.Warning)

	sug, err = svc.AutofillFromCode(ctx, AutofillRequest{Seq: 2, Code: "nothing"})
	require.NoError(t, err)
	require.True(t, sug.Miss)
	require.Equal(t, uint64(2), sug.Seq)

	_, err = svc.AutofillFromCode(ctx, AutofillRequest{Code: "   "})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAutofillHonoursCallerCancellation(t *testing.T) {
	repo := newMemoryProcRepo()
	repo.block = make(chan struct{})
	repo.entered = make(chan struct{})
	svc := newTestService(repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.AutofillFromCode(ctx, AutofillRequest{Code: "slow"})
		done <- err
	}()
	<-repo.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	close(repo.block)
}

func TestSequenceGateDiscardsStaleResponses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	gate := NewSequenceGate(client, time.Minute)
	ctx := context.Background()

	ok, err := gate.Accept(ctx, "sess", "code", 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gate.Accept(ctx, "sess", "code", 1)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = gate.Accept(ctx, "sess", "other", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gate.Accept(ctx, "sess", "code", 3)
	require.NoError(t, err)
	require.True(t, ok)

	var nilGate *SequenceGate
	ok, err = nilGate.Accept(ctx, "sess", "code", 1)
	require.NoError(t, err)
	require.True(t, ok)
}
