package inventory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovementsPage(ctx context.Context, filter MovementFilter, after *Cursor, limit int) ([]Movement, error)
	ProductIDs(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards reference codes against double submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ReconcilerPort applies stock-in receipts to purchase transactions on the
// ledger's own transaction.
type ReconcilerPort interface {
	OnStockInCommitted(ctx context.Context, tx procurement.TxRepository, receipt procurement.Receipt) (procurement.ReconcileOutcome, error)
	OnStockInReversed(ctx context.Context, tx procurement.TxRepository, receipt procurement.Receipt) (procurement.ReconcileOutcome, error)
}

// StockObserver is notified after a committed stock change.
type StockObserver interface {
	StockChanged(ctx context.Context, productID int64)
}

// MetricsPort records ledger activity.
type MetricsPort interface {
	ObserveMovement(movementType, source string)
	ObserveConflict()
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// MaxRetries bounds re-execution after a serialization conflict.
	MaxRetries int
	PageSize   int
}

// Deps bundles optional collaborators.
type Deps struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Reconciler  ReconcilerPort
	Observer    StockObserver
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// Service is the stock ledger. It owns current_stock: every change goes
// through RecordMovement or ReverseMovement under a product row lock.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	reconciler  ReconcilerPort
	observer    StockObserver
	metrics     MetricsPort
	logger      *slog.Logger
	maxRetries  int
	pageSize    int
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Deps, cfg ServiceConfig) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Service{
		repo:        repo,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		reconciler:  deps.Reconciler,
		observer:    deps.Observer,
		metrics:     deps.Metrics,
		logger:      logger,
		maxRetries:  retries,
		pageSize:    pageSize,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RecordMovement appends a movement and applies its delta to current stock.
// A stock-in citing a purchase transaction is reconciled in the same
// transaction; any failure leaves stock, ledger and purchase untouched.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (MovementResult, error) {
	if err := s.normalize(&input); err != nil {
		return MovementResult{}, err
	}
	now := s.now()
	mv := Movement{
		ProductID:             input.ProductID,
		Type:                  input.Type,
		Quantity:              input.Quantity,
		TransactionDate:       input.TransactionDate,
		Source:                input.Source,
		ReferenceCode:         input.ReferenceCode,
		PurchaseTransactionID: input.PurchaseTransactionID,
		RecordedBy:            input.RecordedBy,
		Note:                  input.Note,
		CreatedAt:             now,
	}
	if mv.TransactionDate.IsZero() {
		mv.TransactionDate = now
	}

	key := ""
	if mv.ReferenceCode != "" && s.idempotency != nil {
		key = referenceKey(mv)
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return MovementResult{}, err
		}
	}

	var result MovementResult
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		result = MovementResult{}
		stock, err := tx.GetProductStockForUpdate(ctx, mv.ProductID)
		if err != nil {
			return err
		}
		next := stock + mv.Delta()
		if next < 0 {
			return insufficientStock(mv.ProductID, stock, mv.Quantity)
		}
		entry := mv
		entry.BalanceAfter = next
		id, err := tx.InsertMovement(ctx, entry)
		if err != nil {
			return fmt.Errorf("inventory: insert movement: %w", err)
		}
		entry.ID = id
		if err := tx.UpdateProductStock(ctx, mv.ProductID, next); err != nil {
			return fmt.Errorf("inventory: update stock: %w", err)
		}
		result.Movement = entry
		result.CurrentStock = next

		if entry.PurchaseTransactionID == nil {
			return nil
		}
		if s.reconciler == nil {
			return errors.New("inventory: purchase reconciler not configured")
		}
		outcome, err := s.reconciler.OnStockInCommitted(ctx, tx, procurement.Receipt{
			PurchaseID: *entry.PurchaseTransactionID,
			ProductID:  entry.ProductID,
			MovementID: entry.ID,
			Quantity:   entry.Quantity,
		})
		if err != nil {
			return err
		}
		received := outcome.Purchase.ReceivedQuantity
		result.ReceivedQuantity = &received
		result.PurchaseStatus = string(outcome.Purchase.Status)
		result.Warning = outcome.Warning
		return nil
	})
	if err != nil {
		if key != "" {
			if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return MovementResult{}, err
	}

	s.afterCommit(ctx, result.Movement, fmt.Sprintf("inventory:%s", mv.Type), map[string]any{
		"product_id":              mv.ProductID,
		"quantity":                mv.Quantity,
		"source":                  mv.Source,
		"balance_after":           result.CurrentStock,
		"purchase_transaction_id": mv.PurchaseTransactionID,
		"warning":                 result.Warning,
	})
	return result, nil
}

// ReverseMovement tombstones an entry and applies the inverse delta.
func (s *Service) ReverseMovement(ctx context.Context, id, actorID int64) (MovementResult, error) {
	if id <= 0 {
		return MovementResult{}, shared.InvalidField("id", "is required")
	}
	var result MovementResult
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		result = MovementResult{}
		mv, err := tx.GetMovementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if mv.Reversed() {
			return ErrMovementNotFound
		}
		stock, err := tx.GetProductStockForUpdate(ctx, mv.ProductID)
		if err != nil {
			return err
		}
		next := stock - mv.Delta()
		if next < 0 {
			return insufficientStock(mv.ProductID, stock, mv.Quantity)
		}
		at := s.now()
		if err := tx.MarkReversed(ctx, mv.ID, actorID, at); err != nil {
			return fmt.Errorf("inventory: mark reversed: %w", err)
		}
		if err := tx.UpdateProductStock(ctx, mv.ProductID, next); err != nil {
			return fmt.Errorf("inventory: update stock: %w", err)
		}
		mv.ReversedAt = &at
		mv.ReversedBy = actorID
		result.Movement = mv
		result.CurrentStock = next

		if mv.PurchaseTransactionID == nil || mv.Type != MovementIn {
			return nil
		}
		if s.reconciler == nil {
			return errors.New("inventory: purchase reconciler not configured")
		}
		outcome, err := s.reconciler.OnStockInReversed(ctx, tx, procurement.Receipt{
			PurchaseID: *mv.PurchaseTransactionID,
			ProductID:  mv.ProductID,
			MovementID: mv.ID,
			Quantity:   mv.Quantity,
		})
		if err != nil {
			return err
		}
		received := outcome.Purchase.ReceivedQuantity
		result.ReceivedQuantity = &received
		result.PurchaseStatus = string(outcome.Purchase.Status)
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	if result.Movement.ReferenceCode != "" && s.idempotency != nil {
		key := referenceKey(result.Movement)
		if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
		}
	}
	s.afterCommit(ctx, result.Movement, "inventory:reverse", map[string]any{
		"product_id":    result.Movement.ProductID,
		"quantity":      result.Movement.Quantity,
		"type":          result.Movement.Type,
		"balance_after": result.CurrentStock,
		"reversed_by":   actorID,
	})
	return result, nil
}

// ListMovements returns a lazily fetched, restartable sequence ordered by
// transaction date then id. Each range over the sequence starts a fresh
// keyset scan.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) iter.Seq2[Movement, error] {
	return func(yield func(Movement, error) bool) {
		if err := validateFilter(filter); err != nil {
			yield(Movement{}, err)
			return
		}
		limit := filter.PageSize
		if limit <= 0 {
			limit = s.pageSize
		}
		var after *Cursor
		for {
			page, err := s.repo.ListMovementsPage(ctx, filter, after, limit)
			if err != nil {
				yield(Movement{}, err)
				return
			}
			for _, mv := range page {
				if !yield(mv, nil) {
					return
				}
			}
			if len(page) < limit {
				return
			}
			last := page[len(page)-1]
			after = &Cursor{TransactionDate: last.TransactionDate, ID: last.ID}
		}
	}
}

// Replay folds every live movement of a product and compares the result with
// the stored balance. The fold and the balance read share one transaction
// holding the product row lock.
func (s *Service) Replay(ctx context.Context, productID int64) (Drift, error) {
	if productID <= 0 {
		return Drift{}, shared.InvalidField("product_id", "is required")
	}
	var drift Drift
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		drift = Drift{ProductID: productID}
		current, err := tx.GetProductStockForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		drift.CurrentStock = current
		filter := MovementFilter{ProductID: productID}
		var after *Cursor
		for {
			page, err := tx.ListMovementsPage(ctx, filter, after, s.pageSize)
			if err != nil {
				return err
			}
			for _, mv := range page {
				drift.Replayed += mv.Delta()
			}
			if len(page) < s.pageSize {
				return nil
			}
			last := page[len(page)-1]
			after = &Cursor{TransactionDate: last.TransactionDate, ID: last.ID}
		}
	})
	if err != nil {
		return Drift{}, err
	}
	return drift, nil
}

// ProductIDs lists every product tracked by the ledger.
func (s *Service) ProductIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ProductIDs(ctx)
}

// referenceKey scopes a reference code to one product and direction so a
// shared delivery note can post against several products.
func referenceKey(mv Movement) string {
	return fmt.Sprintf("inventory:%d:%s:%s", mv.ProductID, mv.Type, mv.ReferenceCode)
}

func (s *Service) withRetry(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return err
		}
		if s.metrics != nil {
			s.metrics.ObserveConflict()
		}
		s.logger.Debug("ledger conflict, retrying", slog.Int("attempt", attempt+1))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

func (s *Service) afterCommit(ctx context.Context, mv Movement, action string, meta map[string]any) {
	if s.metrics != nil {
		s.metrics.ObserveMovement(string(mv.Type), string(mv.Source))
	}
	if s.observer != nil {
		s.observer.StockChanged(ctx, mv.ProductID)
	}
	if s.audit == nil {
		return
	}
	actor := mv.RecordedBy
	if mv.Reversed() {
		actor = mv.ReversedBy
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", mv.ID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) normalize(input *MovementInput) error {
	input.ReferenceCode = strings.TrimSpace(input.ReferenceCode)
	switch {
	case input.ProductID <= 0:
		return shared.InvalidField("product_id", "is required")
	case input.Type != MovementIn && input.Type != MovementOut:
		return shared.InvalidField("type", "must be in or out")
	case input.Quantity <= 0:
		return shared.InvalidField("quantity", "must be a positive integer")
	}
	if input.PurchaseTransactionID != nil {
		if input.Type != MovementIn {
			return shared.InvalidField("purchase_transaction_id", "only stock-in movements can cite a purchase transaction")
		}
		if input.Source == "" {
			input.Source = SourcePurchaseTransaction
		}
		if input.Source != SourcePurchaseTransaction {
			return shared.InvalidField("source", "must be purchase_transaction when a purchase transaction is cited")
		}
	}
	if input.Source == "" {
		input.Source = SourceOther
	}
	if !input.Source.Valid() {
		return shared.InvalidField("source", "unknown source")
	}
	return nil
}

func validateFilter(f MovementFilter) error {
	if f.Type != "" && f.Type != MovementIn && f.Type != MovementOut {
		return shared.InvalidField("type", "must be in or out")
	}
	if f.Source != "" && !f.Source.Valid() {
		return shared.InvalidField("source", "unknown source")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return shared.InvalidField("to", "must not be before from")
	}
	return nil
}
