package products

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/replenishment"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// FeedInvalidator refreshes derived urgency data after parameter changes.
type FeedInvalidator interface {
	Refresh(ctx context.Context) error
}

// Service manages the product master.
type Service struct {
	repo   Repository
	audit  AuditPort
	feed   FeedInvalidator
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the product service; audit and feed may be nil.
func NewService(repo Repository, audit AuditPort, feed FeedInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		audit:  audit,
		feed:   feed,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List returns a page of products.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, shared.Pagination, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// Get loads a product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.InvalidField("id", "is required")
	}
	return s.repo.Get(ctx, id)
}

// Preview derives ROP and EOQ without persisting.
func (s *Service) Preview(params replenishment.Params) (replenishment.Result, error) {
	if err := params.Validate(); err != nil {
		return replenishment.Result{}, err
	}
	return replenishment.Calculate(params), nil
}

// Create stores a product with zero stock and derived ROP/EOQ.
func (s *Service) Create(ctx context.Context, input CreateInput) (Product, error) {
	if err := s.validate(&input); err != nil {
		return Product{}, err
	}
	res := replenishment.Calculate(input.Params)
	now := s.now()
	p := Product{
		SKU:        input.SKU,
		Code:       input.Code,
		Name:       input.Name,
		CategoryID: input.CategoryID,
		UnitID:     input.UnitID,
		SupplierID: input.SupplierID,
		Params:     input.Params,
		ROP:        res.ROP,
		EOQ:        res.EOQ,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, input.ActorID, "products:create", created)
	s.invalidate(ctx)
	return created, nil
}

// UpdateParameters recomputes ROP/EOQ from new inputs in the same transaction
// that stores them.
func (s *Service) UpdateParameters(ctx context.Context, id int64, params replenishment.Params, actorID int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.InvalidField("id", "is required")
	}
	if err := params.Validate(); err != nil {
		return Product{}, err
	}
	var updated Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		res := replenishment.Calculate(params)
		p.Params = params
		p.ROP, p.EOQ = res.ROP, res.EOQ
		p.UpdatedAt = s.now()
		if err := tx.SaveParameters(ctx, p); err != nil {
			return fmt.Errorf("products: save parameters: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, actorID, "products:parameters", updated)
	s.invalidate(ctx)
	return updated, nil
}

// BelowReorderPoint lists products whose stock is under their ROP.
func (s *Service) BelowReorderPoint(ctx context.Context) ([]Product, error) {
	return s.repo.BelowReorderPoint(ctx)
}

// Recalculate rewrites stale ROP/EOQ values. A zero id scans every product.
// It returns the number of rows changed.
func (s *Service) Recalculate(ctx context.Context, id int64) (int, error) {
	ids := []int64{id}
	if id == 0 {
		all, err := s.repo.IDs(ctx)
		if err != nil {
			return 0, err
		}
		ids = all
	}
	changed := 0
	for _, pid := range ids {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.GetForUpdate(ctx, pid)
			if err != nil {
				return err
			}
			if !p.Result().Stale(p.Params) {
				return nil
			}
			res := replenishment.Calculate(p.Params)
			s.logger.Info("replenishment values corrected",
				slog.Int64("product_id", p.ID),
				slog.Int64("rop_before", p.ROP), slog.Int64("rop", res.ROP),
				slog.Int64("eoq_before", p.EOQ), slog.Int64("eoq", res.EOQ))
			p.ROP, p.EOQ = res.ROP, res.EOQ
			p.UpdatedAt = s.now()
			changed++
			return tx.SaveParameters(ctx, p)
		})
		if err != nil {
			return changed, err
		}
	}
	if changed > 0 {
		s.invalidate(ctx)
	}
	return changed, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Refresh(ctx); err != nil {
		s.logger.Warn("urgency feed refresh", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, p Product) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "product",
		EntityID: fmt.Sprintf("%d", p.ID),
		Meta: map[string]any{
			"code":       p.Code,
			"parameters": p.Params,
			"rop":        p.ROP,
			"eoq":        p.EOQ,
		},
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
