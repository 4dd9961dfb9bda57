package urgency

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// StockLevel is the classifier input for one product.
type StockLevel struct {
	ProductID    int64     `json:"product_id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	CurrentStock int64     `json:"stock"`
	ROP          int64     `json:"rop"`
	ChangedAt    time.Time `json:"created_at"`
}

// FeedEntry is one notification in the low-stock feed.
type FeedEntry struct {
	StockLevel
	Level Level  `json:"urgency_level"`
	Label string `json:"urgency_label"`
	Badge Badge  `json:"badge"`
}

// Feed is a page of notifications.
type Feed struct {
	Items      []FeedEntry       `json:"items"`
	Counts     map[Level]int     `json:"counts"`
	Pagination shared.Pagination `json:"pagination"`
}

// Repository loads stock levels.
type Repository interface {
	ListBelowReorder(ctx context.Context) ([]StockLevel, error)
	GetStockLevel(ctx context.Context, productID int64) (StockLevel, error)
}

// Service serves badges and the feed.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
}

// NewService builds the urgency service; cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// GetUrgencyFeed returns non-normal products ordered by severity, then the
// most recent stock change, then product id.
func (s *Service) GetUrgencyFeed(ctx context.Context, page, perPage int) (Feed, error) {
	key, err := s.cache.BuildKey(ctx, "urgency", "feed")
	if err != nil {
		s.logger.Warn("urgency cache key", slog.Any("error", err))
		return s.buildFeed(ctx, page, perPage, nil)
	}
	all, err := FetchJSON(ctx, s.cache, key, s.classifyAll)
	if err != nil {
		return Feed{}, err
	}
	return s.buildFeed(ctx, page, perPage, all)
}

// Badge classifies a single product.
func (s *Service) Badge(ctx context.Context, productID int64) (FeedEntry, error) {
	if productID <= 0 {
		return FeedEntry{}, shared.InvalidField("id", "is required")
	}
	level, err := s.repo.GetStockLevel(ctx, productID)
	if err != nil {
		return FeedEntry{}, err
	}
	return entryFor(level), nil
}

// StockChanged invalidates the cached feed after a committed stock change.
func (s *Service) StockChanged(ctx context.Context, productID int64) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("urgency cache bump", slog.Int64("product_id", productID), slog.Any("error", err))
	}
}

// Refresh invalidates the whole feed.
func (s *Service) Refresh(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// Listen logs feed invalidations published by other instances.
func (s *Service) Listen(ctx context.Context) error {
	return s.cache.ListenForInvalidation(ctx, func(ver int64) {
		s.logger.Debug("urgency feed invalidated", slog.String("version", strconv.FormatInt(ver, 10)))
	})
}

func (s *Service) classifyAll(ctx context.Context) ([]FeedEntry, error) {
	levels, err := s.repo.ListBelowReorder(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]FeedEntry, 0, len(levels))
	for _, lvl := range levels {
		entry := entryFor(lvl)
		if entry.Level == LevelNormal {
			continue
		}
		entries = append(entries, entry)
	}
	SortFeed(entries)
	return entries, nil
}

func (s *Service) buildFeed(ctx context.Context, page, perPage int, all []FeedEntry) (Feed, error) {
	if all == nil {
		var err error
		if all, err = s.classifyAll(ctx); err != nil {
			return Feed{}, err
		}
	}
	counts := map[Level]int{}
	for _, e := range all {
		counts[e.Level]++
	}
	p := shared.NewPagination(page, perPage, len(all))
	start, end := p.Bounds(len(all))
	return Feed{Items: all[start:end], Counts: counts, Pagination: p}, nil
}

// SortFeed orders entries by severity desc, change time desc, product id asc.
func SortFeed(entries []FeedEntry) {
	slices.SortStableFunc(entries, func(a, b FeedEntry) int {
		if d := b.Level.Severity() - a.Level.Severity(); d != 0 {
			return d
		}
		if c := b.ChangedAt.Compare(a.ChangedAt); c != 0 {
			return c
		}
		switch {
		case a.ProductID < b.ProductID:
			return -1
		case a.ProductID > b.ProductID:
			return 1
		}
		return 0
	})
}

func entryFor(lvl StockLevel) FeedEntry {
	level := Classify(lvl.CurrentStock, lvl.ROP)
	return FeedEntry{StockLevel: lvl, Level: level, Label: Label(level), Badge: BadgeFor(level)}
}
