package urgency

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// PgRepository reads stock levels from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const stockLevelQuery = `SELECT p.id, p.code, p.name, p.current_stock, p.rop,
	COALESCE((SELECT MAX(m.created_at) FROM stock_movements m WHERE m.product_id = p.id), p.updated_at)
	FROM products p`

func scanLevel(row pgx.Row) (StockLevel, error) {
	var l StockLevel
	err := row.Scan(&l.ProductID, &l.Code, &l.Name, &l.CurrentStock, &l.ROP, &l.ChangedAt)
	return l, err
}

// ListBelowReorder returns products at or below their reorder point.
func (r *PgRepository) ListBelowReorder(ctx context.Context) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx, stockLevelQuery+` WHERE p.current_stock <= 0 OR p.current_stock < p.rop`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockLevel
	for rows.Next() {
		l, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetStockLevel loads one product.
func (r *PgRepository) GetStockLevel(ctx context.Context, productID int64) (StockLevel, error) {
	l, err := scanLevel(r.pool.QueryRow(ctx, stockLevelQuery+` WHERE p.id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{}, shared.ErrNotFound
	}
	return l, err
}

var _ Repository = (*PgRepository)(nil)
