package products

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists products.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, p Product) (Product, error)
	BelowReorderPoint(ctx context.Context) ([]Product, error)
	IDs(ctx context.Context) ([]int64, error)
}

// TxRepository is the locked view used while parameters change.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Product, error)
	SaveParameters(ctx context.Context, p Product) error
}

type repository struct {
	db *pgxpool.Pool
}

type txRepository struct {
	tx pgx.Tx
}

// NewRepository returns the PostgreSQL product repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const productColumns = `id, COALESCE(sku, ''), code, name, category_id, unit_id, supplier_id,
	price, lead_time_days, daily_usage_rate, minimum_stock, holding_cost_percentage, ordering_cost,
	current_stock, rop, eoq, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Code, &p.Name, &p.CategoryID, &p.UnitID, &p.SupplierID,
		&p.Params.Price, &p.Params.LeadTimeDays, &p.Params.DailyUsageRate, &p.Params.MinimumStock,
		&p.Params.HoldingCostPercentage, &p.Params.OrderingCost,
		&p.CurrentStock, &p.ROP, &p.EOQ, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR code ILIKE $` + n + ` OR sku ILIKE $` + n + `)`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filters.Page, filters.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products`+where+
		` ORDER BY `+sortOrder(filters.SortBy, filters.SortDir)+`, id
	LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *repository) Create(ctx context.Context, p Product) (Product, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO products
	(sku, code, name, category_id, unit_id, supplier_id, price, lead_time_days, daily_usage_rate, minimum_stock,
	 holding_cost_percentage, ordering_cost, current_stock, rop, eoq, created_at, updated_at)
	VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $14, $15, $15)
	RETURNING id`,
		p.SKU, p.Code, p.Name, p.CategoryID, p.UnitID, p.SupplierID, p.Params.Price, p.Params.LeadTimeDays,
		p.Params.DailyUsageRate, p.Params.MinimumStock, p.Params.HoldingCostPercentage, p.Params.OrderingCost,
		p.ROP, p.EOQ, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		if field, ok := duplicateField(err); ok {
			return Product{}, shared.InvalidField(field, "already exists")
		}
		return Product{}, err
	}
	return p, nil
}

// duplicateField maps a unique violation on products to the offending field.
func duplicateField(err error) (string, bool) {
	name, ok := db.UniqueConstraint(err)
	if !ok {
		return "", false
	}
	if strings.Contains(name, "sku") {
		return "sku", true
	}
	return "code", true
}

func (r *repository) BelowReorderPoint(ctx context.Context) ([]Product, error) {
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products
	WHERE current_stock < rop
	ORDER BY (rop - current_stock) DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) IDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepository) SaveParameters(ctx context.Context, p Product) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products
	SET price = $2, lead_time_days = $3, daily_usage_rate = $4, minimum_stock = $5,
	    holding_cost_percentage = $6, ordering_cost = $7, rop = $8, eoq = $9, updated_at = $10
	WHERE id = $1`,
		p.ID, p.Params.Price, p.Params.LeadTimeDays, p.Params.DailyUsageRate, p.Params.MinimumStock,
		p.Params.HoldingCostPercentage, p.Params.OrderingCost, p.ROP, p.EOQ, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code", "name", "current_stock", "rop", "created_at":
		return sortBy + " " + dir
	default:
		return "name " + dir
	}
}
