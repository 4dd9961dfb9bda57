package inventory

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
)

// TxRepository exposes the ledger operations available inside a transaction.
// Purchase operations ride on the same transaction so reconciliation commits
// or rolls back together with the movement.
type TxRepository interface {
	procurement.TxRepository
	GetProductStockForUpdate(ctx context.Context, productID int64) (int64, error)
	UpdateProductStock(ctx context.Context, productID, stock int64) error
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	GetMovementForUpdate(ctx context.Context, id int64) (Movement, error)
	MarkReversed(ctx context.Context, id, actorID int64, at time.Time) error
	ListMovementsPage(ctx context.Context, filter MovementFilter, after *Cursor, limit int) ([]Movement, error)
}

// Repository provides PostgreSQL-backed ledger persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository instance.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	procurement.TxRepository
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: procurement.NewTxRepository(tx), tx: tx})
	})
}

const movementColumns = `id, product_id, type, quantity, transaction_date, source, COALESCE(reference_code, ''),
	purchase_transaction_id, COALESCE(recorded_by, 0), COALESCE(note, ''), balance_after,
	reversed_at, COALESCE(reversed_by, 0), created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var mv Movement
	var typ, source string
	err := row.Scan(&mv.ID, &mv.ProductID, &typ, &mv.Quantity, &mv.TransactionDate, &source, &mv.ReferenceCode,
		&mv.PurchaseTransactionID, &mv.RecordedBy, &mv.Note, &mv.BalanceAfter,
		&mv.ReversedAt, &mv.ReversedBy, &mv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	mv.Type = MovementType(typ)
	mv.Source = Source(source)
	return mv, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ListMovementsPage returns up to limit movements strictly after the cursor.
func (r *Repository) ListMovementsPage(ctx context.Context, filter MovementFilter, after *Cursor, limit int) ([]Movement, error) {
	return listMovementsPage(ctx, r.pool, filter, after, limit)
}

func (r *txRepo) ListMovementsPage(ctx context.Context, filter MovementFilter, after *Cursor, limit int) ([]Movement, error) {
	return listMovementsPage(ctx, r.tx, filter, after, limit)
}

func listMovementsPage(ctx context.Context, q querier, filter MovementFilter, after *Cursor, limit int) ([]Movement, error) {
	where := []string{"1=1"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.ProductID > 0 {
		add("product_id = ?", filter.ProductID)
	}
	if filter.Type != "" {
		add("type = ?", string(filter.Type))
	}
	if filter.Source != "" {
		add("source = ?", string(filter.Source))
	}
	if !filter.From.IsZero() {
		add("transaction_date >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		add("transaction_date <= ?", filter.To)
	}
	if !filter.IncludeReversed {
		where = append(where, "reversed_at IS NULL")
	}
	order := "ASC"
	cmp := ">"
	if filter.Descending {
		order = "DESC"
		cmp = "<"
	}
	if after != nil {
		args = append(args, after.TransactionDate, after.ID)
		n := len(args)
		where = append(where, "(transaction_date, id) "+cmp+" ($"+strconv.Itoa(n-1)+", $"+strconv.Itoa(n)+")")
	}
	args = append(args, limit)

	rows, err := q.Query(ctx, `SELECT `+movementColumns+`
	FROM stock_movements
	WHERE `+strings.Join(where, " AND ")+`
	ORDER BY transaction_date `+order+`, id `+order+`
	LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

// ProductIDs lists all product ids in ascending order.
func (r *Repository) ProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *txRepo) GetProductStockForUpdate(ctx context.Context, productID int64) (int64, error) {
	var stock int64
	err := r.tx.QueryRow(ctx, `SELECT current_stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	return stock, err
}

func (r *txRepo) UpdateProductStock(ctx context.Context, productID, stock int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET current_stock = $2, updated_at = NOW() WHERE id = $1`, productID, stock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements
	(product_id, type, quantity, transaction_date, source, reference_code, purchase_transaction_id, recorded_by, note, balance_after, created_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, 0), NULLIF($9, ''), $10, $11)
	RETURNING id`,
		mv.ProductID, string(mv.Type), mv.Quantity, mv.TransactionDate, string(mv.Source), mv.ReferenceCode,
		mv.PurchaseTransactionID, mv.RecordedBy, mv.Note, mv.BalanceAfter, mv.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) GetMovementForUpdate(ctx context.Context, id int64) (Movement, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id = $1 FOR UPDATE`, id)
	return scanMovement(row)
}

func (r *txRepo) MarkReversed(ctx context.Context, id, actorID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_movements
	SET reversed_at = $2, reversed_by = NULLIF($3, 0)
	WHERE id = $1 AND reversed_at IS NULL`, id, at, actorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepo)(nil)
)
