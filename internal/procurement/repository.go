package procurement

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// TxRepository exposes the transactional operations shared with the stock
// ledger. The ledger embeds it so reconciliation runs on the ledger's tx.
type TxRepository interface {
	InsertPurchase(ctx context.Context, p PurchaseTransaction) (int64, error)
	GetPurchaseForUpdate(ctx context.Context, id int64) (PurchaseTransaction, error)
	UpdatePurchaseProgress(ctx context.Context, p PurchaseTransaction) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists purchase transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx dbtx
}

// NewTxRepository binds purchase operations to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const purchaseColumns = `p.id, p.supplier_id, COALESCE(s.name, ''), p.product_id, p.invoice_number,
	p.ordered_quantity, p.received_quantity, p.price_per_unit, p.total_price, p.status,
	p.transaction_date, COALESCE(p.created_by, 0), p.created_at, p.updated_at`

func scanPurchase(row pgx.Row) (PurchaseTransaction, error) {
	var p PurchaseTransaction
	var status string
	err := row.Scan(&p.ID, &p.SupplierID, &p.SupplierName, &p.ProductID, &p.InvoiceNumber,
		&p.OrderedQuantity, &p.ReceivedQuantity, &p.PricePerUnit, &p.TotalPrice, &status,
		&p.TransactionDate, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseTransaction{}, ErrPurchaseNotFound
		}
		return PurchaseTransaction{}, err
	}
	p.Status = Status(status)
	return p, nil
}

// GetPurchase loads a purchase transaction by id.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (PurchaseTransaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+`
	FROM purchase_transactions p
	LEFT JOIN suppliers s ON s.id = p.supplier_id
	WHERE p.id = $1`, id)
	return scanPurchase(row)
}

// FindPurchaseByInvoice returns the newest non-cancelled purchase for an invoice.
func (r *Repository) FindPurchaseByInvoice(ctx context.Context, invoice string) (PurchaseTransaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+`
	FROM purchase_transactions p
	LEFT JOIN suppliers s ON s.id = p.supplier_id
	WHERE upper(p.invoice_number) = $1 AND p.status <> 'cancelled'
	ORDER BY p.transaction_date DESC, p.id DESC
	LIMIT 1`, invoice)
	return scanPurchase(row)
}

// FindProductByCode resolves a product by code or sku.
func (r *Repository) FindProductByCode(ctx context.Context, code string) (ProductRef, error) {
	var ref ProductRef
	err := r.pool.QueryRow(ctx, `SELECT p.id, p.code, COALESCE(p.sku, ''), p.name, COALESCE(s.name, '')
	FROM products p
	LEFT JOIN suppliers s ON s.id = p.supplier_id
	WHERE upper(p.code) = $1 OR upper(p.sku) = $1
	ORDER BY (upper(p.code) = $1) DESC, p.id
	LIMIT 1`, code).Scan(&ref.ID, &ref.Code, &ref.SKU, &ref.Name, &ref.SupplierName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductRef{}, shared.ErrNotFound
		}
		return ProductRef{}, err
	}
	return ref, nil
}

// ListPurchases returns purchases matching filters with the total count.
func (r *Repository) ListPurchases(ctx context.Context, filters ListFilters) ([]PurchaseTransaction, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, "p.status = $"+strconv.Itoa(len(args)))
	}
	if filters.SupplierID > 0 {
		args = append(args, filters.SupplierID)
		where = append(where, "p.supplier_id = $"+strconv.Itoa(len(args)))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where = append(where, "p.invoice_number ILIKE $"+strconv.Itoa(len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_transactions p WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filters.Page, filters.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+purchaseColumns+`
	FROM purchase_transactions p
	LEFT JOIN suppliers s ON s.id = p.supplier_id
	WHERE `+cond+`
	ORDER BY p.transaction_date DESC, p.id DESC
	LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []PurchaseTransaction
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *txRepo) InsertPurchase(ctx context.Context, p PurchaseTransaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_transactions
	(supplier_id, product_id, invoice_number, ordered_quantity, received_quantity, price_per_unit, total_price, status, transaction_date, created_by, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, NULLIF($9, 0), $10, $10)
	RETURNING id`,
		p.SupplierID, p.ProductID, p.InvoiceNumber, p.OrderedQuantity, p.PricePerUnit, p.TotalPrice,
		string(p.Status), p.TransactionDate, p.CreatedBy, p.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) GetPurchaseForUpdate(ctx context.Context, id int64) (PurchaseTransaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+purchaseColumns+`
	FROM purchase_transactions p
	LEFT JOIN suppliers s ON s.id = p.supplier_id
	WHERE p.id = $1
	FOR UPDATE OF p`, id)
	return scanPurchase(row)
}

func (r *txRepo) UpdatePurchaseProgress(ctx context.Context, p PurchaseTransaction) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_transactions
	SET received_quantity = $2, status = $3, updated_at = $4
	WHERE id = $1`, p.ID, p.ReceivedQuantity, string(p.Status), p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepo)(nil)
)
