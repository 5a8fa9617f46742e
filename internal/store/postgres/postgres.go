package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/store"
)

// maxTxAttempts bounds how often a command is re-run after Postgres aborts it
// with a serialization failure or deadlock.
const maxTxAttempts = 3

// Store persists every collection in Postgres. Commands run in serializable
// transactions and lock product rows in ID order before the ledger rules see
// them.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func New(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db, log), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

func (s *Store) Close() error {
	return s.db.Close()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// withTx runs fn inside a serializable transaction and commits when it
// returns nil. Serialization failures and deadlocks are retried.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		s.log.Warn("retrying aborted transaction", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const productColumns = `id, COALESCE(barcode, ''), name, unit, price, wholesale_price, cost_price, category, stock, is_custom, created_at, updated_at`

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Barcode, &p.Name, &p.Unit, &p.Price, &p.WholesalePrice, &p.CostPrice,
		&p.Category, &p.Stock, &p.IsCustom, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

// lockProducts takes row locks one product at a time in sorted ID order so
// concurrent commands over overlapping carts cannot deadlock. Unknown IDs are
// left out and reported by the ledger rules.
func lockProducts(ctx context.Context, tx *sql.Tx, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	for _, id := range ledger.SortedIDs(ids) {
		p, err := scanProduct(tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}
		products[id] = p
	}
	return products, nil
}

// saveStock writes back the fields a stock movement may change.
func saveStock(ctx context.Context, q queryer, products []domain.Product) error {
	for _, p := range products {
		_, err := q.ExecContext(ctx, `
			UPDATE products
			SET stock = $2, cost_price = $3, updated_at = $4
			WHERE id = $1
		`, p.ID, p.Stock, p.CostPrice, p.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertStockLogs(ctx context.Context, q queryer, logs []domain.StockLog) error {
	for _, entry := range logs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO stock_logs (
				id, logged_at, product_id, product_name, type, quantity,
				previous_stock, new_stock, note, ref_id, performed_by
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, entry.ID, entry.Date, entry.ProductID, entry.ProductName, entry.Type, entry.Quantity,
			entry.PreviousStock, entry.NewStock, entry.Note, entry.RefID, entry.PerformedBy)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertTransactions(ctx context.Context, q queryer, txs []domain.PaymentTransaction) error {
	for _, t := range txs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO payment_transactions (
				id, paid_at, amount, type, method, reference_id, category, note, performed_by
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, t.ID, t.Date, t.Amount, t.Type, t.Method, t.ReferenceID, t.Category, t.Note, t.PerformedBy)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertSale(ctx context.Context, q queryer, sale domain.SaleRecord) error {
	record, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO sales (id, sold_at, customer_id, status, payment_status, idempotency_key, record)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sale.ID, sale.Date, sale.CustomerID, sale.Status, sale.PaymentStatus, nullIfEmpty(sale.IdempotencyKey), string(record))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sale %s exists", store.ErrInvalidTransaction, sale.ID)
		}
		return err
	}
	return nil
}

func updateSale(ctx context.Context, q queryer, sale domain.SaleRecord) error {
	record, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, payment_status = $3, record = $4
		WHERE id = $1
	`, sale.ID, sale.Status, sale.PaymentStatus, string(record))
	return err
}

func scanSale(row scanner) (domain.SaleRecord, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return domain.SaleRecord{}, err
	}
	var sale domain.SaleRecord
	if err := json.Unmarshal(raw, &sale); err != nil {
		return domain.SaleRecord{}, fmt.Errorf("decode sale record: %w", err)
	}
	return sale, nil
}

func collectSales(rows *sql.Rows) ([]domain.SaleRecord, error) {
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

// conditions accumulates a WHERE clause with positional arguments.
type conditions struct {
	clauses []string
	args    []any
}

// add appends clause, which must contain one %d for the argument position.
func (c *conditions) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)))
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func (c *conditions) limit(n int) string {
	if n <= 0 {
		return ""
	}
	c.args = append(c.args, n)
	return fmt.Sprintf(" LIMIT $%d", len(c.args))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
