package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/store"
)

// CreateSale commits a checkout. A repeated idempotency key returns the sale
// it first created and reports it as a duplicate.
func (s *Store) CreateSale(ctx context.Context, cmd store.CheckoutCommand) (*domain.SaleRecord, bool, error) {
	var (
		sale domain.SaleRecord
		dup  bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		dup = false
		if key := cmd.Request.IdempotencyKey; key != "" {
			existing, err := scanSale(tx.QueryRowContext(ctx, `SELECT record FROM sales WHERE idempotency_key = $1`, key))
			if err == nil {
				sale, dup = existing, true
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		products, err := lockProducts(ctx, tx, ledger.CheckoutProductIDs(cmd.Request))
		if err != nil {
			return err
		}

		var customer *domain.Customer
		var debt int64
		if customerID := ledger.NormalizeCustomerID(cmd.Request.CustomerID); customerID != domain.GeneralCustomerID {
			c, err := scanCustomer(tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, customerID))
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: customer %s", store.ErrNotFound, customerID)
				}
				return err
			}
			customer = &c
			open, err := outstandingSales(ctx, tx, customerID, false)
			if err != nil {
				return err
			}
			debt = ledger.CurrentDebt(customerID, open)
		}

		res, err := ledger.BuildCheckout(ledger.CheckoutInput{
			SaleID:      cmd.SaleID,
			Request:     cmd.Request,
			Products:    products,
			Customer:    customer,
			CurrentDebt: debt,
			Actor:       cmd.Actor,
			At:          cmd.At,
		})
		if err != nil {
			return err
		}
		if err := insertSale(ctx, tx, res.Sale); err != nil {
			return err
		}
		if err := saveStock(ctx, tx, res.Products); err != nil {
			return err
		}
		if err := insertStockLogs(ctx, tx, res.StockLogs); err != nil {
			return err
		}
		if err := insertTransactions(ctx, tx, res.Transactions); err != nil {
			return err
		}
		sale = res.Sale
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &sale, dup, nil
}

// outstandingSales loads the customer's completed sales that still carry a
// balance, oldest first.
func outstandingSales(ctx context.Context, tx *sql.Tx, customerID string, forUpdate bool) ([]domain.SaleRecord, error) {
	query := `
		SELECT record FROM sales
		WHERE customer_id = $1 AND status = $2 AND payment_status <> $3
		ORDER BY sold_at, id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := tx.QueryContext(ctx, query, customerID, domain.SaleStatusCompleted, domain.PaymentStatusPaid)
	if err != nil {
		return nil, err
	}
	return collectSales(rows)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleRecord, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT record FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrSaleNotFound, id)
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	var c conditions
	if filter.CustomerID != "" {
		c.add("customer_id = $%d", filter.CustomerID)
	}
	if filter.Status != "" {
		c.add("status = $%d", filter.Status)
	}
	if !filter.From.IsZero() {
		c.add("sold_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		c.add("sold_at < $%d", filter.To)
	}
	query := `SELECT record FROM sales` + c.where() + ` ORDER BY sold_at DESC, id DESC`
	query += c.limit(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, c.args...)
	if err != nil {
		return nil, err
	}
	return collectSales(rows)
}

func lockSale(ctx context.Context, tx *sql.Tx, id string) (domain.SaleRecord, error) {
	sale, err := scanSale(tx.QueryRowContext(ctx, `SELECT record FROM sales WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SaleRecord{}, fmt.Errorf("%w: %s", store.ErrSaleNotFound, id)
		}
		return domain.SaleRecord{}, err
	}
	return sale, nil
}

func (s *Store) VoidSale(ctx context.Context, cmd store.VoidCommand) (*domain.SaleRecord, error) {
	var voided domain.SaleRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sale, err := lockSale(ctx, tx, cmd.SaleID)
		if err != nil {
			return err
		}
		products, err := lockProducts(ctx, tx, ledger.SaleProductIDs(sale))
		if err != nil {
			return err
		}
		res, err := ledger.BuildVoid(ledger.VoidInput{
			Sale:         sale,
			Products:     products,
			Reason:       cmd.Reason,
			AuthorizedBy: cmd.AuthorizedBy,
			Actor:        cmd.Actor,
			At:           cmd.At,
		})
		if err != nil {
			return err
		}
		voided = res.Sale
		return applyReversal(ctx, tx, res)
	})
	if err != nil {
		return nil, err
	}
	return &voided, nil
}

func (s *Store) ReturnItems(ctx context.Context, cmd store.ReturnCommand) (*domain.SaleRecord, error) {
	var updated domain.SaleRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sale, err := lockSale(ctx, tx, cmd.SaleID)
		if err != nil {
			return err
		}
		products, err := lockProducts(ctx, tx, ledger.ReturnProductIDs(sale, cmd.Lines))
		if err != nil {
			return err
		}
		res, err := ledger.BuildReturn(ledger.ReturnInput{
			Sale:     sale,
			Products: products,
			Lines:    cmd.Lines,
			Note:     cmd.Note,
			Actor:    cmd.Actor,
			At:       cmd.At,
		})
		if err != nil {
			return err
		}
		updated = res.Sale
		return applyReversal(ctx, tx, res)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func applyReversal(ctx context.Context, tx *sql.Tx, res ledger.ReversalResult) error {
	if err := updateSale(ctx, tx, res.Sale); err != nil {
		return err
	}
	if err := saveStock(ctx, tx, res.Products); err != nil {
		return err
	}
	if err := insertStockLogs(ctx, tx, res.StockLogs); err != nil {
		return err
	}
	return insertTransactions(ctx, tx, res.Transactions)
}

func (s *Store) SettleDebt(ctx context.Context, cmd store.SettleCommand) (*domain.SettlementResult, error) {
	var result *domain.SettlementResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM customers WHERE id = $1 FOR UPDATE`, cmd.CustomerID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) && cmd.CustomerID != domain.GeneralCustomerID {
			return fmt.Errorf("%w: customer %s", store.ErrNotFound, cmd.CustomerID)
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		open, err := outstandingSales(ctx, tx, cmd.CustomerID, true)
		if err != nil {
			return err
		}
		res, err := ledger.BuildSettlement(ledger.SettlementInput{
			CustomerID: cmd.CustomerID,
			Sales:      open,
			Amount:     cmd.Amount,
			Method:     cmd.Method,
			Note:       cmd.Note,
			Actor:      cmd.Actor,
			At:         cmd.At,
		})
		if err != nil {
			return err
		}
		result, err = applySettlement(ctx, tx, res)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) SettleSale(ctx context.Context, cmd store.SettleCommand) (*domain.SettlementResult, error) {
	var result *domain.SettlementResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sale, err := lockSale(ctx, tx, cmd.SaleID)
		if err != nil {
			return err
		}
		res, err := ledger.BuildSingleSettlement(ledger.SingleSettlementInput{
			Sale:   sale,
			Amount: cmd.Amount,
			Method: cmd.Method,
			Note:   cmd.Note,
			Actor:  cmd.Actor,
			At:     cmd.At,
		})
		if err != nil {
			return err
		}
		result, err = applySettlement(ctx, tx, res)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func applySettlement(ctx context.Context, tx *sql.Tx, res ledger.SettlementResult) (*domain.SettlementResult, error) {
	for _, sale := range res.Sales {
		if err := updateSale(ctx, tx, sale); err != nil {
			return nil, err
		}
	}
	if err := insertTransactions(ctx, tx, []domain.PaymentTransaction{res.Transaction}); err != nil {
		return nil, err
	}
	return &domain.SettlementResult{Allocations: res.Allocations, Transaction: res.Transaction}, nil
}

func (s *Store) RecordTransaction(ctx context.Context, t domain.PaymentTransaction) error {
	if t.ID == "" || t.Amount <= 0 || t.Type == "" {
		return store.ErrInvalidTransaction
	}
	return insertTransactions(ctx, s.db, []domain.PaymentTransaction{t})
}

const transactionColumns = `id, paid_at, amount, type, method, reference_id, category, note, performed_by`

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.PaymentTransaction, error) {
	var c conditions
	if filter.Type != "" {
		c.add("type = $%d", filter.Type)
	}
	if !filter.From.IsZero() {
		c.add("paid_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		c.add("paid_at < $%d", filter.To)
	}
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions` + c.where() + ` ORDER BY paid_at DESC, id DESC`
	query += c.limit(filter.Limit)
	return s.queryTransactions(ctx, query, c.args...)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.PaymentTransaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.PaymentTransaction, 0, 64)
	for rows.Next() {
		var t domain.PaymentTransaction
		if err := rows.Scan(&t.ID, &t.Date, &t.Amount, &t.Type, &t.Method, &t.ReferenceID, &t.Category, &t.Note, &t.PerformedBy); err != nil {
			return nil, err
		}
		t.Date = t.Date.UTC()
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}
