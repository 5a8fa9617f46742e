package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/store"
)

const supplierColumns = `id, name, phone, address, contact_name, created_at`

func scanSupplier(row scanner) (domain.Supplier, error) {
	var v domain.Supplier
	err := row.Scan(&v.ID, &v.Name, &v.Phone, &v.Address, &v.ContactName, &v.CreatedAt)
	v.CreatedAt = v.CreatedAt.UTC()
	return v, err
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.ID == "" || supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, address, contact_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.Address, supplier.ContactName, supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	v, err := scanSupplier(s.db.QueryRowContext(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		v, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func savePurchaseOrder(ctx context.Context, q queryer, po domain.PurchaseOrder, insert bool) error {
	record, err := json.Marshal(po)
	if err != nil {
		return err
	}
	if insert {
		_, err = q.ExecContext(ctx, `
			INSERT INTO purchase_orders (id, supplier_id, ordered_at, status, record)
			VALUES ($1,$2,$3,$4,$5)
		`, po.ID, po.SupplierID, po.Date, po.Status, string(record))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: purchase order %s exists", store.ErrInvalidTransaction, po.ID)
		}
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE purchase_orders SET status = $2, record = $3 WHERE id = $1`, po.ID, po.Status, string(record))
	return err
}

func scanPurchaseOrder(row scanner) (domain.PurchaseOrder, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return domain.PurchaseOrder{}, err
	}
	var po domain.PurchaseOrder
	if err := json.Unmarshal(raw, &po); err != nil {
		return domain.PurchaseOrder{}, fmt.Errorf("decode purchase order: %w", err)
	}
	return po, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.ID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var found string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM suppliers WHERE id = $1`, po.SupplierID).Scan(&found); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.SupplierID)
			}
			return err
		}
		for _, item := range po.Items {
			if err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1`, item.ProductID).Scan(&found); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
				}
				return err
			}
		}
		return savePurchaseOrder(ctx, tx, po, true)
	})
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.db.QueryRowContext(ctx, `SELECT record FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	var c conditions
	if status = strings.ToUpper(strings.TrimSpace(status)); status != "" {
		c.add("status = $%d", status)
	}
	query := `SELECT record FROM purchase_orders` + c.where() + ` ORDER BY ordered_at DESC, id DESC`
	query += c.limit(limit)
	return s.queryPurchaseOrders(ctx, query, c.args...)
}

func (s *Store) queryPurchaseOrders(ctx context.Context, query string, args ...any) ([]domain.PurchaseOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, 16)
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func lockPurchaseOrder(ctx context.Context, tx *sql.Tx, id string) (domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(tx.QueryRowContext(ctx, `SELECT record FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PurchaseOrder{}, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, id)
		}
		return domain.PurchaseOrder{}, err
	}
	return po, nil
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, cmd store.PurchaseOrderCommand) (*domain.PurchaseOrder, error) {
	var received domain.PurchaseOrder
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		po, err := lockPurchaseOrder(ctx, tx, cmd.OrderID)
		if err != nil {
			return err
		}
		products, err := lockProducts(ctx, tx, ledger.PurchaseProductIDs(po))
		if err != nil {
			return err
		}
		res, err := ledger.BuildReceipt(po, products, cmd.Actor, cmd.At)
		if err != nil {
			return err
		}
		if err := saveStock(ctx, tx, res.Products); err != nil {
			return err
		}
		if err := insertStockLogs(ctx, tx, res.StockLogs); err != nil {
			return err
		}
		received = res.Order
		return savePurchaseOrder(ctx, tx, res.Order, false)
	})
	if err != nil {
		return nil, err
	}
	return &received, nil
}

func (s *Store) CancelPurchaseOrder(ctx context.Context, cmd store.PurchaseOrderCommand) (*domain.PurchaseOrder, error) {
	var cancelled domain.PurchaseOrder
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		po, err := lockPurchaseOrder(ctx, tx, cmd.OrderID)
		if err != nil {
			return err
		}
		cancelled, err = ledger.BuildCancel(po)
		if err != nil {
			return err
		}
		return savePurchaseOrder(ctx, tx, cancelled, false)
	})
	if err != nil {
		return nil, err
	}
	return &cancelled, nil
}

func (s *Store) PayPurchaseOrder(ctx context.Context, cmd store.PurchasePaymentCommand) (*domain.PurchaseOrder, *domain.PaymentTransaction, error) {
	var (
		paid    domain.PurchaseOrder
		payment domain.PaymentTransaction
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		po, err := lockPurchaseOrder(ctx, tx, cmd.OrderID)
		if err != nil {
			return err
		}
		paid, payment, err = ledger.BuildPurchasePayment(po, cmd.Amount, cmd.Method, cmd.Note, cmd.Actor, cmd.At)
		if err != nil {
			return err
		}
		if err := savePurchaseOrder(ctx, tx, paid, false); err != nil {
			return err
		}
		return insertTransactions(ctx, tx, []domain.PaymentTransaction{payment})
	})
	if err != nil {
		return nil, nil, err
	}
	return &paid, &payment, nil
}
