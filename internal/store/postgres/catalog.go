package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/store"
)

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initial *domain.StockLog) (*domain.Product, error) {
	if product.ID == "" || strings.TrimSpace(product.Name) == "" || product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (
				id, barcode, name, unit, price, wholesale_price, cost_price,
				category, stock, is_custom, created_at, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, product.ID, nullIfEmpty(product.Barcode), product.Name, product.Unit, product.Price, product.WholesalePrice,
			product.CostPrice, product.Category, product.Stock, product.IsCustom, product.CreatedAt, product.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: product %s or its barcode exists", store.ErrInvalidTransaction, product.ID)
			}
			return err
		}
		if initial == nil {
			return nil
		}
		return insertStockLogs(ctx, tx, []domain.StockLog{*initial})
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProduct replaces catalog fields. Stock always keeps its stored value.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET barcode = $2, name = $3, unit = $4, price = $5, wholesale_price = $6,
			cost_price = $7, category = $8, updated_at = $9
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, nullIfEmpty(product.Barcode), product.Name, product.Unit, product.Price,
		product.WholesalePrice, product.CostPrice, product.Category, product.UpdatedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, product.ID)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %s is in use", store.ErrInvalidTransaction, product.Barcode)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT true FROM products WHERE id = $1 FOR UPDATE`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
			}
			return err
		}

		var referenced bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM sales
				WHERE record->'items' @> jsonb_build_array(jsonb_build_object('product_id', $1::text))
			) OR EXISTS (
				SELECT 1 FROM purchase_orders
				WHERE record->'items' @> jsonb_build_array(jsonb_build_object('product_id', $1::text))
			)
		`, id).Scan(&referenced)
		if err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: product %s has sales or purchase orders", store.ErrInUse, id)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		return err
	})
}

func (s *Store) AdjustStock(ctx context.Context, cmd store.AdjustStockCommand) (*domain.Product, error) {
	var adjusted domain.Product
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		products, err := lockProducts(ctx, tx, []string{cmd.ProductID})
		if err != nil {
			return err
		}
		product, ok := products[cmd.ProductID]
		if !ok {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, cmd.ProductID)
		}
		res, err := ledger.BuildAdjustment(ledger.AdjustInput{
			Product: product,
			Delta:   cmd.Delta,
			Note:    cmd.Note,
			RefID:   cmd.RefID,
			Actor:   cmd.Actor,
			At:      cmd.At,
		})
		if err != nil {
			return err
		}
		if err := saveStock(ctx, tx, []domain.Product{res.Product}); err != nil {
			return err
		}
		if err := insertStockLogs(ctx, tx, []domain.StockLog{res.Log}); err != nil {
			return err
		}
		adjusted = res.Product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &adjusted, nil
}

const stockLogColumns = `id, logged_at, product_id, product_name, type, quantity, previous_stock, new_stock, note, ref_id, performed_by`

// ListStockLogs returns entries newest first, optionally for one product.
func (s *Store) ListStockLogs(ctx context.Context, productID string, limit int) ([]domain.StockLog, error) {
	var c conditions
	if productID != "" {
		c.add("product_id = $%d", productID)
	}
	query := `SELECT ` + stockLogColumns + ` FROM stock_logs` + c.where() + ` ORDER BY seq DESC`
	query += c.limit(limit)
	return s.queryStockLogs(ctx, query, c.args...)
}

func (s *Store) queryStockLogs(ctx context.Context, query string, args ...any) ([]domain.StockLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.StockLog, 0, 64)
	for rows.Next() {
		var entry domain.StockLog
		if err := rows.Scan(&entry.ID, &entry.Date, &entry.ProductID, &entry.ProductName, &entry.Type, &entry.Quantity,
			&entry.PreviousStock, &entry.NewStock, &entry.Note, &entry.RefID, &entry.PerformedBy); err != nil {
			return nil, err
		}
		entry.Date = entry.Date.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

const customerColumns = `id, name, phone, type, address, credit_limit, created_at`

func scanCustomer(row scanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Type, &c.Address, &c.CreditLimit, &c.CreatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" || customer.CreditLimit < 0 {
		return nil, store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, type, address, credit_limit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.Name, customer.Phone, customer.Type, customer.Address, customer.CreditLimit, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: customer %s exists", store.ErrInvalidTransaction, customer.ID)
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" || customer.CreditLimit < 0 {
		return nil, store.ErrInvalidTransaction
	}
	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, type = $4, address = $5, credit_limit = $6
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, customer.Phone, customer.Type, customer.Address, customer.CreditLimit))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, customer.ID)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT true FROM customers WHERE id = $1 FOR UPDATE`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
			}
			return err
		}
		var referenced bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE customer_id = $1)`, id).Scan(&referenced); err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: customer %s has sales", store.ErrInUse, id)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
		return err
	})
}
