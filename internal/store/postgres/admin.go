package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return insertAuditLogs(ctx, s.db, []domain.AuditLog{entry})
}

func insertAuditLogs(ctx context.Context, q queryer, entries []domain.AuditLog) error {
	for _, entry := range entries {
		_, err := q.ExecContext(ctx, `
			INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	c := conditions{}
	if !from.IsZero() {
		c.add("created_at >= $%d", from)
	}
	if !to.IsZero() {
		c.add("created_at < $%d", to)
	}
	query := `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs` + c.where() + ` ORDER BY created_at DESC, id DESC`
	query += c.limit(limit)
	return s.queryAuditLogs(ctx, query, c.args...)
}

func (s *Store) queryAuditLogs(ctx context.Context, query string, args ...any) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.Level < 1 {
		user.Level = 1
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, name, password, role, level, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,true,$6,now())
	`, user.Username, user.Name, user.Password, user.Role, user.Level, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, name, password, role, level, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Name, &user.Password, &user.Role, &user.Level, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Export reads every business collection. Staff accounts are left out.
func (s *Store) Export(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var err error

	if snap.Products, err = s.ListProducts(ctx); err != nil {
		return snap, err
	}
	if snap.Customers, err = s.ListCustomers(ctx); err != nil {
		return snap, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM sales ORDER BY sold_at, id`)
	if err != nil {
		return snap, err
	}
	if snap.Sales, err = collectSales(rows); err != nil {
		return snap, err
	}
	if snap.StockLogs, err = s.queryStockLogs(ctx, `SELECT `+stockLogColumns+` FROM stock_logs ORDER BY seq`); err != nil {
		return snap, err
	}
	if snap.Transactions, err = s.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM payment_transactions ORDER BY seq`); err != nil {
		return snap, err
	}
	if snap.Suppliers, err = s.ListSuppliers(ctx); err != nil {
		return snap, err
	}
	if snap.PurchaseOrders, err = s.queryPurchaseOrders(ctx, `SELECT record FROM purchase_orders ORDER BY ordered_at, id`); err != nil {
		return snap, err
	}
	snap.AuditLogs, err = s.queryAuditLogs(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs ORDER BY created_at, id`)
	return snap, err
}

// Restore replaces every business collection with the snapshot inside one
// transaction. Nothing is merged with the current state.
func (s *Store) Restore(ctx context.Context, snap domain.Snapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			TRUNCATE TABLE purchase_orders, suppliers, payment_transactions, stock_logs,
				sales, customers, products, audit_logs
		`)
		if err != nil {
			return err
		}

		for _, p := range snap.Products {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO products (
					id, barcode, name, unit, price, wholesale_price, cost_price,
					category, stock, is_custom, created_at, updated_at
				)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			`, p.ID, nullIfEmpty(p.Barcode), p.Name, p.Unit, p.Price, p.WholesalePrice, p.CostPrice,
				p.Category, p.Stock, p.IsCustom, p.CreatedAt, p.UpdatedAt)
			if err != nil {
				return err
			}
		}
		for _, c := range snap.Customers {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO customers (id, name, phone, type, address, credit_limit, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, c.ID, c.Name, c.Phone, c.Type, c.Address, c.CreditLimit, c.CreatedAt)
			if err != nil {
				return err
			}
		}
		for _, sale := range snap.Sales {
			if err := insertSale(ctx, tx, sale); err != nil {
				return err
			}
		}
		if err := insertStockLogs(ctx, tx, snap.StockLogs); err != nil {
			return err
		}
		if err := insertTransactions(ctx, tx, snap.Transactions); err != nil {
			return err
		}
		for _, v := range snap.Suppliers {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO suppliers (id, name, phone, address, contact_name, created_at)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, v.ID, v.Name, v.Phone, v.Address, v.ContactName, v.CreatedAt)
			if err != nil {
				return err
			}
		}
		for _, po := range snap.PurchaseOrders {
			if err := savePurchaseOrder(ctx, tx, po, true); err != nil {
				return err
			}
		}
		return insertAuditLogs(ctx, tx, snap.AuditLogs)
	})
}
