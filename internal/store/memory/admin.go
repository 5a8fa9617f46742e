package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/snapshot"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.unlock(ctx)

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	s.persist(ctx, snapshot.KeyAuditLogs)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return limitSlice(result, limit), nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.unlock(ctx)

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.Level < 1 {
		user.Level = 1
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	s.persist(ctx, snapshot.KeyUsers)
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedValues(s.usersByUsername, func(u domain.UserAccount) string { return u.Username }), nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.unlock(ctx)

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	s.persist(ctx, snapshot.KeyUsers)
	return nil
}

// Export copies every business collection. Staff accounts are left out.
func (s *Store) Export(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.SaleRecord, 0, len(s.sales))
	for _, sale := range s.sales {
		sales = append(sales, cloneSale(sale))
	}
	orders := sortedValues(s.purchaseOrders, func(po domain.PurchaseOrder) string { return po.ID })
	for i := range orders {
		orders[i] = clonePurchaseOrder(orders[i])
	}
	return domain.Snapshot{
		Products:       sortedValues(s.products, func(p domain.Product) string { return p.ID }),
		Customers:      sortedValues(s.customers, func(c domain.Customer) string { return c.ID }),
		Sales:          sales,
		StockLogs:      slices.Clone(s.stockLogs),
		Transactions:   slices.Clone(s.transactions),
		Suppliers:      sortedValues(s.suppliers, func(v domain.Supplier) string { return v.ID }),
		PurchaseOrders: orders,
		AuditLogs:      slices.Clone(s.auditLogs),
	}, nil
}

// Restore replaces every business collection with the snapshot. Nothing is
// merged with the current state.
func (s *Store) Restore(ctx context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.unlock(ctx)

	s.products = indexBy(snap.Products, func(p domain.Product) string { return p.ID })
	s.customers = indexBy(snap.Customers, func(c domain.Customer) string { return c.ID })
	sales := make([]domain.SaleRecord, 0, len(snap.Sales))
	for _, sale := range snap.Sales {
		sales = append(sales, cloneSale(sale))
	}
	slices.SortStableFunc(sales, func(a, b domain.SaleRecord) int { return a.Date.Compare(b.Date) })
	s.setSales(sales)
	s.stockLogs = slices.Clone(snap.StockLogs)
	s.transactions = slices.Clone(snap.Transactions)
	s.suppliers = indexBy(snap.Suppliers, func(v domain.Supplier) string { return v.ID })
	s.purchaseOrders = indexBy(snap.PurchaseOrders, func(po domain.PurchaseOrder) string { return po.ID })
	s.auditLogs = slices.Clone(snap.AuditLogs)

	s.persist(ctx, snapshot.KeyProducts, snapshot.KeyCustomers, snapshot.KeySales, snapshot.KeyStockLogs,
		snapshot.KeyTransactions, snapshot.KeySuppliers, snapshot.KeyPurchaseOrders, snapshot.KeyAuditLogs)
	return nil
}
