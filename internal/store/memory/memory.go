package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/snapshot"
)

// Store keeps every collection in memory behind one lock. Each command is
// validated and applied while the write lock is held, then the touched
// collections are handed to the persister.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	customers       map[string]domain.Customer
	sales           []domain.SaleRecord
	salesByID       map[string]int
	salesByIdem     map[string]string
	stockLogs       []domain.StockLog
	transactions    []domain.PaymentTransaction
	suppliers       map[string]domain.Supplier
	purchaseOrders  map[string]domain.PurchaseOrder
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	persister snapshot.Persister
	log       *zap.Logger

	// version and pending are guarded by mu.
	version uint64
	pending []pendingSave
	// persistMu orders saves; saved holds the last version written per key.
	persistMu sync.Mutex
	saved     map[string]uint64
}

type pendingSave struct {
	key     string
	version uint64
	payload []byte
}

type Option func(*Store)

func WithPersister(p snapshot.Persister) Option {
	return func(s *Store) {
		if p != nil {
			s.persister = p
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		products:        make(map[string]domain.Product),
		customers:       make(map[string]domain.Customer),
		salesByID:       make(map[string]int),
		salesByIdem:     make(map[string]string),
		suppliers:       make(map[string]domain.Supplier),
		purchaseOrders:  make(map[string]domain.PurchaseOrder),
		usersByUsername: make(map[string]domain.UserAccount),
		persister:       snapshot.NoopPersister{},
		log:             zap.NewNop(),
		saved:           make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeeded returns a store with a demo catalog, the walk-in customer and
// staff accounts for local development.
func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	now := time.Now().UTC()
	system := domain.Actor{Username: "system"}

	products := []domain.Product{
		{ID: "prd-cement-50", Barcode: "8991000000011", Name: "Portland Cement 50kg", Unit: "sack", Price: 95000, WholesalePrice: 90000, CostPrice: 78000, Category: "cement", Stock: 200},
		{ID: "prd-rebar-10", Barcode: "8991000000028", Name: "Rebar 10mm x 12m", Unit: "bar", Price: 68000, WholesalePrice: 64000, CostPrice: 55000, Category: "steel", Stock: 150},
		{ID: "prd-sand-m3", Name: "River Sand", Unit: "m3", Price: 250000, CostPrice: 180000, Category: "aggregate", Stock: 40},
		{ID: "prd-brick-red", Name: "Red Brick", Unit: "pcs", Price: 1200, WholesalePrice: 1000, CostPrice: 800, Category: "masonry", Stock: 5000},
		{ID: "prd-paint-5l", Barcode: "8991000000035", Name: "Wall Paint White 5L", Unit: "can", Price: 185000, CostPrice: 140000, Category: "paint", Stock: 60},
		{ID: "prd-pvc-3in", Name: "PVC Pipe 3in x 4m", Unit: "pcs", Price: 72000, CostPrice: 52000, Category: "plumbing", Stock: 80},
		{ID: "prd-labor", Name: "Labor Fee", Unit: "job", Price: 0, Category: "service", IsCustom: true},
	}
	for _, p := range products {
		p.CreatedAt, p.UpdatedAt = now, now
		s.products[p.ID] = p
		if entry := ledger.InitialStockLog(p, system, now); entry != nil {
			s.stockLogs = append(s.stockLogs, *entry)
		}
	}

	for _, c := range []domain.Customer{
		{ID: domain.GeneralCustomerID, Name: "Walk-in", Type: domain.CustomerTypeGeneral},
		{ID: "cus-contractor-1", Name: "Somphone Construction", Phone: "+856 20 5555 0101", Type: domain.CustomerTypeContractor, Address: "Ban Phonxay, Vientiane", CreditLimit: 20_000_000},
		{ID: "cus-vip-1", Name: "Khamla Home Builder", Phone: "+856 20 5555 0202", Type: domain.CustomerTypeVIP, CreditLimit: 5_000_000},
	} {
		c.CreatedAt = now
		s.customers[c.ID] = c
	}

	s.suppliers["sup-cement"] = domain.Supplier{ID: "sup-cement", Name: "Lao Cement Co.", Phone: "+856 21 555 000", ContactName: "Mr. Vong", CreatedAt: now}
	s.usersByUsername = seedUsers(s.log)
	return s
}

// seedUsers builds the dev/demo staff accounts. Passwords come from
// SEED_OWNER_PASSWORD, SEED_SUPERVISOR_PASSWORD and SEED_CASHIER_PASSWORD
// with dev fallbacks.
func seedUsers(log *zap.Logger) map[string]domain.UserAccount {
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn("using default dev credentials; set SEED_OWNER_PASSWORD, SEED_SUPERVISOR_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
		level    int
	}{
		{"owner", "Store Owner", envOr("SEED_OWNER_PASSWORD", "owner123"), domain.RoleOwner, 3},
		{"supervisor", "Shift Supervisor", envOr("SEED_SUPERVISOR_PASSWORD", "supervisor123"), domain.RoleSupervisor, 2},
		{"cashier", "Front Cashier", envOr("SEED_CASHIER_PASSWORD", "cashier123"), domain.RoleCashier, 1},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Role:      u.role,
			Level:     u.level,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Hydrate replaces the in-memory state with whatever the persister holds.
// Collections the persister has never seen are left as they are.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap domain.Snapshot
	var users []domain.UserAccount
	targets := map[string]any{
		snapshot.KeyProducts:       &snap.Products,
		snapshot.KeyCustomers:      &snap.Customers,
		snapshot.KeySales:          &snap.Sales,
		snapshot.KeyStockLogs:      &snap.StockLogs,
		snapshot.KeyTransactions:   &snap.Transactions,
		snapshot.KeySuppliers:      &snap.Suppliers,
		snapshot.KeyPurchaseOrders: &snap.PurchaseOrders,
		snapshot.KeyAuditLogs:      &snap.AuditLogs,
		snapshot.KeyUsers:          &users,
	}
	found := map[string]bool{}
	for _, key := range snapshot.AllKeys {
		payload, ok, err := s.persister.Load(ctx, key)
		if err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, targets[key]); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		found[key] = true
	}

	if found[snapshot.KeyProducts] {
		s.products = indexBy(snap.Products, func(p domain.Product) string { return p.ID })
	}
	if found[snapshot.KeyCustomers] {
		s.customers = indexBy(snap.Customers, func(c domain.Customer) string { return c.ID })
	}
	if found[snapshot.KeySales] {
		s.setSales(snap.Sales)
	}
	if found[snapshot.KeyStockLogs] {
		s.stockLogs = snap.StockLogs
	}
	if found[snapshot.KeyTransactions] {
		s.transactions = snap.Transactions
	}
	if found[snapshot.KeySuppliers] {
		s.suppliers = indexBy(snap.Suppliers, func(v domain.Supplier) string { return v.ID })
	}
	if found[snapshot.KeyPurchaseOrders] {
		s.purchaseOrders = indexBy(snap.PurchaseOrders, func(po domain.PurchaseOrder) string { return po.ID })
	}
	if found[snapshot.KeyAuditLogs] {
		s.auditLogs = snap.AuditLogs
	}
	if found[snapshot.KeyUsers] {
		s.usersByUsername = indexBy(users, func(u domain.UserAccount) string { return u.Username })
	}
	s.log.Info("memory store hydrated", zap.Int("collections", len(found)))
	return nil
}

// persist encodes the named collections while the write lock is held, so
// the blobs reflect one committed state. They are saved by unlock once the
// lock is released.
func (s *Store) persist(_ context.Context, keys ...string) {
	for _, key := range keys {
		var value any
		switch key {
		case snapshot.KeyProducts:
			value = sortedValues(s.products, func(p domain.Product) string { return p.ID })
		case snapshot.KeyCustomers:
			value = sortedValues(s.customers, func(c domain.Customer) string { return c.ID })
		case snapshot.KeySales:
			value = s.sales
		case snapshot.KeyStockLogs:
			value = s.stockLogs
		case snapshot.KeyTransactions:
			value = s.transactions
		case snapshot.KeySuppliers:
			value = sortedValues(s.suppliers, func(v domain.Supplier) string { return v.ID })
		case snapshot.KeyPurchaseOrders:
			value = sortedValues(s.purchaseOrders, func(po domain.PurchaseOrder) string { return po.ID })
		case snapshot.KeyAuditLogs:
			value = s.auditLogs
		case snapshot.KeyUsers:
			value = sortedValues(s.usersByUsername, func(u domain.UserAccount) string { return u.Username })
		default:
			continue
		}
		payload, err := json.Marshal(value)
		if err != nil {
			s.log.Warn("encode collection failed", zap.String("collection", key), zap.Error(err))
			continue
		}
		s.version++
		s.pending = append(s.pending, pendingSave{key: key, version: s.version, payload: payload})
	}
}

// unlock releases the write lock and then saves what the command staged.
// Readers and other writers are not held up by the persister.
func (s *Store) unlock(ctx context.Context) {
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(batch) > 0 {
		s.save(ctx, batch)
	}
}

// save writes staged payloads in commit order per collection. A payload
// older than one already saved for the same key is skipped, so a slow
// save never overwrites a newer state. Failures are logged; the command
// has already been applied in memory.
func (s *Store) save(ctx context.Context, batch []pendingSave) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	for _, item := range batch {
		if s.saved[item.key] >= item.version {
			continue
		}
		if err := s.persister.Save(ctx, item.key, item.payload); err != nil {
			s.log.Warn("persist collection failed", zap.String("collection", item.key), zap.Error(err))
			continue
		}
		s.saved[item.key] = item.version
	}
}

func (s *Store) setSales(sales []domain.SaleRecord) {
	s.sales = sales
	s.salesByID = make(map[string]int, len(sales))
	s.salesByIdem = make(map[string]string)
	for i, sale := range sales {
		s.salesByID[sale.ID] = i
		if sale.IdempotencyKey != "" {
			s.salesByIdem[sale.IdempotencyKey] = sale.ID
		}
	}
}

func indexBy[T any](items []T, key func(T) string) map[string]T {
	out := make(map[string]T, len(items))
	for _, item := range items {
		out[key(item)] = item
	}
	return out
}

func sortedValues[T any](m map[string]T, key func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return strings.Compare(key(a), key(b)) })
	return out
}

// newestFirst orders by time descending, then id descending.
func newestFirst(at1, at2 time.Time, id1, id2 string) int {
	if c := at2.Compare(at1); c != 0 {
		return c
	}
	return strings.Compare(id2, id1)
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneSale(src domain.SaleRecord) domain.SaleRecord {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.Payments = slices.Clone(src.Payments)
	dup.Returns = slices.Clone(src.Returns)
	if src.Delivery != nil {
		d := *src.Delivery
		dup.Delivery = &d
	}
	if src.VoidedAt != nil {
		v := *src.VoidedAt
		dup.VoidedAt = &v
	}
	return dup
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	dup.Items = slices.Clone(src.Items)
	if src.ReceivedAt != nil {
		v := *src.ReceivedAt
		dup.ReceivedAt = &v
	}
	return dup
}
