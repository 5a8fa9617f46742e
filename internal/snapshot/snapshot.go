// Package snapshot stores collections as opaque keyed blobs after each
// committed change.
package snapshot

import "context"

// Collection keys. One blob per collection.
const (
	KeyProducts       = "products"
	KeyCustomers      = "customers"
	KeySales          = "sales"
	KeyStockLogs      = "stock_logs"
	KeyTransactions   = "transactions"
	KeySuppliers      = "suppliers"
	KeyPurchaseOrders = "purchase_orders"
	KeyAuditLogs      = "audit_logs"
	KeyUsers          = "users"
)

var AllKeys = []string{
	KeyProducts, KeyCustomers, KeySales, KeyStockLogs, KeyTransactions,
	KeySuppliers, KeyPurchaseOrders, KeyAuditLogs, KeyUsers,
}

type Persister interface {
	Save(ctx context.Context, key string, payload []byte) error
	Load(ctx context.Context, key string) ([]byte, bool, error)
}

type NoopPersister struct{}

func (NoopPersister) Save(_ context.Context, _ string, _ []byte) error {
	return nil
}

func (NoopPersister) Load(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}
