package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/snapshot"
	"materialpos/backend/internal/store"
)

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.ID == "" || supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.suppliers[supplier.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	s.suppliers[supplier.ID] = supplier
	s.persist(ctx, snapshot.KeySuppliers)
	return &supplier, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliers[id]
	if !exists {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	if po.ID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.suppliers[po.SupplierID]; !exists {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.SupplierID)
	}
	for _, item := range po.Items {
		if _, exists := s.products[item.ProductID]; !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
	}
	if _, exists := s.purchaseOrders[po.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	s.purchaseOrders[po.ID] = clonePurchaseOrder(po)
	s.persist(ctx, snapshot.KeyPurchaseOrders)
	created := clonePurchaseOrder(po)
	return &created, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, exists := s.purchaseOrders[id]
	if !exists {
		return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, id)
	}
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToUpper(strings.TrimSpace(status))
	result := make([]domain.PurchaseOrder, 0, len(s.purchaseOrders))
	for _, po := range s.purchaseOrders {
		if status != "" && po.Status != status {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		return newestFirst(a.Date, b.Date, a.ID, b.ID)
	})
	return limitSlice(result, limit), nil
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, cmd store.PurchaseOrderCommand) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	po, exists := s.purchaseOrders[cmd.OrderID]
	if !exists {
		return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, cmd.OrderID)
	}
	res, err := ledger.BuildReceipt(po, s.productsFor(ledger.PurchaseProductIDs(po)), cmd.Actor, cmd.At)
	if err != nil {
		return nil, err
	}
	for _, p := range res.Products {
		s.products[p.ID] = p
	}
	s.stockLogs = append(s.stockLogs, res.StockLogs...)
	s.purchaseOrders[po.ID] = res.Order
	s.persist(ctx, snapshot.KeyProducts, snapshot.KeyStockLogs, snapshot.KeyPurchaseOrders)
	out := clonePurchaseOrder(res.Order)
	return &out, nil
}

func (s *Store) CancelPurchaseOrder(ctx context.Context, cmd store.PurchaseOrderCommand) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	po, exists := s.purchaseOrders[cmd.OrderID]
	if !exists {
		return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, cmd.OrderID)
	}
	cancelled, err := ledger.BuildCancel(po)
	if err != nil {
		return nil, err
	}
	s.purchaseOrders[po.ID] = cancelled
	s.persist(ctx, snapshot.KeyPurchaseOrders)
	out := clonePurchaseOrder(cancelled)
	return &out, nil
}

func (s *Store) PayPurchaseOrder(ctx context.Context, cmd store.PurchasePaymentCommand) (*domain.PurchaseOrder, *domain.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	po, exists := s.purchaseOrders[cmd.OrderID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, cmd.OrderID)
	}
	paid, tx, err := ledger.BuildPurchasePayment(po, cmd.Amount, cmd.Method, cmd.Note, cmd.Actor, cmd.At)
	if err != nil {
		return nil, nil, err
	}
	s.purchaseOrders[po.ID] = paid
	s.transactions = append(s.transactions, tx)
	s.persist(ctx, snapshot.KeyPurchaseOrders, snapshot.KeyTransactions)
	out := clonePurchaseOrder(paid)
	return &out, &tx, nil
}
