package memory

import (
	"context"
	"fmt"
	"slices"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/snapshot"
	"materialpos/backend/internal/store"
)

// CreateSale commits a checkout. A repeated idempotency key returns the sale
// it first created and reports it as a duplicate.
func (s *Store) CreateSale(ctx context.Context, cmd store.CheckoutCommand) (*domain.SaleRecord, bool, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	if key := cmd.Request.IdempotencyKey; key != "" {
		if saleID, ok := s.salesByIdem[key]; ok {
			existing := cloneSale(s.sales[s.salesByID[saleID]])
			return &existing, true, nil
		}
	}

	products := make(map[string]domain.Product)
	for _, id := range ledger.CheckoutProductIDs(cmd.Request) {
		if p, ok := s.products[id]; ok {
			products[id] = p
		}
	}

	var customer *domain.Customer
	var debt int64
	if customerID := ledger.NormalizeCustomerID(cmd.Request.CustomerID); customerID != domain.GeneralCustomerID {
		c, ok := s.customers[customerID]
		if !ok {
			return nil, false, fmt.Errorf("%w: customer %s", store.ErrNotFound, customerID)
		}
		customer = &c
		debt = ledger.CurrentDebt(customerID, s.sales)
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
		return nil, false, err
	}
	if _, exists := s.salesByID[res.Sale.ID]; exists {
		return nil, false, fmt.Errorf("%w: sale %s exists", store.ErrInvalidTransaction, res.Sale.ID)
	}

	for _, p := range res.Products {
		s.products[p.ID] = p
	}
	s.stockLogs = append(s.stockLogs, res.StockLogs...)
	s.transactions = append(s.transactions, res.Transactions...)
	s.sales = append(s.sales, res.Sale)
	s.salesByID[res.Sale.ID] = len(s.sales) - 1
	if res.Sale.IdempotencyKey != "" {
		s.salesByIdem[res.Sale.IdempotencyKey] = res.Sale.ID
	}
	s.persist(ctx, snapshot.KeyProducts, snapshot.KeyStockLogs, snapshot.KeyTransactions, snapshot.KeySales)

	created := cloneSale(res.Sale)
	return &created, false, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.salesByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSaleNotFound, id)
	}
	sale := cloneSale(s.sales[idx])
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleRecord, 0, 64)
	for _, sale := range s.sales {
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && sale.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.Date.Before(filter.To) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.SaleRecord) int {
		return newestFirst(a.Date, b.Date, a.ID, b.ID)
	})
	return limitSlice(result, filter.Limit), nil
}

func (s *Store) VoidSale(ctx context.Context, cmd store.VoidCommand) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	idx, ok := s.salesByID[cmd.SaleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSaleNotFound, cmd.SaleID)
	}
	sale := s.sales[idx]
	res, err := ledger.BuildVoid(ledger.VoidInput{
		Sale:         sale,
		Products:     s.productsFor(ledger.SaleProductIDs(sale)),
		Reason:       cmd.Reason,
		AuthorizedBy: cmd.AuthorizedBy,
		Actor:        cmd.Actor,
		At:           cmd.At,
	})
	if err != nil {
		return nil, err
	}
	s.applyReversal(ctx, idx, res)
	voided := cloneSale(res.Sale)
	return &voided, nil
}

func (s *Store) ReturnItems(ctx context.Context, cmd store.ReturnCommand) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	idx, ok := s.salesByID[cmd.SaleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSaleNotFound, cmd.SaleID)
	}
	sale := s.sales[idx]
	res, err := ledger.BuildReturn(ledger.ReturnInput{
		Sale:     sale,
		Products: s.productsFor(ledger.ReturnProductIDs(sale, cmd.Lines)),
		Lines:    cmd.Lines,
		Note:     cmd.Note,
		Actor:    cmd.Actor,
		At:       cmd.At,
	})
	if err != nil {
		return nil, err
	}
	s.applyReversal(ctx, idx, res)
	updated := cloneSale(res.Sale)
	return &updated, nil
}

func (s *Store) applyReversal(ctx context.Context, idx int, res ledger.ReversalResult) {
	for _, p := range res.Products {
		s.products[p.ID] = p
	}
	s.stockLogs = append(s.stockLogs, res.StockLogs...)
	s.transactions = append(s.transactions, res.Transactions...)
	s.sales[idx] = res.Sale
	s.persist(ctx, snapshot.KeyProducts, snapshot.KeyStockLogs, snapshot.KeyTransactions, snapshot.KeySales)
}

func (s *Store) productsFor(ids []string) map[string]domain.Product {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out
}

func (s *Store) SettleDebt(ctx context.Context, cmd store.SettleCommand) (*domain.SettlementResult, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	if _, ok := s.customers[cmd.CustomerID]; !ok && cmd.CustomerID != domain.GeneralCustomerID {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, cmd.CustomerID)
	}
	res, err := ledger.BuildSettlement(ledger.SettlementInput{
		CustomerID: cmd.CustomerID,
		Sales:      s.sales,
		Amount:     cmd.Amount,
		Method:     cmd.Method,
		Note:       cmd.Note,
		Actor:      cmd.Actor,
		At:         cmd.At,
	})
	if err != nil {
		return nil, err
	}
	return s.applySettlement(ctx, res), nil
}

func (s *Store) SettleSale(ctx context.Context, cmd store.SettleCommand) (*domain.SettlementResult, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	idx, ok := s.salesByID[cmd.SaleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSaleNotFound, cmd.SaleID)
	}
	res, err := ledger.BuildSingleSettlement(ledger.SingleSettlementInput{
		Sale:   s.sales[idx],
		Amount: cmd.Amount,
		Method: cmd.Method,
		Note:   cmd.Note,
		Actor:  cmd.Actor,
		At:     cmd.At,
	})
	if err != nil {
		return nil, err
	}
	return s.applySettlement(ctx, res), nil
}

func (s *Store) applySettlement(ctx context.Context, res ledger.SettlementResult) *domain.SettlementResult {
	for _, sale := range res.Sales {
		s.sales[s.salesByID[sale.ID]] = sale
	}
	s.transactions = append(s.transactions, res.Transaction)
	s.persist(ctx, snapshot.KeySales, snapshot.KeyTransactions)
	return &domain.SettlementResult{Allocations: res.Allocations, Transaction: res.Transaction}
}

func (s *Store) RecordTransaction(ctx context.Context, tx domain.PaymentTransaction) error {
	s.mu.Lock()
	defer s.unlock(ctx)

	if tx.ID == "" || tx.Amount <= 0 || tx.Type == "" {
		return store.ErrInvalidTransaction
	}
	s.transactions = append(s.transactions, tx)
	s.persist(ctx, snapshot.KeyTransactions)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PaymentTransaction, 0, 64)
	for _, tx := range s.transactions {
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && tx.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !tx.Date.Before(filter.To) {
			continue
		}
		result = append(result, tx)
	}
	slices.SortFunc(result, func(a, b domain.PaymentTransaction) int {
		return newestFirst(a.Date, b.Date, a.ID, b.ID)
	})
	return limitSlice(result, filter.Limit), nil
}
