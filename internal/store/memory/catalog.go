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

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initial *domain.StockLog) (*domain.Product, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	if product.ID == "" || product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s exists", store.ErrInvalidTransaction, product.ID)
	}
	if product.Barcode != "" && s.barcodeTaken(product.Barcode, "") {
		return nil, fmt.Errorf("%w: barcode %s is in use", store.ErrInvalidTransaction, product.Barcode)
	}

	s.products[product.ID] = product
	keys := []string{snapshot.KeyProducts}
	if initial != nil {
		s.stockLogs = append(s.stockLogs, *initial)
		keys = append(keys, snapshot.KeyStockLogs)
	}
	s.persist(ctx, keys...)
	return &product, nil
}

// UpdateProduct replaces catalog fields. Stock always keeps its stored value.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	current, exists := s.products[product.ID]
	if !exists {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, product.ID)
	}
	if product.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.Barcode != "" && s.barcodeTaken(product.Barcode, product.ID) {
		return nil, fmt.Errorf("%w: barcode %s is in use", store.ErrInvalidTransaction, product.Barcode)
	}
	product.Stock = current.Stock
	product.IsCustom = current.IsCustom
	product.CreatedAt = current.CreatedAt
	s.products[product.ID] = product
	s.persist(ctx, snapshot.KeyProducts)
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.unlock(ctx)

	if _, exists := s.products[id]; !exists {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	for _, sale := range s.sales {
		for _, item := range sale.Items {
			if item.ProductID == id {
				return fmt.Errorf("%w: product %s is on sale %s", store.ErrInUse, id, sale.ID)
			}
		}
	}
	for _, po := range s.purchaseOrders {
		for _, item := range po.Items {
			if item.ProductID == id {
				return fmt.Errorf("%w: product %s is on purchase order %s", store.ErrInUse, id, po.ID)
			}
		}
	}
	delete(s.products, id)
	s.persist(ctx, snapshot.KeyProducts)
	return nil
}

func (s *Store) barcodeTaken(barcode string, exceptID string) bool {
	for _, p := range s.products {
		if p.Barcode == barcode && p.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *Store) AdjustStock(ctx context.Context, cmd store.AdjustStockCommand) (*domain.Product, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	product, exists := s.products[cmd.ProductID]
	if !exists {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, cmd.ProductID)
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
		return nil, err
	}
	s.products[res.Product.ID] = res.Product
	s.stockLogs = append(s.stockLogs, res.Log)
	s.persist(ctx, snapshot.KeyProducts, snapshot.KeyStockLogs)
	updated := res.Product
	return &updated, nil
}

func (s *Store) ListStockLogs(_ context.Context, productID string, limit int) ([]domain.StockLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockLog, 0, 64)
	for i := len(s.stockLogs) - 1; i >= 0; i-- {
		entry := s.stockLogs[i]
		if productID != "" && entry.ProductID != productID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	if customer.ID == "" || customer.Name == "" || customer.CreditLimit < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, fmt.Errorf("%w: customer %s exists", store.ErrInvalidTransaction, customer.ID)
	}
	s.customers[customer.ID] = customer
	s.persist(ctx, snapshot.KeyCustomers)
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	current, exists := s.customers[customer.ID]
	if !exists {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, customer.ID)
	}
	if customer.Name == "" || customer.CreditLimit < 0 {
		return nil, store.ErrInvalidTransaction
	}
	customer.CreatedAt = current.CreatedAt
	s.customers[customer.ID] = customer
	s.persist(ctx, snapshot.KeyCustomers)
	return &customer, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.unlock(ctx)

	if _, exists := s.customers[id]; !exists {
		return fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
	}
	for _, sale := range s.sales {
		if sale.CustomerID == id {
			return fmt.Errorf("%w: customer %s has sale %s", store.ErrInUse, id, sale.ID)
		}
	}
	delete(s.customers, id)
	s.persist(ctx, snapshot.KeyCustomers)
	return nil
}
