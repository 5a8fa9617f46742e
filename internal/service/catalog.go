package service

import (
	"context"
	"fmt"
	"strings"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// CreateProduct adds a catalog entry. Opening stock is recorded as a RESTOCK
// log so the stock history replays to the stored level.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Name == "" || req.Unit == "" || req.Price < 0 || req.CostPrice < 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.IsCustom && req.InitialStock > 0 {
		return domain.Product{}, fmt.Errorf("%w: custom products carry no stock", store.ErrInvalidTransaction)
	}

	cmd := s.command(ctx)
	product := domain.Product{
		ID:             xid.New("prd"),
		Barcode:        req.Barcode,
		Name:           req.Name,
		Unit:           req.Unit,
		Price:          req.Price,
		WholesalePrice: req.WholesalePrice,
		CostPrice:      req.CostPrice,
		Category:       strings.TrimSpace(req.Category),
		Stock:          req.InitialStock,
		IsCustom:       req.IsCustom,
		CreatedAt:      cmd.At,
		UpdatedAt:      cmd.At,
	}
	created, err := s.repo.CreateProduct(ctx, product, ledger.InitialStockLog(product, cmd.Actor, cmd.At))
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.Price, created.Stock))
	return *created, nil
}

// UpdateProduct edits catalog fields. Stock is never touched here.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Name = name
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Unit = unit
	}
	if req.Price != nil {
		updated.Price = *req.Price
	}
	if req.WholesalePrice != nil {
		updated.WholesalePrice = *req.WholesalePrice
	}
	if req.CostPrice != nil {
		updated.CostPrice = *req.CostPrice
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if updated.Price < 0 || updated.WholesalePrice < 0 || updated.CostPrice < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	detail := fmt.Sprintf("price=%d,cost=%d", saved.Price, saved.CostPrice)
	if existing.Price != saved.Price {
		detail = fmt.Sprintf("price %d->%d,cost=%d", existing.Price, saved.Price, saved.CostPrice)
	}
	s.logAudit(ctx, "product_update", "product", saved.ID, detail)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", id, "")
	return nil
}

// AdjustStock applies a manual restock or correction. A supplier on a
// positive delta is recorded as the source of the delivery.
func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.AdjustStockRequest) (domain.Product, error) {
	cmd := store.AdjustStockCommand{
		Command:   s.command(ctx),
		ProductID: strings.TrimSpace(productID),
		Delta:     req.Delta,
		Note:      strings.TrimSpace(req.Note),
	}
	if supplierID := strings.TrimSpace(req.SupplierID); supplierID != "" {
		if req.Delta < 0 {
			return domain.Product{}, fmt.Errorf("%w: a supplier applies to restocks only", store.ErrInvalidTransaction)
		}
		supplier, err := s.repo.GetSupplier(ctx, supplierID)
		if err != nil {
			return domain.Product{}, err
		}
		cmd.RefID = supplier.ID
		if cmd.Note == "" {
			cmd.Note = "restock from " + supplier.Name
		}
	}

	product, err := s.repo.AdjustStock(ctx, cmd)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "stock_adjust", "product", product.ID, fmt.Sprintf("delta=%d,stock=%d,note=%s", req.Delta, product.Stock, cmd.Note))
	return *product, nil
}

func (s *Service) ListStockLogs(ctx context.Context, productID string, limit int) ([]domain.StockLog, error) {
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListStockLogs(ctx, strings.TrimSpace(productID), limit)
}
