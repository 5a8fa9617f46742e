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

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Supplier{}, store.ErrInvalidTransaction
	}
	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:          xid.New("sup"),
		Name:        name,
		Phone:       strings.TrimSpace(req.Phone),
		Address:     strings.TrimSpace(req.Address),
		ContactName: strings.TrimSpace(req.ContactName),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", created.ID, "name="+created.Name)
	return *created, nil
}

// CreatePurchaseOrder prices an order against the current catalog. Stock only
// moves when the order is received.
func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	supplier, err := s.repo.GetSupplier(ctx, strings.TrimSpace(req.SupplierID))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	products := make(map[string]domain.Product, len(req.Items))
	for _, item := range req.Items {
		id := strings.TrimSpace(item.ProductID)
		if _, seen := products[id]; seen {
			continue
		}
		product, err := s.repo.GetProduct(ctx, id)
		if err != nil {
			return domain.PurchaseOrder{}, err
		}
		products[id] = *product
	}

	cmd := s.command(ctx)
	po, err := ledger.BuildPurchaseOrder(xid.New("po"), *supplier, products, req, cmd.Actor, cmd.At)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	created, err := s.repo.CreatePurchaseOrder(ctx, po)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.logAudit(ctx, "po_create", "purchase_order", created.ID,
		fmt.Sprintf("supplier=%s,items=%d,total=%d", created.SupplierID, len(created.Items), created.Total))
	return *created, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	return s.repo.ListPurchaseOrders(ctx, status, limit)
}

// ReceivePurchaseOrder books the ordered quantities into stock and folds the
// order cost into each product's weighted cost price.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.repo.ReceivePurchaseOrder(ctx, store.PurchaseOrderCommand{
		Command: s.command(ctx),
		OrderID: strings.TrimSpace(id),
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.logAudit(ctx, "po_receive", "purchase_order", po.ID, fmt.Sprintf("items=%d,total=%d", len(po.Items), po.Total))
	return *po, nil
}

func (s *Service) CancelPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.repo.CancelPurchaseOrder(ctx, store.PurchaseOrderCommand{
		Command: s.command(ctx),
		OrderID: strings.TrimSpace(id),
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.logAudit(ctx, "po_cancel", "purchase_order", po.ID, "")
	return *po, nil
}

func (s *Service) PayPurchaseOrder(ctx context.Context, id string, req domain.PurchasePaymentRequest) (domain.PurchaseOrder, domain.PaymentTransaction, error) {
	po, tx, err := s.repo.PayPurchaseOrder(ctx, store.PurchasePaymentCommand{
		Command: s.command(ctx),
		OrderID: strings.TrimSpace(id),
		Amount:  req.Amount,
		Method:  req.Method,
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		return domain.PurchaseOrder{}, domain.PaymentTransaction{}, err
	}
	s.logAudit(ctx, "po_pay", "purchase_order", po.ID,
		fmt.Sprintf("amount=%d,paid=%d/%d,status=%s", req.Amount, po.PaidAmount, po.Total, po.PaymentStatus))
	return *po, *tx, nil
}
