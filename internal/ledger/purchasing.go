package ledger

import (
	"fmt"
	"strings"
	"time"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/money"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

// BuildPurchaseOrder prices a new order against the supplier and catalog.
func BuildPurchaseOrder(id string, supplier domain.Supplier, products map[string]domain.Product, req domain.PurchaseOrderCreateRequest, actor domain.Actor, at time.Time) (domain.PurchaseOrder, error) {
	if len(req.Items) == 0 {
		return domain.PurchaseOrder{}, fmt.Errorf("%w: purchase order has no items", store.ErrInvalidTransaction)
	}
	po := domain.PurchaseOrder{
		ID:            id,
		SupplierID:    supplier.ID,
		SupplierName:  supplier.Name,
		Date:          at,
		Status:        domain.POStatusOrdered,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Note:          strings.TrimSpace(req.Note),
		CreatedBy:     actor.Username,
	}
	for _, item := range req.Items {
		product, ok := products[strings.TrimSpace(item.ProductID)]
		if !ok {
			return domain.PurchaseOrder{}, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if product.IsCustom {
			return domain.PurchaseOrder{}, fmt.Errorf("%w: custom product %s cannot be purchased", store.ErrInvalidTransaction, product.ID)
		}
		if item.Quantity < 1 || item.Cost < 0 {
			return domain.PurchaseOrder{}, fmt.Errorf("%w: %s needs quantity >= 1 and cost >= 0", store.ErrInvalidTransaction, product.ID)
		}
		value, ok := money.LineTotal(item.Cost, item.Quantity)
		if ok {
			po.Total, ok = money.AddBounded(po.Total, value)
		}
		if !ok {
			return domain.PurchaseOrder{}, fmt.Errorf("%w: %s amount is out of range", store.ErrInvalidTransaction, product.ID)
		}
		po.Items = append(po.Items, domain.PurchaseOrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			Cost:        item.Cost,
		})
	}
	if po.Total == 0 {
		po.PaymentStatus = domain.PaymentStatusPaid
	}
	return po, nil
}

func PurchaseProductIDs(po domain.PurchaseOrder) []string {
	ids := make([]string, 0, len(po.Items))
	for _, item := range po.Items {
		ids = append(ids, item.ProductID)
	}
	return SortedIDs(ids)
}

type ReceiptResult struct {
	Order     domain.PurchaseOrder
	Products  []domain.Product
	StockLogs []domain.StockLog
}

// BuildReceipt books an ordered purchase into stock and moves each product's
// cost to the weighted average of what was on hand and what arrived.
func BuildReceipt(po domain.PurchaseOrder, products map[string]domain.Product, actor domain.Actor, at time.Time) (ReceiptResult, error) {
	if po.Status != domain.POStatusOrdered {
		return ReceiptResult{}, fmt.Errorf("%w: purchase order %s is %s", store.ErrInvalidTransaction, po.ID, po.Status)
	}
	current := cloneProducts(products)
	touched := map[string]bool{}
	var logs []domain.StockLog
	for _, item := range po.Items {
		product, ok := current[item.ProductID]
		if !ok {
			return ReceiptResult{}, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		cost := money.WeightedCost(product.CostPrice, product.Stock, item.Cost, item.Quantity)
		updated, entry, err := moveStock(product, item.Quantity, domain.StockLogPurchase, "received from "+po.SupplierName, po.ID, actor, at)
		if err != nil {
			return ReceiptResult{}, err
		}
		updated.CostPrice = cost
		current[item.ProductID] = updated
		touched[item.ProductID] = true
		logs = append(logs, entry)
	}

	order := po
	order.Items = append([]domain.PurchaseOrderItem(nil), po.Items...)
	order.Status = domain.POStatusReceived
	order.ReceivedAt = &at
	order.ReceivedBy = actor.Username
	return ReceiptResult{Order: order, Products: sortedProducts(current, touched), StockLogs: logs}, nil
}

// BuildCancel closes an order that was never received.
func BuildCancel(po domain.PurchaseOrder) (domain.PurchaseOrder, error) {
	if po.Status != domain.POStatusOrdered {
		return domain.PurchaseOrder{}, fmt.Errorf("%w: purchase order %s is %s", store.ErrInvalidTransaction, po.ID, po.Status)
	}
	if po.PaidAmount > 0 {
		return domain.PurchaseOrder{}, fmt.Errorf("%w: purchase order %s has payments", store.ErrInvalidTransaction, po.ID)
	}
	po.Status = domain.POStatusCancelled
	return po, nil
}

// BuildPurchasePayment pays part or all of an order's outstanding amount.
func BuildPurchasePayment(po domain.PurchaseOrder, amount int64, method, note string, actor domain.Actor, at time.Time) (domain.PurchaseOrder, domain.PaymentTransaction, error) {
	method, err := settlementMethod(amount, method)
	if err != nil {
		return domain.PurchaseOrder{}, domain.PaymentTransaction{}, err
	}
	if po.Status == domain.POStatusCancelled {
		return domain.PurchaseOrder{}, domain.PaymentTransaction{}, fmt.Errorf("%w: purchase order %s is cancelled", store.ErrInvalidTransaction, po.ID)
	}
	if due := po.Total - po.PaidAmount; amount > due {
		return domain.PurchaseOrder{}, domain.PaymentTransaction{}, fmt.Errorf("%w: paying %d against %d due", store.ErrOverpaymentNotAllowed, amount, due)
	}
	po.PaidAmount += amount
	po.PaymentStatus = PaymentStatus(po.PaidAmount, po.Total, "")
	tx := domain.PaymentTransaction{
		ID:          xid.New("ptx"),
		Date:        at,
		Amount:      amount,
		Type:        domain.TxTypePurchasePayment,
		Method:      method,
		ReferenceID: po.ID,
		Note:        strings.TrimSpace(note),
		PerformedBy: actor.Username,
	}
	return po, tx, nil
}
