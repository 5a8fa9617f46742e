package ledger

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/money"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

type VoidInput struct {
	Sale         domain.SaleRecord
	Products     map[string]domain.Product
	Reason       string
	AuthorizedBy string
	Actor        domain.Actor
	At           time.Time
}

type ReversalResult struct {
	Sale         domain.SaleRecord
	Products     []domain.Product
	StockLogs    []domain.StockLog
	Transactions []domain.PaymentTransaction
}

// SaleProductIDs lists the stocked products on a sale, sorted.
func SaleProductIDs(sale domain.SaleRecord) []string {
	ids := make([]string, 0, len(sale.Items))
	for _, item := range sale.Items {
		if !item.IsCustom {
			ids = append(ids, item.ProductID)
		}
	}
	return SortedIDs(ids)
}

// BuildVoid reverses a completed sale. Stock comes back for what has not
// already been returned, and a refund is recorded for the money the sale
// still holds.
func BuildVoid(in VoidInput) (ReversalResult, error) {
	sale := cloneSale(in.Sale)
	if sale.Status == domain.SaleStatusVoided {
		return ReversalResult{}, fmt.Errorf("%w: %s", store.ErrAlreadyVoided, sale.ID)
	}

	products := cloneProducts(in.Products)
	touched := map[string]bool{}
	returned := ReturnedByLine(sale)
	var logs []domain.StockLog
	for _, item := range sale.Items {
		if item.IsCustom {
			continue
		}
		restore := item.Quantity - returned[item.LineID]
		if restore <= 0 {
			continue
		}
		product, ok := products[item.ProductID]
		if !ok {
			return ReversalResult{}, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		updated, entry, err := moveStock(product, restore, domain.StockLogVoid, strings.TrimSpace(in.Reason), sale.ID, in.Actor, in.At)
		if err != nil {
			return ReversalResult{}, err
		}
		products[item.ProductID] = updated
		touched[item.ProductID] = true
		logs = append(logs, entry)
	}

	at := in.At
	sale.Status = domain.SaleStatusVoided
	sale.VoidedAt = &at
	sale.VoidedBy = in.Actor.Username
	sale.VoidAuthorizedBy = in.AuthorizedBy
	sale.VoidReason = strings.TrimSpace(in.Reason)

	result := ReversalResult{
		Sale:      sale,
		Products:  sortedProducts(products, touched),
		StockLogs: logs,
	}
	if retained := Collected(sale) - CashRefunded(sale); retained > 0 {
		result.Transactions = append(result.Transactions, domain.PaymentTransaction{
			ID:          xid.New("ptx"),
			Date:        in.At,
			Amount:      retained,
			Type:        domain.TxTypeRefund,
			Method:      refundMethod(sale),
			ReferenceID: sale.ID,
			Note:        "void",
			PerformedBy: in.Actor.Username,
		})
	}
	return result, nil
}

type ReturnInput struct {
	Sale     domain.SaleRecord
	Products map[string]domain.Product
	Lines    []domain.ReturnLine
	Note     string
	Actor    domain.Actor
	At       time.Time
}

// ReturnProductIDs lists the stocked products a return request touches.
// Lines that do not resolve are skipped; BuildReturn reports them.
func ReturnProductIDs(sale domain.SaleRecord, lines []domain.ReturnLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if item, err := findLine(sale, line.ItemID); err == nil && !item.IsCustom {
			ids = append(ids, item.ProductID)
		}
	}
	return SortedIDs(ids)
}

// BuildReturn records a partial return. The sale totals stay as they were;
// the return lives in the sale's returns list and a refund transaction.
//
// A line is valued at its share of the discounted subtotal. That value first
// cancels whatever the sale still owes; only the rest is paid out, and never
// more than the sale collected.
func BuildReturn(in ReturnInput) (ReversalResult, error) {
	sale := cloneSale(in.Sale)
	if sale.Status == domain.SaleStatusVoided {
		return ReversalResult{}, fmt.Errorf("%w: %s", store.ErrAlreadyVoided, sale.ID)
	}
	if len(in.Lines) == 0 {
		return ReversalResult{}, fmt.Errorf("%w: nothing to return", store.ErrInvalidTransaction)
	}

	type request struct {
		item   domain.SaleItem
		qty    int
		amount int64
	}
	var order []string
	byLine := map[string]*request{}
	for _, line := range in.Lines {
		if line.Quantity < 1 {
			return ReversalResult{}, fmt.Errorf("%w: return quantity must be at least 1", store.ErrInvalidTransaction)
		}
		item, err := findLine(sale, line.ItemID)
		if err != nil {
			return ReversalResult{}, err
		}
		lineValue := money.Share(item.Price*int64(line.Quantity), sale.Subtotal-sale.Discount, sale.Subtotal)
		amount := lineValue
		if line.Amount != nil {
			amount = *line.Amount
		}
		if amount < 0 || amount > lineValue {
			return ReversalResult{}, fmt.Errorf("%w: refund for %s must be between 0 and %d", store.ErrInvalidTransaction, item.LineID, lineValue)
		}
		req, ok := byLine[item.LineID]
		if !ok {
			req = &request{item: item}
			byLine[item.LineID] = req
			order = append(order, item.LineID)
		}
		req.qty += line.Quantity
		req.amount += amount
	}

	returned := ReturnedByLine(sale)
	for _, lineID := range order {
		req := byLine[lineID]
		if available := req.item.Quantity - returned[lineID]; req.qty > available {
			return ReversalResult{}, fmt.Errorf("%w: %s has %d returnable, asked %d", store.ErrReturnExceedsAvailable, lineID, available, req.qty)
		}
	}

	owed := Balance(sale)
	note := strings.TrimSpace(in.Note)
	products := cloneProducts(in.Products)
	touched := map[string]bool{}
	var logs []domain.StockLog
	var refund int64
	for _, lineID := range order {
		req := byLine[lineID]
		if !req.item.IsCustom {
			product, ok := products[req.item.ProductID]
			if !ok {
				return ReversalResult{}, fmt.Errorf("%w: product %s", store.ErrNotFound, req.item.ProductID)
			}
			updated, entry, err := moveStock(product, req.qty, domain.StockLogReturn, note, sale.ID, in.Actor, in.At)
			if err != nil {
				return ReversalResult{}, err
			}
			products[req.item.ProductID] = updated
			touched[req.item.ProductID] = true
			logs = append(logs, entry)
		}
		credited := min(req.amount, owed)
		owed -= credited
		sale.Returns = append(sale.Returns, domain.SaleItemReturn{
			ID:          xid.New("ret"),
			ItemID:      lineID,
			ProductID:   req.item.ProductID,
			Quantity:    req.qty,
			Amount:      req.amount,
			CashRefund:  req.amount - credited,
			Date:        in.At,
			Reason:      note,
			ProcessedBy: in.Actor.Username,
		})
		refund += req.amount - credited
	}
	if refund > Collected(in.Sale)-CashRefunded(in.Sale) {
		return ReversalResult{}, fmt.Errorf("%w: refund %d exceeds the %d still held for sale %s", store.ErrInvalidTransaction, refund, Collected(in.Sale)-CashRefunded(in.Sale), sale.ID)
	}
	if Balance(sale) == 0 {
		sale.PaymentStatus = domain.PaymentStatusPaid
	}

	result := ReversalResult{
		Sale:      sale,
		Products:  sortedProducts(products, touched),
		StockLogs: logs,
	}
	if refund > 0 {
		result.Transactions = append(result.Transactions, domain.PaymentTransaction{
			ID:          xid.New("ptx"),
			Date:        in.At,
			Amount:      refund,
			Type:        domain.TxTypeRefund,
			Method:      refundMethod(sale),
			ReferenceID: sale.ID,
			Note:        note,
			PerformedBy: in.Actor.Username,
		})
	}
	return result, nil
}

// findLine matches a line id, or a product id that appears on exactly one line.
func findLine(sale domain.SaleRecord, itemID string) (domain.SaleItem, error) {
	itemID = strings.TrimSpace(itemID)
	var match *domain.SaleItem
	matches := 0
	for i := range sale.Items {
		item := &sale.Items[i]
		if item.LineID == itemID {
			return *item, nil
		}
		if item.ProductID != "" && item.ProductID == itemID {
			match = item
			matches++
		}
	}
	if matches == 1 {
		return *match, nil
	}
	if matches > 1 {
		return domain.SaleItem{}, fmt.Errorf("%w: product %s is on several lines, use the line id", store.ErrInvalidTransaction, itemID)
	}
	return domain.SaleItem{}, fmt.Errorf("%w: line %s on sale %s", store.ErrNotFound, itemID, sale.ID)
}

// refundMethod pays refunds back the way most of the money came in.
func refundMethod(sale domain.SaleRecord) string {
	if len(sale.Payments) == 0 {
		if sale.PaymentMethod == domain.MethodCredit {
			return domain.MethodCash
		}
		return sale.PaymentMethod
	}
	best := sale.Payments[0]
	for _, leg := range sale.Payments[1:] {
		if leg.Amount > best.Amount {
			best = leg
		}
	}
	return best.Method
}

func cloneSale(sale domain.SaleRecord) domain.SaleRecord {
	out := sale
	out.Items = slices.Clone(sale.Items)
	out.Payments = slices.Clone(sale.Payments)
	out.Returns = slices.Clone(sale.Returns)
	if sale.Delivery != nil {
		d := *sale.Delivery
		out.Delivery = &d
	}
	if sale.VoidedAt != nil {
		v := *sale.VoidedAt
		out.VoidedAt = &v
	}
	return out
}

func cloneProducts(in map[string]domain.Product) map[string]domain.Product {
	out := make(map[string]domain.Product, len(in))
	for id, p := range in {
		out[id] = p
	}
	return out
}
