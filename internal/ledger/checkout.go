package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/money"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

type CheckoutInput struct {
	SaleID  string
	Request domain.CheckoutRequest
	// Products holds every catalog product referenced by the cart, read
	// under the same lock the result will be written with.
	Products map[string]domain.Product
	// Customer is nil for the walk-in customer.
	Customer    *domain.Customer
	CurrentDebt int64
	Actor       domain.Actor
	At          time.Time
}

type CheckoutResult struct {
	Sale         domain.SaleRecord
	Products     []domain.Product
	StockLogs    []domain.StockLog
	Transactions []domain.PaymentTransaction
}

// CheckoutProductIDs lists the catalog products a cart touches, sorted.
func CheckoutProductIDs(req domain.CheckoutRequest) []string {
	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, strings.TrimSpace(item.ProductID))
	}
	return SortedIDs(ids)
}

// BuildCheckout validates a cart against the current catalog and customer
// debt and returns the sale with every ledger effect it implies. Nothing is
// returned on error.
func BuildCheckout(in CheckoutInput) (CheckoutResult, error) {
	req := in.Request
	if len(req.Items) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: cart is empty", store.ErrInvalidTransaction)
	}

	items, subtotal, profit, err := resolveLines(req.Items, in.Products)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := checkStock(items, in.Products); err != nil {
		return CheckoutResult{}, err
	}

	if req.Discount < 0 || req.Discount > subtotal {
		return CheckoutResult{}, fmt.Errorf("%w: discount must be between 0 and the subtotal", store.ErrInvalidTransaction)
	}
	for _, amount := range []int64{req.DeliveryFee, req.TaxAmount, req.ReceivedAmount, req.ChangeAmount} {
		if amount < 0 || amount > money.MaxAmount {
			return CheckoutResult{}, fmt.Errorf("%w: amounts must be between 0 and %d", store.ErrInvalidTransaction, money.MaxAmount)
		}
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 {
		return CheckoutResult{}, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrInvalidTransaction)
	}
	tax := req.TaxAmount
	if tax == 0 && req.TaxRatePercent > 0 {
		tax = money.TaxFromRate(subtotal-req.Discount, req.TaxRatePercent)
	}
	total := ExpectedTotal(subtotal, req.Discount, tax, req.DeliveryFee)
	if req.Subtotal != 0 && req.Subtotal != subtotal {
		return CheckoutResult{}, fmt.Errorf("%w: subtotal %d does not match cart (%d)", store.ErrInvalidTransaction, req.Subtotal, subtotal)
	}
	if req.Total != 0 && req.Total != total {
		return CheckoutResult{}, fmt.Errorf("%w: total %d does not match computed total (%d)", store.ErrInvalidTransaction, req.Total, total)
	}

	method, payments, received, err := resolvePayment(req)
	if err != nil {
		return CheckoutResult{}, err
	}
	change := received - total
	if change < 0 {
		change = 0
	}
	if req.ChangeAmount != 0 && req.ChangeAmount != change {
		return CheckoutResult{}, fmt.Errorf("%w: change %d does not match computed change (%d)", store.ErrInvalidTransaction, req.ChangeAmount, change)
	}
	paid := min(received, total)
	balanceDue := total - paid

	customerID, customerName := domain.GeneralCustomerID, "Walk-in"
	if in.Customer != nil && in.Customer.ID != domain.GeneralCustomerID {
		customerID, customerName = in.Customer.ID, in.Customer.Name
	}
	if method == domain.MethodCredit || balanceDue > 0 {
		if customerID == domain.GeneralCustomerID {
			if balanceDue > 0 {
				return CheckoutResult{}, fmt.Errorf("%w: balance due %d", store.ErrGeneralCustomerCreditNotAllowed, balanceDue)
			}
		} else if limit := in.Customer.CreditLimit; limit > 0 && in.CurrentDebt+balanceDue > limit {
			return CheckoutResult{}, fmt.Errorf("%w: debt %d + %d over limit %d", store.ErrCreditLimitExceeded, in.CurrentDebt, balanceDue, limit)
		}
	}

	delivery, err := checkDelivery(req.Delivery)
	if err != nil {
		return CheckoutResult{}, err
	}

	sale := domain.SaleRecord{
		ID:              in.SaleID,
		Date:            in.At,
		Items:           items,
		Subtotal:        subtotal,
		Discount:        req.Discount,
		TaxAmount:       tax,
		DeliveryFee:     req.DeliveryFee,
		Total:           total,
		Profit:          profit,
		PaymentMethod:   method,
		Payments:        payments,
		PaymentStatus:   PaymentStatus(received, total, method),
		ReceivedAmount:  received,
		ChangeAmount:    change,
		CustomerID:      customerID,
		CustomerName:    customerName,
		Delivery:        delivery,
		Status:          domain.SaleStatusCompleted,
		SalespersonID:   in.Actor.Username,
		SalespersonName: in.Actor.Name,
		ProjectRef:      strings.TrimSpace(req.ProjectRef),
		IdempotencyKey:  strings.TrimSpace(req.IdempotencyKey),
	}

	result := CheckoutResult{Sale: sale}
	products := cloneProducts(in.Products)
	touched := map[string]bool{}
	for _, item := range items {
		if item.IsCustom {
			continue
		}
		updated, entry, err := moveStock(products[item.ProductID], -item.Quantity, domain.StockLogSale, "", sale.ID, in.Actor, in.At)
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("%w: %s", store.ErrInsufficientStock, item.ProductID)
		}
		products[item.ProductID] = updated
		touched[item.ProductID] = true
		result.StockLogs = append(result.StockLogs, entry)
	}
	result.Products = sortedProducts(products, touched)

	txs, err := saleTransactions(sale, payments, change, in.Actor, in.At)
	if err != nil {
		return CheckoutResult{}, err
	}
	result.Transactions = txs
	return result, nil
}

// resolveLines snapshots each cart line as a sale line and sums subtotal and profit.
func resolveLines(cart []domain.CheckoutItem, products map[string]domain.Product) ([]domain.SaleItem, int64, int64, error) {
	items := make([]domain.SaleItem, 0, len(cart))
	var subtotal, profit int64
	for i, line := range cart {
		if line.Quantity < 1 {
			return nil, 0, 0, fmt.Errorf("%w: line %d quantity must be at least 1", store.ErrInvalidTransaction, i+1)
		}
		item := domain.SaleItem{
			LineID:   "line-" + strconv.Itoa(i+1),
			Quantity: line.Quantity,
			Note:     strings.TrimSpace(line.Note),
		}
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			if !line.IsCustom {
				return nil, 0, 0, fmt.Errorf("%w: line %d has no product", store.ErrInvalidTransaction, i+1)
			}
			name := strings.TrimSpace(line.Name)
			if name == "" || line.Price == nil {
				return nil, 0, 0, fmt.Errorf("%w: custom line %d needs a name and price", store.ErrInvalidTransaction, i+1)
			}
			item.Name, item.Unit, item.IsCustom = name, strings.TrimSpace(line.Unit), true
			item.Price, item.CostPrice = *line.Price, line.CostPrice
		} else {
			product, ok := products[productID]
			if !ok {
				return nil, 0, 0, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
			}
			item.ProductID, item.Name, item.Unit = product.ID, product.Name, product.Unit
			item.Price, item.CostPrice = product.Price, product.CostPrice
			item.IsCustom = product.IsCustom
			if line.Price != nil {
				item.Price = *line.Price
			}
		}
		if item.Price < 0 {
			return nil, 0, 0, fmt.Errorf("%w: line %d price must not be negative", store.ErrInvalidTransaction, i+1)
		}
		value, ok := money.LineTotal(item.Price, item.Quantity)
		if ok {
			subtotal, ok = money.AddBounded(subtotal, value)
		}
		if !ok || item.CostPrice > money.MaxAmount {
			return nil, 0, 0, fmt.Errorf("%w: line %d amount is out of range", store.ErrInvalidTransaction, i+1)
		}
		profit += (item.Price - item.CostPrice) * int64(item.Quantity)
		items = append(items, item)
	}
	return items, subtotal, profit, nil
}

// checkStock compares the quantity asked per product across all lines with
// what is on hand.
func checkStock(items []domain.SaleItem, products map[string]domain.Product) error {
	wanted := map[string]int{}
	for _, item := range items {
		if !item.IsCustom {
			wanted[item.ProductID] += item.Quantity
		}
	}
	for _, id := range SortedIDs(mapKeys(wanted)) {
		if have := products[id].Stock; wanted[id] > have {
			return fmt.Errorf("%w: %s has %d, cart needs %d", store.ErrInsufficientStock, id, have, wanted[id])
		}
	}
	return nil
}

func resolvePayment(req domain.CheckoutRequest) (string, []domain.PaymentSplit, int64, error) {
	if len(req.Payments) == 0 {
		method := NormalizeMethod(req.PaymentMethod)
		if method != domain.MethodCredit && !IsTenderMethod(method) {
			return "", nil, 0, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, req.PaymentMethod)
		}
		return method, nil, req.ReceivedAmount, nil
	}

	legs := make([]domain.PaymentSplit, 0, len(req.Payments))
	var received int64
	for _, leg := range req.Payments {
		method := NormalizeMethod(leg.Method)
		if !IsTenderMethod(method) {
			return "", nil, 0, fmt.Errorf("%w: unsupported split method %q", store.ErrInvalidTransaction, leg.Method)
		}
		sum, ok := money.AddBounded(received, leg.Amount)
		if leg.Amount < 0 || !ok {
			return "", nil, 0, fmt.Errorf("%w: split amounts must be between 0 and %d", store.ErrInvalidTransaction, money.MaxAmount)
		}
		received = sum
		legs = append(legs, domain.PaymentSplit{Method: method, Amount: leg.Amount, Reference: strings.TrimSpace(leg.Reference)})
	}
	if req.ReceivedAmount != 0 && req.ReceivedAmount != received {
		return "", nil, 0, fmt.Errorf("%w: received %d does not match split total %d", store.ErrInvalidTransaction, req.ReceivedAmount, received)
	}
	return domain.MethodSplit, legs, received, nil
}

// saleTransactions records the money actually kept for a sale: one entry per
// non-zero split leg with change taken from the cash leg, or a single entry.
// A pure credit sale records nothing.
func saleTransactions(sale domain.SaleRecord, legs []domain.PaymentSplit, change int64, actor domain.Actor, at time.Time) ([]domain.PaymentTransaction, error) {
	newTx := func(amount int64, method, note string) domain.PaymentTransaction {
		return domain.PaymentTransaction{
			ID:          xid.New("ptx"),
			Date:        at,
			Amount:      amount,
			Type:        domain.TxTypeSale,
			Method:      method,
			ReferenceID: sale.ID,
			Note:        note,
			PerformedBy: actor.Username,
		}
	}

	if len(legs) == 0 {
		kept := min(sale.ReceivedAmount, sale.Total)
		if kept <= 0 {
			return nil, nil
		}
		method := sale.PaymentMethod
		if method == domain.MethodCredit {
			method = domain.MethodCash
		}
		return []domain.PaymentTransaction{newTx(kept, method, "")}, nil
	}

	amounts := make([]int64, len(legs))
	remainingChange := change
	for i, leg := range legs {
		amounts[i] = leg.Amount
		if remainingChange > 0 && leg.Method == domain.MethodCash {
			take := min(remainingChange, leg.Amount)
			amounts[i] -= take
			remainingChange -= take
		}
	}
	if remainingChange > 0 {
		return nil, fmt.Errorf("%w: change %d can only be returned from a cash leg", store.ErrInvalidTransaction, change)
	}
	out := make([]domain.PaymentTransaction, 0, len(legs))
	for i, leg := range legs {
		if amounts[i] <= 0 {
			continue
		}
		out = append(out, newTx(amounts[i], leg.Method, leg.Reference))
	}
	return out, nil
}

// checkDelivery requires an address and contact when delivery is requested.
func checkDelivery(d *domain.DeliveryDetails) (*domain.DeliveryDetails, error) {
	if d == nil {
		return nil, nil
	}
	out := domain.DeliveryDetails{
		Address:       strings.TrimSpace(d.Address),
		ContactName:   strings.TrimSpace(d.ContactName),
		ContactPhone:  strings.TrimSpace(d.ContactPhone),
		Note:          strings.TrimSpace(d.Note),
		ScheduledDate: strings.TrimSpace(d.ScheduledDate),
	}
	if out.Address == "" || out.ContactName == "" {
		return nil, fmt.Errorf("%w: address and contact name are required", store.ErrInvalidDeliveryDetails)
	}
	return &out, nil
}

func mapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
