// Package ledger holds the sale, stock and cash rules shared by every store.
//
// Builders take a consistent view of the entities a command touches and
// return the updated entities plus the ledger entries to append. They never
// mutate their inputs, so a store can discard the result on any error and be
// left unchanged. Derived values (debt, lifetime value, returned quantities)
// are computed here and nowhere else.
package ledger

import (
	"strings"

	"materialpos/backend/internal/domain"
)

// PaymentStatus derives the status of a sale or purchase order from what has
// been received against its total.
func PaymentStatus(received, total int64, method string) string {
	if received >= total {
		return domain.PaymentStatusPaid
	}
	if received == 0 && method == domain.MethodCredit {
		return domain.PaymentStatusUnpaid
	}
	return domain.PaymentStatusPartial
}

// Balance is the amount still owed on a sale: the total, less what was
// collected and less returns credited against the debt. Voided sales owe
// nothing.
func Balance(sale domain.SaleRecord) int64 {
	if sale.Status == domain.SaleStatusVoided {
		return 0
	}
	due := sale.Total - Collected(sale) - CreditedAmount(sale)
	if due < 0 {
		return 0
	}
	return due
}

// Collected is the money the sale actually took in, change excluded.
func Collected(sale domain.SaleRecord) int64 {
	return min(sale.ReceivedAmount, sale.Total)
}

func IsOutstanding(sale domain.SaleRecord) bool {
	return Balance(sale) > 0
}

// CurrentDebt sums the balances of a customer's unpaid and partial sales.
func CurrentDebt(customerID string, sales []domain.SaleRecord) int64 {
	var debt int64
	for _, sale := range sales {
		if sale.CustomerID != customerID {
			continue
		}
		debt += Balance(sale)
	}
	return debt
}

// LifetimeValue is what the customer has bought, net of refunds for returned items.
func LifetimeValue(customerID string, sales []domain.SaleRecord) int64 {
	var value int64
	for _, sale := range sales {
		if sale.CustomerID != customerID || sale.Status == domain.SaleStatusVoided {
			continue
		}
		value += sale.Total - RefundedAmount(sale)
	}
	return value
}

func Summarize(customer domain.Customer, sales []domain.SaleRecord) domain.CustomerSummary {
	summary := domain.CustomerSummary{
		Customer:      customer,
		CurrentDebt:   CurrentDebt(customer.ID, sales),
		LifetimeValue: LifetimeValue(customer.ID, sales),
	}
	for _, sale := range sales {
		if sale.CustomerID == customer.ID && IsOutstanding(sale) {
			summary.OutstandingSales++
		}
	}
	return summary
}

// ReturnedByLine totals returned quantity per sale line.
func ReturnedByLine(sale domain.SaleRecord) map[string]int {
	out := make(map[string]int, len(sale.Returns))
	for _, ret := range sale.Returns {
		out[ret.ItemID] += ret.Quantity
	}
	return out
}

// RefundedAmount is the value of every return on the sale.
func RefundedAmount(sale domain.SaleRecord) int64 {
	var total int64
	for _, ret := range sale.Returns {
		total += ret.Amount
	}
	return total
}

// CashRefunded is the part of the returns paid back out of the till.
func CashRefunded(sale domain.SaleRecord) int64 {
	var total int64
	for _, ret := range sale.Returns {
		total += ret.CashRefund
	}
	return total
}

// CreditedAmount is the part of the returns that cancelled debt instead of
// being paid out.
func CreditedAmount(sale domain.SaleRecord) int64 {
	return RefundedAmount(sale) - CashRefunded(sale)
}

// ExpectedTotal is subtotal - discount + tax + delivery fee.
func ExpectedTotal(subtotal, discount, tax, deliveryFee int64) int64 {
	return subtotal - discount + tax + deliveryFee
}

// NormalizeCustomerID maps an empty id to the walk-in customer.
func NormalizeCustomerID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.GeneralCustomerID
	}
	return id
}

// NormalizeMethod upper-cases a method and defaults it to cash.
func NormalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return domain.MethodCash
	}
	return method
}

// IsTenderMethod reports whether money can actually change hands with method.
func IsTenderMethod(method string) bool {
	switch method {
	case domain.MethodCash, domain.MethodTransfer, domain.MethodQR, domain.MethodCard:
		return true
	}
	return false
}

// IsOutflow reports whether a transaction type takes cash out of the business.
func IsOutflow(txType string) bool {
	switch txType {
	case domain.TxTypeRefund, domain.TxTypeExpense, domain.TxTypePurchasePayment:
		return true
	}
	return false
}
