package ledger

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

type SettlementInput struct {
	// CustomerID is the reference for batch settlement. Sales may contain
	// other customers' sales; they are ignored.
	CustomerID string
	Sales      []domain.SaleRecord
	Amount     int64
	Method     string
	Note       string
	Actor      domain.Actor
	At         time.Time
}

type SettlementResult struct {
	Sales       []domain.SaleRecord
	Allocations []domain.SettlementAllocation
	Transaction domain.PaymentTransaction
}

// BuildSettlement applies a payment to the customer's outstanding sales,
// oldest first. Paying more than the total outstanding is rejected.
func BuildSettlement(in SettlementInput) (SettlementResult, error) {
	method, err := settlementMethod(in.Amount, in.Method)
	if err != nil {
		return SettlementResult{}, err
	}

	var open []domain.SaleRecord
	var outstanding int64
	for _, sale := range in.Sales {
		if sale.CustomerID == in.CustomerID && IsOutstanding(sale) {
			open = append(open, sale)
			outstanding += Balance(sale)
		}
	}
	if in.Amount > outstanding {
		return SettlementResult{}, fmt.Errorf("%w: paying %d against %d outstanding", store.ErrOverpaymentNotAllowed, in.Amount, outstanding)
	}
	slices.SortFunc(open, func(a, b domain.SaleRecord) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	result := SettlementResult{}
	remaining := in.Amount
	for _, sale := range open {
		if remaining == 0 {
			break
		}
		applied := min(remaining, Balance(sale))
		updated := applyPayment(sale, applied)
		remaining -= applied
		result.Sales = append(result.Sales, updated)
		result.Allocations = append(result.Allocations, allocation(updated, applied))
	}
	result.Transaction = debtPayment(in.Amount, method, in.CustomerID, in.Note, in.Actor, in.At)
	return result, nil
}

type SingleSettlementInput struct {
	Sale   domain.SaleRecord
	Amount int64
	Method string
	Note   string
	Actor  domain.Actor
	At     time.Time
}

// BuildSingleSettlement applies a payment directly to one sale.
func BuildSingleSettlement(in SingleSettlementInput) (SettlementResult, error) {
	method, err := settlementMethod(in.Amount, in.Method)
	if err != nil {
		return SettlementResult{}, err
	}
	if in.Sale.Status == domain.SaleStatusVoided {
		return SettlementResult{}, fmt.Errorf("%w: %s", store.ErrAlreadyVoided, in.Sale.ID)
	}
	if due := Balance(in.Sale); in.Amount > due {
		return SettlementResult{}, fmt.Errorf("%w: paying %d against %d due", store.ErrOverpaymentNotAllowed, in.Amount, due)
	}
	updated := applyPayment(in.Sale, in.Amount)
	return SettlementResult{
		Sales:       []domain.SaleRecord{updated},
		Allocations: []domain.SettlementAllocation{allocation(updated, in.Amount)},
		Transaction: debtPayment(in.Amount, method, in.Sale.ID, in.Note, in.Actor, in.At),
	}, nil
}

func settlementMethod(amount int64, method string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", store.ErrInvalidTransaction)
	}
	method = NormalizeMethod(method)
	if !IsTenderMethod(method) {
		return "", fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, method)
	}
	return method, nil
}

func applyPayment(sale domain.SaleRecord, applied int64) domain.SaleRecord {
	out := cloneSale(sale)
	out.ReceivedAmount += applied
	if Balance(out) == 0 {
		out.PaymentStatus = domain.PaymentStatusPaid
	} else {
		out.PaymentStatus = domain.PaymentStatusPartial
	}
	return out
}

func allocation(sale domain.SaleRecord, applied int64) domain.SettlementAllocation {
	return domain.SettlementAllocation{
		SaleID:        sale.ID,
		Applied:       applied,
		Balance:       Balance(sale),
		PaymentStatus: sale.PaymentStatus,
	}
}

func debtPayment(amount int64, method, ref, note string, actor domain.Actor, at time.Time) domain.PaymentTransaction {
	return domain.PaymentTransaction{
		ID:          xid.New("ptx"),
		Date:        at,
		Amount:      amount,
		Type:        domain.TxTypeDebtPayment,
		Method:      method,
		ReferenceID: ref,
		Note:        strings.TrimSpace(note),
		PerformedBy: actor.Username,
	}
}

// BuildExpense records money spent outside purchasing.
func BuildExpense(req domain.ExpenseRequest, actor domain.Actor, at time.Time) (domain.PaymentTransaction, error) {
	method, err := settlementMethod(req.Amount, req.Method)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: expense category is required", store.ErrInvalidTransaction)
	}
	return domain.PaymentTransaction{
		ID:          xid.New("ptx"),
		Date:        at,
		Amount:      req.Amount,
		Type:        domain.TxTypeExpense,
		Method:      method,
		Category:    category,
		Note:        strings.TrimSpace(req.Note),
		PerformedBy: actor.Username,
	}, nil
}
