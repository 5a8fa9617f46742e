package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

// Checkout records a sale. A retried request carrying an idempotency key that
// was already accepted returns the stored sale and created=false.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.SaleRecord, bool, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	sale, duplicate, err := s.repo.CreateSale(ctx, store.CheckoutCommand{
		Command: s.command(ctx),
		SaleID:  xid.New("sale"),
		Request: req,
	})
	if err != nil {
		return domain.SaleRecord{}, false, err
	}
	if duplicate {
		s.log.Info("checkout replayed", zap.String("sale_id", sale.ID), zap.String("idempotency_key", req.IdempotencyKey))
		return *sale, false, nil
	}

	s.logAudit(ctx, "checkout", "sale", sale.ID,
		fmt.Sprintf("customer=%s,total=%d,method=%s,status=%s", sale.CustomerID, sale.Total, sale.PaymentMethod, sale.PaymentStatus))
	return *sale, true, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleRecord, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SaleRecord{}, err
	}
	return *sale, nil
}

// ListSales filters by customer, status and an optional YYYY-MM-DD range.
func (s *Service) ListSales(ctx context.Context, customerID, status, from, to string, limit int) ([]domain.SaleRecord, error) {
	filter := domain.SaleFilter{
		CustomerID: strings.TrimSpace(customerID),
		Status:     strings.ToUpper(strings.TrimSpace(status)),
		Limit:      limit,
	}
	var err error
	if filter.From, filter.To, err = dayRange(from, to); err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, filter)
}

// VoidSale reverses a completed sale. Actors below the void threshold need a
// supervisor's credentials in req.Authorizer.
func (s *Service) VoidSale(ctx context.Context, id string, req domain.VoidSaleRequest) (domain.SaleRecord, error) {
	authorizedBy, err := s.authorize(ctx, domain.ActionVoidBill, req.Authorizer)
	if err != nil {
		return domain.SaleRecord{}, err
	}

	sale, err := s.repo.VoidSale(ctx, store.VoidCommand{
		Command:      s.command(ctx),
		SaleID:       strings.TrimSpace(id),
		Reason:       strings.TrimSpace(req.Reason),
		AuthorizedBy: authorizedBy,
	})
	if err != nil {
		return domain.SaleRecord{}, err
	}
	s.logAudit(ctx, "sale_void", "sale", sale.ID,
		fmt.Sprintf("total=%d,authorized_by=%s,reason=%s", sale.Total, authorizedBy, sale.VoidReason))
	return *sale, nil
}

func (s *Service) ReturnItems(ctx context.Context, id string, req domain.ReturnItemsRequest) (domain.SaleRecord, error) {
	authorizedBy, err := s.authorize(ctx, domain.ActionReturnItems, req.Authorizer)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	if len(req.Items) == 0 {
		return domain.SaleRecord{}, fmt.Errorf("%w: nothing to return", store.ErrInvalidTransaction)
	}

	cmd := s.command(ctx)
	sale, err := s.repo.ReturnItems(ctx, store.ReturnCommand{
		Command: cmd,
		SaleID:  strings.TrimSpace(id),
		Lines:   req.Items,
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		return domain.SaleRecord{}, err
	}
	var amount int64
	for _, ret := range sale.Returns {
		if ret.Date.Equal(cmd.At) {
			amount += ret.Amount
		}
	}
	s.logAudit(ctx, "sale_return", "sale", sale.ID,
		fmt.Sprintf("lines=%d,amount=%d,authorized_by=%s", len(req.Items), amount, authorizedBy))
	return *sale, nil
}

// SettleSale applies a payment to one sale.
func (s *Service) SettleSale(ctx context.Context, saleID string, req domain.SettlementRequest) (domain.SettlementResult, error) {
	result, err := s.repo.SettleSale(ctx, store.SettleCommand{
		Command: s.command(ctx),
		SaleID:  strings.TrimSpace(saleID),
		Amount:  req.Amount,
		Method:  req.Method,
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		return domain.SettlementResult{}, err
	}
	s.logAudit(ctx, "sale_settle", "sale", saleID, fmt.Sprintf("amount=%d,method=%s", req.Amount, result.Transaction.Method))
	return *result, nil
}

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseRequest) (domain.PaymentTransaction, error) {
	cmd := s.command(ctx)
	tx, err := ledger.BuildExpense(req, cmd.Actor, cmd.At)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	if err := s.repo.RecordTransaction(ctx, tx); err != nil {
		return domain.PaymentTransaction{}, err
	}
	s.logAudit(ctx, "expense_record", "transaction", tx.ID, fmt.Sprintf("amount=%d,category=%s", tx.Amount, tx.Category))
	return tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, txType, from, to string, limit int) ([]domain.PaymentTransaction, error) {
	filter := domain.TransactionFilter{
		Type:  strings.ToUpper(strings.TrimSpace(txType)),
		Limit: limit,
	}
	var err error
	if filter.From, filter.To, err = dayRange(from, to); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, filter)
}

// dayRange turns optional YYYY-MM-DD bounds into a half-open UTC interval.
// The upper bound covers the whole of its day.
func dayRange(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	if from != "" {
		day, err := parseDay(from, time.Time{})
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = day
	}
	if to != "" {
		day, err := parseDay(to, time.Time{})
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = day.Add(24 * time.Hour)
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date range is empty", store.ErrInvalidTransaction)
	}
	return start, end, nil
}
