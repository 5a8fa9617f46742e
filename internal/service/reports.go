package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/money"
)

// DailyReport summarizes sales and cash movement for one UTC day. An empty
// date means today.
func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	from, err := parseDay(date, s.now())
	if err != nil {
		return domain.DailyReport{}, err
	}
	to := from.Add(24 * time.Hour)

	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{})
	if err != nil {
		return domain.DailyReport{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{From: from, To: to})
	if err != nil {
		return domain.DailyReport{}, err
	}

	report := domain.DailyReport{Date: from.Format("2006-01-02")}
	var total int64
	inDay := func(t time.Time) bool { return !t.Before(from) && t.Before(to) }
	for _, sale := range sales {
		report.OutstandingDebt += ledger.Balance(sale)
		for _, ret := range sale.Returns {
			if inDay(ret.Date) {
				report.ReturnsAmount += ret.Amount
			}
		}
		if !inDay(sale.Date) {
			continue
		}
		if sale.Status == domain.SaleStatusVoided {
			report.VoidedCount++
			continue
		}
		report.SalesCount++
		report.GrossSales += sale.Subtotal
		report.Discount += sale.Discount
		report.Tax += sale.TaxAmount
		report.DeliveryFees += sale.DeliveryFee
		report.Profit += sale.Profit
		total += sale.Total
	}
	report.NetSales = total - report.ReturnsAmount
	report.MarginPercent = money.Percent(report.Profit, total)

	byMethod := map[string]*domain.DailyReportMethod{}
	byType := map[string]*domain.DailyReportType{}
	for _, tx := range txs {
		if ledger.IsOutflow(tx.Type) {
			report.CashOut += tx.Amount
		} else {
			report.CashIn += tx.Amount
		}
		m, ok := byMethod[tx.Method]
		if !ok {
			m = &domain.DailyReportMethod{Method: tx.Method}
			byMethod[tx.Method] = m
		}
		m.Transactions++
		m.Amount += tx.Amount

		t, ok := byType[tx.Type]
		if !ok {
			t = &domain.DailyReportType{Type: tx.Type}
			byType[tx.Type] = t
		}
		t.Transactions++
		t.Amount += tx.Amount
	}
	report.NetCashFlow = report.CashIn - report.CashOut

	report.ByMethod = make([]domain.DailyReportMethod, 0, len(byMethod))
	for _, m := range byMethod {
		report.ByMethod = append(report.ByMethod, *m)
	}
	slices.SortFunc(report.ByMethod, func(a, b domain.DailyReportMethod) int { return strings.Compare(a.Method, b.Method) })
	report.ByType = make([]domain.DailyReportType, 0, len(byType))
	for _, t := range byType {
		report.ByType = append(report.ByType, *t)
	}
	slices.SortFunc(report.ByType, func(a, b domain.DailyReportType) int { return strings.Compare(a.Type, b.Type) })
	return report, nil
}

// ListAuditLogs returns the audit trail for one UTC day, or everything when
// date is empty.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	var from, to time.Time
	if date != "" {
		day, err := parseDay(date, s.now())
		if err != nil {
			return nil, err
		}
		from, to = day, day.Add(24*time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}
