package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"materialpos/backend/internal/backup"
	"materialpos/backend/internal/domain"
)

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	report, err := a.service.DailyReport(r.Context(), date)
	if err != nil {
		a.fail(w, err)
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"daily-report-%s.csv\"", report.Date))
		_, _ = w.Write([]byte(dailyReportToCSV(report)))
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func dailyReportToCSV(report domain.DailyReport) string {
	lines := []string{
		"section,key,value",
		fmt.Sprintf("summary,date,%s", report.Date),
		fmt.Sprintf("summary,sales_count,%d", report.SalesCount),
		fmt.Sprintf("summary,voided_count,%d", report.VoidedCount),
		fmt.Sprintf("summary,gross_sales,%d", report.GrossSales),
		fmt.Sprintf("summary,discount,%d", report.Discount),
		fmt.Sprintf("summary,tax,%d", report.Tax),
		fmt.Sprintf("summary,delivery_fees,%d", report.DeliveryFees),
		fmt.Sprintf("summary,returns,%d", report.ReturnsAmount),
		fmt.Sprintf("summary,net_sales,%d", report.NetSales),
		fmt.Sprintf("summary,profit,%d", report.Profit),
		fmt.Sprintf("summary,margin_percent,%s", report.MarginPercent),
		fmt.Sprintf("cash,in,%d", report.CashIn),
		fmt.Sprintf("cash,out,%d", report.CashOut),
		fmt.Sprintf("cash,net,%d", report.NetCashFlow),
		fmt.Sprintf("debt,outstanding,%d", report.OutstandingDebt),
	}
	for _, m := range report.ByMethod {
		lines = append(lines, fmt.Sprintf("method,%s_transactions,%d", m.Method, m.Transactions))
		lines = append(lines, fmt.Sprintf("method,%s_amount,%d", m.Method, m.Amount))
	}
	for _, t := range report.ByType {
		lines = append(lines, fmt.Sprintf("type,%s_transactions,%d", t.Type, t.Transactions))
		lines = append(lines, fmt.Sprintf("type,%s_amount,%d", t.Type, t.Amount))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("date"), parsePositiveLimit(query.Get("limit"), 100, 500))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	payload, err := a.service.ExportBackup(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", backup.Name(time.Now())))
	_, _ = w.Write(payload)
}

// handleUploadRestore takes a backup document as the raw request body.
func (a *API) handleUploadRestore(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("backup too large"))
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := a.service.RestoreBackup(r.Context(), payload)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, restoreSummary(snap))
}

func (a *API) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := a.service.ListBackups(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (a *API) handleStoreBackup(w http.ResponseWriter, r *http.Request) {
	info, err := a.service.StoreBackup(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"backup": info})
}

func (a *API) handleRestoreFromSink(w http.ResponseWriter, r *http.Request) {
	snap, err := a.service.RestoreFromSink(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, restoreSummary(snap))
}

func restoreSummary(snap domain.Snapshot) map[string]any {
	return map[string]any{
		"restored": map[string]int{
			"products":        len(snap.Products),
			"customers":       len(snap.Customers),
			"sales":           len(snap.Sales),
			"stock_logs":      len(snap.StockLogs),
			"transactions":    len(snap.Transactions),
			"suppliers":       len(snap.Suppliers),
			"purchase_orders": len(snap.PurchaseOrders),
			"audit_logs":      len(snap.AuditLogs),
		},
	}
}
