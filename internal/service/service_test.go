package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"materialpos/backend/internal/backup"
	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/store/memory"
)

var (
	cashier    = domain.Actor{Username: "cashier", Name: "Front Cashier", Role: domain.RoleCashier, Level: 1}
	supervisor = domain.Actor{Username: "supervisor", Name: "Shift Supervisor", Role: domain.RoleSupervisor, Level: 2}
	owner      = domain.Actor{Username: "owner", Name: "Store Owner", Role: domain.RoleOwner, Level: 3}
)

type fakeVerifier map[string]struct {
	password string
	actor    domain.Actor
}

func (f fakeVerifier) VerifyCredentials(_ context.Context, username, password string) (domain.Actor, error) {
	entry, ok := f[username]
	if !ok || entry.password != password {
		return domain.Actor{}, errors.New("invalid credentials")
	}
	return entry.actor, nil
}

// tickingClock advances one minute per call so ledger entries order by time.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at := next
		next = next.Add(time.Minute)
		return at
	}
}

type fixture struct {
	svc  *Service
	repo *memory.Store
	sink *backup.FileSink
	// day is the business day the clock runs in, after the seed data.
	day time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.NewSeeded()
	sink, err := backup.NewFileSink(t.TempDir())
	require.NoError(t, err)
	verifier := fakeVerifier{
		"supervisor": {password: "supervisor123", actor: supervisor},
		"cashier":    {password: "cashier123", actor: cashier},
	}
	day := time.Now().UTC().AddDate(0, 0, 1).Truncate(24 * time.Hour)
	svc := New(repo,
		WithCredentialVerifier(verifier),
		WithBackupSink(sink),
		WithClock(tickingClock(day.Add(8*time.Hour))),
	)
	return fixture{svc: svc, repo: repo, sink: sink, day: day}
}

func as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func stockOf(t *testing.T, svc *Service, id string) int {
	t.Helper()
	p, err := svc.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func cashSale(productID string, qty int, received int64) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: productID, Quantity: qty}},
		PaymentMethod:  domain.MethodCash,
		ReceivedAmount: received,
	}
}

func creditSale(customerID, productID string, qty int) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: productID, Quantity: qty}},
		PaymentMethod: domain.MethodCredit,
		CustomerID:    customerID,
	}
}

func TestCheckoutCashSale(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)

	sale, created, err := f.svc.Checkout(ctx, cashSale("prd-cement-50", 2, 200000))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(190000), sale.Total)
	assert.Equal(t, int64(10000), sale.ChangeAmount)
	assert.Equal(t, int64(2*(95000-78000)), sale.Profit)
	assert.Equal(t, domain.PaymentStatusPaid, sale.PaymentStatus)
	assert.Equal(t, domain.GeneralCustomerID, sale.CustomerID)
	assert.Equal(t, "cashier", sale.SalespersonID)
	assert.Equal(t, 198, stockOf(t, f.svc, "prd-cement-50"))

	txs, err := f.svc.ListTransactions(ctx, domain.TxTypeSale, "", "", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(190000), txs[0].Amount)
	assert.Equal(t, sale.ID, txs[0].ReferenceID)

	logs, err := f.svc.ListAuditLogs(ctx, "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "checkout", logs[0].Action)
	assert.Equal(t, sale.ID, logs[0].EntityID)
}

func TestCheckoutIdempotencyKeyReplaysSale(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)
	req := cashSale("prd-rebar-10", 3, 204000)
	req.IdempotencyKey = "till-1-0001"

	first, created, err := f.svc.Checkout(ctx, req)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := f.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 147, stockOf(t, f.svc, "prd-rebar-10"))
}

func TestCheckoutRejectionsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)

	_, _, err := f.svc.Checkout(ctx, cashSale("prd-sand-m3", 41, 41*250000))
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	_, _, err = f.svc.Checkout(ctx, cashSale("prd-sand-m3", 2, 100000))
	assert.ErrorIs(t, err, store.ErrGeneralCustomerCreditNotAllowed)

	_, _, err = f.svc.Checkout(ctx, creditSale("", "prd-sand-m3", 1))
	assert.ErrorIs(t, err, store.ErrGeneralCustomerCreditNotAllowed)

	delivery := cashSale("prd-sand-m3", 1, 250000)
	delivery.Delivery = &domain.DeliveryDetails{Address: "Ban Nongbone"}
	_, _, err = f.svc.Checkout(ctx, delivery)
	assert.ErrorIs(t, err, store.ErrInvalidDeliveryDetails)

	assert.Equal(t, 40, stockOf(t, f.svc, "prd-sand-m3"))
	txs, err := f.svc.ListTransactions(ctx, "", "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCheckoutCreditLimit(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)

	// 25 cans of paint is 4,625,000 against a 5,000,000 limit.
	_, _, err := f.svc.Checkout(ctx, creditSale("cus-vip-1", "prd-paint-5l", 25))
	require.NoError(t, err)

	_, _, err = f.svc.Checkout(ctx, creditSale("cus-vip-1", "prd-paint-5l", 3))
	assert.ErrorIs(t, err, store.ErrCreditLimitExceeded)

	summary, err := f.svc.GetCustomer(ctx, "cus-vip-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4625000), summary.CurrentDebt)
	assert.Equal(t, int64(4625000), summary.LifetimeValue)
	assert.Equal(t, 1, summary.OutstandingSales)
	assert.Equal(t, 35, stockOf(t, f.svc, "prd-paint-5l"))
}

func TestVoidSaleNeedsAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)
	sale, _, err := f.svc.Checkout(ctx, cashSale("prd-cement-50", 4, 380000))
	require.NoError(t, err)

	_, err = f.svc.VoidSale(ctx, sale.ID, domain.VoidSaleRequest{Reason: "wrong item"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.svc.VoidSale(ctx, sale.ID, domain.VoidSaleRequest{
		Reason:     "wrong item",
		Authorizer: &domain.SecondaryAuthorizer{Username: "supervisor", Password: "nope"},
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.svc.VoidSale(ctx, sale.ID, domain.VoidSaleRequest{
		Reason:     "wrong item",
		Authorizer: &domain.SecondaryAuthorizer{Username: "cashier", Password: "cashier123"},
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 196, stockOf(t, f.svc, "prd-cement-50"))

	voided, err := f.svc.VoidSale(ctx, sale.ID, domain.VoidSaleRequest{
		Reason:     "wrong item",
		Authorizer: &domain.SecondaryAuthorizer{Username: "supervisor", Password: "supervisor123"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusVoided, voided.Status)
	assert.Equal(t, "cashier", voided.VoidedBy)
	assert.Equal(t, "supervisor", voided.VoidAuthorizedBy)
	assert.Equal(t, 200, stockOf(t, f.svc, "prd-cement-50"))

	refunds, err := f.svc.ListTransactions(ctx, domain.TxTypeRefund, "", "", 0)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(380000), refunds[0].Amount)

	_, err = f.svc.VoidSale(as(supervisor), sale.ID, domain.VoidSaleRequest{})
	assert.ErrorIs(t, err, store.ErrAlreadyVoided)
	assert.Equal(t, 200, stockOf(t, f.svc, "prd-cement-50"), "second void moves no stock")
	refunds, err = f.svc.ListTransactions(ctx, domain.TxTypeRefund, "", "", 0)
	require.NoError(t, err)
	assert.Len(t, refunds, 1, "second void refunds nothing")
}

func TestReturnItemsPartial(t *testing.T) {
	f := newFixture(t)
	sale, _, err := f.svc.Checkout(as(cashier), cashSale("prd-pvc-3in", 3, 216000))
	require.NoError(t, err)
	ctx := as(supervisor)

	updated, err := f.svc.ReturnItems(ctx, sale.ID, domain.ReturnItemsRequest{
		Items: []domain.ReturnLine{{ItemID: sale.Items[0].LineID, Quantity: 1}},
		Note:  "cracked",
	})
	require.NoError(t, err)
	require.Len(t, updated.Returns, 1)
	assert.Equal(t, int64(72000), updated.Returns[0].Amount)
	assert.Equal(t, sale.Profit, updated.Profit)
	assert.Equal(t, 78, stockOf(t, f.svc, "prd-pvc-3in"))

	_, err = f.svc.ReturnItems(ctx, sale.ID, domain.ReturnItemsRequest{
		Items: []domain.ReturnLine{{ItemID: sale.Items[0].LineID, Quantity: 3}},
	})
	assert.ErrorIs(t, err, store.ErrReturnExceedsAvailable)
	assert.Equal(t, 78, stockOf(t, f.svc, "prd-pvc-3in"))

	_, err = f.svc.ReturnItems(as(cashier), sale.ID, domain.ReturnItemsRequest{
		Items: []domain.ReturnLine{{ItemID: sale.Items[0].LineID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestReturnItemsRefundsDiscountedValue(t *testing.T) {
	f := newFixture(t)
	req := cashSale("prd-cement-50", 1, 45000)
	req.Discount = 50000
	sale, _, err := f.svc.Checkout(as(cashier), req)
	require.NoError(t, err)
	require.Equal(t, int64(45000), sale.Total)

	updated, err := f.svc.ReturnItems(as(supervisor), sale.ID, domain.ReturnItemsRequest{
		Items: []domain.ReturnLine{{ItemID: sale.Items[0].LineID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(45000), updated.Returns[0].Amount)

	refunds, err := f.svc.ListTransactions(as(supervisor), domain.TxTypeRefund, "", "", 0)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(45000), refunds[0].Amount, "refund never exceeds what was paid")
}

func TestReturnItemsOnUnpaidCreditClearsDebt(t *testing.T) {
	f := newFixture(t)
	sale, _, err := f.svc.Checkout(as(cashier), creditSale("cus-contractor-1", "prd-cement-50", 2))
	require.NoError(t, err)
	before, err := f.svc.GetCustomer(as(cashier), "cus-contractor-1")
	require.NoError(t, err)

	updated, err := f.svc.ReturnItems(as(supervisor), sale.ID, domain.ReturnItemsRequest{
		Items: []domain.ReturnLine{{ItemID: sale.Items[0].LineID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, updated.PaymentStatus)
	assert.Zero(t, updated.Returns[0].CashRefund)
	assert.Equal(t, 200, stockOf(t, f.svc, "prd-cement-50"))

	after, err := f.svc.GetCustomer(as(cashier), "cus-contractor-1")
	require.NoError(t, err)
	assert.Equal(t, before.CurrentDebt-190000, after.CurrentDebt)

	refunds, err := f.svc.ListTransactions(as(supervisor), domain.TxTypeRefund, "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, refunds, "no cash out for an unpaid sale")
}

func TestSettleDebtOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)

	first, _, err := f.svc.Checkout(ctx, creditSale("cus-contractor-1", "prd-cement-50", 10))
	require.NoError(t, err)
	second, _, err := f.svc.Checkout(ctx, creditSale("cus-contractor-1", "prd-rebar-10", 10))
	require.NoError(t, err)

	_, err = f.svc.SettleDebt(ctx, "cus-contractor-1", domain.SettlementRequest{Amount: 950000 + 680000 + 1})
	assert.ErrorIs(t, err, store.ErrOverpaymentNotAllowed)

	result, err := f.svc.SettleDebt(ctx, "cus-contractor-1", domain.SettlementRequest{Amount: 1000000, Method: "transfer"})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, first.ID, result.Allocations[0].SaleID)
	assert.Equal(t, int64(950000), result.Allocations[0].Applied)
	assert.Equal(t, domain.PaymentStatusPaid, result.Allocations[0].PaymentStatus)
	assert.Equal(t, second.ID, result.Allocations[1].SaleID)
	assert.Equal(t, int64(50000), result.Allocations[1].Applied)
	assert.Equal(t, domain.PaymentStatusPartial, result.Allocations[1].PaymentStatus)
	assert.Equal(t, domain.TxTypeDebtPayment, result.Transaction.Type)
	assert.Equal(t, domain.MethodTransfer, result.Transaction.Method)

	summary, err := f.svc.GetCustomer(ctx, "cus-contractor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(630000), summary.CurrentDebt)

	_, err = f.svc.SettleSale(ctx, second.ID, domain.SettlementRequest{Amount: 630000})
	require.NoError(t, err)
	summary, err = f.svc.GetCustomer(ctx, "cus-contractor-1")
	require.NoError(t, err)
	assert.Zero(t, summary.CurrentDebt)
	assert.Equal(t, int64(1630000), summary.LifetimeValue)
}

func TestAdjustStock(t *testing.T) {
	f := newFixture(t)
	ctx := as(supervisor)

	_, err := f.svc.AdjustStock(ctx, "prd-sand-m3", domain.AdjustStockRequest{Delta: -41})
	assert.ErrorIs(t, err, store.ErrNegativeStockRejected)

	product, err := f.svc.AdjustStock(ctx, "prd-cement-50", domain.AdjustStockRequest{Delta: 50, SupplierID: "sup-cement"})
	require.NoError(t, err)
	assert.Equal(t, 250, product.Stock)

	logs, err := f.svc.ListStockLogs(ctx, "prd-cement-50", 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.StockLogRestock, logs[0].Type)
	assert.Equal(t, "restock from Lao Cement Co.", logs[0].Note)
	assert.Equal(t, "sup-cement", logs[0].RefID)

	_, err = f.svc.AdjustStock(ctx, "prd-cement-50", domain.AdjustStockRequest{Delta: -5, SupplierID: "sup-cement"})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCatalogAndCustomerMaintenance(t *testing.T) {
	f := newFixture(t)
	ctx := as(owner)

	product, err := f.svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name: "Tile Adhesive 25kg", Unit: "bag", Price: 120000, CostPrice: 90000, InitialStock: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, 30, product.Stock)

	_, err = f.svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Delivery", Unit: "trip", IsCustom: true, InitialStock: 1})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	price := int64(125000)
	updated, err := f.svc.UpdateProduct(ctx, product.ID, domain.ProductUpdateRequest{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, price, updated.Price)
	assert.Equal(t, 30, updated.Stock)

	_, _, err = f.svc.Checkout(ctx, cashSale(product.ID, 1, price))
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.DeleteProduct(ctx, product.ID), store.ErrInUse)

	customer, err := f.svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Vannaly Renovation", CreditLimit: 1000000})
	require.NoError(t, err)
	assert.Equal(t, domain.CustomerTypeGeneral, customer.Type)
	require.NoError(t, f.svc.DeleteCustomer(ctx, customer.ID))

	assert.ErrorIs(t, f.svc.DeleteCustomer(ctx, domain.GeneralCustomerID), store.ErrInUse)
	name := "Renamed"
	_, err = f.svc.UpdateCustomer(ctx, domain.GeneralCustomerID, domain.CustomerUpdateRequest{Name: &name})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestPurchaseOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := as(supervisor)

	po, err := f.svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-cement",
		Items:      []domain.PurchaseOrderItem{{ProductID: "prd-cement-50", Quantity: 200, Cost: 82000}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(16400000), po.Total)
	assert.Equal(t, 200, stockOf(t, f.svc, "prd-cement-50"))

	received, err := f.svc.ReceivePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusReceived, received.Status)
	product, err := f.svc.GetProduct(ctx, "prd-cement-50")
	require.NoError(t, err)
	assert.Equal(t, 400, product.Stock)
	assert.Equal(t, int64(80000), product.CostPrice)

	_, err = f.svc.ReceivePurchaseOrder(ctx, po.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	paid, tx, err := f.svc.PayPurchaseOrder(ctx, po.ID, domain.PurchasePaymentRequest{Amount: 6400000})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartial, paid.PaymentStatus)
	assert.Equal(t, domain.TxTypePurchasePayment, tx.Type)

	_, _, err = f.svc.PayPurchaseOrder(ctx, po.ID, domain.PurchasePaymentRequest{Amount: 10000001})
	assert.ErrorIs(t, err, store.ErrOverpaymentNotAllowed)

	other, err := f.svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-cement",
		Items:      []domain.PurchaseOrderItem{{ProductID: "prd-rebar-10", Quantity: 5, Cost: 50000}},
	})
	require.NoError(t, err)
	cancelled, err := f.svc.CancelPurchaseOrder(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusCancelled, cancelled.Status)
}

func TestDailyReport(t *testing.T) {
	f := newFixture(t)
	ctx := as(supervisor)

	cash, _, err := f.svc.Checkout(ctx, cashSale("prd-cement-50", 2, 190000))
	require.NoError(t, err)
	_, _, err = f.svc.Checkout(ctx, creditSale("cus-contractor-1", "prd-rebar-10", 5))
	require.NoError(t, err)
	voided, _, err := f.svc.Checkout(ctx, cashSale("prd-brick-red", 100, 120000))
	require.NoError(t, err)
	_, err = f.svc.VoidSale(ctx, voided.ID, domain.VoidSaleRequest{Reason: "duplicate"})
	require.NoError(t, err)
	_, err = f.svc.ReturnItems(ctx, cash.ID, domain.ReturnItemsRequest{
		Items: []domain.ReturnLine{{ItemID: cash.Items[0].LineID, Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = f.svc.RecordExpense(ctx, domain.ExpenseRequest{Amount: 50000, Category: "fuel"})
	require.NoError(t, err)

	date := f.day.Format("2006-01-02")
	report, err := f.svc.DailyReport(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, date, report.Date)
	assert.Equal(t, int64(2), report.SalesCount)
	assert.Equal(t, int64(1), report.VoidedCount)
	assert.Equal(t, int64(190000+340000), report.GrossSales)
	assert.Equal(t, int64(95000), report.ReturnsAmount)
	assert.Equal(t, int64(190000+340000-95000), report.NetSales)
	assert.Equal(t, int64(2*17000+5*13000), report.Profit)
	assert.Equal(t, "18.68", report.MarginPercent)
	assert.Equal(t, int64(190000+120000), report.CashIn)
	assert.Equal(t, int64(120000+95000+50000), report.CashOut)
	assert.Equal(t, report.CashIn-report.CashOut, report.NetCashFlow)
	assert.Equal(t, int64(340000), report.OutstandingDebt)
	require.Len(t, report.ByType, 3)
	assert.Equal(t, domain.TxTypeExpense, report.ByType[0].Type)

	empty, err := f.svc.DailyReport(ctx, f.day.AddDate(0, 0, 1).Format("2006-01-02"))
	require.NoError(t, err)
	assert.Zero(t, empty.SalesCount)
	assert.Equal(t, "0.00", empty.MarginPercent)

	_, err = f.svc.DailyReport(ctx, f.day.Format("02/01/2006"))
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestBackupRestoreReplacesState(t *testing.T) {
	f := newFixture(t)
	ctx := as(owner)

	_, _, err := f.svc.Checkout(ctx, cashSale("prd-cement-50", 5, 475000))
	require.NoError(t, err)
	payload, err := f.svc.ExportBackup(ctx)
	require.NoError(t, err)

	extra, err := f.svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Gravel", Unit: "m3", Price: 200000, InitialStock: 10})
	require.NoError(t, err)
	_, _, err = f.svc.Checkout(ctx, cashSale("prd-cement-50", 5, 475000))
	require.NoError(t, err)
	assert.Equal(t, 190, stockOf(t, f.svc, "prd-cement-50"))

	_, err = f.svc.RestoreBackup(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 195, stockOf(t, f.svc, "prd-cement-50"))
	_, err = f.svc.GetProduct(ctx, extra.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	sales, err := f.svc.ListSales(ctx, "", "", "", "", 0)
	require.NoError(t, err)
	assert.Len(t, sales, 1)

	backups, err := f.svc.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 1, "the replaced state is kept as a backup")

	restored, err := f.svc.RestoreFromSink(ctx, backups[0].Name)
	require.NoError(t, err)
	assert.Len(t, restored.Sales, 2)
	assert.Equal(t, 190, stockOf(t, f.svc, "prd-cement-50"))
}

func TestRestoreRejectsBrokenDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := as(owner)

	snap, err := f.repo.Export(ctx)
	require.NoError(t, err)
	for i := range snap.Products {
		if snap.Products[i].ID == "prd-cement-50" {
			snap.Products[i].Stock = 999
		}
	}
	payload, err := backup.Encode(snap, time.Now())
	require.NoError(t, err)

	_, err = f.svc.RestoreBackup(ctx, payload)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
	_, err = f.svc.RestoreBackup(ctx, []byte(`{"version": 7}`))
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
	_, err = f.svc.RestoreFromSink(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	assert.Equal(t, 200, stockOf(t, f.svc, "prd-cement-50"))
	backups, err := f.svc.ListBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var sold, rejected int
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.Checkout(ctx, cashSale("prd-sand-m3", 1, 250000))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				sold++
			} else if errors.Is(err, store.ErrInsufficientStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 40, sold)
	assert.Equal(t, 20, rejected)
	assert.Zero(t, stockOf(t, f.svc, "prd-sand-m3"))
}
