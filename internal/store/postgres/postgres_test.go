package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/store"
)

var supervisor = domain.Actor{Username: "supervisor", Name: "Shift Supervisor", Role: domain.RoleSupervisor, Level: 2}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, nil), mock
}

func productRows(stock int) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "barcode", "name", "unit", "price", "wholesale_price", "cost_price",
		"category", "stock", "is_custom", "created_at", "updated_at",
	}).AddRow("prd-cement-50", "", "Portland Cement 50kg", "sack", int64(95000), int64(90000), int64(78000),
		"cement", stock, false, now, now)
}

func saleRecord(t *testing.T, sale domain.SaleRecord) string {
	t.Helper()
	raw, err := json.Marshal(sale)
	require.NoError(t, err)
	return string(raw)
}

func TestGetSaleNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT record FROM sales WHERE id = \$1`).
		WithArgs("sale-missing").
		WillReturnRows(sqlmock.NewRows([]string{"record"}))

	_, err := s.GetSale(context.Background(), "sale-missing")
	assert.ErrorIs(t, err, store.ErrSaleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStockLocksRowAndWritesLog(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs("prd-cement-50").
		WillReturnRows(productRows(10))
	mock.ExpectExec(`UPDATE products\s+SET stock = \$2`).
		WithArgs("prd-cement-50", 15, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO stock_logs`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "prd-cement-50", "Portland Cement 50kg", domain.StockLogRestock, 5,
			10, 15, "truck delivery", "", "supervisor").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	product, err := s.AdjustStock(context.Background(), store.AdjustStockCommand{
		Command:   store.Command{Actor: supervisor, At: time.Now().UTC()},
		ProductID: "prd-cement-50",
		Delta:     5,
		Note:      "truck delivery",
	})
	require.NoError(t, err)
	assert.Equal(t, 15, product.Stock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStockRejectsNegativeAndRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs("prd-cement-50").
		WillReturnRows(productRows(3))
	mock.ExpectRollback()

	_, err := s.AdjustStock(context.Background(), store.AdjustStockCommand{
		Command:   store.Command{Actor: supervisor, At: time.Now().UTC()},
		ProductID: "prd-cement-50",
		Delta:     -5,
	})
	assert.ErrorIs(t, err, store.ErrNegativeStockRejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStockRetriesSerializationFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs("prd-cement-50").
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs("prd-cement-50").
		WillReturnRows(productRows(10))
	mock.ExpectExec(`UPDATE products`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO stock_logs`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	product, err := s.AdjustStock(context.Background(), store.AdjustStockCommand{
		Command:   store.Command{Actor: supervisor, At: time.Now().UTC()},
		ProductID: "prd-cement-50",
		Delta:     -4,
		Note:      "breakage",
	})
	require.NoError(t, err)
	assert.Equal(t, 6, product.Stock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSaleReturnsExistingSaleForIdempotencyKey(t *testing.T) {
	s, mock := newMockStore(t)
	existing := domain.SaleRecord{
		ID:             "sale-1",
		Total:          190000,
		Status:         domain.SaleStatusCompleted,
		PaymentStatus:  domain.PaymentStatusPaid,
		CustomerID:     domain.GeneralCustomerID,
		IdempotencyKey: "till-1-0001",
	}
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT record FROM sales WHERE idempotency_key = \$1`).
		WithArgs("till-1-0001").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(saleRecord(t, existing)))
	mock.ExpectCommit()

	sale, dup, err := s.CreateSale(context.Background(), store.CheckoutCommand{
		Command: store.Command{Actor: supervisor, At: time.Now().UTC()},
		SaleID:  "sale-2",
		Request: domain.CheckoutRequest{
			Items:          []domain.CheckoutItem{{ProductID: "prd-cement-50", Quantity: 2}},
			PaymentMethod:  domain.MethodCash,
			ReceivedAmount: 190000,
			IdempotencyKey: "till-1-0001",
		},
	})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "sale-1", sale.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProductReferencedBySale(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT true FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs("prd-cement-50").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("prd-cement-50").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := s.DeleteProduct(context.Background(), "prd-cement-50")
	assert.ErrorIs(t, err, store.ErrInUse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleDebtRejectsOverpayment(t *testing.T) {
	s, mock := newMockStore(t)
	open := domain.SaleRecord{
		ID:             "sale-1",
		Date:           time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Total:          500000,
		ReceivedAmount: 200000,
		PaymentMethod:  domain.MethodCredit,
		PaymentStatus:  domain.PaymentStatusPartial,
		Status:         domain.SaleStatusCompleted,
		CustomerID:     "cus-contractor-1",
	}
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM customers WHERE id = \$1 FOR UPDATE`).
		WithArgs("cus-contractor-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cus-contractor-1"))
	mock.ExpectQuery(`SELECT record FROM sales\s+WHERE customer_id = \$1`).
		WithArgs("cus-contractor-1", domain.SaleStatusCompleted, domain.PaymentStatusPaid).
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(saleRecord(t, open)))
	mock.ExpectRollback()

	_, err := s.SettleDebt(context.Background(), store.SettleCommand{
		Command:    store.Command{Actor: supervisor, At: time.Now().UTC()},
		CustomerID: "cus-contractor-1",
		Amount:     300001,
		Method:     domain.MethodCash,
	})
	assert.ErrorIs(t, err, store.ErrOverpaymentNotAllowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSalesBuildsFilter(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT record FROM sales WHERE customer_id = \$1 AND sold_at >= \$2 ORDER BY sold_at DESC, id DESC LIMIT \$3`).
		WithArgs("cus-vip-1", from, 20).
		WillReturnRows(sqlmock.NewRows([]string{"record"}))

	sales, err := s.ListSales(context.Background(), domain.SaleFilter{CustomerID: "cus-vip-1", From: from, Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.NoError(t, mock.ExpectationsWereMet())
}
