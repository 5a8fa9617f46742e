package store

import (
	"context"
	"errors"
	"time"

	"materialpos/backend/internal/domain"
)

var (
	ErrNotFound                        = errors.New("not found")
	ErrInvalidTransaction              = errors.New("invalid transaction")
	ErrInUse                           = errors.New("referenced by history")
	ErrInsufficientStock               = errors.New("insufficient stock")
	ErrCreditLimitExceeded             = errors.New("credit limit exceeded")
	ErrGeneralCustomerCreditNotAllowed = errors.New("walk-in customer must pay in full")
	ErrInvalidDeliveryDetails          = errors.New("invalid delivery details")
	ErrSaleNotFound                    = errors.New("sale not found")
	ErrAlreadyVoided                   = errors.New("sale already voided")
	ErrReturnExceedsAvailable          = errors.New("return exceeds available quantity")
	ErrOverpaymentNotAllowed           = errors.New("overpayment not allowed")
	ErrNegativeStockRejected           = errors.New("negative stock rejected")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrSaleNotFound, "SaleNotFound"},
	{ErrNotFound, "NotFound"},
	{ErrInsufficientStock, "InsufficientStock"},
	{ErrCreditLimitExceeded, "CreditLimitExceeded"},
	{ErrGeneralCustomerCreditNotAllowed, "GeneralCustomerCreditNotAllowed"},
	{ErrInvalidDeliveryDetails, "InvalidDeliveryDetails"},
	{ErrAlreadyVoided, "AlreadyVoided"},
	{ErrReturnExceedsAvailable, "ReturnExceedsAvailable"},
	{ErrOverpaymentNotAllowed, "OverpaymentNotAllowed"},
	{ErrNegativeStockRejected, "NegativeStockRejected"},
	{ErrInUse, "InUse"},
	{ErrInvalidTransaction, "InvalidTransaction"},
}

// Code returns the error kind name for err, or "Internal" when err is not a
// known sentinel.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

// Command carries the actor and timestamp every ledger write is stamped with.
type Command struct {
	Actor domain.Actor
	At    time.Time
}

type CheckoutCommand struct {
	Command
	SaleID  string
	Request domain.CheckoutRequest
}

type VoidCommand struct {
	Command
	SaleID       string
	Reason       string
	AuthorizedBy string
}

type ReturnCommand struct {
	Command
	SaleID string
	Lines  []domain.ReturnLine
	Note   string
}

type SettleCommand struct {
	Command
	// CustomerID is used by SettleDebt, SaleID by SettleSale.
	CustomerID string
	SaleID     string
	Amount     int64
	Method     string
	Note       string
}

type AdjustStockCommand struct {
	Command
	ProductID string
	Delta     int
	Note      string
	RefID     string
}

type PurchaseOrderCommand struct {
	Command
	OrderID string
}

type PurchasePaymentCommand struct {
	Command
	OrderID string
	Amount  int64
	Method  string
	Note    string
}

// Repository is the persistence boundary. Every mutating command is applied
// atomically: either all of its effects are stored or none are.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product, initial *domain.StockLog) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	AdjustStock(ctx context.Context, cmd AdjustStockCommand) (*domain.Product, error)
	ListStockLogs(ctx context.Context, productID string, limit int) ([]domain.StockLog, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	CreateSale(ctx context.Context, cmd CheckoutCommand) (*domain.SaleRecord, bool, error)
	GetSale(ctx context.Context, id string) (*domain.SaleRecord, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error)
	VoidSale(ctx context.Context, cmd VoidCommand) (*domain.SaleRecord, error)
	ReturnItems(ctx context.Context, cmd ReturnCommand) (*domain.SaleRecord, error)
	SettleDebt(ctx context.Context, cmd SettleCommand) (*domain.SettlementResult, error)
	SettleSale(ctx context.Context, cmd SettleCommand) (*domain.SettlementResult, error)

	RecordTransaction(ctx context.Context, tx domain.PaymentTransaction) error
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.PaymentTransaction, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error)
	ReceivePurchaseOrder(ctx context.Context, cmd PurchaseOrderCommand) (*domain.PurchaseOrder, error)
	CancelPurchaseOrder(ctx context.Context, cmd PurchaseOrderCommand) (*domain.PurchaseOrder, error)
	PayPurchaseOrder(ctx context.Context, cmd PurchasePaymentCommand) (*domain.PurchaseOrder, *domain.PaymentTransaction, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	Export(ctx context.Context) (domain.Snapshot, error)
	Restore(ctx context.Context, snapshot domain.Snapshot) error
}
