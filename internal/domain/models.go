package domain

import "time"

// GeneralCustomerID identifies the walk-in customer. Sales for it must be paid in full.
const GeneralCustomerID = "general"

type Product struct {
	ID             string    `json:"id"`
	Barcode        string    `json:"barcode,omitempty"`
	Name           string    `json:"name"`
	Unit           string    `json:"unit"`
	Price          int64     `json:"price"`
	WholesalePrice int64     `json:"wholesale_price,omitempty"`
	CostPrice      int64     `json:"cost_price"`
	Category       string    `json:"category"`
	Stock          int       `json:"stock"`
	IsCustom       bool      `json:"is_custom,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Barcode        string `json:"barcode" validate:"max=64"`
	Name           string `json:"name" validate:"required,max=160"`
	Unit           string `json:"unit" validate:"required,max=32"`
	Price          int64  `json:"price" validate:"gte=0"`
	WholesalePrice int64  `json:"wholesale_price" validate:"gte=0"`
	CostPrice      int64  `json:"cost_price" validate:"gte=0"`
	Category       string `json:"category" validate:"max=80"`
	InitialStock   int    `json:"initial_stock" validate:"gte=0"`
	IsCustom       bool   `json:"is_custom"`
}

// ProductUpdateRequest edits catalog fields. Stock is changed only through
// stock adjustments, purchasing and the sale engines.
type ProductUpdateRequest struct {
	Barcode        *string `json:"barcode,omitempty" validate:"omitempty,max=64"`
	Name           *string `json:"name,omitempty" validate:"omitempty,min=1,max=160"`
	Unit           *string `json:"unit,omitempty" validate:"omitempty,min=1,max=32"`
	Price          *int64  `json:"price,omitempty" validate:"omitempty,gte=0"`
	WholesalePrice *int64  `json:"wholesale_price,omitempty" validate:"omitempty,gte=0"`
	CostPrice      *int64  `json:"cost_price,omitempty" validate:"omitempty,gte=0"`
	Category       *string `json:"category,omitempty" validate:"omitempty,max=80"`
}

type AdjustStockRequest struct {
	Delta      int    `json:"delta" validate:"required"`
	Note       string `json:"note" validate:"max=240"`
	SupplierID string `json:"supplier_id,omitempty"`
}

// CheckoutItem is one cart line. Price overrides the catalog price when set.
// Custom lines describe ad hoc charges and carry no stock.
type CheckoutItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity" validate:"gte=1,lte=1000000"`
	Price     *int64 `json:"price,omitempty" validate:"omitempty,gte=0,lte=1000000000000000"`
	Note      string `json:"note,omitempty" validate:"max=240"`
	IsCustom  bool   `json:"is_custom,omitempty"`
	Name      string `json:"name,omitempty" validate:"max=160"`
	Unit      string `json:"unit,omitempty" validate:"max=32"`
	CostPrice int64  `json:"cost_price,omitempty" validate:"gte=0,lte=1000000000000000"`
}

type SaleItem struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id,omitempty"`
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	Price     int64  `json:"price"`
	CostPrice int64  `json:"cost_price"`
	Quantity  int    `json:"quantity"`
	Note      string `json:"note,omitempty"`
	IsCustom  bool   `json:"is_custom,omitempty"`
}

type PaymentSplit struct {
	Method    string `json:"method" validate:"required"`
	Amount    int64  `json:"amount" validate:"gte=0"`
	Reference string `json:"reference,omitempty"`
}

// DeliveryDetails on a sale means delivery is enabled.
type DeliveryDetails struct {
	Address       string `json:"address"`
	ContactName   string `json:"contact_name"`
	ContactPhone  string `json:"contact_phone,omitempty"`
	Note          string `json:"note,omitempty"`
	ScheduledDate string `json:"scheduled_date,omitempty"`
}

// SaleItemReturn records goods taken back. Amount is the value credited to
// the customer; CashRefund is the part of it paid out, the rest having
// reduced what the customer still owed.
type SaleItemReturn struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id"`
	ProductID   string    `json:"product_id,omitempty"`
	Quantity    int       `json:"quantity"`
	Amount      int64     `json:"amount"`
	CashRefund  int64     `json:"cash_refund"`
	Date        time.Time `json:"date"`
	Reason      string    `json:"reason,omitempty"`
	ProcessedBy string    `json:"processed_by"`
}

type SaleRecord struct {
	ID               string           `json:"id"`
	Date             time.Time        `json:"date"`
	Items            []SaleItem       `json:"items"`
	Subtotal         int64            `json:"subtotal"`
	Discount         int64            `json:"discount"`
	TaxAmount        int64            `json:"tax_amount"`
	DeliveryFee      int64            `json:"delivery_fee"`
	Total            int64            `json:"total"`
	Profit           int64            `json:"profit"`
	PaymentMethod    string           `json:"payment_method"`
	Payments         []PaymentSplit   `json:"payments,omitempty"`
	PaymentStatus    string           `json:"payment_status"`
	ReceivedAmount   int64            `json:"received_amount"`
	ChangeAmount     int64            `json:"change_amount"`
	CustomerID       string           `json:"customer_id"`
	CustomerName     string           `json:"customer_name"`
	Delivery         *DeliveryDetails `json:"delivery,omitempty"`
	Status           string           `json:"status"`
	SalespersonID    string           `json:"salesperson_id"`
	SalespersonName  string           `json:"salesperson_name"`
	ProjectRef       string           `json:"project_ref,omitempty"`
	IdempotencyKey   string           `json:"idempotency_key,omitempty"`
	Returns          []SaleItemReturn `json:"returns,omitempty"`
	VoidedAt         *time.Time       `json:"voided_at,omitempty"`
	VoidedBy         string           `json:"voided_by,omitempty"`
	VoidAuthorizedBy string           `json:"void_authorized_by,omitempty"`
	VoidReason       string           `json:"void_reason,omitempty"`
}

type CheckoutRequest struct {
	Items          []CheckoutItem   `json:"items" validate:"required,min=1,dive"`
	Subtotal       int64            `json:"subtotal" validate:"gte=0"`
	Discount       int64            `json:"discount" validate:"gte=0"`
	TaxAmount      int64            `json:"tax_amount" validate:"gte=0"`
	TaxRatePercent float64          `json:"tax_rate_percent" validate:"gte=0,lte=100"`
	DeliveryFee    int64            `json:"delivery_fee" validate:"gte=0"`
	Total          int64            `json:"total" validate:"gte=0"`
	PaymentMethod  string           `json:"payment_method" validate:"required"`
	Payments       []PaymentSplit   `json:"payments,omitempty" validate:"omitempty,dive"`
	ReceivedAmount int64            `json:"received_amount" validate:"gte=0"`
	ChangeAmount   int64            `json:"change_amount" validate:"gte=0"`
	CustomerID     string           `json:"customer_id,omitempty"`
	Delivery       *DeliveryDetails `json:"delivery,omitempty"`
	ProjectRef     string           `json:"project_ref,omitempty" validate:"max=120"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" validate:"max=120"`
}

// SecondaryAuthorizer carries the credentials of a supervisor approving an
// action the acting user is not permitted to perform alone.
type SecondaryAuthorizer struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type VoidSaleRequest struct {
	Reason     string               `json:"reason" validate:"max=240"`
	Authorizer *SecondaryAuthorizer `json:"authorizer,omitempty"`
}

type ReturnLine struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=1"`
	Amount   *int64 `json:"amount,omitempty" validate:"omitempty,gte=0"`
}

type ReturnItemsRequest struct {
	Items      []ReturnLine         `json:"items" validate:"required,min=1,dive"`
	Note       string               `json:"note" validate:"max=240"`
	Authorizer *SecondaryAuthorizer `json:"authorizer,omitempty"`
}

type SettlementRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Method string `json:"method,omitempty"`
	Note   string `json:"note,omitempty" validate:"max=240"`
}

type SettlementAllocation struct {
	SaleID        string `json:"sale_id"`
	Applied       int64  `json:"applied"`
	Balance       int64  `json:"balance"`
	PaymentStatus string `json:"payment_status"`
}

type SettlementResult struct {
	Allocations []SettlementAllocation `json:"allocations"`
	Transaction PaymentTransaction     `json:"transaction"`
}

type StockLog struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	ProductID     string    `json:"product_id"`
	ProductName   string    `json:"product_name"`
	Type          string    `json:"type"`
	Quantity      int       `json:"quantity"`
	PreviousStock int       `json:"previous_stock"`
	NewStock      int       `json:"new_stock"`
	Note          string    `json:"note,omitempty"`
	RefID         string    `json:"ref_id,omitempty"`
	PerformedBy   string    `json:"performed_by"`
}

// PaymentTransaction amounts are always positive. Type decides the cash direction.
type PaymentTransaction struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"`
	Method      string    `json:"method"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Category    string    `json:"category,omitempty"`
	Note        string    `json:"note,omitempty"`
	PerformedBy string    `json:"performed_by"`
}

type ExpenseRequest struct {
	Amount   int64  `json:"amount" validate:"gt=0"`
	Method   string `json:"method,omitempty"`
	Category string `json:"category" validate:"required,max=80"`
	Note     string `json:"note" validate:"max=240"`
}

type TransactionFilter struct {
	Type  string
	From  time.Time
	To    time.Time
	Limit int
}

type SaleFilter struct {
	CustomerID string
	Status     string
	From       time.Time
	To         time.Time
	Limit      int
}

type Customer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	Type        string    `json:"type"`
	Address     string    `json:"address,omitempty"`
	CreditLimit int64     `json:"credit_limit"`
	CreatedAt   time.Time `json:"created_at"`
}

// CustomerSummary is a customer plus values derived from its sales on read.
type CustomerSummary struct {
	Customer
	CurrentDebt      int64 `json:"current_debt"`
	LifetimeValue    int64 `json:"lifetime_value"`
	OutstandingSales int   `json:"outstanding_sales"`
}

type CustomerCreateRequest struct {
	Name        string `json:"name" validate:"required,max=160"`
	Phone       string `json:"phone" validate:"max=32"`
	Type        string `json:"type" validate:"omitempty,oneof=GENERAL VIP CONTRACTOR"`
	Address     string `json:"address" validate:"max=240"`
	CreditLimit int64  `json:"credit_limit" validate:"gte=0"`
}

type CustomerUpdateRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=160"`
	Phone       *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Type        *string `json:"type,omitempty" validate:"omitempty,oneof=GENERAL VIP CONTRACTOR"`
	Address     *string `json:"address,omitempty" validate:"omitempty,max=240"`
	CreditLimit *int64  `json:"credit_limit,omitempty" validate:"omitempty,gte=0"`
}

type Supplier struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	Address     string    `json:"address,omitempty"`
	ContactName string    `json:"contact_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name        string `json:"name" validate:"required,max=160"`
	Phone       string `json:"phone" validate:"max=32"`
	Address     string `json:"address" validate:"max=240"`
	ContactName string `json:"contact_name" validate:"max=160"`
}

type PurchaseOrderItem struct {
	ProductID   string `json:"product_id" validate:"required"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity" validate:"gte=1,lte=1000000"`
	Cost        int64  `json:"cost" validate:"gte=0,lte=1000000000000000"`
}

type PurchaseOrder struct {
	ID            string              `json:"id"`
	SupplierID    string              `json:"supplier_id"`
	SupplierName  string              `json:"supplier_name"`
	Date          time.Time           `json:"date"`
	Items         []PurchaseOrderItem `json:"items"`
	Total         int64               `json:"total"`
	PaidAmount    int64               `json:"paid_amount"`
	PaymentStatus string              `json:"payment_status"`
	Status        string              `json:"status"`
	ReceivedAt    *time.Time          `json:"received_at,omitempty"`
	ReceivedBy    string              `json:"received_by,omitempty"`
	Note          string              `json:"note,omitempty"`
	CreatedBy     string              `json:"created_by"`
}

type PurchaseOrderCreateRequest struct {
	SupplierID string              `json:"supplier_id" validate:"required"`
	Items      []PurchaseOrderItem `json:"items" validate:"required,min=1,dive"`
	Note       string              `json:"note" validate:"max=240"`
}

type PurchasePaymentRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Method string `json:"method,omitempty"`
	Note   string `json:"note" validate:"max=240"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Level       int    `json:"level"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Name     string
	Role     string
	Level    int
}

type StaffCreateRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Name     string `json:"name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required,oneof=cashier supervisor owner"`
	Level    int    `json:"level" validate:"omitempty,gte=1,lte=3"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Level     int       `json:"level"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Name      string
	Password  string
	Role      string
	Level     int
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type DailyReportMethod struct {
	Method       string `json:"method"`
	Transactions int64  `json:"transactions"`
	Amount       int64  `json:"amount"`
}

type DailyReportType struct {
	Type         string `json:"type"`
	Transactions int64  `json:"transactions"`
	Amount       int64  `json:"amount"`
}

type DailyReport struct {
	Date            string              `json:"date"`
	SalesCount      int64               `json:"sales_count"`
	VoidedCount     int64               `json:"voided_count"`
	GrossSales      int64               `json:"gross_sales"`
	Discount        int64               `json:"discount"`
	Tax             int64               `json:"tax"`
	DeliveryFees    int64               `json:"delivery_fees"`
	NetSales        int64               `json:"net_sales"`
	Profit          int64               `json:"profit"`
	MarginPercent   string              `json:"margin_percent"`
	ReturnsAmount   int64               `json:"returns_amount"`
	CashIn          int64               `json:"cash_in"`
	CashOut         int64               `json:"cash_out"`
	NetCashFlow     int64               `json:"net_cash_flow"`
	OutstandingDebt int64               `json:"outstanding_debt"`
	ByMethod        []DailyReportMethod `json:"by_method"`
	ByType          []DailyReportType   `json:"by_type"`
}

// Snapshot is every business collection at one instant. Staff accounts are
// not part of it.
type Snapshot struct {
	Products       []Product            `json:"products"`
	Customers      []Customer           `json:"customers"`
	Sales          []SaleRecord         `json:"sales"`
	StockLogs      []StockLog           `json:"stock_logs"`
	Transactions   []PaymentTransaction `json:"transactions"`
	Suppliers      []Supplier           `json:"suppliers"`
	PurchaseOrders []PurchaseOrder      `json:"purchase_orders"`
	AuditLogs      []AuditLog           `json:"audit_logs"`
}

type BackupInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	SaleStatusCompleted = "COMPLETED"
	SaleStatusVoided    = "VOIDED"
)

const (
	PaymentStatusPaid    = "PAID"
	PaymentStatusPartial = "PARTIAL"
	PaymentStatusUnpaid  = "UNPAID"
)

const (
	StockLogSale     = "SALE"
	StockLogRestock  = "RESTOCK"
	StockLogAdjust   = "ADJUST"
	StockLogVoid     = "VOID"
	StockLogReturn   = "RETURN"
	StockLogPurchase = "PURCHASE"
)

const (
	TxTypeSale            = "SALE"
	TxTypeDebtPayment     = "DEBT_PAYMENT"
	TxTypeExpense         = "EXPENSE"
	TxTypeRefund          = "REFUND"
	TxTypePurchasePayment = "PURCHASE_PAYMENT"
)

const (
	MethodCash     = "CASH"
	MethodTransfer = "TRANSFER"
	MethodQR       = "QR"
	MethodCard     = "CARD"
	MethodCredit   = "CREDIT"
	MethodSplit    = "SPLIT"
)

const (
	CustomerTypeGeneral    = "GENERAL"
	CustomerTypeVIP        = "VIP"
	CustomerTypeContractor = "CONTRACTOR"
)

const (
	POStatusOrdered   = "ORDERED"
	POStatusReceived  = "RECEIVED"
	POStatusCancelled = "CANCELLED"
)

const (
	RoleCashier    = "cashier"
	RoleSupervisor = "supervisor"
	RoleOwner      = "owner"
)

// Permission actions gated by PermissionRules.
const (
	ActionVoidBill         = "VOID_BILL"
	ActionReturnItems      = "RETURN_ITEMS"
	ActionSettleDebt       = "SETTLE_DEBT"
	ActionAdjustStock      = "ADJUST_STOCK"
	ActionManageProducts   = "MANAGE_PRODUCTS"
	ActionManageCustomers  = "MANAGE_CUSTOMERS"
	ActionManagePurchasing = "MANAGE_PURCHASING"
	ActionRecordExpense    = "RECORD_EXPENSE"
	ActionViewReports      = "VIEW_REPORTS"
	ActionManageStaff      = "MANAGE_STAFF"
	ActionBackupRestore    = "BACKUP_RESTORE"
)

// PermissionRules maps an action to the minimum staff level allowed to perform it.
type PermissionRules map[string]int

func DefaultPermissionRules() PermissionRules {
	return PermissionRules{
		ActionVoidBill:         2,
		ActionReturnItems:      2,
		ActionSettleDebt:       1,
		ActionAdjustStock:      2,
		ActionManageProducts:   2,
		ActionManageCustomers:  1,
		ActionManagePurchasing: 2,
		ActionRecordExpense:    2,
		ActionViewReports:      2,
		ActionManageStaff:      3,
		ActionBackupRestore:    3,
	}
}

// Allows reports whether level meets the threshold for action. Unknown
// actions require the highest level.
func (r PermissionRules) Allows(action string, level int) bool {
	threshold, ok := r[action]
	if !ok {
		threshold = 3
	}
	return level >= threshold
}
