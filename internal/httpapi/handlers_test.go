package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"materialpos/backend/internal/backup"
	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/service"
	"materialpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo, nil)
	sink, err := backup.NewFileSink(t.TempDir())
	require.NoError(t, err)
	svc := service.New(repo,
		service.WithCredentialVerifier(auth),
		service.WithBackupSink(sink),
	)
	return New(svc, auth, "*", nil)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// call sends a JSON request with the bearer token and a fresh CSRF token.
func call(t *testing.T, api *API, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if isMutating(method) {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(dest))
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var body map[string]any
	decodeBody(t, res, &body)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLoginSuccess(t *testing.T) {
	api := newTestAPI(t)
	res := call(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "supervisor", Password: "supervisor123"})

	require.Equal(t, http.StatusOK, res.Code)
	var payload domain.LoginResponse
	decodeBody(t, res, &payload)
	assert.NotEmpty(t, payload.AccessToken)
	assert.Equal(t, domain.RoleSupervisor, payload.Role)
	assert.Equal(t, 2, payload.Level)
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	res := call(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "owner", Password: "nope"})

	require.Equal(t, http.StatusUnauthorized, res.Code)
	var body errorBody
	decodeBody(t, res, &body)
	assert.Equal(t, "Unauthorized", body.Code)
}

func TestHandleLoginRejectsMissingFields(t *testing.T) {
	api := newTestAPI(t)
	res := call(t, api, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "owner"})

	require.Equal(t, http.StatusBadRequest, res.Code)
	var body errorBody
	decodeBody(t, res, &body)
	assert.Contains(t, body.Error, "password: required")
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	res := call(t, api, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = call(t, api, http.MethodGet, "/api/v1/products", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestProductsWithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	res := call(t, api, http.MethodGet, "/api/v1/products", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var body struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, res, &body)
	assert.NotEmpty(t, body.Products)

	res = call(t, api, http.MethodGet, "/api/v1/products/prd-missing", token, nil)
	require.Equal(t, http.StatusNotFound, res.Code)
	var errBody errorBody
	decodeBody(t, res, &errBody)
	assert.Equal(t, "NotFound", errBody.Code)
}

func TestCashierCannotManageProducts(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	res := call(t, api, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		Name: "Rebar 12mm", Unit: "rod", Price: 65000, CostPrice: 52000,
	})
	require.Equal(t, http.StatusForbidden, res.Code)
	var body errorBody
	decodeBody(t, res, &body)
	assert.Equal(t, "Forbidden", body.Code)
}

func TestCheckoutCreatesThenReplays(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	req := domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "prd-cement-50", Quantity: 2}},
		PaymentMethod:  domain.MethodCash,
		ReceivedAmount: 200000,
		IdempotencyKey: "till-1-0001",
	}

	res := call(t, api, http.MethodPost, "/api/v1/sales", token, req)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var first struct {
		Sale    domain.SaleRecord `json:"sale"`
		Created bool              `json:"created"`
	}
	decodeBody(t, res, &first)
	assert.True(t, first.Created)
	assert.Equal(t, int64(190000), first.Sale.Total)

	res = call(t, api, http.MethodPost, "/api/v1/sales", token, req)
	require.Equal(t, http.StatusOK, res.Code)
	var replay struct {
		Sale    domain.SaleRecord `json:"sale"`
		Created bool              `json:"created"`
	}
	decodeBody(t, res, &replay)
	assert.False(t, replay.Created)
	assert.Equal(t, first.Sale.ID, replay.Sale.ID)

	res = call(t, api, http.MethodGet, "/api/v1/products/prd-cement-50", token, nil)
	var product struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, res, &product)
	assert.Equal(t, 198, product.Product.Stock)
}

func TestCheckoutErrorCodes(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	res := call(t, api, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "prd-cement-50", Quantity: 100000}},
		PaymentMethod:  domain.MethodCash,
		ReceivedAmount: 1,
	})
	require.Equal(t, http.StatusConflict, res.Code)
	var body errorBody
	decodeBody(t, res, &body)
	assert.Equal(t, "InsufficientStock", body.Code)

	res = call(t, api, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: "prd-cement-50", Quantity: 1}},
		PaymentMethod: domain.MethodCredit,
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	decodeBody(t, res, &body)
	assert.Equal(t, "GeneralCustomerCreditNotAllowed", body.Code)

	res = call(t, api, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{PaymentMethod: domain.MethodCash})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	huge := int64(9_000_000_000_000_000)
	res = call(t, api, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "prd-cement-50", Quantity: 2, Price: &huge}},
		PaymentMethod:  domain.MethodCash,
		ReceivedAmount: 1,
	})
	assert.Equal(t, http.StatusBadRequest, res.Code, "price past the bound")

	res = call(t, api, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "prd-cement-50", Quantity: 2_000_000}},
		PaymentMethod:  domain.MethodCash,
		ReceivedAmount: 1,
	})
	assert.Equal(t, http.StatusBadRequest, res.Code, "quantity past the bound")
}

func TestVoidNeedsSupervisorAuthorizer(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	res := call(t, api, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "prd-cement-50", Quantity: 1}},
		PaymentMethod:  domain.MethodCash,
		ReceivedAmount: 95000,
	})
	require.Equal(t, http.StatusCreated, res.Code)
	var created struct {
		Sale domain.SaleRecord `json:"sale"`
	}
	decodeBody(t, res, &created)
	path := "/api/v1/sales/" + created.Sale.ID + "/void"

	res = call(t, api, http.MethodPost, path, token, domain.VoidSaleRequest{Reason: "scanned twice"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = call(t, api, http.MethodPost, path, token, domain.VoidSaleRequest{
		Reason:     "scanned twice",
		Authorizer: &domain.SecondaryAuthorizer{Username: "supervisor", Password: "supervisor123"},
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var voided struct {
		Sale domain.SaleRecord `json:"sale"`
	}
	decodeBody(t, res, &voided)
	assert.Equal(t, domain.SaleStatusVoided, voided.Sale.Status)
	assert.Equal(t, "supervisor", voided.Sale.VoidAuthorizedBy)

	res = call(t, api, http.MethodPost, path, login(t, api, "owner", "owner123"), domain.VoidSaleRequest{})
	require.Equal(t, http.StatusConflict, res.Code)
	var body errorBody
	decodeBody(t, res, &body)
	assert.Equal(t, "AlreadyVoided", body.Code)
}

func TestUnknownSaleReturnsSaleNotFound(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "supervisor", "supervisor123")

	res := call(t, api, http.MethodPost, "/api/v1/sales/sale-missing/void", token, domain.VoidSaleRequest{})
	require.Equal(t, http.StatusNotFound, res.Code)
	var body errorBody
	decodeBody(t, res, &body)
	assert.Equal(t, "SaleNotFound", body.Code)
}

func TestDailyReportCSV(t *testing.T) {
	api := newTestAPI(t)
	cashierToken := login(t, api, "cashier", "cashier123")
	res := call(t, api, http.MethodPost, "/api/v1/sales", cashierToken, domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: "prd-cement-50", Quantity: 1}},
		PaymentMethod:  domain.MethodCash,
		ReceivedAmount: 95000,
	})
	require.Equal(t, http.StatusCreated, res.Code)

	res = call(t, api, http.MethodGet, "/api/v1/reports/daily?format=csv", cashierToken, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)

	today := time.Now().UTC().Format("2006-01-02")
	res = call(t, api, http.MethodGet, "/api/v1/reports/daily?format=csv&date="+today, login(t, api, "supervisor", "supervisor123"), nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.True(t, strings.HasPrefix(res.Header().Get("Content-Type"), "text/csv"))
	csv := res.Body.String()
	assert.True(t, strings.HasPrefix(csv, "section,key,value\n"))
	assert.Contains(t, csv, "summary,sales_count,1\n")
	assert.Contains(t, csv, "cash,in,95000\n")
}

func TestStaffEndpointsNeedOwner(t *testing.T) {
	api := newTestAPI(t)
	supervisor := login(t, api, "supervisor", "supervisor123")
	owner := login(t, api, "owner", "owner123")

	res := call(t, api, http.MethodGet, "/api/v1/staff", supervisor, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = call(t, api, http.MethodPost, "/api/v1/staff", owner, domain.StaffCreateRequest{
		Username: "noy", Name: "Noy", Password: "counter-pass", Role: domain.RoleCashier,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = call(t, api, http.MethodGet, "/api/v1/staff", owner, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var body struct {
		Staff []domain.StaffUser `json:"staff"`
	}
	decodeBody(t, res, &body)
	assert.Len(t, body.Staff, 4)

	login(t, api, "noy", "counter-pass")
}

func TestBackupDownloadAndRestore(t *testing.T) {
	api := newTestAPI(t)
	owner := login(t, api, "owner", "owner123")

	res := call(t, api, http.MethodGet, "/api/v1/backup", owner, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Header().Get("Content-Disposition"), "attachment")
	doc := res.Body.Bytes()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backup/restore", bytes.NewReader(doc))
	req.Header.Set("Authorization", "Bearer "+owner)
	req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	restored := httptest.NewRecorder()
	api.Handler().ServeHTTP(restored, req)
	require.Equal(t, http.StatusOK, restored.Code, restored.Body.String())

	var summary struct {
		Restored map[string]int `json:"restored"`
	}
	decodeBody(t, restored, &summary)
	assert.Positive(t, summary.Restored["products"])

	res = call(t, api, http.MethodGet, "/api/v1/backups", owner, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var listed struct {
		Backups []domain.BackupInfo `json:"backups"`
	}
	decodeBody(t, res, &listed)
	assert.Len(t, listed.Backups, 1, "restore keeps a copy of the replaced state")
}
