package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/service"
	"materialpos/backend/internal/store"
)

const (
	maxJSONBody   = 1 << 20
	maxBackupBody = 64 << 20
)

type API struct {
	service          *service.Service
	auth             *AuthManager
	allowedOrigin    string
	loginLimiter     *attemptLimiter
	authorizeLimiter *attemptLimiter
	csrfSecret       []byte
	validate         *validator.Validate
	log              *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		log.Warn("crypto/rand failed, using fallback csrf secret", zap.Error(err))
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:          svc,
		auth:             auth,
		allowedOrigin:    allowedOrigin,
		loginLimiter:     newAttemptLimiter(5, time.Minute),
		authorizeLimiter: newAttemptLimiter(8, time.Minute),
		csrfSecret:       csrfSecret,
		validate:         newValidator(),
		log:              log,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the token of the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

// attemptLimiter keeps one token bucket per client key. A bucket refills
// max tokens per window, so a key idle for a full window is back at burst
// and can be dropped.
type attemptLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	window    time.Duration
	now       func() time.Time
	lastSweep time.Time
	entries   map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{
		limit:   rate.Every(window / time.Duration(max)),
		burst:   max,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep drops keys idle for a full window, at most once per window.
func (l *attemptLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) >= l.window {
			delete(l.entries, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-CSRF-Token"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders)
	r.Use(a.limitBody)
	r.Use(a.checkCSRF)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Route("/products", func(r chi.Router) {
				r.Get("/", a.handleListProducts)
				r.Get("/{id}", a.handleGetProduct)
				r.With(a.require(domain.ActionManageProducts)).Post("/", a.handleCreateProduct)
				r.With(a.require(domain.ActionManageProducts)).Patch("/{id}", a.handleUpdateProduct)
				r.With(a.require(domain.ActionManageProducts)).Delete("/{id}", a.handleDeleteProduct)
				r.With(a.require(domain.ActionAdjustStock)).Post("/{id}/stock-adjustments", a.handleAdjustStock)
			})
			r.Get("/stock-logs", a.handleStockLogs)

			r.Route("/customers", func(r chi.Router) {
				r.Get("/", a.handleListCustomers)
				r.Get("/{id}", a.handleGetCustomer)
				r.With(a.require(domain.ActionManageCustomers)).Post("/", a.handleCreateCustomer)
				r.With(a.require(domain.ActionManageCustomers)).Patch("/{id}", a.handleUpdateCustomer)
				r.With(a.require(domain.ActionManageCustomers)).Delete("/{id}", a.handleDeleteCustomer)
				r.With(a.require(domain.ActionSettleDebt)).Post("/{id}/payments", a.handleSettleDebt)
			})

			r.Route("/sales", func(r chi.Router) {
				r.Post("/", a.handleCheckout)
				r.Get("/", a.handleListSales)
				r.Get("/{id}", a.handleGetSale)
				r.Post("/{id}/void", a.handleVoidSale)
				r.Post("/{id}/returns", a.handleReturnItems)
				r.With(a.require(domain.ActionSettleDebt)).Post("/{id}/payments", a.handleSettleSale)
			})

			r.With(a.require(domain.ActionViewReports)).Get("/transactions", a.handleListTransactions)
			r.With(a.require(domain.ActionRecordExpense)).Post("/expenses", a.handleRecordExpense)

			r.Group(func(r chi.Router) {
				r.Use(a.require(domain.ActionManagePurchasing))
				r.Get("/suppliers", a.handleListSuppliers)
				r.Post("/suppliers", a.handleCreateSupplier)
				r.Get("/purchase-orders", a.handleListPurchaseOrders)
				r.Post("/purchase-orders", a.handleCreatePurchaseOrder)
				r.Get("/purchase-orders/{id}", a.handleGetPurchaseOrder)
				r.Post("/purchase-orders/{id}/receive", a.handleReceivePurchaseOrder)
				r.Post("/purchase-orders/{id}/cancel", a.handleCancelPurchaseOrder)
				r.Post("/purchase-orders/{id}/payments", a.handlePayPurchaseOrder)
			})

			r.With(a.require(domain.ActionViewReports)).Get("/reports/daily", a.handleDailyReport)
			r.With(a.require(domain.ActionViewReports)).Get("/audit-logs", a.handleAuditLogs)

			r.With(a.require(domain.ActionManageStaff)).Get("/staff", a.handleListStaff)
			r.With(a.require(domain.ActionManageStaff)).Post("/staff", a.handleCreateStaff)

			r.Group(func(r chi.Router) {
				r.Use(a.require(domain.ActionBackupRestore))
				r.Get("/backup", a.handleDownloadBackup)
				r.Post("/backup/restore", a.handleUploadRestore)
				r.Get("/backups", a.handleListBackups)
				r.Post("/backups", a.handleStoreBackup)
				r.Post("/backups/{name}/restore", a.handleRestoreFromSink)
			})
		})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { writeMethodNotAllowed(w) })
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

// require rejects actors whose level is below the threshold for action.
func (a *API) require(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok || !a.service.Rules().Allows(action, actor.Level) {
				writeError(w, http.StatusForbidden, fmt.Errorf("%w: %s", service.ErrPermissionDenied, action))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// limitBody bounds request bodies. Backup uploads get a larger allowance.
func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && isMutating(r.Method) {
			limit := int64(maxJSONBody)
			if r.URL.Path == "/api/v1/backup/restore" {
				limit = maxBackupBody
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// csrfExemptPaths lists paths called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		for _, exempt := range csrfExemptPaths {
			if r.URL.Path == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if actor, ok := service.ActorFromContext(r.Context()); ok {
			fields = append(fields, zap.String("actor", actor.Username))
		}
		if ww.Status() >= http.StatusInternalServerError {
			a.log.Error("request failed", fields...)
			return
		}
		a.log.Info("request", fields...)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour
// bucket. Clients send it as X-CSRF-Token on every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// decode reads a JSON body into dest and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		writeError(w, http.StatusBadRequest, validationError(err))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), rule))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(parts, "; "))
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrBackupUnavailable):
		return http.StatusServiceUnavailable
	}
	switch store.Code(err) {
	case "NotFound", "SaleNotFound":
		return http.StatusNotFound
	case "InsufficientStock", "AlreadyVoided", "InUse", "NegativeStockRejected":
		return http.StatusConflict
	case "CreditLimitExceeded", "GeneralCustomerCreditNotAllowed", "InvalidDeliveryDetails",
		"ReturnExceedsAvailable", "OverpaymentNotAllowed":
		return http.StatusUnprocessableEntity
	case "InvalidTransaction":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("internal error", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses; 4xx messages are meant for
// the client.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	code := store.Code(err)
	switch {
	case status == http.StatusServiceUnavailable:
		code = "Unavailable"
	case status >= http.StatusInternalServerError:
		msg = "internal server error"
		code = "Internal"
	case status == http.StatusUnauthorized:
		code = "Unauthorized"
	case status == http.StatusForbidden:
		code = "Forbidden"
	case code == "Internal":
		code = http.StatusText(status)
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
