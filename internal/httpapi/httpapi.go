package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bukukas/backend/internal/domain"
	"bukukas/backend/internal/policy"
	"bukukas/backend/internal/service"
	"bukukas/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        logger,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
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
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/cash-sessions/open", a.requireAuth(a.handleSessionOpen))
	mux.HandleFunc("/api/v1/cash-sessions/close", a.requireAuth(a.handleSessionClose))
	mux.HandleFunc("/api/v1/cash-sessions/current", a.requireAuth(a.handleSessionCurrent))

	mux.HandleFunc("/api/v1/financial/cash-flow", a.requireAuth(a.handleCashFlow))
	mux.HandleFunc("/api/v1/financial/cash-flow/report", a.requireAuth(a.handleCashFlowReport))
	mux.HandleFunc("/api/v1/financial/expenses", a.requireAuth(a.handleExpenses))
	mux.HandleFunc("/api/v1/financial/consolidated-report", a.requireAuth(a.handleConsolidatedReport))

	return a.withMiddleware(mux)
}

// requireAuth authenticates the bearer token and attaches the actor to the
// request context. Role checks happen in the policy layer, not here, so every
// authorization rule lives in one place.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.OpenSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := a.service.OpenCashSession(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.SessionResponse{Session: session})
}

func (a *API) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CloseSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := a.service.CloseCashSession(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SessionResponse{Session: session})
}

func (a *API) handleSessionCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	storeID := r.URL.Query().Get("store_id")
	session, err := a.readSession(r, storeID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SessionResponse{Session: session})
}

func (a *API) handleCashFlow(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		flows, err := a.readFlows(r, query.Get("store_id"), query.Get("startDate"), query.Get("endDate"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.FlowListResponse{Flows: flows})
	case http.MethodPost:
		var req domain.RecordFlowRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		flow, err := a.service.RecordFlow(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.FlowResponse{Flow: flow})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCashFlowReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	report, err := a.readReport(r, query.Get("store_id"), query.Get("startDate"), query.Get("endDate"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		expenses, err := a.readExpenses(r, query.Get("store_id"), query.Get("startDate"), query.Get("endDate"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.ExpenseListResponse{Expenses: expenses})
	case http.MethodPost:
		var req domain.RecordExpenseRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		expense, err := a.service.RecordExpense(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.ExpenseResponse{Expense: expense})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleConsolidatedReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	report, err := a.service.ConsolidatedReport(r.Context(), query.Get("startDate"), query.Get("endDate"))
	if err != nil {
		// Consolidated reads fan out over many queries; retrying the whole
		// fan-out on a transient error is not worth the amplification.
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Read paths get one retry, after a short backoff, on transient storage
// errors. Writes never retry: a timed-out write may have committed, and a
// blind second attempt could double-post a ledger entry.

const readRetryBackoff = 100 * time.Millisecond

func (a *API) retryRead(r *http.Request, err error) bool {
	if !isTransient(err) {
		return false
	}
	a.logger.Warn("retrying read after transient storage error", zap.String("path", r.URL.Path), zap.Error(err))
	time.Sleep(readRetryBackoff)
	return true
}

func (a *API) readSession(r *http.Request, storeID string) (domain.CashSession, error) {
	session, err := a.service.CurrentSession(r.Context(), storeID)
	if a.retryRead(r, err) {
		session, err = a.service.CurrentSession(r.Context(), storeID)
	}
	return session, err
}

func (a *API) readFlows(r *http.Request, storeID, startDate, endDate string) ([]domain.CashFlow, error) {
	flows, err := a.service.ListFlows(r.Context(), storeID, startDate, endDate)
	if a.retryRead(r, err) {
		flows, err = a.service.ListFlows(r.Context(), storeID, startDate, endDate)
	}
	return flows, err
}

func (a *API) readExpenses(r *http.Request, storeID, startDate, endDate string) ([]domain.CashExpense, error) {
	expenses, err := a.service.ListExpenses(r.Context(), storeID, startDate, endDate)
	if a.retryRead(r, err) {
		expenses, err = a.service.ListExpenses(r.Context(), storeID, startDate, endDate)
	}
	return expenses, err
}

func (a *API) readReport(r *http.Request, storeID, startDate, endDate string) (domain.CashFlowReport, error) {
	report, err := a.service.CashFlowReport(r.Context(), storeID, startDate, endDate)
	if a.retryRead(r, err) {
		report, err = a.service.CashFlowReport(r.Context(), storeID, startDate, endDate)
	}
	return report, err
}

// isTransient reports whether the error is outside the domain taxonomy, i.e.
// a storage or network fault that a retry might clear. Integrity faults are
// excluded: retrying cannot repair corrupted state.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, policy.ErrForbidden),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrInvalidEntry),
		errors.Is(err, store.ErrIntegrity):
		return false
	}
	return true
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, policy.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidEntry):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrIntegrity):
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(startedAt)))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx messages stay generic so storage errors never leak to clients;
	// 4xx messages are user-facing and keep the original text. 503 gets its
	// own message so callers can tell a transient fault from a fatal one.
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		msg = "service unavailable"
	case status >= 500:
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
