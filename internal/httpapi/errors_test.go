package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"bukukas/backend/internal/domain"
	"bukukas/backend/internal/policy"
	"bukukas/backend/internal/service"
	"bukukas/backend/internal/store"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{policy.ErrForbidden, http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{store.ErrInvalidEntry, http.StatusBadRequest},
		{store.ErrIntegrity, http.StatusInternalServerError},
		{errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.status {
			t.Fatalf("statusForError(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}

func TestIsTransient(t *testing.T) {
	for _, err := range []error{
		policy.ErrForbidden,
		store.ErrNotFound,
		store.ErrConflict,
		store.ErrInvalidEntry,
		store.ErrIntegrity,
		nil,
	} {
		if isTransient(err) {
			t.Fatalf("expected %v to be non-transient", err)
		}
	}
	if !isTransient(errors.New("connection reset")) {
		t.Fatalf("expected unknown errors to be transient")
	}
}

// faultyRepo fails every session read with a fixed error, counting calls so
// tests can observe retry behavior.
type faultyRepo struct {
	err   error
	calls int
}

func (f *faultyRepo) OpenSession(context.Context, string, time.Time, time.Time) (*domain.CashSession, error) {
	return nil, f.err
}

func (f *faultyRepo) CloseSession(context.Context, string, time.Time, time.Time) (*domain.CashSession, error) {
	return nil, f.err
}

func (f *faultyRepo) GetOpenSession(context.Context, string, time.Time) (*domain.CashSession, error) {
	f.calls++
	return nil, f.err
}

func (f *faultyRepo) CreateExpense(context.Context, domain.CashExpense) (*domain.CashExpense, error) {
	return nil, f.err
}

func (f *faultyRepo) ListExpenses(context.Context, string, *time.Time, *time.Time) ([]domain.CashExpense, error) {
	return nil, f.err
}

func (f *faultyRepo) CreateFlow(context.Context, domain.CashFlow) (*domain.CashFlow, error) {
	return nil, f.err
}

func (f *faultyRepo) ListFlows(context.Context, string, *time.Time, *time.Time) ([]domain.CashFlow, error) {
	return nil, f.err
}

func (f *faultyRepo) ListActiveStores(context.Context) ([]domain.Store, error) {
	return nil, f.err
}

func (f *faultyRepo) CreateUser(context.Context, domain.UserAccount) error { return f.err }

func (f *faultyRepo) ListUsers(context.Context) ([]domain.UserAccount, error) { return nil, nil }

func (f *faultyRepo) UpdateUserPassword(context.Context, string, string) error { return f.err }

func newFaultyAPI(t *testing.T, repoErr error) (http.Handler, *faultyRepo, string) {
	t.Helper()

	repo := &faultyRepo{err: repoErr}
	svc := service.New(repo, nil, nil, time.Second, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, nil)
	api := New(svc, auth, "*", nil)

	token, err := auth.sign("manager", domain.RoleStoreManager, "store-001", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return api.Handler(), repo, token
}

// An integrity fault is fatal: 500, generic body, and no retry.
func TestIntegrityFaultNotRetried(t *testing.T) {
	handler, repo, token := newFaultyAPI(t, store.ErrIntegrity)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/cash-sessions/current", token, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "internal server error" {
		t.Fatalf("expected generic 500 message, got %q", body.Error)
	}
	if repo.calls != 1 {
		t.Fatalf("integrity fault must not be retried, got %d calls", repo.calls)
	}
}

// A transient storage error is retried exactly once and surfaces as 503 with
// a message distinct from the 500 one.
func TestTransientErrorRetriedOnce(t *testing.T) {
	handler, repo, token := newFaultyAPI(t, errors.New("connection reset by peer"))

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/cash-sessions/current", token, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "service unavailable" {
		t.Fatalf("expected service unavailable message, got %q", body.Error)
	}
	if repo.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", repo.calls)
	}
}
