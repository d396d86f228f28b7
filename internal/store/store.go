package store

import (
	"context"
	"errors"
	"time"

	"bukukas/backend/internal/domain"
)

var (
	// ErrNotFound covers missing sessions and entities, including posting an
	// expense with no open session.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when opening a session that already exists for
	// the store/day, or while another session is still open for the store.
	ErrConflict = errors.New("conflict")
	// ErrInvalidEntry covers rejected input: non-positive amounts, empty
	// required fields, malformed date ranges.
	ErrInvalidEntry = errors.New("invalid entry")
	// ErrIntegrity signals the backing store violated the ledger's atomicity
	// contract (e.g. more than one open session for a store). Fatal, never
	// retried.
	ErrIntegrity = errors.New("ledger integrity fault")
)

// Repository is the persistence contract of the cash ledger. Multi-step
// writes (open-session check-then-create, expense insert-plus-increment) are
// atomic inside the implementation: the caller never observes them
// half-applied.
type Repository interface {
	// OpenSession atomically checks for and creates the session of the given
	// store/day. ErrConflict if a session already exists for that day or the
	// store still has an open session.
	OpenSession(ctx context.Context, storeID string, date time.Time, openedAt time.Time) (*domain.CashSession, error)
	// CloseSession closes the open session of the given store/day.
	// ErrNotFound if no open session exists.
	CloseSession(ctx context.Context, storeID string, date time.Time, closedAt time.Time) (*domain.CashSession, error)
	// GetOpenSession returns the open session whose date matches the calendar
	// day of asOf. ErrNotFound when none; ErrIntegrity if the store reports
	// more than one open session for the day.
	GetOpenSession(ctx context.Context, storeID string, asOf time.Time) (*domain.CashSession, error)

	// CreateExpense inserts the expense and increments the owning session's
	// total in one transaction. ErrNotFound if the session is absent or
	// closed.
	CreateExpense(ctx context.Context, expense domain.CashExpense) (*domain.CashExpense, error)
	// ListExpenses returns the store's expenses filtered on the expense's own
	// date (inclusive bounds, nil means unbounded), newest first, each joined
	// with its session's calendar day.
	ListExpenses(ctx context.Context, storeID string, from *time.Time, to *time.Time) ([]domain.CashExpense, error)

	CreateFlow(ctx context.Context, flow domain.CashFlow) (*domain.CashFlow, error)
	// ListFlows returns the store's flow entries filtered by date (inclusive
	// bounds, nil means unbounded), newest first.
	ListFlows(ctx context.Context, storeID string, from *time.Time, to *time.Time) ([]domain.CashFlow, error)

	ListActiveStores(ctx context.Context) ([]domain.Store, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
