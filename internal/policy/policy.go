// Package policy is the single place where role and store-scope decisions
// are made. Handlers and services ask it instead of branching on roles
// inline, so each operation states its required role set exactly once.
package policy

import (
	"errors"
	"fmt"

	"bukukas/backend/internal/domain"
)

// ErrForbidden is the typed denial for every expected authorization failure.
var ErrForbidden = errors.New("forbidden")

type Operation string

const (
	OpOpenSession        Operation = "cash_session.open"
	OpCloseSession       Operation = "cash_session.close"
	OpRecordExpense      Operation = "expense.record"
	OpRecordFlow         Operation = "cash_flow.record"
	OpReadLedger         Operation = "ledger.read"
	OpConsolidatedReport Operation = "report.consolidated"
)

// rolesByOperation is the authorization matrix. An operation missing from
// the map is denied for everyone.
var rolesByOperation = map[Operation]map[string]bool{
	OpOpenSession: {
		domain.RoleAdmin:        true,
		domain.RoleStoreManager: true,
	},
	OpCloseSession: {
		domain.RoleAdmin:        true,
		domain.RoleStoreManager: true,
	},
	OpRecordFlow: {
		domain.RoleAdmin:        true,
		domain.RoleStoreManager: true,
	},
	OpRecordExpense: {
		domain.RoleAdmin:        true,
		domain.RoleStoreManager: true,
		domain.RoleCashier:      true,
	},
	OpReadLedger: {
		domain.RoleAdmin:        true,
		domain.RoleStoreManager: true,
		domain.RoleCashier:      true,
	},
	OpConsolidatedReport: {
		domain.RoleAdmin: true,
	},
}

// Authorize decides whether the actor's role may perform op. It is a pure
// function: expected denials come back as ErrForbidden, never as a panic.
func Authorize(actor domain.Actor, op Operation) error {
	allowed, known := rolesByOperation[op]
	if !known || !allowed[actor.Role] {
		return fmt.Errorf("%w: role %q may not perform %s", ErrForbidden, actor.Role, op)
	}
	return nil
}

// WriteScope returns the store a write operation targets. Writes are always
// scoped to the caller's own store; a caller can never write into a
// different store's ledger.
func WriteScope(actor domain.Actor) (string, error) {
	if actor.StoreID == "" {
		return "", fmt.Errorf("%w: caller has no store scope", ErrForbidden)
	}
	return actor.StoreID, nil
}

// ReadScope resolves the store a read operation targets. Non-admins are
// pinned to their own store regardless of what they request; admins may
// request any store and default to their own.
func ReadScope(actor domain.Actor, requested string) (string, error) {
	if actor.Role == domain.RoleAdmin {
		if requested != "" {
			return requested, nil
		}
		return WriteScope(actor)
	}
	if requested != "" && requested != actor.StoreID {
		return "", fmt.Errorf("%w: store %q is outside the caller's scope", ErrForbidden, requested)
	}
	return WriteScope(actor)
}
