package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin        = "admin"
	RoleStoreManager = "store_manager"
	RoleCashier      = "cashier"
)

const (
	FlowTypeIncome  = "INCOME"
	FlowTypeExpense = "EXPENSE"
)

// Actor is the authenticated caller identity attached to every request.
type Actor struct {
	Username string
	Role     string
	StoreID  string
}

type Store struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// CashSession is the daily cash-register session of one store. At most one
// session exists per (store, calendar day) and at most one may be open per
// store at any time. TotalExpenses only grows while the session is open, and
// only through expense creation.
type CashSession struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	Date          time.Time       `json:"date"`
	IsOpen        bool            `json:"is_open"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

// CashExpense is a register expense tied to an open CashSession. Its amount
// is always reflected in the owning session's TotalExpenses; the two are
// written in one transaction.
type CashExpense struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	StoreID     string          `json:"store_id"`
	UserID      string          `json:"user_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Notes       string          `json:"notes,omitempty"`
	Date        time.Time       `json:"date"`
	// SessionDate is the owning session's calendar day, populated on listing.
	SessionDate time.Time `json:"session_date"`
}

// CashFlow is a standalone ledger entry independent of the session lifecycle
// (rent, recurring costs, backfilled income). Amount is always positive; Type
// fixes the sign used by reporting.
type CashFlow struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	UserID      string          `json:"user_id"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
	IsRecurring bool            `json:"is_recurring"`
}

type OpenSessionRequest struct {
	Date string `json:"date,omitempty"`
}

type CloseSessionRequest struct {
	Date string `json:"date,omitempty"`
}

type SessionResponse struct {
	Session CashSession `json:"session"`
}

type RecordExpenseRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Notes       string          `json:"notes,omitempty"`
}

type ExpenseResponse struct {
	Expense CashExpense `json:"expense"`
}

type ExpenseListResponse struct {
	Expenses []CashExpense `json:"expenses"`
}

type RecordFlowRequest struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Date        string          `json:"date,omitempty"`
	IsRecurring bool            `json:"is_recurring,omitempty"`
}

type FlowResponse struct {
	Flow CashFlow `json:"cash_flow"`
}

type FlowListResponse struct {
	Flows []CashFlow `json:"cash_flows"`
}

// ReportPeriod is the inclusive date window a report covers.
type ReportPeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// CashFlowReport is the per-store reconciliation view over a date window.
// Categories with no entries in the window are absent from the maps, not
// zero-filled.
type CashFlowReport struct {
	StoreID            string                     `json:"store_id"`
	Period             ReportPeriod               `json:"period"`
	TotalIncome        decimal.Decimal            `json:"total_income"`
	TotalExpenses      decimal.Decimal            `json:"total_expenses"`
	NetCashFlow        decimal.Decimal            `json:"net_cash_flow"`
	IncomeByCategory   map[string]decimal.Decimal `json:"income_by_category"`
	ExpensesByCategory map[string]decimal.Decimal `json:"expenses_by_category"`
	Entries            []CashFlow                 `json:"entries"`
}

// StoreBreakdown is one store's figures inside a consolidated report. Stores
// with no activity in the window still appear with zero values.
type StoreBreakdown struct {
	StoreID       string          `json:"store_id"`
	StoreName     string          `json:"store_name"`
	TotalSales    decimal.Decimal `json:"total_sales"`
	TotalIncome   decimal.Decimal `json:"total_income"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	NetCashFlow   decimal.Decimal `json:"net_cash_flow"`
}

type ConsolidatedReport struct {
	Period        ReportPeriod     `json:"period"`
	TotalStores   int              `json:"total_stores"`
	Stores        []StoreBreakdown `json:"stores"`
	TotalSales    decimal.Decimal  `json:"total_sales"`
	TotalIncome   decimal.Decimal  `json:"total_income"`
	TotalExpenses decimal.Decimal  `json:"total_expenses"`
	NetCashFlow   decimal.Decimal  `json:"net_cash_flow"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	StoreID   string
	Active    bool
	CreatedAt time.Time
}
