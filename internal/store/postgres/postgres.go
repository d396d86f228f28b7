package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"bukukas/backend/internal/domain"
	"bukukas/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates the ledger tables and the constraints that back the
// single-open-session invariant: a unique (store_id, date) pair plus a
// partial unique index allowing at most one open row per store. Concurrent
// opens race on these constraints instead of on application code.
func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS cash_sessions (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			date DATE NOT NULL,
			is_open BOOLEAN NOT NULL,
			total_expenses NUMERIC(14,2) NOT NULL DEFAULT 0,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			UNIQUE (store_id, date)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS cash_sessions_one_open
			ON cash_sessions (store_id) WHERE is_open`,
		`CREATE TABLE IF NOT EXISTS cash_expenses (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES cash_sessions(id),
			store_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			description TEXT NOT NULL,
			amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
			category TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			date TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS cash_expenses_store_date
			ON cash_expenses (store_id, date)`,
		`CREATE TABLE IF NOT EXISTS cash_flows (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('INCOME', 'EXPENSE')),
			description TEXT NOT NULL,
			amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
			category TEXT NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			is_recurring BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS cash_flows_store_date
			ON cash_flows (store_id, date)`,
		`CREATE TABLE IF NOT EXISTS user_accounts (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			store_id TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) OpenSession(ctx context.Context, storeID string, date time.Time, openedAt time.Time) (*domain.CashSession, error) {
	if strings.TrimSpace(storeID) == "" {
		return nil, store.ErrInvalidEntry
	}
	day := domain.DayOf(date)
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}

	session := domain.CashSession{
		ID:            uuid.NewString(),
		StoreID:       storeID,
		Date:          day,
		IsOpen:        true,
		TotalExpenses: decimal.Zero,
		OpenedAt:      openedAt,
	}

	// The insert itself is the check-then-create: either unique constraint
	// turns a concurrent duplicate open into ErrConflict.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, store_id, date, is_open, total_expenses, opened_at, closed_at)
		VALUES ($1, $2, $3, TRUE, 0, $4, NULL)
	`, session.ID, session.StoreID, dateArg(day), session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) CloseSession(ctx context.Context, storeID string, date time.Time, closedAt time.Time) (*domain.CashSession, error) {
	day := domain.DayOf(date)
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	var session domain.CashSession
	var closedAtNull sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET is_open = FALSE, closed_at = $3
		WHERE store_id = $1 AND date = $2 AND is_open
		RETURNING id, store_id, date, is_open, total_expenses, opened_at, closed_at
	`, storeID, dateArg(day), closedAt).Scan(
		&session.ID,
		&session.StoreID,
		&session.Date,
		&session.IsOpen,
		&session.TotalExpenses,
		&session.OpenedAt,
		&closedAtNull,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeSession(&session, closedAtNull)
	return &session, nil
}

func (s *Store) GetOpenSession(ctx context.Context, storeID string, asOf time.Time) (*domain.CashSession, error) {
	day := domain.DayOf(asOf)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, date, is_open, total_expenses, opened_at, closed_at
		FROM cash_sessions
		WHERE store_id = $1 AND date = $2 AND is_open
	`, storeID, dateArg(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []domain.CashSession
	for rows.Next() {
		var session domain.CashSession
		var closedAtNull sql.NullTime
		if err := rows.Scan(
			&session.ID,
			&session.StoreID,
			&session.Date,
			&session.IsOpen,
			&session.TotalExpenses,
			&session.OpenedAt,
			&closedAtNull,
		); err != nil {
			return nil, err
		}
		normalizeSession(&session, closedAtNull)
		found = append(found, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, store.ErrNotFound
	case 1:
		session := found[0]
		return &session, nil
	default:
		// The partial unique index should make this unreachable. If it ever
		// fires, the atomicity contract was violated upstream.
		return nil, store.ErrIntegrity
	}
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.CashExpense) (*domain.CashExpense, error) {
	if expense.SessionID == "" || !expense.Amount.IsPositive() {
		return nil, store.ErrInvalidEntry
	}
	if expense.ID == "" {
		expense.ID = uuid.NewString()
	}
	if expense.Date.IsZero() {
		expense.Date = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock on the session serializes concurrent expense postings; the
	// insert and the total increment commit together or not at all.
	var isOpen bool
	var sessionStoreID string
	var sessionDate time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT store_id, date, is_open
		FROM cash_sessions
		WHERE id = $1
		FOR UPDATE
	`, expense.SessionID).Scan(&sessionStoreID, &sessionDate, &isOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !isOpen {
		return nil, store.ErrNotFound
	}

	expense.StoreID = sessionStoreID
	expense.SessionDate = domain.DayOf(sessionDate)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_expenses (id, session_id, store_id, user_id, description, amount, category, notes, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, expense.ID, expense.SessionID, expense.StoreID, expense.UserID,
		expense.Description, expense.Amount, expense.Category, expense.Notes, expense.Date)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET total_expenses = total_expenses + $2
		WHERE id = $1
	`, expense.SessionID, expense.Amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := expense
	return &saved, nil
}

func (s *Store) ListExpenses(ctx context.Context, storeID string, from *time.Time, to *time.Time) ([]domain.CashExpense, error) {
	query := `
		SELECT e.id, e.session_id, e.store_id, e.user_id, e.description, e.amount,
			e.category, e.notes, e.date, s.date
		FROM cash_expenses e
		JOIN cash_sessions s ON s.id = e.session_id
		WHERE e.store_id = $1`
	args := []any{storeID}
	if from != nil {
		args = append(args, *from)
		query += " AND e.date >= $" + strconv.Itoa(len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += " AND e.date <= $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY e.date DESC, e.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CashExpense, 0)
	for rows.Next() {
		var expense domain.CashExpense
		if err := rows.Scan(
			&expense.ID,
			&expense.SessionID,
			&expense.StoreID,
			&expense.UserID,
			&expense.Description,
			&expense.Amount,
			&expense.Category,
			&expense.Notes,
			&expense.Date,
			&expense.SessionDate,
		); err != nil {
			return nil, err
		}
		expense.Date = expense.Date.UTC()
		expense.SessionDate = domain.DayOf(expense.SessionDate)
		result = append(result, expense)
	}
	return result, rows.Err()
}

func (s *Store) CreateFlow(ctx context.Context, flow domain.CashFlow) (*domain.CashFlow, error) {
	if !flow.Amount.IsPositive() {
		return nil, store.ErrInvalidEntry
	}
	if flow.Type != domain.FlowTypeIncome && flow.Type != domain.FlowTypeExpense {
		return nil, store.ErrInvalidEntry
	}
	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}
	if flow.Date.IsZero() {
		flow.Date = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_flows (id, store_id, user_id, type, description, amount, category, date, is_recurring)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, flow.ID, flow.StoreID, flow.UserID, flow.Type, flow.Description,
		flow.Amount, flow.Category, flow.Date, flow.IsRecurring)
	if err != nil {
		return nil, err
	}
	saved := flow
	return &saved, nil
}

func (s *Store) ListFlows(ctx context.Context, storeID string, from *time.Time, to *time.Time) ([]domain.CashFlow, error) {
	query := `
		SELECT id, store_id, user_id, type, description, amount, category, date, is_recurring
		FROM cash_flows
		WHERE store_id = $1`
	args := []any{storeID}
	if from != nil {
		args = append(args, *from)
		query += " AND date >= $" + strconv.Itoa(len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += " AND date <= $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY date DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CashFlow, 0)
	for rows.Next() {
		var flow domain.CashFlow
		if err := rows.Scan(
			&flow.ID,
			&flow.StoreID,
			&flow.UserID,
			&flow.Type,
			&flow.Description,
			&flow.Amount,
			&flow.Category,
			&flow.Date,
			&flow.IsRecurring,
		); err != nil {
			return nil, err
		}
		flow.Date = flow.Date.UTC()
		result = append(result, flow)
	}
	return result, rows.Err()
}

func (s *Store) ListActiveStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, active
		FROM stores
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Store, 0)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.Active); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidEntry
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_accounts (username, password, role, store_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, username, user.Password, user.Role, user.StoreID, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, store_id, active, created_at
		FROM user_accounts
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.UserAccount, 0)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.StoreID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_accounts SET password = $2 WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return store.ErrNotFound
	}
	return err
}

func normalizeSession(session *domain.CashSession, closedAt sql.NullTime) {
	session.Date = domain.DayOf(session.Date)
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
}

func dateArg(day time.Time) string {
	return day.Format("2006-01-02")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
