package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bukukas/backend/internal/domain"
	"bukukas/backend/internal/store"
)

// Store is an in-memory Repository used for dev mode and tests. A single
// mutex makes every multi-step write atomic, mirroring the transactional
// guarantees of the postgres implementation.
type Store struct {
	mu                 sync.RWMutex
	sessionsByID       map[string]*domain.CashSession
	sessionByStoreDay  map[string]string // storeID|day -> session id
	openSessionByStore map[string]string // storeID -> session id
	expenses           []domain.CashExpense
	flows              []domain.CashFlow
	storesByID         map[string]domain.Store
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		sessionsByID:       make(map[string]*domain.CashSession),
		sessionByStoreDay:  make(map[string]string),
		openSessionByStore: make(map[string]string),
		storesByID:         make(map[string]domain.Store),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with two active stores and one user per
// role, for dev/demo mode. Credentials come from SEED_*_PASSWORD environment
// variables with hardcoded dev fallbacks; production deployments use
// PostgreSQL and never hit this path.
func NewSeeded() *Store {
	s := New()
	s.storesByID["store-001"] = domain.Store{ID: "store-001", Name: "Toko Pusat", Active: true}
	s.storesByID["store-002"] = domain.Store{ID: "store-002", Name: "Toko Cabang Timur", Active: true}
	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		storeID  string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "store-001"},
		{"manager", managerPwd, domain.RoleStoreManager, "store-001"},
		{"manager2", managerPwd, domain.RoleStoreManager, "store-002"},
		{"cashier", cashierPwd, domain.RoleCashier, "store-001"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   u.storeID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func storeDayKey(storeID string, day time.Time) string {
	return storeID + "|" + day.Format("2006-01-02")
}

func (s *Store) OpenSession(_ context.Context, storeID string, date time.Time, openedAt time.Time) (*domain.CashSession, error) {
	if strings.TrimSpace(storeID) == "" {
		return nil, store.ErrInvalidEntry
	}
	day := domain.DayOf(date)
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check-then-create runs under the lock: two concurrent opens cannot both
	// pass the checks.
	if _, exists := s.sessionByStoreDay[storeDayKey(storeID, day)]; exists {
		return nil, store.ErrConflict
	}
	if _, open := s.openSessionByStore[storeID]; open {
		return nil, store.ErrConflict
	}

	session := &domain.CashSession{
		ID:            uuid.NewString(),
		StoreID:       storeID,
		Date:          day,
		IsOpen:        true,
		TotalExpenses: decimal.Zero,
		OpenedAt:      openedAt,
	}
	s.sessionsByID[session.ID] = session
	s.sessionByStoreDay[storeDayKey(storeID, day)] = session.ID
	s.openSessionByStore[storeID] = session.ID

	saved := *session
	return &saved, nil
}

func (s *Store) CloseSession(_ context.Context, storeID string, date time.Time, closedAt time.Time) (*domain.CashSession, error) {
	day := domain.DayOf(date)
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessionByStoreDay[storeDayKey(storeID, day)]
	if !ok {
		return nil, store.ErrNotFound
	}
	session := s.sessionsByID[id]
	if session == nil || !session.IsOpen {
		return nil, store.ErrNotFound
	}

	session.IsOpen = false
	at := closedAt
	session.ClosedAt = &at
	delete(s.openSessionByStore, storeID)

	saved := *session
	return &saved, nil
}

func (s *Store) GetOpenSession(_ context.Context, storeID string, asOf time.Time) (*domain.CashSession, error) {
	day := domain.DayOf(asOf)

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.openSessionByStore[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	session := s.sessionsByID[id]
	if session == nil || !session.IsOpen || !session.Date.Equal(day) {
		return nil, store.ErrNotFound
	}

	saved := *session
	return &saved, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.CashExpense) (*domain.CashExpense, error) {
	if expense.SessionID == "" || !expense.Amount.IsPositive() {
		return nil, store.ErrInvalidEntry
	}
	if expense.ID == "" {
		expense.ID = uuid.NewString()
	}
	if expense.Date.IsZero() {
		expense.Date = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Insert and increment under one lock: the expense and the session total
	// are never observed out of sync.
	session, ok := s.sessionsByID[expense.SessionID]
	if !ok || !session.IsOpen {
		return nil, store.ErrNotFound
	}

	expense.StoreID = session.StoreID
	expense.SessionDate = session.Date
	session.TotalExpenses = session.TotalExpenses.Add(expense.Amount)
	s.expenses = append(s.expenses, expense)

	saved := expense
	return &saved, nil
}

func (s *Store) ListExpenses(_ context.Context, storeID string, from *time.Time, to *time.Time) ([]domain.CashExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashExpense, 0)
	for _, expense := range s.expenses {
		if expense.StoreID != storeID {
			continue
		}
		if !inRange(expense.Date, from, to) {
			continue
		}
		result = append(result, expense)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date.After(result[j].Date)
	})
	return result, nil
}

func (s *Store) CreateFlow(_ context.Context, flow domain.CashFlow) (*domain.CashFlow, error) {
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

	s.mu.Lock()
	s.flows = append(s.flows, flow)
	s.mu.Unlock()

	saved := flow
	return &saved, nil
}

func (s *Store) ListFlows(_ context.Context, storeID string, from *time.Time, to *time.Time) ([]domain.CashFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashFlow, 0)
	for _, flow := range s.flows {
		if flow.StoreID != storeID {
			continue
		}
		if !inRange(flow.Date, from, to) {
			continue
		}
		result = append(result, flow)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date.After(result[j].Date)
	})
	return result, nil
}

func (s *Store) ListActiveStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Store, 0, len(s.storesByID))
	for _, st := range s.storesByID {
		if st.Active {
			result = append(result, st)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// AddStore registers a store row. Used by seeding and tests.
func (s *Store) AddStore(st domain.Store) {
	s.mu.Lock()
	s.storesByID[st.ID] = st
	s.mu.Unlock()
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func inRange(t time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
