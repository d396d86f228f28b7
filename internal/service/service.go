package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bukukas/backend/internal/cache"
	"bukukas/backend/internal/domain"
	"bukukas/backend/internal/policy"
	"bukukas/backend/internal/report"
	"bukukas/backend/internal/sales"
	"bukukas/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service wires policy decisions, the ledger repository, the report engine
// and the report cache into the operations the HTTP layer exposes. It holds
// no mutable state between requests.
type Service struct {
	repo      store.Repository
	reports   cache.ReportCache
	sales     sales.Source
	reportTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func New(repo store.Repository, reports cache.ReportCache, salesSource sales.Source, reportTTL time.Duration, logger *zap.Logger) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if salesSource == nil {
		salesSource = sales.NoopSource{}
	}
	if reportTTL <= 0 {
		reportTTL = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:      repo,
		reports:   reports,
		sales:     salesSource,
		reportTTL: reportTTL,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) actor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no authenticated caller", policy.ErrForbidden)
	}
	return actor, nil
}

// OpenCashSession creates the store's cash session for the given day
// (defaulting to today). The check-then-create runs atomically inside the
// repository; a second concurrent open gets ErrConflict, never a duplicate.
func (s *Service) OpenCashSession(ctx context.Context, req domain.OpenSessionRequest) (domain.CashSession, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	if err := policy.Authorize(actor, policy.OpOpenSession); err != nil {
		return domain.CashSession{}, err
	}
	storeID, err := policy.WriteScope(actor)
	if err != nil {
		return domain.CashSession{}, err
	}

	day, err := s.dayOrToday(req.Date)
	if err != nil {
		return domain.CashSession{}, err
	}

	session, err := s.repo.OpenSession(ctx, storeID, day, s.now().UTC())
	if err != nil {
		return domain.CashSession{}, err
	}
	s.logger.Info("cash session opened",
		zap.String("store_id", storeID),
		zap.String("session_id", session.ID),
		zap.Time("date", session.Date))
	return *session, nil
}

func (s *Service) CloseCashSession(ctx context.Context, req domain.CloseSessionRequest) (domain.CashSession, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	if err := policy.Authorize(actor, policy.OpCloseSession); err != nil {
		return domain.CashSession{}, err
	}
	storeID, err := policy.WriteScope(actor)
	if err != nil {
		return domain.CashSession{}, err
	}

	day, err := s.dayOrToday(req.Date)
	if err != nil {
		return domain.CashSession{}, err
	}

	session, err := s.repo.CloseSession(ctx, storeID, day, s.now().UTC())
	if err != nil {
		return domain.CashSession{}, err
	}
	s.logger.Info("cash session closed",
		zap.String("store_id", storeID),
		zap.String("session_id", session.ID),
		zap.String("total_expenses", session.TotalExpenses.StringFixed(2)))
	return *session, nil
}

// CurrentSession returns the store's open session for today.
func (s *Service) CurrentSession(ctx context.Context, requestedStoreID string) (domain.CashSession, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	if err := policy.Authorize(actor, policy.OpReadLedger); err != nil {
		return domain.CashSession{}, err
	}
	storeID, err := policy.ReadScope(actor, requestedStoreID)
	if err != nil {
		return domain.CashSession{}, err
	}

	session, err := s.repo.GetOpenSession(ctx, storeID, s.now().UTC())
	if err != nil {
		return domain.CashSession{}, err
	}
	return *session, nil
}

// RecordExpense posts an expense against the store's currently open session.
// The repository inserts the row and increments the session total in one
// transaction, so the expense-sum invariant holds after every commit.
func (s *Service) RecordExpense(ctx context.Context, req domain.RecordExpenseRequest) (domain.CashExpense, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CashExpense{}, err
	}
	if err := policy.Authorize(actor, policy.OpRecordExpense); err != nil {
		return domain.CashExpense{}, err
	}
	storeID, err := policy.WriteScope(actor)
	if err != nil {
		return domain.CashExpense{}, err
	}

	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.TrimSpace(req.Category)
	if !req.Amount.IsPositive() {
		return domain.CashExpense{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidEntry)
	}
	if req.Description == "" || req.Category == "" {
		return domain.CashExpense{}, fmt.Errorf("%w: description and category are required", store.ErrInvalidEntry)
	}

	session, err := s.repo.GetOpenSession(ctx, storeID, s.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashExpense{}, fmt.Errorf("%w: no open cash session", store.ErrNotFound)
		}
		return domain.CashExpense{}, err
	}

	expense := domain.CashExpense{
		SessionID:   session.ID,
		StoreID:     storeID,
		UserID:      actor.Username,
		Description: req.Description,
		Amount:      req.Amount,
		Category:    req.Category,
		Notes:       strings.TrimSpace(req.Notes),
		Date:        s.now().UTC(),
	}
	created, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.CashExpense{}, err
	}
	s.invalidateReports(ctx, storeID)
	return *created, nil
}

func (s *Service) ListExpenses(ctx context.Context, requestedStoreID string, startDate string, endDate string) ([]domain.CashExpense, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.OpReadLedger); err != nil {
		return nil, err
	}
	storeID, err := policy.ReadScope(actor, requestedStoreID)
	if err != nil {
		return nil, err
	}

	from, to, _, err := parseWindow(startDate, endDate, false)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, storeID, from, to)
}

// RecordFlow inserts a standalone income/expense ledger entry. No session
// linkage: a single-row insert with no shared-state mutation.
func (s *Service) RecordFlow(ctx context.Context, req domain.RecordFlowRequest) (domain.CashFlow, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CashFlow{}, err
	}
	if err := policy.Authorize(actor, policy.OpRecordFlow); err != nil {
		return domain.CashFlow{}, err
	}
	storeID, err := policy.WriteScope(actor)
	if err != nil {
		return domain.CashFlow{}, err
	}

	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.TrimSpace(req.Category)
	if req.Type != domain.FlowTypeIncome && req.Type != domain.FlowTypeExpense {
		return domain.CashFlow{}, fmt.Errorf("%w: type must be INCOME or EXPENSE", store.ErrInvalidEntry)
	}
	if !req.Amount.IsPositive() {
		return domain.CashFlow{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidEntry)
	}
	if req.Description == "" || req.Category == "" {
		return domain.CashFlow{}, fmt.Errorf("%w: description and category are required", store.ErrInvalidEntry)
	}

	date := s.now().UTC()
	if req.Date != "" {
		parsed, err := parseDate(req.Date)
		if err != nil {
			return domain.CashFlow{}, err
		}
		date = parsed
	}

	flow := domain.CashFlow{
		StoreID:     storeID,
		UserID:      actor.Username,
		Type:        req.Type,
		Description: req.Description,
		Amount:      req.Amount,
		Category:    req.Category,
		Date:        date,
		IsRecurring: req.IsRecurring,
	}
	created, err := s.repo.CreateFlow(ctx, flow)
	if err != nil {
		return domain.CashFlow{}, err
	}
	s.invalidateReports(ctx, storeID)
	return *created, nil
}

// invalidateReports drops the store's cached report windows after a ledger
// write. Best effort: a failed invalidation only means staleness up to the
// cache TTL, so it is logged and not surfaced to the caller.
func (s *Service) invalidateReports(ctx context.Context, storeID string) {
	if err := s.reports.Invalidate(ctx, storeID); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.String("store_id", storeID), zap.Error(err))
	}
}

func (s *Service) ListFlows(ctx context.Context, requestedStoreID string, startDate string, endDate string) ([]domain.CashFlow, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.OpReadLedger); err != nil {
		return nil, err
	}
	storeID, err := policy.ReadScope(actor, requestedStoreID)
	if err != nil {
		return nil, err
	}

	from, to, _, err := parseWindow(startDate, endDate, false)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFlows(ctx, storeID, from, to)
}

// CashFlowReport aggregates the store's flow entries over an inclusive date
// window. Results are cached per store and window; ledger writes invalidate
// the store's cached windows, with the TTL as a backstop.
func (s *Service) CashFlowReport(ctx context.Context, requestedStoreID string, startDate string, endDate string) (domain.CashFlowReport, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CashFlowReport{}, err
	}
	if err := policy.Authorize(actor, policy.OpReadLedger); err != nil {
		return domain.CashFlowReport{}, err
	}
	storeID, err := policy.ReadScope(actor, requestedStoreID)
	if err != nil {
		return domain.CashFlowReport{}, err
	}

	from, to, period, err := parseWindow(startDate, endDate, true)
	if err != nil {
		return domain.CashFlowReport{}, err
	}

	cacheKey := cache.ReportKey(storeID, period)
	if cached, ok, err := s.reports.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.logger.Warn("report cache read failed", zap.String("key", cacheKey), zap.Error(err))
	}

	flows, err := s.repo.ListFlows(ctx, storeID, from, to)
	if err != nil {
		return domain.CashFlowReport{}, err
	}
	built := report.BuildCashFlowReport(storeID, period, flows)

	if err := s.reports.Set(ctx, cacheKey, &built, s.reportTTL); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return built, nil
}

// ConsolidatedReport computes per-store figures for every active store plus
// grand totals. Admin only; stores with no activity in the window appear
// with zero values so the caller can reconcile completeness.
func (s *Service) ConsolidatedReport(ctx context.Context, startDate string, endDate string) (domain.ConsolidatedReport, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.ConsolidatedReport{}, err
	}
	if err := policy.Authorize(actor, policy.OpConsolidatedReport); err != nil {
		return domain.ConsolidatedReport{}, err
	}

	from, to, period, err := parseWindow(startDate, endDate, true)
	if err != nil {
		return domain.ConsolidatedReport{}, err
	}

	stores, err := s.repo.ListActiveStores(ctx)
	if err != nil {
		return domain.ConsolidatedReport{}, err
	}

	breakdowns := make([]domain.StoreBreakdown, 0, len(stores))
	for _, st := range stores {
		flows, err := s.repo.ListFlows(ctx, st.ID, from, to)
		if err != nil {
			return domain.ConsolidatedReport{}, err
		}
		totals := report.Summarize(flows)

		storeSales, err := s.sales.TotalSales(ctx, st.ID, *from, *to)
		if err != nil {
			return domain.ConsolidatedReport{}, err
		}

		breakdowns = append(breakdowns, domain.StoreBreakdown{
			StoreID:       st.ID,
			StoreName:     st.Name,
			TotalSales:    storeSales,
			TotalIncome:   totals.Income,
			TotalExpenses: totals.Expenses,
			NetCashFlow:   totals.Net(),
		})
	}
	return report.Consolidate(period, breakdowns), nil
}

func (s *Service) dayOrToday(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.DayOf(s.now()), nil
	}
	parsed, err := parseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	return domain.DayOf(parsed), nil
}

func parseDate(raw string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidEntry)
	}
	return parsed.UTC(), nil
}

// parseWindow validates an inclusive [startDate, endDate] window before any
// query runs. Malformed ranges (end before start) are rejected here; an
// empty window is legal and simply yields zero totals.
func parseWindow(startDate string, endDate string, required bool) (*time.Time, *time.Time, domain.ReportPeriod, error) {
	period := domain.ReportPeriod{StartDate: strings.TrimSpace(startDate), EndDate: strings.TrimSpace(endDate)}

	if period.StartDate == "" && period.EndDate == "" && !required {
		return nil, nil, period, nil
	}
	if period.StartDate == "" || period.EndDate == "" {
		if required {
			return nil, nil, period, fmt.Errorf("%w: startDate and endDate are required", store.ErrInvalidEntry)
		}
	}

	var from, to *time.Time
	if period.StartDate != "" {
		parsed, err := parseDate(period.StartDate)
		if err != nil {
			return nil, nil, period, err
		}
		day := domain.DayOf(parsed)
		from = &day
	}
	if period.EndDate != "" {
		parsed, err := parseDate(period.EndDate)
		if err != nil {
			return nil, nil, period, err
		}
		end := domain.EndOfDay(parsed)
		to = &end
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, period, fmt.Errorf("%w: endDate is before startDate", store.ErrInvalidEntry)
	}
	return from, to, period, nil
}
