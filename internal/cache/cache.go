package cache

import (
	"context"
	"fmt"
	"time"

	"bukukas/backend/internal/domain"
)

// ReportCache holds recently computed cash-flow reports. Entries are
// invalidated whenever the store's ledger changes; the TTL is a backstop for
// writes that bypass this process.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.CashFlowReport, bool, error)
	Set(ctx context.Context, key string, value *domain.CashFlowReport, ttl time.Duration) error
	// Invalidate drops every cached report window for the store.
	Invalidate(ctx context.Context, storeID string) error
}

// ReportKey builds the cache key for one store's report window. Invalidation
// matches on the storeID segment, so it must stay in this position.
func ReportKey(storeID string, period domain.ReportPeriod) string {
	return fmt.Sprintf("report:cashflow:%s:%s:%s", storeID, period.StartDate, period.EndDate)
}

func reportKeyPattern(storeID string) string {
	return fmt.Sprintf("report:cashflow:%s:*", storeID)
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.CashFlowReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.CashFlowReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
