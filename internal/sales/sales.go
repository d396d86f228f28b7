// Package sales is the seam to the external sales-reporting collaborator.
// The consolidated report needs each store's sales total for the window; how
// that figure is aggregated is not this subsystem's business.
package sales

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Source interface {
	TotalSales(ctx context.Context, storeID string, from time.Time, to time.Time) (decimal.Decimal, error)
}

// NoopSource reports zero sales for every store. Used when no sales
// collaborator is wired in.
type NoopSource struct{}

func (NoopSource) TotalSales(_ context.Context, _ string, _ time.Time, _ time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// StaticSource serves fixed per-store totals. Used in dev mode and tests.
type StaticSource struct {
	Totals map[string]decimal.Decimal
}

func (s StaticSource) TotalSales(_ context.Context, storeID string, _ time.Time, _ time.Time) (decimal.Decimal, error) {
	total, ok := s.Totals[storeID]
	if !ok {
		return decimal.Zero, nil
	}
	return total, nil
}
