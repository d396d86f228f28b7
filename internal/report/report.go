// Package report computes reconciliation views over ledger entries. All
// functions are pure: they fold over rows handed to them and never touch
// storage, so a report is exactly as fresh as the query that fed it.
package report

import (
	"github.com/shopspring/decimal"

	"bukukas/backend/internal/domain"
)

// Totals is the income/expense fold over a set of flow entries.
type Totals struct {
	Income             decimal.Decimal
	Expenses           decimal.Decimal
	IncomeByCategory   map[string]decimal.Decimal
	ExpensesByCategory map[string]decimal.Decimal
}

func (t Totals) Net() decimal.Decimal {
	return t.Income.Sub(t.Expenses)
}

// Summarize partitions flows by type and sums amounts with decimal
// arithmetic. Categories without entries get no map key; callers relying on
// additivity across adjacent windows get exact results because no float ever
// enters the fold.
func Summarize(flows []domain.CashFlow) Totals {
	totals := Totals{
		Income:             decimal.Zero,
		Expenses:           decimal.Zero,
		IncomeByCategory:   make(map[string]decimal.Decimal),
		ExpensesByCategory: make(map[string]decimal.Decimal),
	}
	for _, flow := range flows {
		switch flow.Type {
		case domain.FlowTypeIncome:
			totals.Income = totals.Income.Add(flow.Amount)
			totals.IncomeByCategory[flow.Category] = totals.IncomeByCategory[flow.Category].Add(flow.Amount)
		case domain.FlowTypeExpense:
			totals.Expenses = totals.Expenses.Add(flow.Amount)
			totals.ExpensesByCategory[flow.Category] = totals.ExpensesByCategory[flow.Category].Add(flow.Amount)
		}
	}
	return totals
}

// BuildCashFlowReport assembles the per-store report for one date window.
func BuildCashFlowReport(storeID string, period domain.ReportPeriod, flows []domain.CashFlow) domain.CashFlowReport {
	totals := Summarize(flows)
	return domain.CashFlowReport{
		StoreID:            storeID,
		Period:             period,
		TotalIncome:        totals.Income,
		TotalExpenses:      totals.Expenses,
		NetCashFlow:        totals.Net(),
		IncomeByCategory:   totals.IncomeByCategory,
		ExpensesByCategory: totals.ExpensesByCategory,
		Entries:            flows,
	}
}

// Consolidate sums per-store breakdowns elementwise. Every breakdown passed
// in appears in the output, including all-zero ones, so callers can verify
// that every active store was accounted for.
func Consolidate(period domain.ReportPeriod, breakdowns []domain.StoreBreakdown) domain.ConsolidatedReport {
	consolidated := domain.ConsolidatedReport{
		Period:        period,
		TotalStores:   len(breakdowns),
		Stores:        breakdowns,
		TotalSales:    decimal.Zero,
		TotalIncome:   decimal.Zero,
		TotalExpenses: decimal.Zero,
		NetCashFlow:   decimal.Zero,
	}
	for _, breakdown := range breakdowns {
		consolidated.TotalSales = consolidated.TotalSales.Add(breakdown.TotalSales)
		consolidated.TotalIncome = consolidated.TotalIncome.Add(breakdown.TotalIncome)
		consolidated.TotalExpenses = consolidated.TotalExpenses.Add(breakdown.TotalExpenses)
		consolidated.NetCashFlow = consolidated.NetCashFlow.Add(breakdown.NetCashFlow)
	}
	return consolidated
}
