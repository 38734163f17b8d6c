package main

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// CheckBudget checks a project's model spend against its monthly budget.
// A nil monthly budget means unlimited and skips usage aggregation entirely.
// Enforcement is strict: a project exactly at its limit has no quota.
func CheckBudget(db *sql.DB, tenantID, projectID string, now time.Time) (BudgetCheckResult, error) {
	settings, err := GetProjectSettings(db, tenantID, projectID)
	if err != nil {
		return BudgetCheckResult{}, fmt.Errorf("load project settings: %w", err)
	}
	if settings.MonthlyBudgetUSD == nil {
		return BudgetCheckResult{HasQuota: true}, nil
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	nextMonth := monthStart.AddDate(0, 1, 0)
	used, err := GetMonthlySpend(db, tenantID, projectID, monthStart, nextMonth)
	if err != nil {
		return BudgetCheckResult{}, fmt.Errorf("aggregate monthly spend: %w", err)
	}

	budget := *settings.MonthlyBudgetUSD
	remaining := budget - used
	if remaining < 0 {
		remaining = 0
	}
	return BudgetCheckResult{
		HasQuota:           used < budget,
		RemainingBudgetUSD: remaining,
		MonthlyBudgetUSD:   settings.MonthlyBudgetUSD,
		UsedBudgetUSD:      used,
	}, nil
}

// EstimateCost prices one invocation from token counts, rounded to 6 decimal
// places.
func EstimateCost(inputTokens, outputTokens int64, cost ModelCost) float64 {
	c := float64(inputTokens)/1000*cost.InputPerK + float64(outputTokens)/1000*cost.OutputPerK
	return math.Round(c*1e6) / 1e6
}
