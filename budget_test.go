package main

import (
	"database/sql"
	"math"
	"testing"
	"time"
)

func setBudget(t *testing.T, db *sql.DB, tenantID, projectID string, budget float64) {
	t.Helper()
	if err := UpsertProjectSettings(db, ProjectSettings{TenantID: tenantID, ProjectID: projectID, MonthlyBudgetUSD: &budget}); err != nil {
		t.Fatalf("UpsertProjectSettings: %v", err)
	}
}

func recordSpend(t *testing.T, db *sql.DB, tenantID, projectID string, cost float64) {
	t.Helper()
	usage := []ModelUsage{{TenantID: tenantID, ProjectID: projectID, FileID: "f1", Layer: LayerL2, Model: "m", InputTokens: 1, OutputTokens: 1, CostUSD: cost}}
	if err := PersistLayerResult(db, tenantID, "f1", LayerL2, nil, usage); err != nil {
		t.Fatalf("PersistLayerResult: %v", err)
	}
}

func TestCheckBudgetUnlimitedWhenUnset(t *testing.T) {
	db := newTestDB(t)
	recordSpend(t, db, "t1", "p1", 100000)

	r, err := CheckBudget(db, "t1", "p1", time.Now().UTC())
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !r.HasQuota {
		t.Error("unset budget should mean unlimited quota")
	}
	if r.MonthlyBudgetUSD != nil {
		t.Errorf("budget = %v, want nil", *r.MonthlyBudgetUSD)
	}
	if r.UsedBudgetUSD != 0 {
		t.Errorf("unlimited check should skip aggregation, got used=%v", r.UsedBudgetUSD)
	}
}

func TestCheckBudgetStrictAtLimit(t *testing.T) {
	db := newTestDB(t)
	setBudget(t, db, "t1", "p1", 100)
	recordSpend(t, db, "t1", "p1", 100)

	r, err := CheckBudget(db, "t1", "p1", time.Now().UTC())
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if r.HasQuota {
		t.Error("project exactly at its limit should have no quota")
	}
	if r.RemainingBudgetUSD != 0 {
		t.Errorf("remaining = %v, want 0", r.RemainingBudgetUSD)
	}
}

func TestCheckBudgetJustUnderLimit(t *testing.T) {
	db := newTestDB(t)
	setBudget(t, db, "t1", "p1", 100)
	recordSpend(t, db, "t1", "p1", 99.99)

	r, err := CheckBudget(db, "t1", "p1", time.Now().UTC())
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !r.HasQuota {
		t.Error("project under its limit should have quota")
	}
	if math.Abs(r.RemainingBudgetUSD-0.01) > 1e-9 {
		t.Errorf("remaining = %v, want 0.01", r.RemainingBudgetUSD)
	}
}

func TestCheckBudgetRemainingNeverNegative(t *testing.T) {
	db := newTestDB(t)
	setBudget(t, db, "t1", "p1", 100)
	recordSpend(t, db, "t1", "p1", 150)

	r, err := CheckBudget(db, "t1", "p1", time.Now().UTC())
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if r.HasQuota {
		t.Error("overspent project should have no quota")
	}
	if r.RemainingBudgetUSD != 0 {
		t.Errorf("remaining = %v, must not go negative", r.RemainingBudgetUSD)
	}
	if r.UsedBudgetUSD != 150 {
		t.Errorf("used = %v, want 150", r.UsedBudgetUSD)
	}
}

func TestCheckBudgetScopedToProject(t *testing.T) {
	db := newTestDB(t)
	setBudget(t, db, "t1", "p1", 100)
	recordSpend(t, db, "t1", "p2", 500)

	r, err := CheckBudget(db, "t1", "p1", time.Now().UTC())
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !r.HasQuota || r.UsedBudgetUSD != 0 {
		t.Errorf("another project's spend leaked in: %+v", r)
	}
}

func TestEstimateCost(t *testing.T) {
	cost := ModelCost{InputPerK: 0.003, OutputPerK: 0.015}
	if got := EstimateCost(1000, 1000, cost); got != 0.018 {
		t.Errorf("cost = %v, want 0.018", got)
	}
	if got := EstimateCost(0, 0, cost); got != 0 {
		t.Errorf("cost = %v, want 0", got)
	}
	// Rounded to 6 decimal places.
	if got := EstimateCost(1, 0, ModelCost{InputPerK: 0.0008}); got != 0.000001 {
		t.Errorf("cost = %v, want 0.000001", got)
	}
	// Unknown model costs are zero-valued, not an error.
	if got := EstimateCost(5000, 5000, ModelCost{}); got != 0 {
		t.Errorf("cost = %v, want 0 for unpriced model", got)
	}
}
