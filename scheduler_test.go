package main

import (
	"context"
	"testing"
)

func TestRunBatch(t *testing.T) {
	db := newTestDB(t)
	seedFile(t, db, "fA",
		Segment{SourceText: "Submit your changes now", TargetText: "ส่ง", WordCount: 4},
		Segment{SourceText: "Hello there friend", TargetText: "สวัสดีเพื่อน", WordCount: 3},
	)
	seedFile(t, db, "fB",
		Segment{SourceText: "Submit your changes now", TargetText: "ยืนยัน", WordCount: 4},
	)

	cfg := testQAConfig()
	orch := newTestOrchestrator(db, cfg, stubInvoke("[]"))
	runner := NewBatchRunner(db, cfg, orch.matcher, orch)

	result := runner.RunBatch(context.Background(), "t1", "p1", []string{"fA", "fB"})
	if result.BatchID == "" {
		t.Error("batch id missing")
	}
	if result.FilesCompleted != 2 || result.FilesFailed != 0 {
		t.Errorf("result = %+v, want both files completed", result)
	}
	if result.CrossFileFindings != 1 {
		t.Errorf("cross-file findings = %d, want 1 inconsistency", result.CrossFileFindings)
	}

	for _, file := range []string{"fA", "fB"} {
		for _, layer := range []string{LayerL1, LayerL2} {
			status, _ := GetFileLayerStatus(db, "t1", file, layer)
			if status != StatusCompleted {
				t.Errorf("file %s layer %s status = %q, want completed", file, layer, status)
			}
		}
		// L3 is off by default.
		status, _ := GetFileLayerStatus(db, "t1", file, LayerL3)
		if status != "" {
			t.Errorf("file %s L3 status = %q, want untouched", file, status)
		}
	}

	findings, err := GetFindingsByFile(db, "t1", "fA")
	if err != nil {
		t.Fatalf("GetFindingsByFile: %v", err)
	}
	if len(findings) != 1 || findings[0].Scope != ScopeCrossFile {
		t.Errorf("fA findings = %+v, want the single cross-file one", findings)
	}
}

func TestRunBatchWithL3(t *testing.T) {
	db := newTestDB(t)
	seedFile(t, db, "fA", Segment{SourceText: "Hello there friend", TargetText: "สวัสดีเพื่อน", WordCount: 3})

	cfg := testQAConfig()
	cfg.RunL3 = true
	orch := newTestOrchestrator(db, cfg, stubInvoke("[]"))
	runner := NewBatchRunner(db, cfg, orch.matcher, orch)

	runner.RunBatch(context.Background(), "t1", "p1", []string{"fA"})
	status, _ := GetFileLayerStatus(db, "t1", "fA", LayerL3)
	if status != StatusCompleted {
		t.Errorf("L3 status = %q, want completed when enabled", status)
	}
}

func TestRunBatchDefersRateLimited(t *testing.T) {
	db := newTestDB(t)
	seedFile(t, db, "fA", Segment{SourceText: "Hello there friend", TargetText: "สวัสดีเพื่อน", WordCount: 3})

	cfg := testQAConfig()
	orch := newTestOrchestrator(db, cfg, stubInvoke("[]"))
	orch.gate = NewRateGate(1, nil)
	orch.gate.Try("p1") // exhaust the project's slot
	runner := NewBatchRunner(db, cfg, orch.matcher, orch)

	result := runner.RunBatch(context.Background(), "t1", "p1", []string{"fA"})
	if result.Deferred != 1 {
		t.Errorf("deferred = %d, want 1", result.Deferred)
	}
	status, _ := GetFileLayerStatus(db, "t1", "fA", LayerL2)
	if status != StatusEligible {
		t.Errorf("L2 status = %q, want eligible for the next run", status)
	}
}

func TestStartQASchedulerRejectsBadSchedule(t *testing.T) {
	db := newTestDB(t)
	cfg := testQAConfig()
	cfg.ScanSchedule = "not a schedule"
	orch := newTestOrchestrator(db, cfg, stubInvoke("[]"))
	runner := NewBatchRunner(db, cfg, orch.matcher, orch)

	if _, err := StartQAScheduler(cfg, runner); err == nil {
		t.Error("invalid schedule should fail")
	}
}
