package main

import (
	"strings"
	"testing"
)

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(text string) {
	n.messages = append(n.messages, text)
}

func defaultTestWeights() PenaltyWeights {
	return PenaltyWeights{Critical: 10, Major: 5, Minor: 1}
}

func TestCalculateScorePerfect(t *testing.T) {
	r := CalculateScore(nil, 1000, defaultTestWeights())
	if r.MQMScore != 100 || r.NPT != 0 || r.Status != ScoreCalculated {
		t.Errorf("result = %+v, want a perfect 100", r)
	}
}

func TestCalculateScoreWeightedPenalty(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityCritical, Status: FindingOpen},
		{Severity: SeverityMajor, Status: FindingConfirmed},
		{Severity: SeverityMinor, Status: FindingOpen},
	}
	r := CalculateScore(findings, 1000, defaultTestWeights())
	// 10 + 5 + 1 penalty points over 1000 words.
	if r.NPT != 16 {
		t.Errorf("npt = %v, want 16", r.NPT)
	}
	if r.MQMScore != 84 {
		t.Errorf("score = %v, want 84", r.MQMScore)
	}
	if r.CriticalCount != 1 || r.MajorCount != 1 || r.MinorCount != 1 {
		t.Errorf("counts = %+v", r)
	}
}

func TestCalculateScoreNonContributingExcluded(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityCritical, Status: FindingDismissed},
		{Severity: SeverityMajor, Status: FindingMuted},
		{Severity: SeverityMinor, Status: FindingOpen},
	}
	r := CalculateScore(findings, 1000, defaultTestWeights())
	if r.MQMScore != 99 {
		t.Errorf("score = %v, want 99 (only the open minor counts)", r.MQMScore)
	}
	if r.CriticalCount != 0 || r.MajorCount != 0 {
		t.Errorf("dismissed/muted findings counted: %+v", r)
	}
}

func TestCalculateScoreClampsAtZero(t *testing.T) {
	var findings []Finding
	for i := 0; i < 20; i++ {
		findings = append(findings, Finding{Severity: SeverityCritical, Status: FindingOpen})
	}
	r := CalculateScore(findings, 100, defaultTestWeights())
	if r.MQMScore != 0 {
		t.Errorf("score = %v, want clamped to 0", r.MQMScore)
	}
}

func TestCalculateScoreZeroWordsUndefined(t *testing.T) {
	r := CalculateScore([]Finding{{Severity: SeverityMinor, Status: FindingOpen}}, 0, defaultTestWeights())
	if r.Status != ScoreNA {
		t.Errorf("status = %q, want na for zero words", r.Status)
	}
	if r.MQMScore != 0 || r.NPT != 0 {
		t.Errorf("undefined score should not carry values: %+v", r)
	}
}

func TestFilterMuted(t *testing.T) {
	findings := []Finding{
		{Category: "style", Severity: SeverityMajor},
		{Category: "accuracy", Severity: SeverityMinor},
		{Category: "Style", Severity: SeverityMinor},
	}
	got := filterMuted(findings, []string{"style"})
	if len(got) != 1 || got[0].Category != "accuracy" {
		t.Errorf("filtered = %+v, want only accuracy", got)
	}
	if got := filterMuted(findings, nil); len(got) != 3 {
		t.Errorf("nil mute list should pass everything, got %d", len(got))
	}
}

func TestEvaluateAutoPassGates(t *testing.T) {
	db := newTestDB(t)
	cfg := testQAConfig()
	cfg.MinPairHistory = 2

	clean := ScoreResult{MQMScore: 98, TotalWords: 1000, Status: ScoreCalculated}

	// No history yet: a new pair never auto-passes.
	passed, _, err := EvaluateAutoPass(db, cfg, clean, "t1", "en", "th")
	if err != nil {
		t.Fatalf("EvaluateAutoPass: %v", err)
	}
	if passed {
		t.Error("pair with no history should not auto-pass")
	}

	for i, file := range []string{"h1", "h2"} {
		s := Score{FileID: file, ProjectID: "p1", TenantID: "t1", SourceLang: "en", TargetLang: "th", MQMScore: 99, TotalWords: 100 + i, Status: ScoreCalculated}
		if _, err := ReplaceScore(db, s); err != nil {
			t.Fatalf("ReplaceScore: %v", err)
		}
	}

	passed, rationale, err := EvaluateAutoPass(db, cfg, clean, "t1", "en", "th")
	if err != nil {
		t.Fatalf("EvaluateAutoPass: %v", err)
	}
	if !passed {
		t.Fatal("clean score with history should auto-pass")
	}
	if !strings.Contains(rationale, "0 critical") {
		t.Errorf("rationale = %q", rationale)
	}

	// A critical finding always blocks auto-pass.
	withCritical := clean
	withCritical.CriticalCount = 1
	if passed, _, _ := EvaluateAutoPass(db, cfg, withCritical, "t1", "en", "th"); passed {
		t.Error("critical finding must block auto-pass")
	}

	// Below threshold blocks.
	low := clean
	low.MQMScore = 90
	if passed, _, _ := EvaluateAutoPass(db, cfg, low, "t1", "en", "th"); passed {
		t.Error("sub-threshold score must not auto-pass")
	}

	// Undefined scores never auto-pass.
	na := ScoreResult{Status: ScoreNA}
	if passed, _, _ := EvaluateAutoPass(db, cfg, na, "t1", "en", "th"); passed {
		t.Error("na score must not auto-pass")
	}
}

func TestEvaluateAutoPassPairThresholdOverride(t *testing.T) {
	db := newTestDB(t)
	cfg := testQAConfig()
	cfg.MinPairHistory = 1

	if _, err := ReplaceScore(db, Score{FileID: "h1", ProjectID: "p1", TenantID: "t1", SourceLang: "en", TargetLang: "th", MQMScore: 99, TotalWords: 100, Status: ScoreCalculated}); err != nil {
		t.Fatalf("ReplaceScore: %v", err)
	}
	if err := UpsertLangPairSettings(db, LangPairSettings{TenantID: "t1", SourceLang: "en", TargetLang: "th", AutoPassThreshold: 98}); err != nil {
		t.Fatalf("UpsertLangPairSettings: %v", err)
	}

	r := ScoreResult{MQMScore: 96, TotalWords: 1000, Status: ScoreCalculated}
	if passed, _, _ := EvaluateAutoPass(db, cfg, r, "t1", "en", "th"); passed {
		t.Error("96 should fail the pair's 98 threshold even though it clears the global 95")
	}
	r.MQMScore = 98.5
	if passed, _, _ := EvaluateAutoPass(db, cfg, r, "t1", "en", "th"); !passed {
		t.Error("98.5 should clear the pair's 98 threshold")
	}
}

func TestRecalculateFileScore(t *testing.T) {
	db := newTestDB(t)
	cfg := testQAConfig()

	segments := []Segment{
		{FileID: "f1", ProjectID: "p1", TenantID: "t1", SegmentNumber: 1, SourceText: "a", TargetText: "b", SourceLang: "en", TargetLang: "th", WordCount: 600, ConfirmationState: "translated"},
		{FileID: "f1", ProjectID: "p1", TenantID: "t1", SegmentNumber: 2, SourceText: "c", TargetText: "d", SourceLang: "en", TargetLang: "th", WordCount: 400, ConfirmationState: "translated"},
	}
	if _, err := InsertSegments(db, segments); err != nil {
		t.Fatalf("InsertSegments: %v", err)
	}
	findings := []Finding{{FileID: "f1", SegmentID: 1, ProjectID: "p1", TenantID: "t1", Category: "accuracy", Severity: SeverityMinor, DetectedByLayer: LayerL1, Status: FindingOpen, Scope: ScopeSegment}}
	if err := ReplaceLayerFindings(db, "t1", "f1", LayerL1, findings); err != nil {
		t.Fatalf("ReplaceLayerFindings: %v", err)
	}

	score, err := RecalculateFileScore(db, cfg, &recordingNotifier{}, "t1", "p1", "f1", LayerL1)
	if err != nil {
		t.Fatalf("RecalculateFileScore: %v", err)
	}
	if score.MQMScore != 99 || score.TotalWords != 1000 || score.Status != ScoreCalculated {
		t.Errorf("score = %+v, want 99 over 1000 words", score)
	}
	if score.SourceLang != "en" || score.TargetLang != "th" {
		t.Errorf("langs = %s->%s", score.SourceLang, score.TargetLang)
	}

	stored, err := GetScoreByFile(db, "t1", "f1")
	if err != nil {
		t.Fatalf("GetScoreByFile: %v", err)
	}
	if stored.MQMScore != 99 || stored.LayerCompleted != LayerL1 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestRecalculateFileScoreTenantWeights(t *testing.T) {
	db := newTestDB(t)
	cfg := testQAConfig()
	if err := UpsertPenaltyWeights(db, "t1", PenaltyWeights{Critical: 25, Major: 5, Minor: 1}); err != nil {
		t.Fatalf("UpsertPenaltyWeights: %v", err)
	}

	seg := Segment{FileID: "f1", ProjectID: "p1", TenantID: "t1", SegmentNumber: 1, SourceText: "a", TargetText: "b", SourceLang: "en", TargetLang: "th", WordCount: 1000, ConfirmationState: "translated"}
	if _, err := InsertSegments(db, []Segment{seg}); err != nil {
		t.Fatalf("InsertSegments: %v", err)
	}
	findings := []Finding{{FileID: "f1", SegmentID: 1, ProjectID: "p1", TenantID: "t1", Category: "accuracy", Severity: SeverityCritical, DetectedByLayer: LayerL1, Status: FindingOpen, Scope: ScopeSegment}}
	if err := ReplaceLayerFindings(db, "t1", "f1", LayerL1, findings); err != nil {
		t.Fatalf("ReplaceLayerFindings: %v", err)
	}

	score, err := RecalculateFileScore(db, cfg, &recordingNotifier{}, "t1", "p1", "f1", LayerL1)
	if err != nil {
		t.Fatalf("RecalculateFileScore: %v", err)
	}
	if score.MQMScore != 75 {
		t.Errorf("score = %v, want 75 with the 25-point critical override", score.MQMScore)
	}
}

func TestRecalculateFileScoreMutedCategories(t *testing.T) {
	db := newTestDB(t)
	cfg := testQAConfig()
	if err := UpsertLangPairSettings(db, LangPairSettings{TenantID: "t1", SourceLang: "en", TargetLang: "th", MutedCategories: []string{"style"}}); err != nil {
		t.Fatalf("UpsertLangPairSettings: %v", err)
	}

	seg := Segment{FileID: "f1", ProjectID: "p1", TenantID: "t1", SegmentNumber: 1, SourceText: "a", TargetText: "b", SourceLang: "en", TargetLang: "th", WordCount: 1000, ConfirmationState: "translated"}
	if _, err := InsertSegments(db, []Segment{seg}); err != nil {
		t.Fatalf("InsertSegments: %v", err)
	}
	findings := []Finding{
		{FileID: "f1", SegmentID: 1, ProjectID: "p1", TenantID: "t1", Category: "style", Severity: SeverityMajor, DetectedByLayer: LayerL2, Status: FindingOpen, Scope: ScopeSegment},
		{FileID: "f1", SegmentID: 1, ProjectID: "p1", TenantID: "t1", Category: "accuracy", Severity: SeverityMinor, DetectedByLayer: LayerL2, Status: FindingOpen, Scope: ScopeSegment},
	}
	if err := ReplaceLayerFindings(db, "t1", "f1", LayerL2, findings); err != nil {
		t.Fatalf("ReplaceLayerFindings: %v", err)
	}

	score, err := RecalculateFileScore(db, cfg, &recordingNotifier{}, "t1", "p1", "f1", LayerL2)
	if err != nil {
		t.Fatalf("RecalculateFileScore: %v", err)
	}
	if score.MQMScore != 99 {
		t.Errorf("score = %v, want 99 with the style finding muted", score.MQMScore)
	}
	if score.MajorCount != 0 || score.MinorCount != 1 {
		t.Errorf("counts = %+v", score)
	}
}

func TestRecalculateFileScoreEmptyFile(t *testing.T) {
	db := newTestDB(t)
	score, err := RecalculateFileScore(db, testQAConfig(), &recordingNotifier{}, "t1", "p1", "empty", LayerL1)
	if err != nil {
		t.Fatalf("RecalculateFileScore: %v", err)
	}
	if score.Status != ScoreNA {
		t.Errorf("status = %q, want na for a file with no segments", score.Status)
	}
}

func TestGraduationNotificationFiresOnce(t *testing.T) {
	db := newTestDB(t)
	cfg := testQAConfig()
	cfg.MinPairHistory = 1
	notifier := &recordingNotifier{}

	for _, file := range []string{"f1", "f2"} {
		seg := Segment{FileID: file, ProjectID: "p1", TenantID: "t1", SegmentNumber: 1, SourceText: "a", TargetText: "b", SourceLang: "en", TargetLang: "th", WordCount: 100, ConfirmationState: "translated"}
		if _, err := InsertSegments(db, []Segment{seg}); err != nil {
			t.Fatalf("InsertSegments: %v", err)
		}
		if _, err := RecalculateFileScore(db, cfg, notifier, "t1", "p1", file, LayerL1); err != nil {
			t.Fatalf("RecalculateFileScore: %v", err)
		}
	}
	// Rescore one file to exercise idempotency.
	if _, err := RecalculateFileScore(db, cfg, notifier, "t1", "p1", "f1", LayerL1); err != nil {
		t.Fatalf("RecalculateFileScore rerun: %v", err)
	}

	if len(notifier.messages) != 1 {
		t.Fatalf("graduation fired %d times, want exactly once", len(notifier.messages))
	}
	if !strings.Contains(notifier.messages[0], "en->th") {
		t.Errorf("message = %q", notifier.messages[0])
	}
}
