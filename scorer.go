package main

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"strings"
)

// PenaltyWeights map finding severities to MQM penalty points. System
// defaults follow the classic MQM weighting; tenants may override.
type PenaltyWeights struct {
	Critical float64
	Major    float64
	Minor    float64
}

// npt is normalized per this many words, so one minor finding in a
// 1000-word file costs exactly one point.
const nptReferenceWords = 1000

type ScoreResult struct {
	MQMScore      float64
	NPT           float64
	TotalWords    int
	CriticalCount int
	MajorCount    int
	MinorCount    int
	Status        string
}

// CalculateScore converts a finding set and word count into an MQM score.
// Only contributing findings (open, confirmed) count. A zero word count
// makes the score undefined (status "na"), not zero.
func CalculateScore(findings []Finding, totalWords int, weights PenaltyWeights) ScoreResult {
	r := ScoreResult{TotalWords: totalWords}
	for _, f := range findings {
		if !f.Contributing() {
			continue
		}
		switch f.Severity {
		case SeverityCritical:
			r.CriticalCount++
		case SeverityMajor:
			r.MajorCount++
		case SeverityMinor:
			r.MinorCount++
		}
	}

	if totalWords == 0 {
		r.Status = ScoreNA
		return r
	}

	penalty := float64(r.CriticalCount)*weights.Critical +
		float64(r.MajorCount)*weights.Major +
		float64(r.MinorCount)*weights.Minor
	r.NPT = penalty / float64(totalWords) * nptReferenceWords
	r.MQMScore = math.Max(0, 100-r.NPT)
	r.Status = ScoreCalculated
	return r
}

// filterMuted drops findings in categories the language pair has muted.
func filterMuted(findings []Finding, muted []string) []Finding {
	if len(muted) == 0 {
		return findings
	}
	mutedSet := make(map[string]bool, len(muted))
	for _, c := range muted {
		mutedSet[strings.ToLower(strings.TrimSpace(c))] = true
	}
	out := findings[:0:0]
	for _, f := range findings {
		if !mutedSet[strings.ToLower(f.Category)] {
			out = append(out, f)
		}
	}
	return out
}

// EvaluateAutoPass decides whether a calculated score can skip human review:
// the score must clear the language pair's threshold, the file must carry no
// critical findings, and the pair must have enough scored-file history that
// the thresholds are calibrated. A new pair is never auto-passed.
func EvaluateAutoPass(db *sql.DB, cfg Config, r ScoreResult, tenantID, sourceLang, targetLang string) (bool, string, error) {
	if r.Status != ScoreCalculated {
		return false, "", nil
	}
	threshold := cfg.AutoPassThreshold
	minHistory := cfg.MinPairHistory
	if s, ok, err := GetLangPairSettings(db, tenantID, sourceLang, targetLang); err != nil {
		return false, "", err
	} else if ok {
		if s.AutoPassThreshold > 0 {
			threshold = s.AutoPassThreshold
		}
		if s.MinFileHistory > 0 {
			minHistory = s.MinFileHistory
		}
	}

	history, err := CountScoredFiles(db, tenantID, sourceLang, targetLang)
	if err != nil {
		return false, "", err
	}
	if history < minHistory {
		return false, "", nil
	}
	if r.CriticalCount > 0 {
		return false, "", nil
	}
	if r.MQMScore < threshold {
		return false, "", nil
	}
	rationale := fmt.Sprintf("score %.2f >= threshold %.2f, 0 critical findings, %d files of %s->%s history",
		r.MQMScore, threshold, history, sourceLang, targetLang)
	return true, rationale, nil
}

const graduationKind = "calibration_graduated"

// RecalculateFileScore recomputes a file's score from its current finding
// set. The replace runs in one transaction, the previous score is captured
// for audit diffing, and the language pair's one-time graduation
// notification fires when its file count first crosses the calibration
// threshold.
func RecalculateFileScore(db *sql.DB, cfg Config, notifier Notifier, tenantID, projectID, fileID, layerCompleted string) (Score, error) {
	segments, err := GetSegmentsByFile(db, tenantID, fileID)
	if err != nil {
		return Score{}, fmt.Errorf("load segments: %w", err)
	}
	findings, err := GetFindingsByFile(db, tenantID, fileID)
	if err != nil {
		return Score{}, fmt.Errorf("load findings: %w", err)
	}

	totalWords := 0
	sourceLang, targetLang := "", ""
	for _, s := range segments {
		totalWords += s.WordCount
		sourceLang, targetLang = s.SourceLang, s.TargetLang
	}

	weights := cfg.DefaultWeights()
	if w, ok, err := GetPenaltyWeights(db, tenantID); err != nil {
		return Score{}, err
	} else if ok {
		weights = w
	}

	var muted []string
	if s, ok, err := GetLangPairSettings(db, tenantID, sourceLang, targetLang); err != nil {
		return Score{}, err
	} else if ok {
		muted = s.MutedCategories
	}

	result := CalculateScore(filterMuted(findings, muted), totalWords, weights)

	score := Score{
		FileID:         fileID,
		ProjectID:      projectID,
		TenantID:       tenantID,
		SourceLang:     sourceLang,
		TargetLang:     targetLang,
		MQMScore:       result.MQMScore,
		TotalWords:     result.TotalWords,
		CriticalCount:  result.CriticalCount,
		MajorCount:     result.MajorCount,
		MinorCount:     result.MinorCount,
		NPT:            result.NPT,
		LayerCompleted: layerCompleted,
		Status:         result.Status,
	}

	if passed, rationale, err := EvaluateAutoPass(db, cfg, result, tenantID, sourceLang, targetLang); err != nil {
		return Score{}, err
	} else if passed {
		score.Status = ScoreAutoPassed
		score.AutoPassRationale = rationale
	}

	prev, err := ReplaceScore(db, score)
	if err != nil {
		return Score{}, fmt.Errorf("replace score: %w", err)
	}

	detail := fmt.Sprintf("score=%.2f npt=%.2f words=%d status=%s", score.MQMScore, score.NPT, score.TotalWords, score.Status)
	if prev != nil {
		detail = fmt.Sprintf("%s prev_score=%.2f prev_status=%s", detail, prev.MQMScore, prev.Status)
	}
	if err := InsertAuditRecord(db, tenantID, projectID, fileID, "score_calculated", detail); err != nil {
		log.Printf("score audit error (non-fatal): %v", err)
	}

	if err := maybeNotifyGraduation(db, cfg, notifier, tenantID, sourceLang, targetLang); err != nil {
		log.Printf("graduation notification error (non-fatal): %v", err)
	}
	return score, nil
}

// maybeNotifyGraduation fires the one-time "language pair graduated" notice
// when the pair's scored-file count reaches the calibration minimum. The
// notifications table is the containment guard, so idempotent re-runs do not
// re-fire it.
func maybeNotifyGraduation(db *sql.DB, cfg Config, notifier Notifier, tenantID, sourceLang, targetLang string) error {
	minHistory := cfg.MinPairHistory
	if s, ok, err := GetLangPairSettings(db, tenantID, sourceLang, targetLang); err != nil {
		return err
	} else if ok && s.MinFileHistory > 0 {
		minHistory = s.MinFileHistory
	}

	count, err := CountScoredFiles(db, tenantID, sourceLang, targetLang)
	if err != nil {
		return err
	}
	if count < minHistory {
		return nil
	}
	inserted, err := InsertLangPairNotification(db, tenantID, sourceLang, targetLang, graduationKind)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	msg := fmt.Sprintf("Language pair %s->%s reached %d scored files; auto-pass is now eligible for tenant %s.",
		sourceLang, targetLang, count, tenantID)
	log.Printf("lang pair graduated tenant=%s pair=%s->%s files=%d", tenantID, sourceLang, targetLang, count)
	if notifier != nil {
		notifier.Notify(msg)
	}
	return nil
}
