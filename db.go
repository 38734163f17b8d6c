package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	// Batch runs write from several goroutines; WAL plus a busy timeout keeps
	// concurrent transactions from failing fast with "database is locked".
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS segments (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id            TEXT NOT NULL,
		project_id         TEXT NOT NULL,
		tenant_id          TEXT NOT NULL,
		segment_number     INTEGER NOT NULL,
		source_text        TEXT NOT NULL,
		target_text        TEXT NOT NULL DEFAULT '',
		source_lang        TEXT NOT NULL,
		target_lang        TEXT NOT NULL,
		word_count         INTEGER NOT NULL DEFAULT 0,
		confirmation_state TEXT NOT NULL DEFAULT 'draft',
		match_percentage   INTEGER NOT NULL DEFAULT 0,
		inline_tags        TEXT NOT NULL DEFAULT '',
		created_at         DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_segments_file ON segments(tenant_id, file_id);

	CREATE TABLE IF NOT EXISTS glossary_terms (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		glossary_id    TEXT NOT NULL,
		tenant_id      TEXT NOT NULL,
		project_id     TEXT NOT NULL,
		source_term    TEXT NOT NULL,
		target_term    TEXT NOT NULL,
		case_sensitive INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_terms_project ON glossary_terms(tenant_id, project_id);

	CREATE TABLE IF NOT EXISTS findings (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id           TEXT NOT NULL,
		segment_id        INTEGER,
		project_id        TEXT NOT NULL,
		tenant_id         TEXT NOT NULL,
		category          TEXT NOT NULL,
		severity          TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		detected_by_layer TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'open',
		scope             TEXT NOT NULL DEFAULT 'segment',
		related_file_ids  TEXT NOT NULL DEFAULT '',
		source_excerpt    TEXT NOT NULL DEFAULT '',
		target_excerpt    TEXT NOT NULL DEFAULT '',
		confidence        REAL NOT NULL DEFAULT 1.0,
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_findings_file ON findings(tenant_id, file_id);
	CREATE INDEX IF NOT EXISTS idx_findings_file_layer ON findings(tenant_id, file_id, detected_by_layer);

	CREATE TABLE IF NOT EXISTS file_layer_status (
		file_id    TEXT NOT NULL,
		tenant_id  TEXT NOT NULL,
		project_id TEXT NOT NULL,
		layer      TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'eligible',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tenant_id, file_id, layer)
	);

	CREATE TABLE IF NOT EXISTS scores (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id             TEXT NOT NULL,
		project_id          TEXT NOT NULL,
		tenant_id           TEXT NOT NULL,
		source_lang         TEXT NOT NULL DEFAULT '',
		target_lang         TEXT NOT NULL DEFAULT '',
		mqm_score           REAL NOT NULL,
		total_words         INTEGER NOT NULL,
		critical_count      INTEGER NOT NULL,
		major_count         INTEGER NOT NULL,
		minor_count         INTEGER NOT NULL,
		npt                 REAL NOT NULL,
		layer_completed     TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL,
		auto_pass_rationale TEXT NOT NULL DEFAULT '',
		calculated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_scores_file ON scores(tenant_id, file_id);

	CREATE TABLE IF NOT EXISTS model_usage (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id     TEXT NOT NULL,
		project_id    TEXT NOT NULL,
		file_id       TEXT NOT NULL,
		layer         TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd      REAL NOT NULL DEFAULT 0,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_usage_project_date ON model_usage(tenant_id, project_id, created_at);

	CREATE TABLE IF NOT EXISTS project_settings (
		tenant_id          TEXT NOT NULL,
		project_id         TEXT NOT NULL,
		monthly_budget_usd REAL,
		l2_model           TEXT NOT NULL DEFAULT '',
		l3_model           TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, project_id)
	);

	CREATE TABLE IF NOT EXISTS penalty_weights (
		tenant_id TEXT PRIMARY KEY,
		critical  REAL NOT NULL,
		major     REAL NOT NULL,
		minor     REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lang_pair_settings (
		tenant_id           TEXT NOT NULL,
		source_lang         TEXT NOT NULL,
		target_lang         TEXT NOT NULL,
		auto_pass_threshold REAL NOT NULL DEFAULT 0,
		min_confidence_l2   REAL NOT NULL DEFAULT 0,
		min_confidence_l3   REAL NOT NULL DEFAULT 0,
		muted_categories    TEXT NOT NULL DEFAULT '',
		min_file_history    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, source_lang, target_lang)
	);

	CREATE TABLE IF NOT EXISTS lang_pair_notifications (
		tenant_id   TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		kind        TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tenant_id, source_lang, target_lang, kind)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id  TEXT NOT NULL,
		project_id TEXT NOT NULL,
		file_id    TEXT NOT NULL DEFAULT '',
		event      TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_file ON audit_log(tenant_id, file_id);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// --- Segments ---

func InsertSegments(db *sql.DB, segments []Segment) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO segments (file_id, project_id, tenant_id, segment_number, source_text, target_text,
		 source_lang, target_lang, word_count, confirmation_state, match_percentage, inline_tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, s := range segments {
		_, err := stmt.Exec(
			s.FileID, s.ProjectID, s.TenantID, s.SegmentNumber, s.SourceText, s.TargetText,
			s.SourceLang, s.TargetLang, s.WordCount, s.ConfirmationState, s.MatchPercentage, s.InlineTags,
		)
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, tx.Commit()
}

func scanSegments(rows *sql.Rows) ([]Segment, error) {
	defer rows.Close()
	var out []Segment
	for rows.Next() {
		var s Segment
		err := rows.Scan(
			&s.ID, &s.FileID, &s.ProjectID, &s.TenantID, &s.SegmentNumber,
			&s.SourceText, &s.TargetText, &s.SourceLang, &s.TargetLang,
			&s.WordCount, &s.ConfirmationState, &s.MatchPercentage, &s.InlineTags, &s.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const segmentColumns = `id, file_id, project_id, tenant_id, segment_number, source_text, target_text,
	source_lang, target_lang, word_count, confirmation_state, match_percentage, inline_tags, created_at`

func GetSegmentsByFile(db *sql.DB, tenantID, fileID string) ([]Segment, error) {
	rows, err := db.Query(
		`SELECT `+segmentColumns+` FROM segments
		 WHERE tenant_id = ? AND file_id = ? ORDER BY segment_number, id`,
		tenantID, fileID,
	)
	if err != nil {
		return nil, err
	}
	return scanSegments(rows)
}

func GetSegmentsByFiles(db *sql.DB, tenantID string, fileIDs []string) ([]Segment, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	args := []any{tenantID}
	for _, id := range fileIDs {
		args = append(args, id)
	}
	rows, err := db.Query(
		`SELECT `+segmentColumns+` FROM segments
		 WHERE tenant_id = ? AND file_id IN (`+placeholders(len(fileIDs))+`)
		 ORDER BY file_id, segment_number, id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return scanSegments(rows)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- Glossary terms ---

// ReplaceGlossaryTerms replaces a glossary's term set in one transaction.
// Terms are expected to already be NFKC-normalized (see ImportTermsFile).
func ReplaceGlossaryTerms(db *sql.DB, tenantID, projectID, glossaryID string, terms []GlossaryTerm) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM glossary_terms WHERE tenant_id = ? AND project_id = ? AND glossary_id = ?`,
		tenantID, projectID, glossaryID,
	); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO glossary_terms (glossary_id, tenant_id, project_id, source_term, target_term, case_sensitive)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range terms {
		if _, err := stmt.Exec(glossaryID, tenantID, projectID, t.SourceTerm, t.TargetTerm, t.CaseSensitive); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func GetGlossaryTerms(db *sql.DB, tenantID, projectID string) ([]GlossaryTerm, error) {
	rows, err := db.Query(
		`SELECT id, glossary_id, tenant_id, project_id, source_term, target_term, case_sensitive
		 FROM glossary_terms WHERE tenant_id = ? AND project_id = ? ORDER BY id`,
		tenantID, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GlossaryTerm
	for rows.Next() {
		var t GlossaryTerm
		if err := rows.Scan(&t.ID, &t.GlossaryID, &t.TenantID, &t.ProjectID, &t.SourceTerm, &t.TargetTerm, &t.CaseSensitive); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Findings ---

func insertFindingsTx(tx *sql.Tx, findings []Finding) error {
	stmt, err := tx.Prepare(
		`INSERT INTO findings (file_id, segment_id, project_id, tenant_id, category, severity, description,
		 detected_by_layer, status, scope, related_file_ids, source_excerpt, target_excerpt, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range findings {
		var segID sql.NullInt64
		if f.SegmentID != 0 {
			segID = sql.NullInt64{Int64: f.SegmentID, Valid: true}
		}
		status := f.Status
		if status == "" {
			status = FindingOpen
		}
		if _, err := stmt.Exec(
			f.FileID, segID, f.ProjectID, f.TenantID, f.Category, f.Severity, f.Description,
			f.DetectedByLayer, status, f.Scope, strings.Join(f.RelatedFileIDs, ","),
			f.SourceTextExcerpt, f.TargetTextExcerpt, f.Confidence,
		); err != nil {
			return err
		}
	}
	return nil
}

func replaceLayerFindingsTx(tx *sql.Tx, tenantID, fileID, layer string, findings []Finding) error {
	if _, err := tx.Exec(
		`DELETE FROM findings
		 WHERE tenant_id = ? AND file_id = ? AND detected_by_layer = ? AND scope = 'segment'`,
		tenantID, fileID, layer,
	); err != nil {
		return err
	}
	return insertFindingsTx(tx, findings)
}

// ReplaceLayerFindings idempotently replaces one file's segment-scoped finding
// set for one layer: delete then insert inside a single transaction.
func ReplaceLayerFindings(db *sql.DB, tenantID, fileID, layer string, findings []Finding) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := replaceLayerFindingsTx(tx, tenantID, fileID, layer, findings); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceCrossFileFindings replaces the cross-file L1 finding set for exactly
// this batch's file IDs, leaving other batches' findings untouched.
func ReplaceCrossFileFindings(db *sql.DB, tenantID string, fileIDs []string, findings []Finding) error {
	if len(fileIDs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	args := []any{tenantID}
	for _, id := range fileIDs {
		args = append(args, id)
	}
	if _, err := tx.Exec(
		`DELETE FROM findings
		 WHERE tenant_id = ? AND scope = 'cross-file' AND detected_by_layer = 'L1'
		   AND file_id IN (`+placeholders(len(fileIDs))+`)`,
		args...,
	); err != nil {
		return err
	}
	if err := insertFindingsTx(tx, findings); err != nil {
		return err
	}
	return tx.Commit()
}

func scanFindings(rows *sql.Rows) ([]Finding, error) {
	defer rows.Close()
	var out []Finding
	for rows.Next() {
		var f Finding
		var segID sql.NullInt64
		var related string
		err := rows.Scan(
			&f.ID, &f.FileID, &segID, &f.ProjectID, &f.TenantID, &f.Category, &f.Severity,
			&f.Description, &f.DetectedByLayer, &f.Status, &f.Scope, &related,
			&f.SourceTextExcerpt, &f.TargetTextExcerpt, &f.Confidence, &f.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		f.SegmentID = segID.Int64
		if related != "" {
			f.RelatedFileIDs = strings.Split(related, ",")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const findingColumns = `id, file_id, segment_id, project_id, tenant_id, category, severity, description,
	detected_by_layer, status, scope, related_file_ids, source_excerpt, target_excerpt, confidence, created_at`

func GetFindingsByFile(db *sql.DB, tenantID, fileID string) ([]Finding, error) {
	rows, err := db.Query(
		`SELECT `+findingColumns+` FROM findings
		 WHERE tenant_id = ? AND file_id = ? ORDER BY id`,
		tenantID, fileID,
	)
	if err != nil {
		return nil, err
	}
	return scanFindings(rows)
}

// GetFindingsBelowLayer returns a file's findings detected by layers earlier
// than the given one, used as context for the AI layers.
func GetFindingsBelowLayer(db *sql.DB, tenantID, fileID, layer string) ([]Finding, error) {
	var prior []string
	switch layer {
	case LayerL2:
		prior = []string{LayerL1}
	case LayerL3:
		prior = []string{LayerL1, LayerL2}
	default:
		return nil, nil
	}
	args := []any{tenantID, fileID}
	for _, l := range prior {
		args = append(args, l)
	}
	rows, err := db.Query(
		`SELECT `+findingColumns+` FROM findings
		 WHERE tenant_id = ? AND file_id = ? AND detected_by_layer IN (`+placeholders(len(prior))+`)
		 ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return scanFindings(rows)
}

// --- File layer status ---

func EnsureFileLayerStatus(db *sql.DB, tenantID, projectID, fileID, layer string) error {
	_, err := db.Exec(
		`INSERT OR IGNORE INTO file_layer_status (file_id, tenant_id, project_id, layer, status)
		 VALUES (?, ?, ?, ?, 'eligible')`,
		fileID, tenantID, projectID, layer,
	)
	return err
}

// TransitionFileLayerStatus performs the guarded conditional update that
// serializes concurrent triggers: the WHERE clause carries the expected
// current status and the loser observes zero rows affected.
func TransitionFileLayerStatus(db *sql.DB, tenantID, fileID, layer, from, to string) (bool, error) {
	res, err := db.Exec(
		`UPDATE file_layer_status SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE tenant_id = ? AND file_id = ? AND layer = ? AND status = ?`,
		to, tenantID, fileID, layer, from,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func GetFileLayerStatus(db *sql.DB, tenantID, fileID, layer string) (string, error) {
	var status string
	err := db.QueryRow(
		`SELECT status FROM file_layer_status WHERE tenant_id = ? AND file_id = ? AND layer = ?`,
		tenantID, fileID, layer,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return status, err
}

// GetPendingL1Files returns (tenant, project) -> file IDs for files whose L1
// stage is still eligible, grouped so the scheduler can fan out per batch.
func GetPendingL1Files(db *sql.DB) (map[[2]string][]string, error) {
	rows, err := db.Query(
		`SELECT tenant_id, project_id, file_id FROM file_layer_status
		 WHERE layer = 'L1' AND status = 'eligible' ORDER BY tenant_id, project_id, file_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[[2]string][]string)
	for rows.Next() {
		var tenantID, projectID, fileID string
		if err := rows.Scan(&tenantID, &projectID, &fileID); err != nil {
			return nil, err
		}
		key := [2]string{tenantID, projectID}
		out[key] = append(out[key], fileID)
	}
	return out, rows.Err()
}

// --- Model usage ---

func insertModelUsageTx(tx *sql.Tx, usages []ModelUsage) error {
	stmt, err := tx.Prepare(
		`INSERT INTO model_usage (tenant_id, project_id, file_id, layer, model, input_tokens, output_tokens, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range usages {
		if _, err := stmt.Exec(u.TenantID, u.ProjectID, u.FileID, u.Layer, u.Model, u.InputTokens, u.OutputTokens, u.CostUSD); err != nil {
			return err
		}
	}
	return nil
}

// PersistLayerResult writes an AI layer's findings and usage records in one
// transaction: either both commit or neither does.
func PersistLayerResult(db *sql.DB, tenantID, fileID, layer string, findings []Finding, usages []ModelUsage) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := replaceLayerFindingsTx(tx, tenantID, fileID, layer, findings); err != nil {
		return err
	}
	if err := insertModelUsageTx(tx, usages); err != nil {
		return err
	}
	return tx.Commit()
}

func GetMonthlySpend(db *sql.DB, tenantID, projectID string, monthStart, nextMonth time.Time) (float64, error) {
	var spend float64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(cost_usd), 0) FROM model_usage
		 WHERE tenant_id = ? AND project_id = ? AND created_at >= ? AND created_at < ?`,
		tenantID, projectID, monthStart, nextMonth,
	).Scan(&spend)
	return spend, err
}

// --- Settings ---

func GetProjectSettings(db *sql.DB, tenantID, projectID string) (ProjectSettings, error) {
	ps := ProjectSettings{TenantID: tenantID, ProjectID: projectID}
	var budget sql.NullFloat64
	err := db.QueryRow(
		`SELECT monthly_budget_usd, l2_model, l3_model FROM project_settings
		 WHERE tenant_id = ? AND project_id = ?`,
		tenantID, projectID,
	).Scan(&budget, &ps.L2Model, &ps.L3Model)
	if err == sql.ErrNoRows {
		return ps, nil
	}
	if err != nil {
		return ps, err
	}
	if budget.Valid {
		ps.MonthlyBudgetUSD = &budget.Float64
	}
	return ps, nil
}

func UpsertProjectSettings(db *sql.DB, ps ProjectSettings) error {
	var budget sql.NullFloat64
	if ps.MonthlyBudgetUSD != nil {
		budget = sql.NullFloat64{Float64: *ps.MonthlyBudgetUSD, Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO project_settings (tenant_id, project_id, monthly_budget_usd, l2_model, l3_model)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, project_id) DO UPDATE SET
		   monthly_budget_usd = excluded.monthly_budget_usd,
		   l2_model = excluded.l2_model,
		   l3_model = excluded.l3_model`,
		ps.TenantID, ps.ProjectID, budget, ps.L2Model, ps.L3Model,
	)
	return err
}

// GetPenaltyWeights returns the tenant's penalty-weight override, if any.
func GetPenaltyWeights(db *sql.DB, tenantID string) (PenaltyWeights, bool, error) {
	var w PenaltyWeights
	err := db.QueryRow(
		`SELECT critical, major, minor FROM penalty_weights WHERE tenant_id = ?`,
		tenantID,
	).Scan(&w.Critical, &w.Major, &w.Minor)
	if err == sql.ErrNoRows {
		return w, false, nil
	}
	return w, err == nil, err
}

func UpsertPenaltyWeights(db *sql.DB, tenantID string, w PenaltyWeights) error {
	_, err := db.Exec(
		`INSERT INTO penalty_weights (tenant_id, critical, major, minor) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET critical = excluded.critical, major = excluded.major, minor = excluded.minor`,
		tenantID, w.Critical, w.Major, w.Minor,
	)
	return err
}

func GetLangPairSettings(db *sql.DB, tenantID, sourceLang, targetLang string) (LangPairSettings, bool, error) {
	s := LangPairSettings{TenantID: tenantID, SourceLang: sourceLang, TargetLang: targetLang}
	var muted string
	err := db.QueryRow(
		`SELECT auto_pass_threshold, min_confidence_l2, min_confidence_l3, muted_categories, min_file_history
		 FROM lang_pair_settings WHERE tenant_id = ? AND source_lang = ? AND target_lang = ?`,
		tenantID, sourceLang, targetLang,
	).Scan(&s.AutoPassThreshold, &s.MinConfidenceL2, &s.MinConfidenceL3, &muted, &s.MinFileHistory)
	if err == sql.ErrNoRows {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	if muted != "" {
		s.MutedCategories = strings.Split(muted, ",")
	}
	return s, true, nil
}

func UpsertLangPairSettings(db *sql.DB, s LangPairSettings) error {
	_, err := db.Exec(
		`INSERT INTO lang_pair_settings
		 (tenant_id, source_lang, target_lang, auto_pass_threshold, min_confidence_l2, min_confidence_l3, muted_categories, min_file_history)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, source_lang, target_lang) DO UPDATE SET
		   auto_pass_threshold = excluded.auto_pass_threshold,
		   min_confidence_l2 = excluded.min_confidence_l2,
		   min_confidence_l3 = excluded.min_confidence_l3,
		   muted_categories = excluded.muted_categories,
		   min_file_history = excluded.min_file_history`,
		s.TenantID, s.SourceLang, s.TargetLang, s.AutoPassThreshold,
		s.MinConfidenceL2, s.MinConfidenceL3, strings.Join(s.MutedCategories, ","), s.MinFileHistory,
	)
	return err
}

// --- Scores ---

// ReplaceScore recomputes a file's score transactionally: read the previous
// row for audit diffing, delete it, insert the new one. Readers never observe
// a half-updated score.
func ReplaceScore(db *sql.DB, score Score) (*Score, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var prev Score
	var hadPrev bool
	err = tx.QueryRow(
		`SELECT id, mqm_score, total_words, critical_count, major_count, minor_count, npt, status
		 FROM scores WHERE tenant_id = ? AND file_id = ?`,
		score.TenantID, score.FileID,
	).Scan(&prev.ID, &prev.MQMScore, &prev.TotalWords, &prev.CriticalCount, &prev.MajorCount, &prev.MinorCount, &prev.NPT, &prev.Status)
	if err == nil {
		hadPrev = true
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM scores WHERE tenant_id = ? AND file_id = ?`, score.TenantID, score.FileID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(
		`INSERT INTO scores (file_id, project_id, tenant_id, source_lang, target_lang, mqm_score, total_words,
		 critical_count, major_count, minor_count, npt, layer_completed, status, auto_pass_rationale)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		score.FileID, score.ProjectID, score.TenantID, score.SourceLang, score.TargetLang,
		score.MQMScore, score.TotalWords, score.CriticalCount, score.MajorCount, score.MinorCount,
		score.NPT, score.LayerCompleted, score.Status, score.AutoPassRationale,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if hadPrev {
		return &prev, nil
	}
	return nil, nil
}

func GetScoreByFile(db *sql.DB, tenantID, fileID string) (Score, error) {
	var s Score
	err := db.QueryRow(
		`SELECT id, file_id, project_id, tenant_id, source_lang, target_lang, mqm_score, total_words,
		 critical_count, major_count, minor_count, npt, layer_completed, status, auto_pass_rationale, calculated_at
		 FROM scores WHERE tenant_id = ? AND file_id = ?`,
		tenantID, fileID,
	).Scan(
		&s.ID, &s.FileID, &s.ProjectID, &s.TenantID, &s.SourceLang, &s.TargetLang, &s.MQMScore, &s.TotalWords,
		&s.CriticalCount, &s.MajorCount, &s.MinorCount, &s.NPT, &s.LayerCompleted, &s.Status, &s.AutoPassRationale, &s.CalculatedAt,
	)
	return s, err
}

// CountScoredFiles returns how many files of a language pair the tenant has
// scored so far; auto-pass calibration history is measured against this.
func CountScoredFiles(db *sql.DB, tenantID, sourceLang, targetLang string) (int, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM scores WHERE tenant_id = ? AND source_lang = ? AND target_lang = ?`,
		tenantID, sourceLang, targetLang,
	).Scan(&count)
	return count, err
}

// InsertLangPairNotification records a one-time notification; the primary key
// is the containment guard, so a re-run reports inserted=false.
func InsertLangPairNotification(db *sql.DB, tenantID, sourceLang, targetLang, kind string) (bool, error) {
	res, err := db.Exec(
		`INSERT OR IGNORE INTO lang_pair_notifications (tenant_id, source_lang, target_lang, kind)
		 VALUES (?, ?, ?, ?)`,
		tenantID, sourceLang, targetLang, kind,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// --- Audit ---

// InsertAuditRecord writes one structured audit row. Callers treat failures
// as non-fatal and log them.
func InsertAuditRecord(db *sql.DB, tenantID, projectID, fileID, event, detail string) error {
	_, err := db.Exec(
		`INSERT INTO audit_log (tenant_id, project_id, file_id, event, detail) VALUES (?, ?, ?, ?, ?)`,
		tenantID, projectID, fileID, event, detail,
	)
	if err != nil {
		return fmt.Errorf("audit %s: %w", event, err)
	}
	return nil
}
