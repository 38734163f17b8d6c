package main

import "time"

// Finding severities on the 3-level MQM ordinal scale.
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"
)

// Detection layers, applied in order: deterministic checks, fast AI screen,
// deep AI analysis.
const (
	LayerL1 = "L1"
	LayerL2 = "L2"
	LayerL3 = "L3"
)

const (
	ScopeSegment   = "segment"
	ScopeCrossFile = "cross-file"
)

// Finding review statuses. Only open and confirmed findings contribute to
// the MQM score.
const (
	FindingOpen      = "open"
	FindingConfirmed = "confirmed"
	FindingDismissed = "dismissed"
	FindingMuted     = "muted"
)

// Per-file, per-layer processing states.
const (
	StatusEligible   = "eligible"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Score statuses.
const (
	ScoreCalculated = "calculated"
	ScoreNA         = "na"
	ScoreAutoPassed = "auto_passed"
)

// Segment is one parsed translation unit. Immutable once imported; every
// pipeline stage treats it as read-only input.
type Segment struct {
	ID                int64
	FileID            string
	ProjectID         string
	TenantID          string
	SegmentNumber     int
	SourceText        string
	TargetText        string
	SourceLang        string
	TargetLang        string
	WordCount         int
	ConfirmationState string // "draft", "translated", "signed-off"
	MatchPercentage   int
	InlineTags        string
	CreatedAt         time.Time
}

// GlossaryTerm is a source/target term pair. Both sides are NFKC-normalized
// at import time; the matcher relies on that invariant.
type GlossaryTerm struct {
	ID            int64
	GlossaryID    string
	TenantID      string
	ProjectID     string
	SourceTerm    string
	TargetTerm    string
	CaseSensitive bool
}

// Finding is one detected QA issue. SegmentID is 0 (stored as NULL) for
// cross-file findings, whose scope spans the files in RelatedFileIDs.
type Finding struct {
	ID                int64
	FileID            string
	SegmentID         int64
	ProjectID         string
	TenantID          string
	Category          string
	Severity          string
	Description       string
	DetectedByLayer   string
	Status            string
	Scope             string
	RelatedFileIDs    []string
	SourceTextExcerpt string
	TargetTextExcerpt string
	Confidence        float64
	CreatedAt         time.Time
}

// Contributing reports whether the finding counts toward scoring.
func (f Finding) Contributing() bool {
	return f.Status == FindingOpen || f.Status == FindingConfirmed
}

// BudgetCheckResult is the outcome of a monthly budget check. A nil
// MonthlyBudgetUSD means the project has no budget configured (unlimited).
type BudgetCheckResult struct {
	HasQuota           bool
	RemainingBudgetUSD float64
	MonthlyBudgetUSD   *float64
	UsedBudgetUSD      float64
}

// Score is the live quality score for one file. Recomputation replaces the
// row inside one transaction; there are no in-place edits.
type Score struct {
	ID                int64
	FileID            string
	ProjectID         string
	TenantID          string
	SourceLang        string
	TargetLang        string
	MQMScore          float64
	TotalWords        int
	CriticalCount     int
	MajorCount        int
	MinorCount        int
	NPT               float64
	LayerCompleted    string
	Status            string
	AutoPassRationale string
	CalculatedAt      time.Time
}

// ModelUsage is one model invocation's token and cost accounting.
type ModelUsage struct {
	ID           int64
	TenantID     string
	ProjectID    string
	FileID       string
	Layer        string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	CreatedAt    time.Time
}

// ProjectSettings holds per-project configuration: the nullable monthly
// budget and optional pinned model overrides per AI layer.
type ProjectSettings struct {
	TenantID         string
	ProjectID        string
	MonthlyBudgetUSD *float64
	L2Model          string
	L3Model          string
}

// LangPairSettings holds per-language-pair calibration thresholds.
type LangPairSettings struct {
	TenantID          string
	SourceLang        string
	TargetLang        string
	AutoPassThreshold float64
	MinConfidenceL2   float64
	MinConfidenceL3   float64
	MutedCategories   []string
	MinFileHistory    int
}
