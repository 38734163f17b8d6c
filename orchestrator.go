package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var (
	// ErrConflict: a concurrent trigger won the status transition. Reported,
	// not retried automatically.
	ErrConflict = errors.New("qa: concurrent status transition lost")
	// ErrBudgetExhausted: terminal for this invocation.
	ErrBudgetExhausted = errors.New("qa: monthly model budget exhausted")
	// ErrRateLimited: retriable; the scheduler re-enters later.
	ErrRateLimited = errors.New("qa: project rate limit slot denied")
)

// QAJob identifies one unit of scheduled work: one file, one layer.
type QAJob struct {
	TenantID  string
	ProjectID string
	FileID    string
	Layer     string
}

func (j QAJob) validate() error {
	if j.TenantID == "" || j.ProjectID == "" || j.FileID == "" {
		return fmt.Errorf("qa job missing required ids (tenant=%q project=%q file=%q)", j.TenantID, j.ProjectID, j.FileID)
	}
	switch j.Layer {
	case LayerL1, LayerL2, LayerL3:
		return nil
	}
	return fmt.Errorf("qa job invalid layer %q", j.Layer)
}

// LayerResult reports one layer run, including partial-failure accounting:
// chunk failures are tolerated independently and counted rather than
// aborting siblings.
type LayerResult struct {
	Layer           string
	Model           string
	ChunksTotal     int
	ChunksSucceeded int
	ChunksFailed    int
	FindingCount    int
	PartialFailure  bool
	Usage           LLMUsage
	CostUSD         float64
}

type invokeFunc func(ctx context.Context, cfg Config, model, systemPrompt, userPrompt string, st LayerSettings) (string, LLMUsage, error)

type Orchestrator struct {
	db       *sql.DB
	cfg      Config
	gate     *RateGate
	matcher  *GlossaryMatcher
	notifier Notifier
	invoke   invokeFunc
	now      func() time.Time
}

func NewOrchestrator(db *sql.DB, cfg Config, gate *RateGate, matcher *GlossaryMatcher, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		db:       db,
		cfg:      cfg,
		gate:     gate,
		matcher:  matcher,
		notifier: notifier,
		invoke:   invokeModel,
		now:      time.Now,
	}
}

// claim moves the file's layer from eligible to processing. The guarded
// update is the only mutual-exclusion mechanism; losing it is a conflict.
func (o *Orchestrator) claim(job QAJob) error {
	if err := EnsureFileLayerStatus(o.db, job.TenantID, job.ProjectID, job.FileID, job.Layer); err != nil {
		return err
	}
	ok, err := TransitionFileLayerStatus(o.db, job.TenantID, job.FileID, job.Layer, StatusEligible, StatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: file=%s layer=%s", ErrConflict, job.FileID, job.Layer)
	}
	return nil
}

// release rolls a retriable failure back to eligible so the scheduler's next
// attempt re-enters the state machine from the same point.
func (o *Orchestrator) release(job QAJob) {
	if _, err := TransitionFileLayerStatus(o.db, job.TenantID, job.FileID, job.Layer, StatusProcessing, StatusEligible); err != nil {
		log.Printf("qa release error file=%s layer=%s: %v", job.FileID, job.Layer, err)
	}
}

// fail marks a terminal failure and writes the audit record.
func (o *Orchestrator) fail(job QAJob, reason string) {
	if _, err := TransitionFileLayerStatus(o.db, job.TenantID, job.FileID, job.Layer, StatusProcessing, StatusFailed); err != nil {
		log.Printf("qa fail transition error file=%s layer=%s: %v", job.FileID, job.Layer, err)
	}
	if err := InsertAuditRecord(o.db, job.TenantID, job.ProjectID, job.FileID, "layer_failed", fmt.Sprintf("layer=%s reason=%s", job.Layer, reason)); err != nil {
		log.Printf("qa audit error (non-fatal): %v", err)
	}
	if o.notifier != nil {
		o.notifier.Notify(fmt.Sprintf("QA %s failed for file %s: %s", job.Layer, job.FileID, reason))
	}
}

func (o *Orchestrator) complete(job QAJob, detail string) error {
	ok, err := TransitionFileLayerStatus(o.db, job.TenantID, job.FileID, job.Layer, StatusProcessing, StatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: completing file=%s layer=%s", ErrConflict, job.FileID, job.Layer)
	}
	if err := InsertAuditRecord(o.db, job.TenantID, job.ProjectID, job.FileID, "layer_completed", detail); err != nil {
		log.Printf("qa audit error (non-fatal): %v", err)
	}
	return nil
}

// RunDeterministicLayer runs L1 for one file: the glossary term check per
// segment, persisted idempotently, followed by a score recomputation.
func (o *Orchestrator) RunDeterministicLayer(job QAJob) (int, error) {
	if err := job.validate(); err != nil {
		return 0, err
	}
	if err := o.claim(job); err != nil {
		return 0, err
	}

	segments, err := GetSegmentsByFile(o.db, job.TenantID, job.FileID)
	if err != nil {
		o.release(job)
		return 0, fmt.Errorf("load segments: %w", err)
	}
	terms, err := o.matcher.Terms(job.TenantID, job.ProjectID)
	if err != nil {
		o.release(job)
		return 0, err
	}

	var findings []Finding
	for _, seg := range segments {
		findings = append(findings, o.matcher.CheckSegment(seg, terms)...)
	}

	if err := ReplaceLayerFindings(o.db, job.TenantID, job.FileID, LayerL1, findings); err != nil {
		o.release(job)
		return 0, fmt.Errorf("persist L1 findings: %w", err)
	}
	if err := o.complete(job, fmt.Sprintf("layer=L1 findings=%d segments=%d", len(findings), len(segments))); err != nil {
		return len(findings), err
	}

	if _, err := RecalculateFileScore(o.db, o.cfg, o.notifier, job.TenantID, job.ProjectID, job.FileID, LayerL1); err != nil {
		log.Printf("qa l1 score error file=%s: %v", job.FileID, err)
	}
	log.Printf("qa l1 file=%s segments=%d findings=%d", job.FileID, len(segments), len(findings))
	return len(findings), nil
}

// resolveModelChain returns the effective model (project-pinned override or
// the layer default) followed by the fallback list, deduplicated, with the
// layer default always present.
func (o *Orchestrator) resolveModelChain(job QAJob) ([]string, error) {
	def := o.cfg.L2Model
	if job.Layer == LayerL3 {
		def = o.cfg.L3Model
	}
	primary := def

	ps, err := GetProjectSettings(o.db, job.TenantID, job.ProjectID)
	if err != nil {
		return nil, err
	}
	pinned := ps.L2Model
	if job.Layer == LayerL3 {
		pinned = ps.L3Model
	}
	if pinned != "" {
		primary = pinned
	}

	chain := []string{primary}
	seen := map[string]bool{primary: true}
	for _, fb := range o.cfg.FallbackModels {
		if fb != "" && !seen[fb] {
			chain = append(chain, fb)
			seen[fb] = true
		}
	}
	if !seen[def] {
		chain = append(chain, def)
	}
	return chain, nil
}

// invokeChain tries the fallback chain in order. A retriable error surfaces
// immediately (the scheduler owns the retry); terminal errors move on to the
// next model. Usage accumulates across attempts.
func (o *Orchestrator) invokeChain(ctx context.Context, chain []string, systemPrompt, userPrompt string, st LayerSettings) (string, LLMUsage, string, *ModelError) {
	var usage LLMUsage
	var lastErr *ModelError
	for _, model := range chain {
		text, u, err := o.invoke(ctx, o.cfg, model, systemPrompt, userPrompt, st)
		usage.Add(u)
		if err == nil {
			return text, usage, model, nil
		}
		merr := classifyModelError(model, err)
		log.Printf("qa model error model=%s class=%s: %v", model, merr.Class, err)
		lastErr = merr
		if merr.Retriable() {
			return "", usage, model, merr
		}
	}
	return "", usage, "", lastErr
}

// RunAILayer executes one AI layer (L2 or L3) for one file:
// claim -> resolve model chain -> budget gate -> rate slot -> chunked
// invocation with independent chunk-failure tolerance -> transactional
// persist -> complete -> rescore.
func (o *Orchestrator) RunAILayer(ctx context.Context, job QAJob) (LayerResult, error) {
	result := LayerResult{Layer: job.Layer}
	if err := job.validate(); err != nil {
		return result, err
	}
	if job.Layer != LayerL2 && job.Layer != LayerL3 {
		return result, fmt.Errorf("layer %s is not an AI layer", job.Layer)
	}

	if err := o.claim(job); err != nil {
		return result, err
	}

	chain, err := o.resolveModelChain(job)
	if err != nil {
		o.release(job)
		return result, fmt.Errorf("resolve model: %w", err)
	}
	result.Model = chain[0]

	budget, err := CheckBudget(o.db, job.TenantID, job.ProjectID, o.now())
	if err != nil {
		o.release(job)
		return result, err
	}
	if !budget.HasQuota {
		o.fail(job, fmt.Sprintf("budget exhausted: used=%.2f budget=%.2f", budget.UsedBudgetUSD, derefBudget(budget.MonthlyBudgetUSD)))
		return result, fmt.Errorf("%w: project=%s used=%.2f", ErrBudgetExhausted, job.ProjectID, budget.UsedBudgetUSD)
	}

	if !o.gate.Try(job.ProjectID) {
		o.release(job)
		return result, fmt.Errorf("%w: project=%s", ErrRateLimited, job.ProjectID)
	}

	segments, err := GetSegmentsByFile(o.db, job.TenantID, job.FileID)
	if err != nil {
		o.release(job)
		return result, fmt.Errorf("load segments: %w", err)
	}
	prior, err := GetFindingsBelowLayer(o.db, job.TenantID, job.FileID, job.Layer)
	if err != nil {
		o.release(job)
		return result, fmt.Errorf("load prior findings: %w", err)
	}

	minConfidence := 0.0
	if len(segments) > 0 {
		if s, ok, err := GetLangPairSettings(o.db, job.TenantID, segments[0].SourceLang, segments[0].TargetLang); err != nil {
			o.release(job)
			return result, err
		} else if ok {
			if job.Layer == LayerL2 {
				minConfidence = s.MinConfidenceL2
			} else {
				minConfidence = s.MinConfidenceL3
			}
		}
	}

	st := layerSettings[job.Layer]
	chunks := chunkSegments(segments, o.cfg.MaxChunkChars)
	result.ChunksTotal = len(chunks)

	var findings []Finding
	var usages []ModelUsage

	for i, chunk := range chunks {
		systemPrompt, userPrompt := buildLayerPrompts(job.Layer, chunk, prior)
		text, usage, usedModel, merr := o.invokeChain(ctx, chain, systemPrompt, userPrompt, st)
		result.Usage.Add(usage)
		if usage.TotalTokens() > 0 {
			cost := EstimateCost(usage.InputTokens, usage.OutputTokens, o.cfg.CostFor(usedModel))
			result.CostUSD += cost
			usages = append(usages, ModelUsage{
				TenantID:     job.TenantID,
				ProjectID:    job.ProjectID,
				FileID:       job.FileID,
				Layer:        job.Layer,
				Model:        usedModel,
				InputTokens:  usage.InputTokens,
				OutputTokens: usage.OutputTokens,
				CostUSD:      cost,
			})
		}
		if merr != nil {
			if merr.Retriable() {
				// Retriable errors abort the whole layer unchanged; the
				// scheduler re-enters from eligible.
				o.release(job)
				return result, merr
			}
			log.Printf("qa %s chunk failed file=%s chunk=%d class=%s", strings.ToLower(job.Layer), job.FileID, i, merr.Class)
			result.ChunksFailed++
			continue
		}

		parsed, perr := parseFindingsResponse(text)
		if perr != nil {
			merr := schemaMismatchError(usedModel, perr)
			log.Printf("qa %s chunk failed file=%s chunk=%d class=%s", strings.ToLower(job.Layer), job.FileID, i, merr.Class)
			result.ChunksFailed++
			continue
		}

		segIDs := make(map[int64]Segment, len(chunk))
		for _, s := range chunk {
			segIDs[s.ID] = s
		}
		for _, lf := range parsed {
			if lf.Confidence < minConfidence {
				continue
			}
			if _, ok := segIDs[lf.SegmentID]; !ok {
				continue
			}
			findings = append(findings, Finding{
				FileID:            job.FileID,
				SegmentID:         lf.SegmentID,
				ProjectID:         job.ProjectID,
				TenantID:          job.TenantID,
				Category:          lf.Category,
				Severity:          lf.Severity,
				Description:       lf.Description,
				DetectedByLayer:   job.Layer,
				Status:            FindingOpen,
				Scope:             ScopeSegment,
				SourceTextExcerpt: excerpt(lf.SourceExcerpt),
				TargetTextExcerpt: excerpt(lf.TargetExcerpt),
				Confidence:        lf.Confidence,
			})
		}
		result.ChunksSucceeded++
	}

	result.FindingCount = len(findings)
	result.PartialFailure = result.ChunksFailed > 0 && result.ChunksSucceeded > 0

	if result.ChunksTotal > 0 && result.ChunksSucceeded == 0 {
		o.fail(job, fmt.Sprintf("all %d chunks failed", result.ChunksTotal))
		return result, fmt.Errorf("layer %s: all %d chunks failed terminally", job.Layer, result.ChunksTotal)
	}

	if err := PersistLayerResult(o.db, job.TenantID, job.FileID, job.Layer, findings, usages); err != nil {
		o.release(job)
		return result, fmt.Errorf("persist layer result: %w", err)
	}

	detail := fmt.Sprintf("layer=%s model=%s chunks=%d/%d findings=%d cost_usd=%.6f partial=%t",
		job.Layer, result.Model, result.ChunksSucceeded, result.ChunksTotal, result.FindingCount, result.CostUSD, result.PartialFailure)
	if err := o.complete(job, detail); err != nil {
		return result, err
	}

	if _, err := RecalculateFileScore(o.db, o.cfg, o.notifier, job.TenantID, job.ProjectID, job.FileID, job.Layer); err != nil {
		log.Printf("qa %s score error file=%s: %v", strings.ToLower(job.Layer), job.FileID, err)
	}

	log.Printf("qa %s file=%s model=%s chunks=%d/%d findings=%d partial=%t",
		strings.ToLower(job.Layer), job.FileID, result.Model, result.ChunksSucceeded, result.ChunksTotal, result.FindingCount, result.PartialFailure)
	return result, nil
}

func derefBudget(b *float64) float64 {
	if b == nil {
		return 0
	}
	return *b
}
