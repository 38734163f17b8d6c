package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// BatchResult tracks separate counters for each outcome within one batch.
type BatchResult struct {
	BatchID           string
	FilesTotal        int
	FilesCompleted    int
	FilesFailed       int
	CrossFileFindings int
	Deferred          int // rate-limited or conflicted; the next run retries
}

type BatchRunner struct {
	db      *sql.DB
	cfg     Config
	matcher *GlossaryMatcher
	orch    *Orchestrator
}

func NewBatchRunner(db *sql.DB, cfg Config, matcher *GlossaryMatcher, orch *Orchestrator) *BatchRunner {
	return &BatchRunner{db: db, cfg: cfg, matcher: matcher, orch: orch}
}

// RunBatch runs QA for one batch of files: per-file L1 fans out in parallel,
// the cross-file stage runs exactly once after every file finishes, then the
// AI layers run per file subject to the budget and rate gates.
func (r *BatchRunner) RunBatch(ctx context.Context, tenantID, projectID string, fileIDs []string) BatchResult {
	result := BatchResult{BatchID: uuid.NewString(), FilesTotal: len(fileIDs)}
	log.Printf("qa batch=%s tenant=%s project=%s files=%d", result.BatchID, tenantID, projectID, len(fileIDs))

	errs := make([]error, len(fileIDs))
	var wg sync.WaitGroup
	for i, fileID := range fileIDs {
		wg.Add(1)
		go func(idx int, fileID string) {
			defer wg.Done()
			job := QAJob{TenantID: tenantID, ProjectID: projectID, FileID: fileID, Layer: LayerL1}
			if _, err := r.orch.RunDeterministicLayer(job); err != nil {
				errs[idx] = err
			}
		}(i, fileID)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			result.FilesCompleted++
			continue
		}
		if errors.Is(err, ErrConflict) {
			result.Deferred++
			continue
		}
		result.FilesFailed++
		log.Printf("qa batch=%s l1 error file=%s: %v", result.BatchID, fileIDs[i], err)
	}

	// Batch complete: the cross-file stage runs once over the whole batch.
	n, err := RunConsistencyCheck(r.db, r.matcher, tenantID, projectID, fileIDs)
	if err != nil {
		log.Printf("qa batch=%s consistency error: %v", result.BatchID, err)
	} else {
		result.CrossFileFindings = n
	}

	for _, fileID := range fileIDs {
		r.runAILayers(ctx, tenantID, projectID, fileID, &result)
	}

	log.Printf("qa batch=%s done completed=%d failed=%d deferred=%d cross_file=%d",
		result.BatchID, result.FilesCompleted, result.FilesFailed, result.Deferred, result.CrossFileFindings)
	return result
}

func (r *BatchRunner) runAILayers(ctx context.Context, tenantID, projectID, fileID string, result *BatchResult) {
	layers := []string{LayerL2}
	if r.cfg.RunL3 {
		layers = append(layers, LayerL3)
	}
	for _, layer := range layers {
		job := QAJob{TenantID: tenantID, ProjectID: projectID, FileID: fileID, Layer: layer}
		_, err := r.orch.RunAILayer(ctx, job)
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, ErrRateLimited), errors.Is(err, ErrConflict):
			// Later layers wait for the next scheduled run too.
			result.Deferred++
			return
		case errors.Is(err, ErrBudgetExhausted):
			log.Printf("qa %s skipped file=%s: %v", layer, fileID, err)
			return
		default:
			log.Printf("qa %s error file=%s: %v", layer, fileID, err)
			return
		}
	}
}

// StartQAScheduler polls for files whose L1 stage is still eligible and runs
// them batch by batch on the configured cron schedule.
func StartQAScheduler(cfg Config, runner *BatchRunner) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(cfg.ScanSchedule, func() {
		pending, err := GetPendingL1Files(runner.db)
		if err != nil {
			log.Printf("qa scheduler scan error: %v", err)
			return
		}
		for key, fileIDs := range pending {
			runner.RunBatch(context.Background(), key[0], key[1], fileIDs)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid scan_schedule %q: %w", cfg.ScanSchedule, err)
	}
	c.Start()
	log.Printf("QA scheduler started schedule=%q", cfg.ScanSchedule)
	return c, nil
}
