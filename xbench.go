package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
)

type xbenchReport struct {
	FileID   string            `json:"file_id"`
	Findings []ExternalFinding `json:"findings"`
}

// LoadXbenchReport reads an exported external QA report. Both the wrapped
// form {"file_id": ..., "findings": [...]} and a bare findings array are
// accepted.
func LoadXbenchReport(path string) (string, []ExternalFinding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read xbench report: %w", err)
	}

	var report xbenchReport
	if err := json.Unmarshal(data, &report); err == nil && len(report.Findings) > 0 {
		return report.FileID, report.Findings, nil
	}

	var bare []ExternalFinding
	if err := json.Unmarshal(data, &bare); err != nil {
		return "", nil, fmt.Errorf("parse xbench report: %w", err)
	}
	return "", bare, nil
}

// RunParityComparison loads an external report and reconciles it against the
// engine's current findings for the file. Calibration tooling only; the
// result never gates the pipeline.
func RunParityComparison(db *sql.DB, tenantID, fileID, reportPath string) (ComparisonResult, error) {
	reportFileID, external, err := LoadXbenchReport(reportPath)
	if err != nil {
		return ComparisonResult{}, err
	}
	if reportFileID != "" {
		fileID = reportFileID
	}
	internal, err := GetFindingsByFile(db, tenantID, fileID)
	if err != nil {
		return ComparisonResult{}, fmt.Errorf("load findings: %w", err)
	}
	return CompareFindings(external, internal, fileID), nil
}
