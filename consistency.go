package main

import (
	"database/sql"
	"fmt"
	"strings"
)

// Segments with fewer source words than this are too short to flag; short
// strings ("OK", "Yes") legitimately vary by context.
const minConsistencyWords = 3

const signedOffState = "signed-off"

type targetVariant struct {
	display string
	files   map[string]bool
	order   int
}

type sourceGroup struct {
	displaySource string
	firstFile     string
	fileOrder     []string
	filesSeen     map[string]bool
	variants      []*targetVariant
	variantIndex  map[string]*targetVariant
}

// AnalyzeConsistency flags identical source texts translated differently
// across files. Pure: value types in, findings out.
func AnalyzeConsistency(segments []Segment, terms []GlossaryTerm) []Finding {
	// Glossary-governed text is expected to vary; exclude any segment whose
	// source or target contains a term, case-insensitively.
	var termStrings []string
	for _, t := range terms {
		for _, s := range []string{t.SourceTerm, t.TargetTerm} {
			s = strings.ToLower(normalizeNFKC(strings.TrimSpace(s)))
			if s != "" {
				termStrings = append(termStrings, s)
			}
		}
	}
	containsTerm := func(text string) bool {
		text = strings.ToLower(normalizeNFKC(text))
		for _, t := range termStrings {
			if strings.Contains(text, t) {
				return true
			}
		}
		return false
	}

	groups := make(map[string]*sourceGroup)
	var groupOrder []string

	for _, seg := range segments {
		if seg.ConfirmationState == signedOffState {
			continue
		}
		if seg.WordCount < minConsistencyWords {
			continue
		}
		if containsTerm(seg.SourceText) || containsTerm(seg.TargetText) {
			continue
		}

		srcKey := strings.ToLower(strings.TrimSpace(normalizeNFKC(seg.SourceText)))
		tgtKey := strings.TrimSpace(normalizeNFKC(seg.TargetText))
		if srcKey == "" || tgtKey == "" {
			continue
		}

		g, ok := groups[srcKey]
		if !ok {
			g = &sourceGroup{
				displaySource: strings.TrimSpace(seg.SourceText),
				firstFile:     seg.FileID,
				filesSeen:     make(map[string]bool),
				variantIndex:  make(map[string]*targetVariant),
			}
			groups[srcKey] = g
			groupOrder = append(groupOrder, srcKey)
		}
		if !g.filesSeen[seg.FileID] {
			g.filesSeen[seg.FileID] = true
			g.fileOrder = append(g.fileOrder, seg.FileID)
		}

		v, ok := g.variantIndex[tgtKey]
		if !ok {
			v = &targetVariant{display: strings.TrimSpace(seg.TargetText), files: make(map[string]bool), order: len(g.variants)}
			g.variantIndex[tgtKey] = v
			g.variants = append(g.variants, v)
		}
		v.files[seg.FileID] = true
	}

	var findings []Finding
	for _, key := range groupOrder {
		g := groups[key]
		if len(g.variants) < 2 {
			continue
		}
		// Two different translations inside one file are a repetition issue,
		// not a cross-file one; require the variants to span >= 2 files.
		if len(g.fileOrder) < 2 {
			continue
		}

		mostCommon := g.variants[0]
		for _, v := range g.variants[1:] {
			if len(v.files) > len(mostCommon.files) {
				mostCommon = v
			}
		}

		seg := representativeSegment(segments, g.firstFile)
		findings = append(findings, Finding{
			FileID:            g.firstFile,
			ProjectID:         seg.ProjectID,
			TenantID:          seg.TenantID,
			Category:          "consistency",
			Severity:          SeverityMinor,
			Description:       fmt.Sprintf("identical source translated %d different ways across %d files; most common target: %q", len(g.variants), len(g.fileOrder), mostCommon.display),
			DetectedByLayer:   LayerL1,
			Status:            FindingOpen,
			Scope:             ScopeCrossFile,
			RelatedFileIDs:    append([]string(nil), g.fileOrder...),
			SourceTextExcerpt: excerpt(g.displaySource),
			TargetTextExcerpt: excerpt(mostCommon.display),
			Confidence:        1.0,
		})
	}
	return findings
}

func representativeSegment(segments []Segment, fileID string) Segment {
	for _, s := range segments {
		if s.FileID == fileID {
			return s
		}
	}
	return Segment{}
}

// RunConsistencyCheck runs the cross-file stage for one batch and persists
// the resulting finding set idempotently, scoped to exactly these file IDs.
func RunConsistencyCheck(db *sql.DB, matcher *GlossaryMatcher, tenantID, projectID string, fileIDs []string) (int, error) {
	segments, err := GetSegmentsByFiles(db, tenantID, fileIDs)
	if err != nil {
		return 0, fmt.Errorf("load batch segments: %w", err)
	}
	terms, err := matcher.Terms(tenantID, projectID)
	if err != nil {
		return 0, err
	}
	findings := AnalyzeConsistency(segments, terms)
	if err := ReplaceCrossFileFindings(db, tenantID, fileIDs, findings); err != nil {
		return 0, fmt.Errorf("persist cross-file findings: %w", err)
	}
	return len(findings), nil
}
