package main

import "strings"

// ExternalFinding is one row from the external QA tool's exported report.
type ExternalFinding struct {
	Category   string `json:"category"`
	Severity   string `json:"severity"`
	SourceText string `json:"source_text"`
	TargetText string `json:"target_text"`
}

type MatchedPair struct {
	External ExternalFinding
	Internal Finding
}

// ComparisonResult is ephemeral calibration output; it may be stored as a
// JSON snapshot but is not a primary entity.
type ComparisonResult struct {
	Matched    []MatchedPair
	XbenchOnly []ExternalFinding
	ToolOnly   []Finding
}

// Fixed mapping from the external tool's check names into the internal
// category taxonomy.
var xbenchCategoryMap = map[string]string{
	"inconsistency in target": "consistency",
	"inconsistency in source": "consistency",
	"key term mismatch":       "terminology",
	"tag mismatch":            "tag_integrity",
	"numeric mismatch":        "numbers",
	"double blank":            "formatting",
	"unpaired symbol":         "formatting",
	"unpaired quotes":         "formatting",
	"repeated word":           "fluency",
	"target same as source":   "untranslated",
	"untranslated segment":    "untranslated",
	"spell-checking":          "fluency",
	"camel case mismatch":     "style",
	"all uppercase mismatch":  "style",
}

var severityRank = map[string]int{
	SeverityCritical: 3,
	SeverityMajor:    2,
	SeverityMinor:    1,
}

func normalizeExternalCategory(category string) string {
	key := strings.ToLower(strings.TrimSpace(category))
	if mapped, ok := xbenchCategoryMap[key]; ok {
		return mapped
	}
	return key
}

// severityWithinTolerance accepts a +-1 gap on the 3-level ordinal scale:
// critical matches major but not minor.
func severityWithinTolerance(a, b string) bool {
	ra, ok := severityRank[strings.ToLower(a)]
	if !ok {
		return false
	}
	rb, ok := severityRank[strings.ToLower(b)]
	if !ok {
		return false
	}
	diff := ra - rb
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

// parityTextMatches accepts exact NFKC-normalized-and-trimmed equality or
// substring containment in either direction.
func parityTextMatches(a, b string) bool {
	a = strings.TrimSpace(normalizeNFKC(a))
	b = strings.TrimSpace(normalizeNFKC(b))
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// CompareFindings reconciles the external tool's findings with this engine's
// findings for one file. Matching is greedy first-fit: a consumed internal
// candidate cannot match twice.
func CompareFindings(external []ExternalFinding, internal []Finding, fileID string) ComparisonResult {
	var candidates []Finding
	for _, f := range internal {
		if f.FileID == fileID {
			candidates = append(candidates, f)
		}
	}
	used := make([]bool, len(candidates))

	var result ComparisonResult
	for _, ext := range external {
		extCategory := normalizeExternalCategory(ext.Category)
		matched := false
		for i, cand := range candidates {
			if used[i] {
				continue
			}
			if strings.ToLower(cand.Category) != extCategory {
				continue
			}
			if !severityWithinTolerance(ext.Severity, cand.Severity) {
				continue
			}
			if !parityTextMatches(ext.SourceText, cand.SourceTextExcerpt) {
				continue
			}
			used[i] = true
			result.Matched = append(result.Matched, MatchedPair{External: ext, Internal: cand})
			matched = true
			break
		}
		if !matched {
			result.XbenchOnly = append(result.XbenchOnly, ext)
		}
	}
	for i, cand := range candidates {
		if !used[i] {
			result.ToolOnly = append(result.ToolOnly, cand)
		}
	}
	return result
}
