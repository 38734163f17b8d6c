package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/words"
	"golang.org/x/text/unicode/norm"
)

// Boundary confidence of a term occurrence: whether its edges align with
// word boundaries. Low-confidence matches are still matches.
const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)

type TermMatch struct {
	Position   int // byte offset into the normalized (and case-folded) text
	Confidence string
}

func normalizeNFKC(s string) string {
	return norm.NFKC.String(s)
}

// Scripts written without spaces between words; matching against these needs
// segmentation-derived boundaries instead of the neighbor-character test.
var noSpaceScripts = map[string]bool{
	"th": true, "ja": true, "zh": true, "ko": true,
	"km": true, "lo": true, "my": true,
}

func isNoSpaceScript(lang string) bool {
	base := strings.ToLower(lang)
	if i := strings.IndexAny(base, "-_"); i >= 0 {
		base = base[:i]
	}
	return noSpaceScripts[base]
}

// FindOccurrences returns every occurrence of term in text with a boundary
// confidence classification. Both sides are NFKC-normalized (a no-op on
// already-normalized input) and lowercased unless caseSensitive.
func FindOccurrences(text, term string, caseSensitive bool, lang string) []TermMatch {
	return findOccurrences(text, term, caseSensitive, lang, nil)
}

// findOccurrences takes an optional lexicon of known words used to segment
// no-space scripts; the glossary's own terms serve as that lexicon.
func findOccurrences(text, term string, caseSensitive bool, lang string, lexicon []string) []TermMatch {
	text = normalizeNFKC(text)
	term = normalizeNFKC(strings.TrimSpace(term))
	if !caseSensitive {
		text = strings.ToLower(text)
		term = strings.ToLower(term)
	}
	if term == "" {
		return nil
	}

	// Inline markup must not produce word characters next to a match, but
	// offsets have to survive, so tags are blanked rather than removed.
	scan := blankInlineTags(text)

	var positions []int
	for from := 0; ; {
		idx := strings.Index(scan[from:], term)
		if idx < 0 {
			break
		}
		positions = append(positions, from+idx)
		from += idx + len(term)
	}
	if len(positions) == 0 {
		return nil
	}

	noSpace := isNoSpaceScript(lang)
	var boundaries map[int]bool
	if noSpace {
		normLex := make([]string, 0, len(lexicon))
		for _, w := range lexicon {
			w = normalizeNFKC(strings.TrimSpace(w))
			if !caseSensitive {
				w = strings.ToLower(w)
			}
			if w != "" {
				normLex = append(normLex, w)
			}
		}
		boundaries = wordBoundaries(scan, normLex)
	}

	matches := make([]TermMatch, 0, len(positions))
	for _, pos := range positions {
		end := pos + len(term)
		conf := ConfidenceLow
		if noSpace {
			// Text start and end always count as boundaries.
			startOK := pos == 0 || boundaries[pos]
			endOK := end == len(scan) || boundaries[end]
			if startOK && endOK {
				conf = ConfidenceHigh
			}
		} else {
			before := true
			if pos > 0 {
				r, _ := utf8.DecodeLastRuneInString(scan[:pos])
				before = !isWordRune(r)
			}
			after := true
			if end < len(scan) {
				r, _ := utf8.DecodeRuneInString(scan[end:])
				after = !isWordRune(r)
			}
			if before && after {
				conf = ConfidenceHigh
			}
		}
		matches = append(matches, TermMatch{Position: pos, Confidence: conf})
	}
	return matches
}

// isWordRune treats combining marks as word characters so diacritics do not
// fake a boundary.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// wordBoundaries returns the union of UAX#29 word-boundary offsets and
// lexicon-driven longest-match boundaries. UAX#29 word tokens tile the input,
// so accumulating token lengths yields every boundary offset. The lexicon
// overlay handles scripts (Thai and friends) where UAX#29 cannot split
// compounds on its own.
func wordBoundaries(text string, lexicon []string) map[int]bool {
	b := map[int]bool{0: true, len(text): true}

	seg := words.NewSegmenter([]byte(text))
	off := 0
	for seg.Next() {
		off += len(seg.Bytes())
		b[off] = true
	}

	for i := 0; i < len(text); {
		matched := 0
		for _, w := range lexicon {
			if len(w) > matched && strings.HasPrefix(text[i:], w) {
				matched = len(w)
			}
		}
		if matched > 0 {
			b[i] = true
			b[i+matched] = true
			i += matched
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return b
}

// blankInlineTags overwrites <...> and {...} spans with spaces, preserving
// byte offsets.
func blankInlineTags(text string) string {
	b := []byte(text)
	for _, pair := range [][2]byte{{'<', '>'}, {'{', '}'}} {
		for i := 0; i < len(b); i++ {
			if b[i] != pair[0] {
				continue
			}
			for j := i + 1; j < len(b); j++ {
				if b[j] == pair[1] {
					for k := i; k <= j; k++ {
						b[k] = ' '
					}
					i = j
					break
				}
			}
		}
	}
	return string(b)
}

// --- Matcher with injected term cache ---

// TermCache caches glossary terms per project. Term mutation must call
// Invalidate; there is no implicit module-level state.
type TermCache interface {
	Get(projectID string) ([]GlossaryTerm, bool)
	Put(projectID string, terms []GlossaryTerm)
	Invalidate(projectID string)
}

type memoryTermCache struct {
	mu sync.RWMutex
	m  map[string][]GlossaryTerm
}

func NewMemoryTermCache() TermCache {
	return &memoryTermCache{m: make(map[string][]GlossaryTerm)}
}

func (c *memoryTermCache) Get(projectID string) ([]GlossaryTerm, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	terms, ok := c.m[projectID]
	return terms, ok
}

func (c *memoryTermCache) Put(projectID string, terms []GlossaryTerm) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[projectID] = terms
}

func (c *memoryTermCache) Invalidate(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, projectID)
}

type GlossaryMatcher struct {
	db    *sql.DB
	cache TermCache

	mu        sync.Mutex
	loggedLow map[string]bool
}

func NewGlossaryMatcher(db *sql.DB, cache TermCache) *GlossaryMatcher {
	return &GlossaryMatcher{db: db, cache: cache, loggedLow: make(map[string]bool)}
}

// Terms loads a project's glossary terms through the cache.
func (m *GlossaryMatcher) Terms(tenantID, projectID string) ([]GlossaryTerm, error) {
	if terms, ok := m.cache.Get(projectID); ok {
		return terms, nil
	}
	terms, err := GetGlossaryTerms(m.db, tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("load glossary terms: %w", err)
	}
	m.cache.Put(projectID, terms)
	return terms, nil
}

// InvalidateTerms is the hook term mutation must call.
func (m *GlossaryMatcher) InvalidateTerms(projectID string) {
	m.cache.Invalidate(projectID)
}

// logLowConfidence logs a low-confidence match exactly once per
// (segment, term) pair to keep the audit trail free of duplicates.
func (m *GlossaryMatcher) logLowConfidence(segmentID, termID int64, term string) {
	key := fmt.Sprintf("%d:%d", segmentID, termID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loggedLow[key] {
		return
	}
	m.loggedLow[key] = true
	log.Printf("glossary low-confidence match segment=%d term_id=%d term=%q", segmentID, termID, term)
}

// CheckSegment runs the glossary term check for one segment. For every term
// whose source side occurs in the source text, the target side must occur in
// the target text; an absent target term is reported as a potential omission,
// not as an error.
func (m *GlossaryMatcher) CheckSegment(seg Segment, terms []GlossaryTerm) []Finding {
	if len(terms) == 0 {
		return nil
	}
	srcLex := make([]string, 0, len(terms))
	tgtLex := make([]string, 0, len(terms))
	for _, t := range terms {
		srcLex = append(srcLex, t.SourceTerm)
		tgtLex = append(tgtLex, t.TargetTerm)
	}

	var out []Finding
	for _, term := range terms {
		src := findOccurrences(seg.SourceText, term.SourceTerm, term.CaseSensitive, seg.SourceLang, srcLex)
		if len(src) == 0 {
			continue
		}
		tgt := findOccurrences(seg.TargetText, term.TargetTerm, term.CaseSensitive, seg.TargetLang, tgtLex)
		if len(tgt) == 0 {
			out = append(out, Finding{
				FileID:            seg.FileID,
				SegmentID:         seg.ID,
				ProjectID:         seg.ProjectID,
				TenantID:          seg.TenantID,
				Category:          "terminology",
				Severity:          SeverityMinor,
				Description:       fmt.Sprintf("glossary term %q found in source but expected target term %q is missing", term.SourceTerm, term.TargetTerm),
				DetectedByLayer:   LayerL1,
				Status:            FindingOpen,
				Scope:             ScopeSegment,
				SourceTextExcerpt: excerpt(seg.SourceText),
				TargetTextExcerpt: excerpt(seg.TargetText),
				Confidence:        1.0,
			})
			continue
		}
		for _, match := range append(src, tgt...) {
			if match.Confidence == ConfidenceLow {
				m.logLowConfidence(seg.ID, term.ID, term.SourceTerm)
				break
			}
		}
	}
	return out
}

const maxExcerptLen = 200

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxExcerptLen {
		return s
	}
	cut := maxExcerptLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
