package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestImportTermsFile(t *testing.T) {
	db := newTestDB(t)
	m := NewGlossaryMatcher(db, NewMemoryTermCache())

	// Fullwidth source and padded entries; blank pairs are skipped.
	content := `glossary_id: g1
terms:
  - source: "Ｃａｃｈｅ"
    target: " แคช "
  - source: "server"
    target: "เซิร์ฟเวอร์"
    case_sensitive: true
  - source: ""
    target: "orphan"
`
	path := filepath.Join(t.TempDir(), "terms.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	n, err := ImportTermsFile(db, m, "t1", "p1", path)
	if err != nil {
		t.Fatalf("ImportTermsFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported %d terms, want 2", n)
	}

	terms, err := GetGlossaryTerms(db, "t1", "p1")
	if err != nil {
		t.Fatalf("GetGlossaryTerms: %v", err)
	}
	if len(terms) != 2 {
		t.Fatalf("got %d stored terms, want 2", len(terms))
	}
	if terms[0].SourceTerm != "Cache" {
		t.Errorf("source term = %q, want NFKC-normalized %q", terms[0].SourceTerm, "Cache")
	}
	if terms[0].TargetTerm != "แคช" {
		t.Errorf("target term = %q, want trimmed", terms[0].TargetTerm)
	}
	if !terms[1].CaseSensitive {
		t.Error("case_sensitive flag lost")
	}
}

func TestImportTermsFileReplacesAndInvalidates(t *testing.T) {
	db := newTestDB(t)
	m := NewGlossaryMatcher(db, NewMemoryTermCache())
	dir := t.TempDir()

	v1 := filepath.Join(dir, "v1.yaml")
	os.WriteFile(v1, []byte("glossary_id: g1\nterms:\n  - source: cache\n    target: แคช\n"), 0o644)
	if _, err := ImportTermsFile(db, m, "t1", "p1", v1); err != nil {
		t.Fatalf("import v1: %v", err)
	}
	// Warm the cache.
	if terms, _ := m.Terms("t1", "p1"); len(terms) != 1 {
		t.Fatalf("cache warm-up got %d terms", len(terms))
	}

	v2 := filepath.Join(dir, "v2.yaml")
	os.WriteFile(v2, []byte("glossary_id: g1\nterms:\n  - source: cache\n    target: แคช\n  - source: server\n    target: เซิร์ฟเวอร์\n"), 0o644)
	if _, err := ImportTermsFile(db, m, "t1", "p1", v2); err != nil {
		t.Fatalf("import v2: %v", err)
	}

	terms, err := m.Terms("t1", "p1")
	if err != nil {
		t.Fatalf("Terms: %v", err)
	}
	if len(terms) != 2 {
		t.Errorf("post-import read got %d terms, want 2 (cache invalidated, set replaced)", len(terms))
	}
}

func TestImportTermsFileMissingGlossaryID(t *testing.T) {
	db := newTestDB(t)
	m := NewGlossaryMatcher(db, NewMemoryTermCache())

	path := filepath.Join(t.TempDir(), "terms.yaml")
	os.WriteFile(path, []byte("terms:\n  - source: cache\n    target: แคช\n"), 0o644)
	if _, err := ImportTermsFile(db, m, "t1", "p1", path); err == nil {
		t.Error("missing glossary_id should fail")
	}
}
