package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type termFile struct {
	GlossaryID string          `yaml:"glossary_id"`
	Terms      []termFileEntry `yaml:"terms"`
}

type termFileEntry struct {
	Source        string `yaml:"source"`
	Target        string `yaml:"target"`
	CaseSensitive bool   `yaml:"case_sensitive"`
}

func loadTermFile(path string) (termFile, error) {
	var tf termFile
	data, err := os.ReadFile(path)
	if err != nil {
		return tf, fmt.Errorf("read term file: %w", err)
	}
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return tf, fmt.Errorf("parse term file yaml: %w", err)
	}
	return tf, nil
}

// ImportTermsFile loads a glossary yaml file, NFKC-normalizes every term
// (the invariant the matcher relies on), replaces the glossary's term set
// and invalidates the project's term cache.
func ImportTermsFile(db *sql.DB, matcher *GlossaryMatcher, tenantID, projectID, path string) (int, error) {
	tf, err := loadTermFile(path)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(tf.GlossaryID) == "" {
		return 0, fmt.Errorf("term file %s: glossary_id is required", path)
	}

	var terms []GlossaryTerm
	for _, e := range tf.Terms {
		src := normalizeNFKC(strings.TrimSpace(e.Source))
		tgt := normalizeNFKC(strings.TrimSpace(e.Target))
		if src == "" || tgt == "" {
			continue
		}
		terms = append(terms, GlossaryTerm{
			GlossaryID:    tf.GlossaryID,
			TenantID:      tenantID,
			ProjectID:     projectID,
			SourceTerm:    src,
			TargetTerm:    tgt,
			CaseSensitive: e.CaseSensitive,
		})
	}

	if err := ReplaceGlossaryTerms(db, tenantID, projectID, tf.GlossaryID, terms); err != nil {
		return 0, fmt.Errorf("replace glossary terms: %w", err)
	}
	matcher.InvalidateTerms(projectID)
	return len(terms), nil
}
