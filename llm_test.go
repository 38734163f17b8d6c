package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestChunkSegmentsBounded(t *testing.T) {
	segments := []Segment{
		{ID: 1, SourceText: strings.Repeat("a", 40), TargetText: strings.Repeat("b", 40)},
		{ID: 2, SourceText: strings.Repeat("c", 40), TargetText: strings.Repeat("d", 40)},
		{ID: 3, SourceText: strings.Repeat("e", 40), TargetText: strings.Repeat("f", 40)},
	}

	chunks := chunkSegments(segments, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (each segment is 80 chars)", len(chunks))
	}

	chunks = chunkSegments(segments, 200)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0]) != 2 || len(chunks[1]) != 1 {
		t.Errorf("chunk sizes = %d,%d, want 2,1", len(chunks[0]), len(chunks[1]))
	}
}

func TestChunkSegmentsOversized(t *testing.T) {
	segments := []Segment{{ID: 1, SourceText: strings.Repeat("a", 500)}}
	chunks := chunkSegments(segments, 100)
	if len(chunks) != 1 || len(chunks[0]) != 1 {
		t.Errorf("oversized segment should still get its own chunk, got %v", chunks)
	}

	if got := chunkSegments(nil, 100); got != nil {
		t.Errorf("empty input should produce no chunks, got %v", got)
	}
}

func TestParseFindingsResponse(t *testing.T) {
	raw := `[{"segment_id": 3, "category": "accuracy", "severity": "major", "description": "mistranslation", "confidence": 0.9}]`
	findings, err := parseFindingsResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(findings) != 1 || findings[0].SegmentID != 3 || findings[0].Severity != SeverityMajor {
		t.Errorf("findings = %+v", findings)
	}
}

func TestParseFindingsResponseFenced(t *testing.T) {
	raw := "```json\n[{\"segment_id\": 1, \"category\": \"style\", \"severity\": \"minor\", \"confidence\": 0.5}]\n```"
	findings, err := parseFindingsResponse(raw)
	if err != nil {
		t.Fatalf("parse fenced: %v", err)
	}
	if len(findings) != 1 {
		t.Errorf("findings = %+v", findings)
	}
}

func TestParseFindingsResponseNormalizesSeverity(t *testing.T) {
	raw := `[{"segment_id": 1, "category": "style", "severity": "catastrophic", "confidence": 0.5}]`
	findings, err := parseFindingsResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if findings[0].Severity != SeverityMinor {
		t.Errorf("unknown severity normalized to %q, want minor", findings[0].Severity)
	}
}

func TestParseFindingsResponseInvalid(t *testing.T) {
	_, err := parseFindingsResponse("I could not review these segments.")
	if err == nil {
		t.Fatal("prose response should fail to parse")
	}

	// Long garbage is truncated in the error, not echoed wholesale.
	_, err = parseFindingsResponse(strings.Repeat("x", 2000))
	if err == nil {
		t.Fatal("garbage should fail to parse")
	}
	if len(err.Error()) > 800 {
		t.Errorf("error message length %d, want truncated", len(err.Error()))
	}
}

func TestClassifyModelError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, ErrClassTimeout},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), ErrClassTimeout},
		{fmt.Errorf("blocked: %w", errContentFiltered), ErrClassContentFilter},
		{fmt.Errorf("api: %w", &httpStatusError{status: 429, message: "slow down"}), ErrClassRateLimit},
		{fmt.Errorf("api: %w", &httpStatusError{status: 529, message: "overloaded"}), ErrClassRateLimit},
		{fmt.Errorf("api: %w", &httpStatusError{status: 401, message: "bad key"}), ErrClassAuth},
		{fmt.Errorf("api: %w", &httpStatusError{status: 403, message: "forbidden"}), ErrClassAuth},
		{fmt.Errorf("api: %w", &httpStatusError{status: 504, message: "gateway timeout"}), ErrClassTimeout},
		{errors.New("response flagged by content filter"), ErrClassContentFilter},
		{errors.New("connection reset by peer"), ErrClassUnknown},
	}
	for _, tc := range cases {
		got := classifyModelError("test-model", tc.err)
		if got.Class != tc.want {
			t.Errorf("classify(%v) = %q, want %q", tc.err, got.Class, tc.want)
		}
		if got.Model != "test-model" {
			t.Errorf("model = %q", got.Model)
		}
	}
}

func TestModelErrorRetriable(t *testing.T) {
	retriable := []string{ErrClassRateLimit, ErrClassTimeout, ErrClassUnknown}
	terminal := []string{ErrClassAuth, ErrClassContentFilter, ErrClassSchemaMismatch}

	for _, class := range retriable {
		e := &ModelError{Class: class, Model: "m", Err: errors.New("x")}
		if !e.Retriable() {
			t.Errorf("%s should be retriable", class)
		}
	}
	for _, class := range terminal {
		e := &ModelError{Class: class, Model: "m", Err: errors.New("x")}
		if e.Retriable() {
			t.Errorf("%s should be terminal", class)
		}
	}
}

func TestModelErrorUnwrap(t *testing.T) {
	inner := &httpStatusError{status: 429, message: "limit"}
	e := classifyModelError("m", fmt.Errorf("api: %w", inner))
	var got *httpStatusError
	if !errors.As(e, &got) || got.status != 429 {
		t.Errorf("unwrap lost the inner error: %v", e)
	}
}

func TestBuildLayerPrompts(t *testing.T) {
	segments := []Segment{
		{ID: 10, SourceText: "Hello", TargetText: "สวัสดี", SourceLang: "en", TargetLang: "th"},
		{ID: 11, SourceText: "Bye", TargetText: "ลาก่อน", SourceLang: "en", TargetLang: "th"},
	}

	system, user := buildLayerPrompts(LayerL2, segments, nil)
	if !strings.Contains(system, "en -> th") {
		t.Errorf("system prompt missing language pair:\n%s", system)
	}
	if !strings.Contains(user, "SEG:10") || !strings.Contains(user, "SEG:11") {
		t.Errorf("user prompt missing segment lines:\n%s", user)
	}
	if !strings.Contains(user, "none") {
		t.Errorf("empty prior findings should render as none:\n%s", user)
	}

	prior := []Finding{{SegmentID: 10, Category: "terminology", Severity: SeverityMinor, Description: "missing glossary term"}}
	_, user = buildLayerPrompts(LayerL3, segments, prior)
	if !strings.Contains(user, "missing glossary term") {
		t.Errorf("prior findings not rendered:\n%s", user)
	}
}

func TestModelProvider(t *testing.T) {
	cases := map[string]string{
		"claude-3-5-haiku-20241022":  "anthropic",
		"claude-sonnet-4-5-20250929": "anthropic",
		"gpt-4o-mini":                "openai",
		"o3-mini":                    "openai",
	}
	for model, want := range cases {
		if got := modelProvider(model); got != want {
			t.Errorf("modelProvider(%q) = %q, want %q", model, got, want)
		}
	}
}
