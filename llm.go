package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type LLMUsage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// LayerSettings are the invocation parameters per AI layer: the fast screen
// runs cold and short, the deep pass warmer with a bigger output window.
type LayerSettings struct {
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
}

var layerSettings = map[string]LayerSettings{
	LayerL2: {Temperature: 0.0, MaxTokens: 4096, Timeout: 60 * time.Second},
	LayerL3: {Temperature: 0.2, MaxTokens: 8192, Timeout: 180 * time.Second},
}

// --- Error classification ---

// Invocation error classes. rate_limit, timeout and unknown are retriable;
// auth, content_filter and schema_mismatch are terminal.
const (
	ErrClassRateLimit      = "rate_limit"
	ErrClassAuth           = "auth"
	ErrClassContentFilter  = "content_filter"
	ErrClassSchemaMismatch = "schema_mismatch"
	ErrClassTimeout        = "timeout"
	ErrClassUnknown        = "unknown"
)

// ModelError is the tagged classification of a failed invocation. The
// orchestrator branches on Retriable instead of on error types.
type ModelError struct {
	Class string
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %s: %v", e.Model, e.Class, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

func (e *ModelError) Retriable() bool {
	switch e.Class {
	case ErrClassRateLimit, ErrClassTimeout, ErrClassUnknown:
		return true
	}
	return false
}

var errContentFiltered = errors.New("response blocked by content filter")

type httpStatusError struct {
	status  int
	message string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.message)
}

func classifyModelError(model string, err error) *ModelError {
	class := ErrClassUnknown

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		class = ErrClassTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		class = ErrClassTimeout
	case errors.Is(err, errContentFiltered):
		class = ErrClassContentFilter
	default:
		status := 0
		var apierr *anthropic.Error
		var httperr *httpStatusError
		if errors.As(err, &apierr) {
			status = apierr.StatusCode
		} else if errors.As(err, &httperr) {
			status = httperr.status
		}
		switch status {
		case http.StatusTooManyRequests, 529:
			class = ErrClassRateLimit
		case http.StatusUnauthorized, http.StatusForbidden:
			class = ErrClassAuth
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			class = ErrClassTimeout
		default:
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "content_filter") || strings.Contains(msg, "content filter") {
				class = ErrClassContentFilter
			}
		}
	}
	return &ModelError{Class: class, Model: model, Err: err}
}

func schemaMismatchError(model string, err error) *ModelError {
	return &ModelError{Class: ErrClassSchemaMismatch, Model: model, Err: err}
}

// --- Chunking ---

// chunkSegments splits segments into chunks bounded by the combined
// source+target character length. A single oversized segment still gets its
// own chunk.
func chunkSegments(segments []Segment, maxChars int) [][]Segment {
	if len(segments) == 0 {
		return nil
	}
	var chunks [][]Segment
	var current []Segment
	size := 0
	for _, s := range segments {
		segSize := len(s.SourceText) + len(s.TargetText)
		if len(current) > 0 && size+segSize > maxChars {
			chunks = append(chunks, current)
			current = nil
			size = 0
		}
		current = append(current, s)
		size += segSize
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// --- Prompts ---

type llmFinding struct {
	SegmentID     int64   `json:"segment_id"`
	Category      string  `json:"category"`
	Severity      string  `json:"severity"`
	Description   string  `json:"description"`
	SourceExcerpt string  `json:"source_excerpt"`
	TargetExcerpt string  `json:"target_excerpt"`
	Confidence    float64 `json:"confidence"`
}

func buildLayerPrompts(layer string, segments []Segment, prior []Finding) (string, string) {
	depth := "Screen quickly for clear, unambiguous issues only."
	if layer == LayerL3 {
		depth = "Analyze deeply: accuracy, terminology, fluency, style, locale conventions and tag integrity."
	}

	sourceLang, targetLang := "", ""
	if len(segments) > 0 {
		sourceLang, targetLang = segments[0].SourceLang, segments[0].TargetLang
	}

	systemPrompt := fmt.Sprintf(`You review %s -> %s translation segments for quality issues.
%s

For each issue, report:
- segment_id: the SEG id the issue belongs to
- category: one of accuracy, terminology, consistency, fluency, style, formatting, numbers, tag_integrity, untranslated
- severity: one of critical, major, minor
- description: one short sentence
- source_excerpt / target_excerpt: the relevant span
- confidence between 0 and 1

Do not repeat issues already listed in the prior findings context.

Respond with JSON only (no markdown):
[{"segment_id": 12, "category": "accuracy", "severity": "major", "description": "...", "source_excerpt": "...", "target_excerpt": "...", "confidence": 0.9}, ...]`,
		sourceLang, targetLang, depth)

	var segLines strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&segLines, "SEG:%d SRC:%s TGT:%s\n", s.ID, strings.TrimSpace(s.SourceText), strings.TrimSpace(s.TargetText))
	}

	priorBlock := "none"
	if len(prior) > 0 {
		var pb strings.Builder
		for _, f := range prior {
			fmt.Fprintf(&pb, "- [%s/%s] seg:%d %s\n", f.Category, f.Severity, f.SegmentID, strings.TrimSpace(f.Description))
		}
		priorBlock = pb.String()
	}

	userPrompt := "Prior findings from earlier layers:\n" + priorBlock +
		"\nReview these segments:\n\n" + segLines.String()
	return systemPrompt, userPrompt
}

func parseFindingsResponse(responseText string) ([]llmFinding, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var findings []llmFinding
	if err := json.Unmarshal([]byte(responseText), &findings); err != nil {
		truncated := responseText
		if len(truncated) > 512 {
			truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
		}
		return nil, fmt.Errorf("parsing findings response: %w (truncated response: %s)", err, truncated)
	}

	for i := range findings {
		switch findings[i].Severity {
		case SeverityCritical, SeverityMajor, SeverityMinor:
		default:
			findings[i].Severity = SeverityMinor
		}
	}
	return findings, nil
}

// --- Providers ---

func modelProvider(model string) string {
	if strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") {
		return "openai"
	}
	return "anthropic"
}

func invokeModel(ctx context.Context, cfg Config, model, systemPrompt, userPrompt string, st LayerSettings) (string, LLMUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, st.Timeout)
	defer cancel()

	switch modelProvider(model) {
	case "openai":
		return callOpenAI(ctx, cfg.OpenAIAPIKey, model, systemPrompt, userPrompt, st)
	default:
		return callAnthropic(ctx, cfg.AnthropicAPIKey, model, systemPrompt, userPrompt, st)
	}
}

func callAnthropic(ctx context.Context, apiKey, model, systemPrompt, userPrompt string, st LayerSettings) (string, LLMUsage, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   st.MaxTokens,
		Temperature: anthropic.Float(st.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error model=%s: %v", model, err)
		return "", LLMUsage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response model=%s size=%d tokens_in=%d tokens_out=%d", model, len(block.Text), usage.InputTokens, usage.OutputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int64           `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func callOpenAI(ctx context.Context, apiKey, model, systemPrompt, userPrompt string, st LayerSettings) (string, LLMUsage, error) {
	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: st.Temperature,
		MaxTokens:   st.MaxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		log.Printf("llm openai error model=%s: %v", model, err)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", LLMUsage{}, fmt.Errorf("parsing OpenAI response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		if openAIResp.Error != nil {
			msg = openAIResp.Error.Message
		}
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %w", &httpStatusError{status: resp.StatusCode, message: msg})
	}
	if openAIResp.Error != nil {
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if len(openAIResp.Choices) == 0 {
		return "", LLMUsage{}, fmt.Errorf("no choices in OpenAI response")
	}

	usage := LLMUsage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}

	choice := openAIResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", usage, fmt.Errorf("OpenAI: %w", errContentFiltered)
	}

	log.Printf("llm openai response model=%s size=%d tokens_in=%d tokens_out=%d", model, len(choice.Message.Content), usage.InputTokens, usage.OutputTokens)
	return choice.Message.Content, usage, nil
}
