// Package llm provides the LLM-backed classifier and transcript optimizer
// used by the organizer and the video transcriber. It includes adapters
// for OpenAI-compatible endpoints and Anthropic's Claude API with circuit
// breaker and retry logic.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"prodscout/internal/usecase/organize"
	"prodscout/internal/utils/text"
)

// maxPromptChars bounds the content sent per classification call to stay
// inside context limits across providers.
const maxPromptChars = 20000

// buildClassifyPrompt renders the classification instruction for one post.
// The model must answer with a single JSON object so the response can be
// decoded without free-text stripping beyond code fences.
func buildClassifyPrompt(req organize.Request) string {
	var b strings.Builder
	b.WriteString("You are a product-intelligence analyst. Classify the following post and respond with a single JSON object, no other text.\n\n")
	fmt.Fprintf(&b, "Allowed domains: %s\n", strings.Join(req.AllowedDomains, ", "))
	fmt.Fprintf(&b, "Allowed categories: %s\n\n", strings.Join(req.AllowedCategories, ", "))
	b.WriteString("Required JSON fields:\n")
	b.WriteString(`{"event": "<one-line event name>", "category": "<one of the allowed categories>", "domain": "<one of the allowed domains>", "quality_score": <integer 0-5>, "quality_reason": "<short justification>", "key_info": ["<bullet>", ...], "detail": "<long-form descriptive paragraph>"}`)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Title: %s\nDate: %s\nSource: %s\n\nContent:\n%s\n", req.Title, req.Date, req.SourceName, truncate(req.Content))
	if req.ExtraContent != "" {
		fmt.Fprintf(&b, "\nLinked material:\n%s\n", truncate(req.ExtraContent))
	}
	return b.String()
}

// buildOptimizePrompt renders the transcript post-processing instruction.
// The surrounding post content is supplied as a hint for correcting
// misrecognized domain terms.
func buildOptimizePrompt(rawTranscript, contextText string) string {
	var b strings.Builder
	b.WriteString("The following is a raw automatic speech recognition transcript. Rewrite it as flowing prose:\n")
	b.WriteString("- correct misrecognized names and domain terms using the context below as a hint\n")
	b.WriteString("- remove filler words and repetitions\n")
	b.WriteString("- preserve all information; do not summarize away content\n")
	b.WriteString("Respond with the rewritten transcript only.\n\n")
	if contextText != "" {
		fmt.Fprintf(&b, "Context:\n%s\n\n", truncate(contextText))
	}
	fmt.Fprintf(&b, "Transcript:\n%s\n", truncate(rawTranscript))
	return b.String()
}

// parseClassification decodes the model's JSON answer, tolerating markdown
// code fences around the object.
func parseClassification(answer string) (*organize.Classification, error) {
	trimmed := strings.TrimSpace(answer)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	// Some models prepend prose despite instructions; take the outermost
	// object.
	if start := strings.IndexByte(trimmed, '{'); start > 0 {
		trimmed = trimmed[start:]
	}
	if end := strings.LastIndexByte(trimmed, '}'); end >= 0 {
		trimmed = trimmed[:end+1]
	}

	var c organize.Classification
	if err := json.Unmarshal([]byte(trimmed), &c); err != nil {
		return nil, fmt.Errorf("decode classification JSON: %w", err)
	}
	return &c, nil
}

// truncate bounds input text by rune count.
func truncate(s string) string {
	if text.CountRunes(s) <= maxPromptChars {
		return s
	}
	return string([]rune(s)[:maxPromptChars]) + "…\n(content truncated)"
}
