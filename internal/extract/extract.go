// Package extract pulls causal triples out of raw turn text.
//
// The production implementation asks an LLM for a JSON list of
// (subject, relation, object) statements; the graph layer canonicalises the
// strings afterwards. Extraction is best-effort: callers treat an error as
// "no triples this turn" rather than failing the insert.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skalvenes/arbor/pkg/memory"
	"github.com/skalvenes/arbor/pkg/provider/llm"
)

// extractionPrompt instructs the model to emit machine-readable triples only.
const extractionPrompt = `Extract causal and factual relationships from the text as a JSON array.
Each element: {"subject": "...", "relation": "...", "object": "...", "confidence": 0.0-1.0}.
Use short noun phrases for subject and object and a single verb phrase for relation.
Output only the JSON array. Output [] if the text states no relationships.`

// Extractor produces causal triples from one turn's text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]memory.Triple, error)
}

// LLMExtractor uses an LLM provider to extract triples.
type LLMExtractor struct {
	llm       llm.Provider
	maxTokens int
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor creates a new [LLMExtractor] backed by the given provider.
func NewLLMExtractor(provider llm.Provider) *LLMExtractor {
	return &LLMExtractor{llm: provider, maxTokens: 512}
}

// Extract sends text to the LLM and parses the returned JSON triples.
// Elements missing a subject, relation, or object are dropped; a confidence
// outside (0, 1] is zeroed so the graph applies its default.
func (e *LLMExtractor) Extract(ctx context.Context, text string) ([]memory.Triple, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractionPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	triples, err := ParseTriples(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return triples, nil
}

// rawTriple mirrors the JSON shape the model is asked to produce.
type rawTriple struct {
	Subject    string  `json:"subject"`
	Relation   string  `json:"relation"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// ParseTriples decodes a JSON triple array out of model output. Models often
// wrap JSON in markdown fences or prose, so the parser locates the outermost
// array before decoding.
func ParseTriples(content string) ([]memory.Triple, error) {
	raw := extractJSONArray(content)
	if raw == "" {
		return nil, fmt.Errorf("parse triples: no JSON array in output")
	}

	var decoded []rawTriple
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("parse triples: %w", err)
	}

	triples := make([]memory.Triple, 0, len(decoded))
	for _, r := range decoded {
		if strings.TrimSpace(r.Subject) == "" ||
			strings.TrimSpace(r.Relation) == "" ||
			strings.TrimSpace(r.Object) == "" {
			continue
		}
		conf := r.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0
		}
		triples = append(triples, memory.Triple{
			Subject:    r.Subject,
			Relation:   r.Relation,
			Object:     r.Object,
			Confidence: conf,
		})
	}
	return triples, nil
}

// extractJSONArray returns the substring from the first '[' to the last ']',
// or "" when no array brackets are present.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
