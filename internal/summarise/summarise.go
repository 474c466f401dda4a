// Package summarise produces the text of merged tree nodes.
//
// When two sibling subtrees fold into a summary node, the tree records the
// merge but carries no text; the engine asks a [Summariser] to condense the
// children's content into the new node's summary. [LLMSummariser] is the
// production implementation; [ConcatTruncate] is the dependency-free fallback
// used when no LLM is configured or the model call fails.
package summarise

import (
	"context"
	"fmt"
	"strings"

	"github.com/skalvenes/arbor/pkg/provider/llm"
)

// summarisationPrompt is the system prompt sent to the LLM when condensing a
// pair of sibling contexts into one summary node.
const summarisationPrompt = `Summarise the following interaction into a single concise state for long-term memory.
Preserve: facts stated, decisions made, named entities, and any cause-effect relationships.
Do not add commentary; output only the summary.`

// Summariser produces a concise summary of the texts a merged node covers.
type Summariser interface {
	// Summarise condenses texts (the children's contents, in conversation
	// order) into one summary string.
	Summarise(ctx context.Context, texts []string) (string, error)
}

// LLMSummariser uses an LLM provider to summarise merged nodes.
type LLMSummariser struct {
	llm       llm.Provider
	maxTokens int
}

var _ Summariser = (*LLMSummariser)(nil)

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider, maxTokens: 256}
}

// Summarise joins texts into a transcript, sends it to the LLM with the
// summarisation prompt, and returns the summary text.
func (s *LLMSummariser) Summarise(ctx context.Context, texts []string) (string, error) {
	joined := joinTexts(texts)
	if joined == "" {
		return "", nil
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: joined},
		},
		Temperature: 0.3,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

// ConcatTruncate is the degraded summariser: it joins the texts and truncates
// the result. The output is worse than an LLM summary but keeps summary nodes
// usable for assembly when the model is unavailable.
type ConcatTruncate struct {
	// MaxChars caps the joined output. Zero means [DefaultMaxChars].
	MaxChars int
}

// DefaultMaxChars is the truncation bound of a zero-value [ConcatTruncate].
const DefaultMaxChars = 600

var _ Summariser = ConcatTruncate{}

// Summarise joins texts with separators and truncates to MaxChars on a word
// boundary, marking the cut with an ellipsis.
func (c ConcatTruncate) Summarise(_ context.Context, texts []string) (string, error) {
	joined := joinTexts(texts)
	limit := c.MaxChars
	if limit <= 0 {
		limit = DefaultMaxChars
	}
	if len(joined) <= limit {
		return joined, nil
	}

	// The byte cut can land inside a multi-byte rune; drop the partial
	// sequence before looking for a word boundary.
	cut := strings.ToValidUTF8(joined[:limit], "")
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + " …", nil
}

func joinTexts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
