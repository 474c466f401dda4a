// Package mock is a test double for [embeddings.Provider]. Zero value is
// usable: configure behaviour through the exported fields and inspect the
// recorded calls afterwards.
package mock

import (
	"context"
	"sync"

	"github.com/skalvenes/arbor/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall records one Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records one EmbedBatch invocation. Texts is a copy.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a configurable in-memory embeddings.Provider. Safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, when set, serves Embed. Otherwise Embed returns
	// (EmbedResult, EmbedErr).
	EmbedFunc   func(ctx context.Context, text string) ([]float32, error)
	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchFunc, when set, serves EmbedBatch. Otherwise EmbedBatch
	// embeds each text through Embed, so a single EmbedFunc drives both
	// paths.
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

	DimensionsValue int
	ModelIDValue    string

	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	fn, result, err := p.EmbedFunc, p.EmbedResult, p.EmbedErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return result, err
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	fn := p.EmbedBatchFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, cp)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *Provider) Dimensions() int {
	return p.DimensionsValue
}

func (p *Provider) ModelID() string {
	return p.ModelIDValue
}
