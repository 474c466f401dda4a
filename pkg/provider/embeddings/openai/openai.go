// Package openai embeds text through the OpenAI embeddings API.
//
// The provider pins a single model for its lifetime so that every vector it
// hands to the tree lives in one space. Reduced-dimension output (supported
// by the text-embedding-3 family) is opted into with [WithDimensions].
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/skalvenes/arbor/pkg/provider"
	"github.com/skalvenes/arbor/pkg/provider/embeddings"
)

// DefaultModel is used when New is called with an empty model name.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider calls the OpenAI embeddings endpoint for a fixed model.
type Provider struct {
	client oai.Client
	model  string
	dims   int
}

type options struct {
	baseURL string
	org     string
	timeout time.Duration
	dims    int
}

// Option customises a Provider at construction time.
type Option func(*options)

// WithBaseURL points the client at an OpenAI-compatible endpoint other than
// api.openai.com, such as an Azure deployment or a local proxy.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithOrganization attaches an organization ID to every request.
func WithOrganization(org string) Option {
	return func(o *options) { o.org = org }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDimensions requests vectors truncated to n dimensions. Only the
// text-embedding-3 models honour this; Dimensions then reports n.
func WithDimensions(n int) Option {
	return func(o *options) { o.dims = n }
}

// New builds a Provider for the given model. An empty model selects
// [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.dims < 0 {
		return nil, fmt.Errorf("openai embeddings: dimensions %d must not be negative", o.dims)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(o.org))
	}
	if o.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: o.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		dims:   o.dims,
	}, nil
}

// Embed returns the vector for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	params := p.newParams()
	params.Input = oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w: %w", provider.ErrUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return narrow(resp.Data[0].Embedding), nil
}

// EmbedBatch embeds texts in one request. Element i of the result corresponds
// to texts[i]; the API may return entries out of order, so they are placed by
// their reported index.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := p.newParams()
	params.Input = oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w: %w", provider.ErrUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if e.Index < 0 || int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", e.Index)
		}
		out[e.Index] = narrow(e.Embedding)
	}
	return out, nil
}

// Dimensions reports the vector length this provider produces: the requested
// truncation when [WithDimensions] was given, otherwise the model's native
// size.
func (p *Provider) Dimensions() int {
	if p.dims > 0 {
		return p.dims
	}
	return nativeDimensions(p.model)
}

// ModelID returns the pinned model name.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) newParams() oai.EmbeddingNewParams {
	params := oai.EmbeddingNewParams{Model: p.model}
	if p.dims > 0 {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}
	return params
}

func nativeDimensions(model string) int {
	switch m := strings.ToLower(model); {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding-3-small"),
		strings.Contains(m, "text-embedding-ada-002"):
		return 1536
	default:
		// Unknown models are assumed to match the small-model width.
		return 1536
	}
}

func narrow(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
