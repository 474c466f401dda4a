// Package ollama embeds text through a local Ollama server's /api/embed
// endpoint, for models such as nomic-embed-text, mxbai-embed-large and
// all-minilm. Ollama exposes a plain JSON-over-HTTP API with no official Go
// client, so the provider speaks it directly over net/http.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skalvenes/arbor/pkg/provider"
	"github.com/skalvenes/arbor/pkg/provider/embeddings"
)

// DefaultBaseURL targets a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider calls an Ollama server for a fixed embedding model.
//
// The vector width is resolved from [WithDimensions] when given, then from a
// table of recognised model names, and as a last resort by a one-off probe
// request on the first Dimensions call. Provider is safe for concurrent use.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	dims      int
	probeOnce sync.Once
}

type options struct {
	timeout time.Duration
	dims    int
}

// Option customises a Provider at construction time.
type Option func(*options)

// WithTimeout bounds each HTTP request. Zero or negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDimensions pins the vector width up front, skipping both the model-name
// table and the probe request for unrecognised models.
func WithDimensions(dims int) Option {
	return func(o *options) { o.dims = dims }
}

// New builds a Provider for model on the server at baseURL. An empty baseURL
// selects [DefaultBaseURL]; the model name is required because Ollama has no
// default embedding model.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	client := &http.Client{}
	if o.timeout > 0 {
		client.Timeout = o.timeout
	}

	dims := o.dims
	if dims == 0 {
		dims = tableDimensions(model)
	}

	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		dims:    dims,
	}, nil
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for a single text. The text is forwarded verbatim;
// any model-specific prefix such as nomic's "query: " is the caller's job.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w: %w", provider.ErrUnavailable, err)
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in a single request. Ollama returns vectors in input
// order, so result[i] corresponds to texts[i]. Empty input returns (nil, nil)
// without a network round trip.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w: %w", provider.ErrUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions reports the vector width. For models missing from the built-in
// table it issues one probe embed against the live server and caches the
// result; a failed probe reports 0.
func (p *Provider) Dimensions() int {
	if p.dims != 0 {
		return p.dims
	}
	p.probeOnce.Do(func() {
		vecs, err := p.post(context.Background(), []string{"probe"})
		if err == nil {
			p.dims = len(vecs[0])
		}
	})
	return p.dims
}

// ModelID returns the Ollama model name supplied at construction.
func (p *Provider) ModelID() string {
	return p.model
}

// post sends one /api/embed request and returns at least one vector, or an
// error.
func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(apiRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// tableDimensions knows the output width of common Ollama embedding models.
// Unknown models return 0 and are probed on first use.
func tableDimensions(model string) int {
	switch m := strings.ToLower(model); {
	case strings.Contains(m, "nomic-embed-text"):
		return 768
	case strings.Contains(m, "mxbai-embed-large"):
		return 1024
	case strings.Contains(m, "all-minilm"):
		return 384
	default:
		return 0
	}
}
