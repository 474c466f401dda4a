package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/skalvenes/arbor/internal/config"
	"github.com/skalvenes/arbor/pkg/provider/embeddings"
	embedmock "github.com/skalvenes/arbor/pkg/provider/embeddings/mock"
	"github.com/skalvenes/arbor/pkg/provider/llm"
	llmmock "github.com/skalvenes/arbor/pkg/provider/llm/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  llm_fallbacks:
    - name: ollama
      model: llama3
  embeddings:
    name: openai
    api_key: sk-test
    model: text-embedding-3-small

memory:
  store: sqlite
  sqlite_path: /var/lib/arbor/arbor.db
  embedding_dimensions: 1536

engine:
  lambda: 0.9
  descent_threshold: 0.35
  max_nodes: 10000
  max_hops: 3
  hop_decay: 0.8
  token_budget: 2048
  top_k: 8

cache:
  capacity: 256
  ttl: 5m
`

func load(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg := load(t, sampleYAML)

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("providers.llm.name: got %q, want %q", cfg.Providers.LLM.Name, "openai")
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("providers.llm_fallbacks: got %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Providers.Embeddings.Model != "text-embedding-3-small" {
		t.Errorf("providers.embeddings.model: got %q", cfg.Providers.Embeddings.Model)
	}
	if cfg.Memory.Store != config.StoreSQLite {
		t.Errorf("memory.store: got %q, want %q", cfg.Memory.Store, config.StoreSQLite)
	}
	if cfg.Memory.EmbeddingDimensions != 1536 {
		t.Errorf("memory.embedding_dimensions: got %d, want 1536", cfg.Memory.EmbeddingDimensions)
	}
	if cfg.Engine.Lambda != 0.9 {
		t.Errorf("engine.lambda: got %.2f, want 0.9", cfg.Engine.Lambda)
	}
	if cfg.Engine.DescentThreshold != 0.35 {
		t.Errorf("engine.descent_threshold: got %.2f, want 0.35", cfg.Engine.DescentThreshold)
	}
	if cfg.Engine.TopK != 8 {
		t.Errorf("engine.top_k: got %d, want 8", cfg.Engine.TopK)
	}
	if cfg.Cache.Capacity != 256 {
		t.Errorf("cache.capacity: got %d, want 256", cfg.Cache.Capacity)
	}
	if cfg.Cache.TTL.Std() != 5*time.Minute {
		t.Errorf("cache.ttl: got %v, want 5m", cfg.Cache.TTL.Std())
	}
}

func TestLoadFromReader_MinimalIsValid(t *testing.T) {
	cfg := load(t, `
providers:
  embeddings:
    name: openai
`)
	if cfg.Providers.Embeddings.Name != "openai" {
		t.Errorf("providers.embeddings.name: got %q", cfg.Providers.Embeddings.Name)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  embeddings:
    name: openai
    modle: oops
`))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_Malformed(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("{{{"))
	if err == nil {
		t.Fatal("expected error for malformed yaml, got nil")
	}
}

// ── Durations ─────────────────────────────────────────────────────────────────

func TestDuration_Unmarshal(t *testing.T) {
	cfg := load(t, `
providers:
  embeddings:
    name: openai
cache:
  ttl: 90s
`)
	if got := cfg.Cache.TTL.Std(); got != 90*time.Second {
		t.Errorf("cache.ttl: got %v, want 90s", got)
	}
}

func TestDuration_UnmarshalInvalid(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  embeddings:
    name: openai
cache:
  ttl: sometime
`))
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error should mention duration, got: %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownLLM(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown LLM provider")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownEmbeddings(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &llmmock.Provider{}
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredEmbeddings(t *testing.T) {
	reg := config.NewRegistry()
	want := &embedmock.Provider{}
	reg.RegisterEmbeddings("stub", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
