package config_test

import (
	"testing"

	"github.com/skalvenes/arbor/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM:        config.ProviderEntry{Name: "openai", Model: "gpt-4o"},
			Embeddings: config.ProviderEntry{Name: "openai"},
		},
		Engine: config.EngineConfig{Lambda: 0.9, TopK: 8},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.EngineChanged {
		t.Error("expected EngineChanged=false for identical configs")
	}
	if d.CacheChanged {
		t.Error("expected CacheChanged=false for identical configs")
	}
	if d.RestartRequired {
		t.Error("expected RestartRequired=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change should not require a restart")
	}
}

func TestDiff_EngineChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Engine: config.EngineConfig{Lambda: 0.9, TopK: 8}}
	new := &config.Config{Engine: config.EngineConfig{Lambda: 0.85, TopK: 8}}

	d := config.Diff(old, new)
	if !d.EngineChanged {
		t.Error("expected EngineChanged=true")
	}
	if d.NewEngine.Lambda != 0.85 {
		t.Errorf("expected NewEngine.Lambda=0.85, got %.2f", d.NewEngine.Lambda)
	}
	if d.RestartRequired {
		t.Error("engine tuning change should not require a restart")
	}
}

func TestDiff_CacheChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Cache: config.CacheConfig{Capacity: 128}}
	new := &config.Config{Cache: config.CacheConfig{Capacity: 256}}

	d := config.Diff(old, new)
	if !d.CacheChanged {
		t.Error("expected CacheChanged=true")
	}
	if d.NewCache.Capacity != 256 {
		t.Errorf("expected NewCache.Capacity=256, got %d", d.NewCache.Capacity)
	}
}

func TestDiff_ProviderChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o"},
		},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
	}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for a changed LLM model")
	}
}

func TestDiff_FallbackChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{
			LLMFallbacks: []config.ProviderEntry{{Name: "ollama"}},
		},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{
			LLMFallbacks: []config.ProviderEntry{{Name: "ollama"}, {Name: "groq"}},
		},
	}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for a changed fallback chain")
	}
}

func TestDiff_EmbeddingsFallbackChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{
			Embeddings: config.ProviderEntry{Name: "openai"},
		},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{
			Embeddings:          config.ProviderEntry{Name: "openai"},
			EmbeddingsFallbacks: []config.ProviderEntry{{Name: "ollama"}},
		},
	}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for a changed embeddings fallback chain")
	}
}

func TestDiff_MemoryChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{Memory: config.MemoryConfig{Store: config.StoreMemory}}
	new := &config.Config{Memory: config.MemoryConfig{Store: config.StoreSQLite, SQLitePath: "/tmp/a.db"}}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for a changed memory store")
	}
}

func TestDiff_ProviderOptionsIgnored(t *testing.T) {
	t.Parallel()
	// The free-form Options map is passed through to the provider at startup;
	// it is not comparable and does not participate in the diff.
	old := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Options: map[string]any{"temperature": 0.2}},
		},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Options: map[string]any{"temperature": 0.7}},
		},
	}

	d := config.Diff(old, new)
	if d.RestartRequired {
		t.Error("expected RestartRequired=false when only Options differ")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Engine: config.EngineConfig{TokenBudget: 2048},
		Memory: config.MemoryConfig{Store: config.StoreMemory},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogWarn},
		Engine: config.EngineConfig{TokenBudget: 4096},
		Memory: config.MemoryConfig{Store: config.StorePostgres, PostgresDSN: "postgres://localhost/arbor"},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.EngineChanged {
		t.Error("expected EngineChanged=true")
	}
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true")
	}
}
