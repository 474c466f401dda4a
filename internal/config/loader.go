package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for _, fb := range cfg.Providers.EmbeddingsFallbacks {
		validateProviderName("embeddings", fb.Name)
	}

	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, fmt.Errorf("providers.embeddings.name is required; the engine cannot index turns without an embeddings provider"))
		if len(cfg.Providers.EmbeddingsFallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.embeddings_fallbacks configured without a primary providers.embeddings"))
		}
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; summaries fall back to truncation and the causal graph stays empty")
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm_fallbacks configured without a primary providers.llm"))
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	// Memory store selection
	if cfg.Memory.Store != "" && !cfg.Memory.Store.IsValid() {
		errs = append(errs, fmt.Errorf("memory.store %q is invalid; valid values: memory, sqlite, postgres", cfg.Memory.Store))
	}
	if cfg.Memory.Store == StorePostgres && cfg.Memory.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("memory.postgres_dsn is required when memory.store is postgres"))
	}
	if cfg.Memory.Store == StoreSQLite && cfg.Memory.SQLitePath == "" {
		errs = append(errs, fmt.Errorf("memory.sqlite_path is required when memory.store is sqlite"))
	}
	if cfg.Memory.Store == StoreMemory || cfg.Memory.Store == "" {
		slog.Warn("memory.store is in-memory; turns and snapshots will not survive a restart")
	}

	// Engine tuning ranges. Zero means "use the component default" and is
	// always allowed.
	e := cfg.Engine
	if e.Lambda != 0 && (e.Lambda <= 0 || e.Lambda > 1) {
		errs = append(errs, fmt.Errorf("engine.lambda %.3f is out of range (0, 1]", e.Lambda))
	}
	if e.DescentThreshold != 0 && (e.DescentThreshold < 0 || e.DescentThreshold >= 1) {
		errs = append(errs, fmt.Errorf("engine.descent_threshold %.3f is out of range [0, 1)", e.DescentThreshold))
	}
	if e.Lambda != 0 && e.DescentThreshold != 0 && e.DescentThreshold >= e.Lambda {
		errs = append(errs, fmt.Errorf("engine.descent_threshold %.3f must be below engine.lambda %.3f", e.DescentThreshold, e.Lambda))
	}
	if e.HopDecay != 0 && (e.HopDecay <= 0 || e.HopDecay > 1) {
		errs = append(errs, fmt.Errorf("engine.hop_decay %.3f is out of range (0, 1]", e.HopDecay))
	}
	if e.MaxNodes < 0 {
		errs = append(errs, fmt.Errorf("engine.max_nodes %d must not be negative", e.MaxNodes))
	}
	if e.MaxHops < 0 {
		errs = append(errs, fmt.Errorf("engine.max_hops %d must not be negative", e.MaxHops))
	}
	if e.TokenBudget < 0 {
		errs = append(errs, fmt.Errorf("engine.token_budget %d must not be negative", e.TokenBudget))
	}
	if e.TopK < 0 {
		errs = append(errs, fmt.Errorf("engine.top_k %d must not be negative", e.TopK))
	}

	// Cache
	if cfg.Cache.Capacity < 0 {
		errs = append(errs, fmt.Errorf("cache.capacity %d must not be negative", cfg.Cache.Capacity))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
