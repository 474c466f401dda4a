package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: log verbosity
// applies immediately, engine and cache tuning applies to sessions created
// after the reload. Provider and store changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	EngineChanged bool
	NewEngine     EngineConfig

	CacheChanged bool
	NewCache     CacheConfig

	// RestartRequired is set when providers or the memory store changed;
	// those are wired at startup and cannot be swapped live.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Engine != new.Engine {
		d.EngineChanged = true
		d.NewEngine = new.Engine
	}

	if old.Cache != new.Cache {
		d.CacheChanged = true
		d.NewCache = new.Cache
	}

	if !providersEqual(old.Providers, new.Providers) || old.Memory != new.Memory {
		d.RestartRequired = true
	}

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.LLM, b.LLM) || !entryEqual(a.Embeddings, b.Embeddings) {
		return false
	}
	return entriesEqual(a.LLMFallbacks, b.LLMFallbacks) &&
		entriesEqual(a.EmbeddingsFallbacks, b.EmbeddingsFallbacks)
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// entryEqual ignores the free-form Options map: comparable fields decide.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
