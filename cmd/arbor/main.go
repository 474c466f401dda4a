// Command arbor runs the Arbor conversation context manager: an interactive
// chat loop whose prompt context comes from the renormalization tree and the
// causal knowledge graph instead of a flat transcript window.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skalvenes/arbor/internal/cache"
	"github.com/skalvenes/arbor/internal/config"
	"github.com/skalvenes/arbor/internal/dialog"
	"github.com/skalvenes/arbor/internal/extract"
	"github.com/skalvenes/arbor/internal/health"
	"github.com/skalvenes/arbor/internal/observe"
	"github.com/skalvenes/arbor/internal/resilience"
	"github.com/skalvenes/arbor/internal/rsm"
	"github.com/skalvenes/arbor/internal/summarise"
	"github.com/skalvenes/arbor/pkg/memory"
	"github.com/skalvenes/arbor/pkg/memory/postgres"
	"github.com/skalvenes/arbor/pkg/memory/sqlite"
	"github.com/skalvenes/arbor/pkg/provider/embeddings"
	ollamaembed "github.com/skalvenes/arbor/pkg/provider/embeddings/ollama"
	oaembed "github.com/skalvenes/arbor/pkg/provider/embeddings/openai"
	"github.com/skalvenes/arbor/pkg/provider/llm"
	"github.com/skalvenes/arbor/pkg/provider/llm/anyllm"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "arbor: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "arbor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("arbor starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	embedder, llmProvider, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	turns, snapshots, closeStore, err := buildStores(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Session manager ───────────────────────────────────────────────────────
	var queryCache *cache.EmbeddingCache
	if cfg.Cache.Capacity > 0 {
		queryCache = cache.New(cfg.Cache.Capacity, cfg.Cache.TTL.Std())
	}

	var (
		summariser summarise.Summariser
		extractor  extract.Extractor
	)
	if llmProvider != nil {
		summariser = summarise.NewLLMSummariser(llmProvider)
		extractor = extract.NewLLMExtractor(llmProvider)
	}

	manager, err := dialog.NewManager(dialog.Config{
		Turns:      turns,
		Embedder:   embedder,
		Summariser: summariser,
		Extractor:  extractor,
		Snapshots:  snapshots,
		Tree: rsm.Config{
			Lambda:           cfg.Engine.Lambda,
			DescentThreshold: cfg.Engine.DescentThreshold,
			MaxNodes:         cfg.Engine.MaxNodes,
		},
		MaxHops:     cfg.Engine.MaxHops,
		HopDecay:    cfg.Engine.HopDecay,
		TokenBudget: cfg.Engine.TokenBudget,
		TopK:        cfg.Engine.TopK,
		Cache:       queryCache,
		Metrics:     metrics,
	})
	if err != nil {
		slog.Error("failed to create session manager", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.EngineChanged {
			slog.Info("engine tuning changed — applies to new sessions",
				"lambda", d.NewEngine.Lambda,
				"descent_threshold", d.NewEngine.DescentThreshold,
			)
		}
		if d.CacheChanged {
			slog.Info("cache tuning changed — applies after restart")
		}
		if d.RestartRequired {
			slog.Warn("provider or store configuration changed — restart required to apply")
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP: /metrics, /healthz, /readyz ─────────────────────────────────────
	httpShutdown := startHTTP(cfg, turns, embedder)
	defer httpShutdown()

	// ── Chat loop ─────────────────────────────────────────────────────────────
	slog.Info("ready — type a message, Ctrl+C or Ctrl+D to quit")

	// An unset config budget means "use the engine default", which the query
	// API spells as a negative budget (zero is a real budget: no context).
	budget := cfg.Engine.TokenBudget
	if budget == 0 {
		budget = -1
	}
	if err := chatLoop(ctx, manager, llmProvider, budget); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("chat loop error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down, draining sessions…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := manager.CloseAll(shutdownCtx); err != nil {
		slog.Error("session shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates the embeddings provider chain (required) and
// the LLM provider chain (optional), each with fallbacks behind one
// circuit-breaking facade.
func buildProviders(cfg *config.Config, reg *config.Registry) (embeddings.Provider, llm.Provider, error) {
	embedder, err := buildEmbeddings(cfg, reg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no llm provider configured — summaries fall back to truncation, retrieval is similarity-only")
		return embedder, nil, nil
	}

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if len(cfg.Providers.LLMFallbacks) == 0 {
		return embedder, primary, nil
	}

	chain := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.LLMFallbacks {
		fb, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, fb)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name)
	}
	return embedder, chain, nil
}

// buildEmbeddings creates the primary embeddings provider plus any configured
// fallbacks. Fallbacks must live in the primary's vector space; a dimension
// mismatch fails startup rather than quietly corrupting tree centroids.
func buildEmbeddings(cfg *config.Config, reg *config.Registry) (embeddings.Provider, error) {
	primary, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name)

	if len(cfg.Providers.EmbeddingsFallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewEmbeddingsFallback(primary, cfg.Providers.Embeddings.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.EmbeddingsFallbacks {
		fb, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings fallback %q: %w", entry.Name, err)
		}
		if want, got := primary.Dimensions(), fb.Dimensions(); want > 0 && got > 0 && want != got {
			return nil, fmt.Errorf("embeddings fallback %q produces %d-dimensional vectors, primary %q produces %d",
				entry.Name, got, cfg.Providers.Embeddings.Name, want)
		}
		chain.AddFallback(entry.Name, fb)
		slog.Info("provider created", "kind", "embeddings-fallback", "name", entry.Name)
	}
	return chain, nil
}

// buildStores opens the configured persistence backend. The in-memory backend
// pairs the memstore with a memory snapshot store; sqlite and postgres
// implement both contracts on one handle.
func buildStores(ctx context.Context, cfg *config.Config) (memory.TurnStore, memory.SnapshotStore, func(), error) {
	switch cfg.Memory.Store {
	case config.StoreSQLite:
		store, err := sqlite.NewStore(cfg.Memory.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("store opened", "kind", "sqlite", "path", cfg.Memory.SQLitePath)
		return store, store, func() { store.Close() }, nil

	case config.StorePostgres:
		dims := cfg.Memory.EmbeddingDimensions
		if dims == 0 {
			dims = 1536
		}
		store, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN, dims)
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("store opened", "kind", "postgres", "dimensions", dims)
		return store, store, store.Close, nil

	default:
		slog.Info("store opened", "kind", "memory")
		return memory.NewMemTurnStore(), memory.NewMemSnapshotStore(), func() {}, nil
	}
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

// startHTTP serves /metrics plus the health endpoints and returns a shutdown
// function. When no listen address is configured it does nothing.
func startHTTP(cfg *config.Config, turns memory.TurnStore, embedder embeddings.Provider) func() {
	if cfg.Server.ListenAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.StoreCheck(turns),
		health.EmbeddingsCheck(embedder, cfg.Memory.EmbeddingDimensions),
	).Register(mux)

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()
	slog.Info("http endpoints up", "addr", cfg.Server.ListenAddr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
	}
}

// ── Chat loop ─────────────────────────────────────────────────────────────────

const systemPrompt = "You are a helpful assistant. Use the provided conversation " +
	"context to answer; it contains the relevant turns and summaries from the " +
	"conversation so far."

// chatLoop reads user lines from stdin, records each as a turn, queries the
// engine for relevant context, and (when an LLM is configured) prints the
// model's reply and records it as the assistant turn.
func chatLoop(ctx context.Context, manager *dialog.Manager, provider llm.Provider, budget int) error {
	session, err := manager.Session(ctx, "")
	if err != nil {
		return err
	}
	slog.Info("session opened", "session_id", session.ID())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		var text string
		select {
		case <-ctx.Done():
			fmt.Println()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return nil
			}
			text = strings.TrimSpace(line)
		}
		if text == "" {
			continue
		}

		if _, err := session.InsertTurn(ctx, memory.RoleUser, text); err != nil {
			slog.Error("insert turn failed", "err", err)
			continue
		}

		result, err := session.QueryContext(ctx, text, budget)
		if err != nil {
			slog.Error("context query failed", "err", err)
			continue
		}
		for _, ex := range result.Explanations {
			slog.Debug("context evidence", "explanation", ex.String())
		}

		if provider == nil {
			// No model: show what would have been injected into the prompt.
			fmt.Println("--- retrieved context ---")
			fmt.Println(result.ContextText)
			continue
		}

		resp, err := provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt + "\n\nContext:\n" + result.ContextText,
			Messages:     []llm.Message{{Role: "user", Content: text}},
		})
		if err != nil {
			slog.Error("completion failed", "err", err)
			continue
		}
		fmt.Println(resp.Content)

		if _, err := session.InsertTurn(ctx, memory.RoleAssistant, resp.Content); err != nil {
			slog.Error("insert assistant turn failed", "err", err)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
