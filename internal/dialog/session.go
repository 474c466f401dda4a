// Package dialog orchestrates the per-session conversation pipeline: turn
// inserts feed the renormalization tree and the causal knowledge graph, and
// context queries run retrieval, causal verification, and assembly.
//
// A [Session] owns one conversation: its tree, its graph, and the async
// summarisation and extraction work the inserts spawn. Sessions are fully
// independent; the [Manager] is the registry that creates and closes them.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skalvenes/arbor/internal/assemble"
	"github.com/skalvenes/arbor/internal/cache"
	"github.com/skalvenes/arbor/internal/ckg"
	"github.com/skalvenes/arbor/internal/cvl"
	"github.com/skalvenes/arbor/internal/extract"
	"github.com/skalvenes/arbor/internal/observe"
	"github.com/skalvenes/arbor/internal/resilience"
	"github.com/skalvenes/arbor/internal/rsm"
	"github.com/skalvenes/arbor/internal/summarise"
	"github.com/skalvenes/arbor/pkg/memory"
	"github.com/skalvenes/arbor/pkg/provider/embeddings"
)

// DefaultTopK is the number of tree candidates requested per query before
// causal verification narrows them down.
const DefaultTopK = 8

// asyncTimeout bounds each background summarisation or extraction run.
const asyncTimeout = 30 * time.Second

// Config holds the dependencies and tuning knobs shared by all sessions.
type Config struct {
	// Turns is the append-only turn store. Required.
	Turns memory.TurnStore

	// Embedder produces turn and query embeddings. Required.
	Embedder embeddings.Provider

	// Summariser phrases summary nodes after merges. When nil (or when it
	// keeps failing), summaries fall back to concatenate-and-truncate.
	Summariser summarise.Summariser

	// Extractor mines causal triples from turn and query text. When nil,
	// the graph stays empty and retrieval degrades to similarity-only.
	Extractor extract.Extractor

	// Snapshots persists tree and graph state per session. Optional; when
	// nil sessions are purely in-memory.
	Snapshots memory.SnapshotStore

	// Tree tunes the renormalization tree (merge threshold, descent
	// threshold, node cap). Zero value uses the rsm defaults.
	Tree rsm.Config

	// MaxHops bounds the causal path search. Zero uses the cvl default.
	MaxHops int

	// HopDecay is the per-hop score multiplier. Zero uses the cvl default.
	HopDecay float64

	// TokenBudget is the default assembly budget when a query passes a
	// negative one.
	TokenBudget int

	// TopK is the number of tree candidates per query. Zero means
	// [DefaultTopK].
	TopK int

	// Cache holds query embeddings keyed by query text. Optional.
	Cache *cache.EmbeddingCache

	// Metrics receives pipeline instrumentation. Optional.
	Metrics *observe.Metrics

	// Retry tunes the backoff for async summarisation and extraction.
	// Zero value uses the resilience defaults.
	Retry resilience.RetryConfig
}

func (c *Config) validate() error {
	if c.Turns == nil {
		return fmt.Errorf("dialog: turn store is required")
	}
	if c.Embedder == nil {
		return fmt.Errorf("dialog: embeddings provider is required")
	}
	return nil
}

// Result is the answer to a context query: the assembled prompt text plus
// the evidence trail a caller can log or display.
type Result struct {
	// ContextText is the budget-bounded, chronologically ordered context
	// block ready to prepend to a prompt.
	ContextText string

	// TokensUsed is the estimated token cost of ContextText.
	TokensUsed int

	// Items are the accepted context pieces in output order.
	Items []assemble.Item

	// Explanations describe why each accepted node survived causal
	// verification, in output order.
	Explanations []Explanation
}

// Explanation records the causal justification for one accepted node.
type Explanation struct {
	NodeID     memory.NodeID
	Similarity float64
	FinalScore float64
	PathLength int
	Path       []memory.EntityID
}

// String renders the explanation for logs and demo output.
func (e Explanation) String() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("node %d: similarity %.3f (no causal signal)", e.NodeID, e.Similarity)
	}
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return fmt.Sprintf("node %d: %s (%d hops, score %.3f)",
		e.NodeID, strings.Join(parts, " -> "), e.PathLength, e.FinalScore)
}

// Session is the conversation engine for a single session ID. All exported
// methods are safe for concurrent use; inserts serialise on an internal
// mutex while queries only take read views.
type Session struct {
	id  string
	cfg Config

	tree      *rsm.Tree
	graph     *ckg.Graph
	verifier  *cvl.Verifier
	assembler *assemble.Assembler

	mu sync.Mutex // serialises the append+insert mutation
	wg sync.WaitGroup

	closeOnce sync.Once
}

// newSession builds a session and, when a snapshot store is configured,
// restores any persisted tree and graph state.
func newSession(ctx context.Context, id string, cfg Config) (*Session, error) {
	var vopts []cvl.Option
	if cfg.MaxHops > 0 {
		vopts = append(vopts, cvl.WithMaxHops(cfg.MaxHops))
	}
	if cfg.HopDecay > 0 {
		vopts = append(vopts, cvl.WithHopDecay(cfg.HopDecay))
	}
	var aopts []assemble.Option
	if cfg.TokenBudget > 0 {
		aopts = append(aopts, assemble.WithTokenBudget(cfg.TokenBudget))
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		tree:      rsm.New(cfg.Tree),
		graph:     ckg.New(),
		verifier:  cvl.New(vopts...),
		assembler: assemble.New(cfg.Turns, aopts...),
	}

	if cfg.Snapshots != nil {
		if err := s.restore(ctx); err != nil {
			return nil, fmt.Errorf("dialog: restore session %s: %w", id, err)
		}
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// InsertTurn embeds the utterance, appends it to the turn store, and inserts
// it into the renormalization tree. Merge events and triple extraction are
// handled asynchronously and best-effort; the returned turn ID is final as
// soon as this call succeeds.
//
// A full tree surfaces as a wrapped [rsm.CapacityError]: the session must
// be archived or re-seeded, no insert can succeed afterwards.
func (s *Session) InsertTurn(ctx context.Context, role memory.Role, text string) (memory.TurnID, error) {
	if !role.IsValid() {
		return "", fmt.Errorf("dialog: insert turn: invalid role %q", role)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("dialog: insert turn: empty text")
	}
	start := time.Now()

	// Embed outside the session lock; only the mutation below serialises.
	vec, err := s.cfg.Embedder.Embed(ctx, text)
	if err != nil {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordProviderError(ctx, s.cfg.Embedder.ModelID(), "embeddings")
		}
		return "", fmt.Errorf("dialog: insert turn: embed: %w", err)
	}

	turn := memory.Turn{
		ID:        memory.TurnID(uuid.NewString()),
		Role:      role,
		Text:      text,
		Embedding: vec,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	if err := s.cfg.Turns.Append(ctx, s.id, turn); err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("dialog: insert turn: append: %w", err)
	}
	_, events, err := s.tree.Insert(ctx, turn)
	s.mu.Unlock()
	if err != nil {
		// The turn is stored; the tree rejected it (capacity) or merge
		// evaluation failed. Either way the caller must know.
		return turn.ID, fmt.Errorf("dialog: insert turn: tree: %w", err)
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.InsertDuration.Record(ctx, time.Since(start).Seconds())
		s.cfg.Metrics.Merges.Add(ctx, int64(len(events)))
		s.cfg.Metrics.TreeNodes.Add(ctx, int64(1+len(events)))
	}

	detached := context.WithoutCancel(ctx)
	for _, ev := range events {
		s.wg.Add(1)
		go s.summariseMerge(detached, ev)
	}
	if s.cfg.Extractor != nil {
		s.wg.Add(1)
		go s.extractTriples(detached, turn.ID, text)
	}

	return turn.ID, nil
}

// QueryContext retrieves, causally verifies, and assembles context for the
// query under the given token budget. The context never exceeds budget
// tokens for any budget ≥ 0; zero yields an empty context and a negative
// budget selects the configured default.
//
// The query embedding and the query entity extraction run concurrently. An
// extraction failure is not fatal: verification degrades to similarity-only
// and the degradation is logged.
func (s *Session) QueryContext(ctx context.Context, query string, budget int) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, fmt.Errorf("dialog: query context: empty query")
	}
	start := time.Now()

	var (
		vec      []float32
		entities []memory.EntityID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.queryEmbedding(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		vec = v
		return nil
	})
	g.Go(func() error {
		// Best-effort: a dead extractor must not block retrieval.
		entities = s.queryEntities(gctx, query)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("dialog: query context: %w", err)
	}

	topK := s.cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	candidates, err := s.tree.Retrieve(ctx, vec, topK)
	if err != nil {
		return Result{}, fmt.Errorf("dialog: query context: retrieve: %w", err)
	}

	verified := s.verifier.Verify(s.graph, s.tree, entities, candidates)
	if s.cfg.Metrics != nil {
		if len(entities) == 0 {
			s.cfg.Metrics.RecordCandidates(ctx, "passthrough", int64(len(verified)))
		} else {
			s.cfg.Metrics.RecordCandidates(ctx, "kept", int64(len(verified)))
			s.cfg.Metrics.RecordCandidates(ctx, "dropped", int64(len(candidates)-len(verified)))
		}
	}

	assembled, err := s.assembler.Assemble(ctx, s.id, s.tree, verified, budget)
	if err != nil {
		return Result{}, fmt.Errorf("dialog: query context: assemble: %w", err)
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RetrieveDuration.Record(ctx, time.Since(start).Seconds())
	}

	return Result{
		ContextText:  assembled.Text,
		TokensUsed:   assembled.TokensUsed,
		Items:        assembled.Items,
		Explanations: explanations(assembled.Items, verified),
	}, nil
}

// Save persists the current tree and graph snapshots. No-op without a
// snapshot store.
func (s *Session) Save(ctx context.Context) error {
	if s.cfg.Snapshots == nil {
		return nil
	}
	if err := s.cfg.Snapshots.SaveTree(ctx, s.id, s.tree.Snapshot()); err != nil {
		return fmt.Errorf("dialog: save session %s: tree: %w", s.id, err)
	}
	ents, edges := s.graph.Snapshot()
	if err := s.cfg.Snapshots.SaveGraph(ctx, s.id, ents, edges); err != nil {
		return fmt.Errorf("dialog: save session %s: graph: %w", s.id, err)
	}
	return nil
}

// Close waits for in-flight summarisation and extraction work, then persists
// a final snapshot. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.wg.Wait()
		err = s.Save(ctx)
	})
	return err
}

// NodeCount reports the current tree size.
func (s *Session) NodeCount() int { return s.tree.NodeCount() }

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

// restore loads persisted snapshots into the fresh tree and graph. Empty
// snapshots leave the session empty.
func (s *Session) restore(ctx context.Context) error {
	nodes, err := s.cfg.Snapshots.LoadTree(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load tree: %w", err)
	}
	if len(nodes) > 0 {
		if err := s.tree.Restore(nodes); err != nil {
			return fmt.Errorf("restore tree: %w", err)
		}
	}
	ents, edges, err := s.cfg.Snapshots.LoadGraph(ctx, s.id)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	if len(ents) > 0 || len(edges) > 0 {
		s.graph.Restore(ents, edges)
	}
	return nil
}

// queryEmbedding returns the query vector, consulting the cache first.
func (s *Session) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if s.cfg.Cache != nil {
		if vec, ok := s.cfg.Cache.Get(query); ok {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordCacheLookup(ctx, true)
			}
			return vec, nil
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordCacheLookup(ctx, false)
		}
	}
	vec, err := s.cfg.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if s.cfg.Cache != nil {
		s.cfg.Cache.Put(query, vec)
	}
	return vec, nil
}

// queryEntities extracts triples from the query and resolves their subjects
// and objects against the graph. Failures degrade to an empty set, which
// downstream verification treats as pass-through.
func (s *Session) queryEntities(ctx context.Context, query string) []memory.EntityID {
	if s.cfg.Extractor == nil {
		return nil
	}
	triples, err := s.cfg.Extractor.Extract(ctx, query)
	if err != nil {
		slog.Warn("dialog: query entity extraction failed, degrading to similarity-only",
			"session_id", s.id, "err", err)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordExtraction(ctx, "error")
		}
		return nil
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordExtraction(ctx, "ok")
	}

	seen := make(map[memory.EntityID]struct{})
	var out []memory.EntityID
	add := func(name string) {
		id, ok := s.graph.Resolve(name)
		if !ok {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, t := range triples {
		add(t.Subject)
		add(t.Object)
	}
	return out
}

// summariseMerge produces the text for one freshly created summary node. It
// retries the configured summariser with backoff and falls back to
// concatenate-and-truncate so the node never stays blank longer than one
// failed round.
func (s *Session) summariseMerge(ctx context.Context, ev rsm.MergeEvent) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, asyncTimeout)
	defer cancel()
	start := time.Now()

	texts, err := s.childTexts(ctx, ev)
	if err != nil {
		slog.Warn("dialog: summary input unavailable, node stays pending",
			"session_id", s.id, "node", ev.Summary, "err", err)
		return
	}

	var summary string
	if s.cfg.Summariser != nil {
		rerr := resilience.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
			text, err := s.cfg.Summariser.Summarise(ctx, texts)
			if err != nil {
				return err
			}
			summary = text
			return nil
		})
		if rerr != nil {
			slog.Warn("dialog: summariser failed, using truncated concatenation",
				"session_id", s.id, "node", ev.Summary, "err", rerr)
			summary = ""
		}
	}
	if summary == "" {
		summary, _ = summarise.ConcatTruncate{}.Summarise(ctx, texts)
	}
	if summary == "" {
		return
	}

	if err := s.tree.SetSummaryText(ev.Summary, summary); err != nil {
		slog.Warn("dialog: set summary text failed",
			"session_id", s.id, "node", ev.Summary, "err", err)
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SummariseDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// childTexts renders the merged children for the summariser: a child
// summary contributes its existing text, a leaf contributes its turn as
// "role: text".
func (s *Session) childTexts(ctx context.Context, ev rsm.MergeEvent) ([]string, error) {
	var texts []string
	for _, childID := range ev.Children {
		child, ok := s.tree.Node(childID)
		if !ok {
			return nil, fmt.Errorf("child node %d missing", childID)
		}
		if child.Kind == memory.KindSummary {
			if child.SummaryText != "" {
				texts = append(texts, child.SummaryText)
				continue
			}
			// The child's own summary may still be pending; fall through
			// to its raw turns.
		}
		turns, err := s.cfg.Turns.Turns(ctx, s.id, child.OwnedTurns)
		if err != nil {
			return nil, fmt.Errorf("load turns for node %d: %w", childID, err)
		}
		for _, t := range turns {
			texts = append(texts, fmt.Sprintf("%s: %s", t.Role, t.Text))
		}
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("no child text for summary node %d", ev.Summary)
	}
	return texts, nil
}

// extractTriples mines causal triples from the turn and folds them into the
// graph. Best-effort with bounded backoff; a permanent failure costs the
// graph one turn of signal, nothing else.
func (s *Session) extractTriples(ctx context.Context, turnID memory.TurnID, text string) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, asyncTimeout)
	defer cancel()

	var triples []memory.Triple
	err := resilience.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		t, err := s.cfg.Extractor.Extract(ctx, text)
		if err != nil {
			return err
		}
		triples = t
		return nil
	})
	if err != nil {
		slog.Warn("dialog: triple extraction failed, turn contributes no causal signal",
			"session_id", s.id, "turn_id", turnID, "err", err)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordExtraction(ctx, "error")
		}
		return
	}
	s.graph.Ingest(turnID, triples)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordExtraction(ctx, "ok")
	}
}

// explanations maps accepted assembly items back to their verified
// candidates, preserving item order.
func explanations(items []assemble.Item, verified []memory.RetrievalCandidate) []Explanation {
	byNode := make(map[memory.NodeID]memory.RetrievalCandidate, len(verified))
	for _, c := range verified {
		byNode[c.NodeID] = c
	}
	out := make([]Explanation, 0, len(items))
	for _, it := range items {
		c, ok := byNode[it.NodeID]
		if !ok {
			continue
		}
		out = append(out, Explanation{
			NodeID:     c.NodeID,
			Similarity: c.Similarity,
			FinalScore: c.FinalScore,
			PathLength: c.PathLength,
			Path:       c.Path,
		})
	}
	return out
}
