package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/skalvenes/arbor/pkg/memory"
	"github.com/skalvenes/arbor/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if ARBOR_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ARBOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ARBOR_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, table := range []string{"turns", "tree_nodes", "graph_entities", "graph_edges"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
}

func sampleTurn(id memory.TurnID, text string) memory.Turn {
	return memory.Turn{
		ID:        id,
		Role:      memory.RoleUser,
		Text:      text,
		Embedding: []float32{0.1, 0.2, 0.3, 0.4},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Entities:  []memory.EntityID{"deploy"},
	}
}

func TestTurnStore_AppendGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := sampleTurn("t1", "the deploy caused the outage")
	if err := store.Append(ctx, "s1", want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := store.Get(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for stored turn")
	}
	if got.Text != want.Text || got.Role != want.Role {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(got.Embedding) != testEmbeddingDim {
		t.Errorf("embedding length = %d, want %d", len(got.Embedding), testEmbeddingDim)
	}
	if len(got.Entities) != 1 || got.Entities[0] != "deploy" {
		t.Errorf("entities = %v", got.Entities)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
}

func TestTurnStore_DuplicateAppendFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, "s1", sampleTurn("t1", "first")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "s1", sampleTurn("t1", "second")); err == nil {
		t.Error("expected error for duplicate turn ID")
	}
	// Same ID under another session is fine.
	if err := store.Append(ctx, "s2", sampleTurn("t1", "other session")); err != nil {
		t.Errorf("cross-session append: %v", err)
	}
}

func TestTurnStore_GetUnknownIsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "s1", "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestTurnStore_BatchPreservesRequestOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []memory.TurnID{"t1", "t2", "t3"} {
		if err := store.Append(ctx, "s1", sampleTurn(id, string(id))); err != nil {
			t.Fatalf("Append %s: %v", id, err)
		}
	}

	turns, err := store.Turns(ctx, "s1", []memory.TurnID{"t3", "missing", "t1"})
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].ID != "t3" || turns[1].ID != "t1" {
		t.Errorf("order = [%s %s], want [t3 t1]", turns[0].ID, turns[1].ID)
	}
}

func TestTurnStore_Count(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Count(ctx, "s1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("empty count = %d, want 0", n)
	}

	for _, id := range []memory.TurnID{"t1", "t2"} {
		if err := store.Append(ctx, "s1", sampleTurn(id, string(id))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	n, err = store.Count(ctx, "s1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestSnapshotStore_TreeRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	nodes := []memory.TreeNode{
		{
			ID:         0,
			Kind:       memory.KindRoot,
			OwnedTurns: []memory.TurnID{},
			Children:   []memory.NodeID{1},
			Parent:     memory.NoNode,
			CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:          1,
			Kind:        memory.KindSummary,
			OwnedTurns:  []memory.TurnID{"t1", "t2"},
			Centroid:    []float32{0.5, 0.5, 0, 0},
			SummaryText: "two greetings, condensed",
			Children:    []memory.NodeID{2, 3},
			Parent:      0,
			Depth:       1,
			CreatedAt:   time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		},
	}
	if err := store.SaveTree(ctx, "s1", nodes); err != nil {
		t.Fatalf("SaveTree: %v", err)
	}

	got, err := store.LoadTree(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadTree: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d nodes, want 2", len(got))
	}
	if got[1].SummaryText != "two greetings, condensed" {
		t.Errorf("summary text = %q", got[1].SummaryText)
	}
	if len(got[1].OwnedTurns) != 2 || got[1].OwnedTurns[0] != "t1" {
		t.Errorf("owned turns = %v", got[1].OwnedTurns)
	}
	if got[0].Parent != memory.NoNode {
		t.Errorf("root parent = %d, want %d", got[0].Parent, memory.NoNode)
	}

	// Save replaces the previous snapshot wholesale.
	if err := store.SaveTree(ctx, "s1", nodes[:1]); err != nil {
		t.Fatalf("SaveTree replace: %v", err)
	}
	got, err = store.LoadTree(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadTree: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d nodes after replace, want 1", len(got))
	}
}

func TestSnapshotStore_LoadTreeEmpty(t *testing.T) {
	store := newTestStore(t)

	got, err := store.LoadTree(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("LoadTree: %v", err)
	}
	if got == nil {
		t.Fatal("LoadTree returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("got %d nodes, want 0", len(got))
	}
}

func TestSnapshotStore_GraphRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entities := []memory.Entity{
		{ID: "deploy", CanonicalName: "deploy", Aliases: []string{"Deploy", "deployment"}},
		{ID: "outage", CanonicalName: "outage"},
	}
	edges := []memory.CausalEdge{
		{
			Source:          "deploy",
			Target:          "outage",
			Relation:        "caused",
			SupportingTurns: []memory.TurnID{"t1"},
			Confidence:      0.75,
		},
	}
	if err := store.SaveGraph(ctx, "s1", entities, edges); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}

	gotEntities, gotEdges, err := store.LoadGraph(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if len(gotEntities) != 2 {
		t.Fatalf("got %d entities, want 2", len(gotEntities))
	}
	if gotEntities[0].ID != "deploy" || len(gotEntities[0].Aliases) != 2 {
		t.Errorf("entity = %+v", gotEntities[0])
	}
	if len(gotEdges) != 1 {
		t.Fatalf("got %d edges, want 1", len(gotEdges))
	}
	if gotEdges[0].Relation != "caused" || gotEdges[0].Confidence != 0.75 {
		t.Errorf("edge = %+v", gotEdges[0])
	}
	if len(gotEdges[0].SupportingTurns) != 1 || gotEdges[0].SupportingTurns[0] != "t1" {
		t.Errorf("supporting turns = %v", gotEdges[0].SupportingTurns)
	}
}

func TestSnapshotStore_LoadGraphEmpty(t *testing.T) {
	store := newTestStore(t)

	entities, edges, err := store.LoadGraph(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if entities == nil || edges == nil {
		t.Fatal("LoadGraph returned nil slices, want empty")
	}
	if len(entities) != 0 || len(edges) != 0 {
		t.Errorf("got %d entities, %d edges, want 0, 0", len(entities), len(edges))
	}
}
