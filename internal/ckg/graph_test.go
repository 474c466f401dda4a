package ckg

import (
	"testing"

	"github.com/skalvenes/arbor/pkg/memory"
)

func triple(subject, relation, object string, conf float64) memory.Triple {
	return memory.Triple{Subject: subject, Relation: relation, Object: object, Confidence: conf}
}

func TestIngest_CanonicalizesSurfaceForms(t *testing.T) {
	g := New()

	g.Ingest("t1", []memory.Triple{triple("Database Outage", "causes", "Page Load Errors", 0.8)})
	g.Ingest("t2", []memory.Triple{triple("database   outage", "causes", "page load errors", 0.8)})

	if got := g.EntityCount(); got != 2 {
		t.Fatalf("EntityCount = %d, want 2 (casing and spacing variants must collapse)", got)
	}
	if got := g.EdgeCount(); got != 1 {
		t.Fatalf("EdgeCount = %d, want 1", got)
	}

	id1, ok1 := g.Resolve("DATABASE OUTAGE")
	id2, ok2 := g.Resolve("database outage")
	if !ok1 || !ok2 || id1 != id2 {
		t.Fatalf("Resolve variants: (%v,%v) vs (%v,%v), want the same entity", id1, ok1, id2, ok2)
	}
}

func TestResolve_NearMissSpelling(t *testing.T) {
	g := New()
	g.Ingest("t1", []memory.Triple{triple("database outage", "causes", "page load errors", 0.8)})

	// One edit away from a known canonical name.
	if _, ok := g.Resolve("databse outage"); !ok {
		t.Error("Resolve(near-miss) = not found, want match at edit distance 1")
	}
	// Two edits away must not match.
	if _, ok := g.Resolve("databs outage"); ok {
		t.Error("Resolve(two edits away) matched, want no match")
	}
	// Short names never fuzzy-match: "db" vs "dc" would be absurd.
	g.Ingest("t2", []memory.Triple{triple("db", "causes", "load", 0.8)})
	if _, ok := g.Resolve("dc"); ok {
		t.Error("Resolve(short near-miss) matched, want exact-only below 4 chars")
	}
}

func TestIngest_RepeatObservationStrengthensEdge(t *testing.T) {
	g := New()

	g.Ingest("t1", []memory.Triple{triple("deploy", "causes", "outage", 0.5)})
	e, ok := g.Edge(memory.EntityID("deploy"), memory.EntityID("outage"), "causes")
	if !ok {
		t.Fatal("edge not found after first observation")
	}
	if e.Confidence != 0.5 {
		t.Fatalf("first observation Confidence = %v, want 0.5", e.Confidence)
	}

	g.Ingest("t2", []memory.Triple{triple("deploy", "causes", "outage", 0.5)})
	e, _ = g.Edge(memory.EntityID("deploy"), memory.EntityID("outage"), "causes")
	if e.Confidence != 0.75 {
		t.Fatalf("second observation Confidence = %v, want 0.75", e.Confidence)
	}
	if got := g.EdgeCount(); got != 1 {
		t.Fatalf("EdgeCount = %d, want 1 (re-observation must not duplicate)", got)
	}
	if len(e.SupportingTurns) != 2 {
		t.Fatalf("SupportingTurns = %v, want both turns recorded", e.SupportingTurns)
	}

	// Same turn again: confidence grows but provenance stays deduplicated.
	g.Ingest("t2", []memory.Triple{triple("deploy", "causes", "outage", 0.5)})
	e, _ = g.Edge(memory.EntityID("deploy"), memory.EntityID("outage"), "causes")
	if len(e.SupportingTurns) != 2 {
		t.Fatalf("SupportingTurns after repeat within turn = %v, want 2", e.SupportingTurns)
	}
}

func TestIngest_SkipsDegenerateTriples(t *testing.T) {
	g := New()

	mentioned := g.Ingest("t1", []memory.Triple{
		triple("", "causes", "outage", 0.5),
		triple("deploy", "", "outage", 0.5),
		triple("deploy", "causes", "   ", 0.5),
	})
	if len(mentioned) != 0 || g.EntityCount() != 0 || g.EdgeCount() != 0 {
		t.Fatalf("degenerate triples created state: mentioned=%v entities=%d edges=%d",
			mentioned, g.EntityCount(), g.EdgeCount())
	}
}

func TestEntitiesForTurns(t *testing.T) {
	g := New()
	g.Ingest("t1", []memory.Triple{triple("a", "causes", "b", 0.5)})
	g.Ingest("t2", []memory.Triple{triple("b", "causes", "c", 0.5)})

	got := g.EntitiesForTurns([]memory.TurnID{"t1", "t2", "t99"})
	want := []memory.EntityID{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("EntitiesForTurns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("EntitiesForTurns = %v, want %v", got, want)
		}
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	g := New()
	g.Ingest("t1", []memory.Triple{triple("Deploy Freeze", "prevents", "outage", 0.8)})
	g.Ingest("t2", []memory.Triple{triple("outage", "causes", "alert storm", 0.6)})
	g.Ingest("t3", []memory.Triple{triple("Deploy Freeze", "prevents", "outage", 0.8)})

	entities, edges := g.Snapshot()

	restored := New()
	restored.Restore(entities, edges)

	if restored.EntityCount() != g.EntityCount() || restored.EdgeCount() != g.EdgeCount() {
		t.Fatalf("restored counts (%d,%d), want (%d,%d)",
			restored.EntityCount(), restored.EdgeCount(), g.EntityCount(), g.EdgeCount())
	}

	orig, _ := g.Edge(memory.EntityID("deploy freeze"), memory.EntityID("outage"), "prevents")
	back, ok := restored.Edge(memory.EntityID("deploy freeze"), memory.EntityID("outage"), "prevents")
	if !ok || back.Confidence != orig.Confidence || len(back.SupportingTurns) != len(orig.SupportingTurns) {
		t.Fatalf("restored edge %+v, want %+v", back, orig)
	}

	// Alias table and turn index must be rebuilt, not just the edge map.
	if _, ok := restored.Resolve("Deploy Freeze"); !ok {
		t.Error("Resolve on restored graph failed")
	}
	turns := restored.EntitiesForTurns([]memory.TurnID{"t2"})
	if len(turns) != 2 {
		t.Errorf("EntitiesForTurns on restored graph = %v, want the outage turn's pair", turns)
	}
}
