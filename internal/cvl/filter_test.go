package cvl

import (
	"testing"

	"github.com/skalvenes/arbor/internal/ckg"
	"github.com/skalvenes/arbor/pkg/memory"
)

// fakeNodes maps node IDs straight to owned turns.
type fakeNodes map[memory.NodeID][]memory.TurnID

func (f fakeNodes) Node(id memory.NodeID) (memory.TreeNode, bool) {
	turns, ok := f[id]
	if !ok {
		return memory.TreeNode{}, false
	}
	return memory.TreeNode{ID: id, OwnedTurns: turns}, true
}

// buildGraph wires deploy -> outage -> alert storm, with the deploy turn
// owned by node 1 and the alert-storm turn by node 2. Node 3's turn mentions
// nothing.
func buildGraph() (*ckg.Graph, fakeNodes) {
	g := ckg.New()
	g.Ingest("t10", []memory.Triple{{Subject: "deploy", Relation: "causes", Object: "outage", Confidence: 0.8}})
	g.Ingest("t11", []memory.Triple{{Subject: "outage", Relation: "causes", Object: "alert storm", Confidence: 0.8}})
	nodes := fakeNodes{
		1: {"t10"},
		2: {"t11"},
		3: {"t12"},
	}
	return g, nodes
}

func candidate(id memory.NodeID, sim float64) memory.RetrievalCandidate {
	return memory.RetrievalCandidate{NodeID: id, Similarity: sim}
}

func TestVerify_DropsCausallyUnconnected(t *testing.T) {
	g, nodes := buildGraph()
	v := New()

	query := []memory.EntityID{"deploy"}
	got := v.Verify(g, nodes, query, []memory.RetrievalCandidate{
		candidate(1, 0.9),
		candidate(3, 0.95), // most similar, but its turn mentions no entities
	})

	if len(got) != 1 || got[0].NodeID != 1 {
		t.Fatalf("Verify = %+v, want only node 1 to survive", got)
	}
}

func TestVerify_ScoreDecaysWithPathLength(t *testing.T) {
	g, nodes := buildGraph()
	v := New()

	// Node 1's turn mentions deploy itself (length 0); node 2's turn
	// mentions outage and alert storm, one hop from deploy.
	got := v.Verify(g, nodes, []memory.EntityID{"deploy"}, []memory.RetrievalCandidate{
		candidate(1, 0.5),
		candidate(2, 0.5),
	})
	if len(got) != 2 {
		t.Fatalf("Verify kept %d candidates, want 2", len(got))
	}
	for _, c := range got {
		switch c.NodeID {
		case 1:
			if c.PathLength != 0 || c.FinalScore != 0.5 {
				t.Errorf("node 1: length %d score %v, want 0 and 0.5", c.PathLength, c.FinalScore)
			}
		case 2:
			if c.PathLength != 1 || c.FinalScore != 0.5 {
				t.Errorf("node 2: length %d score %v, want direct hop at full similarity", c.PathLength, c.FinalScore)
			}
		}
	}

	// A second hop costs the decay factor.
	g2 := ckg.New()
	g2.Ingest("t20", []memory.Triple{{Subject: "aaaa", Relation: "causes", Object: "bbbb", Confidence: 0.8}})
	g2.Ingest("t21", []memory.Triple{{Subject: "bbbb", Relation: "causes", Object: "cccc", Confidence: 0.8}})
	g2.Ingest("t22", []memory.Triple{{Subject: "cccc", Relation: "causes", Object: "dddd", Confidence: 0.8}})
	nodes2 := fakeNodes{5: {"t22"}} // mentions cccc and dddd, two hops from aaaa
	got = v.Verify(g2, nodes2, []memory.EntityID{"aaaa"}, []memory.RetrievalCandidate{candidate(5, 0.5)})
	if len(got) != 1 {
		t.Fatalf("Verify kept %d candidates, want 1", len(got))
	}
	if got[0].PathLength != 2 {
		t.Fatalf("PathLength = %d, want 2", got[0].PathLength)
	}
	if want := 0.5 * 0.8; got[0].FinalScore != want {
		t.Errorf("FinalScore = %v, want %v", got[0].FinalScore, want)
	}
}

func TestVerify_NoQueryEntitiesPassesThrough(t *testing.T) {
	g, nodes := buildGraph()
	v := New()

	cands := []memory.RetrievalCandidate{candidate(3, 0.95), candidate(1, 0.9)}
	got := v.Verify(g, nodes, nil, cands)
	if len(got) != 2 {
		t.Fatalf("Verify with no query entities kept %d, want all", len(got))
	}
	if got[0].NodeID != 3 || got[0].FinalScore != 0.95 {
		t.Errorf("pass-through top = %+v, want node 3 at its similarity", got[0])
	}
}

func TestVerify_NilGraphPassesThrough(t *testing.T) {
	_, nodes := buildGraph()
	v := New()

	got := v.Verify(nil, nodes, []memory.EntityID{"deploy"}, []memory.RetrievalCandidate{candidate(1, 0.9)})
	if len(got) != 1 || got[0].FinalScore != 0.9 {
		t.Fatalf("Verify with nil graph = %+v, want similarity-only pass-through", got)
	}
}

func TestVerify_WiderHopBoundKeepsMore(t *testing.T) {
	g := ckg.New()
	g.Ingest("t20", []memory.Triple{{Subject: "aaaa", Relation: "causes", Object: "bbbb", Confidence: 0.8}})
	g.Ingest("t21", []memory.Triple{{Subject: "bbbb", Relation: "causes", Object: "cccc", Confidence: 0.8}})
	g.Ingest("t22", []memory.Triple{{Subject: "cccc", Relation: "causes", Object: "dddd", Confidence: 0.8}})
	g.Ingest("t23", []memory.Triple{{Subject: "dddd", Relation: "causes", Object: "eeee", Confidence: 0.8}})
	nodes := fakeNodes{7: {"t23"}} // three hops out from aaaa

	query := []memory.EntityID{"aaaa"}
	cands := []memory.RetrievalCandidate{candidate(7, 0.9)}

	if got := New(WithMaxHops(1)).Verify(g, nodes, query, cands); len(got) != 0 {
		t.Errorf("maxHops=1 kept %+v, want distant candidate dropped", got)
	}
	if got := New(WithMaxHops(3)).Verify(g, nodes, query, cands); len(got) != 1 {
		t.Errorf("maxHops=3 kept %d candidates, want 1", len(got))
	}
}

func TestVerify_SortsByFinalScore(t *testing.T) {
	g, nodes := buildGraph()
	v := New()

	// Node 2 is one hop away; give it higher raw similarity so the direct
	// node 1 cannot win on similarity alone.
	got := v.Verify(g, nodes, []memory.EntityID{"alert storm"}, []memory.RetrievalCandidate{
		candidate(1, 0.6), // deploy turn: one reverse hop from alert storm
		candidate(2, 0.9), // alert storm turn itself
	})
	if len(got) != 2 {
		t.Fatalf("Verify kept %d, want 2", len(got))
	}
	if got[0].NodeID != 2 || got[1].NodeID != 1 {
		t.Fatalf("order = [%d %d], want node 2 first", got[0].NodeID, got[1].NodeID)
	}
	if got[1].PathLength != 1 || got[1].FinalScore != 0.6 {
		t.Errorf("node 1 = length %d score %v, want 1 and 0.6", got[1].PathLength, got[1].FinalScore)
	}
}
