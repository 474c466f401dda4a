// Package assemble turns verified retrieval candidates into the final
// context block handed to the LLM.
//
// Candidates arrive ordered by final score. The assembler renders each one
// (raw turn text for leaves, summary text for merged nodes), accepts them
// greedily until the token budget is exhausted, and then re-sorts the
// accepted items into conversation order so the block reads chronologically.
package assemble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/skalvenes/arbor/pkg/memory"
)

// charsPerToken is the crude length heuristic used for budgeting. Real
// tokenisers land close enough to 4 chars/token on English prose for a
// retrieval budget.
const charsPerToken = 4

// DefaultTokenBudget caps the assembled block when the caller passes no
// explicit budget.
const DefaultTokenBudget = 2048

// NodeSource resolves node IDs to their flat records. *rsm.Tree satisfies it.
type NodeSource interface {
	Node(id memory.NodeID) (memory.TreeNode, bool)
}

// Item is one accepted piece of context.
type Item struct {
	// NodeID is the tree node the text came from.
	NodeID memory.NodeID

	// Text is the rendered block: a "role: text" line for leaves, the
	// summary text for merged nodes.
	Text string

	// Timestamp is the earliest owned turn's timestamp, used for the final
	// chronological ordering.
	Timestamp time.Time

	// Tokens is the estimated token cost of Text.
	Tokens int
}

// Context is the assembled result.
type Context struct {
	// Text is the newline-joined block in chronological order.
	Text string

	// Items are the accepted pieces, in the same order as Text.
	Items []Item

	// TokensUsed is the estimated total cost of Text.
	TokensUsed int
}

// Assembler renders and budgets retrieval candidates for one turn store.
type Assembler struct {
	turns  memory.TurnStore
	budget int
}

// Option is a functional option for [New].
type Option func(*Assembler)

// WithTokenBudget sets the default budget used when [Assembler.Assemble]
// receives a negative one.
func WithTokenBudget(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.budget = n
		}
	}
}

// New creates an [Assembler] reading turn text from turns.
func New(turns memory.TurnStore, opts ...Option) *Assembler {
	a := &Assembler{turns: turns, budget: DefaultTokenBudget}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble renders candidates in score order, accepts them greedily until
// the first one that does not fit in the budget, and returns the accepted
// items re-sorted chronologically by their earliest owned turn.
//
// The output never exceeds budget tokens for any budget ≥ 0: a zero budget
// yields an empty context. A negative budget selects the assembler's
// configured default.
//
// Summary nodes whose text has not been produced yet are skipped without
// consuming budget; they will be available on a later query.
func (a *Assembler) Assemble(ctx context.Context, sessionID string, nodes NodeSource, candidates []memory.RetrievalCandidate, budget int) (*Context, error) {
	if budget < 0 {
		budget = a.budget
	}
	if budget == 0 {
		return &Context{}, nil
	}

	var (
		items []Item
		used  int
	)
	for _, cand := range candidates {
		node, ok := nodes.Node(cand.NodeID)
		if !ok {
			continue
		}

		item, ok, err := a.render(ctx, sessionID, node)
		if err != nil {
			return nil, fmt.Errorf("assemble: render node %d: %w", node.ID, err)
		}
		if !ok {
			continue
		}
		if used+item.Tokens > budget {
			break
		}
		used += item.Tokens
		items = append(items, item)
	}

	sortChronological(items)

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	return &Context{
		Text:       strings.Join(texts, "\n"),
		Items:      items,
		TokensUsed: used,
	}, nil
}

// render produces the Item for one node. The second return value is false
// when the node contributes nothing (empty summary, or its turns are gone
// from the store).
func (a *Assembler) render(ctx context.Context, sessionID string, node memory.TreeNode) (Item, bool, error) {
	switch node.Kind {
	case memory.KindLeaf:
		if len(node.OwnedTurns) == 0 {
			return Item{}, false, nil
		}
		turn, err := a.turns.Get(ctx, sessionID, node.OwnedTurns[0])
		if err != nil {
			return Item{}, false, err
		}
		if turn == nil || turn.Text == "" {
			return Item{}, false, nil
		}
		text := fmt.Sprintf("%s: %s", turn.Role, turn.Text)
		return Item{
			NodeID:    node.ID,
			Text:      text,
			Timestamp: turn.Timestamp,
			Tokens:    estimateTokens(text),
		}, true, nil

	case memory.KindSummary:
		if strings.TrimSpace(node.SummaryText) == "" {
			return Item{}, false, nil
		}
		ts, err := a.earliestTimestamp(ctx, sessionID, node.OwnedTurns)
		if err != nil {
			return Item{}, false, err
		}
		text := fmt.Sprintf("[earlier, condensed] %s", node.SummaryText)
		return Item{
			NodeID:    node.ID,
			Text:      text,
			Timestamp: ts,
			Tokens:    estimateTokens(text),
		}, true, nil

	default:
		return Item{}, false, nil
	}
}

// earliestTimestamp finds the oldest owned turn still present in the store.
func (a *Assembler) earliestTimestamp(ctx context.Context, sessionID string, ids []memory.TurnID) (time.Time, error) {
	turns, err := a.turns.Turns(ctx, sessionID, ids)
	if err != nil {
		return time.Time{}, err
	}
	var earliest time.Time
	for _, t := range turns {
		if earliest.IsZero() || t.Timestamp.Before(earliest) {
			earliest = t.Timestamp
		}
	}
	return earliest, nil
}

func estimateTokens(text string) int {
	n := len(text) / charsPerToken
	if len(text)%charsPerToken != 0 {
		n++
	}
	return n
}

func sortChronological(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.Before(items[j].Timestamp)
		}
		return items[i].NodeID < items[j].NodeID
	})
}
