package rsm

import (
	"context"
	"math"
)

// Oracle scores the similarity of two embedding vectors in [0, 1].
//
// The tree calls the oracle during merge evaluation (centroid vs. centroid)
// and retrieval (query vs. centroid). Implementations must be pure with
// respect to the tree's data model: an oracle call is a valid cancellation
// point and must leave no side effects behind.
type Oracle interface {
	Similarity(ctx context.Context, a, b []float32) (float64, error)
}

// CosineOracle is the default [Oracle]: plain cosine similarity computed
// locally, with negative scores clamped to zero so the result stays in
// [0, 1]. It never fails and ignores its context.
type CosineOracle struct{}

// Similarity implements [Oracle].
func (CosineOracle) Similarity(_ context.Context, a, b []float32) (float64, error) {
	return Cosine(a, b), nil
}

// Cosine returns the cosine similarity of a and b clamped to [0, 1].
// Mismatched lengths or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	return sim
}
