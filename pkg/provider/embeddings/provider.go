// Package embeddings defines the contract for text-embedding backends.
//
// Embedding vectors are the currency of the memory engine: each turn is
// embedded once on insert and becomes a leaf centroid, merged interactions
// carry λ-weighted centroid blends, and retrieval descends the tree by
// comparing the query vector against those centroids. Everything therefore
// assumes one fixed vector space per session.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector produced by one Provider instance has the same length,
// reported by Dimensions. Vectors from different instances must not be
// compared unless the caller has verified both use the same model and space.
//
// Text is passed through verbatim; if a model wants task prefixes such as
// "query: ", the caller adds them. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Embed returns the vector for a single text, of length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call where the API allows it.
	// The result is parallel to texts: element i corresponds to texts[i].
	// On error the whole result is nil; partial output is never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length, constant for the lifetime of
	// the instance.
	Dimensions() int

	// ModelID identifies the underlying model, for logging and for
	// checking that persisted vectors were produced by the same model.
	ModelID() string
}
