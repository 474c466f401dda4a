// Package provider holds contracts shared by all external-collaborator
// packages (embeddings, llm). The collaborators themselves live in
// subpackages; this package defines only the common failure mode.
package provider

import "errors"

// ErrUnavailable indicates that an external collaborator (similarity oracle,
// embeddings backend, LLM, extractor) failed or timed out. Callers decide the
// degradation policy: extraction is retried with bounded backoff, retrieval
// degrades to similarity-only scoring, and inserts surface the error.
//
// Implementations wrap this sentinel so callers can test with [errors.Is].
var ErrUnavailable = errors.New("provider unavailable")
