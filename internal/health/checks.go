package health

import (
	"context"
	"fmt"

	"github.com/skalvenes/arbor/pkg/memory"
	"github.com/skalvenes/arbor/pkg/provider/embeddings"
)

// probeSession is the session ID used for store probes. No turns are ever
// written under it; a count query against it exercises the backend without
// touching real data.
const probeSession = "_healthz"

// StoreCheck returns a [Checker] that issues a count query against the turn
// store. For database-backed stores this verifies connectivity; for the
// in-memory store it always passes.
func StoreCheck(store memory.TurnStore) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if store == nil {
				return fmt.Errorf("no turn store configured")
			}
			_, err := store.Count(ctx, probeSession)
			return err
		},
	}
}

// EmbeddingsCheck returns a [Checker] that verifies the embeddings provider
// is configured and, when wantDims is positive, that its vector width matches
// the configured embedding dimensions. A width mismatch would silently break
// every similarity computation, so it is surfaced here instead.
func EmbeddingsCheck(provider embeddings.Provider, wantDims int) Checker {
	return Checker{
		Name: "embeddings",
		Check: func(_ context.Context) error {
			if provider == nil {
				return fmt.Errorf("no embeddings provider configured")
			}
			if wantDims > 0 && provider.Dimensions() != wantDims {
				return fmt.Errorf("provider %s produces %d-dimensional vectors, configured for %d",
					provider.ModelID(), provider.Dimensions(), wantDims)
			}
			return nil
		},
	}
}
