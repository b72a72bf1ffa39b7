package search

import (
	"context"
	"log/slog"
	"sort"
)

// Floors carries the per-pool similarity floors applied on the broad search
// path. Tunable policy constants, not invariants.
type Floors struct {
	Filing          float64
	Transcript      float64
	DiscoveryFiling float64 // stricter floor for unscoped filing search
}

// DefaultFloors mirror the values the system ships with.
func DefaultFloors() Floors {
	return Floors{Filing: 0.45, Transcript: 0.55, DiscoveryFiling: 0.58}
}

// Store is the pool search capability behind the Searcher.
type Store interface {
	SearchFilings(ctx context.Context, vector []float32, tickers []string, topK int) ([]Passage, error)
	SearchTranscripts(ctx context.Context, vector []float32, tickers []string, topK int) ([]Passage, error)
}

// QueryEmbedder is the embedding capability behind the Searcher.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs semantic search across both passage pools.
type Searcher struct {
	embedder QueryEmbedder
	store    Store
	floors   Floors
}

// NewSearcher creates a Searcher with the given embedder, store, and floors.
func NewSearcher(embedder QueryEmbedder, store Store, floors Floors) *Searcher {
	return &Searcher{embedder: embedder, store: store, floors: floors}
}

// SearchAllPools embeds the query once and searches both enabled pools.
//
// When exactly one ticker is in scope, the search is entity-scoped and no
// similarity floor applies: the entity filter is the precision control, and
// thresholding on top of it would only lose recall. With zero or multiple
// tickers the broad path enforces pool-specific floors to suppress weak
// matches in the wider candidate space.
//
// A failure in one pool (embedding aside) yields an empty result for that
// pool only; the other pool's results are still returned.
func (s *Searcher) SearchAllPools(ctx context.Context, query string, tickers []string, topK int, includeFilings, includeTranscripts bool) []Passage {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		// Without a query vector neither pool can run.
		slog.Warn("semantic search: embedding failed", "error", err)
		return nil
	}

	scoped := len(tickers) == 1
	discovery := len(tickers) == 0

	var results []Passage

	if includeFilings {
		passages, err := s.store.SearchFilings(ctx, vector, tickers, topK)
		if err != nil {
			slog.Warn("filing pool search failed", "error", err)
		} else {
			if !scoped {
				floor := s.floors.Filing
				if discovery {
					floor = s.floors.DiscoveryFiling
				}
				passages = applyFloor(passages, floor)
			}
			results = append(results, passages...)
		}
	}

	if includeTranscripts {
		passages, err := s.store.SearchTranscripts(ctx, vector, tickers, topK)
		if err != nil {
			slog.Warn("transcript pool search failed", "error", err)
		} else {
			if !scoped {
				passages = applyFloor(passages, s.floors.Transcript)
			}
			results = append(results, passages...)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if max := 2 * topK; len(results) > max {
		results = results[:max]
	}

	slog.Info("semantic search complete", "passages", len(results), "scoped", scoped, "discovery", discovery)
	return results
}

func applyFloor(passages []Passage, floor float64) []Passage {
	out := passages[:0]
	for _, p := range passages {
		if p.Similarity >= floor {
			out = append(out, p)
		}
	}
	return out
}
