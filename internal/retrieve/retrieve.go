// Package retrieve fans planned queries out to the vector store and
// deduplicates the results. Match ordering is left to the context
// builder; the executor's output is an unordered set.
package retrieve

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"groundline/internal/doc"
	"groundline/internal/index"
)

// Executor runs parallel vector searches. Concurrency is bounded by the
// shared embedding client; no extra semaphore is held here.
type Executor struct {
	store index.Store
	topK  int
}

// NewExecutor builds an executor with the configured per-query top-k.
func NewExecutor(store index.Store, topK int) *Executor {
	return &Executor{store: store, topK: topK}
}

// Search runs every query against the given files in parallel and
// returns the deduplicated union. A match seen under several queries
// keeps its maximum observed score.
func (e *Executor) Search(ctx context.Context, queries []string, fileIDs []string) ([]doc.Match, error) {
	var (
		mu  sync.Mutex
		all []doc.Match
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, query := range queries {
		g.Go(func() error {
			matches, err := e.store.Search(ctx, query, fileIDs, e.topK, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, matches...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	deduped := Deduplicate(all)
	log.Debug().
		Int("queries", len(queries)).
		Int("raw", len(all)).
		Int("deduped", len(deduped)).
		Msg("search_fanout_complete")
	return deduped, nil
}

// Deduplicate collapses matches by chunk id, retaining the maximum
// score observed for each.
func Deduplicate(matches []doc.Match) []doc.Match {
	byID := make(map[string]doc.Match, len(matches))
	order := make([]string, 0, len(matches))
	for _, m := range matches {
		prev, seen := byID[m.ID]
		if !seen {
			byID[m.ID] = m
			order = append(order, m.ID)
			continue
		}
		if m.Score > prev.Score {
			byID[m.ID] = m
		}
	}
	out := make([]doc.Match, 0, len(byID))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
