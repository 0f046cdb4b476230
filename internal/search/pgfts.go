package search

import (
	"context"
	"strings"
	"time"

	"catbook/api/internal/store"
)

// PgSearch implements Searcher against the primary database as the
// fallback backend.
type PgSearch struct {
	store *store.PostgresStore
}

func NewPgSearch(s *store.PostgresStore) *PgSearch {
	return &PgSearch{store: s}
}

// Healthy always reports true; if Postgres is down, the whole API is
// down anyway.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search matches ref names by substring, restricted to refs the user
// may read. It ignores FilterType offsets beyond what the store query
// supports and ranks by recency.
func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	stubs, err := p.store.SearchRefStubs(ctx, q.User, strings.TrimSpace(q.Text), limit+q.Offset)
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(stubs))
	for _, stub := range stubs {
		if q.FilterType != "" && stub.DocType != q.FilterType {
			continue
		}
		results = append(results, Result{
			ID:      stub.ID.String(),
			DocType: stub.DocType,
			Name:    stub.Name,
			Owner:   stub.Owner,
		})
	}
	total := len(results)
	if q.Offset > 0 {
		if q.Offset >= len(results) {
			results = nil
		} else {
			results = results[q.Offset:]
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}
