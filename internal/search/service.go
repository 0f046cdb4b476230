package search

import "log"

// Service tries Meilisearch first and falls back to the database.
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService creates a search service. meili may be nil when
// Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search executes the query against Meilisearch when healthy, else the
// fallback. Search failures degrade to an empty result set.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRef pushes one ref into the index, fire-and-forget.
func (s *Service) IndexRef(rec RefRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRef(rec); err != nil {
			log.Printf("search: index ref %s: %v", rec.ID, err)
		}
	}()
}

// DeleteRef removes one ref from the index, fire-and-forget.
func (s *Service) DeleteRef(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRef(id); err != nil {
			log.Printf("search: delete ref %s: %v", id, err)
		}
	}()
}

// Reindex bulk-loads records into Meilisearch, typically at startup.
func (s *Service) Reindex(records []RefRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexRefs(records); err != nil {
		log.Printf("search: reindex: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
