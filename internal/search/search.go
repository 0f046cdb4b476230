// Package search indexes ref head snapshots for discovery. Meilisearch
// is the primary backend; a Postgres fallback keeps search available
// when the index is down.
package search

// RefRecord is the data indexed per ref: the head snapshot's name and
// rich-text prose, plus the fields needed for permission filtering.
type RefRecord struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	DocType string   `json:"docType"`
	Owner   string   `json:"owner"`
	Text    string   `json:"text"`
	Public  bool     `json:"public"`
	Readers []string `json:"readers"`
}

// Result is a single search hit.
type Result struct {
	ID      string `json:"id"`
	DocType string `json:"docType"`
	Name    string `json:"name"`
	Owner   string `json:"owner,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Query describes a search request on behalf of one user. Only refs
// the user may read are returned.
type Query struct {
	Text       string
	User       string
	FilterType string // empty = all document types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a ref search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer pushes ref records into the search index.
type Indexer interface {
	IndexRef(rec RefRecord) error
	DeleteRef(id string) error
}
