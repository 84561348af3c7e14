// Package search provides full-text search over the catalog, backed by
// Meilisearch with a PostgreSQL FTS fallback.
package search

// Result is a single catalog hit returned to the caller.
type Result struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Snippet  string   `json:"snippet"`
	TypeName string   `json:"typeName"`
	Genres   []string `json:"genres,omitempty"`
	Origin   string   `json:"origin"`
}

// Query describes a catalog search request.
type Query struct {
	Text         string
	FilterType   string // canonical type name, empty = all
	FilterOrigin string // OFFICIAL or COMMUNITY, empty = all
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over catalog items.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

var (
	_ Searcher = (*Meili)(nil)
	_ Searcher = (*PgFTS)(nil)
)

// ItemRecord is the data indexed per catalog item.
type ItemRecord struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	TypeName string   `json:"typeName"`
	Genres   []string `json:"genres"`
	Origin   string   `json:"origin"`
}
