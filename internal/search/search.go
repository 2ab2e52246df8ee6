package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultProposal ResultType = "proposal"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	WorkspaceID string     `json:"workspaceId"`
	Status      string     `json:"status,omitempty"`
}

// Query describes a search request. FilterWorkspaceID is always set by the
// HTTP layer; results never cross workspace boundaries.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterWorkspaceID string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	IndexProposal(p ProposalRecord) error
	DeleteDocument(id string) error
	DeleteProposal(id string) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	WorkspaceID string `json:"workspaceId"`
	Version     int    `json:"version"`
}

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ClientID    string `json:"clientId"`
	WorkspaceID string `json:"workspaceId"`
	Status      string `json:"status"`
}
