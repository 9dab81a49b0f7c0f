package search

// ResultType identifies the kind of record in a search result.
type ResultType string

const (
	ResultProposal ResultType = "proposal"
	ResultTemplate ResultType = "template"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type         ResultType `json:"type"`
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Snippet      string     `json:"snippet"`
	ClientName   string     `json:"clientName,omitempty"`
	Slug         string     `json:"slug,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	IsPublished  bool       `json:"isPublished"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = both kinds
	Limit      int
	Offset     int
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

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ClientName   string `json:"clientName"`
	Slug         string `json:"slug"`
	ThumbnailURL string `json:"thumbnailUrl"`
	IsPublished  bool   `json:"isPublished"`
}

// TemplateRecord is the data we index for a template.
type TemplateRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TemplateName string `json:"templateName"`
	ThumbnailURL string `json:"thumbnailUrl"`
	IsPublic     bool   `json:"isPublic"`
}
