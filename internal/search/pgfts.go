package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across proposals and templates using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProposal {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'proposal'::text AS type, p.id::text, p.name,
				ts_headline('simple', coalesce(p.name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(c.name, '') AS client_name,
				coalesce(p.slug, '') AS slug,
				coalesce(p.thumbnail_url, '') AS thumbnail_url,
				p.is_published,
				ts_rank(p.fts, %s) AS rank
			FROM proposals p
			LEFT JOIN clients c ON c.id = p.client_id
			WHERE p.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultTemplate {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'template'::text AS type, t.id::text, t.name,
				ts_headline('simple', coalesce(t.template_name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS client_name,
				''::text AS slug,
				coalesce(t.thumbnail_url, '') AS thumbnail_url,
				FALSE AS is_published,
				ts_rank(t.fts, %s) AS rank
			FROM templates t
			WHERE t.fts @@ %s AND t.is_public`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, name, snippet, client_name, slug, thumbnail_url, is_published
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Name, &r.Snippet, &r.ClientName, &r.Slug, &r.ThumbnailURL, &r.IsPublished); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProposalRecord, []TemplateRecord, error) {
	proposalRows, err := p.db.QueryContext(ctx, `
		SELECT p.id::text, p.name, coalesce(c.name, ''), coalesce(p.slug, ''),
			coalesce(p.thumbnail_url, ''), p.is_published
		FROM proposals p
		LEFT JOIN clients c ON c.id = p.client_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load proposals: %w", err)
	}
	defer proposalRows.Close()

	proposals := make([]ProposalRecord, 0)
	for proposalRows.Next() {
		var r ProposalRecord
		if err := proposalRows.Scan(&r.ID, &r.Name, &r.ClientName, &r.Slug, &r.ThumbnailURL, &r.IsPublished); err != nil {
			return nil, nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, r)
	}
	if err := proposalRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate proposals: %w", err)
	}

	templateRows, err := p.db.QueryContext(ctx, `
		SELECT t.id::text, t.name, t.template_name, coalesce(t.thumbnail_url, ''), t.is_public
		FROM templates t
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load templates: %w", err)
	}
	defer templateRows.Close()

	templates := make([]TemplateRecord, 0)
	for templateRows.Next() {
		var r TemplateRecord
		if err := templateRows.Scan(&r.ID, &r.Name, &r.TemplateName, &r.ThumbnailURL, &r.IsPublic); err != nil {
			return nil, nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, r)
	}
	if err := templateRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate templates: %w", err)
	}

	return proposals, templates, nil
}
