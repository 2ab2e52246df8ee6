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

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and proposals
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
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

	// The regconfig must match the generated fts columns in the schema, or
	// stemming diverges between index and query and inflected terms miss.
	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "d.fts @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			docWhere += fmt.Sprintf(" AND d.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('english', d.title, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.workspace_id,
				''::text AS status,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultProposal {
		propWhere := "p.fts @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			propWhere += fmt.Sprintf(" AND p.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'proposal'::text AS type, p.id, p.title,
				ts_headline('english', p.title, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.workspace_id,
				p.status,
				ts_rank(p.fts, %s) AS rank
			FROM proposals p
			WHERE %s`, tsQuery, tsQuery, propWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, workspace_id, status
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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.WorkspaceID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []ProposalRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, workspace_id, version
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.WorkspaceID, &d.Version); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	propRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(client_id, ''), workspace_id, status
		FROM proposals
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load proposals: %w", err)
	}
	defer propRows.Close()

	proposals := make([]ProposalRecord, 0)
	for propRows.Next() {
		var pr ProposalRecord
		if err := propRows.Scan(&pr.ID, &pr.Title, &pr.ClientID, &pr.WorkspaceID, &pr.Status); err != nil {
			return nil, nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, pr)
	}
	if err := propRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate proposals: %w", err)
	}

	return documents, proposals, nil
}
