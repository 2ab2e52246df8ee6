package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists all core entities. Every read and write on
// documents and proposals is filtered by workspace id; a row in another
// workspace is indistinguishable from a missing row (sql.ErrNoRows in
// both cases).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Documents ──

const documentColumns = `id, workspace_id, title, content, html, version, created_by, updated_by, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	err := row.Scan(
		&item.ID,
		&item.WorkspaceID,
		&item.Title,
		&item.Content,
		&item.HTML,
		&item.Version,
		&item.CreatedBy,
		&item.UpdatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID, workspaceID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1 AND workspace_id=$2
	`, documentID, workspaceID)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, workspaceID string) ([]Document, error) {
	// Listing skips the content and html payloads.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, title, version, created_by, updated_by, created_at, updated_at
		FROM documents
		WHERE workspace_id=$1
		ORDER BY updated_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Title, &item.Version, &item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// CreateDocument inserts a new document. When publish is true the document
// starts at version 1 and its first DocumentVersion row is written in the
// same transaction; otherwise the version is 0 and no snapshot exists yet.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document, publish bool, versionID string) (Document, error) {
	version := 0
	if publish {
		version = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO documents (id, workspace_id, title, content, html, version, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+documentColumns+`
	`, doc.ID, doc.WorkspaceID, doc.Title, doc.Content, doc.HTML, version, doc.CreatedBy)
	created, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}

	if publish {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_versions (id, document_id, version, content, html)
			VALUES ($1, $2, $3, $4, $5)
		`, versionID, doc.ID, version, doc.Content, doc.HTML); err != nil {
			return Document{}, fmt.Errorf("insert document version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit create document: %w", err)
	}
	return created, nil
}

// UpdateDocument re-saves an existing document. The workspace-scoped
// existence check and the mutation run in one transaction with the row
// locked, so a concurrent delete between lookup and update surfaces as
// sql.ErrNoRows rather than a partial write. When publish is true the
// version advances by exactly 1 and the matching snapshot row is inserted
// atomically with the update.
func (s *PostgresStore) UpdateDocument(ctx context.Context, documentID, workspaceID, title string, contentJSON []byte, html, editorID string, publish bool, versionID string) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin update document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT version FROM documents
		WHERE id=$1 AND workspace_id=$2
		FOR UPDATE
	`, documentID, workspaceID).Scan(&currentVersion)
	if err != nil {
		return Document{}, err
	}

	newVersion := currentVersion
	if publish {
		newVersion = currentVersion + 1
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE documents
		SET title=$3, content=$4, html=$5, version=$6, updated_by=$7, updated_at=NOW()
		WHERE id=$1 AND workspace_id=$2
		RETURNING `+documentColumns+`
	`, documentID, workspaceID, title, contentJSON, html, newVersion, editorID)
	updated, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}

	if publish {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_versions (id, document_id, version, content, html)
			VALUES ($1, $2, $3, $4, $5)
		`, versionID, documentID, newVersion, contentJSON, html); err != nil {
			return Document{}, fmt.Errorf("insert document version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit update document: %w", err)
	}
	return updated, nil
}

// DeleteDocument removes a document and everything hanging off it. Share
// links and version snapshots go first so referential ordering holds, all
// inside one transaction. Absent or foreign-workspace ids return
// sql.ErrNoRows.
func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID, workspaceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM documents
		WHERE id=$1 AND workspace_id=$2
		FOR UPDATE
	`, documentID, workspaceID).Scan(&id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM track_events WHERE share_link_id IN (SELECT id FROM share_links WHERE document_id=$1)`, documentID); err != nil {
		return fmt.Errorf("delete document track events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM share_links WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document share links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_versions WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentVersions(ctx context.Context, documentID, workspaceID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.document_id, v.version, v.content, v.html, v.created_at
		FROM document_versions v
		JOIN documents d ON d.id = v.document_id
		WHERE v.document_id=$1 AND d.workspace_id=$2
		ORDER BY v.version DESC
	`, documentID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentVersion, 0)
	for rows.Next() {
		var item DocumentVersion
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Version, &item.Content, &item.HTML, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document versions: %w", err)
	}
	return items, nil
}

// ── Proposals ──

const proposalColumns = `id, workspace_id, client_id, title, greeting, problem, solution, additional,
	line_items, currency, pricing_mode, variants, gallery_images, advantages, visible_sections,
	status, version, html, created_by, updated_by, created_at, updated_at`

func scanProposal(row interface{ Scan(...any) error }) (Proposal, error) {
	var item Proposal
	err := row.Scan(
		&item.ID,
		&item.WorkspaceID,
		&item.ClientID,
		&item.Title,
		&item.Greeting,
		&item.Problem,
		&item.Solution,
		&item.Additional,
		&item.LineItems,
		&item.Currency,
		&item.PricingMode,
		&item.Variants,
		&item.GalleryImages,
		&item.Advantages,
		&item.VisibleSections,
		&item.Status,
		&item.Version,
		&item.HTML,
		&item.CreatedBy,
		&item.UpdatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID, workspaceID string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE id=$1 AND workspace_id=$2
	`, proposalID, workspaceID)
	return scanProposal(row)
}

func (s *PostgresStore) ListProposals(ctx context.Context, workspaceID string) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE workspace_id=$1
		ORDER BY updated_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		item, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, p Proposal) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO proposals (id, workspace_id, client_id, title, greeting, problem, solution, additional,
			line_items, currency, pricing_mode, variants, gallery_images, advantages, visible_sections,
			status, version, html, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
		RETURNING `+proposalColumns+`
	`, p.ID, p.WorkspaceID, p.ClientID, p.Title, p.Greeting, p.Problem, p.Solution, p.Additional,
		p.LineItems, p.Currency, p.PricingMode, p.Variants, p.GalleryImages, p.Advantages, p.VisibleSections,
		p.Status, p.Version, p.HTML, p.CreatedBy)
	created, err := scanProposal(row)
	if err != nil {
		return Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, proposalID, workspaceID, status, actorID string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE proposals
		SET status=$3, updated_by=$4, updated_at=NOW()
		WHERE id=$1 AND workspace_id=$2
		RETURNING `+proposalColumns+`
	`, proposalID, workspaceID, status, actorID)
	return scanProposal(row)
}

// DuplicateProposal copies a proposal in a single INSERT ... SELECT so the
// optional JSON columns keep their exact NULL-ness: NULL in the source
// stays NULL in the copy, never an empty array. The copy is forced back to
// draft at version 1 with the acting user as creator.
func (s *PostgresStore) DuplicateProposal(ctx context.Context, proposalID, workspaceID, actorID, newID, titleSuffix string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO proposals (id, workspace_id, client_id, title, greeting, problem, solution, additional,
			line_items, currency, pricing_mode, variants, gallery_images, advantages, visible_sections,
			status, version, html, created_by, updated_by)
		SELECT $3, workspace_id, client_id, title || $4, greeting, problem, solution, additional,
			line_items, currency, pricing_mode, variants, gallery_images, advantages, visible_sections,
			'draft', 1, html, $5, $5
		FROM proposals
		WHERE id=$1 AND workspace_id=$2
		RETURNING `+proposalColumns+`
	`, proposalID, workspaceID, newID, titleSuffix, actorID)
	return scanProposal(row)
}

func (s *PostgresStore) DeleteProposal(ctx context.Context, proposalID, workspaceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete proposal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM proposals
		WHERE id=$1 AND workspace_id=$2
		FOR UPDATE
	`, proposalID, workspaceID).Scan(&id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM track_events WHERE share_link_id IN (SELECT id FROM share_links WHERE proposal_id=$1)`, proposalID); err != nil {
		return fmt.Errorf("delete proposal track events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM share_links WHERE proposal_id=$1`, proposalID); err != nil {
		return fmt.Errorf("delete proposal share links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM proposals WHERE id=$1`, proposalID); err != nil {
		return fmt.Errorf("delete proposal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete proposal: %w", err)
	}
	return nil
}

// ── Share links ──

const shareLinkColumns = `id, token, document_id, proposal_id, allow_pdf, expires_at, created_at`

func scanShareLink(row interface{ Scan(...any) error }) (ShareLink, error) {
	var item ShareLink
	err := row.Scan(
		&item.ID,
		&item.Token,
		&item.DocumentID,
		&item.ProposalID,
		&item.AllowPDF,
		&item.ExpiresAt,
		&item.CreatedAt,
	)
	return item, err
}

// GetShareLinkBySubject returns the newest non-expired link for a subject,
// or sql.ErrNoRows when none exists.
func (s *PostgresStore) GetShareLinkBySubject(ctx context.Context, kind, subjectID string) (ShareLink, error) {
	column := "document_id"
	if kind == SubjectProposal {
		column = "proposal_id"
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shareLinkColumns+`
		FROM share_links
		WHERE `+column+`=$1 AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC
		LIMIT 1
	`, subjectID)
	return scanShareLink(row)
}

func (s *PostgresStore) InsertShareLink(ctx context.Context, link ShareLink) (ShareLink, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO share_links (id, token, document_id, proposal_id, allow_pdf, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+shareLinkColumns+`
	`, link.ID, link.Token, link.DocumentID, link.ProposalID, link.AllowPDF, link.ExpiresAt)
	created, err := scanShareLink(row)
	if err != nil {
		return ShareLink{}, fmt.Errorf("insert share link: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetShareLinkByToken(ctx context.Context, token string) (ShareLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shareLinkColumns+`
		FROM share_links
		WHERE token=$1 AND (expires_at IS NULL OR expires_at > NOW())
	`, token)
	return scanShareLink(row)
}

// ResolveShareToken resolves a token to its subject's persisted HTML. The
// lookup is by token alone since the caller is anonymous; expired and
// unknown tokens are both sql.ErrNoRows.
func (s *PostgresStore) ResolveShareToken(ctx context.Context, token string) (SharedContent, error) {
	link, err := s.GetShareLinkByToken(ctx, token)
	if err != nil {
		return SharedContent{}, err
	}

	var shared SharedContent
	shared.LinkID = link.ID
	shared.AllowPDF = link.AllowPDF
	if link.ProposalID != nil {
		shared.Kind = SubjectProposal
		shared.SubjectID = *link.ProposalID
		err = s.db.QueryRowContext(ctx, `
			SELECT workspace_id, title, html FROM proposals WHERE id=$1
		`, *link.ProposalID).Scan(&shared.WorkspaceID, &shared.Title, &shared.HTML)
	} else if link.DocumentID != nil {
		shared.Kind = SubjectDocument
		shared.SubjectID = *link.DocumentID
		err = s.db.QueryRowContext(ctx, `
			SELECT workspace_id, title, html FROM documents WHERE id=$1
		`, *link.DocumentID).Scan(&shared.WorkspaceID, &shared.Title, &shared.HTML)
	} else {
		return SharedContent{}, fmt.Errorf("share link %s has no subject", link.ID)
	}
	if err != nil {
		return SharedContent{}, err
	}
	return shared, nil
}

// ── Track events ──

func (s *PostgresStore) InsertTrackEvent(ctx context.Context, event TrackEvent) error {
	meta := event.Meta
	if meta == nil {
		meta = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO track_events (id, share_link_id, event, visitor_id, meta, referrer)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, event.ID, event.ShareLinkID, event.Event, event.VisitorID, string(meta), event.Referrer)
	if err != nil {
		return fmt.Errorf("insert track event: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountTrackEvents(ctx context.Context, shareLinkID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM track_events WHERE share_link_id=$1`, shareLinkID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count track events: %w", err)
	}
	return count, nil
}

// ── Workspaces ──

func (s *PostgresStore) EnsureWorkspace(ctx context.Context, id, name, slug string) (Workspace, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, name, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET updated_at=NOW()
		RETURNING id, name, slug, created_at, updated_at
	`, id, name, slug)
	var item Workspace
	if err := row.Scan(&item.ID, &item.Name, &item.Slug, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Workspace{}, fmt.Errorf("ensure workspace: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at, updated_at FROM workspaces WHERE id=$1
	`, id)
	var item Workspace
	if err := row.Scan(&item.ID, &item.Name, &item.Slug, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Workspace{}, err
	}
	return item, nil
}

// DocumentVersionCount returns how many snapshot rows a document has. The
// publish invariant is that this equals the number of published saves.
func (s *PostgresStore) DocumentVersionCount(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_versions WHERE document_id=$1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count document versions: %w", err)
	}
	return count, nil
}
