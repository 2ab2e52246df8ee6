package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"offerdesk/api/internal/assets"
	"offerdesk/api/internal/config"
	"offerdesk/api/internal/content"
	"offerdesk/api/internal/export"
	"offerdesk/api/internal/pdf"
	"offerdesk/api/internal/search"
	"offerdesk/api/internal/session"
	"offerdesk/api/internal/store"
	"offerdesk/api/internal/util"
)

// proposalShareTTL bounds anonymous access to proposals. Document links do
// not expire.
const proposalShareTTL = 30 * 24 * time.Hour

// duplicateSuffix is appended to the title of a duplicated proposal.
const duplicateSuffix = " (копия)"

type dataStore interface {
	Ping(ctx context.Context) error

	GetDocument(ctx context.Context, documentID, workspaceID string) (store.Document, error)
	ListDocuments(ctx context.Context, workspaceID string) ([]store.Document, error)
	CreateDocument(ctx context.Context, doc store.Document, publish bool, versionID string) (store.Document, error)
	UpdateDocument(ctx context.Context, documentID, workspaceID, title string, contentJSON []byte, html, editorID string, publish bool, versionID string) (store.Document, error)
	DeleteDocument(ctx context.Context, documentID, workspaceID string) error
	ListDocumentVersions(ctx context.Context, documentID, workspaceID string) ([]store.DocumentVersion, error)

	GetProposal(ctx context.Context, proposalID, workspaceID string) (store.Proposal, error)
	ListProposals(ctx context.Context, workspaceID string) ([]store.Proposal, error)
	CreateProposal(ctx context.Context, p store.Proposal) (store.Proposal, error)
	UpdateProposalStatus(ctx context.Context, proposalID, workspaceID, status, actorID string) (store.Proposal, error)
	DuplicateProposal(ctx context.Context, proposalID, workspaceID, actorID, newID, titleSuffix string) (store.Proposal, error)
	DeleteProposal(ctx context.Context, proposalID, workspaceID string) error

	GetShareLinkBySubject(ctx context.Context, kind, subjectID string) (store.ShareLink, error)
	InsertShareLink(ctx context.Context, link store.ShareLink) (store.ShareLink, error)
	ResolveShareToken(ctx context.Context, token string) (store.SharedContent, error)
	InsertTrackEvent(ctx context.Context, event store.TrackEvent) error
}

type sessionResolver interface {
	Lookup(ctx context.Context, token string) (session.Session, error)
	Revoke(ctx context.Context, token string) error
}

type assetStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (assets.UploadResult, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexProposal(p search.ProposalRecord)
	DeleteDocument(id string)
	DeleteProposal(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionResolver
	assets   assetStore
	search   searchIndex
	pdf      pdf.Renderer
}

// New wires the service. assetStore and searchSvc may be nil when the
// backing systems are not configured; the affected endpoints degrade.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, assetStore *assets.Store, searchSvc *search.Service, renderer pdf.Renderer) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		pdf:      renderer,
	}
	if assetStore != nil {
		s.assets = assetStore
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (session.Session, error) {
	return s.sessions.Lookup(ctx, token)
}

// Logout revokes the session behind a bearer token. Revoking an already
// dead token is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// ── Documents ──

type SaveDocumentInput struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	JSON    json.RawMessage `json:"json"`
	Publish bool            `json:"publish"`
}

// SaveDocument creates a document when no id is supplied and updates it
// otherwise. The HTML column is always re-rendered server-side from the
// submitted block tree; client-provided HTML is never stored.
func (s *Service) SaveDocument(ctx context.Context, workspaceID, editorID string, input SaveDocumentInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationError("title is required")
	}
	if len(input.JSON) == 0 {
		return nil, validationError("json is required")
	}

	html, err := content.RenderJSON(input.JSON)
	if err != nil {
		return nil, err
	}

	versionID := ""
	if input.Publish {
		versionID = util.NewID("docv")
	}

	var doc store.Document
	if input.ID == "" {
		doc, err = s.store.CreateDocument(ctx, store.Document{
			ID:          util.NewID("doc"),
			WorkspaceID: workspaceID,
			Title:       input.Title,
			Content:     input.JSON,
			HTML:        html,
			CreatedBy:   editorID,
			UpdatedBy:   editorID,
		}, input.Publish, versionID)
	} else {
		doc, err = s.store.UpdateDocument(ctx, input.ID, workspaceID, input.Title, input.JSON, html, editorID, input.Publish, versionID)
	}
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{
			ID:          doc.ID,
			Title:       doc.Title,
			WorkspaceID: doc.WorkspaceID,
			Version:     doc.Version,
		})
	}

	return map[string]any{"id": doc.ID, "version": doc.Version}, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID, workspaceID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID, workspaceID)
	if err != nil {
		return nil, err
	}
	return documentPayload(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, workspaceID string) ([]map[string]any, error) {
	docs, err := s.store.ListDocuments(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, map[string]any{
			"id":        doc.ID,
			"title":     doc.Title,
			"version":   doc.Version,
			"updatedAt": doc.UpdatedAt,
		})
	}
	return items, nil
}

func (s *Service) DeleteDocument(ctx context.Context, documentID, workspaceID string) error {
	if err := s.store.DeleteDocument(ctx, documentID, workspaceID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	return nil
}

func (s *Service) ListDocumentVersions(ctx context.Context, documentID, workspaceID string) ([]map[string]any, error) {
	versions, err := s.store.ListDocumentVersions(ctx, documentID, workspaceID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, map[string]any{
			"id":        v.ID,
			"version":   v.Version,
			"createdAt": v.CreatedAt,
		})
	}
	return items, nil
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":        doc.ID,
		"title":     doc.Title,
		"json":      json.RawMessage(doc.Content),
		"html":      doc.HTML,
		"version":   doc.Version,
		"updatedAt": doc.UpdatedAt,
	}
}

// ── Proposals ──

type ProposalInput struct {
	ClientID        *string         `json:"clientId"`
	Title           string          `json:"title"`
	Greeting        string          `json:"greeting"`
	Problem         string          `json:"problem"`
	Solution        string          `json:"solution"`
	Additional      string          `json:"additional"`
	LineItems       json.RawMessage `json:"lineItems"`
	Currency        string          `json:"currency"`
	PricingMode     string          `json:"pricingMode"`
	Variants        json.RawMessage `json:"variants"`
	GalleryImages   json.RawMessage `json:"galleryImages"`
	Advantages      json.RawMessage `json:"advantages"`
	VisibleSections json.RawMessage `json:"visibleSections"`
}

func (s *Service) CreateProposal(ctx context.Context, workspaceID, actorID string, input ProposalInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationError("title is required")
	}

	lineItems := []byte(input.LineItems)
	if len(lineItems) == 0 {
		lineItems = []byte("[]")
	}

	p := store.Proposal{
		ID:              util.NewID("prop"),
		WorkspaceID:     workspaceID,
		ClientID:        input.ClientID,
		Title:           input.Title,
		Greeting:        input.Greeting,
		Problem:         input.Problem,
		Solution:        input.Solution,
		Additional:      input.Additional,
		LineItems:       lineItems,
		Currency:        input.Currency,
		PricingMode:     input.PricingMode,
		Variants:        rawOrNil(input.Variants),
		GalleryImages:   rawOrNil(input.GalleryImages),
		Advantages:      rawOrNil(input.Advantages),
		VisibleSections: rawOrNil(input.VisibleSections),
		Status:          store.ProposalStatusDraft,
		Version:         1,
		CreatedBy:       actorID,
		UpdatedBy:       actorID,
	}

	html, err := export.RenderProposal(p)
	if err != nil {
		return nil, validationError(err.Error())
	}
	p.HTML = html

	created, err := s.store.CreateProposal(ctx, p)
	if err != nil {
		return nil, err
	}

	s.indexProposal(created)
	return proposalPayload(created), nil
}

func (s *Service) GetProposal(ctx context.Context, proposalID, workspaceID string) (map[string]any, error) {
	p, err := s.store.GetProposal(ctx, proposalID, workspaceID)
	if err != nil {
		return nil, err
	}
	return proposalPayload(p), nil
}

func (s *Service) ListProposals(ctx context.Context, workspaceID string) ([]map[string]any, error) {
	proposals, err := s.store.ListProposals(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(proposals))
	for _, p := range proposals {
		items = append(items, map[string]any{
			"id":        p.ID,
			"title":     p.Title,
			"status":    p.Status,
			"clientId":  p.ClientID,
			"updatedAt": p.UpdatedAt,
		})
	}
	return items, nil
}

var allowedProposalStatuses = map[string]struct{}{
	store.ProposalStatusDraft:    {},
	store.ProposalStatusSent:     {},
	store.ProposalStatusAccepted: {},
	store.ProposalStatusRejected: {},
}

// UpdateProposalStatus applies a status transition. Any transition between
// the known statuses is allowed.
func (s *Service) UpdateProposalStatus(ctx context.Context, proposalID, workspaceID, status, actorID string) (map[string]any, error) {
	if _, ok := allowedProposalStatuses[status]; !ok {
		return nil, validationError("unknown status")
	}
	p, err := s.store.UpdateProposalStatus(ctx, proposalID, workspaceID, status, actorID)
	if err != nil {
		return nil, err
	}
	s.indexProposal(p)
	return proposalPayload(p), nil
}

// DuplicateProposal copies a proposal within its workspace. The copy keeps
// every content field byte-for-byte (absent optional blobs stay absent),
// resets status to draft and version to 1, and gets a new id and actor
// attribution.
func (s *Service) DuplicateProposal(ctx context.Context, proposalID, workspaceID, actorID string) (map[string]any, error) {
	copied, err := s.store.DuplicateProposal(ctx, proposalID, workspaceID, actorID, util.NewID("prop"), duplicateSuffix)
	if err != nil {
		return nil, err
	}
	s.indexProposal(copied)
	return proposalPayload(copied), nil
}

func (s *Service) DeleteProposal(ctx context.Context, proposalID, workspaceID string) error {
	if err := s.store.DeleteProposal(ctx, proposalID, workspaceID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProposal(proposalID)
	}
	return nil
}

func (s *Service) indexProposal(p store.Proposal) {
	if s.search == nil {
		return
	}
	clientID := ""
	if p.ClientID != nil {
		clientID = *p.ClientID
	}
	s.search.IndexProposal(search.ProposalRecord{
		ID:          p.ID,
		Title:       p.Title,
		ClientID:    clientID,
		WorkspaceID: p.WorkspaceID,
		Status:      p.Status,
	})
}

func proposalPayload(p store.Proposal) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"clientId":        p.ClientID,
		"title":           p.Title,
		"greeting":        p.Greeting,
		"problem":         p.Problem,
		"solution":        p.Solution,
		"additional":      p.Additional,
		"lineItems":       rawMessageOrNil(p.LineItems),
		"currency":        p.Currency,
		"pricingMode":     p.PricingMode,
		"variants":        rawMessageOrNil(p.Variants),
		"galleryImages":   rawMessageOrNil(p.GalleryImages),
		"advantages":      rawMessageOrNil(p.Advantages),
		"visibleSections": rawMessageOrNil(p.VisibleSections),
		"status":          p.Status,
		"version":         p.Version,
		"updatedAt":       p.UpdatedAt,
	}
}

func rawOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func rawMessageOrNil(raw []byte) any {
	if raw == nil {
		return nil
	}
	return json.RawMessage(raw)
}

// ── Share links ──

// GetOrCreateShareLink reuses the newest non-expired link for a subject or
// mints a new one. The subject must exist in the caller's workspace.
func (s *Service) GetOrCreateShareLink(ctx context.Context, kind, subjectID, workspaceID string) (map[string]any, error) {
	link := store.ShareLink{
		ID:       util.NewID("share"),
		Token:    util.NewShareToken(),
		AllowPDF: true,
	}

	switch kind {
	case store.SubjectDocument:
		if _, err := s.store.GetDocument(ctx, subjectID, workspaceID); err != nil {
			return nil, err
		}
		link.DocumentID = &subjectID
	case store.SubjectProposal:
		if _, err := s.store.GetProposal(ctx, subjectID, workspaceID); err != nil {
			return nil, err
		}
		link.ProposalID = &subjectID
		expires := time.Now().Add(proposalShareTTL)
		link.ExpiresAt = &expires
	default:
		return nil, validationError("unknown share subject")
	}

	existing, err := s.store.GetShareLinkBySubject(ctx, kind, subjectID)
	if err == nil {
		return shareLinkPayload(existing), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	created, err := s.store.InsertShareLink(ctx, link)
	if err != nil {
		return nil, err
	}
	return shareLinkPayload(created), nil
}

func shareLinkPayload(link store.ShareLink) map[string]any {
	payload := map[string]any{
		"token":    link.Token,
		"kind":     link.SubjectKind(),
		"allowPdf": link.AllowPDF,
	}
	if link.ExpiresAt != nil {
		payload["expiresAt"] = *link.ExpiresAt
	}
	return payload
}

// ResolveShare returns the public view behind a token. Unknown and expired
// tokens are indistinguishable.
func (s *Service) ResolveShare(ctx context.Context, token string) (map[string]any, error) {
	shared, err := s.store.ResolveShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"kind":     shared.Kind,
		"title":    shared.Title,
		"html":     shared.HTML,
		"allowPdf": shared.AllowPDF,
	}, nil
}

// SharePDF renders the shared subject's persisted HTML to PDF bytes.
func (s *Service) SharePDF(ctx context.Context, token string) ([]byte, string, error) {
	shared, err := s.store.ResolveShareToken(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if !shared.AllowPDF {
		return nil, "", domainError(http.StatusForbidden, "PDF_DISABLED", "PDF download is disabled for this link", nil)
	}
	if s.pdf == nil {
		return nil, "", domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF renderer not configured", nil)
	}
	data, err := s.pdf.RenderPDF(ctx, shared.HTML)
	if err != nil {
		if errors.Is(err, pdf.ErrDependencyMissing) {
			return nil, "", domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF renderer not available", nil)
		}
		return nil, "", fmt.Errorf("render pdf: %w", err)
	}
	return data, pdf.SanitizeFilename(shared.Title) + ".pdf", nil
}

// ── Tracking ──

type TrackInput struct {
	Token    string          `json:"token"`
	Event    string          `json:"event"`
	UID      string          `json:"uid"`
	Meta     json.RawMessage `json:"meta"`
	Referrer string          `json:"ref"`
}

// Track appends a view-tracking event for a share token. When the caller
// carries an explicit workspace it must match the subject's workspace;
// a mismatch is rejected before anything is written.
func (s *Service) Track(ctx context.Context, input TrackInput, explicitWorkspaceID string) error {
	if strings.TrimSpace(input.Token) == "" {
		return validationError("token is required")
	}
	if strings.TrimSpace(input.Event) == "" {
		return validationError("event is required")
	}
	if strings.TrimSpace(input.UID) == "" {
		return validationError("uid is required")
	}

	shared, err := s.store.ResolveShareToken(ctx, input.Token)
	if err != nil {
		return err
	}

	if explicitWorkspaceID != "" && explicitWorkspaceID != shared.WorkspaceID {
		return domainError(http.StatusForbidden, "WORKSPACE_MISMATCH", "Forbidden", nil)
	}

	meta := map[string]any{}
	if len(input.Meta) > 0 && string(input.Meta) != "null" {
		if err := json.Unmarshal(input.Meta, &meta); err != nil {
			return validationError("meta must be a JSON object")
		}
	}
	meta["workspaceId"] = shared.WorkspaceID
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode track meta: %w", err)
	}

	return s.store.InsertTrackEvent(ctx, store.TrackEvent{
		ID:          util.NewID("evt"),
		ShareLinkID: shared.LinkID,
		Event:       input.Event,
		VisitorID:   input.UID,
		Meta:        metaJSON,
		Referrer:    input.Referrer,
	})
}

// ── Uploads ──

// Upload stores a file under the workspace prefix and probes image
// dimensions so editors can persist intrinsic width/height attrs.
func (s *Service) Upload(ctx context.Context, workspaceID, filename, contentType string, data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, validationError("empty upload")
	}
	if s.assets == nil {
		return nil, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Uploads not configured", nil)
	}

	ext := path.Ext(filename)
	key := fmt.Sprintf("%s/%s%s", workspaceID, util.NewID("file"), ext)

	result, err := s.assets.Upload(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload asset: %w", err)
	}

	payload := map[string]any{"url": result.URL, "key": result.Key}
	if result.Dimensions != nil {
		payload["width"] = result.Dimensions.Width
		payload["height"] = result.Dimensions.Height
	}
	return payload, nil
}

// ── Search ──

func (s *Service) Search(ctx context.Context, q, kind, workspaceID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	var filterType search.ResultType
	switch kind {
	case "":
	case string(search.ResultDocument):
		filterType = search.ResultDocument
	case string(search.ResultProposal):
		filterType = search.ResultProposal
	default:
		return search.Response{}, validationError("kind must be document or proposal")
	}
	return s.search.Search(search.Query{
		Text:              q,
		FilterType:        filterType,
		FilterWorkspaceID: workspaceID,
		Limit:             limit,
		Offset:            offset,
	}), nil
}
