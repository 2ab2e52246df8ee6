package app

import (
	"context"
	"database/sql"

	"offerdesk/api/internal/assets"
	"offerdesk/api/internal/config"
	"offerdesk/api/internal/pdf"
	"offerdesk/api/internal/search"
	"offerdesk/api/internal/session"
	"offerdesk/api/internal/store"
	"offerdesk/api/internal/workspace"
)

type fakeStore struct {
	pingFn func(context.Context) error

	getDocumentFn          func(ctx context.Context, documentID, workspaceID string) (store.Document, error)
	listDocumentsFn        func(ctx context.Context, workspaceID string) ([]store.Document, error)
	createDocumentFn       func(ctx context.Context, doc store.Document, publish bool, versionID string) (store.Document, error)
	updateDocumentFn       func(ctx context.Context, documentID, workspaceID, title string, contentJSON []byte, html, editorID string, publish bool, versionID string) (store.Document, error)
	deleteDocumentFn       func(ctx context.Context, documentID, workspaceID string) error
	listDocumentVersionsFn func(ctx context.Context, documentID, workspaceID string) ([]store.DocumentVersion, error)

	getProposalFn          func(ctx context.Context, proposalID, workspaceID string) (store.Proposal, error)
	listProposalsFn        func(ctx context.Context, workspaceID string) ([]store.Proposal, error)
	createProposalFn       func(ctx context.Context, p store.Proposal) (store.Proposal, error)
	updateProposalStatusFn func(ctx context.Context, proposalID, workspaceID, status, actorID string) (store.Proposal, error)
	duplicateProposalFn    func(ctx context.Context, proposalID, workspaceID, actorID, newID, titleSuffix string) (store.Proposal, error)
	deleteProposalFn       func(ctx context.Context, proposalID, workspaceID string) error

	getShareLinkBySubjectFn func(ctx context.Context, kind, subjectID string) (store.ShareLink, error)
	insertShareLinkFn       func(ctx context.Context, link store.ShareLink) (store.ShareLink, error)
	resolveShareTokenFn     func(ctx context.Context, token string) (store.SharedContent, error)
	insertTrackEventFn      func(ctx context.Context, event store.TrackEvent) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID, workspaceID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID, workspaceID)
	}
	return store.Document{}, sql.ErrNoRows
}

func (f *fakeStore) ListDocuments(ctx context.Context, workspaceID string) ([]store.Document, error) {
	if f.listDocumentsFn != nil {
		return f.listDocumentsFn(ctx, workspaceID)
	}
	return nil, nil
}

func (f *fakeStore) CreateDocument(ctx context.Context, doc store.Document, publish bool, versionID string) (store.Document, error) {
	if f.createDocumentFn != nil {
		return f.createDocumentFn(ctx, doc, publish, versionID)
	}
	return doc, nil
}

func (f *fakeStore) UpdateDocument(ctx context.Context, documentID, workspaceID, title string, contentJSON []byte, html, editorID string, publish bool, versionID string) (store.Document, error) {
	if f.updateDocumentFn != nil {
		return f.updateDocumentFn(ctx, documentID, workspaceID, title, contentJSON, html, editorID, publish, versionID)
	}
	return store.Document{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteDocument(ctx context.Context, documentID, workspaceID string) error {
	if f.deleteDocumentFn != nil {
		return f.deleteDocumentFn(ctx, documentID, workspaceID)
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListDocumentVersions(ctx context.Context, documentID, workspaceID string) ([]store.DocumentVersion, error) {
	if f.listDocumentVersionsFn != nil {
		return f.listDocumentVersionsFn(ctx, documentID, workspaceID)
	}
	return nil, nil
}

func (f *fakeStore) GetProposal(ctx context.Context, proposalID, workspaceID string) (store.Proposal, error) {
	if f.getProposalFn != nil {
		return f.getProposalFn(ctx, proposalID, workspaceID)
	}
	return store.Proposal{}, sql.ErrNoRows
}

func (f *fakeStore) ListProposals(ctx context.Context, workspaceID string) ([]store.Proposal, error) {
	if f.listProposalsFn != nil {
		return f.listProposalsFn(ctx, workspaceID)
	}
	return nil, nil
}

func (f *fakeStore) CreateProposal(ctx context.Context, p store.Proposal) (store.Proposal, error) {
	if f.createProposalFn != nil {
		return f.createProposalFn(ctx, p)
	}
	return p, nil
}

func (f *fakeStore) UpdateProposalStatus(ctx context.Context, proposalID, workspaceID, status, actorID string) (store.Proposal, error) {
	if f.updateProposalStatusFn != nil {
		return f.updateProposalStatusFn(ctx, proposalID, workspaceID, status, actorID)
	}
	return store.Proposal{}, sql.ErrNoRows
}

func (f *fakeStore) DuplicateProposal(ctx context.Context, proposalID, workspaceID, actorID, newID, titleSuffix string) (store.Proposal, error) {
	if f.duplicateProposalFn != nil {
		return f.duplicateProposalFn(ctx, proposalID, workspaceID, actorID, newID, titleSuffix)
	}
	return store.Proposal{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteProposal(ctx context.Context, proposalID, workspaceID string) error {
	if f.deleteProposalFn != nil {
		return f.deleteProposalFn(ctx, proposalID, workspaceID)
	}
	return sql.ErrNoRows
}

func (f *fakeStore) GetShareLinkBySubject(ctx context.Context, kind, subjectID string) (store.ShareLink, error) {
	if f.getShareLinkBySubjectFn != nil {
		return f.getShareLinkBySubjectFn(ctx, kind, subjectID)
	}
	return store.ShareLink{}, sql.ErrNoRows
}

func (f *fakeStore) InsertShareLink(ctx context.Context, link store.ShareLink) (store.ShareLink, error) {
	if f.insertShareLinkFn != nil {
		return f.insertShareLinkFn(ctx, link)
	}
	return link, nil
}

func (f *fakeStore) ResolveShareToken(ctx context.Context, token string) (store.SharedContent, error) {
	if f.resolveShareTokenFn != nil {
		return f.resolveShareTokenFn(ctx, token)
	}
	return store.SharedContent{}, sql.ErrNoRows
}

func (f *fakeStore) InsertTrackEvent(ctx context.Context, event store.TrackEvent) error {
	if f.insertTrackEventFn != nil {
		return f.insertTrackEventFn(ctx, event)
	}
	return nil
}

type fakeSessions struct {
	lookupFn func(ctx context.Context, token string) (session.Session, error)
	revoked  []string
}

func (f *fakeSessions) Lookup(ctx context.Context, token string) (session.Session, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, token)
	}
	if token == "good-token" {
		return session.Session{UserID: "user_1", WorkspaceID: "ws_1"}, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (f *fakeSessions) Revoke(ctx context.Context, token string) error {
	f.revoked = append(f.revoked, token)
	return nil
}

type fakeAssets struct {
	uploadFn func(ctx context.Context, key string, data []byte, contentType string) (assets.UploadResult, error)
}

func (f *fakeAssets) Upload(ctx context.Context, key string, data []byte, contentType string) (assets.UploadResult, error) {
	if f.uploadFn != nil {
		return f.uploadFn(ctx, key, data, contentType)
	}
	return assets.UploadResult{Key: key, URL: "https://cdn.test/" + key}, nil
}

type fakeSearch struct {
	indexedDocs      []search.DocumentRecord
	indexedProposals []search.ProposalRecord
	deletedDocs      []string
	deletedProposals []string
	searchFn         func(q search.Query) search.Response
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) { f.indexedDocs = append(f.indexedDocs, doc) }
func (f *fakeSearch) IndexProposal(p search.ProposalRecord) {
	f.indexedProposals = append(f.indexedProposals, p)
}
func (f *fakeSearch) DeleteDocument(id string) { f.deletedDocs = append(f.deletedDocs, id) }
func (f *fakeSearch) DeleteProposal(id string) { f.deletedProposals = append(f.deletedProposals, id) }

type fakePDF struct {
	renderFn func(ctx context.Context, html string) ([]byte, error)
}

func (f *fakePDF) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	if f.renderFn != nil {
		return f.renderFn(ctx, html)
	}
	return []byte("%PDF-1.4 fake"), nil
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) bool {
	f.keys = append(f.keys, key)
	return f.allow
}

var _ pdf.Renderer = (*fakePDF)(nil)

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:      config.Config{DefaultWorkspaceID: "ws_default"},
		store:    fs,
		sessions: &fakeSessions{},
		assets:   &fakeAssets{},
		search:   &fakeSearch{},
		pdf:      &fakePDF{},
	}
}

func newTestServer(fs *fakeStore) *HTTPServer {
	return NewHTTPServer(newTestService(fs), workspace.NewResolver("ws_default"), nil, "*")
}
