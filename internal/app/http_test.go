package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"offerdesk/api/internal/store"
	"offerdesk/api/internal/workspace"
)

func doRequest(t *testing.T, server *HTTPServer, method, path, body string, authed bool, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer good-token")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func parseBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestHealth(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodGet, "/api/health", "", false, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestProtectedRouteWithoutBearerReturnsUnauthorized(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodGet, "/api/documents", "", false, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if parseBody(t, rr)["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED code")
	}
}

func TestProtectedRouteWithUnknownBearerReturnsUnauthorized(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodGet, "/api/documents", "", false,
		map[string]string{"Authorization": "Bearer stale-token"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	sessions := &fakeSessions{}
	svc := newTestService(&fakeStore{})
	svc.sessions = sessions
	server := NewHTTPServer(svc, workspace.NewResolver("ws_default"), nil, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/session/logout", "", true, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != "good-token" {
		t.Fatalf("expected good-token revoked, got %v", sessions.revoked)
	}
}

func TestSessionWorkspaceOverridesHeader(t *testing.T) {
	var gotWorkspace string
	fs := &fakeStore{
		listDocumentsFn: func(_ context.Context, workspaceID string) ([]store.Document, error) {
			gotWorkspace = workspaceID
			return nil, nil
		},
	}
	rr := doRequest(t, newTestServer(fs), http.MethodGet, "/api/documents", "", true,
		map[string]string{workspace.HeaderName: "ws_other"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotWorkspace != "ws_1" {
		t.Fatalf("session workspace must win over header, got %q", gotWorkspace)
	}
}

func TestSaveDocumentCreateBranch(t *testing.T) {
	var created store.Document
	var gotPublish bool
	fs := &fakeStore{
		createDocumentFn: func(_ context.Context, doc store.Document, publish bool, versionID string) (store.Document, error) {
			created = doc
			gotPublish = publish
			doc.Version = 1
			return doc, nil
		},
	}
	body := `{"title":"Offer","json":{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"hi"}]}]},"publish":true}`
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/documents", body, true, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !gotPublish {
		t.Fatal("publish flag not forwarded")
	}
	if created.WorkspaceID != "ws_1" {
		t.Fatalf("expected workspace ws_1, got %q", created.WorkspaceID)
	}
	if created.HTML != "<p>hi</p>" {
		t.Fatalf("expected server-rendered html, got %q", created.HTML)
	}
	payload := parseBody(t, rr)
	if payload["version"] != float64(1) {
		t.Fatalf("expected version 1, got %v", payload["version"])
	}
}

func TestSaveDocumentUpdateBranch(t *testing.T) {
	var updatedID string
	createCalled := false
	fs := &fakeStore{
		createDocumentFn: func(_ context.Context, doc store.Document, publish bool, versionID string) (store.Document, error) {
			createCalled = true
			return doc, nil
		},
		updateDocumentFn: func(_ context.Context, documentID, workspaceID, title string, contentJSON []byte, html, editorID string, publish bool, versionID string) (store.Document, error) {
			updatedID = documentID
			return store.Document{ID: documentID, WorkspaceID: workspaceID, Title: title, Version: 3}, nil
		},
	}
	body := `{"id":"doc_9","title":"Offer","json":{"type":"doc"}}`
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/documents", body, true, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if createCalled {
		t.Fatal("create must not run when id is supplied")
	}
	if updatedID != "doc_9" {
		t.Fatalf("expected update of doc_9, got %q", updatedID)
	}
}

func TestSaveDocumentMissingTitle(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodPost, "/api/documents",
		`{"json":{"type":"doc"}}`, true, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSaveDocumentUnknownNodeTypeFailsClosed(t *testing.T) {
	createCalled := false
	fs := &fakeStore{
		createDocumentFn: func(_ context.Context, doc store.Document, publish bool, versionID string) (store.Document, error) {
			createCalled = true
			return doc, nil
		},
	}
	body := `{"title":"Offer","json":{"type":"doc","content":[{"type":"widget"}]}}`
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/documents", body, true, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["code"] != "INVALID_CONTENT" {
		t.Fatalf("expected INVALID_CONTENT code, got %s", rr.Body.String())
	}
	if createCalled {
		t.Fatal("nothing may be stored when rendering fails")
	}
}

func TestGetDocumentUnknownIs404(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodGet, "/api/documents/doc_x", "", true, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestDeleteDocumentNoContent(t *testing.T) {
	fs := &fakeStore{
		deleteDocumentFn: func(_ context.Context, documentID, workspaceID string) error { return nil },
	}
	rr := doRequest(t, newTestServer(fs), http.MethodDelete, "/api/documents/doc_1", "", true, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestShareIsIdempotent(t *testing.T) {
	existing := store.ShareLink{ID: "share_1", Token: "aaaabbbbccccddddaaaabbbbccccdddd", AllowPDF: true}
	docID := "doc_1"
	existing.DocumentID = &docID
	insertCalled := false
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID, workspaceID string) (store.Document, error) {
			return store.Document{ID: documentID, WorkspaceID: workspaceID}, nil
		},
		getShareLinkBySubjectFn: func(_ context.Context, kind, subjectID string) (store.ShareLink, error) {
			return existing, nil
		},
		insertShareLinkFn: func(_ context.Context, link store.ShareLink) (store.ShareLink, error) {
			insertCalled = true
			return link, nil
		},
	}
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/documents/doc_1/share", "", true, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if insertCalled {
		t.Fatal("existing link must be reused, not replaced")
	}
	if parseBody(t, rr)["token"] != existing.Token {
		t.Fatalf("expected existing token in payload")
	}
}

func TestShareMintsTokenWhenAbsent(t *testing.T) {
	var inserted store.ShareLink
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID, workspaceID string) (store.Document, error) {
			return store.Document{ID: documentID, WorkspaceID: workspaceID}, nil
		},
		insertShareLinkFn: func(_ context.Context, link store.ShareLink) (store.ShareLink, error) {
			inserted = link
			return link, nil
		},
	}
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/documents/doc_1/share", "", true, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(inserted.Token) != 32 {
		t.Fatalf("expected 32-char hex token, got %q", inserted.Token)
	}
	if inserted.ExpiresAt != nil {
		t.Fatal("document links must not expire")
	}
	if !inserted.AllowPDF {
		t.Fatal("new links allow pdf by default")
	}
}

func TestProposalShareExpires(t *testing.T) {
	var inserted store.ShareLink
	fs := &fakeStore{
		getProposalFn: func(_ context.Context, proposalID, workspaceID string) (store.Proposal, error) {
			return store.Proposal{ID: proposalID, WorkspaceID: workspaceID}, nil
		},
		insertShareLinkFn: func(_ context.Context, link store.ShareLink) (store.ShareLink, error) {
			inserted = link
			return link, nil
		},
	}
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/proposals/prop_1/share", "", true, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if inserted.ExpiresAt == nil {
		t.Fatal("proposal links must carry an expiry")
	}
	want := time.Now().Add(proposalShareTTL)
	if inserted.ExpiresAt.Before(want.Add(-time.Minute)) || inserted.ExpiresAt.After(want.Add(time.Minute)) {
		t.Fatalf("expected ~30 day expiry, got %v", inserted.ExpiresAt)
	}
}

func TestShareForeignSubjectIs404(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodPost, "/api/documents/doc_foreign/share", "", true, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestPublicShareResolve(t *testing.T) {
	fs := &fakeStore{
		resolveShareTokenFn: func(_ context.Context, token string) (store.SharedContent, error) {
			return store.SharedContent{
				LinkID: "share_1", Kind: store.SubjectDocument, SubjectID: "doc_1",
				WorkspaceID: "ws_1", Title: "Offer", HTML: "<p>hi</p>", AllowPDF: true,
			}, nil
		},
	}
	rr := doRequest(t, newTestServer(fs), http.MethodGet, "/share/sometoken", "", false, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := parseBody(t, rr)
	if payload["html"] != "<p>hi</p>" {
		t.Fatalf("expected persisted html, got %v", payload["html"])
	}
}

func TestPublicShareUnknownTokenIs404(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodGet, "/share/unknown", "", false, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSharePDFForbiddenWhenDisabled(t *testing.T) {
	fs := &fakeStore{
		resolveShareTokenFn: func(_ context.Context, token string) (store.SharedContent, error) {
			return store.SharedContent{LinkID: "share_1", Title: "Offer", HTML: "<p>x</p>", AllowPDF: false}, nil
		},
	}
	rr := doRequest(t, newTestServer(fs), http.MethodGet, "/share/tok/pdf", "", false, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestSharePDFDownload(t *testing.T) {
	fs := &fakeStore{
		resolveShareTokenFn: func(_ context.Context, token string) (store.SharedContent, error) {
			return store.SharedContent{LinkID: "share_1", Title: "Big Offer", HTML: "<p>x</p>", AllowPDF: true}, nil
		},
	}
	rr := doRequest(t, newTestServer(fs), http.MethodGet, "/share/tok/pdf", "", false, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="Big-Offer.pdf"` {
		t.Fatalf("unexpected disposition %q", cd)
	}
}

func TestDuplicateProposalReturns201(t *testing.T) {
	var gotSuffix, gotActor string
	fs := &fakeStore{
		duplicateProposalFn: func(_ context.Context, proposalID, workspaceID, actorID, newID, titleSuffix string) (store.Proposal, error) {
			gotSuffix = titleSuffix
			gotActor = actorID
			return store.Proposal{
				ID: newID, WorkspaceID: workspaceID,
				Title:  "Offer" + titleSuffix,
				Status: store.ProposalStatusDraft, Version: 1,
			}, nil
		},
	}
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/proposals/prop_1/duplicate", "", true, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotSuffix != " (копия)" {
		t.Fatalf("expected copy suffix, got %q", gotSuffix)
	}
	if gotActor != "user_1" {
		t.Fatalf("expected actor user_1, got %q", gotActor)
	}
	payload := parseBody(t, rr)
	if payload["status"] != store.ProposalStatusDraft {
		t.Fatalf("copy must be draft, got %v", payload["status"])
	}
	if payload["version"] != float64(1) {
		t.Fatalf("copy must be version 1, got %v", payload["version"])
	}
}

func TestDuplicateUnknownProposalIs404(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodPost, "/api/proposals/missing/duplicate", "", true, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestProposalStatusTransition(t *testing.T) {
	var gotStatus string
	fs := &fakeStore{
		updateProposalStatusFn: func(_ context.Context, proposalID, workspaceID, status, actorID string) (store.Proposal, error) {
			gotStatus = status
			return store.Proposal{ID: proposalID, WorkspaceID: workspaceID, Status: status}, nil
		},
	}
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/proposals/prop_1/status",
		`{"status":"sent"}`, true, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotStatus != "sent" {
		t.Fatalf("expected sent, got %q", gotStatus)
	}
}

func TestProposalStatusRejectsUnknown(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodPost, "/api/proposals/prop_1/status",
		`{"status":"archived"}`, true, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRateLimitedTrackReturns429(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	server := NewHTTPServer(newTestService(&fakeStore{}), workspace.NewResolver("ws_default"), limiter, "*")
	rr := doRequest(t, server, http.MethodPost, "/api/track", `{"token":"t","event":"view","uid":"v1"}`, false, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}
