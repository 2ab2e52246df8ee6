package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"offerdesk/api/internal/store"
	"offerdesk/api/internal/workspace"
)

func trackingStore(resolved store.SharedContent) (*fakeStore, *[]store.TrackEvent, *int) {
	var events []store.TrackEvent
	resolves := 0
	fs := &fakeStore{
		resolveShareTokenFn: func(_ context.Context, token string) (store.SharedContent, error) {
			resolves++
			return resolved, nil
		},
		insertTrackEventFn: func(_ context.Context, event store.TrackEvent) error {
			events = append(events, event)
			return nil
		},
	}
	return fs, &events, &resolves
}

func sharedDoc() store.SharedContent {
	return store.SharedContent{
		LinkID: "share_1", Kind: store.SubjectDocument, SubjectID: "doc_1",
		WorkspaceID: "ws_1", Title: "Offer", HTML: "<p>x</p>", AllowPDF: true,
	}
}

func TestTrackAppendsEvent(t *testing.T) {
	fs, events, _ := trackingStore(sharedDoc())
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/track",
		`{"token":"tok","event":"view","uid":"v1","meta":{"page":2},"ref":"https://mail.example.com"}`, false, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(*events) != 1 {
		t.Fatalf("expected one event, got %d", len(*events))
	}
	event := (*events)[0]
	if event.ShareLinkID != "share_1" || event.Event != "view" || event.VisitorID != "v1" {
		t.Fatalf("unexpected event %+v", event)
	}

	var meta map[string]any
	if err := json.Unmarshal(event.Meta, &meta); err != nil {
		t.Fatalf("parse meta: %v", err)
	}
	if meta["workspaceId"] != "ws_1" {
		t.Fatalf("meta must carry the subject workspace, got %v", meta)
	}
	if meta["page"] != float64(2) {
		t.Fatalf("caller meta must be preserved, got %v", meta)
	}
}

func TestTrackMalformedBodyRejectedBeforeLookup(t *testing.T) {
	fs, events, resolves := trackingStore(sharedDoc())
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/track", `{"token":`, false, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if *resolves != 0 {
		t.Fatal("no token lookup may happen for malformed payloads")
	}
	if len(*events) != 0 {
		t.Fatal("nothing may be stored for malformed payloads")
	}
}

func TestTrackRequiredFields(t *testing.T) {
	cases := []string{
		`{"event":"view","uid":"v1"}`,
		`{"token":"tok","uid":"v1"}`,
		`{"token":"tok","event":"view"}`,
		`{"token":"  ","event":"view","uid":"v1"}`,
	}
	for _, body := range cases {
		fs, events, resolves := trackingStore(sharedDoc())
		rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/track", body, false, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rr.Code)
		}
		if *resolves != 0 || len(*events) != 0 {
			t.Fatalf("body %s: incomplete payloads must not touch storage", body)
		}
	}
}

func TestTrackUnknownTokenIs404(t *testing.T) {
	rr := doRequest(t, newTestServer(&fakeStore{}), http.MethodPost, "/api/track",
		`{"token":"ghost","event":"view","uid":"v1"}`, false, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestTrackWorkspaceMismatchHeaderIs403(t *testing.T) {
	fs, events, _ := trackingStore(sharedDoc())
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/track",
		`{"token":"tok","event":"view","uid":"v1"}`, false,
		map[string]string{workspace.HeaderName: "ws_other"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(*events) != 0 {
		t.Fatal("mismatched workspace must not produce a row")
	}
}

func TestTrackWorkspaceMismatchCookieIs403(t *testing.T) {
	fs, events, _ := trackingStore(sharedDoc())
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/track",
		`{"token":"tok","event":"view","uid":"v1"}`, false,
		map[string]string{"Cookie": workspace.CookieName + "=ws_other"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if len(*events) != 0 {
		t.Fatal("mismatched workspace must not produce a row")
	}
}

func TestTrackMatchingExplicitWorkspaceSucceeds(t *testing.T) {
	fs, events, _ := trackingStore(sharedDoc())
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/track",
		`{"token":"tok","event":"view","uid":"v1"}`, false,
		map[string]string{workspace.HeaderName: "ws_1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(*events) != 1 {
		t.Fatalf("expected one event, got %d", len(*events))
	}
}

// The configured default workspace is for authenticated entry points only;
// a viewer with no explicit workspace is never held to it.
func TestTrackNoExplicitWorkspaceIgnoresDefault(t *testing.T) {
	shared := sharedDoc()
	shared.WorkspaceID = "ws_completely_different"
	fs, events, _ := trackingStore(shared)
	rr := doRequest(t, newTestServer(fs), http.MethodPost, "/api/track",
		`{"token":"tok","event":"view","uid":"v1"}`, false, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(*events) != 1 {
		t.Fatalf("expected one event, got %d", len(*events))
	}
}
