package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"offerdesk/api/internal/content"
	"offerdesk/api/internal/session"
	"offerdesk/api/internal/store"
	"offerdesk/api/internal/workspace"
)

const maxUploadBytes = 20 << 20

type rateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

type HTTPServer struct {
	service    *Service
	resolver   *workspace.Resolver
	limiter    rateLimiter
	corsOrigin string
}

func NewHTTPServer(service *Service, resolver *workspace.Resolver, limiter rateLimiter, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, resolver: resolver, limiter: limiter, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Tracking is anonymous: viewers post events from shared pages.
	if r.Method == http.MethodPost && r.URL.Path == "/api/track" {
		s.handleTrack(w, r)
		return
	}

	// Public share links, no authentication required
	if strings.HasPrefix(r.URL.Path, "/share/") {
		parts := splitPath(r.URL.Path)
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handlePublicShare(w, r, parts[1])
			return
		}
		if len(parts) == 3 && parts[2] == "pdf" && r.Method == http.MethodGet {
			s.handlePublicSharePDF(w, r, parts[1])
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	workspaceID := s.resolver.Resolve(sess.WorkspaceID, r)

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if err := s.service.Logout(r.Context(), bearerToken(r)); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		kind := strings.TrimSpace(r.URL.Query().Get("kind"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			offset = parsed
		}

		payload, err := s.service.Search(r.Context(), q, kind, workspaceID, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/documents" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListDocuments(r.Context(), workspaceID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list documents", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		case http.MethodPost:
			var body SaveDocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SaveDocument(r.Context(), workspaceID, sess.UserID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.URL.Path == "/api/proposals" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListProposals(r.Context(), workspaceID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list proposals", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"proposals": items})
		case http.MethodPost:
			var body ProposalInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateProposal(r.Context(), workspaceID, sess.UserID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/uploads" {
		s.handleUpload(w, r, workspaceID)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocument(w, r, sess, workspaceID, parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "proposals" {
		s.handleProposal(w, r, sess, workspaceID, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, sess session.Session, workspaceID string, parts []string) {
	documentID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetDocument(r.Context(), documentID, workspaceID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteDocument(r.Context(), documentID, workspaceID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "share" && r.Method == http.MethodPost {
		payload, err := s.service.GetOrCreateShareLink(r.Context(), store.SubjectDocument, documentID, workspaceID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "versions" && r.Method == http.MethodGet {
		items, err := s.service.ListDocumentVersions(r.Context(), documentID, workspaceID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProposal(w http.ResponseWriter, r *http.Request, sess session.Session, workspaceID string, parts []string) {
	proposalID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProposal(r.Context(), proposalID, workspaceID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteProposal(r.Context(), proposalID, workspaceID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost {
		switch parts[3] {
		case "share":
			payload, err := s.service.GetOrCreateShareLink(r.Context(), store.SubjectProposal, proposalID, workspaceID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case "duplicate":
			payload, err := s.service.DuplicateProposal(r.Context(), proposalID, workspaceID, sess.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		case "status":
			var body struct {
				Status string `json:"status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateProposalStatus(r.Context(), proposalID, workspaceID, body.Status, sess.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePublicShare(w http.ResponseWriter, r *http.Request, token string) {
	payload, err := s.service.ResolveShare(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePublicSharePDF(w http.ResponseWriter, r *http.Request, token string) {
	data, filename, err := s.service.SharePDF(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.Header().Set("Content-Type", "application/pdf")
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(r.Context(), clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
		return
	}

	var body TrackInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Referrer == "" {
		body.Referrer = r.Referer()
	}

	// A viewer page never sets an explicit workspace; internal tools do, and
	// then it must match the subject's workspace.
	explicit := workspace.Explicit(r)

	if err := s.service.Track(r.Context(), body, explicit); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, workspaceID string) {
	contentType := r.Header.Get("Content-Type")

	var data []byte
	filename := ""

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
			return
		}
		defer file.Close()
		data, err = io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read file", nil)
			return
		}
		filename = header.Filename
		contentType = header.Header.Get("Content-Type")
	} else {
		var err error
		data, err = io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		filename = r.URL.Query().Get("filename")
	}

	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Upload exceeds size limit", nil)
		return
	}

	payload, err := s.service.Upload(r.Context(), workspaceID, filename, contentType, data)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return session.Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return session.Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return session.Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Workspace-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var contentErr *content.Error
	if errors.As(err, &contentErr) {
		return http.StatusBadRequest, "INVALID_CONTENT", contentErr.Error(), map[string]any{
			"nodeType": contentErr.NodeType,
			"reason":   contentErr.Reason,
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	// A row vanishing between the locked read and the write, or a version
	// snapshot collision during publish, means the target is effectively
	// gone for this caller.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "40001") {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, session.ErrNotFound) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
