// Package workspace determines the tenant context for a request.
package workspace

import (
	"net/http"
	"strings"
)

// HeaderName is the trusted per-request workspace header.
const HeaderName = "X-Workspace-ID"

// CookieName is the persisted workspace cookie.
const CookieName = "workspace_id"

// Resolver picks the workspace id for a request. Precedence is fixed and
// must be identical across every entry point: explicit override, then the
// request header, then the cookie, then the configured default.
type Resolver struct {
	defaultWorkspaceID string
}

func NewResolver(defaultWorkspaceID string) *Resolver {
	return &Resolver{defaultWorkspaceID: defaultWorkspaceID}
}

// Resolve returns the first non-empty candidate. r may be nil when no
// request context exists (background jobs), in which case only the
// override and default apply.
func (res *Resolver) Resolve(explicitOverride string, r *http.Request) string {
	if id := strings.TrimSpace(explicitOverride); id != "" {
		return id
	}
	if r != nil {
		if id := strings.TrimSpace(r.Header.Get(HeaderName)); id != "" {
			return id
		}
		if cookie, err := r.Cookie(CookieName); err == nil {
			if id := strings.TrimSpace(cookie.Value); id != "" {
				return id
			}
		}
	}
	return res.defaultWorkspaceID
}

// Explicit returns the workspace id the caller explicitly supplied via
// header or cookie, or "" when neither is present. Tracking uses this to
// cross-check a token's owning workspace without ever falling back to the
// default.
func Explicit(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id := strings.TrimSpace(r.Header.Get(HeaderName)); id != "" {
		return id
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
