package store

import "time"

type Workspace struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Document is an editable rich document. Content holds the canonical
// block-tree JSON; HTML is the server-rendered derivation of Content as of
// the last save and is never accepted from a client.
type Document struct {
	ID          string
	WorkspaceID string
	Title       string
	Content     []byte
	HTML        string
	Version     int
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentVersion is an immutable snapshot created at publish time.
// Exactly one row exists per (document, version) pair.
type DocumentVersion struct {
	ID         string
	DocumentID string
	Version    int
	Content    []byte
	HTML       string
	CreatedAt  time.Time
}

// Proposal statuses. Transitions between them are user-driven and
// unconstrained; duplication always resets the copy to draft.
const (
	ProposalStatusDraft    = "draft"
	ProposalStatusSent     = "sent"
	ProposalStatusAccepted = "accepted"
	ProposalStatusRejected = "rejected"
)

// Proposal is a sales proposal. The optional JSON blobs (Variants,
// GalleryImages, Advantages, VisibleSections) are three-state: a nil slice
// maps to SQL NULL and is preserved as NULL through duplication; absence
// is never coerced into an empty object or array.
type Proposal struct {
	ID              string
	WorkspaceID     string
	ClientID        *string
	Title           string
	Greeting        string
	Problem         string
	Solution        string
	Additional      string
	LineItems       []byte
	Currency        string
	PricingMode     string
	Variants        []byte
	GalleryImages   []byte
	Advantages      []byte
	VisibleSections []byte
	Status          string
	Version         int
	HTML            string
	CreatedBy       string
	UpdatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Share link subject kinds.
const (
	SubjectDocument = "document"
	SubjectProposal = "proposal"
)

// ShareLink grants anonymous read access to one document or proposal.
// Exactly one of DocumentID / ProposalID is set. The token is immutable
// once issued.
type ShareLink struct {
	ID         string
	Token      string
	DocumentID *string
	ProposalID *string
	AllowPDF   bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// SubjectKind reports which entity the link points to.
func (l ShareLink) SubjectKind() string {
	if l.ProposalID != nil {
		return SubjectProposal
	}
	return SubjectDocument
}

// SharedContent is the public view resolved from a share token.
type SharedContent struct {
	LinkID      string
	Kind        string
	SubjectID   string
	WorkspaceID string
	Title       string
	HTML        string
	AllowPDF    bool
}

// TrackEvent is an append-only engagement record scoped to a share token.
type TrackEvent struct {
	ID          string
	ShareLinkID string
	Event       string
	VisitorID   string
	Meta        []byte
	Referrer    string
	CreatedAt   time.Time
}
