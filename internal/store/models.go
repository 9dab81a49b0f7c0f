package store

import (
	"encoding/json"
	"time"

	"atelie/api/internal/document"
)

// Table selects which storage table an editing session works against. The
// choice is made once when the session opens and never changes mid-session.
type Table string

const (
	// TableProposals holds end-user documents.
	TableProposals Table = "proposals"
	// TableTemplates holds administrator-authored templates.
	TableTemplates Table = "templates"
)

// Row is a raw storage record from either table. Nullable columns are
// pointers; the Normalizer fills canonical defaults for whatever is absent.
type Row struct {
	ID       string
	Name     string
	ClientID *string
	// TemplateName mirrors Name for templates; always nil on proposals.
	TemplateName *string
	// IsPublic marks a template as cloneable by end users.
	IsPublic bool
	// Payload is the current structured content shape
	// {sections, blocksBySection, theme}.
	Payload json.RawMessage
	// State is the legacy free-form content shape; read-only, never written.
	State               json.RawMessage
	Layouts             json.RawMessage
	Slug                *string
	ThumbnailURL        *string
	IsPublished         bool
	PublishedAt         *time.Time
	PublishPasswordHash *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Raw converts the row into the Normalizer's input shape.
func (r Row) Raw() document.Raw {
	return document.Raw{
		ID:           r.ID,
		Name:         r.Name,
		ClientID:     deref(r.ClientID),
		Payload:      r.Payload,
		State:        r.State,
		Layouts:      r.Layouts,
		Slug:         deref(r.Slug),
		ThumbnailURL: deref(r.ThumbnailURL),
		IsPublished:  r.IsPublished,
		PublishedAt:  r.PublishedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NullableString boxes a string for a nullable column, mapping "" to NULL.
func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListItem is the listing-view projection of a proposal or template.
type ListItem struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	ClientID     string     `json:"clientId,omitempty"`
	Slug         string     `json:"slug,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	IsPublished  bool       `json:"isPublished"`
	IsPublic     bool       `json:"isPublic,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
}

// Client is the read-only client directory record resolved for display.
type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}
