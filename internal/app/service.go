package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"atelie/api/internal/document"
	"atelie/api/internal/editor"
	"atelie/api/internal/pubcache"
	"atelie/api/internal/search"
	"atelie/api/internal/store"
	"atelie/api/internal/thumbnail"
	"atelie/api/internal/util"
)

// dataStore is the persistence surface the service needs. *store.PostgresStore
// satisfies it; tests swap in a fake.
type dataStore interface {
	Ping(ctx context.Context) error
	FetchByID(ctx context.Context, table store.Table, id string) (store.Row, error)
	Insert(ctx context.Context, table store.Table, item store.Row) (store.Row, error)
	Update(ctx context.Context, table store.Table, id string, item store.Row) (store.Row, error)
	SetTemplateVisibility(ctx context.Context, id string, public bool) (store.Row, error)
	SetPublishState(ctx context.Context, id string, published bool, publishedAt *time.Time, passwordHash *string) (store.Row, error)
	FindPublishedBySlug(ctx context.Context, slug string) (store.Row, error)
	ListProposals(ctx context.Context) ([]store.ListItem, error)
	ListTemplates(ctx context.Context, publicOnly bool) ([]store.ListItem, error)
	ResolveClient(ctx context.Context, clientID string) (store.Client, error)
}

// AssetStore is the upload catalog surface. May be absent when no object
// store is configured.
type AssetStore interface {
	Upload(ctx context.Context, ownerID, docID, filename string, reader io.Reader, size int64, contentType string) (string, error)
	List(ctx context.Context, ownerID, docID string) ([]string, error)
}

// Options carries the service wiring that is not a hard dependency.
type Options struct {
	PublicOrigin string
	QuietPeriod  time.Duration
	Search       *search.Service
	Assets       AssetStore
	PubCache     *pubcache.Cache
}

// Service owns the registry of open editing sessions and fronts every
// operation the HTTP layer exposes. One session per open document: opening
// a document that is already open returns the existing session.
type Service struct {
	store   dataStore
	deriver *thumbnail.Deriver
	opts    Options

	mu       sync.Mutex
	sessions map[string]*editor.Session
}

func NewService(dataStore dataStore, deriver *thumbnail.Deriver, opts Options) *Service {
	return &Service{
		store:    dataStore,
		deriver:  deriver,
		opts:     opts,
		sessions: make(map[string]*editor.Session),
	}
}

// Ping checks database connectivity for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionView is the session envelope handed to the HTTP layer.
type SessionView struct {
	SessionID         string            `json:"sessionId"`
	Table             string            `json:"table"`
	Document          document.Document `json:"document"`
	Status            string            `json:"status"`
	StatusLabel       string            `json:"statusLabel"`
	HasUnsavedChanges bool              `json:"hasUnsavedChanges"`
}

func sessionKey(table store.Table, id string) string {
	return string(table) + "/" + id
}

func (s *Service) lookup(table store.Table, id string) (*editor.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey(table, id)]
	return sess, ok
}

// openSession builds a session around a canonical document and registers it.
// sessionID is the registry handle: the storage id for loaded documents, a
// generated draft handle for documents that have never been saved.
func (s *Service) openSession(table store.Table, sessionID string, doc document.Document) *editor.Session {
	var sess *editor.Session
	cfg := editor.Config{
		Table:        table,
		QuietPeriod:  s.opts.QuietPeriod,
		PublicOrigin: s.opts.PublicOrigin,
		OnPersist: func(table store.Table, doc document.Document) {
			s.indexRecord(table, doc)
			// First save assigns the storage id; alias the session under it
			// so routes can address the document by its real id from then on.
			if doc.ID != "" && doc.ID != sessionID {
				s.mu.Lock()
				s.sessions[sessionKey(table, doc.ID)] = sess
				s.mu.Unlock()
			}
		},
	}
	sess = editor.NewSession(s.store, s.deriver, cfg, doc)

	s.mu.Lock()
	s.sessions[sessionKey(table, sessionID)] = sess
	s.mu.Unlock()
	return sess
}

func (s *Service) view(sessionID string, sess *editor.Session) SessionView {
	status := sess.Status()
	return SessionView{
		SessionID:         sessionID,
		Table:             string(sess.Table()),
		Document:          sess.Document(),
		Status:            string(status),
		StatusLabel:       status.Label(),
		HasUnsavedChanges: sess.HasUnsavedChanges(),
	}
}

// Open loads a document from storage and opens an editing session for it.
// A session that is already open is returned as-is, edits intact.
func (s *Service) Open(ctx context.Context, table store.Table, id string) (SessionView, error) {
	if sess, ok := s.lookup(table, id); ok {
		return s.view(id, sess), nil
	}

	row, err := s.store.FetchByID(ctx, table, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionView{}, domainError(http.StatusNotFound, "LOAD_ERROR", "Document not found", nil)
		}
		return SessionView{}, domainError(http.StatusInternalServerError, "LOAD_ERROR", "Could not load document", nil)
	}

	doc := document.Normalize(row.Raw())
	sess := s.openSession(table, id, doc)
	return s.view(id, sess), nil
}

// Create opens a session around a blank default document. Nothing is written
// until the first edit triggers a save; the returned sessionId addresses the
// draft until storage assigns a real id.
func (s *Service) Create(table store.Table, name, clientID string) SessionView {
	doc := document.Default()
	doc.Name = strings.TrimSpace(name)
	doc.ClientID = strings.TrimSpace(clientID)

	sessionID := util.NewID("draft")
	sess := s.openSession(table, sessionID, doc)
	return s.view(sessionID, sess)
}

// CreateFromTemplate clones a public template into a fresh unsaved proposal.
func (s *Service) CreateFromTemplate(ctx context.Context, templateID string) (SessionView, error) {
	row, err := s.store.FetchByID(ctx, store.TableTemplates, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionView{}, domainError(http.StatusNotFound, "LOAD_ERROR", "Template not found", nil)
		}
		return SessionView{}, domainError(http.StatusInternalServerError, "LOAD_ERROR", "Could not load template", nil)
	}
	if !row.IsPublic {
		return SessionView{}, domainError(http.StatusNotFound, "LOAD_ERROR", "Template not found", nil)
	}

	template := document.Normalize(row.Raw())
	doc := document.CloneForEditing(template)

	sessionID := util.NewID("draft")
	sess := s.openSession(store.TableProposals, sessionID, doc)
	return s.view(sessionID, sess), nil
}

func (s *Service) session(table store.Table, id string) (*editor.Session, error) {
	sess, ok := s.lookup(table, id)
	if !ok {
		return nil, domainError(http.StatusNotFound, "NO_SESSION", "No open editing session for this document", nil)
	}
	return sess, nil
}

// SessionDocument returns the current in-memory document of an open session.
func (s *Service) SessionDocument(table store.Table, id string) (document.Document, error) {
	sess, err := s.session(table, id)
	if err != nil {
		return document.Document{}, err
	}
	return sess.Document(), nil
}

// ReplaceDocument swaps the session's working document for an editor-supplied
// one. Engine-owned fields survive the swap.
func (s *Service) ReplaceDocument(table store.Table, id string, doc document.Document) (SessionView, error) {
	sess, err := s.session(table, id)
	if err != nil {
		return SessionView{}, err
	}
	sess.SetDocument(doc)
	return s.view(id, sess), nil
}

// RemoveBlock deletes a block and its geometry across every breakpoint.
func (s *Service) RemoveBlock(table store.Table, id, blockID string) (SessionView, error) {
	sess, err := s.session(table, id)
	if err != nil {
		return SessionView{}, err
	}
	if !sess.RemoveBlock(blockID) {
		return SessionView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Block not found", nil)
	}
	return s.view(id, sess), nil
}

// SaveView is the response envelope for an explicit save.
type SaveView struct {
	Outcome string `json:"outcome"`
	SessionView
}

// Save runs an explicit save. force writes even when the document matches
// its snapshot, which is how navigate-away flushes a clean-looking session.
func (s *Service) Save(ctx context.Context, table store.Table, id string, force bool) (SaveView, error) {
	sess, err := s.session(table, id)
	if err != nil {
		return SaveView{}, err
	}
	result, err := sess.Save(ctx, force)
	if err != nil {
		return SaveView{}, err
	}
	return SaveView{Outcome: string(result.Outcome), SessionView: s.view(id, sess)}, nil
}

// PublishView is the response envelope for a publish.
type PublishView struct {
	PublicURL string `json:"publicUrl"`
	SessionView
}

// Publish saves then flips the published flag, and primes the public
// resolution cache for the slug.
func (s *Service) Publish(ctx context.Context, table store.Table, id, password string) (PublishView, error) {
	sess, err := s.session(table, id)
	if err != nil {
		return PublishView{}, err
	}
	result, err := sess.Publish(ctx, password)
	if err != nil {
		return PublishView{}, err
	}

	if s.opts.PubCache != nil && result.Document.Slug != "" {
		_ = s.opts.PubCache.Put(ctx, result.Document.Slug, pubcache.Entry{
			DocumentID:        result.Document.ID,
			PasswordProtected: password != "",
			PublishedAt:       derefTime(result.Document.PublishedAt),
		})
	}

	return PublishView{PublicURL: result.PublicURL, SessionView: s.view(id, sess)}, nil
}

// StatusView reports the session's save state for the editor chrome.
type StatusView struct {
	Status            string `json:"status"`
	StatusLabel       string `json:"statusLabel"`
	HasUnsavedChanges bool   `json:"hasUnsavedChanges"`
	LastError         string `json:"lastError,omitempty"`
}

func (s *Service) SessionStatus(table store.Table, id string) (StatusView, error) {
	sess, err := s.session(table, id)
	if err != nil {
		return StatusView{}, err
	}
	status := sess.Status()
	view := StatusView{
		Status:            string(status),
		StatusLabel:       status.Label(),
		HasUnsavedChanges: sess.HasUnsavedChanges(),
	}
	if lastErr := sess.LastError(); lastErr != nil {
		view.LastError = lastErr.Error()
	}
	return view, nil
}

// CloseSession tears a session down. Unsaved edits block the close unless the
// caller explicitly discards them; this is the navigate-away guard.
func (s *Service) CloseSession(table store.Table, id string, discard bool) error {
	sess, err := s.session(table, id)
	if err != nil {
		return err
	}
	if !discard && sess.HasUnsavedChanges() {
		return domainError(http.StatusConflict, "UNSAVED_CHANGES", "Session has unsaved changes", map[string]any{
			"statusLabel": sess.Status().Label(),
		})
	}
	sess.Close()

	docID := sess.Document().ID
	s.mu.Lock()
	delete(s.sessions, sessionKey(table, id))
	if docID != "" {
		delete(s.sessions, sessionKey(table, docID))
	}
	s.mu.Unlock()
	return nil
}

// SetTemplateVisibility toggles whether a template is offered for cloning.
func (s *Service) SetTemplateVisibility(ctx context.Context, id string, public bool) (store.ListItem, error) {
	row, err := s.store.SetTemplateVisibility(ctx, id, public)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ListItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "Template not found", nil)
		}
		return store.ListItem{}, err
	}
	return store.ListItem{
		ID:           row.ID,
		Name:         row.Name,
		ThumbnailURL: derefStr(row.ThumbnailURL),
		IsPublic:     row.IsPublic,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// PublicView is the published rendering of a proposal, served by slug.
type PublicView struct {
	Document    document.Document `json:"document"`
	Slug        string            `json:"slug"`
	PublishedAt *time.Time        `json:"publishedAt"`
}

// ResolvePublic serves the public address. The cache answers "does this slug
// exist and is it password-protected" cheaply; the row itself always comes
// from storage so the rendered content is current.
func (s *Service) ResolvePublic(ctx context.Context, slug, password string) (PublicView, error) {
	if s.opts.PubCache != nil {
		entry, err := s.opts.PubCache.Get(ctx, slug)
		if err == nil && entry.PasswordProtected && password == "" {
			return PublicView{}, domainError(http.StatusUnauthorized, "PASSWORD_REQUIRED", "This document is password protected", nil)
		}
	}

	row, err := s.store.FindPublishedBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PublicView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Published document not found", nil)
		}
		return PublicView{}, err
	}

	if row.PublishPasswordHash != nil {
		if password == "" {
			return PublicView{}, domainError(http.StatusUnauthorized, "PASSWORD_REQUIRED", "This document is password protected", nil)
		}
		if bcrypt.CompareHashAndPassword([]byte(*row.PublishPasswordHash), []byte(password)) != nil {
			return PublicView{}, domainError(http.StatusUnauthorized, "INVALID_PASSWORD", "Incorrect password", nil)
		}
	}

	if s.opts.PubCache != nil {
		_ = s.opts.PubCache.Put(ctx, slug, pubcache.Entry{
			DocumentID:        row.ID,
			PasswordProtected: row.PublishPasswordHash != nil,
			PublishedAt:       derefTime(row.PublishedAt),
		})
	}

	doc := document.Normalize(row.Raw())
	return PublicView{Document: doc, Slug: slug, PublishedAt: row.PublishedAt}, nil
}

// ListProposals returns the proposal listing, newest first.
func (s *Service) ListProposals(ctx context.Context) ([]store.ListItem, error) {
	return s.store.ListProposals(ctx)
}

// ListTemplates returns templates; publicOnly restricts to cloneable ones.
func (s *Service) ListTemplates(ctx context.Context, publicOnly bool) ([]store.ListItem, error) {
	return s.store.ListTemplates(ctx, publicOnly)
}

// ResolveClient looks up the client directory record a proposal references.
func (s *Service) ResolveClient(ctx context.Context, clientID string) (store.Client, error) {
	client, err := s.store.ResolveClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Client{}, domainError(http.StatusNotFound, "NOT_FOUND", "Client not found", nil)
		}
		return store.Client{}, err
	}
	return client, nil
}

// Search runs a listing search across proposals and templates.
func (s *Service) Search(query string, filterType string, limit, offset int) search.Response {
	if s.opts.Search == nil {
		return search.Response{Results: []search.Result{}, Query: query}
	}
	return s.opts.Search.Search(search.Query{
		Text:       query,
		FilterType: search.ResultType(filterType),
		Limit:      limit,
		Offset:     offset,
	})
}

// UploadAsset stores one uploaded file and returns its public URL.
func (s *Service) UploadAsset(ctx context.Context, docID, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	if s.opts.Assets == nil {
		return "", domainError(http.StatusNotImplemented, "ASSETS_DISABLED", "No asset store configured", nil)
	}
	url, err := s.opts.Assets.Upload(ctx, assetOwner, docID, filename, reader, size, contentType)
	if err != nil {
		return "", domainError(http.StatusBadGateway, "UPLOAD_FAILED", "Asset upload failed", nil)
	}
	return url, nil
}

// ListAssets returns the public URLs uploaded for a document.
func (s *Service) ListAssets(ctx context.Context, docID string) ([]string, error) {
	if s.opts.Assets == nil {
		return []string{}, nil
	}
	urls, err := s.opts.Assets.List(ctx, assetOwner, docID)
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "LIST_FAILED", "Could not list assets", nil)
	}
	return urls, nil
}

// assetOwner namespaces uploads in the bucket. Single-tenant for now; becomes
// the account id if multi-tenancy lands.
const assetOwner = "studio"

// ReindexSearch pushes all stored records into the search engine at startup.
func (s *Service) ReindexSearch(ctx context.Context) {
	if s.opts.Search != nil {
		s.opts.Search.ReindexAllFromPG(ctx)
	}
}

func (s *Service) indexRecord(table store.Table, doc document.Document) {
	if s.opts.Search == nil || doc.ID == "" {
		return
	}
	switch table {
	case store.TableProposals:
		clientName := ""
		if doc.ClientID != "" {
			if client, err := s.store.ResolveClient(context.Background(), doc.ClientID); err == nil {
				clientName = client.Name
			}
		}
		s.opts.Search.IndexProposal(search.ProposalRecord{
			ID:           doc.ID,
			Name:         doc.Name,
			ClientName:   clientName,
			Slug:         doc.Slug,
			ThumbnailURL: doc.ThumbnailURL,
			IsPublished:  doc.IsPublished,
		})
	case store.TableTemplates:
		s.opts.Search.IndexTemplate(search.TemplateRecord{
			ID:           doc.ID,
			Name:         doc.Name,
			TemplateName: doc.Name,
			ThumbnailURL: doc.ThumbnailURL,
		})
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
