// Package editor implements the engine behind one open document: snapshot
// change detection, debounced autosave, explicit save, the first-save
// identity transition and the publish flow. The editing layer mutates the
// document through the session; persistence and thumbnail derivation only
// ever read it.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"atelie/api/internal/document"
	"atelie/api/internal/slug"
	"atelie/api/internal/store"
	"atelie/api/internal/thumbnail"
)

var (
	// ErrPublishRejected is the guarded no-op for template-mode sessions:
	// templates are starting points, never public documents.
	ErrPublishRejected = errors.New("publish is not available for templates")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("editing session is closed")
)

// Store is the narrow persistence surface the session needs.
type Store interface {
	Insert(ctx context.Context, table store.Table, item store.Row) (store.Row, error)
	Update(ctx context.Context, table store.Table, id string, item store.Row) (store.Row, error)
	SetPublishState(ctx context.Context, id string, published bool, publishedAt *time.Time, passwordHash *string) (store.Row, error)
}

// Config fixes the per-session knobs at open time.
type Config struct {
	// Table is chosen once per session and never changes mid-session.
	Table store.Table
	// QuietPeriod is the mutation-free interval after which autosave fires.
	// Zero disables the timer (explicit saves only).
	QuietPeriod time.Duration
	// PublicOrigin builds the canonical public address after publish.
	PublicOrigin string
	// OnPersist, if set, runs after every successful write with the
	// persisted document. Used for search indexing; must not block long.
	OnPersist func(table store.Table, doc document.Document)
}

// SaveResult reports what a save request did and the post-save document.
type SaveResult struct {
	Outcome  SaveOutcome
	Document document.Document
}

// PublishResult is the outcome of a successful publish.
type PublishResult struct {
	PublicURL string
	Document  document.Document
}

// PublishError distinguishes "content never saved" from "content saved but
// the flag flip failed" — the two writes are not atomic.
type PublishError struct {
	ContentSaved bool
	Err          error
}

func (e *PublishError) Error() string {
	if e.ContentSaved {
		return fmt.Sprintf("publish: content saved but flag flip failed: %v", e.Err)
	}
	return fmt.Sprintf("publish: save failed: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Session is the engine instance for one open document. A single active
// editor is assumed; concurrent calls are serialized by the mutex and a
// save requested while one is in flight is coalesced, never raced.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	store    Store
	deriver  *thumbnail.Deriver
	doc      document.Document
	snapshot document.Document
	status   Status
	saving   bool
	pending  bool
	timer    *time.Timer
	closed   bool
	lastErr  error
}

// NewSession opens a session around a canonical document: freshly loaded
// and normalized, blank via document.Default, or cloned from a template.
// The snapshot starts equal to the document, so an untouched session has
// nothing to save and nothing to warn about on leave.
func NewSession(st Store, deriver *thumbnail.Deriver, cfg Config, doc document.Document) *Session {
	document.Ensure(&doc)
	return &Session{
		cfg:      cfg,
		store:    st,
		deriver:  deriver,
		doc:      doc,
		snapshot: document.Clone(doc),
		status:   StatusClean,
	}
}

// Table returns the storage table this session persists to.
func (s *Session) Table() store.Table {
	return s.cfg.Table
}

// Document returns a copy of the current in-memory document.
func (s *Session) Document() document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return document.Clone(s.doc)
}

// Status returns the current save state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the error from the most recent failed save, if the
// session is in the error state.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusError {
		return nil
	}
	return s.lastErr
}

// HasUnsavedChanges is the navigate-away guard: true when the document
// differs from the last persisted snapshot.
func (s *Session) HasUnsavedChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !document.Equal(s.doc, s.snapshot)
}

// Apply runs a mutator against the live document under the session lock,
// marks the session dirty and re-arms the autosave timer. Returns a copy of
// the mutated document.
func (s *Session) Apply(mutate func(*document.Document)) document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.doc)
	document.Ensure(&s.doc)
	s.markDirtyLocked()
	return document.Clone(s.doc)
}

// SetDocument replaces the document's editable content wholesale. Fields
// the engine owns — identity, slug, publish state — are preserved from the
// session regardless of what the caller sends, so a stale client can never
// strip an identity or flip a publish flag through a plain save.
func (s *Session) SetDocument(doc document.Document) document.Document {
	return s.Apply(func(current *document.Document) {
		doc.ID = current.ID
		doc.Slug = current.Slug
		doc.IsPublished = current.IsPublished
		doc.PublishedAt = current.PublishedAt
		doc.ThumbnailURL = current.ThumbnailURL
		*current = doc
	})
}

// RemoveBlock deletes a block and prunes its geometry from every
// breakpoint. Only an actual removal dirties the session.
func (s *Session) RemoveBlock(blockID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !document.RemoveBlock(&s.doc, blockID) {
		return false
	}
	s.markDirtyLocked()
	return true
}

func (s *Session) markDirtyLocked() {
	if s.closed {
		return
	}
	if s.status != StatusSaving {
		s.status = StatusDirty
	}
	if s.cfg.QuietPeriod <= 0 {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.cfg.QuietPeriod, s.autosave)
		return
	}
	s.timer.Reset(s.cfg.QuietPeriod)
}

func (s *Session) autosave() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.Save(ctx, false); err != nil && !errors.Is(err, ErrSessionClosed) {
		log.Printf("editor: autosave: %v", err)
	}
}

// Save persists the document if it changed. force bypasses the change check
// (used by the navigate-back save). A request arriving while a save is in
// flight is coalesced: it returns SaveQueued and the in-flight call runs
// exactly one follow-up save before returning.
func (s *Session) Save(ctx context.Context, force bool) (SaveResult, error) {
	result, err, again := s.saveOnce(ctx, force)
	for again {
		result, err, again = s.saveOnce(ctx, false)
	}
	return result, err
}

func (s *Session) saveOnce(ctx context.Context, force bool) (result SaveResult, err error, again bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SaveResult{}, ErrSessionClosed, false
	}
	if s.saving {
		s.pending = true
		doc := document.Clone(s.doc)
		s.mu.Unlock()
		return SaveResult{Outcome: SaveQueued, Document: doc}, nil, false
	}
	// A never-persisted document always writes; there is no row to match.
	if !s.doc.IsNew() && !force && document.Equal(s.doc, s.snapshot) {
		if s.status == StatusDirty {
			// Edits were reverted back to the snapshot state.
			s.status = StatusClean
		}
		doc := document.Clone(s.doc)
		s.mu.Unlock()
		return SaveResult{Outcome: SaveSkipped, Document: doc}, nil, false
	}

	s.saving = true
	s.status = StatusSaving
	before := document.Clone(s.doc)
	working := document.Clone(s.doc)
	if working.Slug == "" {
		// First persistence: freeze the public identity now. Never
		// regenerated, even if the name changes later.
		working.Slug = slug.New(working.Name)
	}
	wasNew := working.IsNew()
	s.mu.Unlock()

	// Best-effort, outside the lock: a failed derivation keeps the
	// previous thumbnail and never blocks the save.
	working.ThumbnailURL = s.deriver.Derive(ctx, working, working.ThumbnailURL)

	row := rowForStorage(s.cfg.Table, working)
	var stored store.Row
	var writeErr error
	if wasNew {
		stored, writeErr = s.store.Insert(ctx, s.cfg.Table, row)
	} else {
		stored, writeErr = s.store.Update(ctx, s.cfg.Table, working.ID, row)
	}

	s.mu.Lock()
	s.saving = false
	if writeErr != nil {
		// Document and snapshot stay untouched so the next autosave tick
		// or explicit save retries the same edits.
		s.status = StatusError
		s.lastErr = writeErr
		s.pending = false
		s.mu.Unlock()
		return SaveResult{}, fmt.Errorf("save %s: %w", s.cfg.Table, writeErr), false
	}

	normalized := document.Normalize(stored.Raw())
	if document.Equal(s.doc, before) {
		// No edits raced the write: adopt the authoritative row wholesale.
		s.doc = document.Clone(normalized)
		s.status = StatusSaved
	} else {
		// Edits arrived mid-save. Adopt only the engine-owned fields and
		// stay dirty; the armed timer will persist the rest.
		s.doc.ID = normalized.ID
		s.doc.Slug = normalized.Slug
		s.doc.ThumbnailURL = normalized.ThumbnailURL
		s.doc.IsPublished = normalized.IsPublished
		s.doc.PublishedAt = normalized.PublishedAt
		s.status = StatusDirty
	}
	s.snapshot = normalized
	s.lastErr = nil
	again = s.pending
	s.pending = false
	resultDoc := document.Clone(s.doc)
	onPersist := s.cfg.OnPersist
	s.mu.Unlock()

	if onPersist != nil {
		onPersist(s.cfg.Table, normalized)
	}
	return SaveResult{Outcome: SaveWritten, Document: resultDoc}, nil, again
}

// Publish makes the document public: a forced-path save first, then the
// flag-flip write, then the canonical public address. Rejected outright for
// template sessions. The two writes are not atomic — a flag-flip failure
// after a successful save is reported as such.
func (s *Session) Publish(ctx context.Context, password string) (PublishResult, error) {
	if s.cfg.Table == store.TableTemplates {
		return PublishResult{}, ErrPublishRejected
	}

	if _, err := s.Save(ctx, false); err != nil {
		return PublishResult{}, &PublishError{ContentSaved: false, Err: err}
	}

	var passwordHash *string
	if password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return PublishResult{}, &PublishError{ContentSaved: true, Err: err}
		}
		hash := string(hashed)
		passwordHash = &hash
	}

	s.mu.Lock()
	id := s.doc.ID
	s.mu.Unlock()

	now := time.Now().UTC()
	stored, err := s.store.SetPublishState(ctx, id, true, &now, passwordHash)
	if err != nil {
		return PublishResult{}, &PublishError{ContentSaved: true, Err: err}
	}

	normalized := document.Normalize(stored.Raw())
	s.mu.Lock()
	s.doc.IsPublished = normalized.IsPublished
	s.doc.PublishedAt = normalized.PublishedAt
	s.snapshot.IsPublished = normalized.IsPublished
	s.snapshot.PublishedAt = normalized.PublishedAt
	publicURL := s.cfg.PublicOrigin + "/p/" + normalized.Slug
	resultDoc := document.Clone(s.doc)
	s.mu.Unlock()

	return PublishResult{PublicURL: publicURL, Document: resultDoc}, nil
}

// Close tears the session down: the autosave timer is cancelled and every
// later operation fails with ErrSessionClosed. Close never saves; callers
// wanting a final write use Save(ctx, true) first, gated by the
// HasUnsavedChanges guard.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func rowForStorage(table store.Table, doc document.Document) store.Row {
	row := store.Row{
		Name:         doc.Name,
		ClientID:     store.NullableString(doc.ClientID),
		Payload:      document.StoragePayload(doc),
		Layouts:      document.LayoutsJSON(doc),
		Slug:         store.NullableString(doc.Slug),
		ThumbnailURL: store.NullableString(doc.ThumbnailURL),
	}
	if table == store.TableTemplates {
		// Templates mirror the display name into their own name column.
		row.TemplateName = store.NullableString(doc.Name)
	}
	return row
}
