package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"atelie/api/internal/document"
	"atelie/api/internal/store"
	"atelie/api/internal/thumbnail"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]store.Row
	nextID  int
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]store.Row)}
}

func rowKey(table store.Table, id string) string {
	return string(table) + "/" + id
}

func (f *fakeStore) put(table store.Table, row store.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[rowKey(table, row.ID)] = row
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeStore) FetchByID(ctx context.Context, table store.Table, id string) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowKey(table, id)]
	if !ok {
		return store.Row{}, sql.ErrNoRows
	}
	return row, nil
}

func (f *fakeStore) Insert(ctx context.Context, table store.Table, item store.Row) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	item.ID = "row_" + strconv.Itoa(f.nextID)
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = time.Now().UTC()
	f.rows[rowKey(table, item.ID)] = item
	return item, nil
}

func (f *fakeStore) Update(ctx context.Context, table store.Table, id string, item store.Row) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rows[rowKey(table, id)]
	if !ok {
		return store.Row{}, sql.ErrNoRows
	}
	item.ID = id
	item.IsPublished = existing.IsPublished
	item.PublishedAt = existing.PublishedAt
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	f.rows[rowKey(table, id)] = item
	return item, nil
}

func (f *fakeStore) SetTemplateVisibility(ctx context.Context, id string, public bool) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowKey(store.TableTemplates, id)]
	if !ok {
		return store.Row{}, sql.ErrNoRows
	}
	row.IsPublic = public
	f.rows[rowKey(store.TableTemplates, id)] = row
	return row, nil
}

func (f *fakeStore) SetPublishState(ctx context.Context, id string, published bool, publishedAt *time.Time, passwordHash *string) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowKey(store.TableProposals, id)]
	if !ok {
		return store.Row{}, sql.ErrNoRows
	}
	row.IsPublished = published
	row.PublishedAt = publishedAt
	row.PublishPasswordHash = passwordHash
	f.rows[rowKey(store.TableProposals, id)] = row
	return row, nil
}

func (f *fakeStore) FindPublishedBySlug(ctx context.Context, slug string) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, row := range f.rows {
		if !strings.HasPrefix(key, string(store.TableProposals)+"/") {
			continue
		}
		if row.IsPublished && row.Slug != nil && *row.Slug == slug {
			return row, nil
		}
	}
	return store.Row{}, sql.ErrNoRows
}

func (f *fakeStore) ListProposals(ctx context.Context) ([]store.ListItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.ListItem, 0)
	for key, row := range f.rows {
		if strings.HasPrefix(key, string(store.TableProposals)+"/") {
			items = append(items, store.ListItem{ID: row.ID, Name: row.Name})
		}
	}
	return items, nil
}

func (f *fakeStore) ListTemplates(ctx context.Context, publicOnly bool) ([]store.ListItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.ListItem, 0)
	for key, row := range f.rows {
		if !strings.HasPrefix(key, string(store.TableTemplates)+"/") {
			continue
		}
		if publicOnly && !row.IsPublic {
			continue
		}
		items = append(items, store.ListItem{ID: row.ID, Name: row.Name, IsPublic: row.IsPublic})
	}
	return items, nil
}

func (f *fakeStore) ResolveClient(ctx context.Context, clientID string) (store.Client, error) {
	if clientID == "cli_known" {
		return store.Client{ID: clientID, Name: "Ana Silva"}, nil
	}
	return store.Client{}, sql.ErrNoRows
}

func newTestService(fake *fakeStore) *Service {
	return NewService(fake, thumbnail.NewDeriver(nil), Options{
		PublicOrigin: "https://atelie.example",
	})
}

func templateRow(id, name string, public bool) store.Row {
	doc := document.Default()
	doc.Name = name
	doc.ID = id
	payload := document.StoragePayload(doc)
	layouts := document.LayoutsJSON(doc)
	return store.Row{
		ID:           id,
		Name:         name,
		TemplateName: store.NullableString(name),
		IsPublic:     public,
		Payload:      payload,
		Layouts:      layouts,
	}
}

func TestCreateThenFirstSaveAliasesSession(t *testing.T) {
	fake := newFakeStore()
	svc := newTestService(fake)

	created := svc.Create(store.TableProposals, "Ensaio Ana", "")
	if !strings.HasPrefix(created.SessionID, "draft_") {
		t.Fatalf("expected draft handle, got %q", created.SessionID)
	}
	if created.Document.ID != "" {
		t.Fatal("unsaved document must not carry an id")
	}

	saved, err := svc.Save(context.Background(), store.TableProposals, created.SessionID, false)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if saved.Document.ID == "" {
		t.Fatal("first save must assign an id")
	}

	// The session is now addressable by its storage id too.
	opened, err := svc.Open(context.Background(), store.TableProposals, saved.Document.ID)
	if err != nil {
		t.Fatalf("open by id failed: %v", err)
	}
	if opened.Document.Slug != saved.Document.Slug {
		t.Fatalf("expected same session, got slug %q vs %q", opened.Document.Slug, saved.Document.Slug)
	}
}

func TestOpenMissingDocument(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.Open(context.Background(), store.TableProposals, "nope")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Status != 404 || domainErr.Code != "LOAD_ERROR" {
		t.Fatalf("unexpected error %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestOpenReturnsExistingSessionWithEdits(t *testing.T) {
	fake := newFakeStore()
	fake.put(store.TableProposals, templateRow("p1", "Loaded", false))
	svc := newTestService(fake)

	first, err := svc.Open(context.Background(), store.TableProposals, "p1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	edited := first.Document
	edited.Name = "Edited Name"
	if _, err := svc.ReplaceDocument(store.TableProposals, "p1", edited); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	second, err := svc.Open(context.Background(), store.TableProposals, "p1")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if second.Document.Name != "Edited Name" {
		t.Fatal("reopening must return the live session, not reload from storage")
	}
	if !second.HasUnsavedChanges {
		t.Fatal("edits must survive a reopen")
	}
}

func TestCreateFromTemplateRequiresPublic(t *testing.T) {
	fake := newFakeStore()
	fake.put(store.TableTemplates, templateRow("t1", "Private One", false))
	fake.put(store.TableTemplates, templateRow("t2", "Public One", true))
	svc := newTestService(fake)

	_, err := svc.CreateFromTemplate(context.Background(), "t1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("private template must be invisible, got %v", err)
	}

	view, err := svc.CreateFromTemplate(context.Background(), "t2")
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	if view.Table != string(store.TableProposals) {
		t.Fatalf("clone must open a proposal session, got %s", view.Table)
	}
	if view.Document.ID != "" {
		t.Fatal("clone must start unsaved")
	}
	if view.Document.Name != "Public One" {
		t.Fatalf("clone must carry the template name, got %q", view.Document.Name)
	}
}

func TestCloseSessionGuardsUnsavedChanges(t *testing.T) {
	fake := newFakeStore()
	fake.put(store.TableProposals, templateRow("p1", "Guarded", false))
	svc := newTestService(fake)

	view, err := svc.Open(context.Background(), store.TableProposals, "p1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	edited := view.Document
	edited.Name = "Changed"
	if _, err := svc.ReplaceDocument(store.TableProposals, "p1", edited); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	err = svc.CloseSession(store.TableProposals, "p1", false)
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "UNSAVED_CHANGES" {
		t.Fatalf("expected UNSAVED_CHANGES, got %v", err)
	}

	if err := svc.CloseSession(store.TableProposals, "p1", true); err != nil {
		t.Fatalf("discard close failed: %v", err)
	}
	if _, err := svc.SessionDocument(store.TableProposals, "p1"); err == nil {
		t.Fatal("closed session must be gone from the registry")
	}
}

func TestRemoveBlockUnknownID(t *testing.T) {
	fake := newFakeStore()
	fake.put(store.TableProposals, templateRow("p1", "Blocks", false))
	svc := newTestService(fake)

	if _, err := svc.Open(context.Background(), store.TableProposals, "p1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, err := svc.RemoveBlock(store.TableProposals, "p1", "blk_missing")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 for unknown block, got %v", err)
	}
}

func TestResolvePublicPasswordFlow(t *testing.T) {
	fake := newFakeStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("segredo"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := time.Now().UTC()
	row := templateRow("p1", "Published", false)
	row.TemplateName = nil
	row.Slug = store.NullableString("ensaio-ana-abcd1234")
	row.IsPublished = true
	row.PublishedAt = &now
	hashStr := string(hash)
	row.PublishPasswordHash = &hashStr
	fake.put(store.TableProposals, row)
	svc := newTestService(fake)

	_, err = svc.ResolvePublic(context.Background(), "ensaio-ana-abcd1234", "")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "PASSWORD_REQUIRED" {
		t.Fatalf("expected PASSWORD_REQUIRED, got %v", err)
	}

	_, err = svc.ResolvePublic(context.Background(), "ensaio-ana-abcd1234", "errado")
	if !asDomainError(err, &domainErr) || domainErr.Code != "INVALID_PASSWORD" {
		t.Fatalf("expected INVALID_PASSWORD, got %v", err)
	}

	view, err := svc.ResolvePublic(context.Background(), "ensaio-ana-abcd1234", "segredo")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if view.Document.Name != "Published" {
		t.Fatalf("unexpected document %q", view.Document.Name)
	}

	_, err = svc.ResolvePublic(context.Background(), "missing-slug", "")
	if !asDomainError(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("unknown slug must 404, got %v", err)
	}
}

func TestSetTemplateVisibility(t *testing.T) {
	fake := newFakeStore()
	fake.put(store.TableTemplates, templateRow("t1", "Toggle", false))
	svc := newTestService(fake)

	item, err := svc.SetTemplateVisibility(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("set visibility failed: %v", err)
	}
	if !item.IsPublic {
		t.Fatal("template should now be public")
	}

	items, err := svc.ListTemplates(context.Background(), true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "t1" {
		t.Fatalf("public listing should contain t1, got %+v", items)
	}
}

func asDomainError(err error, target **DomainError) bool {
	if err == nil {
		return false
	}
	domainErr, ok := err.(*DomainError)
	if !ok {
		return false
	}
	*target = domainErr
	return true
}

func TestSessionViewSerializesDocument(t *testing.T) {
	fake := newFakeStore()
	svc := newTestService(fake)

	view := svc.Create(store.TableProposals, "Serialize Me", "")
	raw, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["table"] != "proposals" {
		t.Fatalf("unexpected table %v", decoded["table"])
	}
	docField, ok := decoded["document"].(map[string]any)
	if !ok {
		t.Fatal("document field missing")
	}
	if docField["name"] != "Serialize Me" {
		t.Fatalf("unexpected name %v", docField["name"])
	}
}
