package document

import (
	"encoding/json"
	"testing"
)

func contentJSON(t *testing.T, doc Document, nestLayouts bool) json.RawMessage {
	t.Helper()
	body := map[string]any{
		"sections":        doc.Sections,
		"blocksBySection": doc.BlocksBySection,
		"theme":           doc.Theme,
	}
	if nestLayouts {
		body["layouts"] = doc.Layouts
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	return encoded
}

func sampleDocument() Document {
	doc := Default()
	doc.ID = "prop_1"
	doc.Name = "Ensaio Ana"
	doc.Slug = "ensaio-ana-1a2b3c4d"
	block := NewBlock(BlockCover)
	block.Content["title"] = "Ensaio Ana"
	doc.BlocksBySection[doc.Sections[0].ID] = []Block{block}
	doc.Layouts[BreakpointDesktop][block.ID] = Geometry{X: 40, Y: 24, W: 600, H: 320}
	doc.Layouts[BreakpointMobile][block.ID] = Geometry{X: 0, Y: 0, W: 320, H: 200}
	return doc
}

func rawFor(t *testing.T, doc Document) Raw {
	t.Helper()
	return Raw{
		ID:           doc.ID,
		Name:         doc.Name,
		ClientID:     doc.ClientID,
		Payload:      StoragePayload(doc),
		Layouts:      LayoutsJSON(doc),
		Slug:         doc.Slug,
		ThumbnailURL: doc.ThumbnailURL,
		IsPublished:  doc.IsPublished,
		PublishedAt:  doc.PublishedAt,
	}
}

func TestNormalizeStructuredPayload(t *testing.T) {
	original := sampleDocument()
	normalized := Normalize(rawFor(t, original))

	if !Equal(original, normalized) {
		t.Fatalf("normalized document differs from original\noriginal: %+v\nnormalized: %+v", original, normalized)
	}
}

func TestNormalizeLegacyState(t *testing.T) {
	original := sampleDocument()
	raw := Raw{
		ID:      original.ID,
		Name:    original.Name,
		State:   contentJSON(t, original, false),
		Layouts: LayoutsJSON(original),
		Slug:    original.Slug,
	}

	normalized := Normalize(raw)
	if !Equal(original, normalized) {
		t.Fatalf("legacy state did not normalize to the original document")
	}
}

func TestNormalizeLegacyStateWithNestedLayouts(t *testing.T) {
	original := sampleDocument()
	raw := Raw{
		ID:    original.ID,
		Name:  original.Name,
		State: contentJSON(t, original, true),
		Slug:  original.Slug,
	}

	normalized := Normalize(raw)
	if !Equal(original, normalized) {
		t.Fatalf("nested layouts were not adopted from the legacy state field")
	}

	blockID := original.FirstSectionBlocks()[0].ID
	if _, ok := normalized.Layouts[BreakpointDesktop][blockID]; !ok {
		t.Fatalf("desktop geometry for %s missing after normalization", blockID)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	original := sampleDocument()

	once := Normalize(rawFor(t, original))
	twice := Normalize(rawFor(t, once))

	if !Equal(once, twice) {
		t.Fatalf("normalization is not idempotent")
	}
}

func TestNormalizeDedicatedLayoutsColumnWinsOverState(t *testing.T) {
	original := sampleDocument()
	blockID := original.FirstSectionBlocks()[0].ID

	// Nest stale geometry inside the legacy state, newer geometry in the
	// dedicated column.
	stale := Clone(original)
	stale.Layouts[BreakpointDesktop][blockID] = Geometry{X: 1, Y: 1, W: 1, H: 1}

	raw := Raw{
		ID:      original.ID,
		Name:    original.Name,
		State:   contentJSON(t, stale, true),
		Layouts: LayoutsJSON(original),
	}

	normalized := Normalize(raw)
	got := normalized.Layouts[BreakpointDesktop][blockID]
	want := original.Layouts[BreakpointDesktop][blockID]
	if got != want {
		t.Fatalf("expected dedicated layouts column to win: got %+v want %+v", got, want)
	}
}

func TestNormalizeEmptyRecordYieldsCanonicalBlank(t *testing.T) {
	normalized := Normalize(Raw{ID: "prop_2", Name: "Sem conteudo"})

	if len(normalized.Sections) != 1 {
		t.Fatalf("expected exactly one default section, got %d", len(normalized.Sections))
	}
	if normalized.BlocksBySection == nil {
		t.Fatal("blocksBySection must never be nil")
	}
	for _, breakpoint := range Breakpoints {
		if normalized.Layouts[breakpoint] == nil {
			t.Fatalf("layouts for %s must never be nil", breakpoint)
		}
	}
	if normalized.Theme == (Theme{}) {
		t.Fatal("theme must be defaulted, not zero")
	}
}

func TestStoragePayloadEmitsCurrentShapeOnly(t *testing.T) {
	original := sampleDocument()
	payload := StoragePayload(original)

	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	for _, key := range []string{"sections", "blocksBySection", "theme"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("payload missing %q", key)
		}
	}
	if _, ok := body["layouts"]; ok {
		t.Fatal("payload must not nest layouts; they have a dedicated column")
	}
}
