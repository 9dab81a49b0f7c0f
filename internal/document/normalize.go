package document

import (
	"encoding/json"
	"time"
)

// Raw is a storage record as read from either table, before normalization.
// Two historical shapes exist for the content: the current structured
// Payload column holding {sections, blocksBySection, theme}, and the older
// free-form State column holding the same three keys (the very oldest rows
// also nested layouts inside State). The Normalizer is the only place that
// knows about both; the write side always emits the current shape.
type Raw struct {
	ID           string
	Name         string
	ClientID     string
	Payload      json.RawMessage
	State        json.RawMessage
	Layouts      json.RawMessage
	Slug         string
	ThumbnailURL string
	IsPublished  bool
	PublishedAt  *time.Time
}

// storedContent is the JSON body shared by both historical shapes.
type storedContent struct {
	Sections        []Section          `json:"sections"`
	BlocksBySection map[string][]Block `json:"blocksBySection"`
	Theme           *Theme             `json:"theme"`
	// Only ever present in legacy State bodies.
	Layouts Layouts `json:"layouts"`
}

// Normalize converts a raw storage record into the canonical Document.
// The result always has a non-empty section list and all maps defined; a
// record with no content at all normalizes to the blank default Document
// carrying the row's metadata.
func Normalize(raw Raw) Document {
	doc := Default()

	doc.ID = raw.ID
	doc.Name = raw.Name
	doc.ClientID = raw.ClientID
	doc.Slug = raw.Slug
	doc.ThumbnailURL = raw.ThumbnailURL
	doc.IsPublished = raw.IsPublished
	doc.PublishedAt = raw.PublishedAt

	if len(raw.Payload) > 0 {
		var body storedContent
		if err := json.Unmarshal(raw.Payload, &body); err == nil {
			applyContent(&doc, body, false)
		}
	} else if len(raw.State) > 0 {
		var body storedContent
		if err := json.Unmarshal(raw.State, &body); err == nil {
			applyContent(&doc, body, true)
		}
	}

	// The dedicated layouts column wins over anything nested in State.
	if len(raw.Layouts) > 0 {
		var layouts Layouts
		if err := json.Unmarshal(raw.Layouts, &layouts); err == nil && layouts != nil {
			doc.Layouts = layouts
		}
	}

	Ensure(&doc)
	return doc
}

func applyContent(doc *Document, body storedContent, adoptLayouts bool) {
	if len(body.Sections) > 0 {
		doc.Sections = body.Sections
	}
	if body.BlocksBySection != nil {
		doc.BlocksBySection = body.BlocksBySection
	}
	if body.Theme != nil {
		doc.Theme = *body.Theme
	}
	if adoptLayouts && body.Layouts != nil {
		doc.Layouts = body.Layouts
	}
}

// StoragePayload renders the document's content in the current storage
// shape, the inverse of Normalize. Layouts are not part of the payload;
// they travel in their own column.
func StoragePayload(doc Document) json.RawMessage {
	body := storedContent{
		Sections:        doc.Sections,
		BlocksBySection: doc.BlocksBySection,
		Theme:           &doc.Theme,
	}
	payload, _ := json.Marshal(struct {
		Sections        []Section          `json:"sections"`
		BlocksBySection map[string][]Block `json:"blocksBySection"`
		Theme           *Theme             `json:"theme"`
	}{body.Sections, body.BlocksBySection, body.Theme})
	return payload
}

// LayoutsJSON renders the layouts map for its dedicated storage column.
func LayoutsJSON(doc Document) json.RawMessage {
	layouts, _ := json.Marshal(doc.Layouts)
	return layouts
}
