// Package document holds the canonical in-memory model of a proposal or
// template: ordered sections, their content blocks, per-breakpoint layout
// geometry and the shared theme. Storage rows are turned into this model by
// Normalize and back by StoragePayload; everything else in the engine works
// on this shape only.
package document

import (
	"time"

	"atelie/api/internal/util"
)

// Breakpoint is one of the three device-width editing contexts. Layout
// geometry is independent per breakpoint.
type Breakpoint string

const (
	BreakpointDesktop Breakpoint = "desktop"
	BreakpointTablet  Breakpoint = "tablet"
	BreakpointMobile  Breakpoint = "mobile"
)

// Breakpoints lists every supported breakpoint in a stable order.
var Breakpoints = []Breakpoint{BreakpointDesktop, BreakpointTablet, BreakpointMobile}

// Geometry is the position and size of one block on one breakpoint.
type Geometry struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Layouts maps breakpoint -> block id -> geometry. A block with no entry for
// a breakpoint falls back to the renderer's default placement.
type Layouts map[Breakpoint]map[string]Geometry

// Theme is the shared style token set applied across all sections.
type Theme struct {
	Background  string `json:"background"`
	Surface     string `json:"surface"`
	Accent      string `json:"accent"`
	Text        string `json:"text"`
	HeadingFont string `json:"headingFont"`
	BodyFont    string `json:"bodyFont"`
}

type BlockType string

const (
	BlockCover           BlockType = "cover"
	BlockAbout           BlockType = "about"
	BlockPackages        BlockType = "packages"
	BlockTestimonials    BlockType = "testimonials"
	BlockFAQ             BlockType = "faq"
	BlockDifferentiators BlockType = "differentiators"
	BlockFinalCTA        BlockType = "finalCta"
	BlockSocials         BlockType = "socials"
	BlockStudio          BlockType = "studio"
	BlockHowItWorks      BlockType = "howItWorks"
	BlockImage           BlockType = "image"
	BlockPDF             BlockType = "pdf"
	BlockText            BlockType = "text"
)

// Block is a single piece of placeable content. Geometry lives in Layouts,
// not here, so content edits never rewrite position data and vice versa.
type Block struct {
	ID      string         `json:"id"`
	Type    BlockType      `json:"type"`
	Content map[string]any `json:"content,omitempty"`
	Style   map[string]any `json:"style,omitempty"`
}

// ContentString reads a string-valued content key, tolerating missing keys
// and non-string values.
func (b Block) ContentString(key string) string {
	if b.Content == nil {
		return ""
	}
	value, _ := b.Content[key].(string)
	return value
}

// Section is an ordered page-like region of a Document. Order is its array
// position in Document.Sections.
type Section struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	PageHeight float64        `json:"pageHeight"`
	Style      map[string]any `json:"style,omitempty"`
}

// BackgroundImage returns the section's background image URL, if any.
func (s Section) BackgroundImage() string {
	if s.Style == nil {
		return ""
	}
	value, _ := s.Style["backgroundImage"].(string)
	return value
}

// Document is a proposal or a template. The two share this shape; templates
// live in a different storage table and never carry publish state.
type Document struct {
	// ID is empty until the first successful save.
	ID              string             `json:"id,omitempty"`
	Name            string             `json:"name"`
	ClientID        string             `json:"clientId,omitempty"`
	Sections        []Section          `json:"sections"`
	BlocksBySection map[string][]Block `json:"blocksBySection"`
	Layouts         Layouts            `json:"layouts"`
	Theme           Theme              `json:"theme"`
	// Slug is assigned once at first save and never regenerated.
	Slug         string     `json:"slug,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	IsPublished  bool       `json:"isPublished"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
}

// IsNew reports whether the document has never been persisted.
func (d *Document) IsNew() bool {
	return d.ID == ""
}

// NewSection returns an empty section with a fresh identity.
func NewSection(name string) Section {
	return Section{
		ID:         util.NewID("sec"),
		Name:       name,
		PageHeight: defaultPageHeight,
		Style:      map[string]any{},
	}
}

// NewBlock returns an empty block of the given type with a fresh identity.
func NewBlock(blockType BlockType) Block {
	return Block{
		ID:      util.NewID("blk"),
		Type:    blockType,
		Content: map[string]any{},
		Style:   map[string]any{},
	}
}

const defaultPageHeight = 1080

// DefaultTheme is the theme applied to brand-new documents.
func DefaultTheme() Theme {
	return Theme{
		Background:  "#f7f4ef",
		Surface:     "#ffffff",
		Accent:      "#b98a5e",
		Text:        "#1c1c1c",
		HeadingFont: "Playfair Display",
		BodyFont:    "Inter",
	}
}

// Default returns the canonical blank Document: exactly one section, empty
// block and layout maps for every breakpoint, default theme. Every document
// the engine hands out passes through this shape first.
func Default() Document {
	section := NewSection("Section 1")
	return Document{
		Sections:        []Section{section},
		BlocksBySection: map[string][]Block{},
		Layouts:         emptyLayouts(),
		Theme:           DefaultTheme(),
	}
}

func emptyLayouts() Layouts {
	layouts := make(Layouts, len(Breakpoints))
	for _, breakpoint := range Breakpoints {
		layouts[breakpoint] = map[string]Geometry{}
	}
	return layouts
}

// Ensure repairs a document in place so it satisfies the model invariants:
// non-empty sections, all maps defined for every breakpoint, theme set.
// Called on every document entering the engine from outside.
func Ensure(doc *Document) {
	if len(doc.Sections) == 0 {
		doc.Sections = []Section{NewSection("Section 1")}
	}
	if doc.BlocksBySection == nil {
		doc.BlocksBySection = map[string][]Block{}
	}
	if doc.Layouts == nil {
		doc.Layouts = emptyLayouts()
	}
	for _, breakpoint := range Breakpoints {
		if doc.Layouts[breakpoint] == nil {
			doc.Layouts[breakpoint] = map[string]Geometry{}
		}
	}
	if doc.Theme == (Theme{}) {
		doc.Theme = DefaultTheme()
	}
}

// RemoveBlock deletes a block from whichever section holds it and prunes its
// geometry from every breakpoint, so deleted blocks never leave orphaned
// layout entries behind. Returns false if no block with that id exists.
func RemoveBlock(doc *Document, blockID string) bool {
	removed := false
	for sectionID, blocks := range doc.BlocksBySection {
		for i, block := range blocks {
			if block.ID != blockID {
				continue
			}
			doc.BlocksBySection[sectionID] = append(blocks[:i:i], blocks[i+1:]...)
			removed = true
			break
		}
		if removed {
			break
		}
	}
	if !removed {
		return false
	}
	for _, breakpoint := range Breakpoints {
		delete(doc.Layouts[breakpoint], blockID)
	}
	return true
}

// FirstSectionBlocks returns the blocks of the first section in order.
func (d *Document) FirstSectionBlocks() []Block {
	if len(d.Sections) == 0 {
		return nil
	}
	return d.BlocksBySection[d.Sections[0].ID]
}
