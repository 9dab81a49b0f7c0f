// Package thumbnail derives a representative preview image for a document
// from its own first section. Derivation is best-effort: it runs only
// during a save, and a failed derivation never blocks persistence — the
// previous thumbnail simply stays in place.
package thumbnail

import (
	"context"
	"log"

	"atelie/api/internal/document"
)

// Rasterizer renders the first page of a PDF into a compact encoded image,
// returned as a data URL. An empty result with a nil error means the
// rasterizer declined (e.g. unsupported source).
type Rasterizer interface {
	RenderFirstPageThumbnail(ctx context.Context, pdfURL string) (string, error)
}

// RasterizerFunc adapts a function to the Rasterizer interface.
type RasterizerFunc func(ctx context.Context, pdfURL string) (string, error)

func (f RasterizerFunc) RenderFirstPageThumbnail(ctx context.Context, pdfURL string) (string, error) {
	return f(ctx, pdfURL)
}

type Deriver struct {
	rasterizer Rasterizer
}

// NewDeriver creates a deriver. rasterizer may be nil, in which case the
// PDF fallback step is skipped entirely.
func NewDeriver(rasterizer Rasterizer) *Deriver {
	return &Deriver{rasterizer: rasterizer}
}

// Derive computes the document's thumbnail. Priority order:
//  1. the first section's background image URL, used as-is;
//  2. the rendered first page of the first PDF block in the first section;
//  3. the previous thumbnail, untouched.
//
// Rasterization errors are swallowed and resolve to the previous value.
func (d *Deriver) Derive(ctx context.Context, doc document.Document, previous string) string {
	if len(doc.Sections) == 0 {
		return previous
	}

	if background := doc.Sections[0].BackgroundImage(); background != "" {
		return background
	}

	if d == nil || d.rasterizer == nil {
		return previous
	}

	for _, block := range doc.FirstSectionBlocks() {
		if block.Type != document.BlockPDF {
			continue
		}
		source := block.ContentString("src")
		if source == "" {
			continue
		}
		rendered, err := d.rasterizer.RenderFirstPageThumbnail(ctx, source)
		if err != nil {
			log.Printf("thumbnail: rasterize %s: %v", source, err)
			return previous
		}
		if rendered == "" {
			return previous
		}
		return rendered
	}

	return previous
}
