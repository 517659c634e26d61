package ocr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/document-context/pkg/document"
	"github.com/JaimeStill/document-context/pkg/image"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

const contentTypePNG = "image/png"

// Renderer implements capability.PageRenderer. Images pass through as a
// single page; PDFs are rendered to PNG up to a page limit.
type Renderer struct {
	maxPages int
	logger   *slog.Logger
}

// NewRenderer creates a Renderer returning at most maxPages pages.
func NewRenderer(maxPages int, logger *slog.Logger) *Renderer {
	return &Renderer{
		maxPages: max(maxPages, 1),
		logger:   logger.With("system", "page-renderer"),
	}
}

func (r *Renderer) RenderPages(ctx context.Context, doc capability.Document) ([]capability.PageImage, error) {
	if len(doc.Data) == 0 {
		return nil, capability.Invalid(capability.VLM, ErrEmptyDocument)
	}
	if doc.ContentType != contentTypePDF {
		return []capability.PageImage{{Page: 1, MimeType: doc.ContentType, Data: doc.Data}}, nil
	}

	var out []capability.PageImage
	err := withPDF(doc.Data, capability.VLM, func(pdfDoc *document.PDFDocument, renderer image.Renderer) error {
		n := min(pdfDoc.PageCount(), r.maxPages)
		for i := 1; i <= n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			page, err := pdfDoc.ExtractPage(i)
			if err != nil {
				return capability.Invalid(capability.VLM, fmt.Errorf("extract page %d: %w", i, err))
			}
			img, err := page.ToImage(renderer, nil)
			if err != nil {
				return capability.Fatal(capability.VLM, fmt.Errorf("render page %d: %w", i, err))
			}
			out = append(out, capability.PageImage{Page: i, MimeType: contentTypePNG, Data: img})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "pages rendered", "document_id", doc.ID, "pages", len(out))
	return out, nil
}
