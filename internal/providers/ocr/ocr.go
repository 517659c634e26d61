// Package ocr recognises text in construction documents. Images go straight
// to Tesseract; PDFs use their embedded text layer when one exists and are
// otherwise rendered page by page and recognised.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/JaimeStill/document-context/pkg/config"
	"github.com/JaimeStill/document-context/pkg/document"
	"github.com/JaimeStill/document-context/pkg/image"
	"github.com/ledongthuc/pdf"
	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

const (
	contentTypePDF = "application/pdf"
	sourcePDF      = "source.pdf"

	// textLayerConfidence is reported for text read from a PDF text layer.
	textLayerConfidence = 0.98
)

var (
	ErrEmptyDocument = errors.New("document has no content")
	ErrNoText        = errors.New("no text recognised")
)

// Extractor implements capability.TextExtractor.
type Extractor struct {
	languages []string
	logger    *slog.Logger
}

// New creates an Extractor that recognises the given Tesseract languages.
func New(languages []string, logger *slog.Logger) *Extractor {
	if len(languages) == 0 {
		languages = []string{"chi_sim", "eng"}
	}
	return &Extractor{
		languages: languages,
		logger:    logger.With("system", "ocr"),
	}
}

func (x *Extractor) ExtractText(ctx context.Context, doc capability.Document) (capability.Text, error) {
	if len(doc.Data) == 0 {
		return capability.Text{}, capability.Invalid(capability.OCR, ErrEmptyDocument)
	}

	var (
		regions []capability.Region
		err     error
	)

	if doc.ContentType == contentTypePDF {
		regions, err = x.extractPDF(ctx, doc.Data)
	} else {
		regions, err = x.recognise(doc.Data, 1)
	}
	if err != nil {
		return capability.Text{}, err
	}

	text := Assemble(regions)
	if text.Content == "" {
		return capability.Text{}, capability.Invalid(capability.OCR, ErrNoText)
	}

	x.logger.InfoContext(ctx, "text extracted",
		"document_id", doc.ID,
		"regions", len(text.Regions),
		"confidence", text.Confidence,
	)
	return text, nil
}

// Assemble joins regions in page order and averages their confidence.
func Assemble(regions []capability.Region) capability.Text {
	var (
		b     strings.Builder
		total float64
		kept  []capability.Region
	)
	for _, r := range regions {
		t := strings.TrimSpace(r.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(t)
		total += r.Confidence
		r.Text = t
		kept = append(kept, r)
	}

	out := capability.Text{Content: b.String(), Regions: kept}
	if len(kept) > 0 {
		out.Confidence = total / float64(len(kept))
	}
	return out
}

func (x *Extractor) extractPDF(ctx context.Context, data []byte) ([]capability.Region, error) {
	regions, err := textLayer(data)
	if err != nil {
		return nil, capability.Invalid(capability.OCR, fmt.Errorf("read pdf: %w", err))
	}
	if len(Assemble(regions).Regions) > 0 {
		return regions, nil
	}

	x.logger.DebugContext(ctx, "pdf has no text layer, rendering pages")
	return x.renderAndRecognise(ctx, data)
}

func textLayer(data []byte) ([]capability.Region, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var regions []capability.Region
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		regions = append(regions, capability.Region{
			Page:       i,
			Text:       text,
			Confidence: textLayerConfidence,
		})
	}
	return regions, nil
}

func (x *Extractor) renderAndRecognise(ctx context.Context, data []byte) ([]capability.Region, error) {
	var out []capability.Region

	err := withPDF(data, capability.OCR, func(pdfDoc *document.PDFDocument, renderer image.Renderer) error {
		pages, err := pdfDoc.ExtractAllPages()
		if err != nil {
			return capability.Invalid(capability.OCR, fmt.Errorf("extract pages: %w", err))
		}

		results := make([][]capability.Region, len(pages))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workerCount(len(pages)))

		for i, page := range pages {
			pageNum := i + 1
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				img, err := page.ToImage(renderer, nil)
				if err != nil {
					return capability.Fatal(capability.OCR, fmt.Errorf("render page %d: %w", pageNum, err))
				}

				regions, err := x.recognise(img, pageNum)
				if err != nil {
					return err
				}
				results[i] = regions
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		for _, r := range results {
			out = append(out, r...)
		}
		return nil
	})
	return out, err
}

// withPDF writes data to a temporary file, opens it with document-context,
// and calls fn with the document and a page renderer. Errors are reported
// against capability c.
func withPDF(data []byte, c capability.Name, fn func(*document.PDFDocument, image.Renderer) error) error {
	tempDir, err := os.MkdirTemp("", "sitegraph-pdf-*")
	if err != nil {
		return capability.Transient(c, fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(tempDir)

	pdfPath := filepath.Join(tempDir, sourcePDF)
	if err := os.WriteFile(pdfPath, data, 0600); err != nil {
		return capability.Transient(c, fmt.Errorf("write temp pdf: %w", err))
	}

	pdfDoc, err := document.OpenPDF(pdfPath)
	if err != nil {
		return capability.Invalid(c, fmt.Errorf("open pdf: %w", err))
	}
	defer pdfDoc.Close()

	renderer, err := image.NewImageMagickRenderer(config.DefaultImageConfig())
	if err != nil {
		return capability.Fatal(c, fmt.Errorf("create renderer: %w", err))
	}

	return fn(pdfDoc, renderer)
}

// recognise runs Tesseract over one image and returns its text lines.
func (x *Extractor) recognise(img []byte, page int) ([]capability.Region, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(x.languages...); err != nil {
		return nil, capability.Fatal(capability.OCR, fmt.Errorf("set language: %w", err))
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return nil, capability.Invalid(capability.OCR, fmt.Errorf("load image: %w", err))
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, capability.Transient(capability.OCR, fmt.Errorf("recognise page %d: %w", page, err))
	}

	regions := make([]capability.Region, 0, len(boxes))
	for _, box := range boxes {
		regions = append(regions, capability.Region{
			Page:       page,
			Text:       box.Word,
			Confidence: box.Confidence / 100,
		})
	}
	return regions, nil
}

func workerCount(pages int) int {
	return max(min(runtime.NumCPU(), pages), 1)
}
