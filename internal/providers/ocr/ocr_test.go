package ocr_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/providers/ocr"
)

func TestAssemble(t *testing.T) {
	text := ocr.Assemble([]capability.Region{
		{Page: 1, Text: " 2024年3月15日 ", Confidence: 0.9},
		{Page: 1, Text: "   ", Confidence: 0.1},
		{Page: 2, Text: "B区1号楼 80方混凝土", Confidence: 0.7},
	})

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"content", text.Content, "2024年3月15日\nB区1号楼 80方混凝土"},
		{"regions", len(text.Regions), 2},
		{"trimmed", text.Regions[0].Text, "2024年3月15日"},
		{"confidence", math.Round(text.Confidence*100) / 100, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestAssembleEmpty(t *testing.T) {
	text := ocr.Assemble(nil)
	if text.Content != "" || text.Confidence != 0 {
		t.Errorf("got %+v, want zero text", text)
	}
}

func TestExtractTextEmptyDocument(t *testing.T) {
	x := ocr.New(nil, slog.New(slog.DiscardHandler))

	_, err := x.ExtractText(context.Background(), capability.Document{ContentType: "image/png"})
	if !errors.Is(err, ocr.ErrEmptyDocument) {
		t.Fatalf("got %v, want %v", err, ocr.ErrEmptyDocument)
	}
	if got := capability.KindOf(err); got != capability.KindValidation {
		t.Errorf("got %s, want %s", got, capability.KindValidation)
	}
}

func TestRenderPagesPassesImagesThrough(t *testing.T) {
	r := ocr.NewRenderer(2, slog.New(slog.DiscardHandler))
	data := []byte{0xff, 0xd8, 0xff}

	pages, err := r.RenderPages(context.Background(), capability.Document{ContentType: "image/jpeg", Data: data})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"page", pages[0].Page, 1},
		{"mime", pages[0].MimeType, "image/jpeg"},
		{"data", string(pages[0].Data), string(data)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestRenderPagesEmptyDocument(t *testing.T) {
	r := ocr.NewRenderer(2, slog.New(slog.DiscardHandler))

	_, err := r.RenderPages(context.Background(), capability.Document{ContentType: "application/pdf"})
	if !errors.Is(err, ocr.ErrEmptyDocument) {
		t.Fatalf("got %v, want %v", err, ocr.ErrEmptyDocument)
	}
	if got := capability.KindOf(err); got != capability.KindValidation {
		t.Errorf("got %s, want %s", got, capability.KindValidation)
	}
}
