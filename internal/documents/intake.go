package documents

import (
	"bytes"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const contentTypePDF = "application/pdf"

var supportedTypes = []string{
	contentTypePDF,
	"image/jpeg",
	"image/png",
	"image/tiff",
	"image/bmp",
}

// Validate checks size and media type and, for PDFs, that the file parses.
// It returns the resolved content type and page count.
func Validate(cmd CreateCommand, maxSize int64) (string, *int, error) {
	size := int64(len(cmd.Data))
	if size == 0 {
		return "", nil, fmt.Errorf("%w: empty upload", ErrInvalidFile)
	}
	if maxSize > 0 && size > maxSize {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}

	contentType := detectContentType(cmd.ContentType, cmd.Data)
	if !slices.Contains(supportedTypes, contentType) {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	if contentType != contentTypePDF {
		return contentType, nil, nil
	}

	count, err := api.PageCount(bytes.NewReader(cmd.Data), nil)
	if err != nil {
		return "", nil, fmt.Errorf("%w: unreadable pdf: %v", ErrInvalidFile, err)
	}
	if count == 0 {
		return "", nil, fmt.Errorf("%w: pdf has no pages", ErrInvalidFile)
	}
	return contentType, &count, nil
}

func detectContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, ok := strings.Cut(declared, ";"); ok {
			return strings.TrimSpace(mt)
		}
		return declared
	}
	return http.DetectContentType(data)
}
