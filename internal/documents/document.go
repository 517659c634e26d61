// Package documents implements document intake: validation of uploaded
// site documents, blob storage, and the documents table.
package documents

import (
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

// Document is a registered upload. Documents are immutable once received.
type Document struct {
	ID          uuid.UUID  `json:"id"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	PageCount   *int       `json:"page_count"`
	StorageKey  string     `json:"storage_key"`
	Project     string     `json:"project"`
	Location    string     `json:"location"`
	RecordDate  *time.Time `json:"record_date,omitempty"`
	UploadedAt  time.Time  `json:"uploaded_at"`
}

// Context is the caller-supplied provenance of a document.
type Context struct {
	Project    string     `json:"project"`
	Location   string     `json:"location"`
	RecordDate *time.Time `json:"record_date,omitempty"`
}

// CreateCommand carries an upload and its context.
type CreateCommand struct {
	Data        []byte
	Filename    string
	ContentType string
	Context     Context
}

// Capability converts the document and its bytes into the form recognition
// providers consume.
func (d *Document) Capability(data []byte) capability.Document {
	doc := capability.Document{
		ID:          d.ID,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		Data:        data,
		Project:     d.Project,
		Location:    d.Location,
	}
	if d.RecordDate != nil {
		doc.RecordDate = *d.RecordDate
	}
	return doc
}
