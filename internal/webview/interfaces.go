package webview

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Resolver asks the backend proxy for an embeddable version of a URL.
type Resolver interface {
	Resolve(ctx context.Context, url NormalizedURL, extraHeaders http.Header) (Resolution, error)
}

// Viewer is the narrow capability surface of the document viewer.
type Viewer interface {
	CreateDocument(ctx context.Context, blob []byte, opts DocumentOptions) (Document, error)
	AnnotationManager() AnnotationManager
	SetToolbarGroup(ctx context.Context, name string) error
}

// AnnotationManager exports the annotation layer of the viewer.
type AnnotationManager interface {
	ExportAnnotations(ctx context.Context) (string, error)
}

// AnnotationImporter is implemented by viewers that accept annotations from
// outside (the CLI and HTTP surface use it in place of drawing).
type AnnotationImporter interface {
	ImportAnnotations(xfdf string) error
	ClearAnnotations()
}

// Document is a viewer document created from raw bytes.
type Document interface {
	FileData(ctx context.Context, opts FileDataOptions) ([]byte, error)
}

// Clock returns the current time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ExportStore persists export audit records.
type ExportStore interface {
	StoreExport(ctx context.Context, record ExportRecord) error
}

// ExportRecord is metadata about one delivered export.
type ExportRecord struct {
	ID        string        `json:"id"`
	SourceURL NormalizedURL `json:"source_url"`
	Filename  string        `json:"filename"`
	SizeBytes int           `json:"size_bytes"`
	Width     float64       `json:"width"`
	Height    float64       `json:"height"`
	HandleURI string        `json:"handle_uri"`
	SavedTo   string        `json:"saved_to,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
