package models

import "time"

// Asset is the catalog record of one completed ingestion.
// A row exists only when both blobs it names exist in the blob store.
// Maps to: assets table
type Asset struct {
	// Opaque identifier, allocated by the pipeline (never caller supplied)
	ID string `db:"id" json:"id"`

	// Caller-supplied filename, display/download only
	OriginalName string `db:"original_name" json:"originalName"`

	// Declared content type of the upload
	MimeType string `db:"mime_type" json:"mimeType"`

	// Size of the original upload in bytes
	SizeBytes int64 `db:"size_bytes" json:"size"`

	// Blob names: untouched upload and served rendition
	OriginalKey  string `db:"original_key" json:"originalKey"`
	RenditionKey string `db:"rendition_key" json:"filename"`

	// Public locator of the rendition, e.g. /uploads/<id>.jpg
	URL string `db:"url" json:"url"`

	// Pixel dimensions of the rendition (nil when not introspectable)
	Width  *int `db:"width" json:"width"`
	Height *int `db:"height" json:"height"`

	// Audit fields
	CreatedBy string    `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// HasDimensions reports whether the rendition dimensions are known
func (a *Asset) HasDimensions() bool {
	return a.Width != nil && a.Height != nil
}

// BlobKeys returns the blob names owned by this asset
func (a *Asset) BlobKeys() []string {
	return []string{a.RenditionKey, a.OriginalKey}
}
