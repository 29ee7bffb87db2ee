package domain

import "github.com/google/uuid"

// MediaFile is the catalog record for a streamable video artifact. The
// entitlement-service only reads these rows; catalog CRUD lives elsewhere.
type MediaFile struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	StoragePath string    `json:"-"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
}
