/**
 * @description
 * This file defines the domain models for offline downloads: the persisted
 * download row, its fixed retention period, and the DTOs the download
 * endpoints return to clients.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DownloadRetention is the fixed lifetime of a materialized download artifact.
// The expiry timestamp is set once at creation and never changes.
const DownloadRetention = 30 * 24 * time.Hour

// Download represents a materialized offline copy of a media file owned by a
// user. ArtifactRemoved is set only after the backing file is confirmed gone,
// so a failed eviction is retried on every subsequent sweep.
type Download struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	MediaID         uuid.UUID `json:"media_id"`
	StoragePath     string    `json:"-"`
	SizeBytes       int64     `json:"size_bytes"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Expired         bool      `json:"expired"`
	ArtifactRemoved bool      `json:"-"`
}

// DownloadStats summarizes a user's quota consumption for display. Max and
// Remaining are derived from DownloadAllowanceByTier so they cannot drift
// from the admission check.
type DownloadStats struct {
	Total     int      `json:"total"`
	Max       int      `json:"max"`
	Remaining int      `json:"remaining"`
	TotalSize int64    `json:"total_size"`
	PlanTier  PlanTier `json:"plan_tier"`
}

// DownloadListResponse is the payload of the download listing endpoint.
type DownloadListResponse struct {
	Downloads []Download    `json:"downloads"`
	Stats     DownloadStats `json:"stats"`
}

// DeleteDownloadResponse reports the outcome of a deletion. Warning is set
// when the metadata row was removed but the backing artifact could not be;
// an orphaned file is preferable to a permanently stuck quota slot.
type DeleteDownloadResponse struct {
	Deleted bool   `json:"deleted"`
	Warning string `json:"warning,omitempty"`
}
