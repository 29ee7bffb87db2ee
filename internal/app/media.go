/**
 * @description
 * This file resolves media catalog entries for the streaming endpoint. The
 * media library is read-only from this service's perspective: streaming never
 * mutates subscription or download state.
 */
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/domain"
)

// OpenMediaStream looks up a media file and opens its original for streaming.
// The returned size is the on-disk size, which is authoritative for range
// arithmetic even if the catalog row's recorded size has drifted.
func (s *Service) OpenMediaStream(ctx context.Context, mediaID uuid.UUID) (*domain.MediaFile, io.ReadSeekCloser, int64, error) {
	media, err := s.repo.FindMediaFileByID(ctx, mediaID)
	if err != nil {
		return nil, nil, 0, err
	}

	reader, size, err := s.artifacts.OpenMedia(media.StoragePath)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to open media %s: %w", mediaID, err)
	}
	return media, reader, size, nil
}

// RecordMediaBytesServed forwards streaming volume to the metrics collector.
func (s *Service) RecordMediaBytesServed(n int64) {
	s.metrics.RecordMediaBytesServed(n)
}
