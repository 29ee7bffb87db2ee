/**
 * @description
 * This file implements the download quota manager: admission control for new
 * offline downloads, the lazy expiry sweep performed on every listing, and
 * deletion of downloads together with their backing artifacts.
 *
 * Admission checks three things in order: the user holds an active
 * subscription whose tier carries a nonzero allowance (otherwise
 * upgrade_required), the media is not already downloaded and non-expired
 * (otherwise already_exists — a duplicate is not a quota violation), and the
 * user's count of non-expired downloads is below the tier limit (otherwise
 * limit_reached). The count and the insert are atomic at the storage layer.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/domain"
	"github.com/cinelux/entitlement-service/internal/store"
)

// RequestDownload admits and materializes a new offline download for a user.
func (s *Service) RequestDownload(ctx context.Context, userID uuid.UUID, mediaID uuid.UUID) (*domain.Download, error) {
	if over, retryAfter := s.rateLimitExceeded(ctx, requestDownloadScope, userID.String()); over {
		log.Printf("level=warn component=downloads endpoint=request_download outcome=rate_limited user_id=%s retry_after=%d", userID, retryAfter)
		return nil, ErrRateLimited
	}

	limit, _, err := s.downloadEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}

	media, err := s.repo.FindMediaFileByID(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	downloadID := uuid.New()

	// Materialize first, persist second: an orphaned artifact from a losing
	// race is cleaned up below, whereas a metadata row without an artifact
	// would hold a quota slot for nothing.
	artifactPath, size, err := s.artifacts.Materialize(ctx, media.StoragePath, downloadID)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize artifact for media %s: %w", mediaID, err)
	}

	dl := &domain.Download{
		ID:          downloadID,
		UserID:      userID,
		MediaID:     mediaID,
		StoragePath: artifactPath,
		SizeBytes:   size,
		CreatedAt:   now,
		ExpiresAt:   now.Add(domain.DownloadRetention),
	}

	created, err := s.repo.CreateDownloadIfUnderQuota(ctx, dl, limit)
	if err != nil {
		if removeErr := s.artifacts.Remove(artifactPath); removeErr != nil {
			log.Printf("level=warn component=downloads msg=\"failed to clean up artifact after rejected admission\" download_id=%s err=%v", downloadID, removeErr)
		}
		switch {
		case errors.Is(err, store.ErrDuplicateDownload):
			return nil, ErrDownloadExists
		case errors.Is(err, store.ErrDownloadQuotaExceeded):
			return nil, ErrDownloadLimitReached
		}
		return nil, err
	}

	s.metrics.RecordDownloadCreated()
	log.Printf("level=info component=downloads msg=\"download created\" download_id=%s user_id=%s media_id=%s expires_at=%s", created.ID, userID, mediaID, created.ExpiresAt.Format(time.RFC3339))
	return created, nil
}

// ListDownloads performs the lazy expiry sweep and returns the user's
// non-expired downloads with quota stats. Expired artifacts are evicted from
// storage as part of the sweep; an eviction failure is logged and retried on
// the next sweep, since the row only leaves the sweep's result set once
// MarkDownloadArtifactRemoved confirms the artifact is gone.
func (s *Service) ListDownloads(ctx context.Context, userID uuid.UUID) (*domain.DownloadListResponse, error) {
	now := s.now()
	pendingEviction, err := s.repo.MarkExpiredDownloads(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	evicted := 0
	for _, dl := range pendingEviction {
		if err := s.artifacts.Remove(dl.StoragePath); err != nil {
			log.Printf("level=warn component=downloads msg=\"failed to evict expired artifact\" download_id=%s path=%s err=%v", dl.ID, dl.StoragePath, err)
			continue
		}
		if err := s.repo.MarkDownloadArtifactRemoved(ctx, dl.ID); err != nil {
			log.Printf("level=warn component=downloads msg=\"failed to record artifact eviction\" download_id=%s err=%v", dl.ID, err)
		}
		evicted++
	}
	if evicted > 0 {
		s.metrics.RecordDownloadsEvicted(evicted)
	}

	downloads, err := s.repo.ListActiveDownloads(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := domain.DownloadStats{Total: len(downloads)}
	for _, dl := range downloads {
		stats.TotalSize += dl.SizeBytes
	}
	if limit, tier, err := s.downloadEntitlement(ctx, userID); err == nil {
		stats.Max = limit
		stats.PlanTier = tier
		stats.Remaining = limit - stats.Total
		if stats.Remaining < 0 {
			stats.Remaining = 0
		}
	} else if !errors.Is(err, ErrUpgradeRequired) {
		return nil, err
	}

	return &domain.DownloadListResponse{Downloads: downloads, Stats: stats}, nil
}

// DeleteDownload removes a download's artifact and metadata. Ownership is
// checked through the lookup. When artifact removal fails the metadata is
// still deleted and a warning is surfaced: an orphaned file is preferable to
// a quota slot the user can never reclaim.
func (s *Service) DeleteDownload(ctx context.Context, userID uuid.UUID, downloadID uuid.UUID) (*domain.DeleteDownloadResponse, error) {
	dl, err := s.repo.FindDownloadByID(ctx, downloadID, userID)
	if err != nil {
		return nil, err
	}

	resp := &domain.DeleteDownloadResponse{Deleted: true}
	if err := s.artifacts.Remove(dl.StoragePath); err != nil {
		log.Printf("level=warn component=downloads msg=\"artifact removal failed; deleting metadata anyway\" download_id=%s path=%s err=%v", dl.ID, dl.StoragePath, err)
		resp.Warning = "artifact_removal_failed"
	}

	if err := s.repo.DeleteDownload(ctx, dl.ID); err != nil {
		return nil, err
	}
	log.Printf("level=info component=downloads msg=\"download deleted\" download_id=%s user_id=%s", dl.ID, userID)
	return resp, nil
}

// downloadEntitlement resolves the user's current download limit and tier.
// A missing or non-active subscription, or a tier with zero allowance, is an
// upgrade_required condition.
func (s *Service) downloadEntitlement(ctx context.Context, userID uuid.UUID) (int, domain.PlanTier, error) {
	sub, err := s.repo.FindCurrentSubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return 0, "", ErrUpgradeRequired
		}
		return 0, "", err
	}
	if !sub.IsCurrent(s.now()) {
		return 0, "", ErrUpgradeRequired
	}
	limit := domain.DownloadAllowanceByTier[sub.PlanTier]
	if limit == 0 {
		return 0, sub.PlanTier, ErrUpgradeRequired
	}
	return limit, sub.PlanTier, nil
}
