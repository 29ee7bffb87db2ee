/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the entitlement-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * The interface is deliberately shaped around atomic operations: idempotent
 * activation, quota-checked insertion, and cached-status recomputation are each
 * a single call so the application layer never has to compose a racy
 * read-then-write out of smaller primitives.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrDownloadNotFound     = errors.New("download not found")
	ErrMediaNotFound        = errors.New("media file not found")

	// ErrDuplicateDownload is returned when the user already holds a
	// non-expired download of the same media.
	ErrDuplicateDownload = errors.New("active download already exists for this media")

	// ErrDownloadQuotaExceeded is returned when the admission re-count inside
	// the insert transaction finds the user at or over their tier limit.
	ErrDownloadQuotaExceeded = errors.New("download quota exceeded")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Subscription lookups
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	FindSubscriptionByTransactionID(ctx context.Context, txnID string) (*domain.Subscription, error)
	FindCurrentSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)

	// Subscription transitions. The boolean result reports whether a state
	// change actually happened; a replay of an already-applied payment event
	// returns the existing row with transitioned=false and no error.
	CreatePendingSubscription(ctx context.Context, sub *domain.Subscription) (created *domain.Subscription, transitioned bool, err error)
	ActivateSubscriptionByTransactionID(ctx context.Context, sub *domain.Subscription) (activated *domain.Subscription, transitioned bool, err error)
	CancelSubscriptionByTransactionID(ctx context.Context, txnID string) (cancelled *domain.Subscription, transitioned bool, err error)

	// Administrative transitions.
	RenewSubscription(ctx context.Context, id uuid.UUID, extension time.Duration) (*domain.Subscription, error)
	UpdateSubscriptionPlan(ctx context.Context, id uuid.UUID, tier domain.PlanTier) (*domain.Subscription, error)
	CancelSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// ExpireLapsedSubscriptions flips every active subscription whose end date
	// has passed to expired and recomputes the owners' cached status. It
	// returns the subscriptions that were expired by this call.
	ExpireLapsedSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error)

	// Downloads. CreateDownloadIfUnderQuota re-counts the user's non-expired
	// downloads inside the same transaction as the insert.
	// MarkExpiredDownloads flips lapsed downloads to expired and returns every
	// expired row whose artifact still awaits eviction; rows leave that set
	// only via MarkDownloadArtifactRemoved, so failed evictions are retried.
	CreateDownloadIfUnderQuota(ctx context.Context, dl *domain.Download, limit int) (*domain.Download, error)
	MarkExpiredDownloads(ctx context.Context, userID uuid.UUID, now time.Time) ([]domain.Download, error)
	MarkDownloadArtifactRemoved(ctx context.Context, id uuid.UUID) error
	ListActiveDownloads(ctx context.Context, userID uuid.UUID) ([]domain.Download, error)
	FindDownloadByID(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*domain.Download, error)
	DeleteDownload(ctx context.Context, id uuid.UUID) error

	// Media catalog (read-only from this service's perspective).
	FindMediaFileByID(ctx context.Context, id uuid.UUID) (*domain.MediaFile, error)
}
