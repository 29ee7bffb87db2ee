/**
 * @description
 * This file contains the core service type for the entitlement-service and the
 * narrow interfaces it depends on. The Service layer orchestrates data from
 * the repository and applies business rules; every collaborator is an
 * interface so tests can exercise the logic with in-memory fakes.
 */
package app

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/domain"
	"github.com/cinelux/entitlement-service/internal/metrics"
	"github.com/cinelux/entitlement-service/internal/store"
	"github.com/cinelux/entitlement-service/pkg/paymentclient"
)

// Typed conflict errors surfaced to the API layer so clients receive a
// machine-readable reason, not just a message string.
var (
	ErrUpgradeRequired       = errors.New("plan tier carries no download allowance")
	ErrDownloadExists        = errors.New("media already downloaded and not expired")
	ErrDownloadLimitReached  = errors.New("download limit for plan tier reached")
	ErrNotRenewable          = errors.New("subscription is not active")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrMalformedPaymentEvent = errors.New("malformed payment event")
)

// PaymentVerifier is the pull channel to the payment processor.
type PaymentVerifier interface {
	VerifyCheckout(ctx context.Context, token string) (*paymentclient.CheckoutStatusResponse, error)
}

// EventPublisher publishes entitlement lifecycle events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// ArtifactStore reads media originals and materializes/removes download
// artifacts.
type ArtifactStore interface {
	OpenMedia(path string) (io.ReadSeekCloser, int64, error)
	Materialize(ctx context.Context, mediaPath string, downloadID uuid.UUID) (path string, size int64, err error)
	Remove(path string) error
}

// RateLimiter bounds request rates per subject. Implementations must fail
// open: a limiter error never blocks the request.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the business logic for entitlements, downloads, and
// payment reconciliation.
type Service struct {
	repo      store.Repository
	payments  PaymentVerifier
	producer  EventPublisher
	artifacts ArtifactStore
	limiter   RateLimiter
	metrics   *metrics.Collector

	now func() time.Time
}

// NewService creates a new Service. producer, limiter, and collector may be
// nil; the corresponding behavior is skipped.
func NewService(repo store.Repository, payments PaymentVerifier, artifacts ArtifactStore, producer EventPublisher, limiter RateLimiter, collector *metrics.Collector) *Service {
	return &Service{
		repo:      repo,
		payments:  payments,
		producer:  producer,
		artifacts: artifacts,
		limiter:   limiter,
		metrics:   collector,
		now:       time.Now,
	}
}

// rateLimitExceeded consumes one request from the scope's budget and reports
// whether the subject is over it. Limiter errors fail open.
func (s *Service) rateLimitExceeded(ctx context.Context, scope, subject string) (exceeded bool, retryAfterSeconds int) {
	policy, ok := rateLimitPolicies[scope]
	if s.limiter == nil || !ok {
		return false, 0
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, scope, subject, policy.limit, policy.window)
	if err != nil {
		log.Printf("level=warn component=app msg=\"rate limiter unavailable; failing open\" scope=%s err=%v", scope, err)
		return false, 0
	}
	return count > policy.limit, retryAfter
}

// GetEntitlementStatus returns the user's current subscription summary.
func (s *Service) GetEntitlementStatus(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionStatusResponse, error) {
	sub, err := s.repo.FindCurrentSubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return &domain.SubscriptionStatusResponse{
				Status:   domain.SubscriptionExpired,
				IsActive: false,
			}, nil
		}
		return nil, err
	}

	resp := &domain.SubscriptionStatusResponse{
		Status:            sub.Status,
		PlanTier:          sub.PlanTier,
		IsActive:          sub.IsCurrent(s.now()),
		DownloadAllowance: domain.DownloadAllowanceByTier[sub.PlanTier],
	}
	if resp.IsActive {
		end := sub.EndDate
		resp.EndDate = &end
	}
	return resp, nil
}
