/**
 * @description
 * This file contains the administrative override path and the expiry sweep.
 * Admin operations mutate subscriptions through the same storage-layer
 * transition primitives the payment paths use, so the forward-only invariants
 * hold regardless of which entry point drives a change.
 */
package app

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/domain"
	"github.com/cinelux/entitlement-service/internal/store"
)

// AdminRenewSubscription extends an active subscription by one period from
// its current end date. Renewing twice extends by exactly two periods from
// the original end date regardless of when the renewals happen.
func (s *Service) AdminRenewSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.repo.RenewSubscription(ctx, id, domain.SubscriptionPeriod)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return nil, s.classifyMissingActive(ctx, id)
		}
		return nil, err
	}
	log.Printf("level=info component=admin msg=\"subscription renewed\" subscription_id=%s end_date=%s", sub.ID, sub.EndDate.Format("2006-01-02"))
	return sub, nil
}

// AdminChangePlan changes an active subscription's plan tier in place without
// altering its validity window.
func (s *Service) AdminChangePlan(ctx context.Context, id uuid.UUID, tier domain.PlanTier) (*domain.Subscription, error) {
	if !domain.ValidPlanTier(tier) {
		return nil, errors.New("unknown plan tier")
	}
	sub, err := s.repo.UpdateSubscriptionPlan(ctx, id, tier)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return nil, s.classifyMissingActive(ctx, id)
		}
		return nil, err
	}
	log.Printf("level=info component=admin msg=\"plan changed\" subscription_id=%s plan_tier=%s", sub.ID, sub.PlanTier)
	return sub, nil
}

// AdminCancelSubscription cancels an active subscription and recomputes the
// owner's cached status.
func (s *Service) AdminCancelSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.repo.CancelSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return nil, s.classifyMissingActive(ctx, id)
		}
		return nil, err
	}
	s.publishEntitlementEvent(ctx, sub, "")
	log.Printf("level=info component=admin msg=\"subscription cancelled\" subscription_id=%s", sub.ID)
	return sub, nil
}

// SweepExpiredSubscriptions moves every active subscription whose window has
// closed to expired. It is invoked by the platform scheduler over an internal
// endpoint; entitlement events are published for each expiry.
func (s *Service) SweepExpiredSubscriptions(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireLapsedSubscriptions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for i := range expired {
		s.publishEntitlementEvent(ctx, &expired[i], "")
	}
	if len(expired) > 0 {
		log.Printf("level=info component=admin msg=\"expiry sweep completed\" expired=%d", len(expired))
	}
	return len(expired), nil
}

// classifyMissingActive distinguishes "no such subscription" from "exists but
// not active" so the API can answer 404 versus 409.
func (s *Service) classifyMissingActive(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.FindSubscriptionByID(ctx, id); err != nil {
		return err
	}
	return ErrNotRenewable
}
