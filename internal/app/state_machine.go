/**
 * @description
 * This file is the subscription state machine: the single place that turns a
 * payment event into a subscription transition. Both ingestion paths — the
 * webhook push channel and the pull-based checkout verification — funnel into
 * ApplyPaymentEvent, so the two paths cannot drift into different
 * interpretations of the same event.
 *
 * Transitions are forward-only: pending→active, active→cancelled,
 * active→expired, pending→cancelled, and active→active (renewal, which only
 * extends the window). The repository enforces the idempotency and race
 * guarantees at the storage layer; this file owns the decision logic and the
 * side effects (event publishing, metrics).
 */
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/domain"
)

const entitlementExchange = "entitlement_events"

// validTransitions is the forward-only transition table. Renewal does not
// appear here because it never changes status.
var validTransitions = map[domain.SubscriptionStatus][]domain.SubscriptionStatus{
	domain.SubscriptionPending: {domain.SubscriptionActive, domain.SubscriptionCancelled},
	domain.SubscriptionActive:  {domain.SubscriptionCancelled, domain.SubscriptionExpired},
}

// canTransition reports whether a subscription may move from one status to
// another. Terminal states have no outgoing edges.
func canTransition(from, to domain.SubscriptionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// eventTarget maps a payment event kind to the status it drives toward.
func eventTarget(kind domain.PaymentEventKind) domain.SubscriptionStatus {
	switch kind {
	case domain.PaymentPending:
		return domain.SubscriptionPending
	case domain.PaymentCompleted:
		return domain.SubscriptionActive
	default:
		return domain.SubscriptionCancelled
	}
}

// subscriptionWindow computes the validity window granted by a payment event.
func subscriptionWindow(now time.Time) (start, end time.Time) {
	return now, now.Add(domain.SubscriptionPeriod)
}

// validatePaymentEvent rejects events the state machine cannot act on. This
// is the only class of webhook input treated as malformed.
func validatePaymentEvent(ev domain.PaymentEvent) error {
	if strings.TrimSpace(ev.TransactionID) == "" {
		return fmt.Errorf("%w: missing transaction id", ErrMalformedPaymentEvent)
	}
	switch ev.Kind {
	case domain.PaymentPending, domain.PaymentCompleted, domain.PaymentCancelled:
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrMalformedPaymentEvent, ev.Kind)
	}
	if ev.Kind != domain.PaymentCancelled {
		if len(ev.PersonalInfo) == 0 {
			return fmt.Errorf("%w: missing personal info", ErrMalformedPaymentEvent)
		}
		ref := ev.PersonalInfo[0]
		if ref.UserID == uuid.Nil {
			return fmt.Errorf("%w: missing user id", ErrMalformedPaymentEvent)
		}
		if !domain.ValidPlanTier(ref.PlanID) {
			return fmt.Errorf("%w: unknown plan tier %q", ErrMalformedPaymentEvent, ref.PlanID)
		}
	}
	return nil
}

// ApplyPaymentEvent applies a payment processor event to the entitlement
// store. It is idempotent on the external transaction id: re-delivery of an
// already-applied event returns the existing subscription with
// transitioned=false and no error.
func (s *Service) ApplyPaymentEvent(ctx context.Context, ev domain.PaymentEvent) (*domain.Subscription, bool, error) {
	if err := validatePaymentEvent(ev); err != nil {
		return nil, false, err
	}
	s.metrics.RecordWebhookEvent(string(ev.Kind))

	now := s.now()
	start, end := subscriptionWindow(now)
	txnID := strings.TrimSpace(ev.TransactionID)

	var (
		sub          *domain.Subscription
		transitioned bool
		err          error
	)
	switch ev.Kind {
	case domain.PaymentPending:
		candidate := &domain.Subscription{
			ID:            uuid.New(),
			UserID:        ev.PersonalInfo[0].UserID,
			PlanTier:      ev.PersonalInfo[0].PlanID,
			StartDate:     start,
			EndDate:       end,
			ExternalTxnID: &txnID,
		}
		sub, transitioned, err = s.repo.CreatePendingSubscription(ctx, candidate)

	case domain.PaymentCompleted:
		candidate := &domain.Subscription{
			ID:            uuid.New(),
			UserID:        ev.PersonalInfo[0].UserID,
			PlanTier:      ev.PersonalInfo[0].PlanID,
			StartDate:     start,
			EndDate:       end,
			ExternalTxnID: &txnID,
		}
		sub, transitioned, err = s.repo.ActivateSubscriptionByTransactionID(ctx, candidate)

	case domain.PaymentCancelled:
		sub, transitioned, err = s.repo.CancelSubscriptionByTransactionID(ctx, txnID)
	}
	if err != nil {
		return nil, false, err
	}

	if !transitioned {
		// Distinguish a straight replay from an event that arrived after the
		// subscription moved past the state the event targets.
		target := eventTarget(ev.Kind)
		switch {
		case sub.Status == target:
			s.metrics.RecordDuplicateEvent()
			log.Printf("level=info component=state_machine msg=\"event already applied\" txn_id=%s kind=%s status=%s", txnID, ev.Kind, sub.Status)
		case !canTransition(sub.Status, target):
			log.Printf("level=info component=state_machine msg=\"out-of-order event ignored\" txn_id=%s kind=%s status=%s", txnID, ev.Kind, sub.Status)
		default:
			log.Printf("level=info component=state_machine msg=\"event not applicable\" txn_id=%s kind=%s status=%s", txnID, ev.Kind, sub.Status)
		}
		return sub, false, nil
	}

	s.publishEntitlementEvent(ctx, sub, txnID)
	log.Printf("level=info component=state_machine msg=\"transition applied\" txn_id=%s kind=%s subscription_id=%s status=%s", txnID, ev.Kind, sub.ID, sub.Status)
	return sub, true, nil
}

// publishEntitlementEvent notifies downstream consumers of a real transition.
// Publishing is best-effort; a broker outage never fails the transition.
func (s *Service) publishEntitlementEvent(ctx context.Context, sub *domain.Subscription, txnID string) {
	if s.producer == nil {
		return
	}
	routingKey := "entitlement." + string(sub.Status)
	event := domain.EntitlementEvent{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PlanTier:       sub.PlanTier,
		Status:         sub.Status,
		TransactionID:  txnID,
		OccurredAt:     s.now(),
	}
	if err := s.producer.Publish(ctx, entitlementExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=state_machine msg=\"failed to publish entitlement event\" subscription_id=%s routing_key=%s err=%v", sub.ID, routingKey, err)
	}
}
