/**
 * @description
 * This file contains the payment reconciler: the two ingestion paths that
 * consume payment processor state. HandleWebhookEvent is the push channel;
 * VerifyCheckout is the pull channel issued after a user returns from
 * checkout. Both converge on the state machine's ApplyPaymentEvent, keyed by
 * the external transaction id, so arbitrary re-delivery and arbitrary
 * ordering between the two paths produce exactly one consistent outcome.
 */
package app

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/domain"
	"github.com/cinelux/entitlement-service/internal/store"
	"github.com/cinelux/entitlement-service/pkg/paymentclient"
)

// HandleWebhookEvent processes one webhook delivery. The returned error is
// transient: the caller should answer non-2xx so the processor retries. A
// replay of an already-applied event is success, and a storage failure after
// the processor has confirmed payment is logged for out-of-band
// reconciliation but still reported as handled — the money has moved, and
// telling the processor to retry will not change that.
func (s *Service) HandleWebhookEvent(ctx context.Context, ev domain.PaymentEvent) error {
	_, _, err := s.ApplyPaymentEvent(ctx, ev)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMalformedPaymentEvent) {
		return err
	}
	if ev.Kind == domain.PaymentCancelled && errors.Is(err, store.ErrSubscriptionNotFound) {
		// Cancellation of a checkout we never recorded: nothing to undo, and a
		// retry cannot produce the missing row.
		log.Printf("level=info component=reconciler outcome=acknowledged msg=\"cancellation for unknown transaction\" txn_id=%s", ev.TransactionID)
		return nil
	}
	if ev.Kind == domain.PaymentCompleted {
		log.Printf("level=error component=reconciler outcome=inconsistent msg=\"storage write failed after confirmed payment; requires out-of-band reconciliation\" txn_id=%s err=%v", ev.TransactionID, err)
		return nil
	}
	return err
}

// VerifyCheckout resolves a checkout token against the payment processor and,
// when the processor reports the checkout as paid, applies the completed
// transition through the same state machine the webhook path uses.
//
// A processor timeout or transport failure is reported as "pending", never
// "failed": a network hiccup is not evidence of a declined payment.
func (s *Service) VerifyCheckout(ctx context.Context, userID uuid.UUID, token string) (*domain.VerifyCheckoutResponse, error) {
	if over, retryAfter := s.rateLimitExceeded(ctx, verifyCheckoutScope, userID.String()); over {
		log.Printf("level=warn component=reconciler endpoint=verify_checkout outcome=rate_limited user_id=%s retry_after=%d", userID, retryAfter)
		return nil, ErrRateLimited
	}

	status, err := s.payments.VerifyCheckout(ctx, token)
	if err != nil {
		if errors.Is(err, paymentclient.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			log.Printf("level=warn component=reconciler endpoint=verify_checkout outcome=unknown msg=\"processor unreachable; reporting pending\" user_id=%s err=%v", userID, err)
			return &domain.VerifyCheckoutResponse{Status: paymentclient.StatusPending}, nil
		}
		return nil, err
	}

	switch status.Status {
	case paymentclient.StatusPaid:
		ev := domain.PaymentEvent{
			Kind:          domain.PaymentCompleted,
			TransactionID: status.TransactionID,
			Amount:        status.Amount,
			PersonalInfo:  customerRefsToDomain(status.PersonalInfo),
		}
		sub, _, err := s.ApplyPaymentEvent(ctx, ev)
		if err != nil {
			if errors.Is(err, ErrMalformedPaymentEvent) {
				return nil, err
			}
			// The processor has confirmed payment; a local write failure must
			// not surface to the user as a payment failure. The webhook path
			// may already have recorded the transaction, so try a read-back
			// before reporting without subscription detail.
			log.Printf("level=error component=reconciler endpoint=verify_checkout outcome=inconsistent msg=\"storage write failed after confirmed payment\" txn_id=%s err=%v", status.TransactionID, err)
			resp := &domain.VerifyCheckoutResponse{
				Status:        paymentclient.StatusPaid,
				Amount:        status.Amount,
				TransactionID: status.TransactionID,
			}
			if existing, lookupErr := s.repo.FindSubscriptionByTransactionID(ctx, status.TransactionID); lookupErr == nil {
				resp.PlanTier = existing.PlanTier
				resp.Subscription = existing
			}
			return resp, nil
		}
		return &domain.VerifyCheckoutResponse{
			Status:        paymentclient.StatusPaid,
			PlanTier:      sub.PlanTier,
			Amount:        status.Amount,
			TransactionID: status.TransactionID,
			Subscription:  sub,
		}, nil

	case paymentclient.StatusPending, paymentclient.StatusFailed:
		return &domain.VerifyCheckoutResponse{
			Status:        status.Status,
			Amount:        status.Amount,
			TransactionID: status.TransactionID,
		}, nil

	default:
		// Unrecognized status from the processor: report it without mutating
		// entitlement state.
		log.Printf("level=warn component=reconciler endpoint=verify_checkout msg=\"unrecognized processor status\" status=%q txn_id=%s", status.Status, status.TransactionID)
		return &domain.VerifyCheckoutResponse{
			Status:        status.Status,
			TransactionID: status.TransactionID,
		}, nil
	}
}

func customerRefsToDomain(refs []paymentclient.CustomerRef) []domain.PaymentCustomerRef {
	out := make([]domain.PaymentCustomerRef, 0, len(refs))
	for _, ref := range refs {
		userID, err := uuid.Parse(ref.UserID)
		if err != nil {
			continue
		}
		out = append(out, domain.PaymentCustomerRef{
			UserID: userID,
			PlanID: domain.PlanTier(ref.PlanID),
		})
	}
	return out
}
