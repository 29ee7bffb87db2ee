/**
 * @description
 * This file defines the core subscription domain models for the entitlement-service.
 * Plan tiers and subscription statuses are closed enumerations so that admission and
 * display logic can never drift on a misspelled string; the tier-to-allowance table
 * lives here as the single source of truth for download entitlements.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the closed set of states a subscription can be in.
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// PlanTier is the closed set of plan tiers a subscription can carry.
type PlanTier string

const (
	PlanBasic   PlanTier = "basic"
	PlanPremium PlanTier = "premium"
	PlanFamily  PlanTier = "family"
)

// DownloadAllowanceByTier maps each plan tier to the number of concurrently
// active offline downloads it entitles the user to. Both admission control and
// the stats shown to clients must consult this table and nothing else.
var DownloadAllowanceByTier = map[PlanTier]int{
	PlanBasic:   0,
	PlanPremium: 5,
	PlanFamily:  10,
}

// ValidPlanTier reports whether the given tier is part of the closed enumeration.
func ValidPlanTier(tier PlanTier) bool {
	_, ok := DownloadAllowanceByTier[tier]
	return ok
}

// SubscriptionPeriod is the validity window granted per paid period.
const SubscriptionPeriod = 30 * 24 * time.Hour

// Subscription represents a user's subscription row.
type Subscription struct {
	ID            uuid.UUID          `json:"id"`
	UserID        uuid.UUID          `json:"user_id"`
	PlanTier      PlanTier           `json:"plan_tier"`
	Status        SubscriptionStatus `json:"status"`
	StartDate     time.Time          `json:"start_date"`
	EndDate       time.Time          `json:"end_date"`
	ExternalTxnID *string            `json:"external_txn_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// IsCurrent reports whether the subscription grants entitlements at the given instant.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s.Status == SubscriptionActive && s.EndDate.After(now)
}

// PaymentEventKind is the closed set of notification kinds the payment
// processor delivers over the webhook channel.
type PaymentEventKind string

const (
	PaymentPending   PaymentEventKind = "payment_pending"
	PaymentCompleted PaymentEventKind = "payment_completed"
	PaymentCancelled PaymentEventKind = "payment_cancelled"
)

// PaymentEvent is a notification from the payment processor, arriving either
// over the webhook push channel or synthesized from a pull-based verification.
// It is consumed once per logical effect; re-delivery of the same transaction
// id must be a no-op against state that already reflects it.
type PaymentEvent struct {
	Kind          PaymentEventKind     `json:"event_kind"`
	TransactionID string               `json:"transaction_id"`
	Amount        int64                `json:"amount"`
	PersonalInfo  []PaymentCustomerRef `json:"personal_info"`
}

// PaymentCustomerRef correlates a payment event back to the originating checkout.
type PaymentCustomerRef struct {
	UserID uuid.UUID `json:"user_id"`
	PlanID PlanTier  `json:"plan_id"`
}

// SubscriptionStatusResponse is the DTO returned by the status endpoint.
type SubscriptionStatusResponse struct {
	Status            SubscriptionStatus `json:"status"`
	PlanTier          PlanTier           `json:"plan_tier,omitempty"`
	EndDate           *time.Time         `json:"end_date,omitempty"`
	IsActive          bool               `json:"is_active"`
	DownloadAllowance int                `json:"download_allowance"`
}

// VerifyCheckoutResponse is returned to the client after the pull-based
// verification call resolves a checkout token.
type VerifyCheckoutResponse struct {
	Status        string        `json:"status"`
	PlanTier      PlanTier      `json:"plan_tier,omitempty"`
	Amount        int64         `json:"amount,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Subscription  *Subscription `json:"subscription,omitempty"`
}

// EntitlementEvent is published to the message broker whenever a subscription
// actually transitions (replays of already-applied events do not publish).
type EntitlementEvent struct {
	UserID         uuid.UUID          `json:"user_id"`
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	PlanTier       PlanTier           `json:"plan_tier"`
	Status         SubscriptionStatus `json:"status"`
	TransactionID  string             `json:"transaction_id,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}
