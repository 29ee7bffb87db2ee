/**
 * @description
 * This file contains the internal administrative endpoints invoked by the
 * platform scheduler and support tooling: manual renew / plan change / cancel
 * for a subscription, and the expiry sweep. These routes sit behind the
 * shared-key middleware, not session auth.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/app"
	"github.com/cinelux/entitlement-service/internal/domain"
	"github.com/cinelux/entitlement-service/internal/store"
)

// handleAdminRenew extends an active subscription by one billing period.
func (h *Handler) handleAdminRenew(w http.ResponseWriter, r *http.Request) {
	subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscription_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid subscription ID format")
		return
	}

	sub, err := h.service.AdminRenewSubscription(r.Context(), subscriptionID)
	if err != nil {
		h.writeAdminError(w, "renew", subscriptionID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// handleAdminChangePlan changes an active subscription's plan tier.
func (h *Handler) handleAdminChangePlan(w http.ResponseWriter, r *http.Request) {
	subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscription_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid subscription ID format")
		return
	}

	var req struct {
		PlanTier domain.PlanTier `json:"plan_tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}
	if !domain.ValidPlanTier(req.PlanTier) {
		h.writeError(w, http.StatusBadRequest, "", "Unknown plan tier")
		return
	}

	sub, err := h.service.AdminChangePlan(r.Context(), subscriptionID, req.PlanTier)
	if err != nil {
		h.writeAdminError(w, "change_plan", subscriptionID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// handleAdminCancel cancels an active subscription.
func (h *Handler) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscription_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid subscription ID format")
		return
	}

	sub, err := h.service.AdminCancelSubscription(r.Context(), subscriptionID)
	if err != nil {
		h.writeAdminError(w, "cancel", subscriptionID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// handleAdminSweepExpired expires every active subscription whose window has
// closed. Invoked periodically by the platform scheduler.
func (h *Handler) handleAdminSweepExpired(w http.ResponseWriter, r *http.Request) {
	expired, err := h.service.SweepExpiredSubscriptions(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=sweep_expired outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "", "Sweep failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}

// writeAdminError maps the shared admin failure modes: unknown id → 404,
// exists but not active → 409.
func (h *Handler) writeAdminError(w http.ResponseWriter, op string, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, store.ErrSubscriptionNotFound):
		h.writeError(w, http.StatusNotFound, "", "Subscription not found")
	case errors.Is(err, app.ErrNotRenewable):
		h.writeError(w, http.StatusConflict, "not_active", "Subscription is not active")
	default:
		log.Printf("level=error component=api endpoint=admin_%s outcome=failed subscription_id=%s err=%v", op, id, err)
		h.writeError(w, http.StatusInternalServerError, "", "Operation failed")
	}
}
