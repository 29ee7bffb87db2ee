/**
 * @description
 * This file contains the HTTP handlers for the payment reconciliation
 * endpoints: the processor's webhook push channel and the client-initiated
 * verify call, plus the entitlement status endpoint and the shared JSON
 * response helpers.
 */
package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/cinelux/entitlement-service/internal/app"
	"github.com/cinelux/entitlement-service/internal/domain"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service       *app.Service
	webhookSecret string
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

// handlePaymentWebhook ingests the processor's push notifications.
//
// The processor retries any non-2xx response indefinitely and does not
// distinguish its own malformed payloads from our failures, so malformed
// input is acknowledged with 200 and logged instead of rejected — a
// deliberate deviation from strict HTTP semantics to avoid retry storms.
// Only a transient storage failure (where a retry can actually help) answers
// non-2xx.
func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=reject reason=unreadable_body err=%v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if !h.isValidWebhookSignature(r.Header.Get("X-Payment-Signature"), body) {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=reject reason=invalid_signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.PaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=acknowledged_malformed reason=invalid_json err=%v payload=%q", err, truncateForLog(body))
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.service.HandleWebhookEvent(r.Context(), event); err != nil {
		if errors.Is(err, app.ErrMalformedPaymentEvent) {
			log.Printf("level=warn component=api endpoint=payment_webhook outcome=acknowledged_malformed txn_id=%s err=%v", event.TransactionID, err)
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Printf("level=error component=api endpoint=payment_webhook outcome=transient_failure txn_id=%s err=%v", event.TransactionID, err)
		http.Error(w, "Temporary processing failure", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVerifyCheckout resolves a checkout token the user holds after
// returning from the processor's checkout page.
func (h *Handler) handleVerifyCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "", "Could not get user ID from context")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		h.writeError(w, http.StatusBadRequest, "", "token is required")
		return
	}

	result, err := h.service.VerifyCheckout(r.Context(), userID, req.Token)
	if err != nil {
		if errors.Is(err, app.ErrRateLimited) {
			h.writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many verification attempts")
			return
		}
		log.Printf("level=warn component=api endpoint=verify_checkout outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusBadGateway, "", "Verification failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// handleGetStatus returns the authenticated user's entitlement summary.
func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "", "Could not get user ID from context")
		return
	}

	status, err := h.service.GetEntitlementStatus(r.Context(), userID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=get_status outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Failed to load subscription status")
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// isValidWebhookSignature checks the processor's HMAC-SHA256 hex signature.
// When no secret is configured validation is skipped with a warning.
func (h *Handler) isValidWebhookSignature(signatureHeader string, body []byte) bool {
	if h.webhookSecret == "" {
		log.Println("Warning: PAYMENT_WEBHOOK_SECRET is not set. Skipping signature validation.")
		return true
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, expected)
}

func truncateForLog(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// writeJSON is a helper to write JSON responses.
func (h *Handler) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// writeError writes a JSON error body. errorCode, when set, is the
// machine-readable reason clients branch on.
func (h *Handler) writeError(w http.ResponseWriter, code int, errorCode, message string) {
	body := map[string]string{"error": message}
	if errorCode != "" {
		body["error_code"] = errorCode
	}
	h.writeJSON(w, code, body)
}
