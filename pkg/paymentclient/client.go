/**
 * @description
 * This package provides a client for the payment processor's API. It
 * encapsulates the synchronous verification call issued after a user returns
 * from checkout, handling request construction, authentication headers, and
 * response parsing.
 *
 * The client carries its own timeout; callers are expected to treat a timeout
 * or transport failure as "status unknown", never as a declined payment.
 */
package paymentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Checkout statuses reported by the processor.
const (
	StatusPaid    = "paid"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Client is a client for the payment processor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payment processor client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CustomerRef correlates a checkout back to the user and plan that initiated it.
type CustomerRef struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
}

// CheckoutStatusResponse is the processor's answer to a verification call.
type CheckoutStatusResponse struct {
	Status        string        `json:"status"`
	Amount        int64         `json:"amount"`
	TransactionID string        `json:"transaction_id"`
	PersonalInfo  []CustomerRef `json:"personal_info"`
}

// ErrorResponse represents an error from the payment processor API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("payment api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown payment api error"
}

// ErrUnavailable wraps transport-level failures (timeouts, refused
// connections) so callers can distinguish "could not ask" from "asked and was
// told no".
var ErrUnavailable = errors.New("payment processor unavailable")

// VerifyCheckout resolves the current status of a checkout token.
func (c *Client) VerifyCheckout(ctx context.Context, token string) (*CheckoutStatusResponse, error) {
	url := c.BaseURL + "/api/v1/checkouts/" + token

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-payment-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read verification response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=payment_client op=verify_checkout status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=payment_client op=verify_checkout status=%d title=%q", resp.StatusCode, firstErrorTitle(errResp))
		return nil, &errResp
	}

	var statusResp CheckoutStatusResponse
	if err := json.Unmarshal(bodyBytes, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to decode verification response: %w", err)
	}

	return &statusResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}
