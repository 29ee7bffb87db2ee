/**
 * @description
 * This file sets up the HTTP router for the entitlement-service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, and authentication, and maps the routes to their
 * corresponding handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the entitlement-service routes.
func NewRouter(h *Handler, jwksURL, internalKey string, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Range"},
		ExposedHeaders:   []string{"Content-Range", "Accept-Ranges"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Entitlement service is healthy"))
	})

	if metricsHandler != nil {
		r.Get("/metrics", metricsHandler.ServeHTTP)
	}

	// The processor authenticates with an HMAC signature, not a session.
	r.Post("/webhooks/payment", h.handlePaymentWebhook)

	// Protected routes that require a user session
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(jwksURL))

		r.Get("/subscriptions/status", h.handleGetStatus)
		r.Post("/subscriptions/verify", h.handleVerifyCheckout)

		r.Post("/downloads", h.handleCreateDownload)
		r.Get("/downloads", h.handleListDownloads)
		r.Delete("/downloads/{download_id}", h.handleDeleteDownload)

		r.Get("/media/{media_id}/stream", h.handleStreamMedia)
	})

	// Internal routes called by the platform scheduler and support tooling
	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalKey))

		r.Post("/subscriptions/{subscription_id}/renew", h.handleAdminRenew)
		r.Post("/subscriptions/{subscription_id}/plan", h.handleAdminChangePlan)
		r.Post("/subscriptions/{subscription_id}/cancel", h.handleAdminCancel)
		r.Post("/subscriptions/sweep-expired", h.handleAdminSweepExpired)
	})

	return r
}
