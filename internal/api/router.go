/**
 * @description
 * This file sets up the HTTP router for the razorpay-gateway service. It
 * defines the API endpoints, associates them with their handlers, and applies
 * middleware: shopper-facing routes get permissive CORS for the hosted
 * checkout, operator routes sit behind the internal API key.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the checkout routes.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// GatewayRoutes creates and returns a new router for the gateway service.
func GatewayRoutes(h *GatewayHandlers, webhook *WebhookHandler, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Shopper-facing checkout and callback routes. The checkout page may be
	// framed or fetched from the billing platform's origin.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"https://*", "http://*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300, // Maximum value not ignored by any major browsers
		}))

		r.Get("/checkout/{invoiceID}", h.CheckoutHandler)
		r.Get("/checkout/{invoiceID}/status", h.InvoiceStatusHandler)
		r.Post("/callback/razorpay", h.CallbackHandler)
	})

	// Asynchronous notifications from Razorpay, authenticated by body HMAC.
	r.Post("/webhook/razorpay", webhook.ServeHTTP)

	// Operator endpoints behind the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/internal/sync", h.SyncPaymentsHandler)
		r.Post("/internal/reconcile", h.ReconcileInvoicesHandler)
		r.Post("/internal/fix-fees", h.FixGatewayFeesHandler)
		r.Post("/internal/refund", h.RefundHandler)
	})

	return r
}
