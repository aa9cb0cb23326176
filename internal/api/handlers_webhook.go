/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from
 * Razorpay. It is the asynchronous entry point for payment notifications and
 * catches payments whose browser redirect never completed.
 *
 * Key features:
 * - Security: Validates the HMAC signature of the raw body before any parsing.
 * - Parsing: Decodes the JSON payload into strongly-typed Go structs.
 * - Idempotency: Optional Redis dedupe short-circuits redeliveries; the
 *   database constraint remains the correctness guarantee.
 * - Always acknowledges recognized-but-unactionable events with 200 so
 *   Razorpay stops retrying them.
 *
 * @dependencies
 * - encoding/json, io, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/signature: Service logic, models, HMAC checks.
 */

package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/securiace/razorpay-gateway/internal/app"
	"github.com/securiace/razorpay-gateway/internal/domain"
	"github.com/securiace/razorpay-gateway/internal/signature"
)

// webhookMaxBodyBytes bounds how much of a webhook body we are willing to read.
const webhookMaxBodyBytes = 1 << 20

// WebhookHandler processes incoming webhooks from Razorpay.
type WebhookHandler struct {
	service *app.Service
	secret  string
	dedupe  *app.EventDedupe
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(service *app.Service, secret string, dedupe *app.EventDedupe) *WebhookHandler {
	return &WebhookHandler{service: service, secret: secret, dedupe: dedupe}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = fmt.Sprintf("req_%d", time.Now().UnixNano())
	}

	// Read the raw body once; the signature covers the exact bytes sent.
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBodyBytes))
	if err != nil {
		log.Printf("level=warn component=api endpoint=webhook request_id=%s msg=\"cannot read body\" err=%v", requestID, err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if err := signature.VerifyWebhook(body, r.Header.Get("X-Razorpay-Signature"), h.secret); err != nil {
		log.Printf("level=warn component=api endpoint=webhook request_id=%s outcome=signature_failed err=%v", requestID, err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=api endpoint=webhook request_id=%s msg=\"invalid json\" err=%v", requestID, err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if event.Event == "" {
		http.Error(w, "Missing event name", http.StatusBadRequest)
		return
	}

	// Redeliveries carry an identical body, so a body digest is a stable key.
	digest := sha256.Sum256(body)
	dedupeKey := event.Event + ":" + hex.EncodeToString(digest[:])
	if h.dedupe.Seen(r.Context(), dedupeKey) {
		log.Printf("level=info component=api endpoint=webhook request_id=%s event=%s outcome=already_processed", requestID, event.Event)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already processed"}`))
		return
	}

	result, err := h.service.ReconcileWebhook(r.Context(), &event)
	if err != nil {
		if errors.Is(err, app.ErrValidation) {
			log.Printf("level=warn component=api endpoint=webhook request_id=%s event=%s outcome=rejected err=%v", requestID, event.Event, err)
			http.Error(w, "Malformed event payload", http.StatusBadRequest)
			return
		}
		// Processing failed after a valid signature. Release the dedupe key
		// and answer 500 so Razorpay redelivers; the database idempotency
		// key makes the retry safe.
		h.dedupe.Forget(r.Context(), dedupeKey)
		log.Printf("level=error component=api endpoint=webhook request_id=%s event=%s outcome=error err=%v", requestID, event.Event, err)
		http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
		return
	}

	outcome := "ignored"
	if result != nil {
		outcome = string(result.Outcome)
	}
	log.Printf("level=info component=api endpoint=webhook request_id=%s event=%s outcome=%s duration_ms=%d", requestID, event.Event, outcome, time.Since(startTime).Milliseconds())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "outcome": outcome})
}
