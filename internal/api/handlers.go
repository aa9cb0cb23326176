/**
 * @description
 * This file contains the HTTP handlers for the gateway's public payment flow:
 * the hosted checkout page and the redirect callback posted by Razorpay
 * checkout after the shopper completes payment. Handlers parse and validate
 * incoming requests, call the application service, and write the response.
 * The callback answers with a 302 back to the billing invoice page so the
 * shopper always lands somewhere sensible, whatever the outcome.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/securiace/razorpay-gateway/internal/app"
	"github.com/securiace/razorpay-gateway/internal/domain"
	"github.com/securiace/razorpay-gateway/internal/store"
)

// Razorpay entity id shapes. Anything else in the callback is rejected before
// it reaches the service.
var (
	paymentIDPattern = regexp.MustCompile(`^pay_[A-Za-z0-9]{1,64}$`)
	orderIDPattern   = regexp.MustCompile(`^order_[A-Za-z0-9]{1,64}$`)
	signaturePattern = regexp.MustCompile(`^[0-9a-fA-F]{16,128}$`)
)

// GatewayHandlers holds the application service that handlers will use.
type GatewayHandlers struct {
	service       *app.Service
	billingAppURL string
}

// NewGatewayHandlers creates the handler set for the gateway routes.
func NewGatewayHandlers(service *app.Service, billingAppURL string) *GatewayHandlers {
	return &GatewayHandlers{service: service, billingAppURL: billingAppURL}
}

// CallbackHandler receives the form POST from Razorpay checkout after the
// shopper completes (or abandons) payment, reconciles it, and redirects back
// to the invoice page with a success or failure flag.
func (h *GatewayHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "Malformed form body")
		return
	}

	invoiceIDStr := r.PostFormValue("merchant_order_id")
	paymentID := r.PostFormValue("razorpay_payment_id")
	orderID := r.PostFormValue("razorpay_order_id")
	sig := r.PostFormValue("razorpay_signature")

	invoiceID, err := strconv.ParseInt(invoiceIDStr, 10, 64)
	if err != nil || invoiceID <= 0 {
		h.writeError(w, http.StatusBadRequest, "Missing or invalid merchant_order_id")
		return
	}
	if !paymentIDPattern.MatchString(paymentID) {
		h.writeError(w, http.StatusBadRequest, "Missing or invalid razorpay_payment_id")
		return
	}
	if orderID != "" && !orderIDPattern.MatchString(orderID) {
		h.writeError(w, http.StatusBadRequest, "Invalid razorpay_order_id")
		return
	}
	if !signaturePattern.MatchString(sig) {
		h.writeError(w, http.StatusBadRequest, "Missing or invalid razorpay_signature")
		return
	}

	result, err := h.service.ReconcileCallback(r.Context(), domain.CallbackInput{
		InvoiceID:         invoiceID,
		RazorpayPaymentID: paymentID,
		RazorpayOrderID:   orderID,
		Signature:         sig,
	})
	if err != nil {
		log.Printf("level=warn component=api endpoint=callback invoice_id=%d payment_id=%s outcome=failed err=%v", invoiceID, paymentID, err)
		h.redirectToInvoice(w, r, invoiceID, false)
		return
	}

	switch result.Outcome {
	case domain.OutcomeCommitted, domain.OutcomeAlreadyPaid, domain.OutcomeDuplicate:
		h.redirectToInvoice(w, r, invoiceID, true)
	default:
		h.redirectToInvoice(w, r, invoiceID, false)
	}
}

// redirectToInvoice bounces the shopper back to the billing invoice page.
func (h *GatewayHandlers) redirectToInvoice(w http.ResponseWriter, r *http.Request, invoiceID int64, success bool) {
	flag := "paymentfailed=1"
	if success {
		flag = "paymentsuccess=1"
	}
	target := fmt.Sprintf("%s/viewinvoice.php?id=%d&%s", h.billingAppURL, invoiceID, flag)
	http.Redirect(w, r, target, http.StatusFound)
}

// InvoiceStatusHandler reports the payment state of one invoice. The checkout
// page polls it so the shopper sees confirmation without a manual refresh.
func (h *GatewayHandlers) InvoiceStatusHandler(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil || invoiceID <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid invoice id")
		return
	}

	invoice, err := h.service.InvoiceStatus(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			h.writeError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		log.Printf("level=error component=api endpoint=invoice_status invoice_id=%d err=%v", invoiceID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not load invoice")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"invoice_id": invoice.ID,
		"status":     invoice.Status,
		"paid":       invoice.Status == domain.InvoiceStatusPaid,
	})
}

// writeJSON is a helper for writing JSON responses.
func (h *GatewayHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *GatewayHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
