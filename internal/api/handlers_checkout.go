/**
 * @description
 * This file serves the hosted checkout page for an invoice. The page embeds
 * Razorpay's checkout.js with the order and prefill details wired in through
 * data attributes, so the shopper lands directly in the payment modal and the
 * completed payment posts back to our callback endpoint.
 *
 * @dependencies
 * - html/template, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/store: Service logic and custom errors.
 */

package api

import (
	"errors"
	"html/template"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/securiace/razorpay-gateway/internal/app"
	"github.com/securiace/razorpay-gateway/internal/store"
)

var checkoutTemplate = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Pay Invoice #{{.InvoiceID}}</title>
</head>
<body>
  <form name="razorpay-form" method="POST" action="{{.CallbackURL}}">
    <input type="hidden" name="merchant_order_id" value="{{.InvoiceID}}">
    <script
      src="https://checkout.razorpay.com/v1/checkout.js"
      data-key="{{.KeyID}}"
      data-amount="{{.AmountMinor}}"
      data-currency="{{.Currency}}"
      data-order_id="{{.RazorpayOrderID}}"
      data-name="{{.Description}}"
      data-prefill.name="{{.CustomerName}}"
      data-prefill.email="{{.CustomerEmail}}"
      data-prefill.contact="{{.CustomerPhone}}"
      data-notes.billing_invoice_id="{{.InvoiceID}}">
    </script>
    <noscript>JavaScript is required to complete this payment.</noscript>
  </form>
</body>
</html>
`))

// CheckoutHandler renders the hosted checkout page for one invoice.
func (h *GatewayHandlers) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil || invoiceID <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid invoice id")
		return
	}

	session, err := h.service.CreateCheckout(r.Context(), invoiceID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvoiceNotFound):
			h.writeError(w, http.StatusNotFound, "Invoice not found")
		case errors.Is(err, app.ErrValidation), errors.Is(err, app.ErrUnsupportedCurrency):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			log.Printf("level=error component=api endpoint=checkout invoice_id=%d err=%v", invoiceID, err)
			h.writeError(w, http.StatusBadGateway, "Could not prepare checkout")
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := checkoutTemplate.Execute(w, session); err != nil {
		log.Printf("level=error component=api endpoint=checkout invoice_id=%d msg=\"template render failed\" err=%v", invoiceID, err)
	}
}
