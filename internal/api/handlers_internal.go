/**
 * @description
 * Operator endpoints: batch payment sync, targeted invoice reconciliation,
 * gateway fee correction, and refunds. All of them sit behind the internal
 * API key middleware; none are reachable by shoppers.
 *
 * @dependencies
 * - encoding/json, net/http, time: Standard Go libraries.
 * - internal/app: The reconciliation engine.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/securiace/razorpay-gateway/internal/app"
)

type syncRequest struct {
	Since  string `json:"since,omitempty"`  // RFC 3339
	Until  string `json:"until,omitempty"`  // RFC 3339
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

type reconcileRequest struct {
	InvoiceIDs  []int64 `json:"invoice_ids"`
	WindowHours int     `json:"window_hours,omitempty"`
}

type fixFeesRequest struct {
	Limit  int  `json:"limit,omitempty"`
	DryRun bool `json:"dry_run,omitempty"`
}

type refundRequest struct {
	InvoiceID     int64  `json:"invoice_id"`
	TransactionID string `json:"transaction_id"`
	AmountMinor   int64  `json:"amount,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// SyncPaymentsHandler runs one batch sync pass and returns the run report.
func (h *GatewayHandlers) SyncPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	opts := app.SyncOptions{
		Limit:  req.Limit,
		Offset: req.Offset,
		DryRun: req.DryRun,
	}
	var err error
	if req.Since != "" {
		if opts.Since, err = time.Parse(time.RFC3339, req.Since); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid since timestamp, expected RFC 3339")
			return
		}
	}
	if req.Until != "" {
		if opts.Until, err = time.Parse(time.RFC3339, req.Until); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid until timestamp, expected RFC 3339")
			return
		}
	}

	report, err := h.service.SyncPayments(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=sync outcome=error err=%v", err)
		h.writeError(w, http.StatusBadGateway, "Sync run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// ReconcileInvoicesHandler re-checks the named invoices against the processor.
func (h *GatewayHandlers) ReconcileInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.InvoiceIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invoice_ids is required")
		return
	}

	report, err := h.service.ReconcileInvoices(r.Context(), req.InvoiceIDs, time.Duration(req.WindowHours)*time.Hour)
	if err != nil {
		log.Printf("level=error component=api endpoint=reconcile outcome=error err=%v", err)
		h.writeError(w, http.StatusBadGateway, "Reconciliation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// FixGatewayFeesHandler rewrites overpaid records per the fee policy.
func (h *GatewayHandlers) FixGatewayFeesHandler(w http.ResponseWriter, r *http.Request) {
	var req fixFeesRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	corrections, err := h.service.CorrectGatewayFees(r.Context(), req.Limit, req.DryRun)
	if err != nil {
		log.Printf("level=error component=api endpoint=fix_fees outcome=error err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Fee correction failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"corrected":   len(corrections),
		"dry_run":     req.DryRun,
		"corrections": corrections,
	})
}

// RefundHandler issues a refund against a recorded payment.
func (h *GatewayHandlers) RefundHandler(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	refund, err := h.service.Refund(r.Context(), req.InvoiceID, req.TransactionID, req.AmountMinor, req.Reason)
	if err != nil {
		if errors.Is(err, app.ErrValidation) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=refund invoice_id=%d outcome=error err=%v", req.InvoiceID, err)
		h.writeError(w, http.StatusBadGateway, "Refund failed")
		return
	}
	h.writeJSON(w, http.StatusOK, refund)
}
