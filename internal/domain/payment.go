/**
 * @description
 * This file defines the core domain models for the razorpay-gateway bridge.
 * These structs represent the billing platform's entities (invoices, payment
 * records), the gateway's own order-mapping record, and the typed views of
 * Razorpay API entities decoded at the service boundary.
 *
 * @notes
 * - Amounts are carried as `int64` in the smallest currency unit (paise),
 *   which avoids floating-point inaccuracies with financial data. The store
 *   layer converts to and from the billing platform's decimal columns.
 * - Razorpay payloads are decoded into these explicit types at the boundary;
 *   the service never works with untyped maps beyond the `notes` bag.
 */

package domain

import "time"

// Gateway is the module identifier recorded on every payment record and log row.
const Gateway = "razorpay"

// Invoice statuses used by the billing platform.
const (
	InvoiceStatusUnpaid = "Unpaid"
	InvoiceStatusPaid   = "Paid"
)

// Razorpay payment statuses.
const (
	PaymentStatusCreated    = "created"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

// InvoiceNoteKey is the order/payment notes key under which the billing
// invoice id travels through Razorpay ("notes" survive order -> payment).
const InvoiceNoteKey = "billing_invoice_id"

// Invoice is the billing platform's record of an amount owed by a client.
// The bridge reads it and appends payment records; it never owns it.
type Invoice struct {
	ID              int64  `json:"id"`
	TotalMinor      int64  `json:"total"`       // in paise
	AmountPaidMinor int64  `json:"amount_paid"` // in paise
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	PaymentMethod   string `json:"payment_method"`
	ClientName      string `json:"client_name"`
	ClientEmail     string `json:"client_email"`
	ClientPhone     string `json:"client_phone"`
}

// BalanceMinor returns the unpaid remainder of the invoice in paise.
func (i *Invoice) BalanceMinor() int64 {
	return i.TotalMinor - i.AmountPaidMinor
}

// OrderMapping correlates one billing invoice to one Razorpay order. There is
// at most one active mapping per invoice; a retried checkout supersedes it.
type OrderMapping struct {
	InvoiceID       int64     `json:"invoice_id"`
	RazorpayOrderID string    `json:"razorpay_order_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// PaymentRecord is the billing platform's representation of money applied to
// an invoice. `(InvoiceID, TransactionID)` is the natural idempotency key.
type PaymentRecord struct {
	InvoiceID     int64     `json:"invoice_id"`
	TransactionID string    `json:"transaction_id"` // razorpay payment id
	AmountMinor   int64     `json:"amount"`         // in paise
	FeesMinor     int64     `json:"fees"`           // in paise
	Gateway       string    `json:"gateway"`
	PaidAt        time.Time `json:"paid_at"`
}

// Order is the Razorpay pre-payment intent object.
type Order struct {
	ID          string            `json:"id"`
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Receipt     string            `json:"receipt"`
	Status      string            `json:"status"`
	Notes       map[string]string `json:"notes"`
	CreatedAt   int64             `json:"created_at"` // unix seconds
}

// Payment is the Razorpay record of a charge against an order.
type Payment struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"order_id"`
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Method      string            `json:"method"`
	Notes       map[string]string `json:"notes"`
	CreatedAt   int64             `json:"created_at"` // unix seconds
}

// Refund is the Razorpay record of money returned against a payment.
type Refund struct {
	ID          string            `json:"id"`
	PaymentID   string            `json:"payment_id"`
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Notes       map[string]string `json:"notes"`
	CreatedAt   int64             `json:"created_at"`
}

// CallbackInput is the validated form data posted back by Razorpay checkout.
type CallbackInput struct {
	InvoiceID         int64
	RazorpayPaymentID string
	RazorpayOrderID   string
	Signature         string
}

// ReconcileOutcome labels the terminal state of one reconciliation attempt.
type ReconcileOutcome string

const (
	OutcomeCommitted   ReconcileOutcome = "committed"
	OutcomeAlreadyPaid ReconcileOutcome = "already_paid"
	OutcomeDuplicate   ReconcileOutcome = "duplicate"
	OutcomeNoMatch     ReconcileOutcome = "no_match"
)

// ReconcileResult is the transient value returned for one attempt. Exactly one
// of the non-error outcomes applies; Record is set only for OutcomeCommitted.
type ReconcileResult struct {
	Outcome ReconcileOutcome `json:"outcome"`
	Record  *PaymentRecord   `json:"record,omitempty"`
}

// CheckoutSession carries everything the hosted checkout form needs.
type CheckoutSession struct {
	InvoiceID       int64
	RazorpayOrderID string
	KeyID           string
	AmountMinor     int64
	Currency        string
	Description     string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	CallbackURL     string
}

// SyncReport summarizes one batch synchronization run.
type SyncReport struct {
	RunID         string    `json:"run_id"`
	Processed     int       `json:"processed"`
	Recorded      int       `json:"recorded"`
	Duplicates    int       `json:"duplicates"`
	NoMatch       int       `json:"no_match"`
	Errors        int       `json:"errors"`
	DryRun        bool      `json:"dry_run"`
	BudgetHit     bool      `json:"budget_exceeded"`
	Unattempted   []int64   `json:"unattempted_invoice_ids,omitempty"`
	CheckpointAt  time.Time `json:"checkpoint_at"`
	WindowFrom    time.Time `json:"window_from"`
	WindowUntil   time.Time `json:"window_until"`
	ElapsedMillis int64     `json:"elapsed_ms"`
}

// FeeCorrection describes one adjusted record from the fee-correction tool.
type FeeCorrection struct {
	InvoiceID     int64  `json:"invoice_id"`
	TransactionID string `json:"transaction_id"`
	OldAmount     int64  `json:"old_amount"`
	NewAmount     int64  `json:"new_amount"`
	OldFees       int64  `json:"old_fees"`
	NewFees       int64  `json:"new_fees"`
}
