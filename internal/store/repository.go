/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * the gateway bridge needs: the bridge-owned order-mapping table plus the narrow
 * slice of the billing platform's schema it is allowed to touch (read invoices,
 * append payment records, append gateway log rows, keep the sync checkpoint).
 * The interface decouples the reconciliation engine from PostgreSQL and lets
 * tests substitute in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/securiace/razorpay-gateway/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Order mapping (bridge-owned table).
	EnsureOrderMappingTable(ctx context.Context) error
	UpsertOrderMapping(ctx context.Context, invoiceID int64, razorpayOrderID string) error
	FindOrderIDByInvoiceID(ctx context.Context, invoiceID int64) (string, error)
	FindInvoiceIDByOrderID(ctx context.Context, razorpayOrderID string) (int64, error)

	// Billing platform: invoices (read-only here).
	GetInvoice(ctx context.Context, invoiceID int64) (*domain.Invoice, error)
	ListUnpaidInvoicesByGateway(ctx context.Context, gateway string, since time.Time, limit, offset int) ([]domain.Invoice, error)

	// Billing platform: payment records. ApplyInvoicePayment inserts exactly
	// one record guarded by the (invoice_id, transaction_id) unique constraint
	// and surfaces a violation as ErrDuplicatePayment.
	PaymentRecordExists(ctx context.Context, invoiceID int64, transactionID string) (bool, error)
	ApplyInvoicePayment(ctx context.Context, record *domain.PaymentRecord) error
	ListOverpaidRecords(ctx context.Context, gateway string, limit int) ([]OverpaidRecord, error)
	CorrectPaymentRecord(ctx context.Context, invoiceID int64, transactionID string, amountMinor, feesMinor int64) error

	// Billing platform: gateway audit log. Callers treat failures as
	// fire-and-forget; they log and continue.
	LogGatewayEvent(ctx context.Context, gateway, statusLabel string, payload any) error

	// Batch sync checkpoint (watermark of the last processed invoice date).
	GetSyncCheckpoint(ctx context.Context, gateway string) (time.Time, error)
	SetSyncCheckpoint(ctx context.Context, gateway string, at time.Time) error
}

// OverpaidRecord pairs a payment record with its invoice total for the
// fee-correction tool: records whose amount exceeds the invoice total had the
// gateway surcharge booked as invoice payment.
type OverpaidRecord struct {
	InvoiceID         int64
	TransactionID     string
	AmountMinor       int64
	FeesMinor         int64
	InvoiceTotalMinor int64
}
