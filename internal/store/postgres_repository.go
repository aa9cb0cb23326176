/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed to read billing invoices, append payment records
 * under the (invoice_id, transaction_id) idempotency constraint, maintain the
 * bridge-owned razorpay_orders mapping table, and keep the gateway audit log and
 * batch-sync checkpoint.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - The billing platform stores money as numeric(12,2) in major units. All
 *   queries convert to paise at the SQL boundary with (col * 100)::bigint so
 *   the Go side only ever handles int64 minor units.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/securiace/razorpay-gateway/internal/domain"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrMappingNotFound  = errors.New("order mapping not found")
	ErrRecordNotFound   = errors.New("payment record not found")
	ErrDuplicatePayment = errors.New("payment already recorded for invoice and transaction")
)

const pgUniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureOrderMappingTable creates the bridge-owned mapping table if it does not
// exist yet. The billing platform owns every other table the bridge touches.
func (r *PostgresRepository) EnsureOrderMappingTable(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS razorpay_orders (
			invoice_id        BIGINT PRIMARY KEY,
			razorpay_order_id TEXT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure razorpay_orders table: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS razorpay_orders_order_id_idx
		ON razorpay_orders (razorpay_order_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure razorpay_orders index: %w", err)
	}
	// The billing schema ships without a uniqueness guarantee on payment rows,
	// and duplicate detection relies on the 23505 path in ApplyInvoicePayment.
	_, err = r.db.Exec(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS invoice_payments_invoice_txn_idx
		ON invoice_payments (invoice_id, transaction_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure invoice_payments uniqueness index: %w", err)
	}
	return nil
}

// UpsertOrderMapping creates or replaces the mapping for an invoice. A retried
// checkout supersedes the previous mapping instead of duplicating it.
func (r *PostgresRepository) UpsertOrderMapping(ctx context.Context, invoiceID int64, razorpayOrderID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO razorpay_orders (invoice_id, razorpay_order_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (invoice_id)
		DO UPDATE SET razorpay_order_id = EXCLUDED.razorpay_order_id, created_at = now()
	`, invoiceID, razorpayOrderID)
	if err != nil {
		return fmt.Errorf("failed to upsert order mapping for invoice %d: %w", invoiceID, err)
	}
	return nil
}

// FindOrderIDByInvoiceID resolves the Razorpay order id mapped to an invoice.
func (r *PostgresRepository) FindOrderIDByInvoiceID(ctx context.Context, invoiceID int64) (string, error) {
	var orderID string
	err := r.db.QueryRow(ctx,
		`SELECT razorpay_order_id FROM razorpay_orders WHERE invoice_id = $1`,
		invoiceID,
	).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMappingNotFound
		}
		return "", err
	}
	return orderID, nil
}

// FindInvoiceIDByOrderID is the reverse lookup, used when the invoice id has
// been lost from the request parameters across the redirect.
func (r *PostgresRepository) FindInvoiceIDByOrderID(ctx context.Context, razorpayOrderID string) (int64, error) {
	var invoiceID int64
	err := r.db.QueryRow(ctx,
		`SELECT invoice_id FROM razorpay_orders WHERE razorpay_order_id = $1 ORDER BY created_at DESC LIMIT 1`,
		razorpayOrderID,
	).Scan(&invoiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrMappingNotFound
		}
		return 0, err
	}
	return invoiceID, nil
}

// GetInvoice retrieves an invoice with client prefill details for checkout.
func (r *PostgresRepository) GetInvoice(ctx context.Context, invoiceID int64) (*domain.Invoice, error) {
	var inv domain.Invoice
	query := `
		SELECT i.id,
		       (i.total * 100)::bigint,
		       (i.amount_paid * 100)::bigint,
		       i.currency,
		       i.status,
		       i.payment_method,
		       COALESCE(btrim(c.first_name || ' ' || c.last_name), ''),
		       COALESCE(c.email, ''),
		       COALESCE(c.phone, '')
		FROM invoices i
		LEFT JOIN clients c ON c.id = i.client_id
		WHERE i.id = $1
	`
	err := r.db.QueryRow(ctx, query, invoiceID).Scan(
		&inv.ID,
		&inv.TotalMinor,
		&inv.AmountPaidMinor,
		&inv.Currency,
		&inv.Status,
		&inv.PaymentMethod,
		&inv.ClientName,
		&inv.ClientEmail,
		&inv.ClientPhone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// ListUnpaidInvoicesByGateway returns unpaid invoices assigned to the gateway,
// newest first, for the batch sync to match against processor records.
func (r *PostgresRepository) ListUnpaidInvoicesByGateway(ctx context.Context, gateway string, since time.Time, limit, offset int) ([]domain.Invoice, error) {
	query := `
		SELECT i.id,
		       (i.total * 100)::bigint,
		       (i.amount_paid * 100)::bigint,
		       i.currency,
		       i.status,
		       i.payment_method,
		       COALESCE(btrim(c.first_name || ' ' || c.last_name), ''),
		       COALESCE(c.email, ''),
		       COALESCE(c.phone, '')
		FROM invoices i
		LEFT JOIN clients c ON c.id = i.client_id
		WHERE i.status = $1
		  AND i.payment_method = $2
		  AND i.created_at >= $3
		ORDER BY i.created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query, domain.InvoiceStatusUnpaid, gateway, since, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(
			&inv.ID,
			&inv.TotalMinor,
			&inv.AmountPaidMinor,
			&inv.Currency,
			&inv.Status,
			&inv.PaymentMethod,
			&inv.ClientName,
			&inv.ClientEmail,
			&inv.ClientPhone,
		); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// PaymentRecordExists reports whether a record already exists for the
// (invoiceID, transactionID) idempotency key.
func (r *PostgresRepository) PaymentRecordExists(ctx context.Context, invoiceID int64, transactionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM invoice_payments WHERE invoice_id = $1 AND transaction_id = $2)`,
		invoiceID, transactionID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ApplyInvoicePayment inserts one payment record and rolls the invoice's paid
// amount and status forward in the same transaction. The unique constraint on
// (invoice_id, transaction_id) closes the race between concurrent callback and
// webhook deliveries: the loser's insert fails with a unique violation, which
// is surfaced as ErrDuplicatePayment and treated as an idempotent no-op.
func (r *PostgresRepository) ApplyInvoicePayment(ctx context.Context, record *domain.PaymentRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin payment transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO invoice_payments (invoice_id, transaction_id, gateway, amount, fees, paid_at)
		VALUES ($1, $2, $3, $4::numeric / 100, $5::numeric / 100, $6)
	`, record.InvoiceID, record.TransactionID, record.Gateway, record.AmountMinor, record.FeesMinor, record.PaidAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("failed to insert payment record: %w", err)
	}

	cmd, err := tx.Exec(ctx, `
		UPDATE invoices
		SET amount_paid = amount_paid + $2::numeric / 100,
		    status = CASE WHEN amount_paid + $2::numeric / 100 >= total THEN $3 ELSE status END
		WHERE id = $1
	`, record.InvoiceID, record.AmountMinor, domain.InvoiceStatusPaid)
	if err != nil {
		return fmt.Errorf("failed to update invoice balance: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}

	return tx.Commit(ctx)
}

// ListOverpaidRecords finds gateway records whose booked amount exceeds the
// invoice total. These are the fee-correction candidates.
func (r *PostgresRepository) ListOverpaidRecords(ctx context.Context, gateway string, limit int) ([]OverpaidRecord, error) {
	query := `
		SELECT p.invoice_id,
		       p.transaction_id,
		       (p.amount * 100)::bigint,
		       (p.fees * 100)::bigint,
		       (i.total * 100)::bigint
		FROM invoice_payments p
		JOIN invoices i ON i.id = p.invoice_id
		WHERE p.gateway = $1
		  AND p.amount > i.total
		ORDER BY p.paid_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, gateway, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OverpaidRecord
	for rows.Next() {
		var rec OverpaidRecord
		if err := rows.Scan(&rec.InvoiceID, &rec.TransactionID, &rec.AmountMinor, &rec.FeesMinor, &rec.InvoiceTotalMinor); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CorrectPaymentRecord rewrites amount and fees on an existing record and
// adjusts the invoice's paid amount by the delta. Used only by the explicit
// fee-correction tool; regular reconciliation never mutates records in place.
func (r *PostgresRepository) CorrectPaymentRecord(ctx context.Context, invoiceID int64, transactionID string, amountMinor, feesMinor int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin correction transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldAmountMinor int64
	err = tx.QueryRow(ctx, `
		SELECT (amount * 100)::bigint
		FROM invoice_payments
		WHERE invoice_id = $1 AND transaction_id = $2
		FOR UPDATE
	`, invoiceID, transactionID).Scan(&oldAmountMinor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to load payment record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE invoice_payments
		SET amount = $3::numeric / 100, fees = $4::numeric / 100
		WHERE invoice_id = $1 AND transaction_id = $2
	`, invoiceID, transactionID, amountMinor, feesMinor)
	if err != nil {
		return fmt.Errorf("failed to correct payment record: %w", err)
	}
	delta := amountMinor - oldAmountMinor

	if delta != 0 {
		_, err = tx.Exec(ctx, `
			UPDATE invoices
			SET amount_paid = amount_paid + $2::numeric / 100
			WHERE id = $1
		`, invoiceID, delta)
		if err != nil {
			return fmt.Errorf("failed to adjust invoice paid amount: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// LogGatewayEvent appends one row to the billing platform's gateway log.
func (r *PostgresRepository) LogGatewayEvent(ctx context.Context, gateway, statusLabel string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO gateway_log (gateway, status, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, gateway, statusLabel, body)
	return err
}

// GetSyncCheckpoint reads the last_synced_at watermark for the gateway.
// A missing row yields the zero time, which callers treat as "no checkpoint".
func (r *PostgresRepository) GetSyncCheckpoint(ctx context.Context, gateway string) (time.Time, error) {
	var at time.Time
	err := r.db.QueryRow(ctx,
		`SELECT value::timestamptz FROM gateway_settings WHERE gateway = $1 AND setting = 'last_synced_at'`,
		gateway,
	).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return at, nil
}

// SetSyncCheckpoint persists the last_synced_at watermark.
func (r *PostgresRepository) SetSyncCheckpoint(ctx context.Context, gateway string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO gateway_settings (gateway, setting, value)
		VALUES ($1, 'last_synced_at', $2)
		ON CONFLICT (gateway, setting)
		DO UPDATE SET value = EXCLUDED.value
	`, gateway, at.UTC().Format(time.RFC3339))
	return err
}
