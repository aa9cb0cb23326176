/**
 * @description
 * Batch reconciliation: sweeping unpaid invoices against the processor's
 * recent orders and payments to pick up anything the callback and webhook
 * paths missed (browser closed mid-redirect, webhook outage, and so on).
 * Also holds the targeted re-check of specific invoices and the fee
 * correction tool for records booked before fee allocation existed.
 *
 * @notes
 * - A soft time budget bounds each run so it can live behind a web endpoint
 *   or cron tick. Invoices not attempted are reported, never silently lost,
 *   and the checkpoint only advances over fully attempted work.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/securiace/razorpay-gateway/internal/domain"
	"github.com/securiace/razorpay-gateway/internal/store"
)

// SyncOptions parameterizes one batch run. Zero values fall back to the
// checkpoint (Since), now (Until), and the defaults below.
type SyncOptions struct {
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
	DryRun bool
	Budget time.Duration
}

const (
	defaultSyncLimit    = 50
	defaultSyncBudget   = 20 * time.Second
	defaultSyncLookback = 30 * 24 * time.Hour
	processorPageSize   = 100
	processorMaxPages   = 10
)

// SyncPayments scans unpaid invoices assigned to this gateway and records any
// captured payment that matches. The processor's orders and payments for the
// window are fetched once and matched in memory.
func (s *Service) SyncPayments(ctx context.Context, opts SyncOptions) (*domain.SyncReport, error) {
	started := time.Now()
	report := &domain.SyncReport{
		RunID:  uuid.NewString(),
		DryRun: opts.DryRun,
	}

	checkpoint, err := s.repo.GetSyncCheckpoint(ctx, domain.Gateway)
	if err != nil {
		log.Printf("level=warn component=service op=sync_payments run_id=%s msg=\"checkpoint read failed; using lookback\" err=%v", report.RunID, err)
	}

	since := opts.Since
	if since.IsZero() {
		since = checkpoint
	}
	if since.IsZero() {
		since = started.Add(-defaultSyncLookback)
	}
	until := opts.Until
	if until.IsZero() {
		until = started
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSyncLimit
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = s.settings.SyncBudget
	}
	if budget <= 0 {
		budget = defaultSyncBudget
	}
	report.WindowFrom = since
	report.WindowUntil = until

	invoices, err := s.repo.ListUnpaidInvoicesByGateway(ctx, domain.Gateway, since, limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		report.CheckpointAt = until
		if !opts.DryRun {
			if err := s.repo.SetSyncCheckpoint(ctx, domain.Gateway, until); err != nil {
				log.Printf("level=warn component=service op=sync_payments run_id=%s msg=\"checkpoint write failed\" err=%v", report.RunID, err)
			}
		}
		report.ElapsedMillis = time.Since(started).Milliseconds()
		log.Printf("level=info component=service op=sync_payments run_id=%s processed=0 outcome=no_unpaid_invoices", report.RunID)
		return report, nil
	}

	orders, payments, err := s.fetchProcessorWindow(ctx, since.Unix(), until.Unix())
	if err != nil {
		return nil, err
	}

	deadline := started.Add(budget)
	for i := range invoices {
		if time.Now().After(deadline) {
			report.BudgetHit = true
			for _, rest := range invoices[i:] {
				report.Unattempted = append(report.Unattempted, rest.ID)
			}
			break
		}
		report.Processed++
		s.syncOneInvoice(ctx, &invoices[i], orders, payments, opts.DryRun, report)
	}

	// The checkpoint never moves past unattempted work.
	if report.BudgetHit {
		report.CheckpointAt = checkpoint
	} else {
		report.CheckpointAt = until
		if !opts.DryRun {
			if err := s.repo.SetSyncCheckpoint(ctx, domain.Gateway, until); err != nil {
				log.Printf("level=warn component=service op=sync_payments run_id=%s msg=\"checkpoint write failed\" err=%v", report.RunID, err)
			}
		}
	}

	report.ElapsedMillis = time.Since(started).Milliseconds()
	log.Printf("level=info component=service op=sync_payments run_id=%s processed=%d recorded=%d duplicates=%d no_match=%d errors=%d budget_hit=%v dry_run=%v",
		report.RunID, report.Processed, report.Recorded, report.Duplicates, report.NoMatch, report.Errors, report.BudgetHit, report.DryRun)
	return report, nil
}

func (s *Service) syncOneInvoice(ctx context.Context, invoice *domain.Invoice, orders []domain.Order, payments []domain.Payment, dryRun bool, report *domain.SyncReport) {
	mappedOrderID, err := s.repo.FindOrderIDByInvoiceID(ctx, invoice.ID)
	if err != nil && !errors.Is(err, store.ErrMappingNotFound) {
		report.Errors++
		log.Printf("level=warn component=service op=sync_payments invoice_id=%d msg=\"mapping lookup failed\" err=%v", invoice.ID, err)
		return
	}

	// A mapped order's payments may predate the listing window, so pull them
	// straight from the order before matching against the windowed pool.
	if mappedOrderID != "" {
		direct, ferr := s.processor.FetchOrderPayments(ctx, mappedOrderID)
		if ferr != nil {
			log.Printf("level=warn component=service op=sync_payments invoice_id=%d order_id=%s msg=\"order payments fetch failed; matching on window only\" err=%v", invoice.ID, mappedOrderID, ferr)
		} else {
			payments = mergePayments(payments, direct)
		}
	}

	match := matchPayment(invoice, mappedOrderID, orders, payments, s.settings.FeeTolerancePercent)
	if match == nil {
		report.NoMatch++
		return
	}

	if dryRun {
		report.Recorded++
		log.Printf("level=info component=service op=sync_payments invoice_id=%d transaction_id=%s outcome=would_record dry_run=true", invoice.ID, match.ID)
		return
	}

	result, err := s.commitPayment(ctx, invoice, match, "sync")
	if err != nil {
		report.Errors++
		log.Printf("level=warn component=service op=sync_payments invoice_id=%d transaction_id=%s outcome=error err=%v", invoice.ID, match.ID, err)
		return
	}
	switch result.Outcome {
	case domain.OutcomeCommitted:
		report.Recorded++
	case domain.OutcomeDuplicate:
		report.Duplicates++
	default:
		report.NoMatch++
	}
}

// mergePayments appends entries from extra that the pool does not already hold.
func mergePayments(pool, extra []domain.Payment) []domain.Payment {
	seen := make(map[string]struct{}, len(pool))
	for _, p := range pool {
		seen[p.ID] = struct{}{}
	}
	for _, p := range extra {
		if _, ok := seen[p.ID]; !ok {
			pool = append(pool, p)
		}
	}
	return pool
}

// fetchProcessorWindow pages through the processor's orders and payments for
// the window, newest first, bounded to a sane number of pages.
func (s *Service) fetchProcessorWindow(ctx context.Context, from, to int64) ([]domain.Order, []domain.Payment, error) {
	var orders []domain.Order
	for page := 0; page < processorMaxPages; page++ {
		batch, err := s.processor.ListOrders(ctx, from, to, processorPageSize, page*processorPageSize)
		if err != nil {
			return nil, nil, err
		}
		orders = append(orders, batch...)
		if len(batch) < processorPageSize {
			break
		}
	}

	var payments []domain.Payment
	for page := 0; page < processorMaxPages; page++ {
		batch, err := s.processor.ListPayments(ctx, from, to, processorPageSize, page*processorPageSize)
		if err != nil {
			return nil, nil, err
		}
		payments = append(payments, batch...)
		if len(batch) < processorPageSize {
			break
		}
	}
	return orders, payments, nil
}

// ReconcileInvoices re-checks specific invoices against the processor,
// regardless of checkpoint. Used for support escalations.
func (s *Service) ReconcileInvoices(ctx context.Context, invoiceIDs []int64, window time.Duration) (*domain.SyncReport, error) {
	started := time.Now()
	if window <= 0 {
		window = defaultSyncLookback
	}
	report := &domain.SyncReport{
		RunID:       uuid.NewString(),
		WindowFrom:  started.Add(-window),
		WindowUntil: started,
	}

	orders, payments, err := s.fetchProcessorWindow(ctx, started.Add(-window).Unix(), started.Unix())
	if err != nil {
		return nil, err
	}

	for _, id := range invoiceIDs {
		invoice, err := s.repo.GetInvoice(ctx, id)
		if err != nil {
			report.Errors++
			log.Printf("level=warn component=service op=reconcile_invoices invoice_id=%d outcome=error err=%v", id, err)
			continue
		}
		if invoice.Status == domain.InvoiceStatusPaid {
			report.Duplicates++
			continue
		}
		report.Processed++
		s.syncOneInvoice(ctx, invoice, orders, payments, false, report)
	}

	report.ElapsedMillis = time.Since(started).Milliseconds()
	log.Printf("level=info component=service op=reconcile_invoices run_id=%s processed=%d recorded=%d errors=%d", report.RunID, report.Processed, report.Recorded, report.Errors)
	return report, nil
}

// CorrectGatewayFees rewrites records whose booked amount exceeds the invoice
// total, moving the excess into the fees column per the merchant_absorbs
// policy. Only meaningful for deployments that switched policy after going
// live; under client_pays there is nothing to correct.
func (s *Service) CorrectGatewayFees(ctx context.Context, limit int, dryRun bool) ([]domain.FeeCorrection, error) {
	if s.settings.FeePolicy != FeePolicyMerchantAbsorbs {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	records, err := s.repo.ListOverpaidRecords(ctx, domain.Gateway, limit)
	if err != nil {
		return nil, err
	}

	var corrections []domain.FeeCorrection
	for _, rec := range records {
		if rec.AmountMinor <= rec.InvoiceTotalMinor {
			continue
		}
		amount, fee := allocateFee(FeePolicyMerchantAbsorbs, rec.InvoiceTotalMinor, rec.AmountMinor)
		if amount == rec.AmountMinor && fee == rec.FeesMinor {
			continue
		}
		correction := domain.FeeCorrection{
			InvoiceID:     rec.InvoiceID,
			TransactionID: rec.TransactionID,
			OldAmount:     rec.AmountMinor,
			NewAmount:     amount,
			OldFees:       rec.FeesMinor,
			NewFees:       fee,
		}
		if !dryRun {
			if err := s.repo.CorrectPaymentRecord(ctx, rec.InvoiceID, rec.TransactionID, amount, fee); err != nil {
				log.Printf("level=warn component=service op=correct_fees invoice_id=%d transaction_id=%s outcome=error err=%v", rec.InvoiceID, rec.TransactionID, err)
				continue
			}
			s.logEvent(ctx, "fee_corrected", correction)
		}
		corrections = append(corrections, correction)
		log.Printf("level=info component=service op=correct_fees invoice_id=%d transaction_id=%s old_amount=%d new_amount=%d new_fees=%d dry_run=%v",
			rec.InvoiceID, rec.TransactionID, rec.AmountMinor, amount, fee, dryRun)
	}
	return corrections, nil
}
