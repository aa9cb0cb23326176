package app

import (
	"context"
	"testing"
	"time"

	"github.com/securiace/razorpay-gateway/internal/domain"
	"github.com/securiace/razorpay-gateway/internal/store"
)

func TestSyncPaymentsRecordsMatches(t *testing.T) {
	repo := newServiceRepoStub()
	repo.invoices[10] = &domain.Invoice{ID: 10, TotalMinor: 50000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
	repo.invoices[11] = &domain.Invoice{ID: 11, TotalMinor: 70000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
	repo.unpaid = []domain.Invoice{*repo.invoices[10], *repo.invoices[11]}

	processor := newProcessorStub()
	processor.listPayments = []domain.Payment{
		{ID: "pay_10", AmountMinor: 50000, Currency: "INR", Status: domain.PaymentStatusCaptured, Notes: map[string]string{domain.InvoiceNoteKey: "10"}, CreatedAt: 100},
	}

	svc := newTestService(repo, processor, FeePolicyMerchantAbsorbs)
	report, err := svc.SyncPayments(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Processed != 2 {
		t.Fatalf("expected 2 processed, got %d", report.Processed)
	}
	if report.Recorded != 1 {
		t.Fatalf("expected 1 recorded, got %d", report.Recorded)
	}
	if report.NoMatch != 1 {
		t.Fatalf("expected 1 no_match, got %d", report.NoMatch)
	}
	if len(repo.records) != 1 {
		t.Fatalf("expected one committed record, got %d", len(repo.records))
	}
	if len(repo.checkpointSet) != 1 {
		t.Fatalf("expected checkpoint advanced once, got %d writes", len(repo.checkpointSet))
	}
}

func TestSyncPaymentsFetchesMappedOrderOutsideWindow(t *testing.T) {
	repo := newServiceRepoStub()
	repo.invoices[10] = &domain.Invoice{ID: 10, TotalMinor: 50000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
	repo.unpaid = []domain.Invoice{*repo.invoices[10]}
	repo.mappings[10] = "order_old"

	// The payment exists on the mapped order but never shows up in the
	// windowed listing, as with a capture older than the sync window.
	processor := newProcessorStub()
	processor.payments["pay_old"] = &domain.Payment{
		ID:          "pay_old",
		OrderID:     "order_old",
		AmountMinor: 50000,
		Currency:    "INR",
		Status:      domain.PaymentStatusCaptured,
		CreatedAt:   100,
	}

	svc := newTestService(repo, processor, FeePolicyMerchantAbsorbs)
	report, err := svc.SyncPayments(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Recorded != 1 {
		t.Fatalf("expected 1 recorded, got %d", report.Recorded)
	}
	rec, ok := repo.records[recordKey(10, "pay_old")]
	if !ok {
		t.Fatalf("expected a record for pay_old, got %v", repo.records)
	}
	if rec.AmountMinor != 50000 {
		t.Fatalf("expected amount=50000, got %d", rec.AmountMinor)
	}
}

func TestSyncPaymentsDryRun(t *testing.T) {
	repo := newServiceRepoStub()
	repo.invoices[10] = &domain.Invoice{ID: 10, TotalMinor: 50000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
	repo.unpaid = []domain.Invoice{*repo.invoices[10]}

	processor := newProcessorStub()
	processor.listPayments = []domain.Payment{
		{ID: "pay_10", AmountMinor: 50000, Currency: "INR", Status: domain.PaymentStatusCaptured, Notes: map[string]string{domain.InvoiceNoteKey: "10"}, CreatedAt: 100},
	}

	svc := newTestService(repo, processor, FeePolicyMerchantAbsorbs)
	report, err := svc.SyncPayments(context.Background(), SyncOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Recorded != 1 {
		t.Fatalf("expected 1 would-record, got %d", report.Recorded)
	}
	if len(repo.records) != 0 {
		t.Fatalf("dry run must not write records, got %d", len(repo.records))
	}
	if len(repo.checkpointSet) != 0 {
		t.Fatalf("dry run must not advance the checkpoint, got %d writes", len(repo.checkpointSet))
	}
}

func TestSyncPaymentsBudgetReportsUnattempted(t *testing.T) {
	repo := newServiceRepoStub()
	for id := int64(1); id <= 5; id++ {
		inv := &domain.Invoice{ID: id, TotalMinor: 50000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
		repo.invoices[id] = inv
		repo.unpaid = append(repo.unpaid, *inv)
	}
	repo.checkpoint = time.Now().Add(-time.Hour)

	svc := newTestService(repo, newProcessorStub(), FeePolicyMerchantAbsorbs)
	report, err := svc.SyncPayments(context.Background(), SyncOptions{Budget: time.Nanosecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.BudgetHit {
		t.Fatal("expected budget hit")
	}
	if report.Processed+len(report.Unattempted) != 5 {
		t.Fatalf("expected processed+unattempted=5, got %d+%d", report.Processed, len(report.Unattempted))
	}
	if len(report.Unattempted) == 0 {
		t.Fatal("expected unattempted invoices to be reported")
	}
	if len(repo.checkpointSet) != 0 {
		t.Fatalf("checkpoint must not advance past unattempted work, got %d writes", len(repo.checkpointSet))
	}
	if !report.CheckpointAt.Equal(repo.checkpoint) {
		t.Fatalf("expected checkpoint unchanged at %v, got %v", repo.checkpoint, report.CheckpointAt)
	}
}

func TestSyncPaymentsDuplicateCounted(t *testing.T) {
	repo := newServiceRepoStub()
	repo.invoices[10] = &domain.Invoice{ID: 10, TotalMinor: 50000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
	repo.unpaid = []domain.Invoice{*repo.invoices[10]}
	repo.records[recordKey(10, "pay_10")] = &domain.PaymentRecord{InvoiceID: 10, TransactionID: "pay_10"}

	processor := newProcessorStub()
	processor.listPayments = []domain.Payment{
		{ID: "pay_10", AmountMinor: 50000, Currency: "INR", Status: domain.PaymentStatusCaptured, Notes: map[string]string{domain.InvoiceNoteKey: "10"}, CreatedAt: 100},
	}

	svc := newTestService(repo, processor, FeePolicyMerchantAbsorbs)
	report, err := svc.SyncPayments(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Duplicates != 1 {
		t.Fatalf("expected 1 duplicate, got %d", report.Duplicates)
	}
	if report.Recorded != 0 {
		t.Fatalf("expected 0 recorded, got %d", report.Recorded)
	}
}

func TestReconcileInvoicesSkipsPaid(t *testing.T) {
	repo := newServiceRepoStub()
	repo.invoices[10] = &domain.Invoice{ID: 10, TotalMinor: 50000, Currency: "INR", Status: domain.InvoiceStatusPaid}
	repo.invoices[11] = &domain.Invoice{ID: 11, TotalMinor: 70000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}

	processor := newProcessorStub()
	processor.listPayments = []domain.Payment{
		{ID: "pay_11", AmountMinor: 70000, Currency: "INR", Status: domain.PaymentStatusCaptured, Notes: map[string]string{domain.InvoiceNoteKey: "11"}, CreatedAt: 100},
	}

	svc := newTestService(repo, processor, FeePolicyMerchantAbsorbs)
	report, err := svc.ReconcileInvoices(context.Background(), []int64{10, 11, 12}, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Recorded != 1 {
		t.Fatalf("expected 1 recorded, got %d", report.Recorded)
	}
	if report.Errors != 1 {
		t.Fatalf("expected 1 error for the missing invoice, got %d", report.Errors)
	}
	if _, ok := repo.records[recordKey(11, "pay_11")]; !ok {
		t.Fatal("expected record for invoice 11")
	}
}

func TestCorrectGatewayFees(t *testing.T) {
	repo := newServiceRepoStub()
	repo.overpaid = []store.OverpaidRecord{
		{InvoiceID: 10, TransactionID: "pay_10", AmountMinor: 102000, FeesMinor: 0, InvoiceTotalMinor: 100000},
		{InvoiceID: 11, TransactionID: "pay_11", AmountMinor: 100000, FeesMinor: 2000, InvoiceTotalMinor: 100000},
	}

	svc := newTestService(repo, newProcessorStub(), FeePolicyMerchantAbsorbs)
	corrections, err := svc.CorrectGatewayFees(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d", len(corrections))
	}
	c := corrections[0]
	if c.InvoiceID != 10 || c.NewAmount != 100000 || c.NewFees != 2000 {
		t.Fatalf("unexpected correction %+v", c)
	}
	if len(repo.corrected) != 1 {
		t.Fatalf("expected 1 store correction, got %d", len(repo.corrected))
	}
}

func TestCorrectGatewayFeesDryRun(t *testing.T) {
	repo := newServiceRepoStub()
	repo.overpaid = []store.OverpaidRecord{
		{InvoiceID: 10, TransactionID: "pay_10", AmountMinor: 102000, FeesMinor: 0, InvoiceTotalMinor: 100000},
	}

	svc := newTestService(repo, newProcessorStub(), FeePolicyMerchantAbsorbs)
	corrections, err := svc.CorrectGatewayFees(context.Background(), 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("expected 1 proposed correction, got %d", len(corrections))
	}
	if len(repo.corrected) != 0 {
		t.Fatalf("dry run must not touch records, got %d corrections", len(repo.corrected))
	}
}
