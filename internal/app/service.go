/**
 * @description
 * This file contains the core business logic for the razorpay-gateway bridge.
 * The `Service` struct orchestrates checkout, callback and webhook
 * reconciliation, and refunds, coordinating between the billing database
 * repository, the Razorpay API client, and the message broker.
 *
 * Key features:
 * - Creates (or reuses) Razorpay orders for unpaid invoices.
 * - Verifies checkout and webhook signatures before trusting any payload.
 * - Commits payment records idempotently on the (invoice, transaction) key.
 * - Applies the configured fee policy when the captured amount exceeds the
 *   invoice total.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store, internal/signature: Domain models, data access, HMAC checks.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/securiace/razorpay-gateway/internal/domain"
	"github.com/securiace/razorpay-gateway/internal/signature"
	"github.com/securiace/razorpay-gateway/internal/store"
	"github.com/securiace/razorpay-gateway/pkg/rabbitmq"
	"github.com/securiace/razorpay-gateway/pkg/razorpayclient"
)

var (
	ErrValidation          = errors.New("invalid input")
	ErrUnsupportedCurrency = errors.New("invoice currency not supported by gateway")
	ErrSignatureInvalid    = errors.New("signature verification failed")
	ErrPaymentNotCaptured  = errors.New("payment is not in captured state")
)

// ProcessorClient is the slice of the Razorpay API the service depends on.
// *razorpayclient.Client satisfies it; tests substitute stubs.
type ProcessorClient interface {
	CreateOrder(ctx context.Context, req razorpayclient.OrderRequest) (*domain.Order, error)
	FetchOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, from, to int64, count, skip int) ([]domain.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	ListPayments(ctx context.Context, from, to int64, count, skip int) ([]domain.Payment, error)
	FetchOrderPayments(ctx context.Context, orderID string) ([]domain.Payment, error)
	CapturePayment(ctx context.Context, paymentID string, amountMinor int64, currency string) (*domain.Payment, error)
	CreateRefund(ctx context.Context, paymentID string, amountMinor int64, notes map[string]string) (*domain.Refund, error)
}

// Payment actions. With "capture" the gateway captures automatically (or the
// callback captures an authorized payment); with "authorize" the payment is
// left authorized for manual capture.
const (
	PaymentActionCapture   = "capture"
	PaymentActionAuthorize = "authorize"
)

// Settings carries the per-deployment gateway configuration the service needs.
type Settings struct {
	KeyID               string
	KeySecret           string
	WebhookSecret       string
	FeePolicy           string
	FeeTolerancePercent float64
	PaymentAction       string
	SupportedCurrencies []string
	CallbackURL         string
	BillingLocation     *time.Location
	SyncBudget          time.Duration
}

// Service provides the core business logic for the gateway bridge.
type Service struct {
	repo      store.Repository
	processor ProcessorClient
	producer  rabbitmq.Publisher
	dedupe    *EventDedupe
	settings  Settings
}

// NewService creates a new gateway service instance.
func NewService(repo store.Repository, processor ProcessorClient, producer rabbitmq.Publisher, dedupe *EventDedupe, settings Settings) *Service {
	if settings.FeeTolerancePercent <= 0 {
		settings.FeeTolerancePercent = defaultFeeTolerancePercent
	}
	if settings.PaymentAction == "" {
		settings.PaymentAction = PaymentActionCapture
	}
	if settings.FeePolicy == "" {
		settings.FeePolicy = FeePolicyMerchantAbsorbs
	}
	if settings.BillingLocation == nil {
		settings.BillingLocation = time.UTC
	}
	return &Service{
		repo:      repo,
		processor: processor,
		producer:  producer,
		dedupe:    dedupe,
		settings:  settings,
	}
}

func (s *Service) currencySupported(currency string) bool {
	if len(s.settings.SupportedCurrencies) == 0 {
		return true
	}
	for _, c := range s.settings.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// paymentDate converts a Razorpay created_at unix timestamp into the billing
// platform's timezone. That is the date the payment record carries.
func (s *Service) paymentDate(createdAt int64) time.Time {
	if createdAt == 0 {
		return time.Now().In(s.settings.BillingLocation)
	}
	return time.Unix(createdAt, 0).In(s.settings.BillingLocation)
}

// CreateCheckout prepares a hosted checkout session for an unpaid invoice,
// creating a Razorpay order or reusing the previously mapped one when the
// invoice balance has not changed since it was created.
func (s *Service) CreateCheckout(ctx context.Context, invoiceID int64) (*domain.CheckoutSession, error) {
	invoice, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.InvoiceStatusPaid {
		return nil, fmt.Errorf("%w: invoice %d is already paid", ErrValidation, invoiceID)
	}
	if !s.currencySupported(invoice.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, invoice.Currency)
	}

	amount := invoice.BalanceMinor()
	if amount <= 0 {
		return nil, fmt.Errorf("%w: invoice %d has no outstanding balance", ErrValidation, invoiceID)
	}

	orderID, err := s.reuseOrCreateOrder(ctx, invoice, amount)
	if err != nil {
		return nil, err
	}

	return &domain.CheckoutSession{
		InvoiceID:       invoice.ID,
		RazorpayOrderID: orderID,
		KeyID:           s.settings.KeyID,
		AmountMinor:     amount,
		Currency:        invoice.Currency,
		Description:     fmt.Sprintf("Invoice #%d", invoice.ID),
		CustomerName:    invoice.ClientName,
		CustomerEmail:   invoice.ClientEmail,
		CustomerPhone:   invoice.ClientPhone,
		CallbackURL:     s.settings.CallbackURL,
	}, nil
}

// reuseOrCreateOrder returns the mapped order id when the existing order is
// still open for the same amount, otherwise creates a fresh order and upserts
// the mapping. A mapping store failure after order creation is logged but not
// fatal: the notes correlation still lets reconciliation find the payment.
func (s *Service) reuseOrCreateOrder(ctx context.Context, invoice *domain.Invoice, amountMinor int64) (string, error) {
	existingID, err := s.repo.FindOrderIDByInvoiceID(ctx, invoice.ID)
	if err == nil && existingID != "" {
		order, fetchErr := s.processor.FetchOrder(ctx, existingID)
		if fetchErr == nil && order.Status != "paid" && order.AmountMinor == amountMinor {
			log.Printf("level=info component=service op=create_checkout invoice_id=%d order_id=%s outcome=reused", invoice.ID, existingID)
			return existingID, nil
		}
	} else if err != nil && !errors.Is(err, store.ErrMappingNotFound) {
		log.Printf("level=warn component=service op=create_checkout invoice_id=%d msg=\"mapping lookup failed; creating fresh order\" err=%v", invoice.ID, err)
	}

	order, err := s.processor.CreateOrder(ctx, razorpayclient.OrderRequest{
		AmountMinor:    amountMinor,
		Currency:       invoice.Currency,
		Receipt:        strconv.FormatInt(invoice.ID, 10),
		PaymentCapture: s.settings.PaymentAction == PaymentActionCapture,
		Notes:          map[string]string{domain.InvoiceNoteKey: strconv.FormatInt(invoice.ID, 10)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create razorpay order for invoice %d: %w", invoice.ID, err)
	}

	if err := s.repo.UpsertOrderMapping(ctx, invoice.ID, order.ID); err != nil {
		log.Printf("level=warn component=service op=create_checkout invoice_id=%d order_id=%s msg=\"mapping upsert failed; relying on order notes\" err=%v", invoice.ID, order.ID, err)
	}
	log.Printf("level=info component=service op=create_checkout invoice_id=%d order_id=%s outcome=created", invoice.ID, order.ID)
	return order.ID, nil
}

// InvoiceStatus returns the current billing state of an invoice.
func (s *Service) InvoiceStatus(ctx context.Context, invoiceID int64) (*domain.Invoice, error) {
	return s.repo.GetInvoice(ctx, invoiceID)
}

// ReconcileCallback settles one invoice from the browser redirect posted by
// Razorpay checkout. The signature binds the payment to the order; the order
// is then bound to the invoice through the mapping table (or the posted
// order id when no mapping survives).
func (s *Service) ReconcileCallback(ctx context.Context, in domain.CallbackInput) (*domain.ReconcileResult, error) {
	if in.InvoiceID <= 0 || in.RazorpayPaymentID == "" || in.Signature == "" {
		return nil, fmt.Errorf("%w: missing callback fields", ErrValidation)
	}

	invoice, err := s.repo.GetInvoice(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.InvoiceStatusPaid {
		log.Printf("level=info component=service op=reconcile_callback invoice_id=%d outcome=already_paid", in.InvoiceID)
		return &domain.ReconcileResult{Outcome: domain.OutcomeAlreadyPaid}, nil
	}

	orderID := in.RazorpayOrderID
	if orderID == "" {
		orderID, err = s.repo.FindOrderIDByInvoiceID(ctx, in.InvoiceID)
		if err != nil {
			return nil, fmt.Errorf("%w: no order id in callback and no mapping for invoice %d", ErrValidation, in.InvoiceID)
		}
	}

	if err := signature.VerifyCheckout(orderID, in.RazorpayPaymentID, in.Signature, s.settings.KeySecret); err != nil {
		s.logEvent(ctx, "callback_signature_failed", map[string]any{
			"invoice_id": in.InvoiceID,
			"payment_id": in.RazorpayPaymentID,
			"order_id":   orderID,
		})
		log.Printf("level=warn component=service op=reconcile_callback invoice_id=%d payment_id=%s outcome=signature_failed", in.InvoiceID, in.RazorpayPaymentID)
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	payment, err := s.processor.FetchPayment(ctx, in.RazorpayPaymentID)
	if err != nil {
		// The signature already authenticates the payment. With the API
		// unreachable, credit the invoice total with zero fees.
		log.Printf("level=warn component=service op=reconcile_callback invoice_id=%d payment_id=%s outcome=degraded msg=\"payment fetch failed; crediting invoice total\" err=%v", in.InvoiceID, in.RazorpayPaymentID, err)
		s.logEvent(ctx, "callback_degraded", map[string]any{
			"invoice_id": in.InvoiceID,
			"payment_id": in.RazorpayPaymentID,
			"order_id":   orderID,
			"error":      err.Error(),
		})
		payment = &domain.Payment{
			ID:          in.RazorpayPaymentID,
			OrderID:     orderID,
			Status:      domain.PaymentStatusCaptured,
			AmountMinor: invoice.TotalMinor,
			Currency:    invoice.Currency,
		}
		return s.commitPayment(ctx, invoice, payment, "callback")
	}

	// With automatic capture configured, a payment can still be sitting in
	// authorized when the redirect lands. Capture it for the full amount.
	if payment.Status == domain.PaymentStatusAuthorized && s.settings.PaymentAction == PaymentActionCapture {
		captured, capErr := s.processor.CapturePayment(ctx, payment.ID, payment.AmountMinor, payment.Currency)
		if capErr != nil {
			return nil, fmt.Errorf("failed to capture payment %s: %w", payment.ID, capErr)
		}
		payment = captured
	}

	if payment.Status != domain.PaymentStatusCaptured {
		log.Printf("level=warn component=service op=reconcile_callback invoice_id=%d payment_id=%s status=%s outcome=not_captured", in.InvoiceID, payment.ID, payment.Status)
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotCaptured, payment.Status)
	}

	return s.commitPayment(ctx, invoice, payment, "callback")
}

// ReconcileWebhook settles invoices from asynchronous webhook deliveries.
// The caller has already verified the body signature. Unrecognized events
// return a nil result and are acknowledged upstream.
func (s *Service) ReconcileWebhook(ctx context.Context, event *domain.WebhookEvent) (*domain.ReconcileResult, error) {
	switch event.Event {
	case domain.EventPaymentCaptured, domain.EventOrderPaid:
		if event.Payload.Payment == nil {
			return nil, fmt.Errorf("%w: %s event without payment entity", ErrValidation, event.Event)
		}
		return s.reconcileWebhookPayment(ctx, event)
	case domain.EventRefundCreated, domain.EventRefundProcessed:
		return nil, s.handleWebhookRefund(ctx, event)
	default:
		log.Printf("level=info component=service op=reconcile_webhook event=%s outcome=ignored", event.Event)
		return nil, nil
	}
}

func (s *Service) reconcileWebhookPayment(ctx context.Context, event *domain.WebhookEvent) (*domain.ReconcileResult, error) {
	payment := event.Payload.Payment.Entity
	if payment.Status != domain.PaymentStatusCaptured {
		log.Printf("level=info component=service op=reconcile_webhook event=%s payment_id=%s status=%s outcome=ignored", event.Event, payment.ID, payment.Status)
		return nil, nil
	}

	invoiceID, err := s.resolveInvoiceForPayment(ctx, &payment, event.Payload.Order)
	if err != nil {
		s.logEvent(ctx, "webhook_unmatched", map[string]any{
			"event":      event.Event,
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
		})
		log.Printf("level=warn component=service op=reconcile_webhook event=%s payment_id=%s outcome=no_match err=%v", event.Event, payment.ID, err)
		return &domain.ReconcileResult{Outcome: domain.OutcomeNoMatch}, nil
	}

	invoice, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.InvoiceStatusPaid {
		log.Printf("level=info component=service op=reconcile_webhook invoice_id=%d payment_id=%s outcome=already_paid", invoiceID, payment.ID)
		return &domain.ReconcileResult{Outcome: domain.OutcomeAlreadyPaid}, nil
	}

	if !amountWithinTolerance(invoice.TotalMinor, payment.AmountMinor, s.settings.FeeTolerancePercent) {
		s.logEvent(ctx, "webhook_amount_mismatch", map[string]any{
			"invoice_id":     invoiceID,
			"payment_id":     payment.ID,
			"invoice_total":  invoice.TotalMinor,
			"payment_amount": payment.AmountMinor,
		})
		log.Printf("level=warn component=service op=reconcile_webhook invoice_id=%d payment_id=%s outcome=no_match msg=\"amount outside tolerance\"", invoiceID, payment.ID)
		return &domain.ReconcileResult{Outcome: domain.OutcomeNoMatch}, nil
	}

	return s.commitPayment(ctx, invoice, &payment, "webhook")
}

// resolveInvoiceForPayment correlates a webhook payment back to an invoice:
// payment notes, then order notes/receipt, then the reverse order mapping.
func (s *Service) resolveInvoiceForPayment(ctx context.Context, payment *domain.Payment, orderEntity *domain.WebhookEntity[domain.Order]) (int64, error) {
	if payment.Notes != nil {
		if raw, ok := payment.Notes[domain.InvoiceNoteKey]; ok {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				return id, nil
			}
		}
	}
	if orderEntity != nil {
		order := orderEntity.Entity
		if order.Notes != nil {
			if raw, ok := order.Notes[domain.InvoiceNoteKey]; ok {
				if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
					return id, nil
				}
			}
		}
		if id, err := strconv.ParseInt(order.Receipt, 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	if payment.OrderID != "" {
		return s.repo.FindInvoiceIDByOrderID(ctx, payment.OrderID)
	}
	return 0, errors.New("no invoice correlation on payment or order")
}

func (s *Service) handleWebhookRefund(ctx context.Context, event *domain.WebhookEvent) error {
	if event.Payload.Refund == nil {
		return fmt.Errorf("%w: %s event without refund entity", ErrValidation, event.Event)
	}
	refund := event.Payload.Refund.Entity

	invoiceID := int64(0)
	if event.Payload.Payment != nil {
		if id, err := s.resolveInvoiceForPayment(ctx, &event.Payload.Payment.Entity, nil); err == nil {
			invoiceID = id
		}
	}

	s.logEvent(ctx, "refund_"+refund.Status, map[string]any{
		"invoice_id": invoiceID,
		"refund_id":  refund.ID,
		"payment_id": refund.PaymentID,
		"amount":     refund.AmountMinor,
	})
	log.Printf("level=info component=service op=reconcile_webhook event=%s refund_id=%s payment_id=%s amount=%d", event.Event, refund.ID, refund.PaymentID, refund.AmountMinor)

	if event.Event == domain.EventRefundProcessed && s.producer != nil {
		if err := s.producer.PublishRefundProcessed(ctx, rabbitmq.RefundProcessedEvent{
			InvoiceID:     invoiceID,
			RefundID:      refund.ID,
			TransactionID: refund.PaymentID,
			AmountMinor:   refund.AmountMinor,
			Timestamp:     time.Now(),
		}); err != nil {
			log.Printf("level=warn component=service op=reconcile_webhook msg=\"refund event publish failed\" refund_id=%s err=%v", refund.ID, err)
		}
	}
	return nil
}

// commitPayment applies the fee policy, writes the payment record, and emits
// the audit log row and broker event. A unique violation from the store means
// another entry point won the race; that is reported as a duplicate outcome,
// not an error.
func (s *Service) commitPayment(ctx context.Context, invoice *domain.Invoice, payment *domain.Payment, source string) (*domain.ReconcileResult, error) {
	exists, err := s.repo.PaymentRecordExists(ctx, invoice.ID, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing payment record: %w", err)
	}
	if exists {
		log.Printf("level=info component=service op=commit_payment invoice_id=%d transaction_id=%s source=%s outcome=duplicate", invoice.ID, payment.ID, source)
		return &domain.ReconcileResult{Outcome: domain.OutcomeDuplicate}, nil
	}

	amount, fee := allocateFee(s.settings.FeePolicy, invoice.TotalMinor, payment.AmountMinor)
	record := &domain.PaymentRecord{
		InvoiceID:     invoice.ID,
		TransactionID: payment.ID,
		AmountMinor:   amount,
		FeesMinor:     fee,
		Gateway:       domain.Gateway,
		PaidAt:        s.paymentDate(payment.CreatedAt),
	}

	if err := s.repo.ApplyInvoicePayment(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicatePayment) {
			log.Printf("level=info component=service op=commit_payment invoice_id=%d transaction_id=%s source=%s outcome=duplicate msg=\"lost insert race\"", invoice.ID, payment.ID, source)
			return &domain.ReconcileResult{Outcome: domain.OutcomeDuplicate}, nil
		}
		return nil, fmt.Errorf("failed to apply payment to invoice %d: %w", invoice.ID, err)
	}

	s.logEvent(ctx, "payment_recorded", map[string]any{
		"invoice_id":     invoice.ID,
		"transaction_id": payment.ID,
		"amount":         amount,
		"fees":           fee,
		"source":         source,
	})

	if s.producer != nil {
		if err := s.producer.PublishPaymentRecorded(ctx, rabbitmq.PaymentRecordedEvent{
			InvoiceID:     invoice.ID,
			TransactionID: payment.ID,
			AmountMinor:   amount,
			FeesMinor:     fee,
			Currency:      payment.Currency,
			Source:        source,
			Timestamp:     time.Now(),
		}); err != nil {
			log.Printf("level=warn component=service op=commit_payment msg=\"event publish failed\" invoice_id=%d err=%v", invoice.ID, err)
		}
	}

	log.Printf("level=info component=service op=commit_payment invoice_id=%d transaction_id=%s amount=%d fees=%d source=%s outcome=committed", invoice.ID, payment.ID, amount, fee, source)
	return &domain.ReconcileResult{Outcome: domain.OutcomeCommitted, Record: record}, nil
}

// Refund issues a refund against the recorded transaction for an invoice.
// A zero amount refunds the payment in full.
func (s *Service) Refund(ctx context.Context, invoiceID int64, transactionID string, amountMinor int64, reason string) (*domain.Refund, error) {
	if invoiceID <= 0 || transactionID == "" {
		return nil, fmt.Errorf("%w: invoice id and transaction id are required", ErrValidation)
	}

	exists, err := s.repo.PaymentRecordExists(ctx, invoiceID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check payment record: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: no payment record for invoice %d transaction %s", ErrValidation, invoiceID, transactionID)
	}

	notes := map[string]string{
		domain.InvoiceNoteKey: strconv.FormatInt(invoiceID, 10),
	}
	if reason != "" {
		notes["reason"] = reason
	}

	refund, err := s.processor.CreateRefund(ctx, transactionID, amountMinor, notes)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund for payment %s: %w", transactionID, err)
	}

	s.logEvent(ctx, "refund_requested", map[string]any{
		"invoice_id":     invoiceID,
		"transaction_id": transactionID,
		"refund_id":      refund.ID,
		"amount":         refund.AmountMinor,
	})
	log.Printf("level=info component=service op=refund invoice_id=%d transaction_id=%s refund_id=%s amount=%d", invoiceID, transactionID, refund.ID, refund.AmountMinor)
	return refund, nil
}

// logEvent appends one gateway log row; failures are logged and swallowed.
func (s *Service) logEvent(ctx context.Context, statusLabel string, payload any) {
	if err := s.repo.LogGatewayEvent(ctx, domain.Gateway, statusLabel, payload); err != nil {
		log.Printf("level=warn component=service msg=\"gateway log write failed\" status=%s err=%v", statusLabel, err)
	}
}
