package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/securiace/razorpay-gateway/internal/app"
	"github.com/securiace/razorpay-gateway/internal/domain"
	"github.com/securiace/razorpay-gateway/internal/store"
	"github.com/securiace/razorpay-gateway/pkg/razorpayclient"
)

const (
	testKeySecret     = "test_key_secret"
	testWebhookSecret = "test_webhook_secret"
)

type apiRepoStub struct {
	store.Repository

	invoices map[int64]*domain.Invoice
	mappings map[int64]string
	records  map[string]*domain.PaymentRecord
}

func newAPIRepoStub() *apiRepoStub {
	return &apiRepoStub{
		invoices: make(map[int64]*domain.Invoice),
		mappings: make(map[int64]string),
		records:  make(map[string]*domain.PaymentRecord),
	}
}

func (s *apiRepoStub) GetInvoice(ctx context.Context, invoiceID int64) (*domain.Invoice, error) {
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, store.ErrInvoiceNotFound
	}
	copied := *inv
	return &copied, nil
}

func (s *apiRepoStub) FindOrderIDByInvoiceID(ctx context.Context, invoiceID int64) (string, error) {
	orderID, ok := s.mappings[invoiceID]
	if !ok {
		return "", store.ErrMappingNotFound
	}
	return orderID, nil
}

func (s *apiRepoStub) FindInvoiceIDByOrderID(ctx context.Context, razorpayOrderID string) (int64, error) {
	for invoiceID, orderID := range s.mappings {
		if orderID == razorpayOrderID {
			return invoiceID, nil
		}
	}
	return 0, store.ErrMappingNotFound
}

func (s *apiRepoStub) UpsertOrderMapping(ctx context.Context, invoiceID int64, razorpayOrderID string) error {
	s.mappings[invoiceID] = razorpayOrderID
	return nil
}

func (s *apiRepoStub) PaymentRecordExists(ctx context.Context, invoiceID int64, transactionID string) (bool, error) {
	_, ok := s.records[fmt.Sprintf("%d|%s", invoiceID, transactionID)]
	return ok, nil
}

func (s *apiRepoStub) ApplyInvoicePayment(ctx context.Context, record *domain.PaymentRecord) error {
	key := fmt.Sprintf("%d|%s", record.InvoiceID, record.TransactionID)
	if _, ok := s.records[key]; ok {
		return store.ErrDuplicatePayment
	}
	s.records[key] = record
	if inv, ok := s.invoices[record.InvoiceID]; ok {
		inv.AmountPaidMinor += record.AmountMinor
		if inv.AmountPaidMinor >= inv.TotalMinor {
			inv.Status = domain.InvoiceStatusPaid
		}
	}
	return nil
}

func (s *apiRepoStub) LogGatewayEvent(ctx context.Context, gateway, statusLabel string, payload any) error {
	return nil
}

func (s *apiRepoStub) ListOverpaidRecords(ctx context.Context, gateway string, limit int) ([]store.OverpaidRecord, error) {
	return nil, nil
}

type apiProcessorStub struct {
	payments map[string]*domain.Payment
}

func (p *apiProcessorStub) CreateOrder(ctx context.Context, req razorpayclient.OrderRequest) (*domain.Order, error) {
	return &domain.Order{ID: "order_new", AmountMinor: req.AmountMinor, Currency: req.Currency, Receipt: req.Receipt, Status: "created", Notes: req.Notes}, nil
}

func (p *apiProcessorStub) FetchOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return nil, fmt.Errorf("order %s not found", orderID)
}

func (p *apiProcessorStub) ListOrders(ctx context.Context, from, to int64, count, skip int) ([]domain.Order, error) {
	return nil, nil
}

func (p *apiProcessorStub) FetchPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, ok := p.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", paymentID)
	}
	return payment, nil
}

func (p *apiProcessorStub) ListPayments(ctx context.Context, from, to int64, count, skip int) ([]domain.Payment, error) {
	return nil, nil
}

func (p *apiProcessorStub) FetchOrderPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return nil, nil
}

func (p *apiProcessorStub) CapturePayment(ctx context.Context, paymentID string, amountMinor int64, currency string) (*domain.Payment, error) {
	return nil, fmt.Errorf("capture not expected in this test")
}

func (p *apiProcessorStub) CreateRefund(ctx context.Context, paymentID string, amountMinor int64, notes map[string]string) (*domain.Refund, error) {
	return &domain.Refund{ID: "rfnd_1", PaymentID: paymentID, AmountMinor: amountMinor, Status: "processed"}, nil
}

func newTestServer(repo *apiRepoStub, processor *apiProcessorStub) http.Handler {
	svc := app.NewService(repo, processor, nil, nil, app.Settings{
		KeyID:         "rzp_test_key",
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
	})
	h := NewGatewayHandlers(svc, "https://billing.example.com")
	webhook := NewWebhookHandler(svc, testWebhookSecret, nil)
	return GatewayRoutes(h, webhook, "internal-test-key")
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func checkoutSig(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testKeySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	repo := newAPIRepoStub()
	repo.invoices[42] = &domain.Invoice{ID: 42, TotalMinor: 100000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
	server := newTestServer(repo, &apiProcessorStub{})

	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","amount":100000,"currency":"INR","status":"captured","notes":{"billing_invoice_id":"42"}}}}}`)
	req := httptest.NewRequest("POST", "/webhook/razorpay", strings.NewReader(string(body)))
	req.Header.Set("X-Razorpay-Signature", signBody(body, "wrong_secret"))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(repo.records) != 0 {
		t.Fatalf("expected no payment records after rejected webhook, got %d", len(repo.records))
	}
}

func TestWebhookCommitsCapturedPayment(t *testing.T) {
	repo := newAPIRepoStub()
	repo.invoices[42] = &domain.Invoice{ID: 42, TotalMinor: 100000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
	server := newTestServer(repo, &apiProcessorStub{})

	event := domain.WebhookEvent{
		Event: domain.EventPaymentCaptured,
		Payload: domain.WebhookPayload{
			Payment: &domain.WebhookEntity[domain.Payment]{
				Entity: domain.Payment{
					ID:          "pay_1",
					AmountMinor: 100000,
					Currency:    "INR",
					Status:      domain.PaymentStatusCaptured,
					Notes:       map[string]string{domain.InvoiceNoteKey: "42"},
					CreatedAt:   time.Now().Unix(),
				},
			},
		},
	}
	body, _ := json.Marshal(event)

	req := httptest.NewRequest("POST", "/webhook/razorpay", strings.NewReader(string(body)))
	req.Header.Set("X-Razorpay-Signature", signBody(body, testWebhookSecret))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.records) != 1 {
		t.Fatalf("expected one payment record, got %d", len(repo.records))
	}
}

func TestWebhookAcknowledgesUnknownEvent(t *testing.T) {
	server := newTestServer(newAPIRepoStub(), &apiProcessorStub{})

	body := []byte(`{"event":"invoice.expired","payload":{}}`)
	req := httptest.NewRequest("POST", "/webhook/razorpay", strings.NewReader(string(body)))
	req.Header.Set("X-Razorpay-Signature", signBody(body, testWebhookSecret))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unrecognized event, got %d", rec.Code)
	}
}

func TestCallbackRedirectsOnSuccess(t *testing.T) {
	repo := newAPIRepoStub()
	repo.invoices[42] = &domain.Invoice{ID: 42, TotalMinor: 100000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
	processor := &apiProcessorStub{payments: map[string]*domain.Payment{
		"pay_abc123": {
			ID:          "pay_abc123",
			OrderID:     "order_abc123",
			AmountMinor: 100000,
			Currency:    "INR",
			Status:      domain.PaymentStatusCaptured,
			CreatedAt:   time.Now().Unix(),
		},
	}}
	server := newTestServer(repo, processor)

	form := url.Values{}
	form.Set("merchant_order_id", "42")
	form.Set("razorpay_payment_id", "pay_abc123")
	form.Set("razorpay_order_id", "order_abc123")
	form.Set("razorpay_signature", checkoutSig("order_abc123", "pay_abc123"))

	req := httptest.NewRequest("POST", "/callback/razorpay", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	location := rec.Header().Get("Location")
	if !strings.Contains(location, "viewinvoice.php?id=42") || !strings.Contains(location, "paymentsuccess=1") {
		t.Fatalf("unexpected redirect target %q", location)
	}
	if len(repo.records) != 1 {
		t.Fatalf("expected one payment record, got %d", len(repo.records))
	}
}

func TestCallbackRedirectsToFailureOnBadSignature(t *testing.T) {
	repo := newAPIRepoStub()
	repo.invoices[42] = &domain.Invoice{ID: 42, TotalMinor: 100000, Currency: "INR", Status: domain.InvoiceStatusUnpaid}
	server := newTestServer(repo, &apiProcessorStub{})

	form := url.Values{}
	form.Set("merchant_order_id", "42")
	form.Set("razorpay_payment_id", "pay_abc123")
	form.Set("razorpay_order_id", "order_abc123")
	form.Set("razorpay_signature", checkoutSig("order_abc123", "pay_forged"))

	req := httptest.NewRequest("POST", "/callback/razorpay", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "paymentfailed=1") {
		t.Fatalf("expected failure redirect, got %q", rec.Header().Get("Location"))
	}
	if len(repo.records) != 0 {
		t.Fatalf("expected no payment records, got %d", len(repo.records))
	}
}

func TestCallbackRejectsMalformedFields(t *testing.T) {
	server := newTestServer(newAPIRepoStub(), &apiProcessorStub{})

	tests := []struct {
		name   string
		mutate func(form url.Values)
	}{
		{name: "missing invoice id", mutate: func(f url.Values) { f.Del("merchant_order_id") }},
		{name: "bad payment id shape", mutate: func(f url.Values) { f.Set("razorpay_payment_id", "DROP TABLE") }},
		{name: "bad order id shape", mutate: func(f url.Values) { f.Set("razorpay_order_id", "not-an-order") }},
		{name: "missing signature", mutate: func(f url.Values) { f.Del("razorpay_signature") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{}
			form.Set("merchant_order_id", "42")
			form.Set("razorpay_payment_id", "pay_abc123")
			form.Set("razorpay_order_id", "order_abc123")
			form.Set("razorpay_signature", checkoutSig("order_abc123", "pay_abc123"))
			tt.mutate(form)

			req := httptest.NewRequest("POST", "/callback/razorpay", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestCheckoutRendersOrderDetails(t *testing.T) {
	repo := newAPIRepoStub()
	repo.invoices[42] = &domain.Invoice{
		ID:          42,
		TotalMinor:  100000,
		Currency:    "INR",
		Status:      domain.InvoiceStatusUnpaid,
		ClientName:  "Asha Rao",
		ClientEmail: "asha@example.com",
	}
	server := newTestServer(repo, &apiProcessorStub{})

	req := httptest.NewRequest("GET", "/checkout/42", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	page := rec.Body.String()
	for _, want := range []string{"checkout.razorpay.com", "order_new", "rzp_test_key", `data-amount="100000"`} {
		if !strings.Contains(page, want) {
			t.Fatalf("expected page to contain %q", want)
		}
	}
	if repo.mappings[42] != "order_new" {
		t.Fatalf("expected order mapping persisted, got %q", repo.mappings[42])
	}
}

func TestInternalRoutesRequireAPIKey(t *testing.T) {
	server := newTestServer(newAPIRepoStub(), &apiProcessorStub{})

	req := httptest.NewRequest("POST", "/internal/sync", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/internal/fix-fees", strings.NewReader(`{}`))
	req.Header.Set("X-Internal-Api-Key", "internal-test-key")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d: %s", rec.Code, rec.Body.String())
	}
}
