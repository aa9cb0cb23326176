/**
 * @description
 * This package provides a client for the Razorpay REST API (v1). It covers the
 * order, payment, and refund endpoints the gateway bridge needs: creating
 * orders at checkout time, fetching and listing payments for reconciliation,
 * capturing authorized payments, and issuing refunds.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, net/url, time: Standard Go libraries.
 * - internal/domain: Boundary types shared with the rest of the service.
 *
 * @notes
 * - Razorpay authenticates with HTTP basic auth: key id as user, key secret
 *   as password. All amounts on the wire are already in paise.
 */
package razorpayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/securiace/razorpay-gateway/internal/domain"
)

// DefaultBaseURL is the production Razorpay API endpoint.
const DefaultBaseURL = "https://api.razorpay.com/v1"

// Client is a client for the Razorpay API.
type Client struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	HTTPClient *http.Client
}

// NewClient creates a new Razorpay API client.
func NewClient(baseURL, keyID, keySecret string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:   baseURL,
		KeyID:     keyID,
		KeySecret: keySecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// OrderRequest is the payload for creating a Razorpay order.
type OrderRequest struct {
	AmountMinor    int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Receipt        string            `json:"receipt"`
	PaymentCapture bool              `json:"payment_capture"`
	Notes          map[string]string `json:"notes,omitempty"`
}

// CaptureRequest is the payload for capturing an authorized payment.
type CaptureRequest struct {
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// RefundRequest is the payload for refunding a captured payment.
type RefundRequest struct {
	AmountMinor int64             `json:"amount,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// collection is Razorpay's list envelope.
type collection[T any] struct {
	Count int `json:"count"`
	Items []T `json:"items"`
}

// ErrorResponse represents an error from the Razorpay API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	ErrorBody  struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorBody.Code != "" {
		return fmt.Sprintf("razorpay api error: %s - %s", e.ErrorBody.Code, e.ErrorBody.Description)
	}
	return fmt.Sprintf("razorpay api error: status %d", e.StatusCode)
}

// CreateOrder creates a new order ahead of checkout.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	var order domain.Order
	if err := c.do(ctx, "POST", "/orders", nil, req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchOrder retrieves a single order by id.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	if err := c.do(ctx, "GET", "/orders/"+orderID, nil, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders returns orders created inside the [from, to] window, newest
// first, in pages of count starting at skip. Unix-second bounds of zero are
// omitted from the query.
func (c *Client) ListOrders(ctx context.Context, from, to int64, count, skip int) ([]domain.Order, error) {
	q := windowQuery(from, to, count, skip)
	var coll collection[domain.Order]
	if err := c.do(ctx, "GET", "/orders", q, nil, &coll); err != nil {
		return nil, err
	}
	return coll.Items, nil
}

// FetchPayment retrieves a single payment by id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var payment domain.Payment
	if err := c.do(ctx, "GET", "/payments/"+paymentID, nil, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPayments returns payments created inside the [from, to] window.
func (c *Client) ListPayments(ctx context.Context, from, to int64, count, skip int) ([]domain.Payment, error) {
	q := windowQuery(from, to, count, skip)
	var coll collection[domain.Payment]
	if err := c.do(ctx, "GET", "/payments", q, nil, &coll); err != nil {
		return nil, err
	}
	return coll.Items, nil
}

// FetchOrderPayments returns every payment attempted against an order.
func (c *Client) FetchOrderPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	var coll collection[domain.Payment]
	if err := c.do(ctx, "GET", "/orders/"+orderID+"/payments", nil, nil, &coll); err != nil {
		return nil, err
	}
	return coll.Items, nil
}

// CapturePayment captures an authorized payment for the given amount.
func (c *Client) CapturePayment(ctx context.Context, paymentID string, amountMinor int64, currency string) (*domain.Payment, error) {
	req := CaptureRequest{AmountMinor: amountMinor, Currency: currency}
	var payment domain.Payment
	if err := c.do(ctx, "POST", "/payments/"+paymentID+"/capture", nil, req, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreateRefund refunds a captured payment. A zero amount refunds in full.
func (c *Client) CreateRefund(ctx context.Context, paymentID string, amountMinor int64, notes map[string]string) (*domain.Refund, error) {
	req := RefundRequest{AmountMinor: amountMinor, Notes: notes}
	var refund domain.Refund
	if err := c.do(ctx, "POST", "/payments/"+paymentID+"/refund", nil, req, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// do executes one authenticated request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s request: %w", method, path, err)
		}
		body = bytes.NewBuffer(raw)
	}

	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create %s %s request: %w", method, path, err)
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s %s request: %w", method, path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=razorpay_client op=%q status=%d msg=\"non-2xx response (unparsable error body)\"", method+" "+path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=razorpay_client op=%q status=%d code=%q description=%q", method+" "+path, resp.StatusCode, errResp.ErrorBody.Code, errResp.ErrorBody.Description)
		return errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func windowQuery(from, to int64, count, skip int) url.Values {
	q := url.Values{}
	if from > 0 {
		q.Set("from", strconv.FormatInt(from, 10))
	}
	if to > 0 {
		q.Set("to", strconv.FormatInt(to, 10))
	}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	return q
}
