/**
 * @description
 * Typed envelope for Razorpay webhook deliveries. The raw JSON body is decoded
 * into this structure after signature verification; payload entities reuse the
 * boundary types from payment.go so downstream code never touches untyped maps.
 */

package domain

// Webhook event names recognized by the bridge. Anything else is acknowledged
// and ignored.
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
	EventRefundCreated   = "refund.created"
	EventRefundProcessed = "refund.processed"
)

// WebhookEvent is the top-level webhook body.
type WebhookEvent struct {
	Event     string         `json:"event"`
	AccountID string         `json:"account_id"`
	Payload   WebhookPayload `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

// WebhookPayload carries the entities relevant to the event type. Razorpay
// nests each entity under an "entity" wrapper.
type WebhookPayload struct {
	Payment *WebhookEntity[Payment] `json:"payment,omitempty"`
	Order   *WebhookEntity[Order]   `json:"order,omitempty"`
	Refund  *WebhookEntity[Refund]  `json:"refund,omitempty"`
}

// WebhookEntity is the {"entity": {...}} wrapper around each payload object.
type WebhookEntity[T any] struct {
	Entity T `json:"entity"`
}
