package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func checkoutSignature(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyCheckout(t *testing.T) {
	const secret = "test_key_secret"
	valid := checkoutSignature("order_ABC123", "pay_XYZ789", secret)

	// Flip one hex nibble to produce a same-length forged signature.
	mutated := []byte(valid)
	if mutated[0] == 'a' {
		mutated[0] = 'b'
	} else {
		mutated[0] = 'a'
	}

	tests := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
		secret    string
		wantErr   error
	}{
		{
			name:      "valid signature verifies",
			orderID:   "order_ABC123",
			paymentID: "pay_XYZ789",
			signature: valid,
			secret:    secret,
		},
		{
			name:      "single byte mutation fails",
			orderID:   "order_ABC123",
			paymentID: "pay_XYZ789",
			signature: string(mutated),
			secret:    secret,
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "wrong secret fails",
			orderID:   "order_ABC123",
			paymentID: "pay_XYZ789",
			signature: valid,
			secret:    "other_secret",
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "empty signature fails",
			orderID:   "order_ABC123",
			paymentID: "pay_XYZ789",
			signature: "",
			secret:    secret,
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "non-hex signature fails",
			orderID:   "order_ABC123",
			paymentID: "pay_XYZ789",
			signature: "not-hex-at-all",
			secret:    secret,
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "missing secret fails closed",
			orderID:   "order_ABC123",
			paymentID: "pay_XYZ789",
			signature: valid,
			secret:    "",
			wantErr:   ErrSecretMissing,
		},
		{
			name:      "empty order id fails",
			orderID:   "",
			paymentID: "pay_XYZ789",
			signature: valid,
			secret:    secret,
			wantErr:   ErrSignatureMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyCheckout(tt.orderID, tt.paymentID, tt.signature, tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestVerifyWebhook(t *testing.T) {
	const secret = "whsec_testing"
	body := []byte(`{"event":"payment.captured","payload":{}}`)
	valid := webhookSignature(body, secret)

	if err := VerifyWebhook(body, valid, secret); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}
	if err := VerifyWebhook(body, valid, ""); !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing for empty secret, got %v", err)
	}
	if err := VerifyWebhook(body, webhookSignature(body, "other"), secret); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch for wrong secret, got %v", err)
	}

	// Signature computed over a different body must not verify, even if the
	// decoded JSON would be equivalent after re-serialization.
	altered := []byte(`{"event":"payment.captured","payload":{ }}`)
	if err := VerifyWebhook(altered, valid, secret); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch for altered body, got %v", err)
	}
}
