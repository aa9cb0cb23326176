/**
 * @description
 * This package verifies that a claimed payment or webhook event was authentically
 * produced by Razorpay. Checkout redirects carry an HMAC-SHA256 over
 * "<order_id>|<payment_id>" keyed with the merchant API secret; webhooks carry an
 * HMAC-SHA256 over the raw request body keyed with a separate webhook secret.
 *
 * Both checks fail closed: a missing secret or signature is a verification
 * failure, never a skipped check. Comparison is constant time via hmac.Equal on
 * the raw digest bytes. The functions are pure; logging and flow decisions
 * belong to callers.
 */

package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrSignatureMismatch is returned for any failed verification, including
	// malformed or absent signatures.
	ErrSignatureMismatch = errors.New("signature verification failed")

	// ErrSecretMissing is returned when no secret is configured to verify with.
	ErrSecretMissing = errors.New("signature secret not configured")
)

// VerifyCheckout checks the signature posted back by the hosted checkout form.
// The signed message is "<orderID>|<paymentID>" and the signature is expected
// hex encoded, as produced by Razorpay.
func VerifyCheckout(orderID, paymentID, signature, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return ErrSecretMissing
	}
	if orderID == "" || paymentID == "" {
		return ErrSignatureMismatch
	}
	return verifyHex([]byte(orderID+"|"+paymentID), signature, secret)
}

// VerifyWebhook checks the X-Razorpay-Signature header against the raw,
// un-parsed request body. The webhook secret is distinct from the API secret.
func VerifyWebhook(body []byte, signatureHeader, webhookSecret string) error {
	if strings.TrimSpace(webhookSecret) == "" {
		return ErrSecretMissing
	}
	return verifyHex(body, signatureHeader, webhookSecret)
}

func verifyHex(message []byte, signature, secret string) error {
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	expected := mac.Sum(nil)

	if !hmac.Equal(provided, expected) {
		return ErrSignatureMismatch
	}
	return nil
}
