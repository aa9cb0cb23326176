/**
 * @description
 * Gateway fee allocation policy. When the checkout adds a convenience fee on
 * top of the invoice total, the operator chooses who bears it: the merchant
 * absorbs the surcharge (the invoice is credited its own total and the excess
 * is booked as fees) or the client pays it (the full captured amount is
 * credited and fees stay zero).
 */

package app

// Fee policies. Configured once per deployment via FEE_MODE.
const (
	FeePolicyMerchantAbsorbs = "merchant_absorbs"
	FeePolicyClientPays      = "client_pays"
)

// allocateFee splits a captured amount into the amount credited to the invoice
// and the gateway fee, according to policy. Amounts at or below the invoice
// total are credited as-is with zero fee under either policy.
func allocateFee(policy string, invoiceTotalMinor, capturedMinor int64) (amountMinor, feeMinor int64) {
	if capturedMinor <= invoiceTotalMinor {
		return capturedMinor, 0
	}
	if policy == FeePolicyClientPays {
		return capturedMinor, 0
	}
	return invoiceTotalMinor, capturedMinor - invoiceTotalMinor
}
