/**
 * @description
 * Payment matching rules for batch reconciliation. Given an unpaid invoice and
 * a window of Razorpay orders and payments, the matcher finds the captured
 * payment that settles the invoice: first by explicit correlation (order
 * mapping, notes, receipt), then by amount within the surcharge tolerance.
 *
 * @notes
 * - Checkout may add a convenience fee on top of the invoice total, so an
 *   exact amount match is not required: anything from the total up to the
 *   configured tolerance above it counts.
 * - Only captured payments are candidates. Ties are broken by earliest
 *   created_at, then lexicographically smallest payment id, so repeated runs
 *   over the same window pick the same payment.
 */

package app

import (
	"sort"
	"strconv"

	"github.com/securiace/razorpay-gateway/internal/domain"
)

// defaultFeeTolerancePercent caps how far above the invoice total a captured
// amount may land and still match (checkout surcharges run well under this).
const defaultFeeTolerancePercent = 5.0

// amountWithinTolerance reports whether a captured amount settles an invoice
// total: equal, or above it by at most tolerancePercent.
func amountWithinTolerance(invoiceTotalMinor, capturedMinor int64, tolerancePercent float64) bool {
	if capturedMinor == invoiceTotalMinor {
		return true
	}
	if capturedMinor < invoiceTotalMinor {
		return false
	}
	max := float64(invoiceTotalMinor) * (1 + tolerancePercent/100)
	return float64(capturedMinor) <= max
}

// orderMatchesInvoice reports whether an order explicitly references the
// invoice, via the notes key stamped at order creation or the receipt field.
func orderMatchesInvoice(order *domain.Order, invoiceID int64) bool {
	id := strconv.FormatInt(invoiceID, 10)
	if order.Notes != nil && order.Notes[domain.InvoiceNoteKey] == id {
		return true
	}
	return order.Receipt == id
}

// paymentMatchesInvoice reports whether a payment's own notes reference the
// invoice. Order notes propagate onto payments, so this also covers payments
// whose order fell outside the listing window.
func paymentMatchesInvoice(payment *domain.Payment, invoiceID int64) bool {
	id := strconv.FormatInt(invoiceID, 10)
	return payment.Notes != nil && payment.Notes[domain.InvoiceNoteKey] == id
}

// matchPayment finds the captured payment that settles the invoice, or nil.
//
// Correlation is tried strongest first:
//  1. mappedOrderID (the bridge's own order mapping), if set
//  2. orders whose notes or receipt carry the invoice id
//  3. payments whose notes carry the invoice id
//  4. amount-only match within tolerance over the remaining pool
func matchPayment(invoice *domain.Invoice, mappedOrderID string, orders []domain.Order, payments []domain.Payment, tolerancePercent float64) *domain.Payment {
	byOrder := make(map[string][]domain.Payment)
	for _, p := range payments {
		if p.Status != domain.PaymentStatusCaptured {
			continue
		}
		byOrder[p.OrderID] = append(byOrder[p.OrderID], p)
	}

	if mappedOrderID != "" {
		if p := pickEarliest(candidatesInTolerance(invoice, byOrder[mappedOrderID], tolerancePercent)); p != nil {
			return p
		}
	}

	for i := range orders {
		if orders[i].ID == mappedOrderID || !orderMatchesInvoice(&orders[i], invoice.ID) {
			continue
		}
		if p := pickEarliest(candidatesInTolerance(invoice, byOrder[orders[i].ID], tolerancePercent)); p != nil {
			return p
		}
	}

	var noted []domain.Payment
	for _, p := range payments {
		if p.Status == domain.PaymentStatusCaptured && paymentMatchesInvoice(&p, invoice.ID) {
			noted = append(noted, p)
		}
	}
	if p := pickEarliest(candidatesInTolerance(invoice, noted, tolerancePercent)); p != nil {
		return p
	}

	// Last resort: amount alone, over every captured payment in the window.
	var pool []domain.Payment
	for _, p := range payments {
		if p.Status == domain.PaymentStatusCaptured {
			pool = append(pool, p)
		}
	}
	return pickEarliest(candidatesInTolerance(invoice, pool, tolerancePercent))
}

func candidatesInTolerance(invoice *domain.Invoice, payments []domain.Payment, tolerancePercent float64) []domain.Payment {
	var out []domain.Payment
	for _, p := range payments {
		if p.Currency != "" && invoice.Currency != "" && p.Currency != invoice.Currency {
			continue
		}
		if amountWithinTolerance(invoice.TotalMinor, p.AmountMinor, tolerancePercent) {
			out = append(out, p)
		}
	}
	return out
}

func pickEarliest(payments []domain.Payment) *domain.Payment {
	if len(payments) == 0 {
		return nil
	}
	sort.Slice(payments, func(i, j int) bool {
		if payments[i].CreatedAt != payments[j].CreatedAt {
			return payments[i].CreatedAt < payments[j].CreatedAt
		}
		return payments[i].ID < payments[j].ID
	})
	p := payments[0]
	return &p
}
