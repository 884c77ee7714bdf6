package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hackgods/clinica/internal/apperr"
)

// Tolerance absorbs rounding when comparing paid amounts with totals.
var Tolerance = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// Cents is the precision money is stored with.
const Cents int32 = 2

// InCents reports whether d has no digits below a cent, so it survives
// storage unchanged.
func InCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(Cents))
}

// FormatInvoiceNumber renders FAC-<year>-<6 digit sequence>.
func FormatInvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("FAC-%04d-%06d", year, seq)
}

// Totals is the frozen arithmetic of an invoice.
type Totals struct {
	Items    []LineItem
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals prices each line as quantity x unit price, sums them, and
// applies taxRate percent rounded to cents. Total is subtotal plus tax.
func ComputeTotals(items []LineItem, taxRate decimal.Decimal) Totals {
	t := Totals{Items: make([]LineItem, len(items))}
	for i, item := range items {
		item.Position = i + 1
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		t.Subtotal = t.Subtotal.Add(item.Subtotal)
		t.Items[i] = item
	}
	t.Tax = t.Subtotal.Mul(taxRate).Div(hundred).Round(Cents)
	t.Total = t.Subtotal.Add(t.Tax)
	return t
}

// StatusForPaid derives the payment status from the amount paid so far.
func StatusForPaid(total, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total.Sub(Tolerance)):
		return PaymentPaid
	case paid.IsPositive():
		return PaymentPartial
	default:
		return PaymentPending
	}
}

// ApplyPayment checks amount against the remaining balance and returns the
// balance after it is applied.
func ApplyPayment(total, paid, amount decimal.Decimal) (Balance, error) {
	if err := checkAmount(amount); err != nil {
		return Balance{}, err
	}

	remaining := total.Sub(paid)
	if amount.GreaterThan(remaining.Add(Tolerance)) {
		return Balance{}, ErrExceedsBalance.Withf(map[string]any{
			"remaining": remaining.StringFixed(2),
			"amount":    amount.StringFixed(2),
		}, "amount exceeds the remaining balance (%s)", remaining.StringFixed(2))
	}

	newPaid := paid.Add(amount)
	status := PaymentPartial
	if newPaid.GreaterThanOrEqual(total.Sub(Tolerance)) {
		status = PaymentPaid
	}

	return Balance{
		Total:     total,
		Paid:      newPaid,
		Remaining: total.Sub(newPaid),
		Status:    status,
	}, nil
}

func checkAmount(amount decimal.Decimal) error {
	switch {
	case !amount.IsPositive():
		return ErrInvalidAmount.Withf(map[string]any{"amount": amount}, "amount must be greater than 0")
	case !InCents(amount):
		return ErrInvalidAmount.Withf(map[string]any{"amount": amount}, "amount %s has more than two decimals", amount)
	}
	return nil
}

var (
	ErrInvalidAmount  = apperr.New(apperr.KindValidation, "invalid_amount", "amount must be greater than 0")
	ErrExceedsBalance = apperr.New(apperr.KindConflict, "amount_exceeds_balance", "amount exceeds the remaining balance")
)
