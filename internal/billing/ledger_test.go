package billing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinica/internal/apperr"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeTotals(t *testing.T) {
	items := []LineItem{
		{Description: "Consulta general", Quantity: 1, UnitPrice: dec("25.00")},
		{Description: "Hemograma", Quantity: 2, UnitPrice: dec("30.00")},
	}

	got := ComputeTotals(items, dec("12"))

	assert.True(t, got.Subtotal.Equal(dec("85.00")), "subtotal %s", got.Subtotal)
	assert.True(t, got.Tax.Equal(dec("10.20")), "tax %s", got.Tax)
	assert.True(t, got.Total.Equal(dec("95.20")), "total %s", got.Total)

	require.Len(t, got.Items, 2)
	assert.Equal(t, 1, got.Items[0].Position)
	assert.Equal(t, 2, got.Items[1].Position)
	assert.True(t, got.Items[1].Subtotal.Equal(dec("60.00")))
	assert.True(t, items[1].Subtotal.IsZero(), "input slice must not be mutated")
}

func TestComputeTotalsRoundsTaxToCents(t *testing.T) {
	items := []LineItem{{Description: "Curación", Quantity: 1, UnitPrice: dec("10.05")}}

	got := ComputeTotals(items, dec("15"))

	// 10.05 * 0.15 = 1.5075
	assert.Equal(t, "1.51", got.Tax.StringFixed(2))
	assert.Equal(t, "11.56", got.Total.StringFixed(2))
	assert.True(t, got.Total.Equal(got.Subtotal.Add(got.Tax)))
}

func TestComputeTotalsZeroRate(t *testing.T) {
	got := ComputeTotals([]LineItem{{Description: "x", Quantity: 3, UnitPrice: dec("1.10")}}, decimal.Zero)
	assert.True(t, got.Tax.IsZero())
	assert.True(t, got.Total.Equal(dec("3.30")))
}

func TestApplyPayment(t *testing.T) {
	total := dec("100.00")

	tests := []struct {
		name      string
		paid      string
		amount    string
		wantKind  apperr.Kind
		wantState PaymentStatus
		remaining string
	}{
		{name: "partial", paid: "0", amount: "40", wantState: PaymentPartial, remaining: "60.00"},
		{name: "settles", paid: "80", amount: "20", wantState: PaymentPaid, remaining: "0.00"},
		{name: "within tolerance", paid: "80", amount: "20.01", wantState: PaymentPaid, remaining: "-0.01"},
		{name: "overpays", paid: "80", amount: "25", wantKind: apperr.KindConflict},
		{name: "zero", paid: "0", amount: "0", wantKind: apperr.KindValidation},
		{name: "negative", paid: "0", amount: "-5", wantKind: apperr.KindValidation},
		{name: "below a cent", paid: "0", amount: "0.001", wantKind: apperr.KindValidation},
		{name: "fraction of a cent", paid: "0", amount: "10.005", wantKind: apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ApplyPayment(total, dec(tt.paid), dec(tt.amount))
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, b.Status)
			assert.Equal(t, tt.remaining, b.Remaining.StringFixed(2))
		})
	}
}

func TestApplyPaymentReportsRemaining(t *testing.T) {
	_, err := ApplyPayment(dec("100"), dec("80"), dec("25"))

	require.True(t, errors.Is(err, ErrExceedsBalance))
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "20.00", e.Details["remaining"])
	assert.Contains(t, e.Message, "20.00")
}

func TestInCents(t *testing.T) {
	assert.True(t, InCents(dec("12.30")))
	assert.True(t, InCents(dec("12.3")))
	assert.True(t, InCents(dec("7")))
	assert.True(t, InCents(dec("12.3000")))
	assert.False(t, InCents(dec("0.3333")))
	assert.False(t, InCents(dec("0.001")))
}

func TestStatusForPaid(t *testing.T) {
	assert.Equal(t, PaymentPending, StatusForPaid(dec("50"), decimal.Zero))
	assert.Equal(t, PaymentPartial, StatusForPaid(dec("50"), dec("10")))
	assert.Equal(t, PaymentPaid, StatusForPaid(dec("50"), dec("49.99")))
	assert.Equal(t, PaymentPaid, StatusForPaid(dec("50"), dec("50")))
}

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "FAC-2025-000001", FormatInvoiceNumber(2025, 1))
	assert.Equal(t, "FAC-2025-123456", FormatInvoiceNumber(2025, 123456))
}
