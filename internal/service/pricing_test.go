package service

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

func TestPriceLine(t *testing.T) {
	tests := []struct {
		name     string
		qty      int64
		price    int64
		discount string
		tax      string
		want     lineAmounts
	}{
		{name: "no discount no tax", qty: 3, price: 199, discount: "0", tax: "0", want: lineAmounts{Gross: 597, Total: 597}},
		{name: "tax only", qty: 2, price: 1000, discount: "0", tax: "16", want: lineAmounts{Gross: 2000, Tax: 320, Total: 2320}},
		{name: "discount then tax", qty: 1, price: 1000, discount: "10", tax: "16", want: lineAmounts{Gross: 1000, Discount: 100, Tax: 144, Total: 1044}},
		// 333 * 0.15 = 49.95 -> 50; (333 - 50) * 0.16 = 45.28 -> 45
		{name: "rounds half up", qty: 1, price: 333, discount: "15", tax: "16", want: lineAmounts{Gross: 333, Discount: 50, Tax: 45, Total: 328}},
		{name: "full discount", qty: 5, price: 100, discount: "100", tax: "16", want: lineAmounts{Gross: 500, Discount: 500, Tax: 0, Total: 0}},
		{name: "fractional rate", qty: 1, price: 1000, discount: "0", tax: "8.25", want: lineAmounts{Gross: 1000, Tax: 83, Total: 1083}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := priceLine(tt.qty, tt.price, decimal.RequireFromString(tt.discount), decimal.RequireFromString(tt.tax))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriceLine_OutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		qty   int64
		price int64
		tax   string
	}{
		{name: "gross overflows", qty: 3, price: math.MaxInt64 / 2},
		{name: "gross at limit, tax overflows", qty: 1, price: math.MaxInt64, tax: "16"},
		{name: "huge quantity", qty: math.MaxInt64, price: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tax := decimal.Zero
			if tt.tax != "" {
				tax = decimal.RequireFromString(tt.tax)
			}
			_, err := priceLine(tt.qty, tt.price, decimal.Zero, tax)
			assert.ErrorIs(t, err, errAmountOutOfRange)
		})
	}

	got, err := priceLine(1, math.MaxInt64, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got.Total)
}

func TestSaleTotals_Add(t *testing.T) {
	var totals saleTotals
	require.NoError(t, totals.add(lineAmounts{Gross: math.MaxInt64 - 10, Total: math.MaxInt64 - 10}))
	require.NoError(t, totals.add(lineAmounts{Gross: 10, Total: 10}))

	err := totals.add(lineAmounts{Gross: 1, Total: 1})
	assert.ErrorIs(t, err, errAmountOutOfRange)
	// при ошибке накопители не меняются
	assert.Equal(t, int64(math.MaxInt64), totals.Total)
}

func TestCheckPayments(t *testing.T) {
	tests := []struct {
		name     string
		payments []repository.Payment
		total    int64
		wantErr  bool
	}{
		{name: "no payments", total: 100},
		{name: "exact single", payments: []repository.Payment{{Method: "cash", Amount: 100}}, total: 100},
		{name: "exact split", payments: []repository.Payment{{Method: "cash", Amount: 40}, {Method: "card", Amount: 60}}, total: 100},
		{name: "one cent short", payments: []repository.Payment{{Method: "cash", Amount: 99}}, total: 100, wantErr: true},
		{name: "one cent over", payments: []repository.Payment{{Method: "cash", Amount: 101}}, total: 100, wantErr: true},
		{name: "missing method", payments: []repository.Payment{{Amount: 100}}, total: 100, wantErr: true},
		{name: "zero amount", payments: []repository.Payment{{Method: "cash", Amount: 100}, {Method: "card"}}, total: 100, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPayments(tt.payments, tt.total)
			if tt.wantErr {
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}
