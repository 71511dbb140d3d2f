package service

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

var (
	hundred   = decimal.NewFromInt(100)
	maxAmount = decimal.NewFromInt(math.MaxInt64)
)

// errAmountOutOfRange - сумма не помещается в int64 минимальных единиц
var errAmountOutOfRange = errors.New("amount exceeds supported range")

// lineAmounts - суммы строки в минимальных денежных единицах
type lineAmounts struct {
	Gross    int64
	Discount int64
	Tax      int64
	Total    int64
}

// priceLine считает суммы строки:
// gross = qty * price, discount = round(gross * pct / 100), tax = round((gross - discount) * rate / 100).
// Округление half-up до целой минимальной единицы.
// Любая сумма вне диапазона int64 даёт errAmountOutOfRange.
func priceLine(qty, unitPrice int64, discountPct, taxRate decimal.Decimal) (lineAmounts, error) {
	gross := decimal.NewFromInt(qty).Mul(decimal.NewFromInt(unitPrice))
	discount := gross.Mul(discountPct).Div(hundred).Round(0)
	tax := gross.Sub(discount).Mul(taxRate).Div(hundred).Round(0)
	total := gross.Sub(discount).Add(tax)

	for _, v := range []decimal.Decimal{gross, discount, tax, total} {
		if v.GreaterThan(maxAmount) || v.IsNegative() {
			return lineAmounts{}, errAmountOutOfRange
		}
	}

	return lineAmounts{
		Gross:    gross.IntPart(),
		Discount: discount.IntPart(),
		Tax:      tax.IntPart(),
		Total:    total.IntPart(),
	}, nil
}

// saleTotals - итоги продажи; add проверяет переполнение накопителей
type saleTotals struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Total    int64
}

func (t *saleTotals) add(a lineAmounts) error {
	next := *t
	for _, p := range []struct {
		dst *int64
		v   int64
	}{
		{&next.Subtotal, a.Gross},
		{&next.Discount, a.Discount},
		{&next.Tax, a.Tax},
		{&next.Total, a.Total},
	} {
		if *p.dst > math.MaxInt64-p.v {
			return errAmountOutOfRange
		}
		*p.dst += p.v
	}
	*t = next
	return nil
}

// checkPayments сверяет оплаты с итогом продажи точным целочисленным сравнением
func checkPayments(payments []repository.Payment, total int64) error {
	const op = "service.checkPayments"

	if len(payments) == 0 {
		return nil
	}

	var paid int64
	for _, p := range payments {
		if p.Method == "" {
			return apperr.Validation(op, "payments.method", "payment method is required")
		}
		if p.Amount <= 0 {
			return apperr.Validation(op, "payments.amount", "payment amount must be greater than zero")
		}
		if paid > math.MaxInt64-p.Amount {
			return apperr.Validation(op, "payments.amount", "payments sum exceeds supported range")
		}
		paid += p.Amount
	}

	if paid != total {
		return apperr.Newf(apperr.KindValidation, op, "payments sum %d does not match sale total %d", paid, total)
	}
	return nil
}
