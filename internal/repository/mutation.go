package repository

import (
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
)

// ApplyDelta вычисляет состояние партии после изменения и проверяет инварианты.
// Общая проверка для всех реализаций BatchWriter.Mutate: значения никогда не обрезаются.
func ApplyDelta(b Batch, onHandDelta, reservedDelta int64) (Batch, error) {
	const op = "repository.Mutate"

	after := b
	after.QuantityOnHand += onHandDelta
	after.QuantityReserved += reservedDelta

	if after.QuantityOnHand < 0 {
		return Batch{}, apperr.Newf(apperr.KindInvariantViolation, op,
			"batch %s: on_hand would become %d", b.ID, after.QuantityOnHand)
	}
	if after.QuantityReserved < 0 {
		return Batch{}, apperr.Newf(apperr.KindInvariantViolation, op,
			"batch %s: reserved would become %d", b.ID, after.QuantityReserved)
	}
	if after.QuantityReserved > after.QuantityOnHand {
		return Batch{}, apperr.Newf(apperr.KindInvariantViolation, op,
			"batch %s: reserved %d would exceed on_hand %d", b.ID, after.QuantityReserved, after.QuantityOnHand)
	}

	return after, nil
}
