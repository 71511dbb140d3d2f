package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// reservation - удержание количества на партии до коммита продажи
type reservation struct {
	line     int
	batchID  string
	quantity int64
}

// reservationSet отслеживает резервы одной единицы работы.
// Всё зарезервированное либо списывается (consume), либо явно снимается (release).
type reservationSet struct {
	uow    repository.UnitOfWork
	logger *zap.Logger
	items  []reservation
}

func newReservationSet(uow repository.UnitOfWork, logger *zap.Logger) *reservationSet {
	return &reservationSet{uow: uow, logger: logger}
}

// reserve увеличивает reserved на партии
func (r *reservationSet) reserve(ctx context.Context, line int, batchID string, qty int64) (repository.MutationResult, error) {
	res, err := r.uow.Mutate(ctx, batchID, 0, qty)
	if err != nil {
		return repository.MutationResult{}, err
	}
	r.items = append(r.items, reservation{line: line, batchID: batchID, quantity: qty})
	return res, nil
}

// release снимает все резервы в обратном порядке.
// Ошибки только логируются: откат единицы работы всё равно вернёт reserved к исходному значению.
func (r *reservationSet) release(ctx context.Context) {
	for i := len(r.items) - 1; i >= 0; i-- {
		item := r.items[i]
		if _, err := r.uow.Mutate(ctx, item.batchID, 0, -item.quantity); err != nil {
			r.logger.Warn("failed to release reservation",
				zap.Error(err),
				zap.String("batch_id", item.batchID),
				zap.Int64("quantity", item.quantity),
			)
		}
	}
	r.items = nil
}

// consume списывает каждый резерв: on_hand и reserved уменьшаются вместе
func (r *reservationSet) consume(ctx context.Context, fn func(item reservation, res repository.MutationResult) error) error {
	for len(r.items) > 0 {
		item := r.items[0]
		res, err := r.uow.Mutate(ctx, item.batchID, -item.quantity, -item.quantity)
		if err != nil {
			return err
		}
		r.items = r.items[1:]
		if err := fn(item, res); err != nil {
			return err
		}
	}
	return nil
}
