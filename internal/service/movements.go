package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// ReconcileReport - сверка остатка партии с журналом движений
type ReconcileReport struct {
	BatchID       string
	OnHand        int64
	MovementSum   int64
	MovementCount int64
	Consistent    bool
}

// GetBatch возвращает партию по закоммиченному снимку
func (l *Ledger) GetBatch(ctx context.Context, id string) (repository.Batch, error) {
	if id == "" {
		return repository.Batch{}, apperr.Validation("service.GetBatch", "id", "batch id is required")
	}
	return l.store.GetBatch(ctx, id)
}

// ListActiveBatches - активные партии товара в порядке FIFO
func (l *Ledger) ListActiveBatches(ctx context.Context, productID string) ([]repository.Batch, error) {
	const op = "service.ListActiveBatches"

	if productID == "" {
		return nil, apperr.Validation(op, "product_id", "product id is required")
	}
	if _, err := l.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return l.store.ListActiveBatches(ctx, productID)
}

// BatchHistory - журнал движений партии от старых к новым
func (l *Ledger) BatchHistory(ctx context.Context, batchID string) ([]repository.Movement, error) {
	if _, err := l.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return l.store.ListMovementsByBatch(ctx, batchID)
}

// ProductHistory - движения товара за [from, to)
func (l *Ledger) ProductHistory(ctx context.Context, productID string, from, to time.Time) ([]repository.Movement, error) {
	const op = "service.ProductHistory"

	if productID == "" {
		return nil, apperr.Validation(op, "product_id", "product id is required")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, apperr.Validation(op, "to", "range end is before range start")
	}
	return l.store.ListMovementsByProduct(ctx, productID, from, to)
}

// QueryMovements - фильтрованная выборка журнала
func (l *Ledger) QueryMovements(ctx context.Context, filter repository.MovementFilter) ([]repository.Movement, error) {
	return l.store.QueryMovements(ctx, filter)
}

// SummarizeMovements - агрегаты журнала по типу движения
func (l *Ledger) SummarizeMovements(ctx context.Context, filter repository.MovementFilter) ([]repository.MovementSummary, error) {
	return l.store.SummarizeMovements(ctx, filter)
}

// ReconcileBatch сверяет on_hand партии с суммой дельт её движений.
// Партия создаётся с нулевым остатком, поэтому сумма всех дельт должна совпадать с on_hand.
func (l *Ledger) ReconcileBatch(ctx context.Context, batchID string) (ReconcileReport, error) {
	batch, err := l.GetBatch(ctx, batchID)
	if err != nil {
		return ReconcileReport{}, err
	}

	sum, count, err := l.store.SumMovementDeltas(ctx, batchID)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{
		BatchID:       batch.ID,
		OnHand:        batch.QuantityOnHand,
		MovementSum:   sum,
		MovementCount: count,
		Consistent:    sum == batch.QuantityOnHand,
	}
	if !report.Consistent {
		l.logger.Error("batch does not reconcile with movement log",
			zap.String("batch_id", batch.ID),
			zap.Int64("on_hand", batch.QuantityOnHand),
			zap.Int64("movement_sum", sum),
		)
	}
	return report, nil
}
