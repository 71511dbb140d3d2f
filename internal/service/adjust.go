package service

import (
	"context"
	"time"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// AdjustInput - ручная корректировка остатка партии
type AdjustInput struct {
	OperationID string
	Actor       string
	BatchID     string
	Delta       int64
	Reason      string
	// Kind - тип движения: adjustment (по умолчанию), damaged или expired
	Kind repository.MovementType
}

// TransferInput - перемещение между партиями одного товара
type TransferInput struct {
	OperationID string
	Actor       string
	FromBatchID string
	ToBatchID   string
	Quantity    int64
	Reason      string
}

// ChangeBatchStatusInput - смена статуса партии
type ChangeBatchStatusInput struct {
	OperationID string
	Actor       string
	BatchID     string
	Status      repository.BatchStatus
	Reason      string
	// WriteOff списывает весь доступный остаток вместе со снятием партии
	WriteOff bool
}

// BatchOutput - результат операции над партиями
type BatchOutput struct {
	OperationID string
	Batches     []repository.Batch
	Movements   []repository.Movement
}

// Adjust применяет знаковую дельту к on_hand с обязательной причиной
func (l *Ledger) Adjust(ctx context.Context, in AdjustInput) (*BatchOutput, error) {
	const op = "service.Adjust"

	if err := requireActor(op, in.Actor); err != nil {
		return nil, err
	}
	if in.BatchID == "" {
		return nil, apperr.Validation(op, "batch_id", "batch id is required")
	}
	if in.Delta == 0 {
		return nil, apperr.Validation(op, "delta", "delta must not be zero")
	}
	if in.Reason == "" {
		return nil, apperr.Validation(op, "reason", "reason is required")
	}

	kind := in.Kind
	switch kind {
	case "":
		kind = repository.MovementAdjustment
	case repository.MovementAdjustment:
	case repository.MovementDamaged, repository.MovementExpired:
		if in.Delta > 0 {
			return nil, apperr.Validation(op, "delta", "damaged and expired adjustments must decrease stock")
		}
	default:
		return nil, apperr.Validation(op, "kind", "unsupported adjustment kind "+string(kind))
	}

	var out BatchOutput
	operationID, err := l.execute(ctx, KindAdjustment, in.OperationID, in.Actor, func(ctx context.Context, uow repository.UnitOfWork, o *operation) error {
		batch, err := uow.GetForUpdate(ctx, in.BatchID)
		if err != nil {
			return err
		}

		if batch.QuantityOnHand+in.Delta < batch.QuantityReserved {
			return apperr.Newf(apperr.KindInsufficientStock, op,
				"batch %s: on_hand %d reserved %d cannot absorb delta %d",
				batch.ID, batch.QuantityOnHand, batch.QuantityReserved, in.Delta)
		}

		res, err := uow.Mutate(ctx, batch.ID, in.Delta, 0)
		if err != nil {
			return err
		}
		if _, err := o.recordMutation(ctx, uow, res, kind, "", in.Reason); err != nil {
			return err
		}

		out.Batches = []repository.Batch{res.After}
		out.Movements = o.movements
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.OperationID = operationID
	return &out, nil
}

// Transfer переносит количество между двумя партиями одного товара парой связанных движений
func (l *Ledger) Transfer(ctx context.Context, in TransferInput) (*BatchOutput, error) {
	const op = "service.Transfer"

	if err := requireActor(op, in.Actor); err != nil {
		return nil, err
	}
	if in.FromBatchID == "" || in.ToBatchID == "" {
		return nil, apperr.Validation(op, "batch_id", "source and destination batch ids are required")
	}
	if in.FromBatchID == in.ToBatchID {
		return nil, apperr.Validation(op, "to_batch_id", "cannot transfer to the same batch")
	}
	if in.Quantity <= 0 {
		return nil, apperr.Validation(op, "quantity", "quantity must be greater than zero")
	}

	var out BatchOutput
	operationID, err := l.execute(ctx, KindTransfer, in.OperationID, in.Actor, func(ctx context.Context, uow repository.UnitOfWork, o *operation) error {
		locked, err := lockBatches(ctx, l.store, uow, in.FromBatchID, in.ToBatchID)
		if err != nil {
			return err
		}
		src, dst := locked[in.FromBatchID], locked[in.ToBatchID]

		if src.ProductID != dst.ProductID {
			return apperr.Newf(apperr.KindValidation, op,
				"batches %s and %s belong to different products", src.ID, dst.ID)
		}
		if src.Status != repository.BatchStatusActive {
			return apperr.Newf(apperr.KindState, op, "source batch %s is %s", src.ID, src.Status)
		}
		if dst.Status != repository.BatchStatusActive {
			return apperr.Newf(apperr.KindState, op, "destination batch %s is %s", dst.ID, dst.Status)
		}
		// статус active ещё не переведён свипом, но срок уже истёк
		now := l.now()
		if src.IsExpired(now) {
			return apperr.Newf(apperr.KindState, op, "source batch %s expired on %s", src.ID, src.ExpirationDate.Format(time.DateOnly))
		}
		if dst.IsExpired(now) {
			return apperr.Newf(apperr.KindState, op, "destination batch %s expired on %s", dst.ID, dst.ExpirationDate.Format(time.DateOnly))
		}
		if src.Available() < in.Quantity {
			return apperr.Newf(apperr.KindInsufficientStock, op,
				"batch %s has %d available, %d requested", src.ID, src.Available(), in.Quantity)
		}

		outRes, err := uow.Mutate(ctx, src.ID, -in.Quantity, 0)
		if err != nil {
			return err
		}
		inRes, err := uow.Mutate(ctx, dst.ID, in.Quantity, 0)
		if err != nil {
			return err
		}

		if _, err := o.recordMutation(ctx, uow, outRes, repository.MovementTransferOut, dst.ID, in.Reason); err != nil {
			return err
		}
		if _, err := o.recordMutation(ctx, uow, inRes, repository.MovementTransferIn, src.ID, in.Reason); err != nil {
			return err
		}

		out.Batches = []repository.Batch{outRes.After, inRes.After}
		out.Movements = o.movements
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.OperationID = operationID
	return &out, nil
}

// ChangeBatchStatus снимает партию с продажи (expired/damaged/recalled) или возвращает её в active
func (l *Ledger) ChangeBatchStatus(ctx context.Context, in ChangeBatchStatusInput) (*BatchOutput, error) {
	const op = "service.ChangeBatchStatus"

	if err := requireActor(op, in.Actor); err != nil {
		return nil, err
	}
	if in.BatchID == "" {
		return nil, apperr.Validation(op, "batch_id", "batch id is required")
	}
	if !in.Status.Valid() {
		return nil, apperr.Validation(op, "status", "unknown batch status "+string(in.Status))
	}
	if in.Reason == "" {
		return nil, apperr.Validation(op, "reason", "reason is required")
	}
	if in.WriteOff && in.Status == repository.BatchStatusActive {
		return nil, apperr.Validation(op, "write_off", "write-off is only allowed when retiring a batch")
	}

	var out BatchOutput
	operationID, err := l.execute(ctx, KindBatchStatus, in.OperationID, in.Actor, func(ctx context.Context, uow repository.UnitOfWork, o *operation) error {
		batch, err := uow.GetForUpdate(ctx, in.BatchID)
		if err != nil {
			return err
		}
		if batch.Status == in.Status {
			return apperr.Newf(apperr.KindState, op, "batch %s is already %s", batch.ID, batch.Status)
		}

		if in.Status == repository.BatchStatusActive {
			if batch.IsExpired(l.now()) {
				return apperr.Newf(apperr.KindState, op, "batch %s is past its expiration date", batch.ID)
			}
		} else if batch.QuantityReserved > 0 {
			return apperr.Newf(apperr.KindState, op,
				"batch %s has %d reserved units", batch.ID, batch.QuantityReserved)
		}

		if in.WriteOff && batch.Available() > 0 {
			res, err := uow.Mutate(ctx, batch.ID, -batch.Available(), 0)
			if err != nil {
				return err
			}
			if _, err := o.recordMutation(ctx, uow, res, writeOffMovement(in.Status), "", in.Reason); err != nil {
				return err
			}
		}

		updated, err := uow.SetBatchStatus(ctx, batch.ID, in.Status)
		if err != nil {
			return err
		}

		out.Batches = []repository.Batch{updated}
		out.Movements = o.movements
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.OperationID = operationID
	return &out, nil
}

// writeOffMovement - тип движения для списания при снятии партии; у отзыва своего типа нет
func writeOffMovement(status repository.BatchStatus) repository.MovementType {
	switch status {
	case repository.BatchStatusExpired:
		return repository.MovementExpired
	case repository.BatchStatusDamaged:
		return repository.MovementDamaged
	default:
		return repository.MovementAdjustment
	}
}
