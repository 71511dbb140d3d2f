package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// ReceiptInput - поступление товара от закупок
type ReceiptInput struct {
	OperationID    string
	Actor          string
	ProductID      string
	SupplierID     string
	BatchNumber    string
	LotNumber      string
	Quantity       int64
	UnitCost       int64
	ExpirationDate time.Time
	Location       string
}

// ReceiptOutput - результат поступления
type ReceiptOutput struct {
	OperationID string
	Batch       repository.Batch
	Created     bool
	Movement    repository.Movement
}

// Receipt создаёт партию или пополняет существующую с тем же номером партии/лота и сроком годности
func (l *Ledger) Receipt(ctx context.Context, in ReceiptInput) (*ReceiptOutput, error) {
	const op = "service.Receipt"

	if err := requireActor(op, in.Actor); err != nil {
		return nil, err
	}
	if in.ProductID == "" {
		return nil, apperr.Validation(op, "product_id", "product id is required")
	}
	if in.BatchNumber == "" {
		return nil, apperr.Validation(op, "batch_number", "batch number is required")
	}
	if in.Quantity <= 0 {
		return nil, apperr.Validation(op, "quantity", "quantity must be greater than zero")
	}
	if in.UnitCost < 0 {
		return nil, apperr.Validation(op, "unit_cost", "unit cost must not be negative")
	}

	expiration := truncateDay(in.ExpirationDate)
	if !expiration.After(truncateDay(l.now())) {
		return nil, apperr.Validation(op, "expiration_date", "expiration date must be after today")
	}

	product, err := l.store.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, apperr.Newf(apperr.KindState, op, "product %s is not active", product.ID)
	}

	var out ReceiptOutput
	operationID, err := l.execute(ctx, KindReceipt, in.OperationID, in.Actor, func(ctx context.Context, uow repository.UnitOfWork, o *operation) error {
		created := false
		batch, err := uow.FindForReceipt(ctx, in.ProductID, in.BatchNumber, in.LotNumber, expiration)
		switch {
		case apperr.KindOf(err) == apperr.KindNotFound:
			now := l.now()
			batch, err = uow.CreateBatch(ctx, repository.Batch{
				ID:             uuid.NewString(),
				ProductID:      in.ProductID,
				BatchNumber:    in.BatchNumber,
				LotNumber:      in.LotNumber,
				SupplierID:     in.SupplierID,
				UnitCost:       in.UnitCost,
				ExpirationDate: expiration,
				ReceivedAt:     now,
				Status:         repository.BatchStatusActive,
				Location:       in.Location,
			})
			if err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		case batch.Status != repository.BatchStatusActive:
			return apperr.Newf(apperr.KindState, op, "batch %s is %s and cannot receive stock", batch.ID, batch.Status)
		}

		res, err := uow.Mutate(ctx, batch.ID, in.Quantity, 0)
		if err != nil {
			return err
		}
		m, err := o.recordMutation(ctx, uow, res, repository.MovementPurchase, "", "receipt")
		if err != nil {
			return err
		}

		out.Batch = res.After
		out.Created = created
		out.Movement = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.OperationID = operationID
	return &out, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
