package service

import (
	"context"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// RefundInput - возврат части строки продажи
type RefundInput struct {
	OperationID string
	Actor       string
	SaleLineID  string
	Quantity    int64
	Reason      string
}

// CancelSaleInput - отмена продажи целиком
type CancelSaleInput struct {
	OperationID string
	Actor       string
	SaleID      string
	Reason      string
}

// ReturnOutput - результат возврата или отмены
type ReturnOutput struct {
	OperationID string
	Sale        repository.Sale
	Movements   []repository.Movement
}

// Refund возвращает количество строки в исходные партии в обратном порядке аллокации
func (l *Ledger) Refund(ctx context.Context, in RefundInput) (*ReturnOutput, error) {
	const op = "service.Refund"

	if err := requireActor(op, in.Actor); err != nil {
		return nil, err
	}
	if in.SaleLineID == "" {
		return nil, apperr.Validation(op, "sale_line_id", "sale line id is required")
	}
	if in.Quantity <= 0 {
		return nil, apperr.Validation(op, "quantity", "quantity must be greater than zero")
	}
	if in.Reason == "" {
		return nil, apperr.Validation(op, "reason", "reason is required")
	}

	var out ReturnOutput
	operationID, err := l.execute(ctx, KindRefund, in.OperationID, in.Actor, func(ctx context.Context, uow repository.UnitOfWork, o *operation) error {
		saleID, err := uow.FindSaleIDByLine(ctx, in.SaleLineID)
		if err != nil {
			return err
		}
		sale, err := uow.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if err := requireReturnable(op, sale); err != nil {
			return err
		}

		idx := -1
		for i := range sale.Lines {
			if sale.Lines[i].ID == in.SaleLineID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperr.NotFound(op, "sale_line", in.SaleLineID)
		}
		line := &sale.Lines[idx]

		if in.Quantity > line.Refundable() {
			return apperr.Newf(apperr.KindValidation, op,
				"refund quantity %d exceeds refundable %d on line %s", in.Quantity, line.Refundable(), line.ID)
		}

		if _, err := lockBatches(ctx, l.store, uow, allocationBatchIDs(*line)...); err != nil {
			return err
		}
		if err := returnToBatches(ctx, uow, o, line, in.Quantity, in.Reason); err != nil {
			return err
		}

		sale.Status = repository.SaleStatusRefunded
		for _, ln := range sale.Lines {
			if ln.Refundable() > 0 {
				sale.Status = repository.SaleStatusPartiallyRefunded
				break
			}
		}
		sale.UpdatedAt = l.now()

		if err := uow.UpdateSaleReturns(ctx, sale); err != nil {
			return err
		}

		out.Sale = sale
		out.Movements = o.movements
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.OperationID = operationID
	return &out, nil
}

// CancelSale аннулирует продажу: всё ещё не возвращённое количество возвращается в партии
func (l *Ledger) CancelSale(ctx context.Context, in CancelSaleInput) (*ReturnOutput, error) {
	const op = "service.CancelSale"

	if err := requireActor(op, in.Actor); err != nil {
		return nil, err
	}
	if in.SaleID == "" {
		return nil, apperr.Validation(op, "sale_id", "sale id is required")
	}
	if in.Reason == "" {
		return nil, apperr.Validation(op, "reason", "reason is required")
	}

	var out ReturnOutput
	operationID, err := l.execute(ctx, KindCancelSale, in.OperationID, in.Actor, func(ctx context.Context, uow repository.UnitOfWork, o *operation) error {
		sale, err := uow.GetSaleForUpdate(ctx, in.SaleID)
		if err != nil {
			return err
		}
		if err := requireReturnable(op, sale); err != nil {
			return err
		}

		var ids []string
		for _, line := range sale.Lines {
			ids = append(ids, allocationBatchIDs(line)...)
		}
		if _, err := lockBatches(ctx, l.store, uow, ids...); err != nil {
			return err
		}

		for i := range sale.Lines {
			line := &sale.Lines[i]
			if line.Refundable() == 0 {
				continue
			}
			if err := returnToBatches(ctx, uow, o, line, line.Refundable(), in.Reason); err != nil {
				return err
			}
		}

		sale.Status = repository.SaleStatusCancelled
		sale.UpdatedAt = l.now()
		if err := uow.UpdateSaleReturns(ctx, sale); err != nil {
			return err
		}

		out.Sale = sale
		out.Movements = o.movements
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.OperationID = operationID
	return &out, nil
}

func requireReturnable(op string, sale repository.Sale) error {
	switch sale.Status {
	case repository.SaleStatusCompleted, repository.SaleStatusPartiallyRefunded:
		return nil
	}
	return apperr.Newf(apperr.KindState, op, "sale %s is %s", sale.ID, sale.Status)
}

func allocationBatchIDs(line repository.SaleLine) []string {
	ids := make([]string, 0, len(line.Allocations))
	for _, a := range line.Allocations {
		if a.Quantity > a.RefundedQuantity {
			ids = append(ids, a.BatchID)
		}
	}
	return ids
}

// returnToBatches зачисляет qty обратно в партии строки, начиная с последней аллокации
func returnToBatches(ctx context.Context, uow repository.UnitOfWork, o *operation, line *repository.SaleLine, qty int64, reason string) error {
	remaining := qty
	for i := len(line.Allocations) - 1; i >= 0 && remaining > 0; i-- {
		a := &line.Allocations[i]
		take := min(a.Quantity-a.RefundedQuantity, remaining)
		if take <= 0 {
			continue
		}

		res, err := uow.Mutate(ctx, a.BatchID, take, 0)
		if err != nil {
			return err
		}
		if _, err := o.recordMutation(ctx, uow, res, repository.MovementReturn, "", reason); err != nil {
			return err
		}

		a.RefundedQuantity += take
		line.RefundedQuantity += take
		remaining -= take
	}

	if remaining > 0 {
		return apperr.Newf(apperr.KindInvariantViolation, "service.returnToBatches",
			"line %s allocations cover %d less than refunded quantity", line.ID, remaining)
	}
	return nil
}
