package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/allocation"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// SaleLineInput - строка продажи от кассы
type SaleLineInput struct {
	ProductID     string
	Quantity      int64
	UnitPrice     int64
	DiscountPct   decimal.Decimal
	PinnedBatchID string
}

// SaleInput - входные данные продажи
type SaleInput struct {
	OperationID string
	Actor       string
	Lines       []SaleLineInput
	Payments    []repository.Payment
}

// SaleOutput - результат продажи
type SaleOutput struct {
	OperationID string
	Sale        repository.Sale
	Movements   []repository.Movement
}

// pricedLine - строка с ценами, посчитанными до открытия единицы работы
type pricedLine struct {
	input   SaleLineInput
	amounts lineAmounts
}

// Sale проводит продажу: FIFO-аллокация по каждой строке, резерв, списание и запись продажи.
// Либо применяются все строки, либо ни одна.
func (l *Ledger) Sale(ctx context.Context, in SaleInput) (*SaleOutput, error) {
	const op = "service.Sale"

	if err := validateSale(op, in); err != nil {
		return nil, err
	}

	priced := make([]pricedLine, 0, len(in.Lines))
	var totals saleTotals
	for i, line := range in.Lines {
		product, err := l.store.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.Active {
			return nil, apperr.Newf(apperr.KindState, op, "product %s is not active", product.ID)
		}

		amounts, err := priceLine(line.Quantity, line.UnitPrice, line.DiscountPct, product.TaxRate)
		if err != nil {
			return nil, apperr.Validation(op, fmt.Sprintf("lines[%d].unit_price", i), "line amount exceeds supported range")
		}
		if err := totals.add(amounts); err != nil {
			return nil, apperr.Validation(op, "lines", "sale total exceeds supported range")
		}
		priced = append(priced, pricedLine{input: line, amounts: amounts})
	}

	if err := checkPayments(in.Payments, totals.Total); err != nil {
		return nil, err
	}

	var out SaleOutput
	operationID, err := l.execute(ctx, KindSale, in.OperationID, in.Actor, func(ctx context.Context, uow repository.UnitOfWork, o *operation) error {
		now := l.now()
		sale := repository.Sale{
			ID:            uuid.NewString(),
			OperationID:   o.id,
			Actor:         in.Actor,
			Status:        repository.SaleStatusCompleted,
			Subtotal:      totals.Subtotal,
			DiscountTotal: totals.Discount,
			TaxTotal:      totals.Tax,
			Total:         totals.Total,
			Payments:      in.Payments,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		state, byProduct, err := lockSaleBatches(ctx, uow, priced)
		if err != nil {
			return err
		}

		reservations := newReservationSet(uow, o.logger)
		for i, pl := range priced {
			line := repository.SaleLine{
				ID:            uuid.NewString(),
				SaleID:        sale.ID,
				LineNo:        i + 1,
				ProductID:     pl.input.ProductID,
				Quantity:      pl.input.Quantity,
				UnitPrice:     pl.input.UnitPrice,
				DiscountPct:   pl.input.DiscountPct,
				Gross:         pl.amounts.Gross,
				Discount:      pl.amounts.Discount,
				Tax:           pl.amounts.Tax,
				LineTotal:     pl.amounts.Total,
				PinnedBatchID: pl.input.PinnedBatchID,
			}

			if err := l.reserveLine(ctx, uow, reservations, state, byProduct, i, pl.input); err != nil {
				reservations.release(ctx)
				o.logger.Info("sale line rejected, reservations released",
					zap.Int("line", i+1),
					zap.String("product_id", pl.input.ProductID),
					zap.Error(err),
				)
				return err
			}
			sale.Lines = append(sale.Lines, line)
		}

		err = reservations.consume(ctx, func(item reservation, res repository.MutationResult) error {
			if _, err := o.recordMutation(ctx, uow, res, repository.MovementSale, "", ""); err != nil {
				return err
			}
			line := &sale.Lines[item.line]
			line.Allocations = append(line.Allocations, repository.SaleAllocation{
				Seq:            len(line.Allocations) + 1,
				BatchID:        res.After.ID,
				BatchNumber:    res.After.BatchNumber,
				ExpirationDate: res.After.ExpirationDate,
				Quantity:       item.quantity,
			})
			return nil
		})
		if err != nil {
			return err
		}

		if err := uow.CreateSale(ctx, sale); err != nil {
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

// lockSaleBatches блокирует активные партии всех товаров продажи в порядке ID товара
func lockSaleBatches(ctx context.Context, uow repository.UnitOfWork, lines []pricedLine) (map[string]repository.Batch, map[string][]string, error) {
	products := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, pl := range lines {
		if _, ok := seen[pl.input.ProductID]; ok {
			continue
		}
		seen[pl.input.ProductID] = struct{}{}
		products = append(products, pl.input.ProductID)
	}
	sort.Strings(products)

	state := make(map[string]repository.Batch)
	byProduct := make(map[string][]string, len(products))
	for _, productID := range products {
		batches, err := uow.LockActiveByProduct(ctx, productID)
		if err != nil {
			return nil, nil, err
		}
		for _, b := range batches {
			state[b.ID] = b
			byProduct[productID] = append(byProduct[productID], b.ID)
		}
	}
	return state, byProduct, nil
}

// reserveLine планирует аллокацию строки по текущему (уже с резервами) состоянию партий и резервирует её
func (l *Ledger) reserveLine(ctx context.Context, uow repository.UnitOfWork, reservations *reservationSet,
	state map[string]repository.Batch, byProduct map[string][]string, lineIdx int, line SaleLineInput) error {

	ids := byProduct[line.ProductID]
	if line.PinnedBatchID != "" {
		if _, ok := state[line.PinnedBatchID]; !ok {
			// закреплённая партия может быть не active: движок сам вернёт StateError
			b, err := uow.GetForUpdate(ctx, line.PinnedBatchID)
			if err != nil {
				return err
			}
			state[b.ID] = b
		}
		ids = []string{line.PinnedBatchID}
	}

	candidates := make([]repository.Batch, 0, len(ids))
	for _, id := range ids {
		candidates = append(candidates, state[id])
	}

	plan, err := l.allocator.Plan(allocation.Request{
		ProductID:     line.ProductID,
		Quantity:      line.Quantity,
		PinnedBatchID: line.PinnedBatchID,
	}, candidates, l.now())
	if err != nil {
		return err
	}

	for _, a := range plan {
		res, err := reservations.reserve(ctx, lineIdx, a.BatchID, a.Quantity)
		if err != nil {
			return err
		}
		state[a.BatchID] = res.After
	}
	return nil
}

func validateSale(op string, in SaleInput) error {
	if err := requireActor(op, in.Actor); err != nil {
		return err
	}
	if len(in.Lines) == 0 {
		return apperr.Validation(op, "lines", "sale must have at least one line")
	}
	for i, line := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if line.ProductID == "" {
			return apperr.Validation(op, field+".product_id", "product id is required")
		}
		if line.Quantity <= 0 {
			return apperr.Validation(op, field+".quantity", "quantity must be greater than zero")
		}
		if line.UnitPrice < 0 {
			return apperr.Validation(op, field+".unit_price", "unit price must not be negative")
		}
		if line.DiscountPct.IsNegative() || line.DiscountPct.GreaterThan(hundred) {
			return apperr.Validation(op, field+".discount_pct", "discount must be between 0 and 100")
		}
	}
	return nil
}

// GetSale возвращает продажу со строками и аллокациями
func (l *Ledger) GetSale(ctx context.Context, id string) (repository.Sale, error) {
	if id == "" {
		return repository.Sale{}, apperr.Validation("service.GetSale", "id", "sale id is required")
	}
	return l.store.GetSale(ctx, id)
}
