// Package allocation выбирает партии, из которых списывается запрошенное количество.
//
// Engine не ходит в хранилище: он получает уже заблокированные кандидаты
// от координатора и возвращает план списания.
package allocation

import (
	"time"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// Request - запрос на подбор партий
type Request struct {
	ProductID     string
	Quantity      int64
	PinnedBatchID string
}

// Allocation - сколько взять из конкретной партии
type Allocation struct {
	BatchID        string
	BatchNumber    string
	ExpirationDate time.Time
	Quantity       int64
}

// Engine реализует политику FIFO по сроку годности
type Engine struct{}

// NewEngine создаёт Engine
func NewEngine() *Engine {
	return &Engine{}
}

// Plan подбирает партии под запрос.
// candidates - партии товара в любом порядке; неподходящие (чужой товар, не active, просроченные, без остатка) пропускаются.
// Сумма Quantity в результате всегда равна req.Quantity.
func (e *Engine) Plan(req Request, candidates []repository.Batch, now time.Time) ([]Allocation, error) {
	const op = "allocation.Plan"

	if req.ProductID == "" {
		return nil, apperr.Validation(op, "product_id", "product id is required")
	}
	if req.Quantity <= 0 {
		return nil, apperr.Validation(op, "quantity", "quantity must be greater than zero")
	}

	if req.PinnedBatchID != "" {
		return e.planPinned(req, candidates, now)
	}

	eligible := make([]repository.Batch, 0, len(candidates))
	var total int64
	for _, b := range candidates {
		if !eligibleBatch(b, req.ProductID, now) {
			continue
		}
		eligible = append(eligible, b)
		total += b.Available()
	}

	if total < req.Quantity {
		return nil, apperr.Newf(apperr.KindInsufficientStock, op,
			"product %s: requested %d, available %d", req.ProductID, req.Quantity, total)
	}

	repository.SortFIFO(eligible)

	remaining := req.Quantity
	plan := make([]Allocation, 0, 1)
	for _, b := range eligible {
		if remaining == 0 {
			break
		}
		take := b.Available()
		if take > remaining {
			take = remaining
		}
		plan = append(plan, allocationFrom(b, take))
		remaining -= take
	}

	return plan, nil
}

func (e *Engine) planPinned(req Request, candidates []repository.Batch, now time.Time) ([]Allocation, error) {
	const op = "allocation.Plan"

	var pinned *repository.Batch
	for i := range candidates {
		if candidates[i].ID == req.PinnedBatchID {
			pinned = &candidates[i]
			break
		}
	}
	if pinned == nil {
		return nil, apperr.NotFound(op, "batch", req.PinnedBatchID)
	}
	if pinned.ProductID != req.ProductID {
		return nil, apperr.Validation(op, "pinned_batch_id",
			"batch "+pinned.ID+" does not belong to product "+req.ProductID)
	}
	if pinned.Status != repository.BatchStatusActive {
		return nil, apperr.Newf(apperr.KindState, op, "batch %s is %s", pinned.ID, pinned.Status)
	}
	if pinned.IsExpired(now) {
		return nil, apperr.Newf(apperr.KindState, op, "batch %s expired on %s",
			pinned.ID, pinned.ExpirationDate.Format(time.DateOnly))
	}
	if pinned.Available() < req.Quantity {
		return nil, apperr.Newf(apperr.KindInsufficientStock, op,
			"batch %s: requested %d, available %d", pinned.ID, req.Quantity, pinned.Available())
	}

	return []Allocation{allocationFrom(*pinned, req.Quantity)}, nil
}

func eligibleBatch(b repository.Batch, productID string, now time.Time) bool {
	return b.ProductID == productID &&
		b.Status == repository.BatchStatusActive &&
		!b.IsExpired(now) &&
		b.Available() > 0
}

func allocationFrom(b repository.Batch, qty int64) Allocation {
	return Allocation{
		BatchID:        b.ID,
		BatchNumber:    b.BatchNumber,
		ExpirationDate: b.ExpirationDate,
		Quantity:       qty,
	}
}
