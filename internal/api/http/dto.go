package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/alert"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/service"
)

const dateLayout = time.DateOnly

// ---- запросы ----

type receiptRequest struct {
	ProductID      string `json:"product_id" validate:"required"`
	SupplierID     string `json:"supplier_id"`
	BatchNumber    string `json:"batch_number" validate:"required,max=64"`
	LotNumber      string `json:"lot_number" validate:"max=64"`
	Quantity       int64  `json:"quantity" validate:"gt=0"`
	UnitCost       int64  `json:"unit_cost" validate:"gte=0"`
	ExpirationDate string `json:"expiration_date" validate:"required,datetime=2006-01-02"`
	Location       string `json:"location"`
}

type saleLineRequest struct {
	ProductID   string          `json:"product_id" validate:"required"`
	Quantity    int64           `json:"quantity" validate:"gt=0"`
	UnitPrice   int64           `json:"unit_price" validate:"gte=0"`
	DiscountPct decimal.Decimal `json:"discount_pct" validate:"percent"`
	BatchID     string          `json:"batch_id"`
}

type paymentRequest struct {
	Method string `json:"method" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

type saleRequest struct {
	Lines    []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
	Payments []paymentRequest  `json:"payments" validate:"dive"`
}

type cancelSaleRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type refundRequest struct {
	SaleLineID string `json:"sale_line_id" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"gt=0"`
	Reason     string `json:"reason" validate:"required"`
}

type adjustmentRequest struct {
	BatchID string `json:"batch_id" validate:"required"`
	Delta   int64  `json:"delta" validate:"ne=0"`
	Reason  string `json:"reason" validate:"required"`
	Kind    string `json:"kind" validate:"omitempty,oneof=adjustment damaged expired"`
}

type transferRequest struct {
	FromBatchID string `json:"from_batch_id" validate:"required"`
	ToBatchID   string `json:"to_batch_id" validate:"required,nefield=FromBatchID"`
	Quantity    int64  `json:"quantity" validate:"gt=0"`
	Reason      string `json:"reason"`
}

type batchStatusRequest struct {
	Status   string `json:"status" validate:"required,oneof=active expired damaged recalled"`
	Reason   string `json:"reason" validate:"required"`
	WriteOff bool   `json:"write_off"`
}

// ---- ответы ----

type batchResponse struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	BatchNumber       string    `json:"batch_number"`
	LotNumber         string    `json:"lot_number,omitempty"`
	SupplierID        string    `json:"supplier_id,omitempty"`
	QuantityOnHand    int64     `json:"quantity_on_hand"`
	QuantityReserved  int64     `json:"quantity_reserved"`
	QuantityAvailable int64     `json:"quantity_available"`
	UnitCost          int64     `json:"unit_cost"`
	ExpirationDate    string    `json:"expiration_date"`
	ReceivedAt        time.Time `json:"received_at"`
	Status            string    `json:"status"`
	Location          string    `json:"location,omitempty"`
}

type movementResponse struct {
	ID             int64     `json:"id"`
	BatchID        string    `json:"batch_id"`
	ProductID      string    `json:"product_id"`
	Type           string    `json:"type"`
	Delta          int64     `json:"delta"`
	QuantityBefore int64     `json:"quantity_before"`
	QuantityAfter  int64     `json:"quantity_after"`
	TransactionRef string    `json:"transaction_ref"`
	ContextBatchID string    `json:"context_batch_id,omitempty"`
	Actor          string    `json:"actor"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type allocationResponse struct {
	Seq              int    `json:"seq"`
	BatchID          string `json:"batch_id"`
	BatchNumber      string `json:"batch_number"`
	ExpirationDate   string `json:"expiration_date"`
	Quantity         int64  `json:"quantity"`
	RefundedQuantity int64  `json:"refunded_quantity"`
}

type saleLineResponse struct {
	ID               string               `json:"id"`
	LineNo           int                  `json:"line_no"`
	ProductID        string               `json:"product_id"`
	Quantity         int64                `json:"quantity"`
	RefundedQuantity int64                `json:"refunded_quantity"`
	UnitPrice        int64                `json:"unit_price"`
	DiscountPct      decimal.Decimal      `json:"discount_pct"`
	Gross            int64                `json:"gross"`
	Discount         int64                `json:"discount"`
	Tax              int64                `json:"tax"`
	LineTotal        int64                `json:"line_total"`
	Allocations      []allocationResponse `json:"allocations"`
}

type saleResponse struct {
	ID            string               `json:"id"`
	OperationID   string               `json:"operation_id"`
	Actor         string               `json:"actor"`
	Status        string               `json:"status"`
	Subtotal      int64                `json:"subtotal"`
	DiscountTotal int64                `json:"discount_total"`
	TaxTotal      int64                `json:"tax_total"`
	Total         int64                `json:"total"`
	Payments      []repository.Payment `json:"payments"`
	Lines         []saleLineResponse   `json:"lines"`
	CreatedAt     time.Time            `json:"created_at"`
}

type operationResponse struct {
	OperationID string             `json:"operation_id"`
	Batches     []batchResponse    `json:"batches,omitempty"`
	Sale        *saleResponse      `json:"sale,omitempty"`
	Movements   []movementResponse `json:"movements"`
}

type receiptResponse struct {
	OperationID string           `json:"operation_id"`
	Created     bool             `json:"created"`
	Batch       batchResponse    `json:"batch"`
	Movement    movementResponse `json:"movement"`
}

type summaryResponse struct {
	Type     string `json:"type"`
	Count    int64  `json:"count"`
	NetDelta int64  `json:"net_delta"`
}

type reconcileResponse struct {
	BatchID       string `json:"batch_id"`
	OnHand        int64  `json:"on_hand"`
	MovementSum   int64  `json:"movement_sum"`
	MovementCount int64  `json:"movement_count"`
	Consistent    bool   `json:"consistent"`
}

type alertResponse struct {
	ID             string    `json:"id"`
	Category       string    `json:"category"`
	Tier           string    `json:"tier"`
	ProductID      string    `json:"product_id"`
	BatchID        string    `json:"batch_id,omitempty"`
	Quantity       int64     `json:"quantity"`
	DaysToExpiry   *int      `json:"days_to_expiry,omitempty"`
	ExpirationDate string    `json:"expiration_date,omitempty"`
	Message        string    `json:"message"`
	Forced         bool      `json:"forced"`
	RaisedAt       time.Time `json:"raised_at"`
}

type sweepResponse struct {
	Evaluated  int             `json:"evaluated"`
	Suppressed int             `json:"suppressed"`
	Raised     []alertResponse `json:"raised"`
}

// ---- конвертация ----

func toBatchResponse(b repository.Batch) batchResponse {
	return batchResponse{
		ID:                b.ID,
		ProductID:         b.ProductID,
		BatchNumber:       b.BatchNumber,
		LotNumber:         b.LotNumber,
		SupplierID:        b.SupplierID,
		QuantityOnHand:    b.QuantityOnHand,
		QuantityReserved:  b.QuantityReserved,
		QuantityAvailable: b.Available(),
		UnitCost:          b.UnitCost,
		ExpirationDate:    b.ExpirationDate.Format(dateLayout),
		ReceivedAt:        b.ReceivedAt,
		Status:            string(b.Status),
		Location:          b.Location,
	}
}

func toBatchResponses(batches []repository.Batch) []batchResponse {
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	return out
}

func toMovementResponse(m repository.Movement) movementResponse {
	return movementResponse{
		ID:             m.ID,
		BatchID:        m.BatchID,
		ProductID:      m.ProductID,
		Type:           string(m.Type),
		Delta:          m.Delta,
		QuantityBefore: m.QuantityBefore,
		QuantityAfter:  m.QuantityAfter,
		TransactionRef: m.TransactionRef,
		ContextBatchID: m.ContextBatchID,
		Actor:          m.Actor,
		Reason:         m.Reason,
		CreatedAt:      m.CreatedAt,
	}
}

func toMovementResponses(ms []repository.Movement) []movementResponse {
	out := make([]movementResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMovementResponse(m))
	}
	return out
}

func toSaleResponse(s repository.Sale) *saleResponse {
	resp := &saleResponse{
		ID:            s.ID,
		OperationID:   s.OperationID,
		Actor:         s.Actor,
		Status:        string(s.Status),
		Subtotal:      s.Subtotal,
		DiscountTotal: s.DiscountTotal,
		TaxTotal:      s.TaxTotal,
		Total:         s.Total,
		Payments:      s.Payments,
		Lines:         make([]saleLineResponse, 0, len(s.Lines)),
		CreatedAt:     s.CreatedAt,
	}
	if resp.Payments == nil {
		resp.Payments = []repository.Payment{}
	}
	for _, l := range s.Lines {
		line := saleLineResponse{
			ID:               l.ID,
			LineNo:           l.LineNo,
			ProductID:        l.ProductID,
			Quantity:         l.Quantity,
			RefundedQuantity: l.RefundedQuantity,
			UnitPrice:        l.UnitPrice,
			DiscountPct:      l.DiscountPct,
			Gross:            l.Gross,
			Discount:         l.Discount,
			Tax:              l.Tax,
			LineTotal:        l.LineTotal,
			Allocations:      make([]allocationResponse, 0, len(l.Allocations)),
		}
		for _, a := range l.Allocations {
			line.Allocations = append(line.Allocations, allocationResponse{
				Seq:              a.Seq,
				BatchID:          a.BatchID,
				BatchNumber:      a.BatchNumber,
				ExpirationDate:   a.ExpirationDate.Format(dateLayout),
				Quantity:         a.Quantity,
				RefundedQuantity: a.RefundedQuantity,
			})
		}
		resp.Lines = append(resp.Lines, line)
	}
	return resp
}

func toAlertResponse(a repository.Alert) alertResponse {
	resp := alertResponse{
		ID:        a.ID,
		Category:  string(a.Category),
		Tier:      string(a.Tier),
		ProductID: a.ProductID,
		BatchID:   a.BatchID,
		Quantity:  a.Quantity,
		Message:   a.Message,
		Forced:    a.Forced,
		RaisedAt:  a.RaisedAt,
	}
	if a.Category == repository.AlertCategoryExpiry {
		days := a.DaysToExpiry
		resp.DaysToExpiry = &days
		resp.ExpirationDate = a.ExpirationDate.Format(dateLayout)
	}
	return resp
}

func toAlertResponses(alerts []repository.Alert) []alertResponse {
	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertResponse(a))
	}
	return out
}

func toSweepResponse(r *alert.SweepResult) sweepResponse {
	return sweepResponse{
		Evaluated:  r.Evaluated,
		Suppressed: r.Suppressed,
		Raised:     toAlertResponses(r.Raised),
	}
}

func toReconcileResponse(r service.ReconcileReport) reconcileResponse {
	return reconcileResponse{
		BatchID:       r.BatchID,
		OnHand:        r.OnHand,
		MovementSum:   r.MovementSum,
		MovementCount: r.MovementCount,
		Consistent:    r.Consistent,
	}
}
