package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/actorctx"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/alert"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/service"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/observability"
)

// IdempotencyHeader - клиентский ID операции; повтор того же ключа не применяется дважды
const IdempotencyHeader = "Idempotency-Key"

// Handler содержит HTTP-обработчики ledger-а.
// Зависит от service слоя и не знает о хранилище.
type Handler struct {
	ledger  *service.Ledger
	alerts  repository.AlertReader
	sweeper alert.SweepRunner
	logger  *zap.Logger
}

// NewHandler создаёт новый HTTP handler
func NewHandler(ledger *service.Ledger, alerts repository.AlertReader, sweeper alert.SweepRunner, logger *zap.Logger) *Handler {
	return &Handler{
		ledger:  ledger,
		alerts:  alerts,
		sweeper: sweeper,
		logger:  logger,
	}
}

func (h *Handler) log(ctx context.Context) *zap.Logger {
	return observability.L(ctx, h.logger)
}

func actor(r *http.Request) string {
	id, _ := actorctx.ActorIDFromContext(r.Context())
	return id
}

func operationID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(IdempotencyHeader))
}

// PostReceipts обрабатывает POST /v1/receipts - поступление товара
func (h *Handler) PostReceipts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	var req receiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, logger, err)
		return
	}
	expiration, err := time.Parse(dateLayout, req.ExpirationDate)
	if err != nil {
		writeError(w, logger, apperr.Validation("httpapi.PostReceipts", "expiration_date", "invalid date"))
		return
	}

	out, err := h.ledger.Receipt(ctx, service.ReceiptInput{
		OperationID:    operationID(r),
		Actor:          actor(r),
		ProductID:      req.ProductID,
		SupplierID:     req.SupplierID,
		BatchNumber:    req.BatchNumber,
		LotNumber:      req.LotNumber,
		Quantity:       req.Quantity,
		UnitCost:       req.UnitCost,
		ExpirationDate: expiration,
		Location:       req.Location,
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusCreated, receiptResponse{
		OperationID: out.OperationID,
		Created:     out.Created,
		Batch:       toBatchResponse(out.Batch),
		Movement:    toMovementResponse(out.Movement),
	})
}

// PostSales обрабатывает POST /v1/sales - продажа
func (h *Handler) PostSales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	var req saleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	in := service.SaleInput{
		OperationID: operationID(r),
		Actor:       actor(r),
		Lines:       make([]service.SaleLineInput, 0, len(req.Lines)),
		Payments:    make([]repository.Payment, 0, len(req.Payments)),
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, service.SaleLineInput{
			ProductID:     l.ProductID,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
			DiscountPct:   l.DiscountPct,
			PinnedBatchID: l.BatchID,
		})
	}
	for _, p := range req.Payments {
		in.Payments = append(in.Payments, repository.Payment{Method: p.Method, Amount: p.Amount})
	}

	out, err := h.ledger.Sale(ctx, in)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusCreated, operationResponse{
		OperationID: out.OperationID,
		Sale:        toSaleResponse(out.Sale),
		Movements:   toMovementResponses(out.Movements),
	})
}

// GetSale обрабатывает GET /v1/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	sale, err := h.ledger.GetSale(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, toSaleResponse(sale))
}

// PostCancelSale обрабатывает POST /v1/sales/{id}/cancel
func (h *Handler) PostCancelSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	var req cancelSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	out, err := h.ledger.CancelSale(ctx, service.CancelSaleInput{
		OperationID: operationID(r),
		Actor:       actor(r),
		SaleID:      chi.URLParam(r, "id"),
		Reason:      req.Reason,
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusOK, operationResponse{
		OperationID: out.OperationID,
		Sale:        toSaleResponse(out.Sale),
		Movements:   toMovementResponses(out.Movements),
	})
}

// PostRefunds обрабатывает POST /v1/refunds
func (h *Handler) PostRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	out, err := h.ledger.Refund(ctx, service.RefundInput{
		OperationID: operationID(r),
		Actor:       actor(r),
		SaleLineID:  req.SaleLineID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusCreated, operationResponse{
		OperationID: out.OperationID,
		Sale:        toSaleResponse(out.Sale),
		Movements:   toMovementResponses(out.Movements),
	})
}

// PostAdjustments обрабатывает POST /v1/adjustments
func (h *Handler) PostAdjustments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	var req adjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	out, err := h.ledger.Adjust(ctx, service.AdjustInput{
		OperationID: operationID(r),
		Actor:       actor(r),
		BatchID:     req.BatchID,
		Delta:       req.Delta,
		Reason:      req.Reason,
		Kind:        repository.MovementType(req.Kind),
	})
	h.writeBatchOutput(w, logger, out, err)
}

// PostTransfers обрабатывает POST /v1/transfers
func (h *Handler) PostTransfers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	out, err := h.ledger.Transfer(ctx, service.TransferInput{
		OperationID: operationID(r),
		Actor:       actor(r),
		FromBatchID: req.FromBatchID,
		ToBatchID:   req.ToBatchID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
	})
	h.writeBatchOutput(w, logger, out, err)
}

// PatchBatchStatus обрабатывает PATCH /v1/batches/{id}/status
func (h *Handler) PatchBatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	var req batchStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	out, err := h.ledger.ChangeBatchStatus(ctx, service.ChangeBatchStatusInput{
		OperationID: operationID(r),
		Actor:       actor(r),
		BatchID:     chi.URLParam(r, "id"),
		Status:      repository.BatchStatus(req.Status),
		Reason:      req.Reason,
		WriteOff:    req.WriteOff,
	})
	h.writeBatchOutput(w, logger, out, err)
}

func (h *Handler) writeBatchOutput(w http.ResponseWriter, logger *zap.Logger, out *service.BatchOutput, err error) {
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, operationResponse{
		OperationID: out.OperationID,
		Batches:     toBatchResponses(out.Batches),
		Movements:   toMovementResponses(out.Movements),
	})
}

// GetBatch обрабатывает GET /v1/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	batch, err := h.ledger.GetBatch(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, toBatchResponse(batch))
}

// GetProductBatches обрабатывает GET /v1/products/{id}/batches - активные партии в порядке FIFO
func (h *Handler) GetProductBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	batches, err := h.ledger.ListActiveBatches(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, toBatchResponses(batches))
}

// GetBatchMovements обрабатывает GET /v1/batches/{id}/movements
func (h *Handler) GetBatchMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	movements, err := h.ledger.BatchHistory(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, toMovementResponses(movements))
}

// GetBatchReconcile обрабатывает GET /v1/batches/{id}/reconcile
func (h *Handler) GetBatchReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	report, err := h.ledger.ReconcileBatch(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, toReconcileResponse(report))
}

// GetMovements обрабатывает GET /v1/movements - фильтр, сортировка и пагинация журнала
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	filter, err := parseMovementFilter(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	movements, err := h.ledger.QueryMovements(ctx, filter)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, toMovementResponses(movements))
}

// GetMovementSummary обрабатывает GET /v1/movements/summary
func (h *Handler) GetMovementSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	filter, err := parseMovementFilter(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	summary, err := h.ledger.SummarizeMovements(ctx, filter)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	out := make([]summaryResponse, 0, len(summary))
	for _, s := range summary {
		out = append(out, summaryResponse{Type: string(s.Type), Count: s.Count, NetDelta: s.NetDelta})
	}
	writeJSON(w, logger, http.StatusOK, out)
}

// GetAlerts обрабатывает GET /v1/alerts - лента для notification-коллаборатора
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	const op = "httpapi.GetAlerts"
	ctx := r.Context()
	logger := h.log(ctx)
	q := r.URL.Query()

	filter := repository.AlertFilter{
		Category:  repository.AlertCategory(q.Get("category")),
		ProductID: q.Get("product_id"),
		Limit:     100,
	}
	if filter.Category != "" && filter.Category != repository.AlertCategoryExpiry && filter.Category != repository.AlertCategoryStock {
		writeError(w, logger, apperr.Validation(op, "category", "must be one of [expiry stock]"))
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, logger, apperr.Validation(op, "since", "must be an RFC3339 timestamp"))
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 1000 {
			writeError(w, logger, apperr.Validation(op, "limit", "must be between 1 and 1000"))
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.alerts.ListAlerts(ctx, filter)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, toAlertResponses(alerts))
}

// PostAlertSweep обрабатывает POST /v1/alerts/sweep?force=true - внеочередной проход
func (h *Handler) PostAlertSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(ctx)

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, logger, apperr.Validation("httpapi.PostAlertSweep", "force", "must be a boolean"))
			return
		}
		force = parsed
	}

	logger.Info("alert sweep requested", zap.String("actor", actor(r)), zap.Bool("force", force))

	result, err := h.sweeper.Sweep(ctx, force)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, toSweepResponse(result))
}

// parseMovementFilter переносит query параметры в фильтр; allow-list сортировки проверяет хранилище
func parseMovementFilter(r *http.Request) (repository.MovementFilter, error) {
	const op = "httpapi.parseMovementFilter"
	q := r.URL.Query()

	filter := repository.MovementFilter{
		BatchID:        q.Get("batch_id"),
		ProductID:      q.Get("product_id"),
		Actor:          q.Get("actor"),
		TransactionRef: q.Get("transaction_ref"),
		SortBy:         q.Get("sort"),
	}

	for _, raw := range q["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, repository.MovementType(t))
			}
		}
	}

	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		filter.SortDesc = true
	default:
		return filter, apperr.Validation(op, "order", "must be asc or desc")
	}

	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, apperr.Validation(op, name, "must be an RFC3339 timestamp")
		}
		*dst = ts
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, apperr.Validation(op, name, "must be an integer")
		}
		*dst = n
	}

	return filter, nil
}
