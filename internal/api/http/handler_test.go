package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/alert"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/allocation"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository/memory"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/service"
	platformhealth "github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/health/http"
)

var apiNow = time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)

type apiFixture struct {
	t      *testing.T
	store  *memory.Store
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	clock := func() time.Time { return apiNow }

	store := memory.NewStore().WithClock(clock)
	store.PutProduct(repository.Product{ID: "p1", SKU: "AMX", Name: "Amoxicillin", MinimumStock: 10, ReorderPoint: 20, Active: true})

	ledger := service.NewLedger(store, allocation.NewEngine(), zap.NewNop(), service.Options{
		TxTimeout: time.Second,
		Now:       clock,
	})
	evaluator := alert.NewEvaluator(store, memory.NewCooldownStore().WithClock(clock), zap.NewNop(), alert.Options{Now: clock})

	handler := NewHandler(ledger, store, evaluator, zap.NewNop())
	return &apiFixture{t: t, store: store, router: NewRouter(handler, zap.NewNop())}
}

func (f *apiFixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-actor-id", "tester")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) receive(qty int64, batchNumber, expiration string) receiptResponse {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/v1/receipts", map[string]any{
		"product_id":      "p1",
		"batch_number":    batchNumber,
		"quantity":        qty,
		"unit_cost":       90,
		"expiration_date": expiration,
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[receiptResponse](f.t, rec)
}

func TestAPI_RequiresActor(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/batches/b1", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_ReceiptSaleRefund(t *testing.T) {
	f := newAPIFixture(t)

	x := f.receive(10, "X", "2024-01-01")
	y := f.receive(10, "Y", "2024-06-01")
	assert.True(t, x.Created)
	assert.Equal(t, int64(10), x.Batch.QuantityOnHand)
	assert.Equal(t, "purchase", x.Movement.Type)

	rec := f.do(http.MethodPost, "/v1/sales", map[string]any{
		"lines": []map[string]any{{"product_id": "p1", "quantity": 15, "unit_price": 100, "discount_pct": "10"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decode[operationResponse](t, rec)
	require.NotNil(t, sale.Sale)
	require.Len(t, sale.Movements, 2)
	assert.Equal(t, x.Batch.ID, sale.Movements[0].BatchID)
	assert.Equal(t, int64(-10), sale.Movements[0].Delta)
	assert.Equal(t, y.Batch.ID, sale.Movements[1].BatchID)
	assert.Equal(t, int64(1500), sale.Sale.Subtotal)
	assert.Equal(t, int64(150), sale.Sale.DiscountTotal)
	require.Len(t, sale.Sale.Lines[0].Allocations, 2)
	assert.Equal(t, "2024-01-01", sale.Sale.Lines[0].Allocations[0].ExpirationDate)

	rec = f.do(http.MethodGet, "/v1/batches/"+y.Batch.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(5), decode[batchResponse](t, rec).QuantityAvailable)

	rec = f.do(http.MethodPost, "/v1/refunds", map[string]any{
		"sale_line_id": sale.Sale.Lines[0].ID,
		"quantity":     15,
		"reason":       "wrong item",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	refund := decode[operationResponse](t, rec)
	assert.Equal(t, "refunded", refund.Sale.Status)

	rec = f.do(http.MethodPost, "/v1/sales/"+sale.Sale.ID+"/cancel", map[string]any{"reason": "void"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "state", decode[errorBody](t, rec).Error.Kind)

	rec = f.do(http.MethodGet, "/v1/batches/"+x.Batch.ID+"/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[reconcileResponse](t, rec)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(10), report.OnHand)
}

func TestAPI_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	b := f.receive(5, "B", "2024-01-01")

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantKind   string
		wantField  string
	}{
		{
			name: "insufficient stock", method: http.MethodPost, path: "/v1/sales",
			body:       map[string]any{"lines": []map[string]any{{"product_id": "p1", "quantity": 6, "unit_price": 100}}},
			wantStatus: http.StatusConflict, wantKind: "insufficient_stock",
		},
		{
			name: "missing lines", method: http.MethodPost, path: "/v1/sales",
			body:       map[string]any{"lines": []map[string]any{}},
			wantStatus: http.StatusBadRequest, wantKind: "validation", wantField: "lines",
		},
		{
			name: "nested field", method: http.MethodPost, path: "/v1/sales",
			body:       map[string]any{"lines": []map[string]any{{"product_id": "p1", "quantity": 0}}},
			wantStatus: http.StatusBadRequest, wantKind: "validation", wantField: "lines[0].quantity",
		},
		{
			name: "discount out of range", method: http.MethodPost, path: "/v1/sales",
			body:       map[string]any{"lines": []map[string]any{{"product_id": "p1", "quantity": 1, "discount_pct": "120"}}},
			wantStatus: http.StatusBadRequest, wantKind: "validation", wantField: "lines[0].discount_pct",
		},
		{
			name: "broken json", method: http.MethodPost, path: "/v1/adjustments", body: "{",
			wantStatus: http.StatusBadRequest, wantKind: "validation",
		},
		{
			name: "unknown field", method: http.MethodPost, path: "/v1/adjustments", body: `{"batch_id":"x","delta":1,"reason":"r","extra":1}`,
			wantStatus: http.StatusBadRequest, wantKind: "validation",
		},
		{
			name: "adjust below zero", method: http.MethodPost, path: "/v1/adjustments",
			body:       map[string]any{"batch_id": b.Batch.ID, "delta": -6, "reason": "count"},
			wantStatus: http.StatusConflict, wantKind: "insufficient_stock",
		},
		{
			name: "transfer to itself", method: http.MethodPost, path: "/v1/transfers",
			body:       map[string]any{"from_batch_id": b.Batch.ID, "to_batch_id": b.Batch.ID, "quantity": 1},
			wantStatus: http.StatusBadRequest, wantKind: "validation", wantField: "to_batch_id",
		},
		{
			name: "unknown batch", method: http.MethodGet, path: "/v1/batches/nope",
			wantStatus: http.StatusNotFound, wantKind: "not_found",
		},
		{
			name: "bad status", method: http.MethodPatch, path: "/v1/batches/" + b.Batch.ID + "/status",
			body:       map[string]any{"status": "lost", "reason": "r"},
			wantStatus: http.StatusBadRequest, wantKind: "validation", wantField: "status",
		},
		{
			name: "expired receipt", method: http.MethodPost, path: "/v1/receipts",
			body:       map[string]any{"product_id": "p1", "batch_number": "Z", "quantity": 1, "expiration_date": "2023-05-01"},
			wantStatus: http.StatusBadRequest, wantKind: "validation", wantField: "expiration_date",
		},
		{
			name: "sort outside allow-list", method: http.MethodGet, path: "/v1/movements?sort=reason",
			wantStatus: http.StatusBadRequest, wantKind: "validation", wantField: "sort",
		},
		{
			name: "bad order", method: http.MethodGet, path: "/v1/movements?order=sideways",
			wantStatus: http.StatusBadRequest, wantKind: "validation", wantField: "order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.wantKind, body.Error.Kind)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, body.Error.Field)
			}
		})
	}

	rec := f.do(http.MethodGet, "/v1/batches/"+b.Batch.ID, nil)
	assert.Equal(t, int64(5), decode[batchResponse](t, rec).QuantityOnHand)
}

func TestAPI_IdempotencyKey(t *testing.T) {
	f := newAPIFixture(t)
	b := f.receive(10, "B", "2024-01-01")

	body := map[string]any{"batch_id": b.Batch.ID, "delta": -2, "reason": "count"}

	rec := f.do(http.MethodPost, "/v1/adjustments", body, IdempotencyHeader, "adj-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "adj-1", decode[operationResponse](t, rec).OperationID)

	rec = f.do(http.MethodPost, "/v1/adjustments", body, IdempotencyHeader, "adj-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodGet, "/v1/batches/"+b.Batch.ID, nil)
	assert.Equal(t, int64(8), decode[batchResponse](t, rec).QuantityOnHand)
}

func TestAPI_MovementQueries(t *testing.T) {
	f := newAPIFixture(t)
	a := f.receive(10, "A", "2024-01-01")
	b := f.receive(10, "B", "2024-06-01")

	rec := f.do(http.MethodPost, "/v1/transfers", map[string]any{"from_batch_id": a.Batch.ID, "to_batch_id": b.Batch.ID, "quantity": 3, "reason": "shelf"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/v1/movements?type=transfer_out,transfer_in&sort=delta&order=desc", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	movements := decode[[]movementResponse](t, rec)
	require.Len(t, movements, 2)
	assert.Equal(t, int64(3), movements[0].Delta)
	assert.Equal(t, a.Batch.ID, movements[0].ContextBatchID)
	assert.Equal(t, int64(-3), movements[1].Delta)

	rec = f.do(http.MethodGet, "/v1/movements?product_id=p1&limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]movementResponse](t, rec), 1)

	rec = f.do(http.MethodGet, "/v1/movements/summary?product_id=p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[[]summaryResponse](t, rec)
	assert.Equal(t, []summaryResponse{
		{Type: "purchase", Count: 2, NetDelta: 20},
		{Type: "transfer_in", Count: 1, NetDelta: 3},
		{Type: "transfer_out", Count: 1, NetDelta: -3},
	}, summary)

	rec = f.do(http.MethodGet, "/v1/batches/"+a.Batch.ID+"/movements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]movementResponse](t, rec), 2)

	rec = f.do(http.MethodGet, "/v1/products/p1/batches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	batches := decode[[]batchResponse](t, rec)
	require.Len(t, batches, 2)
	assert.Equal(t, a.Batch.ID, batches[0].ID)
}

func TestAPI_AlertSweepAndFeed(t *testing.T) {
	f := newAPIFixture(t)
	f.receive(5, "SOON", "2023-06-20")

	rec := f.do(http.MethodPost, "/v1/alerts/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sweep := decode[sweepResponse](t, rec)
	// critical по сроку и critical по остатку (5 <= половины минимума 10)
	require.Len(t, sweep.Raised, 2)

	rec = f.do(http.MethodPost, "/v1/alerts/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[sweepResponse](t, rec).Suppressed)

	rec = f.do(http.MethodGet, "/v1/alerts?category=expiry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decode[[]alertResponse](t, rec)
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].Tier)
	require.NotNil(t, alerts[0].DaysToExpiry)
	assert.Equal(t, 19, *alerts[0].DaysToExpiry)

	rec = f.do(http.MethodGet, "/v1/alerts?category=weather", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/alerts/sweep?force=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Health(t *testing.T) {
	store := memory.NewStore()
	ledger := service.NewLedger(store, allocation.NewEngine(), zap.NewNop(), service.Options{})
	handler := NewHandler(ledger, store, alert.NewEvaluator(store, memory.NewCooldownStore(), zap.NewNop(), alert.Options{}), zap.NewNop())

	router := NewRouter(handler, nil, platformhealth.Check{Name: "memory", Probe: store.Ping})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"memory":"ok"`)
}
