package httpapi

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformhealth "github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/health/http"
	platformobservability "github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/observability"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/api/http/middleware"
)

// NewRouter создаёт и настраивает HTTP роутер ledger-а.
// checks - проверки готовности для /health (postgres, redis); при падении любой health вернёт 503.
// logger используется для observability HTTP middleware (trace_id в логах).
func NewRouter(handler *Handler, logger *zap.Logger, checks ...platformhealth.Check) chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)

	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("pharmaflow", logger))
	}

	// /v1* требуют x-actor-id (middleware возвращает 401 при отсутствии)
	router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.WithActorID)

		r.Post("/receipts", handler.PostReceipts)

		r.Post("/sales", handler.PostSales)
		r.Get("/sales/{id}", handler.GetSale)
		r.Post("/sales/{id}/cancel", handler.PostCancelSale)

		r.Post("/refunds", handler.PostRefunds)
		r.Post("/adjustments", handler.PostAdjustments)
		r.Post("/transfers", handler.PostTransfers)

		r.Get("/batches/{id}", handler.GetBatch)
		r.Patch("/batches/{id}/status", handler.PatchBatchStatus)
		r.Get("/batches/{id}/movements", handler.GetBatchMovements)
		r.Get("/batches/{id}/reconcile", handler.GetBatchReconcile)
		r.Get("/products/{id}/batches", handler.GetProductBatches)

		r.Get("/movements", handler.GetMovements)
		r.Get("/movements/summary", handler.GetMovementSummary)

		r.Get("/alerts", handler.GetAlerts)
		r.Post("/alerts/sweep", handler.PostAlertSweep)
	})

	// Health без middleware (не требует actor)
	router.Get("/health", platformhealth.Handler(2*time.Second, checks...))

	return router
}
