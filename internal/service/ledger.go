package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/observability"
)

// Виды операций, они же kind в ledger_operations
const (
	KindSale         = "sale"
	KindRefund       = "refund"
	KindCancelSale   = "cancel_sale"
	KindAdjustment   = "adjustment"
	KindTransfer     = "transfer"
	KindReceipt      = "receipt"
	KindBatchStatus  = "batch_status"
	movementsEventV1 = "stock.movements.recorded"
)

const instrumentationName = "github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/service"

// Options - настройки координатора
type Options struct {
	// TxTimeout ограничивает всю операцию вместе с повторами
	TxTimeout time.Duration
	// MaxRetries - сколько раз повторять операцию после ConflictError
	MaxRetries int
	// RetryInitialInterval - первая пауза перед повтором
	RetryInitialInterval time.Duration
	// MovementTopic - Kafka топик для событий о движениях; пусто - события не пишутся
	MovementTopic string
	// Now - источник времени (для тестов)
	Now func() time.Time
}

// Ledger - TransactionCoordinator: каждая операция выполняется одной единицей работы
// (аллокация, изменение партий, запись журнала и outbox), либо не оставляет следов вовсе.
type Ledger struct {
	store     repository.Store
	allocator Allocator
	logger    *zap.Logger
	opts      Options

	tracer     trace.Tracer
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewLedger создаёт координатор
func NewLedger(store repository.Store, allocator Allocator, logger *zap.Logger, opts Options) *Ledger {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 20 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	meter := otel.Meter(instrumentationName)
	operations, err := meter.Int64Counter("pharmaflow.ledger.operations",
		metric.WithDescription("Ledger operations by kind and outcome"))
	if err != nil {
		logger.Warn("failed to create ledger operations counter", zap.Error(err))
	}
	duration, err := meter.Float64Histogram("pharmaflow.ledger.operation.duration",
		metric.WithDescription("Ledger operation duration"), metric.WithUnit("s"))
	if err != nil {
		logger.Warn("failed to create ledger duration histogram", zap.Error(err))
	}

	return &Ledger{
		store:      store,
		allocator:  allocator,
		logger:     logger,
		opts:       opts,
		tracer:     otel.Tracer(instrumentationName),
		operations: operations,
		duration:   duration,
	}
}

func (l *Ledger) now() time.Time {
	return l.opts.Now().UTC()
}

// applyFunc - тело операции внутри единицы работы
type applyFunc func(ctx context.Context, uow repository.UnitOfWork, op *operation) error

// execute выполняет операцию: таймаут, повтор при ConflictError, единица работы, журнал состояний.
// Ввод уже проверен вызывающим кодом; apply вызывается заново на каждой попытке.
func (l *Ledger) execute(ctx context.Context, kind, operationID, actor string, apply applyFunc) (string, error) {
	if operationID == "" {
		operationID = uuid.NewString()
	}

	ctx, span := l.tracer.Start(ctx, "ledger."+kind, trace.WithAttributes(
		attribute.String("ledger.operation_id", operationID),
		attribute.String("ledger.kind", kind),
		attribute.String("ledger.actor", actor),
	))
	defer span.End()

	logger := observability.L(ctx, l.logger).With(
		zap.String("operation_id", operationID),
		zap.String("kind", kind),
		zap.String("actor", actor),
	)

	ctx, cancel := context.WithTimeout(ctx, l.opts.TxTimeout)
	defer cancel()

	start := time.Now()
	attempts := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.opts.RetryInitialInterval
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(l.opts.MaxRetries)), ctx)

	err := backoff.RetryNotify(func() error {
		attempts++
		err := l.attempt(ctx, kind, operationID, actor, logger, span, apply)
		if err == nil || apperr.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, retry, func(err error, wait time.Duration) {
		logger.Warn("ledger operation conflict, retrying",
			zap.Error(err),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
		)
	})

	if err != nil && apperr.KindOf(err) == "" {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			err = apperr.Wrap(apperr.KindConflict, "service."+kind, "operation timed out", err)
		case errors.Is(err, context.Canceled):
			err = apperr.Wrap(apperr.KindConflict, "service."+kind, "operation cancelled", err)
		}
	}

	outcome := "committed"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Info("ledger operation rolled back", zap.Error(err), zap.Int("attempts", attempts))
	} else {
		logger.Info("ledger operation committed", zap.Int("attempts", attempts))
	}

	l.record(ctx, kind, outcome, time.Since(start))
	return operationID, err
}

// attempt - одна попытка: Begin, RegisterOperation, apply, outbox, Commit.
// defer Rollback гарантирует откат и освобождение соединения на любом пути выхода.
func (l *Ledger) attempt(ctx context.Context, kind, operationID, actor string, logger *zap.Logger, span trace.Span, apply applyFunc) error {
	op := newOperation(operationID, kind, actor, logger, span)

	uow, err := l.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if op.state != stateCommitted {
			_ = op.advance(stateRolledBack)
		}
		// откат должен пройти даже если ctx уже истёк
		if rbErr := uow.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			logger.Error("failed to rollback unit of work", zap.Error(rbErr))
		}
	}()

	if err := uow.RegisterOperation(ctx, operationID, kind); err != nil {
		return err
	}
	if err := op.advance(stateValidated); err != nil {
		return err
	}

	if err := apply(ctx, uow, op); err != nil {
		return err
	}
	if err := op.advance(stateApplied); err != nil {
		return err
	}

	if err := l.enqueueMovements(ctx, uow, op); err != nil {
		return err
	}

	if err := uow.Commit(ctx); err != nil {
		return err
	}
	return op.advance(stateCommitted)
}

type movementEvent struct {
	OperationID string          `json:"operation_id"`
	Kind        string          `json:"kind"`
	Actor       string          `json:"actor"`
	Movements   []movementEntry `json:"movements"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

type movementEntry struct {
	ID             int64  `json:"id"`
	BatchID        string `json:"batch_id"`
	ProductID      string `json:"product_id"`
	Type           string `json:"type"`
	Delta          int64  `json:"delta"`
	QuantityAfter  int64  `json:"quantity_after"`
	ContextBatchID string `json:"context_batch_id,omitempty"`
}

// enqueueMovements пишет одно outbox-событие на операцию в той же единице работы
func (l *Ledger) enqueueMovements(ctx context.Context, uow repository.UnitOfWork, op *operation) error {
	if l.opts.MovementTopic == "" || len(op.movements) == 0 {
		return nil
	}

	event := movementEvent{
		OperationID: op.id,
		Kind:        op.kind,
		Actor:       op.actor,
		Movements:   make([]movementEntry, 0, len(op.movements)),
		OccurredAt:  l.now(),
	}
	for _, m := range op.movements {
		event.Movements = append(event.Movements, movementEntry{
			ID:             m.ID,
			BatchID:        m.BatchID,
			ProductID:      m.ProductID,
			Type:           string(m.Type),
			Delta:          m.Delta,
			QuantityAfter:  m.QuantityAfter,
			ContextBatchID: m.ContextBatchID,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal movements event: %w", err)
	}

	return uow.EnqueueOutboxEvent(ctx, repository.OutboxEvent{
		EventID:     uuid.NewString(),
		Topic:       l.opts.MovementTopic,
		AggregateID: op.id,
		EventType:   movementsEventV1,
		Payload:     payload,
		Headers:     observability.InjectHeaders(ctx),
	})
}

func (l *Ledger) record(ctx context.Context, kind, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	if l.operations != nil {
		l.operations.Add(ctx, 1, attrs)
	}
	if l.duration != nil {
		l.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// lockBatches блокирует партии в каноническом порядке (товар, срок годности, поступление, id),
// том же, что и LockActiveByProduct у продажи, чтобы конкурентные операции не взаимоблокировались.
func lockBatches(ctx context.Context, store repository.BatchReader, uow repository.UnitOfWork, ids ...string) (map[string]repository.Batch, error) {
	seen := make(map[string]struct{}, len(ids))
	keys := make([]repository.Batch, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		b, err := store.GetBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, b)
	}

	repository.SortFIFO(keys)
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].ProductID < keys[j].ProductID })

	locked := make(map[string]repository.Batch, len(keys))
	for _, k := range keys {
		b, err := uow.GetForUpdate(ctx, k.ID)
		if err != nil {
			return nil, err
		}
		locked[b.ID] = b
	}
	return locked, nil
}

// requireActor проверяет, что операция выполняется от имени известного субъекта
func requireActor(op, actor string) error {
	if actor == "" {
		return apperr.Validation(op, "actor", "actor is required")
	}
	return nil
}
