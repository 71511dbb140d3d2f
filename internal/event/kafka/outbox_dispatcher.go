package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/observability"
)

// MessageWriter - часть kafka.Writer, нужная dispatcher-у
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DispatcherConfig - параметры outbox dispatcher-а
type DispatcherConfig struct {
	BatchSize  int           // сколько событий забирать за один проход
	Interval   time.Duration // пауза между проходами
	MaxRetries int           // попыток публикации одного события за проход
	Backoff    time.Duration // базовая пауза между попытками
}

// OutboxDispatcher публикует события из outbox в Kafka (алерты и движения ledger-а).
// Событие остаётся pending до успешной публикации: доставка at-least-once.
type OutboxDispatcher struct {
	logger  *zap.Logger
	repo    repository.OutboxRepository
	writer  MessageWriter
	breaker *gobreaker.CircuitBreaker
	cfg     DispatcherConfig
}

// NewWriter создаёт kafka.Writer для брокеров; топик берётся из каждого сообщения
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewOutboxDispatcher создаёт новый outbox dispatcher
func NewOutboxDispatcher(logger *zap.Logger, repo repository.OutboxRepository, writer MessageWriter, cfg DispatcherConfig) *OutboxDispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-outbox",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("kafka circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &OutboxDispatcher{
		logger:  logger,
		repo:    repo,
		writer:  writer,
		breaker: breaker,
		cfg:     cfg,
	}
}

// Start запускает dispatcher; блокируется до отмены ctx
func (d *OutboxDispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting outbox dispatcher",
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("max_retries", d.cfg.MaxRetries),
	)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("failed to process initial batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher context cancelled, stopping")
			return nil
		case <-ticker.C:
			if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("failed to process batch", zap.Error(err))
			}
		}
	}
}

// processBatch обрабатывает батч pending событий
func (d *OutboxDispatcher) processBatch(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	events, err := d.repo.GetPendingOutboxEvents(ctx, d.cfg.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	d.logger.Debug("processing outbox batch", zap.Int("count", len(events)))

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := d.processEvent(ctx, event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("failed to process event",
				zap.Error(err),
				zap.String("event_id", event.EventID),
				zap.String("topic", event.Topic),
			)
			// брокер недоступен: остальные события батча ждут следующего прохода
			if errors.Is(err, gobreaker.ErrOpenState) {
				return err
			}
		}
	}

	return nil
}

// processEvent публикует одно событие с retry через circuit breaker
func (d *OutboxDispatcher) processEvent(ctx context.Context, event repository.OutboxEvent) error {
	msg := kafka.Message{
		Topic:   event.Topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: append(observability.KafkaHeaders(event.Headers), kafka.Header{Key: "event_type", Value: []byte(event.EventType)}),
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		_, err := d.breaker.Execute(func() (interface{}, error) {
			return nil, d.writer.WriteMessages(ctx, msg)
		})
		if err == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if markErr := d.repo.MarkOutboxEventSent(ctx, event.EventID); markErr != nil {
				d.logger.Error("failed to mark event as sent",
					zap.Error(markErr),
					zap.String("event_id", event.EventID),
				)
				return markErr
			}

			d.logger.Info("outbox event published successfully",
				zap.String("event_id", event.EventID),
				zap.String("topic", event.Topic),
				zap.String("event_type", event.EventType),
				zap.String("aggregate_id", event.AggregateID),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		lastErr = err
		d.logger.Warn("failed to publish outbox event",
			zap.Error(err),
			zap.String("event_id", event.EventID),
			zap.String("topic", event.Topic),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", d.cfg.MaxRetries),
		)

		if errors.Is(err, gobreaker.ErrOpenState) {
			break
		}

		if attempt < d.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.Backoff * time.Duration(attempt)):
			}
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// событие остаётся pending: следующий проход попробует снова
	errMsg := fmt.Sprintf("publish failed: %v", lastErr)
	if markErr := d.repo.MarkOutboxEventFailed(ctx, event.EventID, errMsg); markErr != nil {
		d.logger.Error("failed to mark event as failed",
			zap.Error(markErr),
			zap.String("event_id", event.EventID),
		)
		return markErr
	}

	return fmt.Errorf("failed to publish event: %w", lastErr)
}

// Close закрывает Kafka writer
func (d *OutboxDispatcher) Close() error {
	d.logger.Info("closing outbox dispatcher")
	return d.writer.Close()
}
