package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// EnqueueOutboxEvent пишет событие в outbox в текущей транзакции
func (u *unitOfWork) EnqueueOutboxEvent(ctx context.Context, event repository.OutboxEvent) error {
	const op = "postgres.EnqueueOutboxEvent"

	headers, err := json.Marshal(event.Headers)
	if err != nil {
		return fmt.Errorf("%s: encode headers: %w", op, err)
	}
	if event.Headers == nil {
		headers = []byte("{}")
	}

	_, err = u.tx.Exec(ctx,
		`INSERT INTO outbox_events (event_id, topic, aggregate_id, event_type, payload, headers)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.EventID, event.Topic, event.AggregateID, event.EventType, event.Payload, headers)
	return translate(op, err)
}

// GetPendingOutboxEvents возвращает pending события в порядке создания
func (s *Store) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	const op = "postgres.GetPendingOutboxEvents"

	rows, err := s.pool.Query(ctx,
		`SELECT event_id, topic, aggregate_id, event_type, payload, headers, attempts, last_error, created_at
		 FROM outbox_events
		 WHERE status = 'pending'
		 ORDER BY created_at, event_id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	events := make([]repository.OutboxEvent, 0)
	for rows.Next() {
		var e repository.OutboxEvent
		var headers []byte
		if err := rows.Scan(&e.EventID, &e.Topic, &e.AggregateID, &e.EventType, &e.Payload, &headers,
			&e.Attempts, &e.LastError, &e.CreatedAt); err != nil {
			return nil, translate(op, err)
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &e.Headers); err != nil {
				return nil, fmt.Errorf("%s: decode headers: %w", op, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}
	return events, nil
}

// MarkOutboxEventSent переводит событие в sent
func (s *Store) MarkOutboxEventSent(ctx context.Context, eventID string) error {
	const op = "postgres.MarkOutboxEventSent"
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox_events SET status = 'sent', sent_at = now() WHERE event_id = $1`, eventID)
	if err != nil {
		return translate(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(op, "outbox event", eventID)
	}
	return nil
}

// MarkOutboxEventFailed увеличивает attempts и сохраняет last_error; событие остаётся pending
func (s *Store) MarkOutboxEventFailed(ctx context.Context, eventID string, errMsg string) error {
	const op = "postgres.MarkOutboxEventFailed"
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE event_id = $1`, eventID, errMsg)
	if err != nil {
		return translate(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(op, "outbox event", eventID)
	}
	return nil
}
