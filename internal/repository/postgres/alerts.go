package postgres

import (
	"context"
	"time"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// ListAlerts возвращает ленту алертов, новые первыми
func (s *Store) ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]repository.Alert, error) {
	const op = "postgres.ListAlerts"

	b := psql.Select("id", "category", "tier", "product_id", "batch_id", "quantity", "days_to_expiry",
		"expiration_date", "message", "forced", "raised_at").
		From("alerts").
		OrderBy("raised_at DESC", "id")

	if !filter.Since.IsZero() {
		b = b.Where("raised_at >= ?", filter.Since)
	}
	if filter.Category != "" {
		b = b.Where("category = ?", string(filter.Category))
	}
	if filter.ProductID != "" {
		b = b.Where("product_id = ?", filter.ProductID)
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	alerts := make([]repository.Alert, 0)
	for rows.Next() {
		var a repository.Alert
		var category, tier string
		var batchID *string
		var expiration *time.Time
		if err := rows.Scan(&a.ID, &category, &tier, &a.ProductID, &batchID, &a.Quantity, &a.DaysToExpiry,
			&expiration, &a.Message, &a.Forced, &a.RaisedAt); err != nil {
			return nil, translate(op, err)
		}
		a.Category = repository.AlertCategory(category)
		a.Tier = repository.AlertTier(tier)
		a.BatchID = fromNullable(batchID)
		if expiration != nil {
			a.ExpirationDate = *expiration
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}
	return alerts, nil
}

// InsertAlert сохраняет алерт
func (u *unitOfWork) InsertAlert(ctx context.Context, alert repository.Alert) error {
	const op = "postgres.InsertAlert"

	var expiration *time.Time
	if !alert.ExpirationDate.IsZero() {
		expiration = &alert.ExpirationDate
	}

	_, err := u.tx.Exec(ctx,
		`INSERT INTO alerts (id, category, tier, product_id, batch_id, quantity, days_to_expiry,
		                     expiration_date, message, forced, raised_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		alert.ID, string(alert.Category), string(alert.Tier), alert.ProductID, nullable(alert.BatchID),
		alert.Quantity, alert.DaysToExpiry, expiration, alert.Message, alert.Forced, alert.RaisedAt)
	return translate(op, err)
}
