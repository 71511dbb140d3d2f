package postgres

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// psql - builder с плейсхолдерами PostgreSQL ($1, $2, ...)
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var movementColumns = []string{
	"id", "batch_id", "product_id", "movement_type", "delta", "quantity_before", "quantity_after",
	"transaction_ref", "context_batch_id", "actor", "reason", "created_at",
}

func scanMovement(row pgx.Row) (repository.Movement, error) {
	var m repository.Movement
	var movementType string
	var contextBatchID *string
	err := row.Scan(&m.ID, &m.BatchID, &m.ProductID, &movementType, &m.Delta, &m.QuantityBefore,
		&m.QuantityAfter, &m.TransactionRef, &contextBatchID, &m.Actor, &m.Reason, &m.CreatedAt)
	if err != nil {
		return repository.Movement{}, err
	}
	m.Type = repository.MovementType(movementType)
	m.ContextBatchID = fromNullable(contextBatchID)
	return m, nil
}

// applyMovementFilter добавляет условия фильтра; значения всегда уходят аргументами
func applyMovementFilter(b sq.SelectBuilder, f repository.MovementFilter) sq.SelectBuilder {
	if f.BatchID != "" {
		b = b.Where(sq.Eq{"batch_id": f.BatchID})
	}
	if f.ProductID != "" {
		b = b.Where(sq.Eq{"product_id": f.ProductID})
	}
	if len(f.Types) > 0 {
		types := make([]string, 0, len(f.Types))
		for _, t := range f.Types {
			types = append(types, string(t))
		}
		b = b.Where(sq.Eq{"movement_type": types})
	}
	if f.Actor != "" {
		b = b.Where(sq.Eq{"actor": f.Actor})
	}
	if f.TransactionRef != "" {
		b = b.Where(sq.Eq{"transaction_ref": f.TransactionRef})
	}
	if !f.From.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": f.From})
	}
	if !f.To.IsZero() {
		b = b.Where(sq.Lt{"created_at": f.To})
	}
	return b
}

// buildMovementQuery собирает SELECT по журналу.
// Колонка сортировки берётся только из MovementSortColumns, направление - из bool.
func buildMovementQuery(f repository.MovementFilter) (string, []any, error) {
	f, err := f.Validate()
	if err != nil {
		return "", nil, err
	}

	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}
	column := repository.MovementSortColumns[f.SortBy]

	b := applyMovementFilter(psql.Select(movementColumns...).From("movements"), f).
		OrderBy(column+" "+direction, "id "+direction).
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset))

	return b.ToSql()
}

func (s *Store) queryMovements(ctx context.Context, op string, f repository.MovementFilter) ([]repository.Movement, error) {
	query, args, err := buildMovementQuery(f)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	movements := make([]repository.Movement, 0)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, translate(op, err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}
	return movements, nil
}

// ListMovementsByBatch возвращает историю партии
func (s *Store) ListMovementsByBatch(ctx context.Context, batchID string) ([]repository.Movement, error) {
	return s.queryMovements(ctx, "postgres.ListMovementsByBatch", repository.MovementFilter{
		BatchID: batchID, SortBy: "id", Limit: repository.MaxMovementLimit,
	})
}

// ListMovementsByProduct возвращает историю товара за период
func (s *Store) ListMovementsByProduct(ctx context.Context, productID string, from, to time.Time) ([]repository.Movement, error) {
	return s.queryMovements(ctx, "postgres.ListMovementsByProduct", repository.MovementFilter{
		ProductID: productID, From: from, To: to, SortBy: "id", Limit: repository.MaxMovementLimit,
	})
}

// QueryMovements фильтрует журнал по allow-list полей
func (s *Store) QueryMovements(ctx context.Context, filter repository.MovementFilter) ([]repository.Movement, error) {
	return s.queryMovements(ctx, "postgres.QueryMovements", filter)
}

// SummarizeMovements агрегирует журнал по типу движения
func (s *Store) SummarizeMovements(ctx context.Context, filter repository.MovementFilter) ([]repository.MovementSummary, error) {
	const op = "postgres.SummarizeMovements"

	filter, err := filter.Validate()
	if err != nil {
		return nil, err
	}

	query, args, err := applyMovementFilter(
		psql.Select("movement_type", "COUNT(*)", "COALESCE(SUM(delta), 0)").From("movements"), filter).
		GroupBy("movement_type").
		OrderBy("movement_type").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	out := make([]repository.MovementSummary, 0)
	for rows.Next() {
		var sum repository.MovementSummary
		var movementType string
		if err := rows.Scan(&movementType, &sum.Count, &sum.NetDelta); err != nil {
			return nil, translate(op, err)
		}
		sum.Type = repository.MovementType(movementType)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}
	return out, nil
}

// SumMovementDeltas считает сумму дельт и число движений партии
func (s *Store) SumMovementDeltas(ctx context.Context, batchID string) (int64, int64, error) {
	const op = "postgres.SumMovementDeltas"
	var sum, count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0), COUNT(*) FROM movements WHERE batch_id = $1`, batchID).
		Scan(&sum, &count)
	if err != nil {
		return 0, 0, translate(op, err)
	}
	return sum, count, nil
}

// AppendMovement добавляет запись журнала внутри транзакции
func (u *unitOfWork) AppendMovement(ctx context.Context, m repository.Movement) (repository.Movement, error) {
	const op = "postgres.AppendMovement"

	query, args, err := psql.Insert("movements").
		Columns("batch_id", "product_id", "movement_type", "delta", "quantity_before", "quantity_after",
			"transaction_ref", "context_batch_id", "actor", "reason").
		Values(m.BatchID, m.ProductID, string(m.Type), m.Delta, m.QuantityBefore, m.QuantityAfter,
			m.TransactionRef, nullable(m.ContextBatchID), m.Actor, m.Reason).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return repository.Movement{}, err
	}

	if err := u.tx.QueryRow(ctx, query, args...).Scan(&m.ID, &m.CreatedAt); err != nil {
		return repository.Movement{}, translate(op, err)
	}
	return m, nil
}
