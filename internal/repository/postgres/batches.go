package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

const productColumns = `id, sku, name, minimum_stock, reorder_point, maximum_stock, tax_rate::text,
	requires_prescription, controlled, active`

const batchColumns = `id, product_id, batch_number, lot_number, supplier_id, quantity_on_hand,
	quantity_reserved, unit_cost, expiration_date, received_at, status, location, created_at, updated_at`

func scanProduct(row pgx.Row) (repository.Product, error) {
	var p repository.Product
	var taxRate string
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.MinimumStock, &p.ReorderPoint, &p.MaximumStock, &taxRate,
		&p.RequiresPrescription, &p.Controlled, &p.Active)
	if err != nil {
		return repository.Product{}, err
	}
	p.TaxRate, err = decimal.NewFromString(taxRate)
	if err != nil {
		return repository.Product{}, err
	}
	return p, nil
}

func scanBatch(row pgx.Row) (repository.Batch, error) {
	var b repository.Batch
	var status string
	err := row.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.LotNumber, &b.SupplierID, &b.QuantityOnHand,
		&b.QuantityReserved, &b.UnitCost, &b.ExpirationDate, &b.ReceivedAt, &status, &b.Location,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return repository.Batch{}, err
	}
	b.Status = repository.BatchStatus(status)
	return b, nil
}

func collectBatches(rows pgx.Rows) ([]repository.Batch, error) {
	defer rows.Close()

	batches := make([]repository.Batch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetProduct получает товар каталога по ID
func (s *Store) GetProduct(ctx context.Context, id string) (repository.Product, error) {
	const op = "postgres.GetProduct"
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return repository.Product{}, notFoundOr(op, "product", id, err)
	}
	return p, nil
}

// ListActiveProducts возвращает активные товары
func (s *Store) ListActiveProducts(ctx context.Context) ([]repository.Product, error) {
	const op = "postgres.ListActiveProducts"

	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE active ORDER BY id`)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	products := make([]repository.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, translate(op, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}
	return products, nil
}

// GetBatch получает закоммиченное состояние партии
func (s *Store) GetBatch(ctx context.Context, id string) (repository.Batch, error) {
	const op = "postgres.GetBatch"
	b, err := scanBatch(s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id))
	if err != nil {
		return repository.Batch{}, notFoundOr(op, "batch", id, err)
	}
	return b, nil
}

// ListActiveBatches возвращает активные партии товара в FIFO-порядке
func (s *Store) ListActiveBatches(ctx context.Context, productID string) ([]repository.Batch, error) {
	const op = "postgres.ListActiveBatches"
	rows, err := s.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE product_id = $1 AND status = 'active'
		 ORDER BY expiration_date, received_at, id`, productID)
	if err != nil {
		return nil, translate(op, err)
	}
	batches, err := collectBatches(rows)
	return batches, translate(op, err)
}

// ListAllActiveBatches возвращает все активные партии
func (s *Store) ListAllActiveBatches(ctx context.Context) ([]repository.Batch, error) {
	const op = "postgres.ListAllActiveBatches"
	rows, err := s.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE status = 'active'
		 ORDER BY product_id, expiration_date, received_at, id`)
	if err != nil {
		return nil, translate(op, err)
	}
	batches, err := collectBatches(rows)
	return batches, translate(op, err)
}

// GetForUpdate - read-for-mutation: SELECT ... FOR UPDATE держит блокировку до конца транзакции
func (u *unitOfWork) GetForUpdate(ctx context.Context, id string) (repository.Batch, error) {
	const op = "postgres.GetForUpdate"
	b, err := scanBatch(u.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return repository.Batch{}, notFoundOr(op, "batch", id, err)
	}
	return b, nil
}

// LockActiveByProduct блокирует активные партии товара в FIFO-порядке
func (u *unitOfWork) LockActiveByProduct(ctx context.Context, productID string) ([]repository.Batch, error) {
	const op = "postgres.LockActiveByProduct"
	rows, err := u.tx.Query(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE product_id = $1 AND status = 'active'
		 ORDER BY expiration_date, received_at, id
		 FOR UPDATE`, productID)
	if err != nil {
		return nil, translate(op, err)
	}
	batches, err := collectBatches(rows)
	return batches, translate(op, err)
}

// FindForReceipt ищет и блокирует партию для оприходования
func (u *unitOfWork) FindForReceipt(ctx context.Context, productID, batchNumber, lotNumber string, expiration time.Time) (repository.Batch, error) {
	const op = "postgres.FindForReceipt"
	b, err := scanBatch(u.tx.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE product_id = $1 AND batch_number = $2 AND lot_number = $3 AND expiration_date = $4
		 FOR UPDATE`, productID, batchNumber, lotNumber, expiration))
	if err != nil {
		return repository.Batch{}, notFoundOr(op, "batch", batchNumber, err)
	}
	return b, nil
}

// CreateBatch вставляет партию с нулевыми количествами
func (u *unitOfWork) CreateBatch(ctx context.Context, batch repository.Batch) (repository.Batch, error) {
	const op = "postgres.CreateBatch"

	status := batch.Status
	if status == "" {
		status = repository.BatchStatusActive
	}
	receivedAt := batch.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	created, err := scanBatch(u.tx.QueryRow(ctx,
		`INSERT INTO batches (id, product_id, batch_number, lot_number, supplier_id, unit_cost,
		                      expiration_date, received_at, status, location)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+batchColumns,
		batch.ID, batch.ProductID, batch.BatchNumber, batch.LotNumber, batch.SupplierID, batch.UnitCost,
		batch.ExpirationDate, receivedAt, string(status), batch.Location))
	if err != nil {
		return repository.Batch{}, translate(op, err)
	}
	return created, nil
}

// Mutate блокирует строку, проверяет инварианты и применяет дельты.
// CHECK-ограничения таблицы страхуют ту же проверку на уровне БД.
func (u *unitOfWork) Mutate(ctx context.Context, batchID string, onHandDelta, reservedDelta int64) (repository.MutationResult, error) {
	const op = "postgres.Mutate"

	before, err := u.GetForUpdate(ctx, batchID)
	if err != nil {
		return repository.MutationResult{}, err
	}

	expected, err := repository.ApplyDelta(before, onHandDelta, reservedDelta)
	if err != nil {
		return repository.MutationResult{}, err
	}

	after, err := scanBatch(u.tx.QueryRow(ctx,
		`UPDATE batches
		 SET quantity_on_hand = $2, quantity_reserved = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING `+batchColumns,
		batchID, expected.QuantityOnHand, expected.QuantityReserved))
	if err != nil {
		return repository.MutationResult{}, notFoundOr(op, "batch", batchID, err)
	}

	return repository.MutationResult{Before: before, After: after}, nil
}

// SetBatchStatus меняет статус партии
func (u *unitOfWork) SetBatchStatus(ctx context.Context, batchID string, status repository.BatchStatus) (repository.Batch, error) {
	const op = "postgres.SetBatchStatus"
	if !status.Valid() {
		return repository.Batch{}, apperr.Validation(op, "status", "unknown batch status "+string(status))
	}
	b, err := scanBatch(u.tx.QueryRow(ctx,
		`UPDATE batches SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+batchColumns,
		batchID, string(status)))
	if err != nil {
		return repository.Batch{}, notFoundOr(op, "batch", batchID, err)
	}
	return b, nil
}
