package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// unitOfWork работает с приватной копией состояния и держит семафор писателя
type unitOfWork struct {
	store *Store
	st    *state
	done  bool
}

func (u *unitOfWork) check(ctx context.Context, op string) error {
	if u.done {
		return apperr.New(apperr.KindState, op, "unit of work already finished")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Commit подменяет закоммиченное состояние копией единицы работы
func (u *unitOfWork) Commit(ctx context.Context) error {
	const op = "memory.Commit"
	if err := u.check(ctx, op); err != nil {
		return err
	}

	u.store.mu.Lock()
	u.store.committed = u.st
	u.store.mu.Unlock()

	u.finish()
	return nil
}

// Rollback отбрасывает копию; повторный вызов - no-op
func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.finish()
	return nil
}

func (u *unitOfWork) finish() {
	u.done = true
	u.st = nil
	<-u.store.writer
}

func (u *unitOfWork) batch(op, id string) (repository.Batch, error) {
	b, ok := u.st.batches[id]
	if !ok {
		return repository.Batch{}, apperr.NotFound(op, "batch", id)
	}
	return b, nil
}

// GetForUpdate читает партию; единственный писатель уже держит эксклюзивный доступ
func (u *unitOfWork) GetForUpdate(ctx context.Context, id string) (repository.Batch, error) {
	const op = "memory.GetForUpdate"
	if err := u.check(ctx, op); err != nil {
		return repository.Batch{}, err
	}
	return u.batch(op, id)
}

func (u *unitOfWork) LockActiveByProduct(ctx context.Context, productID string) ([]repository.Batch, error) {
	const op = "memory.LockActiveByProduct"
	if err := u.check(ctx, op); err != nil {
		return nil, err
	}
	return u.st.activeBatches(productID), nil
}

func (u *unitOfWork) FindForReceipt(ctx context.Context, productID, batchNumber, lotNumber string, expiration time.Time) (repository.Batch, error) {
	const op = "memory.FindForReceipt"
	if err := u.check(ctx, op); err != nil {
		return repository.Batch{}, err
	}
	for _, b := range u.st.batches {
		if b.ProductID == productID && b.BatchNumber == batchNumber &&
			b.LotNumber == lotNumber && b.ExpirationDate.Equal(expiration) {
			return b, nil
		}
	}
	return repository.Batch{}, apperr.NotFound(op, "batch", batchNumber)
}

func (u *unitOfWork) CreateBatch(ctx context.Context, batch repository.Batch) (repository.Batch, error) {
	const op = "memory.CreateBatch"
	if err := u.check(ctx, op); err != nil {
		return repository.Batch{}, err
	}
	if _, exists := u.st.batches[batch.ID]; exists {
		return repository.Batch{}, apperr.Newf(apperr.KindState, op, "batch %s already exists", batch.ID)
	}
	now := u.store.now().UTC()
	batch.QuantityOnHand = 0
	batch.QuantityReserved = 0
	if batch.Status == "" {
		batch.Status = repository.BatchStatusActive
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = now
	}
	batch.CreatedAt = now
	batch.UpdatedAt = now
	u.st.batches[batch.ID] = batch
	return batch, nil
}

func (u *unitOfWork) Mutate(ctx context.Context, batchID string, onHandDelta, reservedDelta int64) (repository.MutationResult, error) {
	const op = "memory.Mutate"
	if err := u.check(ctx, op); err != nil {
		return repository.MutationResult{}, err
	}
	before, err := u.batch(op, batchID)
	if err != nil {
		return repository.MutationResult{}, err
	}
	after, err := repository.ApplyDelta(before, onHandDelta, reservedDelta)
	if err != nil {
		return repository.MutationResult{}, err
	}
	after.UpdatedAt = u.store.now().UTC()
	u.st.batches[batchID] = after
	return repository.MutationResult{Before: before, After: after}, nil
}

func (u *unitOfWork) SetBatchStatus(ctx context.Context, batchID string, status repository.BatchStatus) (repository.Batch, error) {
	const op = "memory.SetBatchStatus"
	if err := u.check(ctx, op); err != nil {
		return repository.Batch{}, err
	}
	b, err := u.batch(op, batchID)
	if err != nil {
		return repository.Batch{}, err
	}
	b.Status = status
	b.UpdatedAt = u.store.now().UTC()
	u.st.batches[batchID] = b
	return b, nil
}

func (u *unitOfWork) AppendMovement(ctx context.Context, m repository.Movement) (repository.Movement, error) {
	const op = "memory.AppendMovement"
	if err := u.check(ctx, op); err != nil {
		return repository.Movement{}, err
	}
	if _, ok := u.st.batches[m.BatchID]; !ok {
		return repository.Movement{}, apperr.NotFound(op, "batch", m.BatchID)
	}
	u.st.nextMovementID++
	m.ID = u.st.nextMovementID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = u.store.now().UTC()
	}
	u.st.movements = append(u.st.movements, m)
	return m, nil
}

func (u *unitOfWork) CreateSale(ctx context.Context, sale repository.Sale) error {
	const op = "memory.CreateSale"
	if err := u.check(ctx, op); err != nil {
		return err
	}
	if _, exists := u.st.sales[sale.ID]; exists {
		return apperr.Newf(apperr.KindState, op, "sale %s already exists", sale.ID)
	}
	u.st.sales[sale.ID] = cloneSale(sale)
	for _, l := range sale.Lines {
		u.st.lineToSale[l.ID] = sale.ID
	}
	return nil
}

func (u *unitOfWork) GetSaleForUpdate(ctx context.Context, id string) (repository.Sale, error) {
	const op = "memory.GetSaleForUpdate"
	if err := u.check(ctx, op); err != nil {
		return repository.Sale{}, err
	}
	sale, ok := u.st.sales[id]
	if !ok {
		return repository.Sale{}, apperr.NotFound(op, "sale", id)
	}
	return cloneSale(sale), nil
}

func (u *unitOfWork) FindSaleIDByLine(ctx context.Context, lineID string) (string, error) {
	const op = "memory.FindSaleIDByLine"
	if err := u.check(ctx, op); err != nil {
		return "", err
	}
	id, ok := u.st.lineToSale[lineID]
	if !ok {
		return "", apperr.NotFound(op, "sale line", lineID)
	}
	return id, nil
}

func (u *unitOfWork) UpdateSaleReturns(ctx context.Context, sale repository.Sale) error {
	const op = "memory.UpdateSaleReturns"
	if err := u.check(ctx, op); err != nil {
		return err
	}
	if _, ok := u.st.sales[sale.ID]; !ok {
		return apperr.NotFound(op, "sale", sale.ID)
	}
	sale.UpdatedAt = u.store.now().UTC()
	u.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (u *unitOfWork) RegisterOperation(ctx context.Context, operationID, kind string) error {
	const op = "memory.RegisterOperation"
	if err := u.check(ctx, op); err != nil {
		return err
	}
	if prev, ok := u.st.operations[operationID]; ok {
		return apperr.Newf(apperr.KindState, op, "operation already applied (%s %s)", prev, operationID)
	}
	u.st.operations[operationID] = kind
	return nil
}

func (u *unitOfWork) InsertAlert(ctx context.Context, alert repository.Alert) error {
	const op = "memory.InsertAlert"
	if err := u.check(ctx, op); err != nil {
		return err
	}
	u.st.alerts = append(u.st.alerts, alert)
	return nil
}

func (u *unitOfWork) EnqueueOutboxEvent(ctx context.Context, event repository.OutboxEvent) error {
	const op = "memory.EnqueueOutboxEvent"
	if err := u.check(ctx, op); err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = u.store.now().UTC()
	}
	u.st.outbox = append(u.st.outbox, outboxRecord{event: event})
	return nil
}
