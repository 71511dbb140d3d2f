package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

func seedBatch(id, productID string, onHand int64, exp time.Time) repository.Batch {
	return repository.Batch{
		ID:             id,
		ProductID:      productID,
		BatchNumber:    "BN-" + id,
		QuantityOnHand: onHand,
		ExpirationDate: exp,
		ReceivedAt:     exp.AddDate(-1, 0, 0),
		Status:         repository.BatchStatusActive,
	}
}

func TestStore_CommitPublishesChanges(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.PutBatch(seedBatch("b1", "p1", 10, time.Now().AddDate(0, 6, 0)))

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback(ctx)

	res, err := uow.Mutate(ctx, "b1", -3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Before.QuantityOnHand)
	assert.Equal(t, int64(7), res.After.QuantityOnHand)

	// До Commit читатели видят старое состояние
	b, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.QuantityOnHand)

	require.NoError(t, uow.Commit(ctx))

	b, err = store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.QuantityOnHand)
}

func TestStore_RollbackDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.PutBatch(seedBatch("b1", "p1", 10, time.Now().AddDate(0, 6, 0)))

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = uow.Mutate(ctx, "b1", 0, 4)
	require.NoError(t, err)
	_, err = uow.AppendMovement(ctx, repository.Movement{BatchID: "b1", Type: repository.MovementAdjustment, Delta: 1})
	require.NoError(t, err)

	require.NoError(t, uow.Rollback(ctx))
	// повторный Rollback безопасен
	require.NoError(t, uow.Rollback(ctx))

	b, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.QuantityReserved)

	history, err := store.ListMovementsByBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_MutateRejectsInvariantViolations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.PutBatch(seedBatch("b1", "p1", 5, time.Now().AddDate(0, 6, 0)))

	tests := []struct {
		name     string
		onHand   int64
		reserved int64
	}{
		{name: "negative on_hand", onHand: -6, reserved: 0},
		{name: "reserved above on_hand", onHand: 0, reserved: 6},
		{name: "negative reserved", onHand: 0, reserved: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uow, err := store.Begin(ctx)
			require.NoError(t, err)
			defer uow.Rollback(ctx)

			_, err = uow.Mutate(ctx, "b1", tt.onHand, tt.reserved)
			require.Error(t, err)
			assert.Equal(t, apperr.KindInvariantViolation, apperr.KindOf(err))
		})
	}
}

func TestStore_MutateUnknownBatch(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback(ctx)

	_, err = uow.Mutate(ctx, "missing", 1, 0)
	assert.True(t, apperr.KindOf(err) == apperr.KindNotFound)
}

func TestStore_BeginWaitsForWriter(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	first, err := store.Begin(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err = store.Begin(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Rollback(ctx))

	second, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, second.Rollback(ctx))
}

func TestStore_ConcurrentMutationsSerialize(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.PutBatch(seedBatch("b1", "p1", 100, time.Now().AddDate(1, 0, 0)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uow, err := store.Begin(ctx)
			if err != nil {
				return
			}
			defer uow.Rollback(ctx)
			if _, err := uow.Mutate(ctx, "b1", -1, 0); err != nil {
				return
			}
			_ = uow.Commit(ctx)
		}()
	}
	wg.Wait()

	b, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.QuantityOnHand)
}

func TestStore_ListActiveBatchesFIFO(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store.PutBatch(seedBatch("late", "p1", 1, now.AddDate(0, 9, 0)))
	store.PutBatch(seedBatch("early", "p1", 1, now.AddDate(0, 3, 0)))
	inactive := seedBatch("recalled", "p1", 1, now.AddDate(0, 1, 0))
	inactive.Status = repository.BatchStatusRecalled
	store.PutBatch(inactive)
	store.PutBatch(seedBatch("other", "p2", 1, now.AddDate(0, 1, 0)))

	batches, err := store.ListActiveBatches(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "early", batches[0].ID)
	assert.Equal(t, "late", batches[1].ID)
}

func TestStore_RegisterOperationTwice(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.RegisterOperation(ctx, "op-1", "sale"))
	require.NoError(t, uow.Commit(ctx))

	uow, err = store.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback(ctx)

	err = uow.RegisterOperation(ctx, "op-1", "sale")
	require.Error(t, err)
	assert.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestStore_QueryMovements(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.PutBatch(seedBatch("b1", "p1", 0, time.Now().AddDate(1, 0, 0)))
	store.PutBatch(seedBatch("b2", "p1", 0, time.Now().AddDate(1, 0, 0)))

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	for _, m := range []repository.Movement{
		{BatchID: "b1", ProductID: "p1", Type: repository.MovementPurchase, Delta: 10, Actor: "alice"},
		{BatchID: "b1", ProductID: "p1", Type: repository.MovementSale, Delta: -2, Actor: "bob"},
		{BatchID: "b2", ProductID: "p1", Type: repository.MovementPurchase, Delta: 5, Actor: "alice"},
		{BatchID: "b1", ProductID: "p1", Type: repository.MovementSale, Delta: -3, Actor: "alice"},
	} {
		_, err := uow.AppendMovement(ctx, m)
		require.NoError(t, err)
	}
	require.NoError(t, uow.Commit(ctx))

	t.Run("filter by type and actor", func(t *testing.T) {
		got, err := store.QueryMovements(ctx, repository.MovementFilter{
			Types: []repository.MovementType{repository.MovementSale},
			Actor: "alice",
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(-3), got[0].Delta)
	})

	t.Run("sort by delta desc with paging", func(t *testing.T) {
		got, err := store.QueryMovements(ctx, repository.MovementFilter{SortBy: "delta", SortDesc: true, Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(5), got[0].Delta)
		assert.Equal(t, int64(-2), got[1].Delta)
	})

	t.Run("unknown sort field", func(t *testing.T) {
		_, err := store.QueryMovements(ctx, repository.MovementFilter{SortBy: "quantity_after; drop table"})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("summary", func(t *testing.T) {
		sum, err := store.SummarizeMovements(ctx, repository.MovementFilter{BatchID: "b1"})
		require.NoError(t, err)
		require.Len(t, sum, 2)
		assert.Equal(t, repository.MovementSummary{Type: repository.MovementPurchase, Count: 1, NetDelta: 10}, sum[0])
		assert.Equal(t, repository.MovementSummary{Type: repository.MovementSale, Count: 2, NetDelta: -5}, sum[1])
	})

	t.Run("sum of deltas", func(t *testing.T) {
		sum, count, err := store.SumMovementDeltas(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), sum)
		assert.Equal(t, int64(3), count)
	})
}

func TestStore_OutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.EnqueueOutboxEvent(ctx, repository.OutboxEvent{EventID: "e1", Topic: "t"}))
	require.NoError(t, uow.EnqueueOutboxEvent(ctx, repository.OutboxEvent{EventID: "e2", Topic: "t"}))
	require.NoError(t, uow.Commit(ctx))

	pending, err := store.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, store.MarkOutboxEventFailed(ctx, "e1", "broker down"))
	require.NoError(t, store.MarkOutboxEventSent(ctx, "e2"))

	pending, err = store.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].EventID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)
}
