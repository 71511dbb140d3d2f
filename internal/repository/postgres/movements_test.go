package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

func TestBuildMovementQuery(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	tests := []struct {
		name         string
		filter       repository.MovementFilter
		wantSQL      string
		wantArgs     []any
		expectedKind apperr.Kind
	}{
		{
			name:    "defaults",
			filter:  repository.MovementFilter{},
			wantSQL: "SELECT id, batch_id, product_id, movement_type, delta, quantity_before, quantity_after, transaction_ref, context_batch_id, actor, reason, created_at FROM movements ORDER BY created_at ASC, id ASC LIMIT 100 OFFSET 0",
		},
		{
			name: "all filters bound as arguments",
			filter: repository.MovementFilter{
				BatchID:        "b1",
				ProductID:      "p1",
				Types:          []repository.MovementType{repository.MovementSale, repository.MovementReturn},
				Actor:          "alice",
				TransactionRef: "op-1",
				From:           from,
				To:             to,
				SortBy:         "delta",
				SortDesc:       true,
				Limit:          5000,
				Offset:         10,
			},
			wantSQL: "SELECT id, batch_id, product_id, movement_type, delta, quantity_before, quantity_after, transaction_ref, context_batch_id, actor, reason, created_at FROM movements " +
				"WHERE batch_id = $1 AND product_id = $2 AND movement_type IN ($3,$4) AND actor = $5 AND transaction_ref = $6 AND created_at >= $7 AND created_at < $8 " +
				"ORDER BY delta DESC, id DESC LIMIT 1000 OFFSET 10",
			wantArgs: []any{"b1", "p1", "sale", "return", "alice", "op-1", from, to},
		},
		{
			name:    "type maps to column",
			filter:  repository.MovementFilter{SortBy: "type"},
			wantSQL: "SELECT id, batch_id, product_id, movement_type, delta, quantity_before, quantity_after, transaction_ref, context_batch_id, actor, reason, created_at FROM movements ORDER BY movement_type ASC, id ASC LIMIT 100 OFFSET 0",
		},
		{
			name:         "injection in sort field rejected",
			filter:       repository.MovementFilter{SortBy: "created_at; DROP TABLE movements"},
			expectedKind: apperr.KindValidation,
		},
		{
			name:         "unknown movement type rejected",
			filter:       repository.MovementFilter{Types: []repository.MovementType{"gift"}},
			expectedKind: apperr.KindValidation,
		},
		{
			name:         "inverted range rejected",
			filter:       repository.MovementFilter{From: to, To: from},
			expectedKind: apperr.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildMovementQuery(tt.filter)
			if tt.expectedKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.expectedKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, query)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}
