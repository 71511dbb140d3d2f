package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantStatus     int
		wantKind       string
		wantMessage    string
		wantRetryAfter string
	}{
		{
			name:        "validation",
			err:         apperr.Validation("op", "quantity", "must be positive"),
			wantStatus:  http.StatusBadRequest,
			wantKind:    "validation",
			wantMessage: "must be positive",
		},
		{
			name:        "not found",
			err:         apperr.NotFound("op", "batch", "b1"),
			wantStatus:  http.StatusNotFound,
			wantKind:    "not_found",
		},
		{
			name:        "insufficient stock",
			err:         apperr.New(apperr.KindInsufficientStock, "op", "requested 5, available 2"),
			wantStatus:  http.StatusConflict,
			wantKind:    "insufficient_stock",
			wantMessage: "requested 5, available 2",
		},
		{
			name:           "conflict asks to retry",
			err:            apperr.New(apperr.KindConflict, "op", "serialization failure"),
			wantStatus:     http.StatusConflict,
			wantKind:       "conflict",
			wantMessage:    "serialization failure",
			wantRetryAfter: "1",
		},
		{
			name:        "state",
			err:         apperr.New(apperr.KindState, "op", "sale already refunded"),
			wantStatus:  http.StatusUnprocessableEntity,
			wantKind:    "state",
			wantMessage: "sale already refunded",
		},
		{
			name:        "invariant violation hides details",
			err:         apperr.New(apperr.KindInvariantViolation, "op", "reserved exceeds on hand for b1"),
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "invariant_violation",
			wantMessage: "invariant violation",
		},
		{
			name:        "plain error",
			err:         errors.New("pool closed"),
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "internal",
			wantMessage: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, zap.NewNop(), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRetryAfter, rec.Header().Get("Retry-After"))
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body.Error.Kind)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, body.Error.Message)
			}
		})
	}
}
