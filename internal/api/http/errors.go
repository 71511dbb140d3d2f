package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
)

// retryAfterSeconds - подсказка клиенту при ConflictError
const retryAfterSeconds = "1"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// statusFor сопоставляет вид ошибки ядра HTTP статусу
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientStock, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindState:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError пишет ошибку в формате {"error": {...}}.
// Внутренние ошибки (не *apperr.Error и InvariantViolation) логируются, клиенту отдаётся общий текст.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		logger.Error("request failed with internal error", zap.Error(err))
		writeJSON(w, logger, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Kind:    "internal",
			Message: "internal server error",
		}})
		return
	}

	status := statusFor(appErr.Kind)
	detail := errorDetail{
		Kind:    string(appErr.Kind),
		Message: appErr.Message,
		Field:   appErr.Field,
	}

	switch appErr.Kind {
	case apperr.KindConflict:
		w.Header().Set("Retry-After", retryAfterSeconds)
		logger.Warn("request conflicted", zap.Error(err))
	case apperr.KindInvariantViolation:
		logger.Error("invariant violation", zap.Error(err))
		detail.Message = "invariant violation"
	default:
		logger.Info("request rejected", zap.Error(err), zap.Int("status", status))
	}

	writeJSON(w, logger, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
