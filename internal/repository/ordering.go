package repository

import (
	"sort"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
)

// SortFIFO сортирует партии: раньше истекающие первыми, при равенстве - более старое поступление, затем ID
func SortFIFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.ExpirationDate.Equal(b.ExpirationDate) {
			return a.ExpirationDate.Before(b.ExpirationDate)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}

// MovementSortColumns - allow-list сортировки журнала: поле API -> колонка таблицы movements
var MovementSortColumns = map[string]string{
	"created_at": "created_at",
	"id":         "id",
	"delta":      "delta",
	"type":       "movement_type",
}

const (
	// DefaultMovementLimit применяется, если Limit не задан
	DefaultMovementLimit = 100
	// MaxMovementLimit - верхняя граница страницы
	MaxMovementLimit = 1000
)

// Validate проверяет фильтр журнала и проставляет значения по умолчанию
func (f MovementFilter) Validate() (MovementFilter, error) {
	const op = "repository.MovementFilter"

	if f.SortBy == "" {
		f.SortBy = "created_at"
	}
	if _, ok := MovementSortColumns[f.SortBy]; !ok {
		return f, apperr.Validation(op, "sort", "unsupported sort field "+f.SortBy)
	}
	for _, t := range f.Types {
		if !t.Valid() {
			return f, apperr.Validation(op, "type", "unknown movement type "+string(t))
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, apperr.Validation(op, "to", "range end is before range start")
	}
	if f.Limit < 0 || f.Offset < 0 {
		return f, apperr.Validation(op, "limit", "limit and offset must not be negative")
	}
	if f.Limit == 0 {
		f.Limit = DefaultMovementLimit
	}
	if f.Limit > MaxMovementLimit {
		f.Limit = MaxMovementLimit
	}
	return f, nil
}
