package service

import (
	"time"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/allocation"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Allocator --dir=. --output=./mocks --outpkg=mocks

// Allocator определяет интерфейс подбора партий под строку продажи.
// Реализация по умолчанию - allocation.Engine (FIFO по сроку годности).
type Allocator interface {
	// Plan возвращает список (партия, количество), сумма которых равна req.Quantity,
	// или InsufficientStock/Validation/State ошибку
	Plan(req allocation.Request, candidates []repository.Batch, now time.Time) ([]allocation.Allocation, error)
}
