package repository

import (
	"context"
	"fmt"
	"time"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=CooldownStore --dir=. --output=./mocks --outpkg=mocks

// CooldownStore хранит отметки уже поднятых алертов на время cool-down окна.
// Service слой (AlertEvaluator) зависит от интерфейса, реализации - Redis и in-memory.
type CooldownStore interface {
	// Acquire атомарно ставит отметку, если её ещё нет.
	// true - алерт можно поднимать, false - он уже поднимался в пределах ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Refresh ставит отметку безусловно (режим force)
	Refresh(ctx context.Context, key string, ttl time.Duration) error

	// Release снимает отметку, если алерт не удалось сохранить
	Release(ctx context.Context, key string) error
}

// CooldownKey - ключ дедупликации алерта (product, batch, tier)
func CooldownKey(productID, batchID string, tier AlertTier) string {
	if batchID == "" {
		batchID = "-"
	}
	return fmt.Sprintf("alert:%s:%s:%s", productID, batchID, tier)
}
