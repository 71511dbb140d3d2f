package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CooldownStore реализует repository.CooldownStore через SET NX EX
type CooldownStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCooldownStore создаёт Redis cooldown store
func NewCooldownStore(client *redis.Client, logger *zap.Logger) *CooldownStore {
	return &CooldownStore{
		client: client,
		logger: logger,
	}
}

// Acquire ставит ключ только если его нет (SET NX), с TTL окна
func (s *CooldownStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		s.logger.Error("failed to acquire alert cooldown in redis",
			zap.Error(err),
			zap.String("key", key),
		)
		return false, fmt.Errorf("failed to acquire cooldown: %w", err)
	}

	if !ok {
		s.logger.Debug("alert suppressed by cooldown", zap.String("key", key))
	}
	return ok, nil
}

// Refresh перезаписывает ключ и продлевает TTL
func (s *CooldownStore) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		s.logger.Error("failed to refresh alert cooldown in redis",
			zap.Error(err),
			zap.String("key", key),
		)
		return fmt.Errorf("failed to refresh cooldown: %w", err)
	}
	return nil
}

// Release удаляет ключ
func (s *CooldownStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Error("failed to release alert cooldown in redis",
			zap.Error(err),
			zap.String("key", key),
		)
		return fmt.Errorf("failed to release cooldown: %w", err)
	}
	return nil
}
