package memory

import (
	"context"
	"sync"
	"time"
)

// CooldownStore реализует repository.CooldownStore используя in-memory map.
// Используется для dev/test окружений, в production - Redis.
type CooldownStore struct {
	mu   sync.Mutex
	keys map[string]time.Time // key -> expiresAt
	now  func() time.Time
}

// NewCooldownStore создаёт in-memory cooldown store
func NewCooldownStore() *CooldownStore {
	return &CooldownStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

// WithClock подменяет источник времени (для тестов)
func (s *CooldownStore) WithClock(now func() time.Time) *CooldownStore {
	s.now = now
	return s
}

// Acquire ставит отметку, если её нет или она протухла
func (s *CooldownStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiresAt, ok := s.keys[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.keys[key] = now.Add(ttl)
	return true, nil
}

// Refresh ставит отметку безусловно
func (s *CooldownStore) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = s.now().Add(ttl)
	return nil
}

// Release снимает отметку
func (s *CooldownStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
