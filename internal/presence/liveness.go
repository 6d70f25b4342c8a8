package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Liveness records which actors hold a live connection on some instance. Server instances refresh
// their connected actors periodically; entries expire when no instance refreshes them.
type Liveness interface {
	Touch(ctx context.Context, ids []uuid.UUID, ttl time.Duration) error
	Alive(ctx context.Context, id uuid.UUID) (bool, error)
}

const liveKeyPrefix = "presence:live:"

// RedisLiveness is a cluster-wide Liveness backed by expiring Redis keys.
type RedisLiveness struct {
	client *redis.Client
}

// NewRedisLiveness creates a Redis-backed liveness registry.
func NewRedisLiveness(client *redis.Client) *RedisLiveness {
	return &RedisLiveness{client: client}
}

func (r *RedisLiveness) Touch(ctx context.Context, ids []uuid.UUID, ttl time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, liveKeyPrefix+id.String(), "1", ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch liveness: %w", err)
	}
	return nil
}

func (r *RedisLiveness) Alive(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := r.client.Exists(ctx, liveKeyPrefix+id.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check liveness: %w", err)
	}
	return n > 0, nil
}

// MemoryLiveness is a process-local Liveness.
type MemoryLiveness struct {
	mu    sync.Mutex
	until map[uuid.UUID]time.Time
	now   func() time.Time
}

// NewMemoryLiveness creates an empty in-memory liveness registry.
func NewMemoryLiveness() *MemoryLiveness {
	return &MemoryLiveness{until: make(map[uuid.UUID]time.Time), now: time.Now}
}

func (m *MemoryLiveness) Touch(_ context.Context, ids []uuid.UUID, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp := m.now().Add(ttl)
	for _, id := range ids {
		m.until[id] = exp
	}
	return nil
}

func (m *MemoryLiveness) Alive(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.until[id]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.until, id)
		return false, nil
	}
	return true, nil
}
