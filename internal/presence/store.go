package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jobportal/backend/internal/models"
)

// StatusStore holds the live presence status per actor. Absent actors read as offline.
type StatusStore interface {
	Get(ctx context.Context, userID uuid.UUID) (models.Status, error)
	Set(ctx context.Context, userID uuid.UUID, status models.Status) error
	// CompareAndSet stores next only if the current status equals old.
	CompareAndSet(ctx context.Context, userID uuid.UUID, old, next models.Status) (bool, error)
}

// MemoryStore is a process-local StatusStore.
type MemoryStore struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]models.Status
}

// NewMemoryStore creates an empty in-memory status store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[uuid.UUID]models.Status)}
}

func (m *MemoryStore) Get(_ context.Context, userID uuid.UUID) (models.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.statuses[userID]; ok {
		return s, nil
	}
	return models.StatusOffline, nil
}

func (m *MemoryStore) Set(_ context.Context, userID uuid.UUID, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(userID, status)
	return nil
}

func (m *MemoryStore) CompareAndSet(_ context.Context, userID uuid.UUID, old, next models.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.statuses[userID]
	if !ok {
		cur = models.StatusOffline
	}
	if cur != old {
		return false, nil
	}
	m.set(userID, next)
	return true, nil
}

func (m *MemoryStore) set(userID uuid.UUID, status models.Status) {
	if status == models.StatusOffline {
		delete(m.statuses, userID)
		return
	}
	m.statuses[userID] = status
}

const statusKeyPrefix = "presence:status:"

// casScript treats a missing key as "offline" and deletes the key when moving to offline.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then cur = 'offline' end
if cur ~= ARGV[1] then return 0 end
if ARGV[2] == 'offline' then
  redis.call('DEL', KEYS[1])
else
  redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
end
return 1
`)

// RedisStore shares presence status across server instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed status store. Non-offline keys expire after ttl without a refresh,
// so an instance that dies without running disconnects cannot pin actors online forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, userID uuid.UUID) (models.Status, error) {
	v, err := r.client.Get(ctx, statusKeyPrefix+userID.String()).Result()
	if err == redis.Nil {
		return models.StatusOffline, nil
	}
	if err != nil {
		return models.StatusOffline, fmt.Errorf("get status: %w", err)
	}
	return models.ValidateStatus(v), nil
}

func (r *RedisStore) Set(ctx context.Context, userID uuid.UUID, status models.Status) error {
	key := statusKeyPrefix + userID.String()
	var err error
	if status == models.StatusOffline {
		err = r.client.Del(ctx, key).Err()
	} else {
		err = r.client.Set(ctx, key, string(status), r.ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

func (r *RedisStore) CompareAndSet(ctx context.Context, userID uuid.UUID, old, next models.Status) (bool, error) {
	n, err := casScript.Run(ctx, r.client, []string{statusKeyPrefix + userID.String()},
		string(old), string(next), int(r.ttl.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("cas status: %w", err)
	}
	return n == 1, nil
}
