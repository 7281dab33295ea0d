package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Record 一个 action+客户端 的失败计数
type Record struct {
	AttemptCount   int        `json:"attempt_count"`
	FirstAttemptAt time.Time  `json:"first_attempt_at"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

// Store 锁定记录的持久化，TTL 到期后记录自动消失
type Store interface {
	// Get 记录不存在时返回 nil, nil
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, rec *Record, ttl time.Duration) error
	Clear(ctx context.Context, key string) error
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore 进程内存储
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock 替换时钟（测试用）
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}

	rec := e.rec
	return &rec, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, rec *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{rec: *rec, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Sweep 删除已过期的记录，返回删除数量
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len 当前记录数
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

const redisKeyPrefix = "ratelimit:"

// RedisStore 多实例共享的存储，依赖 Redis 的键过期
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode rate limit record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, rec *Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}
