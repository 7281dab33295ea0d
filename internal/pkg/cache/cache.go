package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache miss")

const (
	prefixSubscriptionStatus = "subscription-status"
	prefixSearchHistory      = "search-history"
)

// SubscriptionStatusKey 用户配额视图的缓存键
func SubscriptionStatusKey(userID int64) string {
	return fmt.Sprintf("%s:%d", prefixSubscriptionStatus, userID)
}

// SearchHistoryKey 用户最近搜索视图的缓存键
func SearchHistoryKey(userID int64) string {
	return fmt.Sprintf("%s:%d", prefixSearchHistory, userID)
}

// Cache Redis 上的 JSON 视图缓存
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New client 为 nil 时所有读取都是未命中，写入忽略
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get 读取并反序列化到 dest，未命中返回 ErrMiss
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if c == nil || c.client == nil {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate 删除若干键，下次读取时重新计算
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
