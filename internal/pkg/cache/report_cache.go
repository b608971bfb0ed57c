package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "seo_report:public:"

// ReportCache 公开报告的 Redis 缓存
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl}
}

func key(id string) string {
	return keyPrefix + id
}

// Get 未命中返回 false
func (c *ReportCache) Get(ctx context.Context, id string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("cache get: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// 脏数据直接丢弃
		c.client.Del(ctx, key(id))
		return false, nil
	}
	return true, nil
}

func (c *ReportCache) Set(ctx context.Context, id string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return c.client.Set(ctx, key(id), data, c.ttl).Err()
}

func (c *ReportCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, key(id)).Err()
}
