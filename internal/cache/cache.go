// Package cache 封装 Redis：缓存每个分配最近一次写入的定位，以及后台任务之间的租约
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

const (
	lastPingKeyPrefix = "last_ping_"
	leaseKeyPrefix    = "sweep_lease_"
)

// 只有持有者本人才能释放租约
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Cache struct {
	rdb         *redis.Client
	lastPingTTL time.Duration
}

func New(rdb *redis.Client, lastPingTTL time.Duration) *Cache {
	return &Cache{rdb: rdb, lastPingTTL: lastPingTTL}
}

func lastPingKey(assignmentID int64) string {
	return fmt.Sprintf("%s%d", lastPingKeyPrefix, assignmentID)
}

// GetLastPing 未命中时返回 nil, nil
func (c *Cache) GetLastPing(ctx context.Context, assignmentID int64) (*domain.LastPing, error) {
	raw, err := c.rdb.Get(ctx, lastPingKey(assignmentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var ping domain.LastPing
	if err := json.Unmarshal(raw, &ping); err != nil {
		return nil, err
	}
	return &ping, nil
}

func (c *Cache) SetLastPing(ctx context.Context, assignmentID int64, ping domain.LastPing) error {
	raw, err := json.Marshal(ping)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, lastPingKey(assignmentID), raw, c.lastPingTTL).Err()
}

// Lease 是一次成功获取的租约
type Lease struct {
	key   string
	token string
}

// AcquireLease 返回 nil, nil 表示租约正被其他进程持有
func (c *Cache) AcquireLease(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{key: leaseKeyPrefix + name, token: uuid.NewString()}

	ok, err := c.rdb.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

func (c *Cache) ReleaseLease(ctx context.Context, lease *Lease) error {
	return releaseScript.Run(ctx, c.rdb, []string{lease.key}, lease.token).Err()
}
