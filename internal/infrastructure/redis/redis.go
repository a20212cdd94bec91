package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gigplan/availability-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	Client    *redis.Client
	rosterTTL time.Duration
}

func New(addr, pass string, db int, rosterTTL time.Duration) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{Client: rdb, rosterTTL: rosterTTL}
}

func rosterKey(groupID uuid.UUID) string {
	return "roster:" + groupID.String()
}

// GetRoster returns the cached active member ids for a group. The set is a
// short-TTL snapshot; callers re-fetch from the DB on miss.
func (c *Cache) GetRoster(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	val, err := c.Client.Get(ctx, rosterKey(groupID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCacheMiss
		}
		return nil, err
	}

	var out []uuid.UUID
	for _, part := range strings.Split(val, ",") {
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			// corrupt entry; treat as miss so the DB read repairs it
			return nil, domain.ErrCacheMiss
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *Cache) SetRoster(ctx context.Context, groupID uuid.UUID, memberIDs []uuid.UUID) error {
	parts := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		parts[i] = id.String()
	}
	return c.Client.Set(ctx, rosterKey(groupID), strings.Join(parts, ","), c.rosterTTL).Err()
}

func (c *Cache) InvalidateRoster(ctx context.Context, groupID uuid.UUID) error {
	return c.Client.Del(ctx, rosterKey(groupID)).Err()
}

// AllowRequest: Simple Fixed Window Rate Limit
func (c *Cache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	key := "ratelimit:" + ip
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, key, window).Err()
	}
	return count <= int64(limit), nil
}
