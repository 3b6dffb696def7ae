package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Redis shares gate decisions across instances.
type Redis struct {
	client redis.Cmdable
}

var _ Cache = (*Redis)(nil)

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, sellerID, productID string) (bool, bool, error) {
	raw, err := r.client.Get(ctx, Key(sellerID, productID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	approved, ok := decode(raw)
	return approved, ok, nil
}

func (r *Redis) GetMany(ctx context.Context, sellerID string, productIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(productIDs))
	for i, pid := range productIDs {
		keys[i] = Key(sellerID, pid)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if approved, ok := decode(s); ok {
			out[productIDs[i]] = approved
		}
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, sellerID, productID string, approved bool, ttl time.Duration) error {
	if ttl <= 0 {
		return r.Delete(ctx, sellerID, productID)
	}
	return r.client.Set(ctx, Key(sellerID, productID), encode(approved), ttl).Err()
}

func (r *Redis) SetMany(ctx context.Context, sellerID string, decisions map[string]bool, ttl time.Duration) error {
	if len(decisions) == 0 || ttl <= 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for pid, approved := range decisions {
			p.Set(ctx, Key(sellerID, pid), encode(approved), ttl)
		}
		return nil
	})
	return err
}

func (r *Redis) Delete(ctx context.Context, sellerID, productID string) error {
	return r.client.Del(ctx, Key(sellerID, productID)).Err()
}

func encode(approved bool) string {
	if approved {
		return "1"
	}
	return "0"
}

func decode(raw string) (bool, bool) {
	switch raw {
	case "1":
		return true, true
	case "0":
		return false, true
	}
	return false, false
}
