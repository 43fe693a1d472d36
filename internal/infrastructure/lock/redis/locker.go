// Package redis single-flights reconciliation runs across processes with a
// Redis key holding a per-acquisition token.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

const keyPrefix = "doc-curator:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client *redis.Client
}

// New connects and pings Redis.
func New(ctx context.Context, addr, password string, db int) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Locker{client: client}, nil
}

func NewWithClient(client *redis.Client) *Locker {
	return &Locker{client: client}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "acquire lock", errors.New("lock key is required"))
	}
	if ttl <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "acquire lock", errors.New("lock ttl must be positive"))
	}

	fullKey := keyPrefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "acquire lock", err)
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrReconciliationBusy, "acquire lock", fmt.Errorf("key=%s", key))
	}

	release := func(releaseCtx context.Context) error {
		if err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}

func (l *Locker) Close() error {
	return l.client.Close()
}
