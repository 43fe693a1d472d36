package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

func TestAcquireValidatesInput(t *testing.T) {
	locker := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	defer locker.Close()

	if _, err := locker.Acquire(context.Background(), " ", time.Minute); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty key, got %v", err)
	}
	if _, err := locker.Acquire(context.Background(), "versions", 0); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero ttl, got %v", err)
	}
}

func TestAcquireOnClosedClientIsTemporary(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	_ = client.Close()
	locker := NewWithClient(client)

	_, err := locker.Acquire(context.Background(), "versions", time.Minute)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}
