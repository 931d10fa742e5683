package redis

import (
	"context"
	"fmt"
	"time"

	"ms-payments/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const cleanupLockKey = "payments:cleanup:lock"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a cross-replica lease around a reconciliation pass.
type RunLock struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
	Logger *logger.Logger
}

func NewRunLock(client *redis.Client, ttl time.Duration, log *logger.Logger) *RunLock {
	return &RunLock{
		Client: client,
		Key:    cleanupLockKey,
		TTL:    ttl,
		Logger: log,
	}
}

// Acquire returns the owner token when the lease was taken, or "" when
// another replica holds it.
func (l *RunLock) Acquire(ctx context.Context) (string, error) {
	token := uuid.New().String()
	ok, err := l.Client.SetNX(ctx, l.Key, token, l.TTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire cleanup lock: %w", err)
	}
	if !ok {
		holder, err := l.holder(ctx)
		if err != nil {
			l.Logger.Warn("REDIS", fmt.Sprintf("Cleanup lock held by another replica; owner lookup failed: %v", err))
			return "", nil
		}
		l.Logger.Info("REDIS", fmt.Sprintf("Cleanup lock held by another replica (owner %s)", holder))
		return "", nil
	}
	l.Logger.Debug("REDIS", fmt.Sprintf("Acquired cleanup lock %s for %s", token, l.TTL))
	return token, nil
}

// Release is a no-op when the lease expired or was taken over.
func (l *RunLock) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	deleted, err := releaseScript.Run(ctx, l.Client, []string{l.Key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release cleanup lock: %w", err)
	}
	if deleted == 0 {
		l.Logger.Warn("REDIS", "Cleanup lock expired before release")
	}
	return nil
}

// holder reports the current owner token, "" when free.
func (l *RunLock) holder(ctx context.Context) (string, error) {
	val, err := l.Client.Get(ctx, l.Key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}
