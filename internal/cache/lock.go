package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoClient is returned by lock helpers when Redis is not configured.
var ErrNoClient = errors.New("redis client not configured")

// releaseLock deletes KEYS[1] only while it still holds ARGV[1].
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock sets key with SET NX and reports whether this caller now owns it.
// token identifies the owner so Unlock only releases its own lock.
func TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if client == nil {
		return false, ErrNoClient
	}
	return client.SetNX(ctx, key, token, ttl).Result()
}

// Unlock releases key if it is still held by token. A lock that already
// expired or moved to another owner counts as released.
func Unlock(ctx context.Context, key, token string) error {
	if client == nil {
		return ErrNoClient
	}
	err := releaseLock.Run(ctx, client, []string{key}, token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
