package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseLock is a best-effort mutual exclusion lease across replicas. The
// job scanner holds it for one scan so due jobs are published once.
type LeaseLock struct {
	client *goredis.Client
	owner  string
}

func NewLeaseLock(client *goredis.Client) (*LeaseLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &LeaseLock{client: client, owner: uuid.NewString()}, nil
}

// TryAcquire takes the lease named name for ttl. It returns false when another
// owner holds it.
func (l *LeaseLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key, err := lockKey(name)
	if err != nil {
		return false, err
	}
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release drops the lease if this owner still holds it.
func (l *LeaseLock) Release(ctx context.Context, name string) error {
	key, err := lockKey(name)
	if err != nil {
		return err
	}
	if err := releaseScript.Run(ctx, l.client, []string{key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

func lockKey(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("lock name is required")
	}
	return "lock:" + name, nil
}
