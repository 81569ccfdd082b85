package lease

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis is a Locker shared by every replica using the same Redis. Each instance
// has its own owner token so a replica can only refresh or release its own leases.
type Redis struct {
	client *redis.Client
	owner  string
	prefix string
}

// NewRedis wraps client. Keys are stored under "lease:".
func NewRedis(client *redis.Client) *Redis {
	host, _ := os.Hostname()
	return &Redis{
		client: client,
		owner:  fmt.Sprintf("%s-%s", host, uuid.NewString()),
		prefix: "lease:",
	}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, r.client, []string{r.prefix + key}, r.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lease %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, r.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}
