package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/opendatahub/repository"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redislib.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type lockRepository struct {
	client redislib.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewLockRepository creates a Redis-backed lock store.
func NewLockRepository(client redislib.UniversalClient, ttl time.Duration) repository.LockRepository {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &lockRepository{
		client: client,
		prefix: "import-lock:",
		ttl:    ttl,
	}
}

func (r *lockRepository) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key(name), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (r *lockRepository) Release(ctx context.Context, name, token string) error {
	if token == "" {
		return nil
	}
	return releaseScript.Run(ctx, r.client, []string{r.key(name)}, token).Err()
}

func (r *lockRepository) key(name string) string {
	return fmt.Sprintf("%s%s", r.prefix, name)
}
