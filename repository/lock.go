package repository

import (
	"context"
	"time"
)

// LockRepository provides named, expiring mutual exclusion across processes.
type LockRepository interface {
	// Acquire returns a release token, or "" when the lock is held elsewhere.
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, error)
	Release(ctx context.Context, name, token string) error
}
