package usecase

import (
	"context"

	"github.com/fastygo/opendatahub/repository"
)

// WriteBuffer parks document writes that failed at the store so they can be replayed later.
type WriteBuffer interface {
	BufferWrite(ctx context.Context, operation string, write repository.DocumentWrite) error
}
