package repository

import (
	"context"

	"github.com/fastygo/opendatahub/domain"
)

type TagRepository interface {
	GetByIDs(ctx context.Context, ids []string) ([]domain.Tag, error)
}
