package postgres

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/repository"
)

type tagRepository struct {
	db DB
}

// NewTagRepository returns the Postgres-backed tag store.
func NewTagRepository(db DB) repository.TagRepository {
	return &tagRepository{db: db}
}

// GetByIDs returns the tags found; unknown ids are silently absent.
func (r *tagRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const query = `SELECT id, data FROM tags WHERE id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var tag domain.Tag
		if err := json.Unmarshal(data, &tag); err != nil {
			return nil, err
		}
		if tag.ID == "" {
			tag.ID = id
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
