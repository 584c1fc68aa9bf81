package repository

import (
	"context"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/filter"
)

// StoredDocument is one row of an entity table.
type StoredDocument struct {
	ID   string
	Data []byte
}

// DocumentQuery selects a page of documents.
type DocumentQuery struct {
	Table  string
	Where  filter.Predicate
	Order  *filter.Order
	Limit  int
	Offset int
}

// DocumentPage is the result of a paged read.
type DocumentPage struct {
	Total int64
	Items []StoredDocument
}

// DocumentWrite persists a document together with its audit rows.
type DocumentWrite struct {
	Table  string
	ID     string
	Data   []byte
	Raw    *domain.RawData
	Change *domain.RawChange
}

type DocumentRepository interface {
	Find(ctx context.Context, q DocumentQuery) (*DocumentPage, error)
	FindIDs(ctx context.Context, q DocumentQuery) ([]string, error)
	Get(ctx context.Context, table, id string, where filter.Predicate) (*StoredDocument, error)
	GetMany(ctx context.Context, table string, ids []string) (map[string][]byte, error)
	ListIDs(ctx context.Context, table string, where filter.Predicate) ([]string, error)
	Write(ctx context.Context, w DocumentWrite) error
	Delete(ctx context.Context, table, id string) error
}
