package buffer

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	OperationWrite  = "write"
	OperationDelete = "delete"

	PriorityDelete = 2
	PriorityWrite  = 3
)

// Item is a document write parked until Postgres accepts it again. Data carries the
// marshaled repository.DocumentWrite.
type Item struct {
	ID         string          `json:"id"`
	Table      string          `json:"table"`
	DocumentID string          `json:"document_id"`
	Operation  string          `json:"operation"`
	Data       json.RawMessage `json:"data"`
	Priority   int             `json:"priority"`
	Retries    int             `json:"retries"`
	Timestamp  time.Time       `json:"timestamp"`

	bucketKey []byte
}

func (i *Item) normalize() {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Operation == "" {
		i.Operation = OperationWrite
	}
	if i.Priority <= 0 || i.Priority > 5 {
		i.Priority = PriorityWrite
	}
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now()
	}
}

// documentKey identifies the stored document an item targets; empty when unknown.
func (i Item) documentKey() []byte {
	if i.DocumentID == "" {
		return nil
	}
	return []byte(i.Table + "/" + i.DocumentID)
}
