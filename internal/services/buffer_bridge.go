package services

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/infrastructure/buffer"
	"github.com/fastygo/opendatahub/repository"
	"github.com/fastygo/opendatahub/usecase"
)

type BufferBridge struct {
	processor *BufferProcessor
}

func NewBufferBridge(processor *BufferProcessor) *BufferBridge {
	return &BufferBridge{processor: processor}
}

// BufferWrite parks a document write for replay. Deletes get a higher priority so a
// removal is never overtaken by a stale upsert of the same id.
func (b *BufferBridge) BufferWrite(ctx context.Context, operation string, write repository.DocumentWrite) error {
	if b.processor == nil || write.ID == "" {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(write)
	if err != nil {
		return err
	}
	item := buffer.Item{
		Table:      write.Table,
		DocumentID: write.ID,
		Operation:  buffer.OperationWrite,
		Data:       payload,
		Priority:   buffer.PriorityWrite,
	}
	if operation == string(domain.OperationDelete) {
		item.Operation = buffer.OperationDelete
		item.Priority = buffer.PriorityDelete
	}
	return b.processor.BufferOperation(ctx, item)
}

var _ usecase.WriteBuffer = (*BufferBridge)(nil)
