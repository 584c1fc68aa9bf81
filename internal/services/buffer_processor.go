package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/infrastructure/buffer"
	"github.com/fastygo/opendatahub/repository"
)

// ConnectionHealth abstracts the connection monitor functionality.
type ConnectionHealth interface {
	IsOnline() bool
}

// ProcessorConfig controls how frequently the buffer is drained.
type ProcessorConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	// MaxItems refuses new writes once that many are parked; zero means unbounded.
	MaxItems int
	// Retention drops parked writes older than this on every tick; zero keeps them.
	Retention time.Duration
}

// BufferProcessor replays buffered document writes against Postgres.
type BufferProcessor struct {
	store   *buffer.Store
	monitor ConnectionHealth
	docs    repository.DocumentRepository
	logger  *zap.Logger
	cron    *cron.Cron
	cfg     ProcessorConfig

	draining sync.Mutex
}

func NewBufferProcessor(
	store *buffer.Store,
	monitor ConnectionHealth,
	docs repository.DocumentRepository,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *BufferProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bp := &BufferProcessor{
		store:   store,
		monitor: monitor,
		docs:    docs,
		logger:  logger,
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	_, _ = bp.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := bp.Drain(ctx); err != nil {
			bp.logger.Error("buffer drain failed", zap.Error(err))
		}
		bp.expire()
	})

	return bp
}

// Start launches the cron scheduler.
func (bp *BufferProcessor) Start() {
	if bp == nil || bp.cron == nil {
		return
	}
	bp.cron.Start()
	bp.logger.Info("buffer processor started")
}

// Stop gracefully stops the scheduler.
func (bp *BufferProcessor) Stop(ctx context.Context) {
	if bp == nil || bp.cron == nil {
		return
	}
	stopCtx := bp.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	bp.logger.Info("buffer processor stopped")
}

// Drain replays parked writes batch by batch until the buffer is empty or a whole batch
// fails. A drain already in progress makes the call a no-op.
func (bp *BufferProcessor) Drain(ctx context.Context) error {
	if bp == nil || bp.store == nil {
		return nil
	}
	if bp.monitor != nil && !bp.monitor.IsOnline() {
		bp.logger.Debug("skipping buffer drain (offline)")
		return nil
	}
	if !bp.draining.TryLock() {
		return nil
	}
	defer bp.draining.Unlock()

	var replayed, failed int
	defer func() {
		if replayed > 0 || failed > 0 {
			bp.logger.Info("buffer drained", zap.Int("replayed", replayed), zap.Int("failed", failed))
		}
	}()
	// requeued failures are retried by the next drain, not this one
	attempted := make(map[string]struct{})
	for ctx.Err() == nil {
		batch, err := bp.store.GetBatch(bp.cfg.BatchSize)
		if err != nil {
			return err
		}
		items := batch[:0]
		for _, item := range batch {
			if _, seen := attempted[item.ID]; !seen {
				attempted[item.ID] = struct{}{}
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			return nil
		}
		ok := bp.replay(ctx, items)
		replayed += ok
		failed += len(items) - ok
		if ok == 0 {
			return nil
		}
	}
	return ctx.Err()
}

// Trigger drains in the background, for example when Postgres comes back online.
func (bp *BufferProcessor) Trigger() {
	if bp == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), bp.cfg.Interval)
		defer cancel()
		if err := bp.Drain(ctx); err != nil {
			bp.logger.Error("buffer drain failed", zap.Error(err))
		}
	}()
}

func (bp *BufferProcessor) replay(ctx context.Context, items []buffer.Item) int {
	var ok int
	for _, item := range items {
		if err := bp.processItem(ctx, item); err != nil {
			bp.logger.Error("failed to replay buffered write",
				zap.String("item_id", item.ID),
				zap.String("table", item.Table),
				zap.String("document_id", item.DocumentID),
				zap.Error(err))

			item.Retries++
			if item.Retries >= bp.cfg.MaxRetries {
				bp.logger.Warn("dropping buffered write (max retries reached)",
					zap.String("item_id", item.ID), zap.String("document_id", item.DocumentID))
				_ = bp.store.Remove(item)
				continue
			}

			if err := bp.store.Remove(item); err != nil {
				bp.logger.Warn("failed to remove buffer item", zap.Error(err))
			}
			if err := bp.store.Requeue(item); err != nil {
				bp.logger.Error("failed to requeue buffer item", zap.Error(err))
			}
			continue
		}

		ok++
		if err := bp.store.Remove(item); err != nil {
			bp.logger.Warn("failed to purge processed buffer item", zap.Error(err))
		}
	}
	return ok
}

// BufferOperation attempts to run the operation immediately and falls back to persisting it.
func (bp *BufferProcessor) BufferOperation(ctx context.Context, item buffer.Item) error {
	if bp == nil || bp.store == nil {
		return fmt.Errorf("buffer processor not configured")
	}

	if bp.monitor == nil || bp.monitor.IsOnline() {
		if err := bp.processItem(ctx, item); err == nil {
			return nil
		} else {
			bp.logger.Warn("immediate processing failed, buffering", zap.Error(err))
		}
	}
	if bp.cfg.MaxItems > 0 && bp.Size() >= bp.cfg.MaxItems {
		return domain.NewError(domain.ErrCodeInternal, "write buffer full")
	}
	return bp.store.Enqueue(item)
}

// expire drops writes parked longer than the retention.
func (bp *BufferProcessor) expire() {
	if bp.cfg.Retention <= 0 {
		return
	}
	dropped, err := bp.store.Cleanup(time.Now().Add(-bp.cfg.Retention))
	if err != nil {
		bp.logger.Warn("buffer retention cleanup failed", zap.Error(err))
		return
	}
	if dropped > 0 {
		bp.logger.Warn("dropped expired buffered writes", zap.Int("dropped", dropped), zap.Duration("retention", bp.cfg.Retention))
	}
}

// Size returns the number of buffered items.
func (bp *BufferProcessor) Size() int {
	if bp == nil || bp.store == nil {
		return 0
	}
	size, err := bp.store.Size()
	if err != nil {
		return 0
	}
	return size
}

func (bp *BufferProcessor) processItem(ctx context.Context, item buffer.Item) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var write repository.DocumentWrite
	if err := json.Unmarshal(item.Data, &write); err != nil {
		return err
	}
	switch item.Operation {
	case buffer.OperationWrite:
		return bp.docs.Write(ctx, write)
	case buffer.OperationDelete:
		return bp.docs.Delete(ctx, write.Table, write.ID)
	default:
		return fmt.Errorf("unsupported operation %s", item.Operation)
	}
}
