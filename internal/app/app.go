// Package app wires the stores, use cases and background services shared by the API server
// and the importer command.
package app

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goRedis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/internal/config"
	"github.com/fastygo/opendatahub/internal/entity"
	"github.com/fastygo/opendatahub/internal/infrastructure/buffer"
	"github.com/fastygo/opendatahub/internal/infrastructure/metrics"
	"github.com/fastygo/opendatahub/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/opendatahub/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/opendatahub/internal/infrastructure/redis"
	"github.com/fastygo/opendatahub/internal/infrastructure/upstream"
	"github.com/fastygo/opendatahub/internal/projection"
	"github.com/fastygo/opendatahub/internal/services"
	"github.com/fastygo/opendatahub/internal/services/lifecycle"
	"github.com/fastygo/opendatahub/repository"
	"github.com/fastygo/opendatahub/repository/postgres"
	redisRepo "github.com/fastygo/opendatahub/repository/redis"
	"github.com/fastygo/opendatahub/usecase"
	"github.com/fastygo/opendatahub/usecase/importer"
	"github.com/fastygo/opendatahub/usecase/query"
	"github.com/fastygo/opendatahub/usecase/tagging"
	"github.com/fastygo/opendatahub/usecase/upsert"
)

// App holds the wired components. Close them through Lifecycle.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Lifecycle *lifecycle.Manager

	Registry *entity.Registry
	Pool     *pgxpool.Pool
	Redis    goRedis.UniversalClient
	Buffer   *buffer.Store
	Monitor  *monitor.Monitor
	Metrics  *metrics.Metrics

	Docs            repository.DocumentRepository
	Query           *query.UseCase
	Writes          *upsert.UseCase
	URLs            *projection.URLGenerator
	BufferProcessor *services.BufferProcessor

	Feeds        []importer.Feed
	Orchestrator *importer.Orchestrator
	Dispatcher   *usecase.Dispatcher
}

// Build connects every store and assembles the use cases. On error the components opened so
// far are already registered with the lifecycle manager.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, manager *lifecycle.Manager) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Lifecycle: manager,
		Registry:  entity.Defaults(),
		Metrics:   metrics.New(),
	}
	applyPageSizes(a.Registry, cfg.API)

	feeds, err := importer.LoadFeeds(cfg.Import.FeedsPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("feed file not found, importer has no feeds", zap.String("path", cfg.Import.FeedsPath))
	case err != nil:
		return nil, err
	}
	a.Feeds = feeds

	if err := pgInfra.RunMigrations(cfg, logger); err != nil {
		return nil, err
	}
	if a.Pool, err = pgInfra.NewPool(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}
	manager.Register("postgres", func(context.Context) error {
		pgInfra.Close(a.Pool, logger)
		return nil
	})

	if a.Redis, err = redisInfra.NewClient(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	manager.RegisterCloser("redis", a.Redis)

	if a.Buffer, err = buffer.Open(cfg.Buffer.Path, "buffer"); err != nil {
		return nil, err
	}
	manager.RegisterCloser("buffer", a.Buffer)
	a.Metrics.WatchBuffer(func() int {
		n, _ := a.Buffer.Size()
		return n
	})

	a.Monitor = monitor.New(a.Pool, monitor.RedisPinger(a.Redis), a.Buffer, 10*time.Second, logger)
	if status := a.Monitor.Refresh(); !status.PostgreSQL {
		logger.Warn("postgres not reachable at startup, writes will be buffered")
	}
	a.Monitor.Start()
	manager.Register("monitor", func(context.Context) error {
		a.Monitor.Stop()
		return nil
	})

	a.Docs = postgres.NewDocumentRepository(a.Pool)
	tags, err := tagging.NewResolver(postgres.NewTagRepository(a.Pool), cfg.Cache.TagCacheSize, logger)
	if err != nil {
		return nil, err
	}

	a.BufferProcessor = services.NewBufferProcessor(a.Buffer, a.Monitor, a.Docs, logger, services.ProcessorConfig{
		Interval:   cfg.Buffer.SyncInterval,
		BatchSize:  50,
		MaxRetries: cfg.Buffer.MaxRetry,
		MaxItems:   cfg.Buffer.MaxSize,
		Retention:  time.Duration(cfg.Buffer.RetentionHours) * time.Hour,
	})
	a.Monitor.OnRecover(a.BufferProcessor.Trigger)

	a.URLs = projection.NewURLGenerator(cfg.API.BaseURL, "/v1", cfg.API.ImageRewrites)
	a.Query = query.New(a.Docs, a.URLs, logger)
	a.Writes = upsert.New(a.Docs, tags, services.NewBufferBridge(a.BufferProcessor), logger)

	client := upstream.New(upstream.Config{
		Timeout:         cfg.Import.UpstreamTimeout,
		RatePerSecond:   cfg.Import.RatePerSecond,
		Burst:           cfg.Import.RateBurst,
		BreakerFailures: uint32(cfg.Import.BreakerFailures),
		BreakerTimeout:  cfg.Import.BreakerTimeout,
	}, a.Metrics, logger)

	a.Orchestrator = importer.NewOrchestrator(importer.Deps{
		Registry:    a.Registry,
		Fetcher:     importer.NewHTTPFetcher(client),
		Writer:      a.Writes,
		Docs:        a.Docs,
		Locks:       redisRepo.NewLockRepository(a.Redis, cfg.Import.LockTTL),
		Checkpoints: a.Buffer,
		Recorder:    a.Metrics,
		LockTTL:     cfg.Import.LockTTL,
		Logger:      logger,
	})
	a.Dispatcher = usecase.NewDispatcher()
	services.RegisterFeeds(a.Dispatcher, a.Orchestrator, a.Feeds)
	return a, nil
}

// applyPageSizes lets the deployment override the per-entity page sizes.
func applyPageSizes(r *entity.Registry, cfg config.APIConfig) {
	for _, d := range r.All() {
		if cfg.MaxPageSize > 0 {
			d.MaxPageSize = cfg.MaxPageSize
		}
		if cfg.DefaultPageSize > 0 {
			d.DefaultPageSize = cfg.DefaultPageSize
		}
	}
}
