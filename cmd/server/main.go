package main

import (
	"context"
	"log"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/pprofhandler"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/opendatahub/api/handler"
	"github.com/fastygo/opendatahub/internal/app"
	"github.com/fastygo/opendatahub/internal/config"
	"github.com/fastygo/opendatahub/internal/middleware"
	"github.com/fastygo/opendatahub/internal/router"
	"github.com/fastygo/opendatahub/internal/services"
	"github.com/fastygo/opendatahub/internal/services/lifecycle"
	"github.com/fastygo/opendatahub/pkg/httpcontext"
	"github.com/fastygo/opendatahub/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
		Service:  "api",
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	a, err := app.Build(appCtx, cfg, zapLogger, manager)
	if err != nil {
		_ = manager.Shutdown(context.Background())
		zapLogger.Fatal("startup failed", zap.Error(err))
	}

	a.BufferProcessor.Start()
	manager.RegisterStopper("buffer_processor", a.BufferProcessor)

	var scheduler *services.FeedScheduler
	if cfg.Import.SchedulerEnabled {
		scheduler, err = services.NewFeedScheduler(a.Dispatcher, a.Feeds, cfg.Import.RunTimeout, zapLogger)
		if err != nil {
			zapLogger.Fatal("invalid feed schedule", zap.Error(err))
		}
		scheduler.Start()
		manager.RegisterStopper("feed_scheduler", scheduler)
	}

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Documents: apiHandler.NewDocumentHandler(a.Registry, a.Query, a.Writes, cfg.API.BaseURL, ctxAdapter, zapLogger),
		Import:    apiHandler.NewImportHandler(a.Dispatcher, cfg.Import.RunTimeout, ctxAdapter, zapLogger),
	}
	health := apiHandler.NewHealthHandler(a.Monitor, ctxAdapter, zapLogger)
	if scheduler != nil {
		health.WithSchedule(scheduler)
	}
	handlers.Health = health
	if cfg.HTTP.EnableMetrics {
		handlers.Metrics = a.Metrics.Handler()
	}
	if cfg.HTTP.EnablePprof {
		handlers.Pprof = pprofhandler.PprofHandler
	}

	r := router.New(handlers, router.Options{
		Auth:         middleware.JWTAuth(cfg.JWT.Secret, zapLogger, middleware.WithIssuer(cfg.JWT.Issuer)),
		OptionalAuth: middleware.OptionalJWT(cfg.JWT.Secret, zapLogger, middleware.WithIssuer(cfg.JWT.Issuer)),
		Observer:     a.Metrics,
		CORSOrigins:  cfg.API.CORSOrigins,
	})

	server := &fasthttp.Server{
		Handler:            r.Handler,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
		Concurrency:        cfg.HTTP.MaxConn,
		Name:               cfg.AppName,
		MaxRequestBodySize: 32 << 20,
	}

	go func() {
		zapLogger.Info("server started", zap.String("address", cfg.Address()), zap.Int("feeds", len(a.Feeds)))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Fatal("server crashed", zap.Error(err))
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}
