package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GoosieGav/PestHub/internal/auth"
	"github.com/GoosieGav/PestHub/internal/cache"
	"github.com/GoosieGav/PestHub/internal/classifier"
	"github.com/GoosieGav/PestHub/internal/config"
	"github.com/GoosieGav/PestHub/internal/handlers"
	"github.com/GoosieGav/PestHub/internal/httpclient"
	"github.com/GoosieGav/PestHub/internal/metrics"
	"github.com/GoosieGav/PestHub/internal/pests"
	"github.com/GoosieGav/PestHub/internal/repository"
	"github.com/GoosieGav/PestHub/internal/server"
	"github.com/GoosieGav/PestHub/internal/service"
)

const startupTimeout = 15 * time.Second

func serveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the PestHub HTTP gateway",
		Long:  "Serve the pest encyclopedia and front the classification service with history, caching and metrics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "Listen address")
	if err := a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	hc := httpclient.New(&httpclient.Config{Timeout: a.cfg.API.Timeout})
	hc.SetAfterResponse(m.ObserveRoundTrip)
	defer hc.CloseIdleConnections()

	client, err := a.newClient(classifier.WithHTTPClient(hc), classifier.WithObserver(m.ObserveCall))
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	db, err := repository.Open(startCtx, a.cfg.Database.Driver, a.cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	repo := repository.NewClassificationRepository(db, logger)
	if err := repo.AutoMigrate(startCtx); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}

	store, closeStore, err := openCache(startCtx, a.cfg.Cache)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.New(client, pests.Default(), repo, store, logger,
		service.WithSearchTTL(a.cfg.Cache.TTL),
		service.WithRecorder(m),
	)

	if !a.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logger))
	router.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(router, svc, auth.Middleware(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTAudience), registry)

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("PestHub gateway listening",
		zap.String("addr", a.cfg.Server.Addr),
		zap.String("backend", client.BaseURL()),
		zap.String("database", a.cfg.Database.Driver),
		zap.String("cache", a.cfg.Cache.Driver),
		zap.Bool("auth", a.cfg.Auth.JWTSecret != ""),
	)
	if err := server.Serve(httpServer, logger, server.Options{ShutdownTimeout: a.cfg.Server.ShutdownTimeout}); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("PestHub gateway stopped")
	return nil
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, func(), error) {
	if cfg.Driver != config.CacheRedis {
		return cache.NewMemoryCache(cfg.TTL, 2*cfg.TTL), func() {}, nil
	}

	rc := cache.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}
