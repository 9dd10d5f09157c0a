package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/cache"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/config"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/generator"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/handler"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/repository"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/service"
	"github.com/weiawesome/wes-edu-relay/pkg/database"
	pkglog "github.com/weiawesome/wes-edu-relay/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "history-service"})
	logger := pkglog.L()

	repo, err := newRepository(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open message repository")
	}
	defer repo.Close()

	var historyCache cache.HistoryCache
	if cfg.Cache.Enabled {
		rc, err := cache.NewRedisHistoryCache(cfg.Redis, cfg.Cache.Prefix)
		if err != nil {
			logger.Warn().Err(err).Msg("history cache unavailable, reading through to storage")
		} else {
			historyCache = rc
			defer rc.Close()
		}
	}

	ids, err := generator.New(cfg.IDs)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create id generator")
	}

	historyService := service.NewHistoryService(repo, historyCache, cfg.Cache.TTL, ids, cfg.History.Limit)
	httpHandler := handler.NewHTTPHandler(historyService)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))
	httpHandler.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info().
			Str("addr", addr).
			Str("storage", cfg.Storage.Driver).
			Str("ids", cfg.IDs.Kind).
			Bool("cache", historyCache != nil).
			Msg("history-service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down history-service")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("history-service stopped")
}

func newRepository(cfg *config.Config) (repository.MessageRepository, error) {
	switch cfg.Storage.Driver {
	case repository.DriverMemory:
		return repository.NewMemoryMessageRepository(), nil
	case repository.DriverSQL:
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, err
		}
		repo := repository.NewGormMessageRepository(db)
		if err := repo.Migrate(); err != nil {
			database.Close(db)
			return nil, fmt.Errorf("failed to migrate messages: %w", err)
		}
		return repo, nil
	case repository.DriverCassandra:
		return repository.NewCassandraMessageRepository(cfg.Cassandra)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}
