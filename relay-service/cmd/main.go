package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/wes-edu-relay/pkg/config"
	"github.com/weiawesome/wes-edu-relay/pkg/database"
	pkglog "github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/pkg/pubsub"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/config"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/directory"
	relaygrpc "github.com/weiawesome/wes-edu-relay/relay-service/internal/grpc"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/handler"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/hub"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/presence"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/relay"
)

func main() {
	cfg, v, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "relay-service"})
	logger := pkglog.L().With().Str(pkglog.FieldInstanceID, cfg.Server.InstanceID).Logger()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting relay-service")

	if pkgconfig.Watch(v, func(v *viper.Viper, e fsnotify.Event) {
		level := v.GetString("log.level")
		pkglog.SetLevel(level)
		logger.Info().Str("file", e.Name).Str("level", level).Msg("config reloaded")
	}) {
		logger.Info().Str("file", v.ConfigFileUsed()).Msg("watching config file")
	}

	// Directory
	var dir directory.Directory
	switch cfg.Directory.Driver {
	case "memory":
		dir = directory.NewMemoryDirectory()
	case "sql":
		db, err := database.New(&cfg.Directory.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open directory database")
		}
		defer database.Close(db)
		gd := directory.NewGormDirectory(db)
		if err := gd.Migrate(); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate directory")
		}
		dir = gd
	}

	// Hub
	h := hub.NewHub(hub.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		WriteWait:      cfg.WebSocket.WriteWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	})
	go h.Run()

	// Presence
	var presenceOpts []presence.Option
	if dir != nil {
		presenceOpts = append(presenceOpts, presence.WithDirectory(dir))
	}
	presenceSvc := presence.NewService(h, presence.Config{
		DebounceWindow:  cfg.Presence.DebounceWindow,
		DuplicateWindow: cfg.Presence.DuplicateWindow,
		SweepInterval:   cfg.Presence.SweepInterval,
		StaleAfter:      cfg.Presence.StaleAfter,
	}, presenceOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	ctx = pkglog.WithLogger(ctx, logger)
	presenceSvc.Start(ctx)

	// Relay, optionally backed by the cross-instance bus
	var relayOpts []relay.Option
	var bus pubsub.PubSub
	if cfg.Backplane.Enabled {
		bus, err = pubsub.NewPubSub(cfg.Backplane.PubSub)
		if err != nil {
			logger.Warn().Err(err).Str("driver", cfg.Backplane.PubSub.Driver).Msg("backplane unavailable, relaying locally only")
		} else {
			relayOpts = append(relayOpts, relay.WithBackplane(bus, cfg.Backplane.Channel, cfg.Server.InstanceID))
			logger.Info().Str("driver", cfg.Backplane.PubSub.Driver).Str("channel", cfg.Backplane.Channel).Msg("backplane enabled")
		}
	}
	relaySvc := relay.New(h, relayOpts...)
	go relaySvc.Run(ctx)

	// gRPC health
	var healthSrv *relaygrpc.HealthServer
	if cfg.GRPC.Enabled {
		grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		healthSrv, err = relaygrpc.StartHealthServer(grpcAddr, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start grpc health server")
		}
	}

	// Routes
	router := mux.NewRouter()
	handler.RegisterRoutes(router,
		handler.NewWSHandler(h, presenceSvc, relaySvc),
		handler.NewHTTPHandler(h, presenceSvc, relaySvc, dir),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      pkglog.HTTPMiddleware(logger)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("relay-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down relay-service")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		if healthSrv != nil {
			healthSrv.Drain() // 1. stop receiving new sockets
		}

		cancel()             // 2. stop backplane subscriber + sweep
		<-relaySvc.Done()    // 3. wait for subscriber to exit
		presenceSvc.Stop()   // 4. cancel pending broadcast
		h.Stop()             // 5. close all sockets, stop Hub.Run()

		if bus != nil {
			if err := bus.Close(); err != nil {
				logger.Error().Err(err).Msg("backplane close error")
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}

		if healthSrv != nil {
			healthSrv.Stop()
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("relay-service stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}
