package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callbroker/internal/audit"
	"callbroker/internal/auth"
	"callbroker/internal/calls"
	"callbroker/internal/config"
	"callbroker/internal/directory"
	"callbroker/internal/httpapi"
	"callbroker/internal/lock"
	"callbroker/internal/presence"
	"callbroker/internal/queue"
	"callbroker/internal/realtime"
	"callbroker/internal/reporting"
	"callbroker/internal/signaling"
	"callbroker/internal/storage"
	"callbroker/pkg/logger"
	"callbroker/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	driver, dsn := cfg.SQLDriver()
	db, err := utils.OpenSQL(rootCtx, driver, dsn, utils.SQLPoolConfig{})
	if err != nil {
		log.Error("sql init failed", "driver", driver, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.Migrate(rootCtx, db); err != nil {
		log.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:       cfg.RedisAddr(),
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	dir := directory.NewSQLRepo(db, driver)
	sessions := calls.NewSQLRepo(db, driver)

	auditRepo := audit.NewSQLRepo(db, driver)

	registry := presence.NewRegistry()
	hub := presence.NewBroadcaster(registry)

	callSvc := calls.NewService(calls.Deps{
		Repo:        sessions,
		Locks:       lock.NewRedis(rdb, lock.DefaultPrefix),
		Queue:       queue.NewRedis(rdb, queue.DefaultPrefix),
		Directory:   dir,
		Broadcaster: hub,
		Audit:       audit.NewService(auditRepo),
	}, cfg.Calls)

	gateway := realtime.NewGateway(realtime.Deps{
		Calls:       callSvc,
		Directory:   dir,
		Registry:    registry,
		Broadcaster: hub,
		Relay:       signaling.NewRelay(hub),
	}, cfg.WS, log)

	handlers := httpapi.Handlers{
		Calls:   callSvc,
		Reports: reporting.NewService(reporting.NewCallsRepo(sessions)),
		Audit:   auditRepo,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerPublicRoutes(r, healthDeps{db: db, rdb: rdb})
	registerRealtimeRoutes(r, auth.RequireAccessToken(authManager), gateway)
	registerAPIRoutes(r, auth.RequireAccessToken(authManager), handlers)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "db_driver", driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	gateway.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
