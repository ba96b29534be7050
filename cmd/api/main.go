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

	"call-platform/internal/audit"
	"call-platform/internal/auth"
	"call-platform/internal/calls"
	"call-platform/internal/chat"
	"call-platform/internal/config"
	"call-platform/internal/gateway"
	"call-platform/internal/httpapi"
	"call-platform/internal/media"
	"call-platform/internal/reporting"
	"call-platform/internal/signaling"
	"call-platform/pkg/logger"
	"call-platform/pkg/utils"

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

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	callStore := calls.NewPostgresRepo(db)
	directory := chat.NewPostgresDirectory(db)
	messages := chat.NewPostgresMessages(db)
	auditRepo := audit.NewPostgresRepo(db)
	if err := utils.ApplySchemas(rootCtx, directory, callStore, auditRepo); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	var rooms media.Rooms
	if cfg.MediaEnabled() {
		issuer, err := media.NewTokenIssuer(media.Config{
			URL:       cfg.Media.URL,
			APIKey:    cfg.Media.APIKey,
			APISecret: cfg.Media.APISecret,
			TTL:       cfg.Media.TokenTTL,
		})
		if err != nil {
			log.Error("media init failed", "err", err)
			os.Exit(1)
		}
		rooms = issuer
	}

	hub := gateway.NewHub()
	relay := signaling.NewRelay(directory, hub, log.With("component", "relay"))
	coordinator := calls.NewCoordinator(calls.NewRegistry(), callStore, directory, messages, relay, calls.Options{
		RingTimeout:   cfg.Calls.RingTimeout,
		TimeoutStatus: calls.Status(cfg.Calls.TimeoutStatus),
		Guard:         calls.NewRedisGuard(rdb, cfg.Calls.GuardTTL),
		Media:         rooms,
		Audit:         audit.NewService(auditRepo),
		Logger:        log.With("component", "calls"),
	})
	if _, _, err := coordinator.Recover(rootCtx); err != nil {
		log.Error("call recovery failed", "err", err)
		os.Exit(1)
	}

	gwLog := log.With("component", "gateway")
	wsHandler := gateway.NewHandler(hub, gateway.NewDispatcher(coordinator, gwLog), gateway.HandlerOptions{
		AllowedOrigins: cfg.WS.AllowedOrigins,
		AllowAnyOrigin: cfg.IsDevelopment() && len(cfg.WS.AllowedOrigins) == 0,
		Logger:         gwLog,
	})

	deps := routeDeps{
		auth: authManager,
		handlers: httpapi.Handlers{
			Auth:    authManager,
			Calls:   coordinator,
			History: calls.NewHistory(callStore, directory),
			Reports: reporting.NewService(reporting.NewPostgresRepo(db)),
		},
		members: directory,
		ws:      wsHandler,
		health: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
		devLogin: cfg.IsDevelopment(),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Shutdown does not track hijacked websocket connections. Closing them
	// takes their users out of live calls before the stores go away.
	hub.Close()
	if err := wsHandler.Drain(shutdownCtx); err != nil {
		log.Warn("websocket drain incomplete", "err", err)
	}
}
