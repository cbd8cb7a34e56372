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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-dashboard/internal/app"
	"github.com/odyssey-erp/odyssey-dashboard/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-dashboard/internal/audit/http"
	"github.com/odyssey-erp/odyssey-dashboard/internal/auth"
	"github.com/odyssey-erp/odyssey-dashboard/internal/observability"
	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions/editor"
	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/db"
	"github.com/odyssey-erp/odyssey-dashboard/internal/rbac"
	"github.com/odyssey-erp/odyssey-dashboard/internal/roles"
	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
	"github.com/odyssey-erp/odyssey-dashboard/internal/users"
	"github.com/odyssey-erp/odyssey-dashboard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	redisOpts := cfg.AsynqRedis()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	permissionCache := permissions.NewCache(redisClient, cfg.PermissionsCacheTTL)
	permissionService := permissions.NewService(permissions.NewRepository(dbpool), permissions.ServiceConfig{
		Cache:       permissionCache,
		Events:      jobClient,
		Idempotency: shared.NewIdempotencyStore(dbpool),
		Metrics:     metrics,
		Logger:      logger,
	})
	rbacMiddleware := rbac.Middleware{Source: permissionService, Logger: logger}

	authService := auth.NewService(auth.NewRepository(dbpool), permissionService)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	registry := editor.NewRegistry(editor.NewLocalFactory(permissionService), cfg.EditorIdleTTL)
	authHandler.OnLogout(func(sessionID string) {
		registry.Drop(sessionID)
		metrics.SetEditorSessions(registry.Len())
	})

	rolesService := roles.NewService(roles.NewRepository(dbpool), permissionService, logger)
	usersService := users.NewService(users.NewRepository(dbpool))
	assignmentsService := rbac.NewService(rbac.NewRepository(dbpool))

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		AuthHandler:        authHandler,
		PermissionsHandler: permissions.NewHandler(logger, permissionService, rbacMiddleware),
		EditorHandler:      editor.NewHandler(logger, registry, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, rolesService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		AssignmentsHandler: rbac.NewAssignmentsHandler(logger, assignmentsService, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Ready: func(r *http.Request) error {
			if err := dbpool.Ping(r.Context()); err != nil {
				return err
			}
			return redisClient.Ping(r.Context()).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		registry.Run(gctx, cfg.EditorSweepInterval, metrics.SetEditorSessions)
		return nil
	})
	group.Go(func() error {
		err := permissionCache.ListenForInvalidation(gctx, func(version int64) {
			stale := registry.MarkStale()
			logger.Debug("permissions cache invalidated", slog.Int64("version", version), slog.Int("stale_editors", stale))
		})
		if err != nil {
			logger.Warn("permissions cache listener", slog.Any("error", err))
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
