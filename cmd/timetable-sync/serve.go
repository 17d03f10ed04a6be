package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/sma-timetable-sync/api/swagger"
	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/handler"
	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/middleware"
	"github.com/noah-isme/sma-timetable-sync/internal/repository"
	"github.com/noah-isme/sma-timetable-sync/internal/service"
	"github.com/noah-isme/sma-timetable-sync/pkg/cache"
	"github.com/noah-isme/sma-timetable-sync/pkg/config"
	"github.com/noah-isme/sma-timetable-sync/pkg/database"
	"github.com/noah-isme/sma-timetable-sync/pkg/jobs"
	"github.com/noah-isme/sma-timetable-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-sync/pkg/middleware/requestid"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and event stream",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logr, err := bootstrap()
		if err != nil {
			return err
		}
		defer logr.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logr)
	},
}

// stores holds the schedule and catalog backends chosen by STORE_DRIVER.
type stores struct {
	db       *sqlx.DB
	schedule service.ScheduleStore
	catalog  service.CatalogRepository
	audit    *repository.AuditRepository
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		seed := repository.CatalogSeed{}
		if cfg.Store.CatalogSeedFile != "" {
			loaded, err := repository.LoadCatalogSeed(cfg.Store.CatalogSeedFile)
			if err != nil {
				return nil, err
			}
			seed = loaded
		}
		logr.Warn("using in-memory schedule store, state is lost on restart",
			zap.Int("editions", len(seed.Editions)),
			zap.Int("rooms", len(seed.Rooms)))
		return &stores{
			schedule: repository.NewMemoryScheduleRepository(),
			catalog:  repository.NewMemoryCatalogRepository(seed),
		}, nil
	case config.StoreDriverPostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Store.AutoMigrate {
			if err := database.RunMigrations(db.DB, logr); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &stores{
			db:       db,
			schedule: repository.NewScheduleRepository(db),
			catalog:  repository.NewCatalogRepository(db),
			audit:    repository.NewAuditRepository(db),
		}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
}

func newCacheService(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) *service.CacheService {
	if !cfg.Cache.Enabled {
		return service.NewCacheService(nil, metrics, cfg.Cache.ViewTTL, logr, false)
	}
	client, err := cache.NewRedis(ctx, cfg.Redis, logr)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		return service.NewCacheService(nil, metrics, cfg.Cache.ViewTTL, logr, false)
	}
	repo := repository.NewCacheRepository(client, "timetable", logr)
	return service.NewCacheService(repo, metrics, cfg.Cache.ViewTTL, logr, true)
}

func serve(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := openStores(ctx, cfg, logr)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	metrics := service.NewMetricsService()
	bus := broadcast.NewBus(
		broadcast.WithBufferSize(cfg.Events.BufferSize),
		broadcast.WithLogger(logr),
		broadcast.WithObserver(metrics),
	)
	defer bus.Close()
	locks := lock.NewManager(
		lock.WithPublisher(bus),
		lock.WithObserver(metrics),
		lock.WithLogger(logr),
	)

	cacheSvc := newCacheService(ctx, cfg, metrics, logr)
	catalogSvc := service.NewCatalogService(st.catalog, cacheSvc, cfg.Cache.CatalogTTL, logr)
	rules := service.RulesFromConfig(cfg.Schedule)
	validate := validator.New()

	sessions := service.NewSessionService(bus, locks, logr)
	lockSvc := service.NewLockService(locks, st.schedule, catalogSvc, rules, validate, logr)
	mutationSvc := service.NewMutationService(st.schedule, catalogSvc, locks, bus, rules,
		service.WithMutationCache(cacheSvc, cfg.Cache.ViewTTL),
		service.WithMutationMetrics(metrics),
		service.WithMutationLogger(logr),
		service.WithMutationValidator(validate),
	)
	proposalSvc := service.NewMoveProposalService(st.schedule, catalogSvc, locks, bus, rules,
		service.WithProposalCache(cacheSvc),
		service.WithProposalMetrics(metrics),
		service.WithProposalLogger(logr),
	)

	sweeper, err := lock.NewSweeper(locks, sessions, cfg.Locks.SweepInterval, logr)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	if cfg.Audit.Enabled {
		if st.audit == nil {
			logr.Warn("audit trail requires the postgres store, disabled")
		} else {
			auditSvc := service.NewAuditService(st.audit, nil, logr)
			queue := jobs.NewQueue("audit", auditSvc.HandleJob, jobs.QueueConfig{
				Workers:    cfg.Audit.Workers,
				BufferSize: cfg.Events.BufferSize,
				MaxRetries: cfg.Audit.Retries,
				Logger:     logr,
			})
			auditSvc.SetQueue(queue)
			queue.Start(ctx)
			defer queue.Stop()
			stopWatch := bus.Watch("audit", auditSvc.Handle)
			defer stopWatch()
		}
	}

	var pinger handler.Pinger
	if st.db != nil {
		pinger = st.db
	}
	metricsHandler := handler.NewMetricsHandler(metrics, pinger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, cfg.APIPrefix+"/events"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	routes := handler.Routes{
		Events:    handler.NewEventHandler(sessions, bus.LastSeq, cfg.Events.Heartbeat, logr).
			WithConfirmationTimeout(cfg.Events.ConfirmationTimeout),
		Locks:     handler.NewLockHandler(lockSvc, sweeper),
		Positions: handler.NewPositionHandler(mutationSvc, bus.LastSeq),
		Moves:     handler.NewMoveHandler(proposalSvc),
	}
	routes.Register(r.Group(cfg.APIPrefix),
		middleware.JWT(service.NewTokenVerifier(cfg.JWT.Secret)),
		middleware.Session(sessions),
		middleware.RequireAdmin(),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Streams never finish on their own, so end the sessions before
		// waiting for handlers to return.
		sessions.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logr.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
