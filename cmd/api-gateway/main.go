package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/iep-collab-api/internal/handler"
	"github.com/noah-isme/iep-collab-api/internal/repository"
	"github.com/noah-isme/iep-collab-api/internal/service"
	"github.com/noah-isme/iep-collab-api/pkg/approval"
	"github.com/noah-isme/iep-collab-api/pkg/cache"
	"github.com/noah-isme/iep-collab-api/pkg/config"
	"github.com/noah-isme/iep-collab-api/pkg/database"
	"github.com/noah-isme/iep-collab-api/pkg/jobs"
	"github.com/noah-isme/iep-collab-api/pkg/logger"
)

// @title IEP Collaboration API
// @version 1.0.0
// @description Collaborative drafting, conflict-free merge and dual approval of Individualized Education Programs
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	var (
		db     *sqlx.DB
		rdb    *redis.Client
		checks []handler.ReadinessCheck
	)
	if cfg.Snapshots.Enabled {
		conn, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer conn.Close()
		if err := database.EnsureSchema(ctx, conn); err != nil {
			return err
		}
		db = conn
		checks = append(checks, handler.ReadinessCheck{Name: "postgres", Check: db.PingContext})
	}
	if cfg.Events.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		rdb = client
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	metrics := service.NewMetricsService()
	lifecycle := service.NewLifecycleStateMachine()
	store := service.NewDocumentStore(lifecycle, service.DocumentStoreConfig{
		RequiredApprovals: cfg.IEP.RequiredApprovals,
		OpLogLimit:        cfg.IEP.OpLogLimit,
		LockShards:        cfg.IEP.LockShards,
	})

	var (
		iepOpts         []service.IEPServiceOption
		coordinatorOpts []service.ApprovalCoordinatorOption
		auditRepo       *repository.AuditRepository
		workers         []worker
	)
	iepOpts = append(iepOpts, service.WithIEPMetrics(metrics), service.WithSubmitTimeout(cfg.Approval.Timeout))
	coordinatorOpts = append(coordinatorOpts, service.WithCoordinatorMetrics(metrics))

	if db != nil {
		auditRepo = repository.NewAuditRepository(db)
		snapshots := service.NewSnapshotWriter(repository.NewIEPSnapshotRepository(db), store, jobs.QueueConfig{
			Workers:    cfg.Snapshots.Workers,
			BufferSize: 256,
			MaxRetries: 3,
			RetryDelay: time.Second,
			Logger:     logr.Named("snapshots"),
		}).WithMetrics(metrics)
		restored, err := snapshots.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restore snapshots: %w", err)
		}
		logr.Info("documents restored", zap.Int("count", restored))
		iepOpts = append(iepOpts, service.WithIEPPersister(snapshots), service.WithIEPAudit(auditRepo))
		coordinatorOpts = append(coordinatorOpts, service.WithCoordinatorPersister(snapshots), service.WithCoordinatorAudit(auditRepo))
		workers = append(workers, snapshots)
	}
	if rdb != nil {
		bus := repository.NewEventBusRepository(rdb, cfg.Events.Channel, logr.Named("events"))
		publisher := service.NewEventPublisher(bus, jobs.QueueConfig{
			Workers:    cfg.Events.Workers,
			BufferSize: 512,
			MaxRetries: cfg.Events.Retries,
			RetryDelay: 500 * time.Millisecond,
			Logger:     logr.Named("events"),
		})
		iepOpts = append(iepOpts, service.WithIEPEvents(publisher))
		coordinatorOpts = append(coordinatorOpts, service.WithCoordinatorEvents(publisher))
		workers = append(workers, publisher)
	}

	authority := approval.NewClient(approval.Config{
		BaseURL:         cfg.Approval.BaseURL,
		APIKey:          cfg.Approval.APIKey,
		Timeout:         cfg.Approval.Timeout,
		BreakerFailures: cfg.Approval.BreakerFailures,
		BreakerTimeout:  cfg.Approval.BreakerTimeout,
		Logger:          logr.Named("approval"),
	})
	coordinator := service.NewApprovalCoordinator(authority, store, lifecycle, service.ApprovalCoordinatorConfig{
		RequiredRoles: cfg.IEP.RequiredRoles,
		DedupSize:     cfg.Approval.WebhookDedup,
	}, logr.Named("approvals"), coordinatorOpts...)
	iepService := service.NewIEPService(store, lifecycle, coordinator, nil, validator.New(), logr.Named("iep"), iepOpts...)

	deps := routerDeps{
		cfg:      cfg,
		logger:   logr,
		auth:     service.NewAuthService(logr.Named("auth"), service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Leeway: 30 * time.Second}),
		metrics:  metrics,
		iep:      handler.NewIEPHandler(iepService, service.NewExportService(iepService, nil, nil, logr.Named("export"))),
		webhooks: handler.NewWebhookHandler(coordinator, cfg.Approval.WebhookSecret, logr.Named("webhooks")),
		checks:   checks,
	}
	if auditRepo != nil {
		deps.audit = auditRepo
		deps.auditTrail = handler.NewAuditHandler(auditRepo, iepService)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           buildRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w.Start(gctx)
	}
	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		for _, w := range workers {
			w.Stop()
		}
		logr.Info("server stopped")
		return err
	})
	return g.Wait()
}

type worker interface {
	Start(ctx context.Context)
	Stop()
}
