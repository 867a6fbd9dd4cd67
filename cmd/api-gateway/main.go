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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/movement-gateway/api/swagger"
	"github.com/noah-isme/movement-gateway/internal/form"
	"github.com/noah-isme/movement-gateway/internal/handler"
	"github.com/noah-isme/movement-gateway/internal/middleware"
	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/repository"
	"github.com/noah-isme/movement-gateway/internal/service"
	"github.com/noah-isme/movement-gateway/pkg/cache"
	"github.com/noah-isme/movement-gateway/pkg/config"
	"github.com/noah-isme/movement-gateway/pkg/database"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/jobs"
	"github.com/noah-isme/movement-gateway/pkg/logger"
	corsmiddleware "github.com/noah-isme/movement-gateway/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/movement-gateway/pkg/middleware/requestid"
	"github.com/noah-isme/movement-gateway/pkg/response"
	"github.com/noah-isme/movement-gateway/pkg/storage"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

// @title Movement Gateway API
// @version 1.0.0
// @description Backend-for-frontend for the HR employee movement forms (MRF, 201 data change, MDA).
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// store is what both cache backends offer: tagged JSON values with a TTL.
type store interface {
	service.TagStore
	service.DraftStore
}

type auditStore interface {
	Create(ctx context.Context, entry *models.ActionAudit) error
}

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

	metrics := service.NewMetricsService()
	checks := map[string]handler.Pinger{}

	var (
		kv          store
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("redis unavailable", "error", err)
		}
		defer redisClient.Close() //nolint:errcheck
		kv = repository.NewCacheRepository(redisClient, "movement:", logr)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		logr.Sugar().Warnw("redis disabled, drafts and cache are held in process memory")
		kv = repository.NewMemoryCacheRepository()
	}

	var db *sqlx.DB
	if cfg.Database.Enabled {
		db, err = database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logr.Sugar().Fatalw("database unavailable", "error", err)
		}
		defer db.Close() //nolint:errcheck
		if err := database.Migrate(ctx, db); err != nil {
			logr.Sugar().Fatalw("database migration failed", "error", err)
		}
		checks["postgres"] = db.PingContext
	}

	client, err := upstream.New(cfg.Upstream, upstream.WithObserver(metrics), upstream.WithLogger(logr))
	if err != nil {
		logr.Sugar().Fatalw("invalid upstream configuration", "error", err)
	}

	cacheSvc := service.NewCacheService(kv, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	submissions := service.NewSubmissionService(client, cacheSvc, logr)
	tables := service.NewTableService(submissions, logr)
	drafts := service.NewDraftService(kv, submissions, form.NewValidator(), cfg.Drafts.TTL, logr)
	auth := service.NewAuthService(service.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}, logr)

	confirmSigner, err := storage.NewSigner(cfg.Signing.Secret, storage.PurposeConfirmAction, cfg.Confirmations.TTL)
	if err != nil {
		logr.Sugar().Fatalw("confirmation signer", "error", err)
	}
	var audit auditStore
	if db != nil {
		audit = repository.NewActionAuditRepository(db)
	}
	confirmations := service.NewConfirmationService(confirmSigner, submissions, drafts, kv, audit, metrics, logr)

	exportHandler, err := buildExports(ctx, cfg, db, client, metrics, logr)
	if err != nil {
		logr.Sugar().Fatalw("exports unavailable", "error", err)
	}

	submissionHandler := handler.NewSubmissionHandler(tables, submissions)
	mdaHandler := handler.NewMDAHandler(tables, submissions)
	draftHandler := handler.NewDraftHandler(drafts, confirmations)
	confirmationHandler := handler.NewConfirmationHandler(confirmations, cfg.Upstream.MaxUploadBytes)
	liveHandler := handler.NewLiveHandler(tables, metrics, cfg.Search.Debounce, cfg.CORS.AllowedOrigins, logr)
	metricsHandler := handler.NewMetricsHandler(metrics, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	// Download links are opened by the browser directly; the signed token is
	// the credential.
	api.GET("/exports/download/:token", exportHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.Session(auth))

	secured.GET("/metrics/snapshot", metricsHandler.Snapshot)

	forms := secured.Group("/forms/:form/submissions")
	forms.GET("", submissionHandler.ListMine)
	forms.GET("/:id", submissionHandler.GetMine)
	forms.GET("/:id/history", submissionHandler.History)
	forms.POST("/:id/actions/:action/prepare", confirmationHandler.Prepare)

	monitoring := secured.Group("/monitoring/:form/submissions")
	monitoring.GET("", submissionHandler.ListMonitoring)
	monitoring.GET("/:id", submissionHandler.GetMonitoring)

	mda := secured.Group("/mda")
	mda.GET("/pending", mdaHandler.Pending)
	mda.GET("/prefill/:id", mdaHandler.Prefill)
	mda.GET("/:id/print", mdaHandler.Print)

	draftRoutes := secured.Group("/drafts")
	draftRoutes.POST("", draftHandler.Open)
	draftRoutes.GET("/:id", draftHandler.Get)
	draftRoutes.PATCH("/:id", draftHandler.Patch)
	draftRoutes.POST("/:id/edit", draftHandler.BeginEdit)
	draftRoutes.POST("/:id/cancel-edit", draftHandler.CancelEdit)
	draftRoutes.POST("/:id/prefill", draftHandler.Prefill)
	draftRoutes.POST("/:id/submit", draftHandler.Submit)
	draftRoutes.DELETE("/:id", draftHandler.Discard)

	secured.POST("/confirmations/confirm", confirmationHandler.Confirm)

	secured.POST("/exports", exportHandler.Create)
	secured.GET("/exports/:id", exportHandler.Status)

	secured.GET("/live/:scope/:form", liveHandler.Stream)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "upstream", cfg.Upstream.BaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logr.Sugar().Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Sugar().Warnw("graceful shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}
}

// exportRoutes is satisfied by the real export handler and by the stand-in
// used when exports are switched off.
type exportRoutes interface {
	Create(c *gin.Context)
	Status(c *gin.Context)
	Download(c *gin.Context)
}

type disabledExports struct{}

func (disabledExports) Create(c *gin.Context)   { response.Error(c, appErrors.ErrFeatureDisabled) }
func (disabledExports) Status(c *gin.Context)   { response.Error(c, appErrors.ErrFeatureDisabled) }
func (disabledExports) Download(c *gin.Context) { response.Error(c, appErrors.ErrFeatureDisabled) }

// buildExports wires the export pipeline. Jobs live in postgres, so exports
// stay off without a database.
func buildExports(ctx context.Context, cfg *config.Config, db *sqlx.DB, client *upstream.Client, metrics *service.MetricsService, logr *zap.Logger) (exportRoutes, error) {
	if !cfg.Exports.Enabled {
		return disabledExports{}, nil
	}
	if db == nil {
		logr.Sugar().Warnw("exports need ENABLE_DATABASE; export endpoints disabled")
		return disabledExports{}, nil
	}
	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, err
	}
	signer, err := storage.NewSigner(cfg.Signing.Secret, storage.PurposeExportDownload, cfg.Exports.SignedURLTTL)
	if err != nil {
		return nil, err
	}

	exports := service.NewExportService(repository.NewExportJobRepository(db), client, files, signer, metrics, service.ExportConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
		MaxRetries:      cfg.Exports.WorkerRetries,
	}, logr)
	queue := jobs.NewQueue("exports", exports.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		JobTimeout: cfg.Exports.JobTimeout,
		Logger:     logr,
	})
	exports.UseQueue(queue)
	queue.Start(ctx)
	go func() {
		<-ctx.Done()
		queue.Stop()
	}()
	exports.RecoverPendingJobs(ctx)
	exports.StartCleanup(ctx)

	return handler.NewExportHandler(exports), nil
}
