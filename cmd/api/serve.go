package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "draftreview/api/swagger" // swagger docs
	"draftreview/internal/config"
	"draftreview/internal/database"
	"draftreview/internal/generation"
	"draftreview/internal/handler"
	"draftreview/internal/metrics"
	"draftreview/internal/middleware"
	"draftreview/internal/repository"
	"draftreview/internal/service"
	"draftreview/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

func newServeCmd(connect func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := connect()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	if err := database.Migrate(a.db); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Set up dependencies (Repository -> Service -> Handler)
	taskRepo := repository.NewTaskRepository(a.db)
	logRepo := repository.NewReviewLogRepository(a.db)
	txManager := repository.NewTransactionManager(a.db)

	recorder, err := generation.NewAsyncRecorder(cfg.Generation.RecorderPoolSize, repository.NewGenerationRecordRepository(a.db), m, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(5 * time.Second); err != nil {
			log.Warn("generation recorder did not drain", zap.Error(err))
		}
	}()

	httpClient := &http.Client{}
	primary, err := generation.NewProvider(cfg.Generation.Primary, httpClient)
	if err != nil {
		return err
	}
	secondary, err := generation.NewProvider(cfg.Generation.Secondary, httpClient)
	if err != nil {
		return err
	}
	gateway, err := generation.NewGateway(generation.ProviderOrder{Primary: primary, Secondary: secondary}, cfg.Generation, recorder, m, log)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	workloads := service.NewWorkloadRegistry(repository.NewWorkloadRepository(a.db), taskRepo, txManager, cfg.Assignment.MaxAttempts, m, log)
	reviews := service.NewReviewService(service.ReviewServiceDeps{
		Tasks:     taskRepo,
		Logs:      logRepo,
		TxManager: txManager,
		Workloads: workloads,
		Generator: gateway,
		Publisher: hub,
		Policy:    cfg.Assignment.NoReviewerPolicy,
		Metrics:   m,
		Logger:    log,
	})
	auth := middleware.NewAuth(cfg.JWTSecret(), cfg.Auth.DeliveryKeyHash)

	// Initialize Handlers
	taskHandler := handler.NewTaskHandler(reviews, auth)
	reviewerHandler := handler.NewReviewerHandler(workloads, reviews, auth)
	deliveryHandler := handler.NewDeliveryHandler(reviews, auth)
	auditHandler := handler.NewAuditHandler(service.NewAuditService(logRepo), auth)
	statisticsHandler := handler.NewStatisticsHandler(service.NewStatisticsService(repository.NewStatisticsRepository(a.db)), auth)

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", middleware.ServiceKeyHeader, middleware.RequestIDHeader}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DEGRADED", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK", "ws_clients": hub.ClientCount()})
	})
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(hub, c, auth)
	})

	// API Routing
	taskHandler.RegisterRoutes(router.Group(""))
	reviewerHandler.RegisterRoutes(router.Group(""))
	deliveryHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))
	statisticsHandler.RegisterRoutes(router.Group(""))

	if cfg.Assignment.NoReviewerPolicy == config.PolicyHold && cfg.Assignment.RequeueInterval > 0 {
		go requeueLoop(ctx, reviews, cfg.Assignment.RequeueInterval, log)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requeueLoop(ctx context.Context, reviews service.ReviewService, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := reviews.RequeueUnassigned(ctx, 100)
			if err != nil {
				log.Error("requeue failed", zap.Error(err))
				continue
			}
			if res.Scanned > 0 {
				log.Info("requeued held tasks", zap.Int("scanned", res.Scanned), zap.Int("assigned", res.Assigned), zap.Int("skipped", res.Skipped))
			}
		}
	}
}
