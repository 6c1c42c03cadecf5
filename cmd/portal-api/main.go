package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"callscope/report-portal/report-portal-backend/internal/config"
	"callscope/report-portal/report-portal-backend/internal/notifications/websocket"
	"callscope/report-portal/report-portal-backend/internal/reports"
	"callscope/report-portal/report-portal-backend/internal/reports/athena"
	"callscope/report-portal/report-portal-backend/internal/reports/dashboard"
	"callscope/report-portal/report-portal-backend/internal/reports/delivery"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// AWS clients
	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Athena.Region))
	if err != nil {
		logger.Fatal("Failed to load AWS configuration", zap.Error(err))
	}
	athenaClient := awsathena.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	// Notifications
	wsManager := websocket.NewManager(logger, cfg.Server.AllowedOrigins)
	defer wsManager.Close()
	notifier := reports.MultiNotifier{reports.NewLogNotifier(logger), wsManager}

	// Initialize Reporting Module
	metrics := reports.NewMetrics(prometheus.DefaultRegisterer)
	queryService := athena.NewQueryService(athenaClient, cfg.Athena, logger)

	var store reports.ExportStore
	if cfg.Exports.Bucket != "" {
		store = delivery.NewS3Store(s3Client, cfg.Exports, logger)
	} else {
		logger.Warn("Export bucket not configured, publishing exports is disabled")
	}

	reportsService := reports.NewService(queryService, notifier, metrics, store, logger, cfg.Sessions)
	defer reportsService.Close()
	reportsHandler := reports.NewHandler(reportsService, logger, cfg.Server.Location())

	// Dashboard overview
	aggregator := dashboard.NewAggregator(queryService, notifier, logger, cfg.Dashboard.Aggregator)
	defer aggregator.Close()
	refresher := dashboard.NewRefresher(aggregator, cfg.Dashboard.RefreshSpec, logger)
	if err := refresher.Start(ctx); err != nil {
		logger.Fatal("Failed to start dashboard refresher", zap.Error(err))
	}
	defer refresher.Stop()
	dashboardHandler := dashboard.NewHandler(aggregator, logger)

	// Setup Router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors(cfg.Server.AllowedOrigins))

	// Register Routes
	api := router.Group("/api/v1")
	{
		reportsHandler.RegisterRoutes(api)
		dashboardHandler.RegisterRoutes(api)
	}
	wsManager.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"connections": wsManager.GetConnectionCount(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// CORS Middleware
func cors(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := "*"
		if len(allowed) > 0 {
			origin = ""
			if _, ok := allowed[c.GetHeader("Origin")]; ok {
				origin = c.GetHeader("Origin")
			}
		}
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
