package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/annotations"
	"github.com/opencoding/backend/internal/api/handlers"
	"github.com/opencoding/backend/internal/auth"
	"github.com/opencoding/backend/internal/cache/redis"
	"github.com/opencoding/backend/internal/directory"
	"github.com/opencoding/backend/internal/importer"
	"github.com/opencoding/backend/internal/metrics"
	"github.com/opencoding/backend/internal/middleware/identity"
	"github.com/opencoding/backend/internal/middleware/ratelimit"
	"github.com/opencoding/backend/internal/middleware/security"
	"github.com/opencoding/backend/internal/storage/sqlite"
	"github.com/opencoding/backend/internal/traces"
	"github.com/opencoding/backend/pkg/config"
	appLogger "github.com/opencoding/backend/pkg/logger"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Open Coding Evaluation API")

	metrics.Init()

	db, err := sqlite.NewClient(cfg.Storage.Path)
	if err != nil {
		appLogger.Fatal("Failed to create storage client", zap.Error(err))
	}
	defer db.Close()

	err = db.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Cache is optional: run without it rather than refusing to start.
	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache, err = redis.NewClient(
			cfg.Redis.Addr,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.StatsTTL)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	verifier := auth.NewVerifier(cfg.Auth.JWKSURL, nil)
	imp := importer.NewImporter(db, cfg.Upload.MaxBytes, cfg.Import.StrictNumbers)
	traceService := traces.NewService(db, imp, cfg.Pagination.DefaultPageSize, cfg.Pagination.MaxPageSize)
	annotationService := annotations.NewService(db, cache)
	directoryService := directory.NewService(db)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Upload.MaxBytes * 2,
		ErrorHandler: jsonErrorHandler,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.Log,
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.CORSOriginList(), ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.CORSOriginList(),
	}))
	app.Use(requestMetrics())

	traceHandler := handlers.NewTraceHandler(traceService)
	annotationHandler := handlers.NewAnnotationHandler(annotationService)
	authHandler := handlers.NewAuthHandler(directoryService, cfg.Auth.WebhookSecret)

	requireAuth := identity.RequireAuth(verifier)
	// Throttling runs after authentication so the limiter keys on the
	// resolved identity; the webhook route is throttled by IP.
	throttle := limiter.Middleware()

	api := app.Group("/api")

	api.Post("/auth/webhook", throttle, authHandler.Webhook)
	api.Get("/auth/me", requireAuth, throttle, authHandler.Me)

	api.Post("/traces/import-csv", requireAuth, throttle, traceHandler.ImportCSV)
	api.Get("/traces", requireAuth, throttle, traceHandler.List)
	api.Get("/traces/next/unannotated", requireAuth, throttle, traceHandler.NextUnannotated)
	api.Get("/traces/:trace_id", requireAuth, throttle, traceHandler.Get)
	api.Get("/traces/:trace_id/adjacent", requireAuth, throttle, traceHandler.Adjacent)

	api.Post("/annotations", requireAuth, throttle, annotationHandler.Save)
	api.Post("/annotations/import-local", requireAuth, throttle, annotationHandler.BulkImport)
	api.Get("/annotations/trace/:trace_id", requireAuth, throttle, annotationHandler.ForTrace)
	api.Get("/annotations/user/stats", requireAuth, throttle, annotationHandler.Stats)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Open Coding Evaluation API",
			"version": version,
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// jsonErrorHandler keeps every response JSON, including errors raised
// below the handler layer such as an exceeded body limit.
func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	return c.Status(code).JSON(fiber.Map{"detail": err.Error()})
}

func requestMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		metrics.RequestDuration.WithLabelValues(
			c.Method(),
			c.Route().Path,
			strconv.Itoa(c.Response().StatusCode()),
		).Observe(time.Since(start).Seconds())
		return err
	}
}
