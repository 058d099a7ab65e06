package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pairhub/signaling-core/internal/v1/config"
	"github.com/pairhub/signaling-core/internal/v1/grant"
	"github.com/pairhub/signaling-core/internal/v1/health"
	"github.com/pairhub/signaling-core/internal/v1/logging"
	"github.com/pairhub/signaling-core/internal/v1/middleware"
	"github.com/pairhub/signaling-core/internal/v1/presence"
	"github.com/pairhub/signaling-core/internal/v1/ratelimit"
	"github.com/pairhub/signaling-core/internal/v1/restapi"
	"github.com/pairhub/signaling-core/internal/v1/roomstore"
	"github.com/pairhub/signaling-core/internal/v1/signaling"
	"github.com/pairhub/signaling-core/internal/v1/tenant"
	"github.com/pairhub/signaling-core/internal/v1/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// Not fatal: production deployments set real environment variables.
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	logger := logging.GetLogger()

	ctx := context.Background()
	if collector := os.Getenv("OTEL_COLLECTOR_ADDR"); collector != "" {
		tp, err := tracing.InitTracer(ctx, "signaling-core", collector)
		if err != nil {
			logger.Warn("failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed at startup, continuing in degraded mode", zap.Error(err))
		}
	}

	tenantStore := tenant.Store(tenant.NewMemoryStore(func() string { return "app_" + uuid.New().String() }))
	roomStore := roomstore.Store(roomstore.NewMemoryStore(func() string { return "room_" + uuid.New().String() }))
	if redisClient != nil {
		tenantStore = tenant.NewCachedStore(tenantStore, redisClient, 30*time.Second)
		roomStore = roomstore.NewCachedStore(roomStore, redisClient, 30*time.Second)
	}

	issuer := grant.NewIssuer([]byte(cfg.SigningSecret), roomStore)
	registry := presence.New()

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logger.Fatal("failed to initialize rate limiter", zap.Error(err))
	}
	healthHandler := health.NewHandler(redisClient)
	apiHandler := restapi.NewHandler(tenantStore, roomStore, issuer, cfg.DefaultGrantTTL)

	apiRouter := buildAPIRouter(cfg, apiHandler, healthHandler, rateLimiter, tenantStore)
	signalingRouter := buildSignalingRouter(registry, issuer, cfg.AllowedOrigins)

	apiServer := &http.Server{Addr: ":" + cfg.APIPort, Handler: apiRouter}
	signalingServer := &http.Server{Addr: ":" + cfg.SignalingPort, Handler: signalingRouter}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("access plane API listening", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		logger.Info("signaling plane listening", zap.String("port", cfg.SignalingPort))
		if err := signalingServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("signaling server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var shutdownWg sync.WaitGroup
	shutdownWg.Add(2)
	go func() {
		defer shutdownWg.Done()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server forced shutdown", zap.Error(err))
		}
	}()
	go func() {
		defer shutdownWg.Done()
		if err := signalingServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("signaling server forced shutdown", zap.Error(err))
		}
	}()
	shutdownWg.Wait()
	wg.Wait()

	logger.Info("shutdown complete")
}

func buildAPIRouter(cfg *config.Config, apiHandler *restapi.Handler, healthHandler *health.Handler, rateLimiter *ratelimit.RateLimiter, tenantStore tenant.Store) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("signaling-core-api"))

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = splitCSV(cfg.AllowedOrigins)
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-App-Id", "X-App-Secret", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	router.Use(rateLimiter.GlobalMiddleware())

	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiHandler.RegisterRoutes(router.Group("/"),
		restapi.TenantAuth(tenantStore),
		rateLimiter.RoomsMiddleware(),
		rateLimiter.GrantsMiddleware(),
	)

	return router
}

func buildSignalingRouter(registry *presence.Registry, issuer *grant.Issuer, allowedOrigins string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	server := signaling.NewServer(registry, issuer, allowedOrigins)
	router.GET("/ws", server.ServeWS)
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})

	return router
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
