// Package ratelimit implements rate limiting logic using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pairhub/signaling-core/internal/v1/config"
	"github.com/pairhub/signaling-core/internal/v1/logging"
	"github.com/pairhub/signaling-core/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the three rate limiting tiers used by the REST surface.
//
//   - apiGlobal: per-IP ceiling applied to every request.
//   - apiRooms: per-tenant ceiling applied to room creation/listing.
//   - apiGrants: per-tenant ceiling applied to grant issuance, the most
//     sensitive endpoint since a grant is a bearer credential.
type RateLimiter struct {
	apiGlobal   *limiter.Limiter
	apiRooms    *limiter.Limiter
	apiGrants   *limiter.Limiter
	store       limiter.Store
	redisClient *redis.Client
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	globalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}

	roomsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIRooms)
	if err != nil {
		return nil, fmt.Errorf("invalid API rooms rate: %w", err)
	}

	grantsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGrants)
	if err != nil {
		return nil, fmt.Errorf("invalid API grants rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (Redis disabled)")
	}

	return &RateLimiter{
		apiGlobal:   limiter.New(store, globalRate),
		apiRooms:    limiter.New(store, roomsRate),
		apiGrants:   limiter.New(store, grantsRate),
		store:       store,
		redisClient: redisClient,
	}, nil
}

// tenantOrIP returns the tenant ID set by an earlier auth step, falling back
// to the client IP for endpoints reachable before a tenant is known.
func tenantOrIP(c *gin.Context) string {
	if tid, ok := c.Get("tenant_id"); ok {
		if s, ok := tid.(string); ok && s != "" {
			return "tenant:" + s
		}
	}
	return "ip:" + c.ClientIP()
}

func (rl *RateLimiter) apply(l *limiter.Limiter, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := tenantOrIP(c)
		ctx := c.Request.Context()

		lctx, err := l.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(endpoint).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		c.Next()
	}
}

// GlobalMiddleware enforces the per-IP ceiling applied to every request.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return rl.apply(rl.apiGlobal, "global")
}

// RoomsMiddleware enforces the per-tenant ceiling on room creation/listing.
func (rl *RateLimiter) RoomsMiddleware() gin.HandlerFunc {
	return rl.apply(rl.apiRooms, "rooms")
}

// GrantsMiddleware enforces the per-tenant ceiling on grant issuance.
func (rl *RateLimiter) GrantsMiddleware() gin.HandlerFunc {
	return rl.apply(rl.apiGrants, "grants")
}
