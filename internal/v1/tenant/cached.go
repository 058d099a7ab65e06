package tenant

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pairhub/signaling-core/internal/v1/apierr"
	"github.com/pairhub/signaling-core/internal/v1/logging"
	"github.com/pairhub/signaling-core/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CachedStore wraps any Store with a Redis-backed lookup cache and a circuit
// breaker around the backing store's calls, so a slow or failing durable
// tenant store degrades to circuit-open instead of cascading latency into
// the hot grant-issuance and WS-admission paths.
type CachedStore struct {
	backing Store
	redis   *redis.Client
	cb      *gobreaker.CircuitBreaker
	ttl     time.Duration
}

// NewCachedStore wraps backing with a Redis cache. redisClient may be nil,
// in which case caching is skipped and only the circuit breaker applies.
func NewCachedStore(backing Store, redisClient *redis.Client, ttl time.Duration) *CachedStore {
	st := gobreaker.Settings{
		Name:        "tenant-store",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("tenant-store").Set(stateVal)
		},
	}

	return &CachedStore{
		backing: backing,
		redis:   redisClient,
		cb:      gobreaker.NewCircuitBreaker(st),
		ttl:     ttl,
	}
}

func cacheKey(tenantID string) string { return "tenant:" + tenantID }

func (c *CachedStore) Lookup(ctx context.Context, tenantID string) (Tenant, error) {
	if t, ok := c.readCache(ctx, tenantID); ok {
		return t, nil
	}

	result, err := c.cb.Execute(func() (any, error) {
		return c.backing.Lookup(ctx, tenantID)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("tenant-store").Inc()
			return Tenant{}, apierr.New(apierr.KindInternal, apierr.CodeInternal, "tenant store unavailable")
		}
		return Tenant{}, err
	}

	t := result.(Tenant)
	c.writeCache(ctx, t)
	return t, nil
}

func (c *CachedStore) VerifySecret(ctx context.Context, tenantID, presentedSecret string) (Tenant, error) {
	// Secret verification always goes to the backing store: the cache only
	// accelerates lookups that don't involve comparing a bearer credential.
	result, err := c.cb.Execute(func() (any, error) {
		return c.backing.VerifySecret(ctx, tenantID, presentedSecret)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("tenant-store").Inc()
			return Tenant{}, apierr.New(apierr.KindInternal, apierr.CodeInternal, "tenant store unavailable")
		}
		return Tenant{}, err
	}

	t := result.(Tenant)
	c.writeCache(ctx, t)
	return t, nil
}

func (c *CachedStore) Create(ctx context.Context, name string) (Tenant, error) {
	t, err := c.backing.Create(ctx, name)
	if err != nil {
		return Tenant{}, err
	}
	c.writeCache(ctx, t)
	return t, nil
}

func (c *CachedStore) List(ctx context.Context) ([]Tenant, error) {
	return c.backing.List(ctx)
}

func (c *CachedStore) readCache(ctx context.Context, tenantID string) (Tenant, bool) {
	if c.redis == nil {
		return Tenant{}, false
	}

	start := time.Now()
	data, err := c.redis.Get(ctx, cacheKey(tenantID)).Bytes()
	metrics.RedisOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err != nil {
		if err != redis.Nil {
			logging.Warn(ctx, "tenant cache read failed", zap.Error(err))
			metrics.RedisOperations.WithLabelValues("get", "error").Inc()
		} else {
			metrics.RedisOperations.WithLabelValues("get", "miss").Inc()
		}
		return Tenant{}, false
	}

	var t Tenant
	if err := json.Unmarshal(data, &t); err != nil {
		metrics.RedisOperations.WithLabelValues("get", "error").Inc()
		return Tenant{}, false
	}

	metrics.RedisOperations.WithLabelValues("get", "hit").Inc()
	return t, true
}

func (c *CachedStore) writeCache(ctx context.Context, t Tenant) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(t)
	if err != nil {
		return
	}

	start := time.Now()
	err = c.redis.Set(ctx, cacheKey(t.ID), data, c.ttl).Err()
	metrics.RedisOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())
	if err != nil {
		logging.Warn(ctx, "tenant cache write failed", zap.Error(err))
		metrics.RedisOperations.WithLabelValues("set", "error").Inc()
		return
	}
	metrics.RedisOperations.WithLabelValues("set", "success").Inc()
}
