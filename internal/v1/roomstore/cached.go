package roomstore

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
// breaker, identical in shape to tenant.CachedStore: a slow or failing
// durable room store degrades to circuit-open rather than blocking the
// grant-issuance hot path.
type CachedStore struct {
	backing Store
	redis   *redis.Client
	cb      *gobreaker.CircuitBreaker
	ttl     time.Duration
}

func NewCachedStore(backing Store, redisClient *redis.Client, ttl time.Duration) *CachedStore {
	st := gobreaker.Settings{
		Name:        "room-store",
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
			metrics.CircuitBreakerState.WithLabelValues("room-store").Set(stateVal)
		},
	}

	return &CachedStore{
		backing: backing,
		redis:   redisClient,
		cb:      gobreaker.NewCircuitBreaker(st),
		ttl:     ttl,
	}
}

func cacheKey(roomID string) string { return "room:" + roomID }

func (c *CachedStore) Get(ctx context.Context, tenantID, roomID string) (Room, error) {
	if r, ok := c.readCache(ctx, roomID); ok && r.TenantID == tenantID {
		return r, nil
	}

	result, err := c.cb.Execute(func() (any, error) {
		return c.backing.Get(ctx, tenantID, roomID)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("room-store").Inc()
			return Room{}, apierr.New(apierr.KindInternal, apierr.CodeInternal, "room store unavailable")
		}
		return Room{}, err
	}

	r := result.(Room)
	c.writeCache(ctx, r)
	return r, nil
}

func (c *CachedStore) Create(ctx context.Context, tenantID, name string, maxParticipants int) (Room, error) {
	r, err := c.backing.Create(ctx, tenantID, name, maxParticipants)
	if err != nil {
		return Room{}, err
	}
	c.writeCache(ctx, r)
	return r, nil
}

func (c *CachedStore) List(ctx context.Context, tenantID string) ([]Room, error) {
	return c.backing.List(ctx, tenantID)
}

func (c *CachedStore) readCache(ctx context.Context, roomID string) (Room, bool) {
	if c.redis == nil {
		return Room{}, false
	}

	start := time.Now()
	data, err := c.redis.Get(ctx, cacheKey(roomID)).Bytes()
	metrics.RedisOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err != nil {
		if err != redis.Nil {
			logging.Warn(ctx, "room cache read failed", zap.Error(err))
			metrics.RedisOperations.WithLabelValues("get", "error").Inc()
		} else {
			metrics.RedisOperations.WithLabelValues("get", "miss").Inc()
		}
		return Room{}, false
	}

	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		metrics.RedisOperations.WithLabelValues("get", "error").Inc()
		return Room{}, false
	}

	metrics.RedisOperations.WithLabelValues("get", "hit").Inc()
	return r, true
}

func (c *CachedStore) writeCache(ctx context.Context, r Room) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(r)
	if err != nil {
		return
	}

	start := time.Now()
	err = c.redis.Set(ctx, cacheKey(r.ID), data, c.ttl).Err()
	metrics.RedisOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())
	if err != nil {
		logging.Warn(ctx, "room cache write failed", zap.Error(err))
		metrics.RedisOperations.WithLabelValues("set", "error").Inc()
		return
	}
	metrics.RedisOperations.WithLabelValues("set", "success").Inc()
}
