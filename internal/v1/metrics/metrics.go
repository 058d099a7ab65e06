// Package metrics declares the Prometheus metrics for the signaling core.
//
// Naming convention: namespace_subsystem_name
//   - namespace: signaling (application-level grouping)
//   - subsystem: websocket, registry, grant, rate_limit, circuit_breaker, redis
//   - name: specific metric (connections_active, events_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of live signaling connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active signaling connections",
	})

	// ActiveRooms tracks the current number of non-empty rooms in the presence registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "registry",
		Name:      "rooms_active",
		Help:      "Current number of rooms with at least one member",
	})

	// RoomMembers tracks the member count of each active room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "registry",
		Name:      "room_members",
		Help:      "Current number of members in each room",
	}, []string{"room_id"})

	// FramesTotal is a counter of incoming signaling frames by type and
	// outcome. The signaling endpoint does not record to it.
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total signaling frames processed",
	}, []string{"frame_type", "outcome"})

	// FrameProcessingDuration is a histogram of the time spent routing one
	// incoming frame. The signaling endpoint does not record to it.
	FrameProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "frame_processing_seconds",
		Help:      "Time spent processing one signaling frame",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"frame_type"})

	// HeartbeatReaped counts connections terminated for failing to pong in time.
	HeartbeatReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "heartbeat_reaped_total",
		Help:      "Total connections terminated by the heartbeat reaper",
	})

	// GrantsIssued counts grants minted by the Grant Issuer.
	GrantsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "grant",
		Name:      "issued_total",
		Help:      "Total grants issued",
	}, []string{"tenant_id", "role"})

	// GrantVerifications counts grant verification outcomes.
	GrantVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "grant",
		Name:      "verifications_total",
		Help:      "Total grant verification attempts by outcome",
	}, []string{"outcome"})

	// CircuitBreakerState tracks circuit breaker state: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of a circuit breaker (0: closed, 1: open, 2: half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts requests short-circuited by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by an open circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded counts requests rejected by a rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded a rate limit",
	}, []string{"endpoint"})

	// RedisOperations counts calls against the Redis-backed cache/stores.
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// IncConnection records a new live signaling connection.
func IncConnection() { ActiveConnections.Inc() }

// DecConnection records the loss of a live signaling connection.
func DecConnection() { ActiveConnections.Dec() }
