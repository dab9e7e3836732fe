package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"paycore/pkg/logger"
)

// Pinger is satisfied by the repository store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type SystemHandler struct {
	responder
	store       Pinger
	redisClient *redis.Client
	startTime   time.Time
}

// NewSystemHandler builds the health endpoints; redisClient may be nil when
// the service runs with the in-process cache.
func NewSystemHandler(store Pinger, redisClient *redis.Client, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		responder:   responder{logger: log},
		store:       store,
		redisClient: redisClient,
		startTime:   time.Now(),
	}
}

type ComponentStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // operational, degraded, outage
	LatencyMs int64  `json:"latencyMs"`
}

type StatusResponse struct {
	Status     string            `json:"status"`
	Uptime     string            `json:"uptime"`
	Components []ComponentStatus `json:"components"`
}

// Health is the liveness probe.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports each dependency and answers 503 while any is down.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := []ComponentStatus{h.check(ctx, "database", 200*time.Millisecond, h.store.Ping)}
	if h.redisClient != nil {
		components = append(components, h.check(ctx, "redis", 50*time.Millisecond, func(ctx context.Context) error {
			return h.redisClient.Ping(ctx).Err()
		}))
	}

	resp := StatusResponse{
		Status:     "operational",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Components: components,
	}
	status := http.StatusOK
	for _, c := range components {
		if c.Status == "outage" {
			resp.Status = "outage"
			status = http.StatusServiceUnavailable
			break
		}
		if c.Status == "degraded" {
			resp.Status = "degraded"
		}
	}
	h.respondJSON(w, status, resp)
}

func (h *SystemHandler) check(ctx context.Context, name string, slow time.Duration, ping func(context.Context) error) ComponentStatus {
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)

	c := ComponentStatus{Name: name, Status: "operational", LatencyMs: latency.Milliseconds()}
	switch {
	case err != nil:
		c.Status = "outage"
		h.logger.Error("Dependency ping failed", map[string]interface{}{"component": name, "error": err.Error()})
	case latency > slow:
		c.Status = "degraded"
	}
	return c
}
