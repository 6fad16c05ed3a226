package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/config"
)

// Pinger is a dependency whose reachability the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Gauge reports a point-in-time count such as open rooms or live calls.
type Gauge func() int

type HealthHandler struct {
	deps   map[string]Pinger
	gauges map[string]Gauge
}

func NewHealthHandler(deps map[string]Pinger, gauges map[string]Gauge) *HealthHandler {
	return &HealthHandler{deps: deps, gauges: gauges}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":    "ok",
		"checks":    checks,
		"timestamp": time.Now().UnixMilli(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	for name, gauge := range h.gauges {
		body[name] = gauge()
	}
	writeJSON(w, status, body)
}
