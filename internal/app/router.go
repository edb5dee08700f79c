package app

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-pricing/internal/observability"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/httpx"
	pricinghttp "github.com/odyssey-erp/odyssey-pricing/internal/pricing/http"
	"github.com/odyssey-erp/odyssey-pricing/jobs"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	PricingHandler *pricinghttp.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
	Checks         map[string]HealthCheck
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Logger, params.Checks))
	if params.PricingHandler != nil {
		params.PricingHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(logger *slog.Logger, checks map[string]HealthCheck) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for _, name := range names {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(names))
			}
			if err := checks[name](ctx); err != nil {
				logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httpx.JSON(w, status, resp)
	}
}
