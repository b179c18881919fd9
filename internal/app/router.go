package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/groupspend/groupspend/internal/allocation"
	"github.com/groupspend/groupspend/internal/auth"
	"github.com/groupspend/groupspend/internal/balances"
	"github.com/groupspend/groupspend/internal/groups"
	"github.com/groupspend/groupspend/internal/observability"
	"github.com/groupspend/groupspend/internal/platform/httpx"
	"github.com/groupspend/groupspend/internal/receipts"
	"github.com/groupspend/groupspend/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Verifier *auth.Verifier
	Metrics  *observability.Metrics

	GroupsHandler     *groups.Handler
	ReceiptsHandler   *receipts.Handler
	AllocationHandler *allocation.Handler
	BalancesHandler   *balances.Handler
	JobHandler        *jobs.Handler

	// Ready reports backend reachability for /readyz. Nil means always ready.
	Ready func(context.Context) error
}

// NewRouter constructs the chi.Router with groupspend defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				params.Logger.WarnContext(r.Context(), "readiness check failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "storage is not reachable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(params.Verifier, params.Logger))
		if params.GroupsHandler != nil {
			params.GroupsHandler.MountRoutes(r)
		}
		if params.ReceiptsHandler != nil {
			params.ReceiptsHandler.MountRoutes(r)
		}
		if params.AllocationHandler != nil {
			params.AllocationHandler.MountRoutes(r)
		}
		if params.BalancesHandler != nil {
			params.BalancesHandler.MountRoutes(r)
		}
	})

	return r
}
