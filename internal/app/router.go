package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/billing/documents"
	"github.com/meridian-erp/meridian-erp/internal/billing/offers"
	"github.com/meridian-erp/meridian-erp/internal/billing/openitems"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	OffersHandler    *offers.Handler
	DocumentsHandler *documents.Handler
	OpenItemsHandler *openitems.Handler
	Pool             *pgxpool.Pool
	Redis            *redis.Client
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		type check struct {
			Status string `json:"status"`
			DB     string `json:"db"`
			Queue  string `json:"queue"`
		}
		out := check{Status: "ok", DB: "ok", Queue: "ok"}
		status := http.StatusOK
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				out.Status, out.DB = "degraded", err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if params.Redis != nil {
			if err := params.Redis.Ping(r.Context()).Err(); err != nil {
				out.Status, out.Queue = "degraded", err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		httpx.JSON(w, status, out)
	})

	if params.OffersHandler != nil {
		r.Route("/offers", params.OffersHandler.MountRoutes)
	}
	if params.DocumentsHandler != nil {
		r.Route("/documents", params.DocumentsHandler.MountRoutes)
	}
	if params.OpenItemsHandler != nil {
		r.Route("/open-items", params.OpenItemsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	return r
}
