package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/estate-admin/backoffice/internal/observability"
	"github.com/estate-admin/backoffice/internal/platform/httpx"
	"github.com/estate-admin/backoffice/internal/rbac"
)

// SnapshotReporter exposes the permission cache state to /healthz.
type SnapshotReporter interface {
	Snapshot() *rbac.Snapshot
	Status() *rbac.RefreshStatus
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	PermissionsHandler *rbac.Handler
	Snapshots          SnapshotReporter
	Metrics            *observability.Metrics
}

type healthResponse struct {
	Status          string     `json:"status"`
	SnapshotVersion uint64     `json:"snapshotVersion"`
	LoadedAt        *time.Time `json:"loadedAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, health(params.Snapshots))
	})

	if params.PermissionsHandler != nil {
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// health reports "degraded" while the latest refresh failed; the service
// keeps answering from the last good snapshot.
func health(reporter SnapshotReporter) healthResponse {
	resp := healthResponse{Status: "ok"}
	if reporter == nil {
		return resp
	}
	if snap := reporter.Snapshot(); snap != nil {
		resp.SnapshotVersion = snap.Version
		if !snap.LoadedAt.IsZero() {
			loaded := snap.LoadedAt.UTC()
			resp.LoadedAt = &loaded
		}
	}
	if status := reporter.Status(); status != nil && !status.Succeeded {
		resp.Status = "degraded"
		if status.Err != nil {
			resp.LastError = status.Err.Error()
		}
	}
	return resp
}
