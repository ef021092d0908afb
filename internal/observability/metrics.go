package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Permission check outcomes used as metric labels.
const (
	CheckGranted  = "granted"
	CheckDenied   = "denied"
	CheckInvalid  = "invalid"
	CheckBypassed = "bypassed"
)

// Metrics collects Prometheus metrics for the application. All methods are
// safe on a nil receiver.
type Metrics struct {
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	permissionChecks      *prometheus.CounterVec
	permissionRefreshes   *prometheus.CounterVec
	permissionRefreshTime *prometheus.HistogramVec
	snapshotVersion       prometheus.Gauge
	snapshotUsers         prometheus.Gauge
	snapshotGrants        prometheus.Gauge
	snapshotLoadedAt      prometheus.Gauge
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_permission_checks_total",
		Help: "Permission checks by outcome.",
	}, []string{"outcome"})
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_permission_refresh_total",
		Help: "Permission snapshot refresh attempts by trigger and result.",
	}, []string{"trigger", "result"})
	refreshTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_permission_refresh_duration_seconds",
		Help:    "Time spent loading a permission snapshot.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})
	version := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backoffice_permission_snapshot_version",
		Help: "Version of the permission snapshot being served.",
	})
	users := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backoffice_permission_snapshot_users",
		Help: "Users with at least one role in the current snapshot.",
	})
	grants := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backoffice_permission_snapshot_grants",
		Help: "Grant rows in the current snapshot.",
	})
	loadedAt := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backoffice_permission_snapshot_loaded_timestamp_seconds",
		Help: "Unix time the current snapshot was loaded.",
	})
	registry.MustRegister(requests, duration, checks, refreshes, refreshTime, version, users, grants, loadedAt)
	return &Metrics{
		handler:               promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:         requests,
		requestDuration:       duration,
		permissionChecks:      checks,
		permissionRefreshes:   refreshes,
		permissionRefreshTime: refreshTime,
		snapshotVersion:       version,
		snapshotUsers:         users,
		snapshotGrants:        grants,
		snapshotLoadedAt:      loadedAt,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// IncPermissionCheck counts a permission check outcome.
func (m *Metrics) IncPermissionCheck(outcome string) {
	if m == nil {
		return
	}
	m.permissionChecks.WithLabelValues(outcome).Inc()
}

// ObservePermissionRefresh records a snapshot refresh attempt.
func (m *Metrics) ObservePermissionRefresh(trigger string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.permissionRefreshes.WithLabelValues(trigger, result).Inc()
	m.permissionRefreshTime.WithLabelValues(trigger).Observe(elapsed.Seconds())
}

// SetPermissionSnapshot publishes the shape of the snapshot being served.
func (m *Metrics) SetPermissionSnapshot(version uint64, users, grants int) {
	if m == nil {
		return
	}
	m.snapshotVersion.Set(float64(version))
	m.snapshotUsers.Set(float64(users))
	m.snapshotGrants.Set(float64(grants))
	m.snapshotLoadedAt.SetToCurrentTime()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
