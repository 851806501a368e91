// Package metrics defines Prometheus metrics for the filepicker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RemoteRequests counts outbound requests to the remote host by
	// operation and outcome.
	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ncfp_remote_requests_total",
		Help: "Total requests issued to the remote host",
	}, []string{"operation", "outcome"})

	// RemoteRequestDuration observes latency of remote operations.
	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ncfp_remote_request_duration_seconds",
		Help:    "Duration of remote host requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// ListingsServed counts directory listings returned to callers.
	ListingsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ncfp_listings_served_total",
		Help: "Total directory listings served",
	})

	// ListingEntries observes the number of entries per listing.
	ListingEntries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ncfp_listing_entries",
		Help:    "Entries returned per directory listing",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	// LinksCreated counts public share links created on the remote.
	LinksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ncfp_links_created_total",
		Help: "Total public share links created",
	})

	// LinksReused counts selections satisfied by an existing share link.
	LinksReused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ncfp_links_reused_total",
		Help: "Total selections that reused an existing share link",
	})

	// SelectionsDeclined counts selections aborted by the confirmation hook.
	SelectionsDeclined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ncfp_selections_declined_total",
		Help: "Total selections declined at the confirmation step",
	})

	// SessionsRejected counts browse calls rejected because a session
	// was already active.
	SessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ncfp_sessions_rejected_total",
		Help: "Total browse requests rejected due to an active session",
	})

	// PathMapEntries tracks the number of path to URL correspondences held.
	PathMapEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ncfp_pathmap_entries",
		Help: "Current number of path to URL correspondences",
	})

	// PreviewsGenerated counts preview images fetched and rendered.
	PreviewsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ncfp_previews_generated_total",
		Help: "Total previews generated by outcome",
	}, []string{"outcome"})

	// UploadBytes counts bytes uploaded to the remote host.
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ncfp_upload_bytes_total",
		Help: "Total bytes uploaded to the remote host",
	})

	// NotificationsPublished counts user notifications by level.
	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ncfp_notifications_published_total",
		Help: "Total user notifications published",
	}, []string{"level"})

	// ExportBytes counts bytes exported to local or object storage.
	ExportBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ncfp_export_bytes_total",
		Help: "Total bytes exported by backend",
	}, []string{"backend"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ncfp_http_requests_total",
		Help: "Total HTTP requests served by the bridge",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ncfp_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request counts and latency for every served
// request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
