// metrics.go — Prometheus HTTP метрики реестра:
// cr_http_requests_total, cr_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cr_http_requests_total",
			Help: "Общее количество HTTP-запросов к реестру",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cr_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к реестру в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// unmatchedPath — метка для запросов, не совпавших ни с одним маршрутом.
const unmatchedPath = "unmatched"

// MetricsMiddleware собирает количество и длительность запросов.
// Должен подключаться через chi Router.Use: метка path — шаблон маршрута.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			path := normalizePath(r)
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath возвращает шаблон маршрута chi вместо фактического пути,
// чтобы CID и идентификаторы не раздували кардинальность метрик.
// /api/v1/files/QmXyz/grants → /api/v1/files/{cid}/grants
func normalizePath(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedPath
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedPath
}

// routeParam возвращает параметр пути chi без декодирования.
func routeParam(r *http.Request, name string) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.URLParam(name)
}
