// metrics.go — Prometheus метрики Site Host.
// HTTP-метрики собираются middleware; бизнес-метрики (sh_uploads_total,
// sh_records и др.) экспортируются и обновляются из сервисного слоя.
// Метрики фоновых задач регистрируются в пакете service.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sh_http_requests_total",
			Help: "Общее количество HTTP-запросов к Site Host",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sh_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Site Host в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Бизнес-метрики
var (
	// UploadsTotal — загрузки по операции, типу и результату.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sh_uploads_total",
			Help: "Количество загрузок контента",
		},
		[]string{"operation", "kind", "result"},
	)

	// RecordsTotal — количество записей по состоянию (gauge).
	RecordsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sh_records",
			Help: "Текущее количество записей по состоянию",
		},
		[]string{"state"},
	)

	// StorageBytes — суммарный объём размещённого контента.
	StorageBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sh_storage_bytes",
			Help: "Суммарный объём размещённого контента в байтах",
		},
	)

	// ViewsTotal — запросы просмотра по результату.
	ViewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sh_views_total",
			Help: "Количество запросов просмотра контента",
		},
		[]string{"result"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Лейбл route — шаблон маршрута chi, а не фактический путь,
// поэтому slug не раздувает кардинальность.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newStatusWriter(w)
			next.ServeHTTP(wrapped, r)

			route := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter — обёртка для перехвата статус-кода.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *statusWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
