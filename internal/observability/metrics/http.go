package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics instruments the curator API. Paths are collapsed to route
// templates so document ids never become label values.
type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	responseSize *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	constLabels := prometheus.Labels{"service": service}

	return &HTTPServerMetrics{
		service:  service,
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "curator",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "API requests by route and status code.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "curator",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "API request latency by route.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 300},
		}, []string{"method", "route"}),
		responseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "curator",
			Subsystem:   "http",
			Name:        "response_size_bytes",
			Help:        "API response body size by route.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(64, 4, 7),
		}, []string{"route"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "curator",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "API requests currently being served.",
			ConstLabels: constLabels,
		}),
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeTemplate(r.URL.Path)
		recorder := &sizeRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.inFlight.Inc()
		defer m.inFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(recorder.statusCode)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.responseSize.WithLabelValues(route).Observe(float64(recorder.bytes))
	})
}

var documentActions = map[string]bool{
	"records":   true,
	"enqueue":   true,
	"approve":   true,
	"reprocess": true,
}

// routeTemplate maps a request path onto the API's route set; anything
// outside it is reported as "other".
func routeTemplate(path string) string {
	path = strings.TrimSuffix(path, "/")
	switch path {
	case "/healthz", "/metrics", "/mcp",
		"/v1/documents", "/v1/documents/enqueue-pending",
		"/v1/reconcile/versions", "/v1/reconcile/expirations":
		return path
	}
	rest, ok := strings.CutPrefix(path, "/v1/documents/")
	if !ok || rest == "" {
		return "other"
	}
	id, action, hasAction := strings.Cut(rest, "/")
	switch {
	case id == "":
		return "other"
	case !hasAction:
		return "/v1/documents/{id}"
	case documentActions[action]:
		return "/v1/documents/{id}/" + action
	default:
		return "other"
	}
}

type sizeRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (w *sizeRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *sizeRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *sizeRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *sizeRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
