package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_webhooks_total",
			Help: "Inbound webhooks by source and terminal status",
		},
		[]string{"source", "status"},
	)

	paymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_payments_recorded_total",
			Help: "Payments passed to the writer by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	resolverResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_resolver_results_total",
			Help: "Contact resolver results by match method and status",
		},
		[]string{"method", "status"},
	)

	capiEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_capi_events_total",
			Help: "Conversions API events by name and result",
		},
		[]string{"event", "result"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordWebhook counts one inbound webhook.
func RecordWebhook(source, status string) {
	webhooksTotal.WithLabelValues(source, status).Inc()
}

// RecordPayment counts one writer outcome: linked, orphan, duplicate or error.
func RecordPayment(source, outcome string) {
	paymentsRecorded.WithLabelValues(source, outcome).Inc()
}

// RecordResolve counts one resolver result.
func RecordResolve(method, status string) {
	resolverResults.WithLabelValues(method, status).Inc()
}

// RecordCAPI counts one Conversions API enqueue or send.
func RecordCAPI(event, result string) {
	capiEvents.WithLabelValues(event, result).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware observes request latency labelled by the chi route pattern,
// which keeps tenant slugs out of label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}
