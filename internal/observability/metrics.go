package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate decision labels.
const (
	GateAllow                = "allow"
	GateRedirectAuth         = "redirect_auth"
	GateRedirectSubscription = "redirect_subscription"
	GateRedirectHome         = "redirect_home"
	GateFailOpen             = "fail_open"
)

// Webhook outcome labels.
const (
	WebhookIgnored          = "ignored"
	WebhookInvalidSignature = "invalid_signature"
	WebhookFetchFailed      = "fetch_failed"
	WebhookNotApproved      = "not_approved"
	WebhookConfirmed        = "confirmed"
	WebhookDuplicate        = "duplicate"
	WebhookStoreFailed      = "store_failed"
)

// Metrics holds the Prometheus collectors for the HTTP server.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gateDecisions   *prometheus.CounterVec
	webhookOutcomes *prometheus.CounterVec
}

// NewMetrics constructs a registry with HTTP, gate and webhook collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harmoni",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"route", "code"})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harmoni",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latencies in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
	gateDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harmoni",
		Name:      "gate_decisions_total",
		Help:      "Edge access gate decisions by outcome.",
	}, []string{"decision"})
	webhookOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harmoni",
		Name:      "webhook_notifications_total",
		Help:      "Payment notifications by outcome.",
	}, []string{"outcome"})

	registry.MustRegister(requestsTotal, requestDuration, gateDecisions, webhookOutcomes)
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
		gateDecisions:   gateDecisions,
		webhookOutcomes: webhookOutcomes,
	}
}

// Handler exposes the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Middleware records request counts and durations per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveGate counts one edge gate decision.
func (m *Metrics) ObserveGate(decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
}

// ObserveWebhook counts one payment notification outcome.
func (m *Metrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(outcome).Inc()
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
