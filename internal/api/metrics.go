package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Authorize outcomes recorded by the authorize counter.
const (
	outcomeOK       = "ok"
	outcomeInvalid  = "invalid"
	outcomeRejected = "rejected"
	outcomeUpstream = "upstream_error"
	outcomeNoSigner = "no_signer"
)

// metrics holds the backend collectors. Each Server owns its registry so several
// servers can live in one process.
type metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	authorizeTotal    *prometheus.CounterVec
	signDuration      prometheus.Histogram
	signerReloadTotal prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alien_sso",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the backend.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "alien_sso",
			Name:      "http_request_duration_seconds",
			Help:      "Latency of backend HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		authorizeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alien_sso",
			Name:      "authorize_requests_total",
			Help:      "Signed authorize requests by outcome.",
		}, []string{"outcome"}),
		signDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alien_sso",
			Name:      "authorize_duration_seconds",
			Help:      "Time spent signing and forwarding an authorize request.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		signerReloadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alien_sso",
			Name:      "signer_reloads_total",
			Help:      "Signer replacements applied after a config reload.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.authorizeTotal,
		m.signDuration,
		m.signerReloadTotal,
	)
	return m
}

// middleware records request counts and latency per route template.
func (m *metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
