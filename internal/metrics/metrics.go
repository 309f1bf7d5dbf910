// Package metrics holds the Prometheus collectors of the chat engine.
package metrics

import (
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalchat_cache_lookups_total",
			Help: "Cache reads by record kind and result (hit, miss, stale, error).",
		},
		[]string{"kind", "result"},
	)
	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalchat_store_errors_total",
			Help: "Persistent store operations that degraded to network-only.",
		},
		[]string{"op"},
	)
	remoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalchat_remote_requests_total",
			Help: "Remote API calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	remoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portalchat_remote_request_duration_seconds",
			Help:    "Remote API call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	attachmentFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalchat_attachment_fetches_total",
			Help: "Attachment lookups by source (cache, memory, network, error).",
		},
		[]string{"source"},
	)
	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalchat_poll_ticks_total",
			Help: "Poll ticks by outcome (appended, updated, unchanged, error, discarded).",
		},
		[]string{"outcome"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalchat_sends_total",
			Help: "Optimistic sends by outcome (confirmed, rolled_back).",
		},
		[]string{"outcome"},
	)
	sendsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portalchat_sends_in_flight",
			Help: "Optimistic messages awaiting confirmation.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalchat_mock_http_requests_total",
			Help: "Total number of HTTP requests processed by the mock server.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		cacheLookupsTotal,
		storeErrorsTotal,
		remoteRequestsTotal,
		remoteRequestDuration,
		attachmentFetchesTotal,
		pollTicksTotal,
		sendsTotal,
		sendsInFlight,
		httpRequestsTotal,
	)
}

func IncCacheLookup(kind, result string) {
	cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

func IncStoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}

// ObserveRemote records one remote call; err == nil counts as "ok".
func ObserveRemote(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	remoteRequestsTotal.WithLabelValues(op, outcome).Inc()
	remoteRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func IncAttachmentFetch(source string) {
	attachmentFetchesTotal.WithLabelValues(source).Inc()
}

func IncPollTick(outcome string) {
	pollTicksTotal.WithLabelValues(outcome).Inc()
}

func IncSend(outcome string) {
	sendsTotal.WithLabelValues(outcome).Inc()
}

func SetSendsInFlight(n int) {
	sendsInFlight.Set(float64(n))
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// WriteText dumps every metric family of the default registry in the
// Prometheus text exposition format.
func WriteText(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
