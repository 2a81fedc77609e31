package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scholarchain_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scholarchain_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	blocksAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scholarchain_ledger_blocks_appended_total",
		Help: "Total ledger blocks appended by record type.",
	}, []string{"record_type"})

	chainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scholarchain_ledger_chain_height",
		Help: "Sequence number of the most recent block.",
	})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scholarchain_ledger_verifications_total",
		Help: "Total chain verifications by result (valid, invalid, error).",
	}, []string{"result"})

	verifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scholarchain_ledger_verify_duration_seconds",
		Help:    "Full chain verification duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})

	chainValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scholarchain_ledger_chain_valid",
		Help: "1 if the last verification found the chain intact, 0 otherwise.",
	})

	chainFindings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scholarchain_ledger_findings",
		Help: "Number of integrity findings reported by the last verification.",
	})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scholarchain_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records an appended block. It matches the chain's
// append hook signature.
func RecordLedgerAppend(b *ledger.Block) {
	blocksAppendedTotal.WithLabelValues(string(b.RecordType)).Inc()
	chainHeight.Set(float64(b.Sequence))
}

// RecordVerification records the outcome of a verification pass. A nil
// report means verification itself failed.
func RecordVerification(r *ledger.Report, took time.Duration) {
	verifyDuration.Observe(took.Seconds())
	switch {
	case r == nil:
		verificationsTotal.WithLabelValues("error").Inc()
		return
	case r.Valid:
		verificationsTotal.WithLabelValues("valid").Inc()
		chainValid.Set(1)
	default:
		verificationsTotal.WithLabelValues("invalid").Inc()
		chainValid.Set(0)
	}
	chainFindings.Set(float64(len(r.Findings)))
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
