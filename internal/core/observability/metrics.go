// Package observability defines the Prometheus metrics emitted by the gateway.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by outcome and request class.",
		},
		[]string{"outcome", "class"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of cache store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "status"},
	)

	strategyServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategy_served_total",
			Help: "Responses served by strategy and source (cache, network, offline_page).",
		},
		[]string{"strategy", "source"},
	)

	batchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_flushes_total",
			Help: "Batch flushes by network tier.",
		},
		[]string{"tier"},
	)

	batchSizeObserved = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_size",
			Help:    "Number of requests taken into a batch.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		},
	)

	batchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_retries_total",
			Help: "Batched requests re-enqueued after a failure.",
		},
	)

	batchDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_drops_total",
			Help: "Batched requests dropped after exhausting attempts.",
		},
	)

	syncQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Offline sync queue depth by status.",
		},
		[]string{"status"},
	)

	syncResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_results_total",
			Help: "Offline sync item outcomes.",
		},
		[]string{"outcome"},
	)

	probeRTTSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netquality_rtt_seconds",
			Help: "Smoothed round-trip time of the network quality probe.",
		},
	)

	probeDownlinkMbps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netquality_downlink_mbps",
			Help: "Estimated downlink bandwidth in Mbit/s.",
		},
	)

	netTier = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netquality_tier",
			Help: "Current network quality tier (value 1 on the active tier).",
		},
		[]string{"tier"},
	)

	preloadResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preload_results_total",
			Help: "Preload candidate warm-up outcomes by candidate type.",
		},
		[]string{"type", "outcome"},
	)

	invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidations_total",
			Help: "Cache invalidation events processed.",
		},
		[]string{"op", "status"},
	)

	kafkaConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka invalidation consumer errors by kind.",
		},
		[]string{"kind"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cacheOpDurationSeconds.WithLabelValues(op, status).Observe(durationSeconds)
}

func IncCacheHit(class string) {
	cacheResults.WithLabelValues("hit", class).Inc()
}

func IncCacheMiss(class string) {
	cacheResults.WithLabelValues("miss", class).Inc()
}

func IncStrategyServed(strategy, source string) {
	strategyServed.WithLabelValues(strategy, source).Inc()
}

func ObserveBatchFlush(tier string, size int) {
	batchFlushes.WithLabelValues(tier).Inc()
	batchSizeObserved.Observe(float64(size))
}

func IncBatchRetry() { batchRetries.Inc() }
func IncBatchDrop()  { batchDrops.Inc() }

func SetSyncQueueDepth(status string, n int) {
	syncQueueDepth.WithLabelValues(status).Set(float64(n))
}

func IncSyncResult(outcome string) {
	syncResults.WithLabelValues(outcome).Inc()
}

func ObserveProbe(rttSeconds, downlinkMbps float64) {
	probeRTTSeconds.Set(rttSeconds)
	probeDownlinkMbps.Set(downlinkMbps)
}

func SetNetTier(active string, all []string) {
	for _, t := range all {
		v := 0.0
		if t == active {
			v = 1.0
		}
		netTier.WithLabelValues(t).Set(v)
	}
}

func IncPreloadResult(candidateType, outcome string) {
	preloadResults.WithLabelValues(candidateType, outcome).Inc()
}

func ObserveInvalidation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	invalidations.WithLabelValues(op, status).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
