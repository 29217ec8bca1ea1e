package metrics

import (
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    runsTotal = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "lumen",
            Name:      "pipeline_runs_total",
            Help:      "Pipeline runs by outcome (completed, failed, skipped)",
        },
        []string{"result"},
    )

    stageLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "lumen",
            Name:      "stage_duration_seconds",
            Help:      "Duration of pipeline stages",
            Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
        },
        []string{"stage"},
    )

    extractionMethod = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "lumen",
            Name:      "extraction_method_total",
            Help:      "Raw text source by method (direct, ocr)",
        },
        []string{"method"},
    )

    formatterReqs = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "lumen",
            Name:      "formatter_requests_total",
            Help:      "Formatting backend requests by provider, model and result",
        },
        []string{"provider", "model", "result"},
    )

    formatterLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "lumen",
            Name:      "formatter_request_duration_seconds",
            Help:      "Duration of formatting backend requests by provider and model",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"provider", "model"},
    )

    cleanupFailures = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "lumen",
            Name:      "raster_cleanup_failures_total",
            Help:      "Temporary raster files that could not be deleted",
        },
    )

    queueDepth = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "lumen",
            Name:      "queue_depth",
            Help:      "Length of the document stream",
        },
    )

    registerOnce sync.Once
)

// Init registers collectors on the default registry.
func Init() {
    registerOnce.Do(func() {
        prometheus.MustRegister(runsTotal, stageLatency, extractionMethod, formatterReqs, formatterLatency, cleanupFailures, queueDepth)
    })
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncRun(result string)                     { runsTotal.WithLabelValues(result).Inc() }
func ObserveStage(stage string, d time.Duration) { stageLatency.WithLabelValues(stage).Observe(d.Seconds()) }
func IncExtraction(method string)              { extractionMethod.WithLabelValues(method).Inc() }
func AddCleanupFailures(n int)                 { cleanupFailures.Add(float64(n)) }
func SetQueueDepth(v int64)                    { queueDepth.Set(float64(v)) }

func ObserveFormatter(provider, model, result string, dur time.Duration) {
    formatterReqs.WithLabelValues(provider, model, result).Inc()
    formatterLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}
