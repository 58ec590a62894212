package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "benji"

// Registry holds every collector exported at /metrics.
var Registry = prometheus.NewRegistry()

var (
	ScanCycles = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_cycles_total",
		Help:      "Completed scan cycles by result.",
	}, []string{"result"})

	ScanCycleDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_cycle_duration_seconds",
		Help:      "Wall time of one scan-score-signal-resolve cycle.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	})

	TickersSkipped = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tickers_skipped_total",
		Help:      "Tickers skipped during a cycle by reason.",
	}, []string{"reason"})

	SignalsOpened = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_opened_total",
		Help:      "Active signals opened by direction.",
	}, []string{"direction"})

	SignalsResolved = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_resolved_total",
		Help:      "Signals resolved into history by outcome.",
	}, []string{"outcome"})

	SentimentFallbacks = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sentiment_source_fallbacks_total",
		Help:      "Sentiment sub-source failures replaced by the source default.",
	}, []string{"source"})

	SentimentCacheHits = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sentiment_cache_hits_total",
		Help:      "Sentiment cache lookups by source and result.",
	}, []string{"source", "result"})

	Notifications = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification deliveries by transport and result.",
	}, []string{"transport", "result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
