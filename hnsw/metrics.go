package hnsw

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is an optional, nil-safe collector for this package's hot
// paths: every method checks for a nil receiver before touching
// prometheus, so passing a nil *Metrics (the Config zero value) is
// always safe and adds no overhead beyond the check.
type Metrics struct {
	trainDuration  prometheus.Histogram
	searchDuration prometheus.Histogram
	searchesTotal  prometheus.Counter
	nodesVisited   prometheus.Histogram
}

// NewMetrics registers this package's collectors against reg and returns
// a Metrics ready to pass into Config.Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		trainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hnswpq",
			Name:      "train_duration_seconds",
			Help:      "Wall-clock duration of Train calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hnswpq",
			Name:      "search_duration_seconds",
			Help:      "Wall-clock duration of Search calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		searchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hnswpq",
			Name:      "searches_total",
			Help:      "Total number of Search calls completed.",
		}),
		nodesVisited: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hnswpq",
			Name:      "search_nodes_visited",
			Help:      "Number of distinct nodes visited per Search call.",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 20000},
		}),
	}
}

func (m *Metrics) startTrain() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() { m.trainDuration.Observe(time.Since(start).Seconds()) }
}

func (m *Metrics) observeSearch(d time.Duration, visited int) {
	if m == nil {
		return
	}
	m.searchDuration.Observe(d.Seconds())
	m.searchesTotal.Inc()
	m.nodesVisited.Observe(float64(visited))
}
