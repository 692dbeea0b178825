package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "churn"

var (
	TrackedObjects = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_objects",
		Help:      "Number of objects tracked per worker",
	}, []string{"worker"})

	BackoffEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backoff_escalations_total",
		Help:      "Number of times a worker entered consecutive-failure backoff",
	})

	EvictedObjects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evicted_objects_total",
		Help:      "Number of tracked objects dropped under memory pressure",
	})
)

// Collector はBenchStatsをPrometheusのメトリクスとして公開する
type Collector struct {
	stats *BenchStats

	submitted *prometheus.Desc
	succeeded *prometheus.Desc
	failed    *prometheus.Desc
	created   *prometheus.Desc
	updated   *prometheus.Desc
}

// NewCollector は新しいコレクタを作成する
func NewCollector(stats *BenchStats) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		stats:     stats,
		submitted: desc("submissions_total", "Submissions attempted"),
		succeeded: desc("submissions_succeeded_total", "Submissions accepted by the ledger"),
		failed:    desc("submissions_failed_total", "Submissions rejected or errored"),
		created:   desc("objects_created_total", "Objects created by successful submissions"),
		updated:   desc("objects_updated_total", "Tracked objects advanced by successful submissions"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.submitted
	ch <- c.succeeded
	ch <- c.failed
	ch <- c.created
	ch <- c.updated
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(s.Submitted))
	ch <- prometheus.MustNewConstMetric(c.succeeded, prometheus.CounterValue, float64(s.Succeeded))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.Failed))
	ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(s.Created))
	ch <- prometheus.MustNewConstMetric(c.updated, prometheus.CounterValue, float64(s.Updated))
}
