package metrics

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poddigest/poddigest/internal/models"
)

// QueueStatsProvider exposes the live job counts the collector reads at
// scrape time. The jobs service satisfies it.
type QueueStatsProvider interface {
	QueueStats(ctx context.Context) (map[models.JobQueue]map[models.JobStatus]int64, error)
}

// Collector implements prometheus.Collector, reading queue depth from the
// database on every scrape instead of tracking it incrementally.
type Collector struct {
	jobs QueueStatsProvider

	queueDepth *prometheus.Desc
}

// NewCollector creates a collector over the job queues. jobs may be nil,
// in which case every queue reports depth 0.
func NewCollector(jobs QueueStatsProvider) *Collector {
	return &Collector{
		jobs: jobs,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Jobs waiting or in flight per queue, retryable failures included.",
			[]string{"queue"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	depths := make(map[models.JobQueue]int64)

	if c.jobs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		stats, err := c.jobs.QueueStats(ctx)
		if err != nil {
			log.Printf("[WARN] Queue depth scrape failed: %v", err)
		} else {
			for queue, byStatus := range stats {
				depths[queue] = byStatus[models.JobStatusPending] +
					byStatus[models.JobStatusProcessing] +
					byStatus[models.JobStatusFailed]
			}
		}
	}

	for _, queue := range models.AllQueues {
		ch <- prometheus.MustNewConstMetric(
			c.queueDepth, prometheus.GaugeValue, float64(depths[queue]), string(queue),
		)
	}
}
