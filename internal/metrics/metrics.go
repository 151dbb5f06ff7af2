package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journal",
		Subsystem: "backup",
		Name:      "runs_total",
		Help:      "Total backup engine runs by operation and status",
	}, []string{"operation", "status"})

	backupDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "journal",
		Subsystem: "backup",
		Name:      "duration_seconds",
		Help:      "Duration of backup engine runs",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	archiveSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "journal",
		Subsystem: "backup",
		Name:      "archive_size_bytes",
		Help:      "Size of produced backup archives",
		Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 8),
	})
)

func ObserveBackupRun(operation, status string, duration time.Duration) {
	backupRunsTotal.WithLabelValues(operation, status).Inc()
	backupDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

func ObserveArchiveSize(size int64) {
	archiveSizeBytes.Observe(float64(size))
}

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journal",
		Subsystem: "background",
		Name:      "job_runs_total",
		Help:      "Total background job executions by job and status",
	}, []string{"job", "status"})

	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "journal",
		Subsystem: "background",
		Name:      "job_duration_seconds",
		Help:      "Duration of background job executions",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	jobLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "journal",
		Subsystem: "background",
		Name:      "job_last_success_timestamp",
		Help:      "Unix timestamp of the last successful run per job",
	}, []string{"job"})
)

func ObserveJobRun(job, status string, duration time.Duration) {
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobDurationSeconds.WithLabelValues(job).Observe(duration.Seconds())
	if status == "success" {
		jobLastSuccess.WithLabelValues(job).Set(float64(time.Now().Unix()))
	}
}
