package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lane label values
const (
	LaneHigh       = "high"
	LaneBackground = "background"
)

var (
	// JobsTotal tracks finished download jobs by lane and status (completed, failed, skipped)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myplayer_download_jobs_total",
			Help: "Total number of finished download jobs",
		},
		[]string{"lane", "status"},
	)

	// FetchDuration tracks download tool run time in seconds by lane
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "myplayer_fetch_duration_seconds",
			Help:    "Download tool run time in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~4min
		},
		[]string{"lane"},
	)

	// QueueSize tracks jobs waiting in each lane
	QueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "myplayer_queue_size",
			Help: "Jobs waiting per lane",
		},
		[]string{"lane"},
	)

	// ActiveJobs tracks jobs currently held by workers
	ActiveJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "myplayer_active_jobs",
			Help: "Jobs currently being processed per lane",
		},
		[]string{"lane"},
	)

	// ThrottleTripsTotal counts how often the failure throttle paused the queues
	ThrottleTripsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "myplayer_throttle_trips_total",
			Help: "Number of times the failure throttle paused downloading",
		},
	)

	// Requeues counts jobs put back because of a pause or a disabled lane
	Requeues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myplayer_requeues_total",
			Help: "Jobs requeued instead of processed",
		},
		[]string{"lane", "reason"},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myplayer_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordJobStart records that a worker picked up a job
func RecordJobStart(lane string) {
	ActiveJobs.WithLabelValues(lane).Inc()
}

// RecordJobComplete records a job that fetched a file
func RecordJobComplete(lane string, duration time.Duration) {
	JobsTotal.WithLabelValues(lane, "completed").Inc()
	FetchDuration.WithLabelValues(lane).Observe(duration.Seconds())
	ActiveJobs.WithLabelValues(lane).Dec()
}

// RecordJobSkipped records a job satisfied by an existing file
func RecordJobSkipped(lane string) {
	JobsTotal.WithLabelValues(lane, "skipped").Inc()
	ActiveJobs.WithLabelValues(lane).Dec()
}

// RecordJobFailed records a failed job
func RecordJobFailed(lane string, errorType string) {
	JobsTotal.WithLabelValues(lane, "failed").Inc()
	ErrorsTotal.WithLabelValues(errorType).Inc()
	ActiveJobs.WithLabelValues(lane).Dec()
}

// RecordRequeue records a job put back on its queue
func RecordRequeue(lane, reason string) {
	Requeues.WithLabelValues(lane, reason).Inc()
}

// UpdateQueueSize updates the queue size metric for a lane
func UpdateQueueSize(lane string, size int) {
	QueueSize.WithLabelValues(lane).Set(float64(size))
}

// RecordThrottleTrip records a throttle pause
func RecordThrottleTrip() {
	ThrottleTripsTotal.Inc()
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
