package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordJobMetrics(t *testing.T) {
	completed := testutil.ToFloat64(JobsTotal.WithLabelValues(LaneHigh, "completed"))
	failed := testutil.ToFloat64(JobsTotal.WithLabelValues(LaneBackground, "failed"))
	active := testutil.ToFloat64(ActiveJobs.WithLabelValues(LaneHigh))

	RecordJobStart(LaneHigh)
	if got := testutil.ToFloat64(ActiveJobs.WithLabelValues(LaneHigh)); got != active+1 {
		t.Errorf("Expected active jobs %v, got %v", active+1, got)
	}

	RecordJobComplete(LaneHigh, 5*time.Second)
	if got := testutil.ToFloat64(JobsTotal.WithLabelValues(LaneHigh, "completed")); got != completed+1 {
		t.Errorf("Expected completed %v, got %v", completed+1, got)
	}
	if got := testutil.ToFloat64(ActiveJobs.WithLabelValues(LaneHigh)); got != active {
		t.Errorf("Expected active jobs back to %v, got %v", active, got)
	}

	RecordJobStart(LaneBackground)
	RecordJobFailed(LaneBackground, "rate_limit")
	if got := testutil.ToFloat64(JobsTotal.WithLabelValues(LaneBackground, "failed")); got != failed+1 {
		t.Errorf("Expected failed %v, got %v", failed+1, got)
	}

	RecordJobStart(LaneBackground)
	RecordJobSkipped(LaneBackground)
}

func TestUpdateQueueSize(t *testing.T) {
	UpdateQueueSize(LaneBackground, 42)
	if got := testutil.ToFloat64(QueueSize.WithLabelValues(LaneBackground)); got != 42 {
		t.Errorf("Expected queue size 42, got %v", got)
	}
	UpdateQueueSize(LaneBackground, 0)
}

func TestRecordThrottleTrip(t *testing.T) {
	before := testutil.ToFloat64(ThrottleTripsTotal)
	RecordThrottleTrip()
	if got := testutil.ToFloat64(ThrottleTripsTotal); got != before+1 {
		t.Errorf("Expected %v trips, got %v", before+1, got)
	}
}

func TestRecordRequeueAndError(t *testing.T) {
	RecordRequeue(LaneHigh, "throttled")
	RecordError("not_found")
}
