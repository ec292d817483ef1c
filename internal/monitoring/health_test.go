package monitoring

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHealthCheckHealthy(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", openTestDB(t))

	healthCheck := healthChecker.Check(QueueSnapshot{
		HighQueued:        1,
		BackgroundQueued:  100,
		HighActive:        1,
		BackgroundActive:  4,
		BackgroundEnabled: true,
	})

	if healthCheck.Status != HealthStatusHealthy {
		t.Errorf("Expected status healthy, got %s", healthCheck.Status)
	}

	if healthCheck.BackgroundQueued != 100 || healthCheck.HighQueued != 1 {
		t.Errorf("Unexpected queue sizes %d/%d", healthCheck.HighQueued, healthCheck.BackgroundQueued)
	}

	if healthCheck.ActiveJobs != 5 {
		t.Errorf("Expected 5 active jobs, got %d", healthCheck.ActiveJobs)
	}

	if healthCheck.PausedUntil != nil {
		t.Error("Expected no pause")
	}

	if healthCheck.DatabaseStatus != "connected" {
		t.Errorf("Expected database status connected, got %s", healthCheck.DatabaseStatus)
	}
}

func TestHealthCheckDegraded(t *testing.T) {
	tests := []struct {
		name  string
		snap  QueueSnapshot
		check string
	}{
		{
			name:  "large queue",
			snap:  QueueSnapshot{BackgroundQueued: 15000},
			check: "queue",
		},
		{
			name:  "throttle paused",
			snap:  QueueSnapshot{PausedUntil: time.Now().Add(time.Minute)},
			check: "throttle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthCheck := NewHealthChecker("1.0.0", openTestDB(t)).Check(tt.snap)

			if healthCheck.Status != HealthStatusDegraded {
				t.Errorf("Expected status degraded, got %s", healthCheck.Status)
			}
			if c, ok := healthCheck.Checks[tt.check]; !ok || c.Status != "degraded" {
				t.Errorf("Expected %s check degraded, got %+v", tt.check, c)
			}
		})
	}
}

func TestHealthCheckPausedUntil(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	healthChecker := NewHealthChecker("1.0.0", openTestDB(t))
	healthChecker.now = func() time.Time { return now }

	hc := healthChecker.Check(QueueSnapshot{PausedUntil: now.Add(-time.Second)})
	if hc.PausedUntil != nil || hc.Checks["throttle"].Status != "healthy" {
		t.Error("Expired pause should not be reported")
	}

	hc = healthChecker.Check(QueueSnapshot{PausedUntil: now.Add(90 * time.Second)})
	if hc.PausedUntil == nil || !hc.PausedUntil.Equal(now.Add(90*time.Second)) {
		t.Errorf("Expected pause time to be reported, got %v", hc.PausedUntil)
	}
}

func TestHealthCheckUnhealthy(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", nil)

	healthCheck := healthChecker.Check(QueueSnapshot{})

	if healthCheck.Status != HealthStatusUnhealthy {
		t.Errorf("Expected status unhealthy, got %s", healthCheck.Status)
	}

	if healthCheck.DatabaseStatus != "disconnected" {
		t.Errorf("Expected database status disconnected, got %s", healthCheck.DatabaseStatus)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{3661 * time.Second, "1h 1m 1s"},
		{86400 * time.Second, "1d 0h 0m 0s"},
	}

	for _, tt := range tests {
		if result := formatDuration(tt.duration); result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}
