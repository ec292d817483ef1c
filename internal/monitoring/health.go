package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// QueueSnapshot is the download state a health check reports on
type QueueSnapshot struct {
	HighQueued        int
	BackgroundQueued  int
	HighActive        int
	BackgroundActive  int
	BackgroundEnabled bool
	PausedUntil       time.Time
}

// HealthCheck represents a health check response
type HealthCheck struct {
	Status            HealthStatus     `json:"status"`
	Version           string           `json:"version"`
	Uptime            int64            `json:"uptime"`
	UptimeHuman       string           `json:"uptime_human"`
	HighQueued        int              `json:"high_queued"`
	BackgroundQueued  int              `json:"background_queued"`
	ActiveJobs        int              `json:"active_jobs"`
	BackgroundEnabled bool             `json:"background_enabled"`
	PausedUntil       *time.Time       `json:"paused_until,omitempty"`
	MemoryUsageMB     uint64           `json:"memory_usage_mb"`
	DatabaseStatus    string           `json:"database_status"`
	Checks            map[string]Check `json:"checks"`
	Timestamp         time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker performs health checks
type HealthChecker struct {
	version   string
	startTime time.Time
	db        *sql.DB
	now       func() time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, db *sql.DB) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		db:        db,
		now:       time.Now,
	}
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(snap QueueSnapshot) *HealthCheck {
	checks := make(map[string]Check)
	overallStatus := HealthStatusHealthy

	degrade := func(c Check) {
		if c.Status == "unhealthy" {
			overallStatus = HealthStatusUnhealthy
		} else if c.Status == "degraded" && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	// Check database connectivity
	dbCheck := h.checkDatabase()
	checks["database"] = dbCheck
	degrade(dbCheck)

	// Check memory usage
	memCheck := h.checkMemory()
	checks["memory"] = memCheck
	degrade(memCheck)

	// Check queue status
	queueCheck := h.checkQueue(snap.HighQueued + snap.BackgroundQueued)
	checks["queue"] = queueCheck
	degrade(queueCheck)

	// Check download throttle
	throttleCheck := h.checkThrottle(snap.PausedUntil)
	checks["throttle"] = throttleCheck
	degrade(throttleCheck)

	// Calculate uptime
	uptime := time.Since(h.startTime)

	// Get memory stats
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStatus := "connected"
	if dbCheck.Status != "healthy" {
		dbStatus = "disconnected"
	}

	hc := &HealthCheck{
		Status:            overallStatus,
		Version:           h.version,
		Uptime:            int64(uptime.Seconds()),
		UptimeHuman:       formatDuration(uptime),
		HighQueued:        snap.HighQueued,
		BackgroundQueued:  snap.BackgroundQueued,
		ActiveJobs:        snap.HighActive + snap.BackgroundActive,
		BackgroundEnabled: snap.BackgroundEnabled,
		MemoryUsageMB:     m.Alloc / 1024 / 1024,
		DatabaseStatus:    dbStatus,
		Checks:            checks,
		Timestamp:         time.Now(),
	}
	if h.now().Before(snap.PausedUntil) {
		until := snap.PausedUntil
		hc.PausedUntil = &until
	}
	return hc
}

// checkDatabase checks database connectivity
func (h *HealthChecker) checkDatabase() Check {
	if h.db == nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database connection not initialized",
		}
	}

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Database connection is healthy",
	}
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Convert to MB
	memoryMB := m.Alloc / 1024 / 1024

	// Thresholds
	const (
		warningThresholdMB  = 500
		criticalThresholdMB = 1000
	)

	if memoryMB > criticalThresholdMB {
		return Check{
			Status:  "unhealthy",
			Message: "Memory usage is critically high",
		}
	}

	if memoryMB > warningThresholdMB {
		return Check{
			Status:  "degraded",
			Message: "Memory usage is elevated",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Memory usage is normal",
	}
}

// checkQueue checks the combined queue size
func (h *HealthChecker) checkQueue(queueSize int) Check {
	const warningThreshold = 10000

	if queueSize > warningThreshold {
		return Check{
			Status:  "degraded",
			Message: "Queue size is very large",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Queue size is normal",
	}
}

// checkThrottle reports a paused download throttle as degraded
func (h *HealthChecker) checkThrottle(pausedUntil time.Time) Check {
	now := h.now()
	if now.Before(pausedUntil) {
		return Check{
			Status:  "degraded",
			Message: fmt.Sprintf("Downloads paused for %s after repeated rate limiting", formatDuration(pausedUntil.Sub(now))),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Downloads are not throttled",
	}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
