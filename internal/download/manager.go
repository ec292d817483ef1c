package download

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/myplayer/myplayer-go/internal/errors"
	"github.com/myplayer/myplayer-go/internal/fetch"
	"github.com/myplayer/myplayer-go/internal/library"
	"github.com/myplayer/myplayer-go/internal/monitoring"
	"github.com/myplayer/myplayer-go/internal/store"
)

// HighWorkers is the fixed size of the interactive lane
const HighWorkers = 2

// Defaults for Options
const (
	DefaultBackgroundWorkers = 4
	DefaultPauseBackoff      = 500 * time.Millisecond
	DefaultDisabledBackoff   = 200 * time.Millisecond
)

// Fetcher makes one song's file exist at dest
type Fetcher interface {
	Fetch(ctx context.Context, song library.Song, dest string) fetch.Result
}

// Tagger writes song details into a downloaded file
type Tagger interface {
	Apply(path string, song library.Song) error
}

// OutcomeRecorder persists finished jobs
type OutcomeRecorder interface {
	Record(e *store.DownloadEntry) error
}

// Options configures a Manager
type Options struct {
	BackgroundWorkers int
	PollInterval      time.Duration
	// PauseBackoff is how long a worker holds a job before requeueing it while throttled
	PauseBackoff time.Duration
	// DisabledBackoff is the same for background jobs while the background lane is off
	DisabledBackoff time.Duration
	EventBuffer     int
}

// Manager coordinates the interactive and background download lanes
type Manager struct {
	paths    library.Paths
	fetcher  Fetcher
	tagger   Tagger
	recorder OutcomeRecorder
	throttle *Throttle
	notifier *Notifier
	opts     Options
	logger   *zap.Logger

	high       *JobQueue
	background *JobQueue
	highPool   *WorkerPool
	bgPool     *WorkerPool

	bgEnabled atomic.Bool
	enqueueMu sync.Mutex

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewManager creates a new download manager. The background lane starts disabled.
func NewManager(paths library.Paths, fetcher Fetcher, throttle *Throttle, opts Options, logger *zap.Logger) *Manager {
	if opts.BackgroundWorkers <= 0 {
		opts.BackgroundWorkers = DefaultBackgroundWorkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PauseBackoff <= 0 {
		opts.PauseBackoff = DefaultPauseBackoff
	}
	if opts.DisabledBackoff <= 0 {
		opts.DisabledBackoff = DefaultDisabledBackoff
	}
	if throttle == nil {
		throttle = NewThrottle(0, 0, 0)
	}
	logger = monitoring.OrNop(logger)

	m := &Manager{
		paths:      paths,
		fetcher:    fetcher,
		throttle:   throttle,
		notifier:   NewNotifier(opts.EventBuffer),
		opts:       opts,
		logger:     logger,
		high:       NewJobQueue(),
		background: NewJobQueue(),
	}

	m.highPool = NewWorkerPool(monitoring.LaneHigh, HighWorkers, m.high, m.handleJob, logger)
	m.highPool.SetPollInterval(opts.PollInterval)
	m.highPool.SetGate(m.throttleGate)

	m.bgPool = NewWorkerPool(monitoring.LaneBackground, opts.BackgroundWorkers, m.background, m.handleJob, logger)
	m.bgPool.SetPollInterval(opts.PollInterval)
	m.bgPool.SetGate(m.backgroundGate)

	return m
}

// SetTagger enables tagging of fetched files
func (m *Manager) SetTagger(t Tagger) {
	m.tagger = t
}

// SetRecorder enables persisting job outcomes
func (m *Manager) SetRecorder(r OutcomeRecorder) {
	m.recorder = r
}

// Start starts both worker lanes
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("download manager already started")
	}
	if m.stopped {
		return fmt.Errorf("download manager already stopped")
	}

	if err := m.highPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start interactive workers: %w", err)
	}
	if err := m.bgPool.Start(ctx); err != nil {
		m.highPool.Stop()
		return fmt.Errorf("failed to start background workers: %w", err)
	}

	m.started = true
	m.logger.Info("Download manager started",
		zap.Int("high_workers", m.highPool.GetMaxWorkers()),
		zap.Int("background_workers", m.bgPool.GetMaxWorkers()))
	return nil
}

// Stop stops the workers and closes the event channel. Queued jobs are discarded.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.highPool.Stop()
	m.bgPool.Stop()
	m.notifier.Close()

	stats := m.NotifierStats()
	m.logger.Info("Download manager stopped",
		zap.Int("high_queued", m.high.Len()),
		zap.Int("background_queued", m.background.Len()),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("dropped_events", stats.Dropped))
}

// Events returns the channel of worker notifications. It has a single consumer.
func (m *Manager) Events() <-chan Event {
	return m.notifier.Events()
}

// EnqueueHigh submits an interactive job and returns its ID
func (m *Manager) EnqueueHigh(song library.Song, refresh bool) string {
	job := NewJob(song, refresh, true)
	m.high.Put(job)
	monitoring.UpdateQueueSize(monitoring.LaneHigh, m.high.Len())

	m.logger.Debug("Queued interactive download",
		zap.String("job_id", job.ID),
		zap.String("song", song.Key().String()),
		zap.Bool("refresh", refresh))
	return job.ID
}

// EnqueueBackgroundMany submits background jobs for songs not already
// queued or running in the background lane. It returns how many were added.
func (m *Manager) EnqueueBackgroundMany(songs []library.Song) int {
	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	added := 0
	for _, s := range songs {
		if m.background.Contains(s.Key()) {
			continue
		}
		m.background.Put(NewJob(s, false, false))
		added++
	}
	monitoring.UpdateQueueSize(monitoring.LaneBackground, m.background.Len())

	if added > 0 {
		m.logger.Info("Queued background downloads",
			zap.Int("added", added),
			zap.Int("skipped", len(songs)-added))
	}
	return added
}

// ResumeBackground lets background workers take jobs
func (m *Manager) ResumeBackground() {
	if !m.bgEnabled.Swap(true) {
		m.logger.Debug("Background downloads resumed")
	}
}

// PauseBackground stops background workers from starting new jobs
func (m *Manager) PauseBackground() {
	if m.bgEnabled.Swap(false) {
		m.logger.Debug("Background downloads paused")
	}
}

// BackgroundEnabled reports the background gate
func (m *Manager) BackgroundEnabled() bool {
	return m.bgEnabled.Load()
}

// HighBusy reports whether interactive work is queued or in flight.
// A job stops counting just before its completion event is sent.
func (m *Manager) HighBusy() bool {
	return m.high.Busy()
}

// Idle reports whether both lanes have nothing queued or in flight
func (m *Manager) Idle() bool {
	return !m.high.Busy() && !m.background.Busy()
}

// Pending returns a snapshot of queue state
func (m *Manager) Pending() monitoring.QueueSnapshot {
	return monitoring.QueueSnapshot{
		HighQueued:        m.high.Len(),
		BackgroundQueued:  m.background.Len(),
		HighActive:        m.highPool.GetActiveJobCount(),
		BackgroundActive:  m.bgPool.GetActiveJobCount(),
		BackgroundEnabled: m.BackgroundEnabled(),
		PausedUntil:       m.throttle.PauseUntil(),
	}
}

// Throttle returns the shared failure throttle
func (m *Manager) Throttle() *Throttle {
	return m.throttle
}

// NotifierStats returns event delivery counters
func (m *Manager) NotifierStats() NotifierStats {
	return m.notifier.GetStats()
}

func (m *Manager) throttleGate(job Job) (time.Duration, string) {
	if m.throttle.ShouldPause() {
		return m.opts.PauseBackoff, "throttled"
	}
	return 0, ""
}

func (m *Manager) backgroundGate(job Job) (time.Duration, string) {
	if d, reason := m.throttleGate(job); d > 0 {
		return d, reason
	}
	if !m.bgEnabled.Load() {
		return m.opts.DisabledBackoff, "disabled"
	}
	return 0, ""
}

// handleJob runs one job to completion and reports it. The consumer gets
// exactly one completion per job, even if bookkeeping panics.
func (m *Manager) handleJob(ctx context.Context, job Job, done func()) {
	lane := job.Lane()
	logger := m.logger.With(
		zap.String("job_id", job.ID),
		zap.String("lane", lane),
		zap.String("song", job.Song.Key().String()))

	ev := FileReady{JobID: job.ID, Song: job.Song, High: job.High}
	haveResult, sent := false, false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Download bookkeeping panicked", zap.Any("panic", r))
			monitoring.RecordError("panic")
			done()
			if sent {
				return
			}
			if !haveResult {
				ev.OK, ev.Skipped = false, false
				ev.PathOrError = fmt.Sprintf("internal error: %v", r)
				ev.ErrorType = string(apperrors.ErrTypeUnknown)
			}
			m.notifier.NotifyCompleted(ctx, ev)
		}
	}()

	start := time.Now()
	monitoring.RecordJobStart(lane)

	ev = m.runJob(ctx, job, logger)
	haveResult = true
	elapsed := time.Since(start)

	switch {
	case ev.Skipped:
		monitoring.RecordJobSkipped(lane)
	case ev.OK:
		monitoring.RecordJobComplete(lane, elapsed)
	default:
		// Also counted in the errors total by type
		monitoring.RecordJobFailed(lane, ev.ErrorType)
		logger.Info("Download failed",
			zap.String("error_type", ev.ErrorType),
			zap.String("message", ev.PathOrError))
	}

	if !ev.Skipped && m.throttle.Observe(ev.OK, apperrors.ErrorType(ev.ErrorType)) {
		monitoring.RecordThrottleTrip()
		until := m.throttle.PauseUntil()
		logger.Warn("Download throttle tripped", zap.Time("pause_until", until))
		m.notifier.NotifyPaused(ctx, m.throttle.Reason(), until)
	}

	m.record(ctx, job, ev, elapsed, logger)

	done()
	monitoring.UpdateQueueSize(lane, m.queueFor(job).Len())
	m.notifier.NotifyCompleted(ctx, ev)
	sent = true
}

// runJob does the work for handleJob. Panics become failed completions.
func (m *Manager) runJob(ctx context.Context, job Job, logger *zap.Logger) (ev FileReady) {
	ev = FileReady{JobID: job.ID, Song: job.Song, High: job.High}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Download job panicked", zap.Any("panic", r))
			ev.OK = false
			ev.Skipped = false
			ev.PathOrError = fmt.Sprintf("internal error: %v", r)
			ev.ErrorType = string(apperrors.ErrTypeUnknown)
		}
	}()

	dest := m.paths.ExpectedPath(job.Song)
	if !job.Refresh && m.paths.Exists(job.Song) {
		logger.Debug("File already present", zap.String("path", dest))
		ev.OK = true
		ev.Skipped = true
		ev.PathOrError = dest
		return ev
	}

	m.notifier.NotifyStarted(job.Song)

	backup := ""
	if job.Refresh && m.paths.Exists(job.Song) {
		backup = dest + ".old"
		if err := os.Rename(dest, backup); err != nil {
			logger.Warn("Failed to move aside existing file", zap.Error(err))
			backup = ""
		}
	}

	res := m.fetcher.Fetch(ctx, job.Song, dest)

	if backup != "" {
		if res.OK {
			os.Remove(backup)
		} else if err := os.Rename(backup, dest); err != nil {
			logger.Warn("Failed to restore previous file", zap.Error(err))
		}
	}

	if !res.OK {
		ev.PathOrError = res.Message
		ev.ErrorType = string(res.ErrorType)
		ev.Retryable = res.Retryable
		return ev
	}

	if m.tagger != nil {
		// Tagging problems never fail a download
		if err := m.tagger.Apply(dest, job.Song); err != nil {
			logger.Warn("Failed to tag file", zap.String("path", dest), zap.Error(err))
		}
	}

	ev.OK = true
	ev.PathOrError = dest
	return ev
}

func (m *Manager) record(ctx context.Context, job Job, ev FileReady, elapsed time.Duration, logger *zap.Logger) {
	if m.recorder == nil {
		return
	}

	entry := &store.DownloadEntry{
		JobID:      job.ID,
		SongKey:    job.Song.Key().String(),
		Title:      job.Song.Title,
		Lane:       job.Lane(),
		OK:         ev.OK,
		Skipped:    ev.Skipped,
		ErrorType:  ev.ErrorType,
		Duration:   elapsed.Milliseconds(),
		FinishedAt: time.Now(),
	}
	if ev.OK {
		entry.Path = ev.PathOrError
	} else {
		entry.Message = ev.PathOrError
	}

	err := apperrors.RetryWithBackoff(ctx, apperrors.StoreRetryConfig(), func() error {
		return m.recorder.Record(entry)
	})
	if err != nil {
		monitoring.RecordError("store")
		logger.Warn("Failed to record download outcome", zap.Error(err))
	}
}

func (m *Manager) queueFor(job Job) *JobQueue {
	if job.High {
		return m.high
	}
	return m.background
}
