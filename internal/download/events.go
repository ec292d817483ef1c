package download

import (
	"time"

	"github.com/myplayer/myplayer-go/internal/library"
)

// Event is a notification from the workers to the single consumer
type Event interface {
	Type() string
}

// FileReady reports the completion of a job, successful or not
type FileReady struct {
	JobID string
	Song  library.Song
	OK    bool
	// PathOrError is the local path on success and the failure message otherwise
	PathOrError string
	High        bool
	Skipped     bool
	ErrorType   string
	// Retryable failures may succeed on a later refresh
	Retryable bool
}

// Type implements Event
func (FileReady) Type() string { return "file_ready" }

// Progress reports fetch progress. Only the 0% start is emitted today.
type Progress struct {
	Title    string
	Percent  int
	Speed    string
	ETA      string
	Category string
}

// Type implements Event
func (Progress) Type() string { return "progress" }

// QueuePaused is emitted when the throttle trips
type QueuePaused struct {
	Reason string
	Until  time.Time
}

// Type implements Event
func (QueuePaused) Type() string { return "queue_paused" }
