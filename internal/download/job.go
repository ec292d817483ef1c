package download

import (
	"github.com/google/uuid"

	"github.com/myplayer/myplayer-go/internal/library"
	"github.com/myplayer/myplayer-go/internal/monitoring"
)

// Job is a single request to make a song's file exist locally.
// Jobs are values; once submitted the queue owns them.
type Job struct {
	ID      string
	Song    library.Song
	Refresh bool
	High    bool
}

// NewJob creates a job with a fresh ID
func NewJob(song library.Song, refresh, high bool) Job {
	return Job{
		ID:      uuid.New().String(),
		Song:    song,
		Refresh: refresh,
		High:    high,
	}
}

// Lane returns the metrics label of the queue the job belongs to
func (j Job) Lane() string {
	if j.High {
		return monitoring.LaneHigh
	}
	return monitoring.LaneBackground
}
