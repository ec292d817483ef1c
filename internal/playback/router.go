package playback

import (
	"go.uber.org/zap"

	"github.com/myplayer/myplayer-go/internal/download"
	"github.com/myplayer/myplayer-go/internal/library"
)

// HandleEvent routes one download notification
func (c *Coordinator) HandleEvent(ev download.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case download.FileReady:
		c.handleFileReady(e)
	case download.Progress:
		c.statusf("Downloading: %s  %d%%", e.Title, e.Percent)
	case download.QueuePaused:
		c.logger.Warn("Downloads paused", zap.String("reason", e.Reason))
		c.statusf("%s", e.Reason)
	}
}

func (c *Coordinator) handleFileReady(e download.FileReady) {
	k := e.Song.Key()

	if e.OK {
		// A fresh file may have a different length
		if !e.Skipped && c.durations != nil {
			if err := c.durations.Delete(k); err != nil {
				c.logger.Warn("Failed to clear cached duration", zap.String("song", k.String()), zap.Error(err))
			}
		}

		if !c.pendingAutoplay.IsZero() && c.pendingAutoplay == k {
			c.pendingAutoplay = library.Key{}
			if err := c.startFile(e.PathOrError, e.Song); err != nil {
				c.statusf("Could not play %s", e.Song.Title)
			}
		}

		if c.prefetch.inProgress && c.prefetch.nextKey == k {
			c.prefetch.inProgress = false
			c.prefetch.nextKey = library.Key{}
			if !c.dl.HighBusy() {
				c.drainDeferred()
			}
		}
	} else if e.High {
		hint := ""
		if e.Retryable {
			hint = " (refresh later to try again)"
		}
		c.statusf("Download failed: %s: %s%s", e.Song.Title, e.PathOrError, hint)
	} else {
		c.logger.Debug("Background download failed",
			zap.String("song", k.String()),
			zap.String("error", e.PathOrError))
	}

	// Every completion, either lane and either outcome, may unblock deferred work
	if !c.dl.HighBusy() {
		if len(c.deferred) > 0 {
			c.drainDeferred()
		} else if !c.prefetch.inProgress {
			c.resumeBackgroundMissing()
		}
	}
}

// drainDeferred submits the oldest deferred request once the interactive
// lane and prefetch are both idle
func (c *Coordinator) drainDeferred() {
	if len(c.deferred) == 0 || c.prefetch.inProgress || c.dl.HighBusy() {
		return
	}

	next := c.deferred[0]
	c.deferred = c.deferred[1:]
	c.dl.EnqueueHigh(next.song, next.refresh)
	c.statusf("Continuing queued high-priority: %s", next.song.Title)
}

// ResumeBackgroundMissing queues every catalog song without a local file
// on the background lane and enables it
func (c *Coordinator) ResumeBackgroundMissing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeBackgroundMissing()
}

func (c *Coordinator) resumeBackgroundMissing() int {
	missing := c.lib.Missing(c.paths)
	added := c.dl.EnqueueBackgroundMany(missing)
	c.dl.ResumeBackground()

	if added > 0 {
		c.statusf("Background: queued %d missing songs", added)
	}
	return added
}
