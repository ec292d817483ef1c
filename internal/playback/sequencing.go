package playback

import (
	apperrors "github.com/myplayer/myplayer-go/internal/errors"
	"github.com/myplayer/myplayer-go/internal/library"
)

// step is a planned move to another track
type step struct {
	song    library.Song
	queue   []library.Song
	index   int
	playCtx PlayContext
}

// peekNext computes what Next would play without changing state.
// Leaving the end of a category queue continues with the global next song.
func (c *Coordinator) peekNext() (step, bool) {
	if len(c.queue) == 0 {
		return step{}, false
	}

	idx := c.index + 1
	if c.index < 0 {
		idx = 0
	}
	if idx < len(c.queue) {
		return step{song: c.queue[idx], queue: c.queue, index: idx, playCtx: c.playCtx}, true
	}

	if c.playCtx.Kind == ContextCategory && c.index < len(c.queue) {
		if st, ok := c.globalStep(c.queue[c.index].Key()); ok {
			return st, true
		}
	}
	return step{song: c.queue[0], queue: c.queue, index: 0, playCtx: c.playCtx}, true
}

// globalStep finds the song after k in the whole catalog and rebases the
// queue onto that song's category
func (c *Coordinator) globalStep(k library.Key) (step, bool) {
	nxt, ok := c.lib.NextGlobalAfter(k)
	if !ok {
		return step{}, false
	}
	songs := c.lib.Songs(nxt.Category)
	for i, s := range songs {
		if s.Key() == nxt.Key() {
			return step{song: nxt, queue: songs, index: i, playCtx: CategoryContext(nxt.Category)}, true
		}
	}
	return step{}, false
}

func (c *Coordinator) apply(st step) error {
	c.queue = st.queue
	c.index = st.index
	c.playCtx = st.playCtx
	return c.transition(st.song)
}

// Next advances to the next track
func (c *Coordinator) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.peekNext()
	if !ok {
		return apperrors.NewValidationError("play queue is empty")
	}
	return c.apply(st)
}

// Previous steps back within the play queue, wrapping to its end
func (c *Coordinator) Previous() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return apperrors.NewValidationError("play queue is empty")
	}
	if c.index < 0 {
		c.index = 0
	} else {
		c.index = (c.index - 1 + len(c.queue)) % len(c.queue)
	}
	return c.transition(c.queue[c.index])
}

// OnEndOfMedia moves on when the current track finishes
func (c *Coordinator) OnEndOfMedia() error {
	return c.Next()
}

// OnDuration records the length of the current track
func (c *Coordinator) OnDuration(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.durationMs = ms
	if c.hasCurrent && c.durations != nil && ms > 0 {
		if err := c.durations.Put(c.current.Key(), float64(ms)/1000); err != nil {
			c.logger.Debug("Failed to cache duration")
		}
	}
}

// OnPosition runs the prefetch check. The next track is fetched at most
// once per playing track, when the remaining time drops under the threshold.
func (c *Coordinator) OnPosition(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasCurrent || c.durationMs <= 0 || c.prefetch.triggered {
		return
	}
	if c.durationMs-ms > c.threshold.Milliseconds() {
		return
	}

	st, ok := c.peekNext()
	if !ok {
		return
	}

	c.prefetch.triggered = true
	if c.paths.Exists(st.song) {
		return
	}

	c.prefetch.inProgress = true
	c.prefetch.nextKey = st.song.Key()
	c.dl.EnqueueHigh(st.song, false)
	c.statusf("Prefetching next: %s", st.song.Title)
}

// Refresh re-downloads a song. While a prefetch for a different song is
// outstanding the request waits in the deferred buffer. Refreshing the
// current song first moves playback to the global next song.
func (c *Coordinator) Refresh(s library.Song) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := s.Key()
	if c.prefetch.inProgress && c.prefetch.nextKey != k {
		c.deferred = append(c.deferred, deferredJob{song: s, refresh: true})
		c.statusf("Queued refresh after current prefetch: %s", s.Title)
		return nil
	}

	if c.pendingAutoplay == k {
		c.pendingAutoplay = library.Key{}
	}

	if c.hasCurrent && c.current.Key() == k {
		if st, ok := c.globalStep(k); ok && st.song.Key() != k {
			if err := c.apply(st); err != nil {
				c.logger.Warn("Failed to move off refreshed song")
			}
		}
	}

	c.dl.EnqueueHigh(s, true)
	c.statusf("Refreshing: %s", s.Title)
	return nil
}
