package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/myplayer/myplayer-go/internal/download"
	apperrors "github.com/myplayer/myplayer-go/internal/errors"
	"github.com/myplayer/myplayer-go/internal/library"
	"github.com/myplayer/myplayer-go/internal/monitoring"
)

// DefaultPrefetchThreshold is how long before the end of a track the next one is fetched
const DefaultPrefetchThreshold = 60 * time.Second

// Player plays a local file
type Player interface {
	Play(path string, song library.Song) error
}

// Downloader is the part of the download manager the coordinator drives
type Downloader interface {
	EnqueueHigh(song library.Song, refresh bool) string
	EnqueueBackgroundMany(songs []library.Song) int
	ResumeBackground()
	HighBusy() bool
}

// PlayRecorder records that a song started playing
type PlayRecorder interface {
	RecordPlay(song library.Song) error
}

// DurationCache remembers track lengths
type DurationCache interface {
	Put(k library.Key, seconds float64) error
	Delete(k library.Key) error
}

// StatusFunc receives short human-readable status lines
type StatusFunc func(msg string)

// ContextKind identifies what kind of list playback was started from
type ContextKind string

const (
	ContextCategory   ContextKind = "category"
	ContextPlaylist   ContextKind = "playlist"
	ContextFavourites ContextKind = "favourites"
	ContextSearch     ContextKind = "search"
)

// PlayContext identifies the view a play queue was taken from
type PlayContext struct {
	Kind ContextKind
	Name string
}

// CategoryContext returns the context of a plain category view
func CategoryContext(name string) PlayContext {
	return PlayContext{Kind: ContextCategory, Name: name}
}

// Options configures a Coordinator
type Options struct {
	PrefetchThreshold time.Duration
}

type prefetchState struct {
	triggered  bool
	inProgress bool
	nextKey    library.Key
}

type deferredJob struct {
	song    library.Song
	refresh bool
}

// Coordinator owns playback sequencing, prefetch and the routing of
// download results. All methods are safe for concurrent use, but Player
// implementations must not call back into the coordinator from Play.
type Coordinator struct {
	mu sync.Mutex

	lib       *library.Library
	paths     library.Paths
	player    Player
	dl        Downloader
	history   PlayRecorder
	durations DurationCache
	status    StatusFunc
	threshold time.Duration
	logger    *zap.Logger

	queue      []library.Song
	index      int
	playCtx    PlayContext
	current    library.Song
	hasCurrent bool
	durationMs int64

	prefetch        prefetchState
	pendingAutoplay library.Key
	deferred        []deferredJob
}

// NewCoordinator creates a coordinator
func NewCoordinator(lib *library.Library, paths library.Paths, player Player, dl Downloader, opts Options, logger *zap.Logger) *Coordinator {
	if opts.PrefetchThreshold <= 0 {
		opts.PrefetchThreshold = DefaultPrefetchThreshold
	}
	return &Coordinator{
		lib:       lib,
		paths:     paths,
		player:    player,
		dl:        dl,
		threshold: opts.PrefetchThreshold,
		logger:    monitoring.OrNop(logger),
		index:     -1,
	}
}

// SetHistory enables play history recording
func (c *Coordinator) SetHistory(h PlayRecorder) {
	c.mu.Lock()
	c.history = h
	c.mu.Unlock()
}

// SetDurations enables caching of reported track lengths
func (c *Coordinator) SetDurations(d DurationCache) {
	c.mu.Lock()
	c.durations = d
	c.mu.Unlock()
}

// SetStatus installs the status line sink
func (c *Coordinator) SetStatus(fn StatusFunc) {
	c.mu.Lock()
	c.status = fn
	c.mu.Unlock()
}

// State is a snapshot of the coordinator for display and tests
type State struct {
	Current            library.Key
	Playing            bool
	Index              int
	Queue              []library.Song
	Context            PlayContext
	PrefetchTriggered  bool
	PrefetchInProgress bool
	PrefetchNext       library.Key
	PendingAutoplay    library.Key
	Deferred           int
}

// State returns a snapshot of the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Playing:            c.hasCurrent,
		Index:              c.index,
		Queue:              append([]library.Song(nil), c.queue...),
		Context:            c.playCtx,
		PrefetchTriggered:  c.prefetch.triggered,
		PrefetchInProgress: c.prefetch.inProgress,
		PrefetchNext:       c.prefetch.nextKey,
		PendingAutoplay:    c.pendingAutoplay,
		Deferred:           len(c.deferred),
	}
	if c.hasCurrent {
		s.Current = c.current.Key()
	}
	return s
}

// Run routes download events until ctx is done or the channel closes
func (c *Coordinator) Run(ctx context.Context, events <-chan download.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(ev)
		}
	}
}

// StartPlayback snapshots list as the play queue and plays the song at index
func (c *Coordinator) StartPlayback(list []library.Song, index int, pc PlayContext) error {
	if len(list) == 0 {
		return apperrors.NewValidationError("cannot start playback from an empty list")
	}
	if index < 0 || index >= len(list) {
		return apperrors.NewValidationError(fmt.Sprintf("index %d out of range [0,%d)", index, len(list)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = append([]library.Song(nil), list...)
	c.index = index
	c.playCtx = pc
	return c.transition(c.queue[index])
}

// transition plays s now if its file exists, otherwise fetches it and
// plays it when the fetch lands
func (c *Coordinator) transition(s library.Song) error {
	if c.paths.Exists(s) {
		return c.startFile(c.paths.ExpectedPath(s), s)
	}

	c.pendingAutoplay = s.Key()
	c.dl.EnqueueHigh(s, false)
	c.statusf("Queued (high): %s", s.Title)
	return nil
}

// startFile hands a file to the player. Every actual start resets the
// prefetch state and the pending autoplay marker.
func (c *Coordinator) startFile(path string, s library.Song) error {
	if err := c.player.Play(path, s); err != nil {
		c.logger.Warn("Failed to start playback", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to play %s: %w", s.Title, err)
	}

	c.current = s
	c.hasCurrent = true
	c.durationMs = 0
	c.prefetch = prefetchState{}
	c.pendingAutoplay = library.Key{}

	c.logger.Info("Playing", zap.String("song", s.Key().String()), zap.String("path", path))
	c.statusf("Playing: %s", s.Title)

	if c.history != nil {
		if err := c.history.RecordPlay(s); err != nil {
			c.logger.Warn("Failed to record play", zap.Error(err))
		}
	}
	return nil
}

func (c *Coordinator) statusf(format string, args ...interface{}) {
	if c.status != nil {
		c.status(fmt.Sprintf(format, args...))
	}
}
