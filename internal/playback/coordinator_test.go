package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/myplayer/myplayer-go/internal/download"
	"github.com/myplayer/myplayer-go/internal/library"
)

type played struct {
	path string
	song library.Song
}

type fakePlayer struct {
	plays []played
	err   error
}

func (p *fakePlayer) Play(path string, song library.Song) error {
	if p.err != nil {
		return p.err
	}
	p.plays = append(p.plays, played{path: path, song: song})
	return nil
}

func (p *fakePlayer) last() library.Song {
	if len(p.plays) == 0 {
		return library.Song{}
	}
	return p.plays[len(p.plays)-1].song
}

type enqueued struct {
	song    library.Song
	refresh bool
}

// fakeDownloader counts interactive jobs as busy until complete is called
type fakeDownloader struct {
	mu          sync.Mutex
	high        []enqueued
	background  []library.Song
	outstanding int
	resumed     bool
}

func (d *fakeDownloader) EnqueueHigh(song library.Song, refresh bool) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.high = append(d.high, enqueued{song: song, refresh: refresh})
	d.outstanding++
	return song.Title
}

func (d *fakeDownloader) EnqueueBackgroundMany(songs []library.Song) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.background = append(d.background, songs...)
	return len(songs)
}

func (d *fakeDownloader) ResumeBackground() {
	d.mu.Lock()
	d.resumed = true
	d.mu.Unlock()
}

func (d *fakeDownloader) HighBusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outstanding > 0
}

func (d *fakeDownloader) highTitles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, e := range d.high {
		out = append(out, e.song.Title)
	}
	return out
}

type fakeHistory struct {
	plays []library.Key
}

func (h *fakeHistory) RecordPlay(song library.Song) error {
	h.plays = append(h.plays, song.Key())
	return nil
}

type fakeDurations map[library.Key]float64

func (d fakeDurations) Put(k library.Key, seconds float64) error {
	d[k] = seconds
	return nil
}

func (d fakeDurations) Delete(k library.Key) error {
	delete(d, k)
	return nil
}

var (
	a1 = library.Song{Category: "A", Title: "a1", Artists: []string{"X"}}
	a2 = library.Song{Category: "A", Title: "a2", Artists: []string{"X"}}
	b1 = library.Song{Category: "B", Title: "b1", Artists: []string{"Y"}}
)

type harness struct {
	c      *Coordinator
	player *fakePlayer
	dl     *fakeDownloader
	paths  library.Paths
	status []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	lib := library.New(map[string][]library.Song{
		"A": {a1, a2},
		"B": {b1},
	})
	h := &harness{
		player: &fakePlayer{},
		dl:     &fakeDownloader{},
		paths:  library.NewPaths(t.TempDir(), "mp3"),
	}
	h.c = NewCoordinator(lib, h.paths, h.player, h.dl, Options{PrefetchThreshold: 60 * time.Second}, nil)
	h.c.SetStatus(func(msg string) { h.status = append(h.status, msg) })
	return h
}

func (h *harness) touch(t *testing.T, songs ...library.Song) {
	t.Helper()
	for _, s := range songs {
		p := h.paths.ExpectedPath(s)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("audio"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// complete finishes an outstanding interactive job and routes its event
func (h *harness) complete(t *testing.T, s library.Song, ok bool) {
	t.Helper()
	h.dl.mu.Lock()
	h.dl.outstanding--
	h.dl.mu.Unlock()

	ev := download.FileReady{Song: s, OK: ok, High: true}
	if ok {
		h.touch(t, s)
		ev.PathOrError = h.paths.ExpectedPath(s)
	} else {
		ev.PathOrError = "HTTP Error 403: Forbidden"
	}
	h.c.HandleEvent(ev)
}

func TestStartPlaybackPlaysExistingFile(t *testing.T) {
	h := newHarness(t)
	history := &fakeHistory{}
	h.c.SetHistory(history)
	h.touch(t, a1)

	if err := h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A")); err != nil {
		t.Fatal(err)
	}

	if len(h.player.plays) != 1 || h.player.plays[0].path != h.paths.ExpectedPath(a1) {
		t.Fatalf("Expected a1 to play, got %+v", h.player.plays)
	}
	if len(h.dl.high) != 0 {
		t.Error("Did not expect a download for an existing file")
	}
	if len(history.plays) != 1 || history.plays[0] != a1.Key() {
		t.Errorf("Expected play to be recorded, got %v", history.plays)
	}
	if st := h.c.State(); !st.Playing || st.Current != a1.Key() {
		t.Errorf("Unexpected state %+v", st)
	}
}

func TestStartPlaybackAutoplaysAfterFetch(t *testing.T) {
	h := newHarness(t)

	if err := h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A")); err != nil {
		t.Fatal(err)
	}
	if len(h.player.plays) != 0 {
		t.Fatal("Nothing should play before the file exists")
	}
	if titles := h.dl.highTitles(); len(titles) != 1 || titles[0] != "a1" {
		t.Fatalf("Expected a1 to be fetched, got %v", titles)
	}
	if st := h.c.State(); st.PendingAutoplay != a1.Key() {
		t.Errorf("Expected a1 pending autoplay, got %+v", st.PendingAutoplay)
	}

	h.complete(t, a1, true)

	if h.player.last().Key() != a1.Key() {
		t.Error("Expected a1 to start once downloaded")
	}
	if st := h.c.State(); !st.PendingAutoplay.IsZero() {
		t.Error("Pending autoplay should be cleared")
	}
}

func TestStartPlaybackValidation(t *testing.T) {
	h := newHarness(t)

	if err := h.c.StartPlayback(nil, 0, CategoryContext("A")); err == nil {
		t.Error("Expected error for empty list")
	}
	if err := h.c.StartPlayback([]library.Song{a1}, 3, CategoryContext("A")); err == nil {
		t.Error("Expected error for out of range index")
	}
	if err := h.c.Next(); err == nil {
		t.Error("Expected error for Next without a queue")
	}
	if err := h.c.Previous(); err == nil {
		t.Error("Expected error for Previous without a queue")
	}
}

func TestStartPlaybackPlayerError(t *testing.T) {
	h := newHarness(t)
	h.player.err = errors.New("device busy")
	h.touch(t, a1)

	if err := h.c.StartPlayback([]library.Song{a1}, 0, CategoryContext("A")); err == nil {
		t.Error("Expected player error to be returned")
	}
	if h.c.State().Playing {
		t.Error("Failed start must not change the current song")
	}
}

func TestNextCrossesCategories(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1, a2, b1)

	h.c.StartPlayback([]library.Song{a1, a2}, 1, CategoryContext("A"))

	if err := h.c.Next(); err != nil {
		t.Fatal(err)
	}
	if h.player.last().Key() != b1.Key() {
		t.Fatalf("Expected global next b1, got %+v", h.player.last())
	}
	st := h.c.State()
	if st.Context != CategoryContext("B") || st.Index != 0 || len(st.Queue) != 1 {
		t.Errorf("Expected queue rebased onto B, got %+v", st)
	}

	// b1 is last overall, so the catalog wraps to a1
	h.c.Next()
	if h.player.last().Key() != a1.Key() {
		t.Errorf("Expected wrap to a1, got %+v", h.player.last())
	}
	if st := h.c.State(); st.Context != CategoryContext("A") || st.Index != 0 {
		t.Errorf("Expected queue rebased onto A, got %+v", st)
	}
}

func TestNextWithinQueue(t *testing.T) {
	tests := []struct {
		name  string
		pc    PlayContext
		start int
		want  library.Song
	}{
		{name: "advance", pc: CategoryContext("A"), start: 0, want: a2},
		{name: "playlist wraps locally", pc: PlayContext{Kind: ContextPlaylist, Name: "mix"}, start: 1, want: a1},
		{name: "favourites wraps locally", pc: PlayContext{Kind: ContextFavourites}, start: 1, want: a1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.touch(t, a1, a2, b1)
			h.c.StartPlayback([]library.Song{a1, a2}, tt.start, tt.pc)

			if err := h.c.Next(); err != nil {
				t.Fatal(err)
			}
			if h.player.last().Key() != tt.want.Key() {
				t.Errorf("Next played %+v, want %+v", h.player.last(), tt.want)
			}
		})
	}
}

func TestNextFetchesMissingTarget(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))

	h.c.Next()
	if len(h.player.plays) != 1 {
		t.Error("a2 should not play before it exists")
	}
	if st := h.c.State(); st.PendingAutoplay != a2.Key() || st.Index != 1 {
		t.Errorf("Expected a2 pending at index 1, got %+v", st)
	}

	h.complete(t, a2, true)
	if h.player.last().Key() != a2.Key() {
		t.Error("Expected a2 to autoplay")
	}
}

func TestPreviousWraps(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1, a2)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))

	if err := h.c.Previous(); err != nil {
		t.Fatal(err)
	}
	if h.player.last().Key() != a2.Key() {
		t.Errorf("Expected wrap to a2, got %+v", h.player.last())
	}
}

func TestEndOfMediaAdvances(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1, a2)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))

	h.c.OnEndOfMedia()
	if h.player.last().Key() != a2.Key() {
		t.Errorf("Expected a2 after end of media, got %+v", h.player.last())
	}
}

func TestPrefetchSingleShot(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))

	// Unknown duration never triggers
	h.c.OnPosition(1000)
	if len(h.dl.high) != 0 {
		t.Fatal("Prefetch must wait for a known duration")
	}

	h.c.OnDuration(200000)
	h.c.OnPosition(100000)
	if len(h.dl.high) != 0 {
		t.Fatal("Prefetch triggered too early")
	}

	for pos := int64(140000); pos <= 200000; pos += 5000 {
		h.c.OnPosition(pos)
	}

	titles := h.dl.highTitles()
	if len(titles) != 1 || titles[0] != "a2" {
		t.Fatalf("Expected exactly one prefetch of a2, got %v", titles)
	}
	if h.dl.high[0].refresh {
		t.Error("Prefetch must not force a refresh")
	}

	st := h.c.State()
	if !st.PrefetchTriggered || !st.PrefetchInProgress || st.PrefetchNext != a2.Key() {
		t.Errorf("Unexpected prefetch state %+v", st)
	}
}

func TestPrefetchSkipsExistingNext(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1, a2)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))

	h.c.OnDuration(120000)
	h.c.OnPosition(70000)
	h.c.OnPosition(80000)

	if len(h.dl.high) != 0 {
		t.Error("No fetch expected for an existing next file")
	}
	st := h.c.State()
	if !st.PrefetchTriggered || st.PrefetchInProgress {
		t.Errorf("Expected triggered without fetch, got %+v", st)
	}
}

func TestPrefetchCrossesCategory(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a2)
	h.c.StartPlayback([]library.Song{a1, a2}, 1, CategoryContext("A"))

	h.c.OnDuration(90000)
	h.c.OnPosition(60000)

	if titles := h.dl.highTitles(); len(titles) != 1 || titles[0] != "b1" {
		t.Errorf("Expected prefetch of the global next b1, got %v", titles)
	}
	if st := h.c.State(); st.Context != CategoryContext("A") {
		t.Error("Prefetch must not change the play queue")
	}
}

func TestPrefetchResetsOnPlay(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1)
	durations := fakeDurations{}
	h.c.SetDurations(durations)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))

	h.c.OnDuration(100000)
	if durations[a1.Key()] != 100 {
		t.Errorf("Expected cached duration of 100s, got %v", durations[a1.Key()])
	}
	h.c.OnPosition(90000)
	h.complete(t, a2, true)

	if st := h.c.State(); st.PrefetchInProgress || !st.PrefetchNext.IsZero() {
		t.Errorf("Prefetch completion should clear in-progress, got %+v", st)
	}

	h.c.Next()
	if h.player.last().Key() != a2.Key() {
		t.Fatal("Expected prefetched a2 to play immediately")
	}
	if st := h.c.State(); st.PrefetchTriggered {
		t.Error("Starting a new track must reset the prefetch state")
	}
}

func TestDeferredRefreshDrainsFIFO(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))
	h.c.OnDuration(100000)
	h.c.OnPosition(90000) // prefetch a2

	h.c.Refresh(b1)
	h.c.Refresh(a1)
	if titles := h.dl.highTitles(); len(titles) != 1 {
		t.Fatalf("Refreshes must wait behind the prefetch, got %v", titles)
	}
	if st := h.c.State(); st.Deferred != 2 {
		t.Fatalf("Expected 2 deferred jobs, got %d", st.Deferred)
	}
	if len(h.player.plays) != 1 {
		t.Error("Deferred refresh of the current song must not move playback yet")
	}

	h.complete(t, a2, true)
	if titles := h.dl.highTitles(); len(titles) != 2 || titles[1] != "b1" || !h.dl.high[1].refresh {
		t.Fatalf("Expected b1 refresh to drain first, got %v", titles)
	}

	h.complete(t, b1, true)
	if titles := h.dl.highTitles(); len(titles) != 3 || titles[2] != "a1" || !h.dl.high[2].refresh {
		t.Fatalf("Expected a1 refresh to drain second, got %v", titles)
	}
	if h.dl.resumed {
		t.Error("Background must not resume while deferred work remains")
	}

	h.complete(t, a1, true)
	if st := h.c.State(); st.Deferred != 0 {
		t.Errorf("Expected deferred buffer to be empty, got %d", st.Deferred)
	}
	if !h.dl.resumed {
		t.Error("Expected background to resume once everything drained")
	}
}

func TestRefreshPrefetchTargetIsNotDeferred(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))
	h.c.OnDuration(100000)
	h.c.OnPosition(90000)

	h.c.Refresh(a2)
	if titles := h.dl.highTitles(); len(titles) != 2 || !h.dl.high[1].refresh {
		t.Errorf("Expected immediate refresh of the prefetch target, got %v", titles)
	}
}

func TestRefreshCurrentMovesToNext(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1, a2)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))

	if err := h.c.Refresh(a1); err != nil {
		t.Fatal(err)
	}
	if h.player.last().Key() != a2.Key() {
		t.Errorf("Expected playback to move to a2, got %+v", h.player.last())
	}
	if len(h.dl.high) != 1 || h.dl.high[0].song.Key() != a1.Key() || !h.dl.high[0].refresh {
		t.Errorf("Expected refresh of a1, got %+v", h.dl.high)
	}
}

func TestFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.c.StartPlayback([]library.Song{a1}, 0, CategoryContext("A"))

	h.complete(t, a1, false)

	if len(h.player.plays) != 0 {
		t.Error("Nothing should play after a failure")
	}
	if st := h.c.State(); st.PendingAutoplay != a1.Key() {
		t.Error("Failure must not clear pending autoplay")
	}
	if len(h.dl.high) != 1 {
		t.Error("Failures are not retried automatically")
	}

	found := false
	for _, s := range h.status {
		if strings.Contains(s, "a1") && strings.Contains(s, "403") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected failure status naming the song, got %v", h.status)
	}
}

func TestRetryableFailureSuggestsRefresh(t *testing.T) {
	h := newHarness(t)
	h.c.HandleEvent(download.FileReady{Song: a1, High: true, PathOrError: "HTTP Error 429", Retryable: true})

	if len(h.status) == 0 || !strings.Contains(h.status[len(h.status)-1], "refresh later") {
		t.Errorf("Expected a refresh hint, got %v", h.status)
	}
}

func TestBackgroundResumesWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))

	// Interactive work outstanding: a background completion waits
	h.dl.EnqueueHigh(a2, false)
	h.c.HandleEvent(download.FileReady{Song: b1, OK: true, PathOrError: "x"})
	if h.dl.resumed {
		t.Fatal("Background must not resume while the interactive lane is busy")
	}

	h.complete(t, a2, true)

	if !h.dl.resumed {
		t.Fatal("Expected background to resume after the interactive lane went idle")
	}
	if len(h.dl.background) != 1 || h.dl.background[0].Key() != b1.Key() {
		t.Errorf("Expected only missing b1 to be queued, got %+v", h.dl.background)
	}
}

func TestBackgroundCompletionResumesWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1)
	h.c.StartPlayback([]library.Song{a1}, 0, CategoryContext("A"))

	h.c.HandleEvent(download.FileReady{Song: b1, OK: false, PathOrError: "No video results"})
	if !h.dl.resumed {
		t.Error("Expected a background completion to resume the lane when idle")
	}
}

func TestBackgroundCompletionDrainsDeferred(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))
	h.c.OnDuration(100000)
	h.c.OnPosition(90000) // prefetch a2

	h.c.Refresh(b1)
	h.complete(t, a2, false)
	if st := h.c.State(); st.Deferred != 1 || !st.PrefetchInProgress {
		t.Fatalf("Expected b1 to stay deferred behind the failed prefetch, got %+v", st)
	}

	// Restarting from an existing file resets the prefetch
	h.c.StartPlayback([]library.Song{a1}, 0, CategoryContext("A"))
	h.c.HandleEvent(download.FileReady{Song: a2, OK: true, PathOrError: "x"})

	titles := h.dl.highTitles()
	if len(titles) != 2 || titles[1] != "b1" || !h.dl.high[1].refresh {
		t.Fatalf("Expected deferred b1 refresh to be submitted, got %v", titles)
	}
	if st := h.c.State(); st.Deferred != 0 {
		t.Errorf("Expected empty deferred buffer, got %d", st.Deferred)
	}
}

func TestFreshDownloadClearsCachedDuration(t *testing.T) {
	h := newHarness(t)
	durations := fakeDurations{a2.Key(): 200, b1.Key(): 180}
	h.c.SetDurations(durations)

	h.c.HandleEvent(download.FileReady{Song: a2, OK: true, PathOrError: "x"})
	h.c.HandleEvent(download.FileReady{Song: b1, OK: true, Skipped: true, PathOrError: "y"})

	if _, ok := durations[a2.Key()]; ok {
		t.Error("Expected cached duration of the re-fetched song to be cleared")
	}
	if durations[b1.Key()] != 180 {
		t.Error("A skipped job must keep the cached duration")
	}
}

func TestBackgroundWaitsForPrefetch(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a1)
	h.c.StartPlayback([]library.Song{a1, a2}, 0, CategoryContext("A"))
	h.c.OnDuration(100000)
	h.c.OnPosition(90000)

	// A failed prefetch leaves the prefetch outstanding
	h.complete(t, a2, false)
	if h.dl.resumed {
		t.Error("Background must not resume while a prefetch is outstanding")
	}
}

func TestResumeBackgroundMissing(t *testing.T) {
	h := newHarness(t)
	h.touch(t, a2)

	if n := h.c.ResumeBackgroundMissing(); n != 2 {
		t.Errorf("Expected 2 missing songs, got %d", n)
	}
	if !h.dl.resumed {
		t.Error("Expected background lane to be enabled")
	}
}

func TestRunRoutesUntilClosed(t *testing.T) {
	h := newHarness(t)
	h.c.StartPlayback([]library.Song{a1}, 0, CategoryContext("A"))

	events := make(chan download.Event, 4)
	h.touch(t, a1)
	events <- download.Progress{Title: "a1", Category: "A"}
	events <- download.QueuePaused{Reason: "paused for a while"}
	events <- download.FileReady{Song: a1, OK: true, PathOrError: h.paths.ExpectedPath(a1), High: true}
	close(events)

	done := make(chan error, 1)
	go func() { done <- h.c.Run(context.Background(), events) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}

	if h.player.last().Key() != a1.Key() {
		t.Error("Expected a1 to play from the routed event")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.c.Run(ctx, make(chan download.Event)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
