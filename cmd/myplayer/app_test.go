package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/myplayer/myplayer-go/internal/library"
	"github.com/myplayer/myplayer-go/internal/store"
)

func TestFindSong(t *testing.T) {
	lib := library.New(map[string][]library.Song{
		"Rock": {
			{Category: "Rock", Title: "Song One"},
			{Category: "Rock", Title: "Song Two"},
		},
	})

	tests := []struct {
		name     string
		category string
		title    string
		want     string
		wantErr  bool
	}{
		{name: "exact", category: "Rock", title: "Song Two", want: "Song Two"},
		{name: "case insensitive", category: "Rock", title: "  song one ", want: "Song One"},
		{name: "unknown title", category: "Rock", title: "Nope", wantErr: true},
		{name: "unknown category", category: "Jazz", title: "Song One", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findSong(lib, tt.category, tt.title)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.Title != tt.want {
				t.Errorf("Got %q, want %q", got.Title, tt.want)
			}
		})
	}
}

type recordingListener struct {
	mu        sync.Mutex
	durations []int64
	positions []int64
	ended     chan struct{}
}

func (l *recordingListener) OnDuration(ms int64) {
	l.mu.Lock()
	l.durations = append(l.durations, ms)
	l.mu.Unlock()
}

func (l *recordingListener) OnPosition(ms int64) {
	l.mu.Lock()
	l.positions = append(l.positions, ms)
	l.mu.Unlock()
}

func (l *recordingListener) OnEndOfMedia() error {
	close(l.ended)
	return nil
}

func TestSimPlayerReportsProgress(t *testing.T) {
	var out bytes.Buffer
	p := newSimPlayer(context.Background(), 50*time.Millisecond, 10*time.Millisecond, &out, zap.NewNop())
	l := &recordingListener{ended: make(chan struct{})}
	p.setListener(l)

	song := library.Song{Category: "Rock", Title: "Tick", Artists: []string{"Band"}}
	if err := p.Play("/music/tick.mp3", song); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	select {
	case got := <-p.Started():
		if got.Title != "Tick" {
			t.Errorf("Unexpected start %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Start was not reported")
	}

	select {
	case <-l.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("End of media was not reported")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.durations) != 1 || l.durations[0] != 50 {
		t.Errorf("Expected one duration of 50ms, got %v", l.durations)
	}
	if len(l.positions) == 0 {
		t.Error("Expected position updates")
	}
	if !strings.Contains(out.String(), "Now playing: Tick - Band") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestSimPlayerWithoutLengthDoesNotAdvance(t *testing.T) {
	var out bytes.Buffer
	p := newSimPlayer(context.Background(), 0, 0, &out, zap.NewNop())
	l := &recordingListener{ended: make(chan struct{})}
	p.setListener(l)

	if err := p.Play("/music/a.mp3", library.Song{Title: "A"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-l.ended:
		t.Fatal("Player without a track length should not end")
	case <-time.After(50 * time.Millisecond):
	}
	p.stop()
}

func TestBuildSongReport(t *testing.T) {
	dir := t.TempDir()
	db, err := store.InitDB(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	a := &app{
		paths:     library.NewPaths(filepath.Join(dir, "songs"), "mp3"),
		history:   store.NewHistoryStore(db),
		durations: store.NewDurationStore(db),
		downloads: store.NewDownloadLog(db),
	}
	song := library.Song{Category: "Rock", Title: "Known", Artists: []string{"Band"}}

	if err := a.history.RecordPlay(song); err != nil {
		t.Fatal(err)
	}
	if err := a.durations.Put(song.Key(), 201); err != nil {
		t.Fatal(err)
	}
	if err := a.downloads.Record(&store.DownloadEntry{
		JobID:      "job-1",
		SongKey:    song.Key().String(),
		Title:      song.Title,
		Lane:       "high",
		OK:         false,
		ErrorType:  "not_found",
		Message:    "No video results",
		FinishedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	report, err := buildSongReport(a, song)
	if err != nil {
		t.Fatalf("buildSongReport failed: %v", err)
	}
	if report.Exists || report.Tags != nil {
		t.Errorf("Expected a missing file without tags, got %+v", report)
	}
	if report.Plays != 1 || report.LastPlayed == nil {
		t.Errorf("Expected one recorded play, got %d", report.Plays)
	}
	if report.DurationSeconds != 201 {
		t.Errorf("Expected cached duration 201, got %v", report.DurationSeconds)
	}
	if len(report.Downloads) != 1 || report.Downloads[0].JobID != "job-1" {
		t.Errorf("Expected the logged download, got %+v", report.Downloads)
	}

	// A present file is reported even when it carries no readable tags
	path := a.paths.ExpectedPath(song)
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte("not really audio"), 0644)
	if report, err = buildSongReport(a, song); err != nil || !report.Exists {
		t.Errorf("Expected file to be reported as present, got %+v, %v", report, err)
	}
}
