package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/myplayer/myplayer-go/internal/download"
	"github.com/myplayer/myplayer-go/internal/library"
	"github.com/myplayer/myplayer-go/internal/metadata"
	"github.com/myplayer/myplayer-go/internal/monitoring"
	"github.com/myplayer/myplayer-go/internal/playback"
	"github.com/myplayer/myplayer-go/internal/store"
)

var missingCmd = &cobra.Command{
	Use:   "missing [category]",
	Short: "List catalog songs without a local file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			n := 0
			for _, s := range a.lib.Missing(a.paths) {
				if len(args) == 1 && s.Category != args[0] {
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", s.Category, s.Title, s.ArtistString())
				n++
			}
			fmt.Fprintf(out, "%d missing of %d songs\n", n, a.lib.Len())
			return nil
		})
	},
}

var fetchRefresh bool

var fetchCmd = &cobra.Command{
	Use:   "fetch <category> <title>",
	Short: "Download one catalog song on the interactive lane",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			song, err := findSong(a.lib, args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			id := a.manager.EnqueueHigh(song, fetchRefresh)
			ev, err := waitForJob(ctx, a.manager.Events(), id, out)
			if err != nil {
				return err
			}
			if !ev.OK {
				return fmt.Errorf("download failed: %s", ev.PathOrError)
			}
			fmt.Fprintf(out, "Ready: %s\n", ev.PathOrError)
			return nil
		})
	},
}

// waitForJob prints notifications until the completion of job id arrives
func waitForJob(ctx context.Context, events <-chan download.Event, id string, out io.Writer) (download.FileReady, error) {
	for {
		select {
		case <-ctx.Done():
			return download.FileReady{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return download.FileReady{}, fmt.Errorf("download manager stopped")
			}
			switch e := ev.(type) {
			case download.Progress:
				fmt.Fprintf(out, "Downloading: %s  %d%%\n", e.Title, e.Percent)
			case download.QueuePaused:
				fmt.Fprintln(out, e.Reason)
			case download.FileReady:
				if e.JobID == id {
					return e, nil
				}
			}
		}
	}
}

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download every missing catalog song on the background lane",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if syncTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, syncTimeout)
				defer cancel()
			}
			if err := a.start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			coord := playback.NewCoordinator(a.lib, a.paths, newSimPlayer(ctx, 0, 0, out, a.logger), a.manager,
				playback.Options{}, a.logger.Named("playback"))
			queued := coord.ResumeBackgroundMissing()
			fmt.Fprintf(out, "Queued %d missing songs\n", queued)

			ok, failed := 0, 0
			count := func(ev download.Event) {
				if fr, isReady := ev.(download.FileReady); isReady {
					if fr.OK {
						ok++
					} else {
						failed++
						fmt.Fprintf(out, "Failed: %s: %s\n", fr.Song.Title, fr.PathOrError)
					}
				}
			}

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()

		loop:
			for {
				select {
				case <-ctx.Done():
					fmt.Fprintf(out, "Stopped: %d downloaded, %d failed, %d pending\n", ok, failed, a.manager.Pending().BackgroundQueued)
					return nil
				case ev := <-a.manager.Events():
					count(ev)
				case <-ticker.C:
					if a.manager.Idle() {
						break loop
					}
				}
			}

			// Completions sent just after the lanes went idle
			drain := time.After(200 * time.Millisecond)
			for {
				select {
				case ev := <-a.manager.Events():
					count(ev)
				case <-drain:
					fmt.Fprintf(out, "Done: %d downloaded, %d failed\n", ok, failed)
					return nil
				}
			}
		})
	},
}

var (
	playTrackLength time.Duration
	playTick        time.Duration
	playTracks      int
)

var playCmd = &cobra.Command{
	Use:   "play <category> [index]",
	Short: "Play a category headlessly, fetching and prefetching as needed",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			songs := a.lib.Songs(args[0])
			if len(songs) == 0 {
				return fmt.Errorf("unknown or empty category %q", args[0])
			}
			index := 0
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid index %q: %w", args[1], err)
				}
				index = n
			}

			if err := a.start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			player := newSimPlayer(ctx, playTrackLength, playTick, out, a.logger)
			defer player.stop()

			coord := playback.NewCoordinator(a.lib, a.paths, player, a.manager, playback.Options{
				PrefetchThreshold: time.Duration(a.cfg.Playback.PrefetchThresholdMs) * time.Millisecond,
			}, a.logger.Named("playback"))
			coord.SetHistory(a.history)
			coord.SetDurations(a.durations)
			coord.SetStatus(func(msg string) { fmt.Fprintln(out, msg) })
			player.setListener(coord)

			go func() {
				if err := coord.Run(ctx, a.manager.Events()); err != nil && ctx.Err() == nil {
					a.logger.Warn("Event routing stopped", zap.Error(err))
				}
			}()

			if err := coord.StartPlayback(songs, index, playback.CategoryContext(args[0])); err != nil {
				return err
			}

			started := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-player.Started():
					started++
					if playTracks > 0 && started >= playTracks {
						return nil
					}
				}
			}
		})
	},
}

var (
	addAlbum   string
	addArtists []string
	addFetch   bool
)

var addCmd = &cobra.Command{
	Use:   "add <category> <title>",
	Short: "Append a song to a category file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			song := library.Song{
				Category: args[0],
				Title:    strings.TrimSpace(args[1]),
				Album:    strings.TrimSpace(addAlbum),
				Artists:  addArtists,
			}
			if song.Title == "" {
				return fmt.Errorf("title cannot be empty")
			}
			if _, ok := a.lib.Lookup(song.Key()); ok {
				return fmt.Errorf("%q is already in %q", song.Title, song.Category)
			}

			path, err := library.AppendRows(a.cfg.Library.Dir, song.Category, []library.Song{song})
			if err != nil {
				return err
			}
			a.lib.SetCategory(song.Category, append(a.lib.Songs(song.Category), song))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Added %s to %s\n", song.Title, path)

			if !addFetch {
				return nil
			}
			if err := a.start(ctx); err != nil {
				return err
			}
			ev, err := waitForJob(ctx, a.manager.Events(), a.manager.EnqueueHigh(song, false), out)
			if err != nil {
				return err
			}
			if !ev.OK {
				return fmt.Errorf("download failed: %s", ev.PathOrError)
			}
			fmt.Fprintf(out, "Ready: %s\n", ev.PathOrError)
			return nil
		})
	},
}

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage custom download URLs",
}

var sourceSetCmd = &cobra.Command{
	Use:   "set <category> <title> <url>",
	Short: "Use a specific URL for a song in every category",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			song, err := findSong(a.lib, args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.sources.Set(song, args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Custom source set for %s\n", song.Title)
			return nil
		})
	},
}

var sourceClearCmd = &cobra.Command{
	Use:   "clear <category> <title>",
	Short: "Go back to searching for a song",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			song, err := findSong(a.lib, args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.sources.Set(song, ""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Custom source cleared for %s\n", song.Title)
			return nil
		})
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List custom download URLs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			all, err := a.sources.All()
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, raw := range keys {
				k, ok := library.ParseKey(raw)
				if !ok {
					continue
				}
				category := k.Category
				if category == "*" {
					category = "(any)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", category, k.Title, k.Artists, all[raw])
			}
			return nil
		})
	},
}

var statusFailures int

// statusReport is printed by the status command
type statusReport struct {
	Health         *monitoring.HealthCheck `json:"health"`
	ToolAvailable  bool                    `json:"tool_available"`
	Songs          int                     `json:"songs"`
	Missing        int                     `json:"missing"`
	Downloads      *store.DownloadStats    `json:"downloads"`
	RecentFailures []*store.DownloadEntry  `json:"recent_failures"`
	RecentPlays    []store.PlayRecord      `json:"recent_plays"`
}

// songReport is printed by the status command for a single song
type songReport struct {
	Song            library.Song           `json:"song"`
	Path            string                 `json:"path"`
	Exists          bool                   `json:"exists"`
	Tags            *metadata.Tags         `json:"tags,omitempty"`
	Plays           int                    `json:"plays"`
	LastPlayed      *time.Time             `json:"last_played,omitempty"`
	DurationSeconds float64                `json:"duration_seconds,omitempty"`
	Downloads       []*store.DownloadEntry `json:"downloads"`
}

func buildSongReport(a *app, song library.Song) (*songReport, error) {
	r := &songReport{
		Song:   song,
		Path:   a.paths.ExpectedPath(song),
		Exists: a.paths.Exists(song),
	}
	if r.Exists {
		if tags, err := metadata.ReadTags(r.Path); err == nil {
			r.Tags = tags
		}
	}

	plays, last, err := a.history.Plays(song.Key())
	if err != nil {
		return nil, err
	}
	r.Plays = plays
	if !last.IsZero() {
		r.LastPlayed = &last
	}

	if secs, ok, err := a.durations.Get(song.Key()); err != nil {
		return nil, err
	} else if ok {
		r.DurationSeconds = secs
	}

	if r.Downloads, err = a.downloads.ForSong(song.Key().String()); err != nil {
		return nil, err
	}
	return r, nil
}

var statusCmd = &cobra.Command{
	Use:   "status [category title]",
	Short: "Report health, catalog completeness and recent download outcomes, or the state of one song",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if len(args) == 2 {
				song, err := findSong(a.lib, args[0], args[1])
				if err != nil {
					return err
				}
				report, err := buildSongReport(a, song)
				if err != nil {
					return err
				}
				return enc.Encode(report)
			}

			report := statusReport{
				Health:        a.health.Check(a.manager.Pending()),
				ToolAvailable: a.fetcher.Available(),
				Songs:         a.lib.Len(),
				Missing:       len(a.lib.Missing(a.paths)),
			}

			var err error
			if report.Downloads, err = a.downloads.Stats(); err != nil {
				return err
			}
			if report.RecentFailures, err = a.downloads.RecentFailures(statusFailures); err != nil {
				return err
			}
			if report.RecentPlays, err = a.history.Recent(5); err != nil {
				return err
			}

			return enc.Encode(report)
		})
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchRefresh, "refresh", false, "Download again even if the file exists")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 0, "Give up after this long (0 waits until done)")

	playCmd.Flags().DurationVar(&playTrackLength, "track-length", 0, "Simulated track length; 0 plays each track until interrupted")
	playCmd.Flags().DurationVar(&playTick, "tick", time.Second, "Simulated position update interval")
	playCmd.Flags().IntVar(&playTracks, "tracks", 0, "Exit after this many tracks have started (0 runs until interrupted)")

	statusCmd.Flags().IntVar(&statusFailures, "failures", 10, "Number of recent failures to show")

	addCmd.Flags().StringVar(&addAlbum, "album", "", "Album or film the song is from")
	addCmd.Flags().StringSliceVar(&addArtists, "artist", nil, "Artist (repeatable)")
	addCmd.Flags().BoolVar(&addFetch, "fetch", false, "Download the song right away")

	sourceCmd.AddCommand(sourceSetCmd, sourceClearCmd, sourceListCmd)
}
