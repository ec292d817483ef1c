package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/myplayer/myplayer-go/internal/config"
	"github.com/myplayer/myplayer-go/internal/download"
	"github.com/myplayer/myplayer-go/internal/fetch"
	"github.com/myplayer/myplayer-go/internal/library"
	"github.com/myplayer/myplayer-go/internal/metadata"
	"github.com/myplayer/myplayer-go/internal/monitoring"
	"github.com/myplayer/myplayer-go/internal/store"
)

// app holds the wired components shared by every command
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sql.DB
	lib       *library.Library
	paths     library.Paths
	sources   *store.SourceStore
	history   *store.HistoryStore
	durations *store.DurationStore
	downloads *store.DownloadLog
	fetcher   *fetch.Fetcher
	manager   *download.Manager
	health    *monitoring.HealthChecker
	metrics   *http.Server
}

func newApp(configPath, logLevel string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := monitoring.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := store.InitDB(cfg.Store.Path)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	lib, err := library.LoadDir(cfg.Library.Dir)
	if err != nil {
		db.Close()
		logger.Sync()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		lib:       lib,
		paths:     library.NewPaths(cfg.Library.SongsDir, cfg.Download.AudioFormat),
		sources:   store.NewSourceStore(db),
		history:   store.NewHistoryStore(db),
		durations: store.NewDurationStore(db),
		downloads: store.NewDownloadLog(db),
		health:    monitoring.NewHealthChecker(Version, db),
	}

	a.fetcher = fetch.New(fetch.Options{
		ToolPath:             cfg.Download.ToolPath,
		AudioFormat:          cfg.Download.AudioFormat,
		MinDurationSec:       cfg.Download.MinDurationSec,
		MaxDurationSec:       cfg.Download.MaxDurationSec,
		BadKeywords:          cfg.Download.BadKeywords,
		SearchResults:        cfg.Download.SearchResults,
		InvocationsPerMinute: cfg.Download.InvocationsPerMinute,
	}, a.sources, nil, logger.Named("fetch"))

	throttle := download.NewThrottle(cfg.Throttle.Threshold, cfg.Throttle.Window(), cfg.Throttle.Cooldown())
	a.manager = download.NewManager(a.paths, a.fetcher, throttle, download.Options{
		BackgroundWorkers: cfg.Download.BackgroundWorkers,
	}, logger.Named("download"))
	a.manager.SetRecorder(a.downloads)
	if cfg.Download.TagFiles {
		a.manager.SetTagger(metadata.NewTagger(logger.Named("metadata")))
	}

	logger.Info("Application initialized",
		zap.String("version", Version),
		zap.Int("songs", lib.Len()),
		zap.String("songs_dir", cfg.Library.SongsDir))
	return a, nil
}

// start cleans leftovers, serves metrics if configured and starts the workers
func (a *app) start(ctx context.Context) error {
	if a.cfg.Download.CleanPartFiles {
		n, err := library.DeletePartFiles(a.paths.SongsDir)
		if err != nil {
			a.logger.Warn("Failed to clean partial downloads", zap.Error(err))
		} else if n > 0 {
			a.logger.Info("Removed partial downloads", zap.Int("count", n))
		}
	}

	if days := a.cfg.Store.LogRetentionDays; days > 0 {
		n, err := a.downloads.Prune(time.Now().AddDate(0, 0, -days))
		if err != nil {
			a.logger.Warn("Failed to prune download log", zap.Error(err))
		} else if n > 0 {
			a.logger.Debug("Pruned download log", zap.Int64("entries", n))
		}
	}

	if !a.fetcher.Available() {
		a.logger.Warn("Download tool not found", zap.String("tool", a.cfg.Download.ToolPath))
	}

	a.serveMetrics()
	return a.manager.Start(ctx)
}

func (a *app) serveMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		check := a.health.Check(a.manager.Pending())
		w.Header().Set("Content-Type", "application/json")
		if check.Status == monitoring.HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(check)
	})

	a.metrics = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("Serving metrics", zap.String("addr", a.cfg.Metrics.Addr))
}

func (a *app) close() {
	a.manager.Stop()

	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.metrics.Shutdown(ctx)
		cancel()
	}

	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
	a.logger.Sync()
}

// findSong looks a song up by category and case-insensitive title
func findSong(lib *library.Library, category, title string) (library.Song, error) {
	songs := lib.Songs(category)
	if len(songs) == 0 {
		return library.Song{}, fmt.Errorf("unknown category %q", category)
	}
	for _, s := range songs {
		if strings.EqualFold(strings.TrimSpace(s.Title), strings.TrimSpace(title)) {
			return s, nil
		}
	}
	return library.Song{}, fmt.Errorf("no song titled %q in %q", title, category)
}
