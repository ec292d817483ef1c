package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Library  LibraryConfig  `json:"library" mapstructure:"library"`
	Download DownloadConfig `json:"download" mapstructure:"download"`
	Throttle ThrottleConfig `json:"throttle" mapstructure:"throttle"`
	Playback PlaybackConfig `json:"playback" mapstructure:"playback"`
	Store    StoreConfig    `json:"store" mapstructure:"store"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// LibraryConfig locates the catalog files and the downloaded audio
type LibraryConfig struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	SongsDir string `json:"songs_dir" mapstructure:"songs_dir"`
}

// DownloadConfig contains download-related settings
type DownloadConfig struct {
	ToolPath             string   `json:"tool_path" mapstructure:"tool_path"`
	AudioFormat          string   `json:"audio_format" mapstructure:"audio_format"`
	MinDurationSec       int      `json:"min_duration_sec" mapstructure:"min_duration_sec"`
	MaxDurationSec       int      `json:"max_duration_sec" mapstructure:"max_duration_sec"`
	BadKeywords          []string `json:"bad_keywords" mapstructure:"bad_keywords"`
	BackgroundWorkers    int      `json:"background_workers" mapstructure:"background_workers"`
	SearchResults        int      `json:"search_results" mapstructure:"search_results"`
	InvocationsPerMinute int      `json:"invocations_per_minute" mapstructure:"invocations_per_minute"`
	TagFiles             bool     `json:"tag_files" mapstructure:"tag_files"`
	CleanPartFiles       bool     `json:"clean_part_files" mapstructure:"clean_part_files"`
}

// ThrottleConfig controls the shared failure throttle
type ThrottleConfig struct {
	Threshold   int `json:"threshold" mapstructure:"threshold"`
	WindowSec   int `json:"window_sec" mapstructure:"window_sec"`
	CooldownSec int `json:"cooldown_sec" mapstructure:"cooldown_sec"`
}

// Window returns the failure window as a duration
func (t ThrottleConfig) Window() time.Duration {
	return time.Duration(t.WindowSec) * time.Second
}

// Cooldown returns the pause length as a duration
func (t ThrottleConfig) Cooldown() time.Duration {
	return time.Duration(t.CooldownSec) * time.Second
}

// PlaybackConfig contains playback sequencing settings
type PlaybackConfig struct {
	PrefetchThresholdMs int64 `json:"prefetch_threshold_ms" mapstructure:"prefetch_threshold_ms"`
}

// StoreConfig contains state database settings
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
	// LogRetentionDays bounds the download outcome log. Zero keeps everything.
	LogRetentionDays int `json:"log_retention_days" mapstructure:"log_retention_days"`
}

// MetricsConfig controls the prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

var envKeyReplacer = strings.NewReplacer(".", "_")

// DefaultBadKeywords are title fragments that mark non-song search results
var DefaultBadKeywords = []string{
	"interview", "cover", "8d", "stage", "remix", "status", "reaction",
	"behind the scenes", "podcast", "karaoke", "making of", "speed up",
	"movie", "unplugged", "jukebox", "performance", "album jukebox",
	"video jukebox", "shorts", "ringtone", "cover by", "promo",
	"saregama carvaan", "live", "full album", "audio jukebox", "slowed",
	"lofi", "caller tune", "teaser", "reprise", "trailer",
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile reports a missing file as a path error, not ConfigFileNotFoundError
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if notFound || os.IsNotExist(err) {
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Allow environment variable overrides, e.g. MYPLAYER_DOWNLOAD_BACKGROUND_WORKERS
	v.SetEnvPrefix("MYPLAYER")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Library.SongsDir == "" {
		return fmt.Errorf("songs directory cannot be empty")
	}

	// Download validation
	if c.Download.ToolPath == "" {
		return fmt.Errorf("download tool path cannot be empty")
	}

	if c.Download.AudioFormat != "mp3" && c.Download.AudioFormat != "flac" {
		return fmt.Errorf("invalid audio format: %s (must be mp3 or flac)", c.Download.AudioFormat)
	}

	if c.Download.MinDurationSec < 0 {
		return fmt.Errorf("minimum duration cannot be negative")
	}

	if c.Download.MaxDurationSec <= c.Download.MinDurationSec {
		return fmt.Errorf("maximum duration must be greater than minimum duration")
	}

	if c.Download.BackgroundWorkers < 1 {
		return fmt.Errorf("background workers must be at least 1")
	}

	if c.Download.BackgroundWorkers > 32 {
		return fmt.Errorf("background workers cannot exceed 32")
	}

	if c.Download.SearchResults < 1 {
		c.Download.SearchResults = 1
	}

	if c.Download.InvocationsPerMinute < 0 {
		return fmt.Errorf("invocations per minute cannot be negative")
	}

	// Throttle validation
	if c.Throttle.Threshold < 1 {
		return fmt.Errorf("throttle threshold must be at least 1")
	}

	if c.Throttle.WindowSec < 1 || c.Throttle.CooldownSec < 1 {
		return fmt.Errorf("throttle window and cooldown must be at least 1 second")
	}

	if c.Playback.PrefetchThresholdMs < 0 {
		return fmt.Errorf("prefetch threshold cannot be negative")
	}

	if c.Store.LogRetentionDays < 0 {
		return fmt.Errorf("log retention cannot be negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("library", c.Library)
	v.Set("download", c.Download)
	v.Set("throttle", c.Throttle)
	v.Set("playback", c.Playback)
	v.Set("store", c.Store)
	v.Set("metrics", c.Metrics)
	v.Set("logging", c.Logging)

	return v.WriteConfigAs(path)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	// Library defaults
	v.SetDefault("library.dir", filepath.Join(dataDir, "library"))
	v.SetDefault("library.songs_dir", filepath.Join(dataDir, "songs"))

	// Download defaults
	v.SetDefault("download.tool_path", "yt-dlp")
	v.SetDefault("download.audio_format", "mp3")
	v.SetDefault("download.min_duration_sec", 150)
	v.SetDefault("download.max_duration_sec", 540)
	v.SetDefault("download.bad_keywords", DefaultBadKeywords)
	v.SetDefault("download.background_workers", 4)
	v.SetDefault("download.search_results", 1)
	v.SetDefault("download.invocations_per_minute", 30)
	v.SetDefault("download.tag_files", true)
	v.SetDefault("download.clean_part_files", true)

	// Throttle defaults
	v.SetDefault("throttle.threshold", 3)
	v.SetDefault("throttle.window_sec", 120)
	v.SetDefault("throttle.cooldown_sec", 300)

	v.SetDefault("playback.prefetch_threshold_ms", 60000)

	v.SetDefault("store.path", filepath.Join(dataDir, "state.db"))
	v.SetDefault("store.log_retention_days", 90)
	v.SetDefault("metrics.addr", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(dataDir, "logs", "myplayer.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	if dir := os.Getenv("MYPLAYER_HOME"); dir != "" {
		return dir
	}

	if IsPortableMode() {
		exePath, err := os.Executable()
		if err != nil {
			return "."
		}
		return filepath.Dir(exePath)
	}

	base, err := os.UserConfigDir()
	if err != nil {
		base = os.Getenv("HOME")
	}
	return filepath.Join(base, "myplayer")
}

// IsPortableMode checks if the application is running in portable mode
func IsPortableMode() bool {
	exePath, err := os.Executable()
	if err != nil {
		return false
	}
	portableMarker := filepath.Join(filepath.Dir(exePath), ".portable")
	_, err = os.Stat(portableMarker)
	return err == nil
}
