package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	apperrors "github.com/myplayer/myplayer-go/internal/errors"
	"github.com/myplayer/myplayer-go/internal/library"
)

// MaxMessageLen bounds failure messages so tool output cannot grow logs without limit
const MaxMessageLen = 500

const defaultFailureMessage = "Download failed"

// Options configures the download tool invocation
type Options struct {
	ToolPath       string
	AudioFormat    string
	MinDurationSec int
	MaxDurationSec int
	BadKeywords    []string
	SearchResults  int
	// InvocationsPerMinute paces tool starts across all workers. Zero disables pacing.
	InvocationsPerMinute int
}

// Result is the outcome of one fetch. It is data, never an error.
type Result struct {
	OK        bool
	Message   string
	Source    string
	ErrorType apperrors.ErrorType
	// Retryable is set for failures a later attempt may not repeat
	Retryable bool
}

// SourceLookup finds custom acquisition URLs by song key
type SourceLookup interface {
	Get(k library.Key) (string, bool, error)
}

// Fetcher downloads one song at a time through an external command-line tool
type Fetcher struct {
	opts    Options
	sources SourceLookup
	runner  Runner
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *zap.Logger
}

// New creates a Fetcher. sources and runner may be nil.
func New(opts Options, sources SourceLookup, runner Runner, logger *zap.Logger) *Fetcher {
	if opts.ToolPath == "" {
		opts.ToolPath = "yt-dlp"
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = library.DefaultExt
	}
	if opts.SearchResults < 1 {
		opts.SearchResults = 1
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Fetcher{
		opts:    opts,
		sources: sources,
		runner:  runner,
		logger:  logger,
	}
	if opts.InvocationsPerMinute > 0 {
		f.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.InvocationsPerMinute)), 2)
	}
	return f
}

// Available reports whether the download tool can be found
func (f *Fetcher) Available() bool {
	_, err := exec.LookPath(f.opts.ToolPath)
	return err == nil
}

// Fetch downloads song to dest. Concurrent calls for the same dest share a
// single tool invocation and its result.
func (f *Fetcher) Fetch(ctx context.Context, song library.Song, dest string) Result {
	v, _, _ := f.group.Do(dest, func() (interface{}, error) {
		return f.fetch(ctx, song, dest), nil
	})
	return v.(Result)
}

func (f *Fetcher) fetch(ctx context.Context, song library.Song, dest string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(fmt.Errorf("fetch panicked: %v", r))
		}
	}()

	source := f.ResolveSource(song)
	logger := f.logger.With(zap.String("song", song.Key().String()), zap.String("source", source))

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		logger.Warn("Failed to create destination directory", zap.Error(err))
		res = failure(apperrors.NewFileSystemError("failed to create destination directory", err))
		res.Source = source
		return res
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			res = failure(err)
			res.Source = source
			return res
		}
	}

	logger.Debug("Starting download tool", zap.String("dest", dest))
	start := time.Now()

	out, err := f.runner.Run(ctx, f.opts.ToolPath, f.Args(source, dest))
	if err != nil {
		logger.Warn("Failed to run download tool", zap.Error(err))
		res = failure(apperrors.NewToolError("failed to run "+f.opts.ToolPath, err))
		res.Source = source
		return res
	}

	if out.ExitCode == 0 && fileExists(dest) {
		logger.Info("Downloaded", zap.String("path", dest), zap.Duration("elapsed", time.Since(start)))
		return Result{OK: true, Source: source}
	}

	msg := strings.TrimSpace(out.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(out.Stdout)
	}
	res = failure(apperrors.FromMessage(msg))
	res.Source = source
	logger.Info("Download failed",
		zap.Int("exit_code", out.ExitCode),
		zap.String("error_type", string(res.ErrorType)),
		zap.String("message", res.Message))
	return res
}

// ResolveSource picks what to hand the tool: an exact custom URL, a wildcard
// custom URL, or a search directive.
func (f *Fetcher) ResolveSource(song library.Song) string {
	if f.sources != nil {
		for _, k := range []library.Key{song.Key(), song.WildcardKey()} {
			url, ok, err := f.sources.Get(k)
			if err != nil {
				f.logger.Warn("Custom source lookup failed", zap.String("key", k.String()), zap.Error(err))
				continue
			}
			if ok && strings.TrimSpace(url) != "" {
				return strings.TrimSpace(url)
			}
		}
	}
	return fmt.Sprintf("ytsearch%d:%s", f.opts.SearchResults, song.SearchQuery())
}

// Args builds the tool command line for one download
func (f *Fetcher) Args(source, dest string) []string {
	base := strings.TrimSuffix(dest, filepath.Ext(dest))

	args := []string{
		"--no-playlist",
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", f.opts.AudioFormat,
		"-o", base + ".%(ext)s",
		"--retry-sleep", "1",
		"--concurrent-fragments", "1",
		"--match-filter", MatchFilter(f.opts.MinDurationSec, f.opts.MaxDurationSec),
	}
	if pattern := RejectPattern(f.opts.BadKeywords); pattern != "" {
		args = append(args, "--reject-title", pattern)
	}
	return append(args, source)
}

// MatchFilter renders the duration window as a tool filter expression
func MatchFilter(minSec, maxSec int) string {
	return fmt.Sprintf("duration > %d & duration < %d", minSec, maxSec)
}

// RejectPattern joins the regex-escaped keywords into one alternation
func RejectPattern(keywords []string) string {
	var parts []string
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			parts = append(parts, regexp.QuoteMeta(k))
		}
	}
	return strings.Join(parts, "|")
}

// Truncate trims msg to at most n characters
func Truncate(msg string, n int) string {
	r := []rune(msg)
	if len(r) <= n {
		return msg
	}
	return string(r[:n])
}

// failure turns err into a failed Result. Errors without a type are
// classified by their text.
func failure(err error) Result {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.FromMessage(err.Error())
	}

	msg := strings.TrimSpace(appErr.Message)
	if appErr.Cause != nil {
		msg += ": " + appErr.Cause.Error()
	}
	if msg == "" {
		msg = defaultFailureMessage
	}

	return Result{
		OK:        false,
		Message:   Truncate(msg, MaxMessageLen),
		ErrorType: apperrors.GetErrorType(appErr),
		Retryable: apperrors.IsRetryable(appErr),
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
