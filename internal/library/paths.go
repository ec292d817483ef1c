package library

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	unsafeCharRE  = regexp.MustCompile(`[^A-Za-z0-9._\- ]+`)
	invalidFSRE   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	repeatedSepRE = regexp.MustCompile(`[_\s]{2,}`)
)

// DefaultExt is the audio extension used when none is configured
const DefaultExt = "mp3"

// Paths maps songs to the location of their audio file on disk.
// The fetch adapter and the player agree on file locations through it
// without a shared lookup table.
type Paths struct {
	SongsDir string
	Ext      string
}

// NewPaths creates a Paths rooted at songsDir using the given audio extension
func NewPaths(songsDir, ext string) Paths {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = DefaultExt
	}
	return Paths{SongsDir: songsDir, Ext: ext}
}

// ExpectedPath returns <songs>/<category dir>/<Title - Artists>.<ext>
func (p Paths) ExpectedPath(s Song) string {
	return filepath.Join(p.SongsDir, CategoryDirName(s.Category), p.FileName(s))
}

// FileName returns the base filename for the song
func (p Paths) FileName(s Song) string {
	ext := p.Ext
	if ext == "" {
		ext = DefaultExt
	}
	base := SanitizeFilename(strings.TrimSpace(s.Title + " - " + s.ArtistString()))
	if strings.HasSuffix(strings.ToLower(base), "."+ext) {
		return base
	}
	return base + "." + ext
}

// Exists reports whether the song's file is present
func (p Paths) Exists(s Song) bool {
	info, err := os.Stat(p.ExpectedPath(s))
	return err == nil && !info.IsDir()
}

// CategoryDirName turns a category name into its directory name ("Best of 90s" -> "Best_of_90s")
func CategoryDirName(category string) string {
	return SanitizeFilename(strings.ReplaceAll(strings.TrimSpace(category), " ", "_"))
}

// SanitizeFilename replaces characters that are unsafe in filenames and collapses separators
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeCharRE.ReplaceAllString(s, "_")
	s = invalidFSRE.ReplaceAllString(s, "_")
	s = repeatedSepRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// DeletePartFiles removes leftover *.part files under the songs directory.
// It returns the number of files removed.
func DeletePartFiles(songsDir string) (int, error) {
	if _, err := os.Stat(songsDir); os.IsNotExist(err) {
		return 0, nil
	}

	deleted := 0
	err := filepath.WalkDir(songsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".part") {
			return nil
		}
		if rmErr := os.Remove(path); rmErr == nil {
			deleted++
		}
		return nil
	})
	return deleted, err
}
