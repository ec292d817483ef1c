package library

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var categoryFileRE = regexp.MustCompile(`[^0-9A-Za-z _-]+`)

// LoadDir loads every *.csv file in dir as a category. The file stem with
// underscores turned into spaces is the category name.
func LoadDir(dir string) (*Library, error) {
	categories := make(map[string][]Song)

	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list library files: %w", err)
	}
	sort.Strings(files)

	for _, path := range files {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		category := strings.TrimSpace(strings.ReplaceAll(stem, "_", " "))

		songs, err := readCategoryFile(path, category)
		if err != nil {
			// Unreadable files are skipped
			continue
		}
		if len(songs) > 0 {
			categories[category] = songs
		}
	}

	return New(categories), nil
}

func readCategoryFile(path, category string) ([]Song, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	titleIdx, albumIdx, artistIdx := 0, 1, 2
	data := rows
	if looksLikeHeader(rows[0]) {
		titleIdx, albumIdx, artistIdx = columnIndices(rows[0])
		data = rows[1:]
	}

	var songs []Song
	for _, row := range data {
		get := func(i int) string {
			if i < len(row) {
				return strings.TrimSpace(strings.TrimPrefix(row[i], "\ufeff"))
			}
			return ""
		}

		title := get(titleIdx)
		if title == "" {
			continue
		}

		songs = append(songs, Song{
			Category: category,
			Title:    title,
			Album:    get(albumIdx),
			Artists:  splitArtists(get(artistIdx)),
		})
	}
	return songs, nil
}

func splitArtists(raw string) []string {
	var out []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// looksLikeHeader guesses whether the first row names the columns
func looksLikeHeader(row []string) bool {
	if len(row) < 2 {
		return false
	}

	lowered := make([]string, len(row))
	for i, c := range row {
		lowered[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(c, "\ufeff")))
	}
	joined := strings.Join(lowered, " ")

	hasTitle := false
	for _, c := range lowered {
		if strings.Contains(c, "title") || strings.Contains(c, "song") {
			hasTitle = true
			break
		}
	}
	hasAlbum := strings.Contains(joined, "album") || strings.Contains(joined, "film") || strings.Contains(joined, "movie")
	hasArtist := strings.Contains(joined, "artist") || strings.Contains(joined, "singer")

	return hasTitle && (hasAlbum || hasArtist)
}

func columnIndices(header []string) (title, album, artists int) {
	title, album, artists = 0, 1, 2
	found := map[string]bool{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch h {
		case "title", "song":
			if !found["title"] {
				title, found["title"] = i, true
			}
		case "album", "film", "film/album", "filmalbum":
			if !found["album"] {
				album, found["album"] = i, true
			}
		case "artists", "artist", "singer", "singers":
			if !found["artists"] {
				artists, found["artists"] = i, true
			}
		}
	}
	return title, album, artists
}

// CategoryFile returns the CSV path that backs a category
func CategoryFile(dir, category string) string {
	cleaned := strings.TrimSpace(categoryFileRE.ReplaceAllString(category, ""))
	if cleaned == "" {
		cleaned = "Unnamed"
	}
	return filepath.Join(dir, strings.ReplaceAll(cleaned, " ", "_")+".csv")
}

// AppendRows appends songs to a category file, writing a header when the file is new
func AppendRows(dir, category string, songs []Song) (string, error) {
	path := CategoryFile(dir, category)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create library directory: %w", err)
	}

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open category file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write([]string{"title", "album", "artists"}); err != nil {
			return "", err
		}
	}
	for _, s := range songs {
		if err := w.Write([]string{s.Title, s.Album, s.ArtistString()}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to write category file: %w", err)
	}
	return path, nil
}
