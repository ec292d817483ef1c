package library

import (
	"sort"
	"strings"
	"sync"
)

// Library maps category names to their ordered songs
type Library struct {
	mu         sync.RWMutex
	categories map[string][]Song
}

// New creates a library from a category map. The slices are copied.
func New(categories map[string][]Song) *Library {
	l := &Library{categories: make(map[string][]Song, len(categories))}
	for name, songs := range categories {
		l.categories[name] = append([]Song(nil), songs...)
	}
	return l
}

// Categories returns category names sorted case-insensitively
func (l *Library) Categories() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.categories))
	for name := range l.categories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a == b {
			return names[i] < names[j]
		}
		return a < b
	})
	return names
}

// Songs returns a copy of the songs in a category
func (l *Library) Songs(category string) []Song {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Song(nil), l.categories[category]...)
}

// SetCategory replaces the songs of a category
func (l *Library) SetCategory(category string, songs []Song) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.categories[category] = append([]Song(nil), songs...)
}

// Lookup finds a song by key
func (l *Library) Lookup(k Key) (Song, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, s := range l.categories[k.Category] {
		if s.Key() == k {
			return s, true
		}
	}
	return Song{}, false
}

// Len returns the total number of songs
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, songs := range l.categories {
		n += len(songs)
	}
	return n
}

// All returns every song, category by category in sorted category order
func (l *Library) All() []Song {
	cats := l.Categories()

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Song
	for _, c := range cats {
		out = append(out, l.categories[c]...)
	}
	return out
}

// NextGlobalAfter returns the song following k in the global order, wrapping
// to the first song overall. An unknown key also yields the first song.
func (l *Library) NextGlobalAfter(k Key) (Song, bool) {
	all := l.All()
	if len(all) == 0 {
		return Song{}, false
	}
	for i, s := range all {
		if s.Key() == k {
			return all[(i+1)%len(all)], true
		}
	}
	return all[0], true
}

// Missing returns the songs whose expected file does not exist
func (l *Library) Missing(paths Paths) []Song {
	var out []Song
	for _, s := range l.All() {
		if !paths.Exists(s) {
			out = append(out, s)
		}
	}
	return out
}
