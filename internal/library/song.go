package library

import (
	"strings"
)

// Song identifies a track in the catalog
type Song struct {
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Album    string   `json:"album"`
	Artists  []string `json:"artists"`
}

// Key is the canonical identity of a song across history, favourites,
// playlists, custom sources and the duration cache
type Key struct {
	Category string
	Title    string
	Album    string
	Artists  string
}

// keySeparator joins key parts in the persisted string form
const keySeparator = "||"

// ArtistString returns the artists joined the way keys and filenames expect
func (s Song) ArtistString() string {
	return strings.Join(s.Artists, ", ")
}

// Key returns the canonical key for this song
func (s Song) Key() Key {
	return Key{
		Category: s.Category,
		Title:    s.Title,
		Album:    s.Album,
		Artists:  s.ArtistString(),
	}
}

// WildcardKey returns the key with the category replaced by "*".
// Custom sources stored under it apply to the song in any category.
func (s Song) WildcardKey() Key {
	k := s.Key()
	k.Category = "*"
	return k
}

// String renders the key as category||title||album||artists
func (k Key) String() string {
	return strings.Join([]string{k.Category, k.Title, k.Album, k.Artists}, keySeparator)
}

// IsZero reports whether the key is unset
func (k Key) IsZero() bool {
	return k == Key{}
}

// ParseKey parses the persisted string form of a key
func ParseKey(s string) (Key, bool) {
	parts := strings.Split(s, keySeparator)
	if len(parts) != 4 {
		return Key{}, false
	}
	return Key{Category: parts[0], Title: parts[1], Album: parts[2], Artists: parts[3]}, true
}

// SearchQuery builds the free-text search query for the song: title, artists, album
func (s Song) SearchQuery() string {
	return strings.Join(strings.Fields(s.Title+" "+s.ArtistString()+" "+s.Album), " ")
}
