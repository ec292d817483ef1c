package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/myplayer/myplayer-go/internal/library"
)

// SourceStore maps song keys to custom acquisition URLs
type SourceStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSourceStore creates a new SourceStore
func NewSourceStore(db *sql.DB) *SourceStore {
	return &SourceStore{db: db}
}

// Set stores url under both the exact and the wildcard key of song, so the
// URL also applies if the song is listed under another category. An empty
// url clears both entries.
func (s *SourceStore) Set(song library.Song, url string) error {
	url = strings.TrimSpace(url)
	keys := []string{song.Key().String(), song.WildcardKey().String()}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if url == "" {
			_, err = tx.Exec("DELETE FROM custom_sources WHERE song_key = ?", k)
		} else {
			_, err = tx.Exec(`
				INSERT INTO custom_sources (song_key, url, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(song_key) DO UPDATE SET url = excluded.url, updated_at = excluded.updated_at
			`, k, url, time.Now())
		}
		if err != nil {
			return fmt.Errorf("failed to store custom source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get returns the URL stored under exactly k
func (s *SourceStore) Get(k library.Key) (string, bool, error) {
	var url string
	err := s.db.QueryRow("SELECT url FROM custom_sources WHERE song_key = ?", k.String()).Scan(&url)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get custom source: %w", err)
	}
	return url, true, nil
}

// All returns every stored key and URL
func (s *SourceStore) All() (map[string]string, error) {
	rows, err := s.db.Query("SELECT song_key, url FROM custom_sources ORDER BY song_key")
	if err != nil {
		return nil, fmt.Errorf("failed to list custom sources: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, url string
		if err := rows.Scan(&k, &url); err != nil {
			return nil, fmt.Errorf("failed to scan custom source: %w", err)
		}
		out[k] = url
	}
	return out, rows.Err()
}
