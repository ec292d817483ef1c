package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/myplayer/myplayer-go/internal/library"
)

// DurationStore caches track lengths in seconds
type DurationStore struct {
	db *sql.DB
}

// NewDurationStore creates a new DurationStore
func NewDurationStore(db *sql.DB) *DurationStore {
	return &DurationStore{db: db}
}

// Put records the length of a song. Non-positive values are ignored.
func (d *DurationStore) Put(k library.Key, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	_, err := d.db.Exec(`
		INSERT INTO durations (song_key, seconds, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(song_key) DO UPDATE SET seconds = excluded.seconds, updated_at = excluded.updated_at
	`, k.String(), seconds, time.Now())
	if err != nil {
		return fmt.Errorf("failed to store duration: %w", err)
	}
	return nil
}

// Get returns the cached length of a song
func (d *DurationStore) Get(k library.Key) (float64, bool, error) {
	var seconds float64
	err := d.db.QueryRow("SELECT seconds FROM durations WHERE song_key = ?", k.String()).Scan(&seconds)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get duration: %w", err)
	}
	return seconds, true, nil
}

// Delete drops the cached length, e.g. after the file was re-fetched
func (d *DurationStore) Delete(k library.Key) error {
	if _, err := d.db.Exec("DELETE FROM durations WHERE song_key = ?", k.String()); err != nil {
		return fmt.Errorf("failed to delete duration: %w", err)
	}
	return nil
}
