package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/myplayer/myplayer-go/internal/library"
)

// PlayRecord is the play count of one song
type PlayRecord struct {
	Song       library.Song `json:"song"`
	Plays      int          `json:"plays"`
	LastPlayed time.Time    `json:"last_played"`
}

// HistoryStore records which songs were played
type HistoryStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistoryStore creates a new HistoryStore
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db, now: time.Now}
}

// RecordPlay increments the play count of song
func (h *HistoryStore) RecordPlay(song library.Song) error {
	_, err := h.db.Exec(`
		INSERT INTO play_history (song_key, category, title, album, artists, plays, last_played)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(song_key) DO UPDATE SET plays = plays + 1, last_played = excluded.last_played
	`, song.Key().String(), song.Category, song.Title, song.Album, song.ArtistString(), h.now())
	if err != nil {
		return fmt.Errorf("failed to record play: %w", err)
	}
	return nil
}

// Plays returns the play count and last play time of a song
func (h *HistoryStore) Plays(k library.Key) (int, time.Time, error) {
	var plays int
	var last sql.NullTime
	err := h.db.QueryRow("SELECT plays, last_played FROM play_history WHERE song_key = ?", k.String()).Scan(&plays, &last)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get play count: %w", err)
	}
	return plays, last.Time, nil
}

// Recent returns the most recently played songs, newest first
func (h *HistoryStore) Recent(limit int) ([]PlayRecord, error) {
	rows, err := h.db.Query(`
		SELECT category, title, album, artists, plays, last_played
		FROM play_history
		ORDER BY last_played DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query play history: %w", err)
	}
	defer rows.Close()

	var out []PlayRecord
	for rows.Next() {
		var rec PlayRecord
		var album, artists sql.NullString
		var last sql.NullTime
		if err := rows.Scan(&rec.Song.Category, &rec.Song.Title, &album, &artists, &rec.Plays, &last); err != nil {
			return nil, fmt.Errorf("failed to scan play history: %w", err)
		}
		rec.Song.Album = album.String
		for _, a := range strings.Split(artists.String, ", ") {
			if a != "" {
				rec.Song.Artists = append(rec.Song.Artists, a)
			}
		}
		rec.LastPlayed = last.Time
		out = append(out, rec)
	}
	return out, rows.Err()
}
