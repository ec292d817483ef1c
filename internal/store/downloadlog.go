package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DownloadEntry records the outcome of one finished download job
type DownloadEntry struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	SongKey    string    `json:"song_key"`
	Title      string    `json:"title"`
	Lane       string    `json:"lane"`
	OK         bool      `json:"ok"`
	Skipped    bool      `json:"skipped"`
	ErrorType  string    `json:"error_type,omitempty"`
	Message    string    `json:"message,omitempty"`
	Path       string    `json:"path,omitempty"`
	Duration   int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// DownloadStats summarises the download log
type DownloadStats struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// DownloadLog is an append-only log of download outcomes
type DownloadLog struct {
	db *sql.DB
}

// NewDownloadLog creates a new DownloadLog
func NewDownloadLog(db *sql.DB) *DownloadLog {
	return &DownloadLog{db: db}
}

// Record appends an entry
func (l *DownloadLog) Record(e *DownloadEntry) error {
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}

	res, err := l.db.Exec(`
		INSERT INTO download_log (
			job_id, song_key, title, lane, ok, skipped,
			error_type, message, path, duration_ms, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.JobID,
		e.SongKey,
		e.Title,
		e.Lane,
		e.OK,
		e.Skipped,
		e.ErrorType,
		e.Message,
		e.Path,
		e.Duration,
		e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// RecentFailures returns the newest failed entries first
func (l *DownloadLog) RecentFailures(limit int) ([]*DownloadEntry, error) {
	rows, err := l.db.Query(`
		SELECT id, job_id, song_key, title, lane, ok, skipped,
		       error_type, message, path, duration_ms, finished_at
		FROM download_log
		WHERE ok = 0
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query download log: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ForSong returns every entry recorded for a song key, oldest first
func (l *DownloadLog) ForSong(songKey string) ([]*DownloadEntry, error) {
	rows, err := l.db.Query(`
		SELECT id, job_id, song_key, title, lane, ok, skipped,
		       error_type, message, path, duration_ms, finished_at
		FROM download_log
		WHERE song_key = ?
		ORDER BY id
	`, songKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query download log: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Stats returns aggregate counts over the whole log
func (l *DownloadLog) Stats() (*DownloadStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN ok = 1 AND skipped = 0 THEN 1 ELSE 0 END), 0) as ok,
			COALESCE(SUM(CASE WHEN skipped = 1 THEN 1 ELSE 0 END), 0) as skipped,
			COALESCE(SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), 0) as failed
		FROM download_log
	`

	stats := &DownloadStats{}
	err := l.db.QueryRow(query).Scan(
		&stats.Total,
		&stats.OK,
		&stats.Skipped,
		&stats.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get download stats: %w", err)
	}

	return stats, nil
}

// Prune deletes entries finished before cutoff
func (l *DownloadLog) Prune(cutoff time.Time) (int64, error) {
	res, err := l.db.Exec("DELETE FROM download_log WHERE finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune download log: %w", err)
	}
	return res.RowsAffected()
}

// scanEntries scans multiple log entries from rows
func scanEntries(rows *sql.Rows) ([]*DownloadEntry, error) {
	entries := []*DownloadEntry{}

	for rows.Next() {
		e := &DownloadEntry{}
		var errorType, message, path sql.NullString

		err := rows.Scan(
			&e.ID,
			&e.JobID,
			&e.SongKey,
			&e.Title,
			&e.Lane,
			&e.OK,
			&e.Skipped,
			&errorType,
			&message,
			&path,
			&e.Duration,
			&e.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download entry: %w", err)
		}

		e.ErrorType = errorType.String
		e.Message = message.String
		e.Path = path.String
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}
