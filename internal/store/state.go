package store

import (
	"database/sql"
	"time"
)

// Keys stored in sync_state.
const (
	StateLastRefresh  = "last_refresh_at"
	StateLastAnalysis = "last_analysis_at"
)

// SetState upserts a key/value checkpoint.
func (db *DB) SetState(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetState returns the value for key, or "" when it has never been set.
func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
