package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordDailyStats stores the snapshot counters for s.Date and increments
// its analyses_run counter.
func (db *DB) RecordDailyStats(s DailyStats) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO daily_stats (date, total_messages, unanswered_conversations,
			urgent_conversations, active_chats, analyses_run, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_messages = excluded.total_messages,
			unanswered_conversations = excluded.unanswered_conversations,
			urgent_conversations = excluded.urgent_conversations,
			active_chats = excluded.active_chats,
			analyses_run = daily_stats.analyses_run + 1,
			updated_at = excluded.updated_at`,
		s.Date, s.TotalMessages, s.UnansweredConversations, s.UrgentConversations, s.ActiveChats, now)
	return err
}

// ReplaceDailyStats overwrites every counter for s.Date, including analyses_run.
func (db *DB) ReplaceDailyStats(s DailyStats) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO daily_stats (date, total_messages, unanswered_conversations,
			urgent_conversations, active_chats, analyses_run, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_messages = excluded.total_messages,
			unanswered_conversations = excluded.unanswered_conversations,
			urgent_conversations = excluded.urgent_conversations,
			active_chats = excluded.active_chats,
			analyses_run = excluded.analyses_run,
			updated_at = excluded.updated_at`,
		s.Date, s.TotalMessages, s.UnansweredConversations, s.UrgentConversations, s.ActiveChats, s.AnalysesRun, now)
	return err
}

// GetDailyStats returns counters for date; a day with no row yields zeros.
func (db *DB) GetDailyStats(date string) (*DailyStats, error) {
	s := DailyStats{Date: date}
	err := db.QueryRow(`
		SELECT total_messages, unanswered_conversations, urgent_conversations, active_chats, analyses_run
		FROM daily_stats WHERE date = ?`, date).
		Scan(&s.TotalMessages, &s.UnansweredConversations, &s.UrgentConversations, &s.ActiveChats, &s.AnalysesRun)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	return &s, nil
}

// Counts returns row counts used by the dashboard.
func (db *DB) Counts() (*Counts, error) {
	var c Counts
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM conversations WHERE is_unanswered = 1),
			(SELECT COUNT(*) FROM analysis_reports),
			(SELECT COUNT(*) FROM outbox)`).
		Scan(&c.Messages, &c.Conversations, &c.Unanswered, &c.Reports, &c.Outbox)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CleanupOldData removes messages and reports older than daysToKeep days.
func (db *DB) CleanupOldData(daysToKeep int) (*CleanupResult, error) {
	if daysToKeep <= 0 {
		daysToKeep = 30
	}
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var result CleanupResult
	res, err := tx.Exec(`DELETE FROM messages WHERE timestamp < ?`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}
	result.Messages, _ = res.RowsAffected()

	res, err = tx.Exec(`DELETE FROM analysis_reports WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("delete reports: %w", err)
	}
	result.Reports, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &result, nil
}
