package store

import (
	"database/sql"
	"time"

	"github.com/matheus3301/wpptriage/internal/triage"
)

const messageColumns = `message_id, chat_id, direction, timestamp, type_message, text_message, caption,
	sender_id, sender_name, sender_contact_name, is_forwarded, forwarding_score,
	download_url, file_name, is_edited, is_deleted`

// InsertMessage stores m unless a message with the same provider id exists.
// It reports whether a new row was written.
func (db *DB) InsertMessage(m *triage.Message) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT OR IGNORE INTO messages (`+messageColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, string(m.Direction), m.Timestamp, m.Kind, m.Text, m.Caption,
		m.SenderID, m.SenderName, m.SenderContactName, m.IsForwarded, m.ForwardingScore,
		m.DownloadURL, m.FileName, m.IsEdited, m.IsDeleted, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecentMessages returns the newest messages first, optionally for one chat.
func (db *DB) RecentMessages(chatID string, limit int) ([]triage.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if chatID != "" {
		rows, err = db.Query(`SELECT `+messageColumns+` FROM messages
			WHERE chat_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, chatID, limit)
	} else {
		rows, err = db.Query(`SELECT `+messageColumns+` FROM messages
			ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MessagesByChat returns the latest limit messages of a chat in chronological order.
func (db *DB) MessagesByChat(chatID string, limit int) ([]triage.Message, error) {
	if limit <= 0 {
		limit = triage.DefaultMaxMessagesPerChat
	}
	msgs, err := db.RecentMessages(chatID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesSince returns messages with a timestamp at or after since, oldest first.
func (db *DB) MessagesSince(since time.Time) ([]triage.Message, error) {
	rows, err := db.Query(`SELECT `+messageColumns+` FROM messages
		WHERE timestamp >= ? ORDER BY timestamp ASC, id ASC`, since.Unix())
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// SearchMessages matches text and captions containing query.
func (db *DB) SearchMessages(query, chatID string, limit int) ([]triage.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := db.Query(`SELECT `+messageColumns+` FROM messages
		WHERE (text_message LIKE ? ESCAPE '\' OR caption LIKE ? ESCAPE '\')
			AND (? = '' OR chat_id = ?)
		ORDER BY timestamp DESC LIMIT ?`, pattern, pattern, chatID, chatID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]triage.Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []triage.Message
	for rows.Next() {
		var (
			m         triage.Message
			direction string
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &direction, &m.Timestamp, &m.Kind, &m.Text, &m.Caption,
			&m.SenderID, &m.SenderName, &m.SenderContactName, &m.IsForwarded, &m.ForwardingScore,
			&m.DownloadURL, &m.FileName, &m.IsEdited, &m.IsDeleted); err != nil {
			return nil, err
		}
		m.Direction = triage.Direction(direction)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func escapeLike(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
