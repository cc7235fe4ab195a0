package store

import "time"

// UpsertConversation writes the latest snapshot for a chat.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (chat_id, chat_name, last_message_time, message_count, is_unanswered, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			chat_name = excluded.chat_name,
			last_message_time = excluded.last_message_time,
			message_count = excluded.message_count,
			is_unanswered = excluded.is_unanswered,
			updated_at = excluded.updated_at`,
		c.ChatID, c.ChatName, c.LastMessageTime, c.MessageCount, c.IsUnanswered, now)
	return err
}

// ListConversations returns snapshots sorted by last message time descending.
// When unansweredOnly is set only open chats are returned.
func (db *DB) ListConversations(unansweredOnly bool, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT chat_id, chat_name, last_message_time, message_count, is_unanswered, updated_at
		FROM conversations
		WHERE (? = 0 OR is_unanswered = 1)
		ORDER BY last_message_time DESC
		LIMIT ?`, unansweredOnly, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ChatID, &c.ChatName, &c.LastMessageTime, &c.MessageCount, &c.IsUnanswered, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ConversationHistory groups snapshots whose last message falls in the last
// days days by local calendar date, newest day first.
func (db *DB) ConversationHistory(days int) ([]HistoryDay, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days).Unix()
	rows, err := db.Query(`
		SELECT DATE(last_message_time, 'unixepoch', 'localtime') AS day,
			COUNT(*),
			SUM(CASE WHEN is_unanswered = 1 THEN 1 ELSE 0 END),
			AVG(message_count)
		FROM conversations
		WHERE last_message_time >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []HistoryDay
	for rows.Next() {
		var h HistoryDay
		if err := rows.Scan(&h.Date, &h.Conversations, &h.Unanswered, &h.AvgMessagesPerChat); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
