package store

import (
	"time"

	"github.com/matheus3301/wpptriage/internal/report"
)

// Conversation is the persisted snapshot of a chat from the latest analysis.
type Conversation struct {
	ChatID          string `json:"chat_id"`
	ChatName        string `json:"chat_name"`
	LastMessageTime int64  `json:"last_message_time"` // unix seconds
	MessageCount    int    `json:"message_count"`
	IsUnanswered    bool   `json:"is_unanswered"`
	UpdatedAt       int64  `json:"updated_at"` // unix millis
}

// StoredReport is an analysis report row.
type StoredReport struct {
	ID        int64                 `json:"id"`
	RunID     string                `json:"run_id"`
	Report    report.PriorityReport `json:"report"`
	CreatedAt time.Time             `json:"created_at"`
}

// DailyStats holds the per-day counters.
type DailyStats struct {
	Date                    string `json:"date"` // YYYY-MM-DD
	TotalMessages           int    `json:"total_messages"`
	UnansweredConversations int    `json:"unanswered_conversations"`
	UrgentConversations     int    `json:"urgent_conversations"`
	ActiveChats             int    `json:"active_chats"`
	AnalysesRun             int    `json:"analyses_run"`
}

// HistoryDay aggregates conversation snapshots by the day of their last message.
type HistoryDay struct {
	Date               string  `json:"date"`
	Conversations      int     `json:"total_conversations"`
	Unanswered         int     `json:"unanswered_count"`
	AvgMessagesPerChat float64 `json:"avg_messages_per_chat"`
}

// OutboxEntry is an outgoing message and its delivery state.
type OutboxEntry struct {
	ID           int64  `json:"id"`
	ClientMsgID  string `json:"client_msg_id"`
	ChatID       string `json:"chat_id"`
	Body         string `json:"body"`
	Status       string `json:"status"` // queued, sending, sent, failed
	ErrorMessage string `json:"error_message,omitempty"`
	ServerMsgID  string `json:"server_msg_id,omitempty"`
	Attempts     int    `json:"attempts"`
	CreatedAt    int64  `json:"created_at"`
}

// Counts summarizes table sizes for the dashboard.
type Counts struct {
	Messages      int `json:"total_messages"`
	Conversations int `json:"total_conversations"`
	Unanswered    int `json:"unanswered_conversations"`
	Reports       int `json:"total_reports"`
	Outbox        int `json:"outbox_entries"`
}

// CleanupResult reports rows removed by CleanupOldData.
type CleanupResult struct {
	Messages int64 `json:"messages"`
	Reports  int64 `json:"reports"`
}

// DateKey formats t as a daily_stats key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
