package triage

import (
	"strings"
	"time"
)

// Direction tells whether a message was received or sent by the operating user.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// Message is a normalized provider message. The provider message ID is the dedup key.
type Message struct {
	ID                string    `json:"id_message"`
	ChatID            string    `json:"chat_id"`
	Direction         Direction `json:"type"`
	Timestamp         int64     `json:"timestamp"`
	Kind              string    `json:"type_message"`
	Text              string    `json:"text_message,omitempty"`
	Caption           string    `json:"caption,omitempty"`
	SenderID          string    `json:"sender_id,omitempty"`
	SenderName        string    `json:"sender_name,omitempty"`
	SenderContactName string    `json:"sender_contact_name,omitempty"`
	IsForwarded       bool      `json:"is_forwarded"`
	ForwardingScore   int       `json:"forwarding_score"`
	DownloadURL       string    `json:"download_url,omitempty"`
	FileName          string    `json:"file_name,omitempty"`
	IsEdited          bool      `json:"is_edited"`
	IsDeleted         bool      `json:"is_deleted"`
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}

// IsGroupChat reports whether a chat id addresses a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, GroupSuffix)
}

// Chat id suffixes used by the provider.
const (
	DirectSuffix = "@c.us"
	GroupSuffix  = "@g.us"
)
