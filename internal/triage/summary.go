package triage

import (
	"fmt"
	"time"
)

// Summary is the transcript projection of a conversation handed to the classifier.
type Summary struct {
	ChatID          string   `json:"chat_id"`
	ChatName        string   `json:"chat_name"`
	LastMessageTime string   `json:"last_message_time"`
	Messages        []string `json:"messages"`
	MessageCount    int      `json:"message_count"`
	Unanswered      bool     `json:"is_unanswered"`
}

// Summarize renders a conversation as transcript lines in loc (time.Local when nil).
func Summarize(c Conversation, loc *time.Location) Summary {
	if loc == nil {
		loc = time.Local
	}

	lines := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		sender := "me"
		if m.Direction == Incoming {
			sender = "them"
		}
		ts := m.Time().In(loc).Format("15:04")

		switch {
		case m.Text != "":
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", ts, sender, m.Text))
		case m.Caption != "":
			lines = append(lines, fmt.Sprintf("[%s] %s: (media) %s", ts, sender, m.Caption))
		default:
			lines = append(lines, fmt.Sprintf("[%s] %s: (media message)", ts, sender))
		}
	}

	name := c.Name
	if name == "" {
		name = UnknownName
	}

	return Summary{
		ChatID:          c.ChatID,
		ChatName:        name,
		LastMessageTime: c.LastMessageAt.In(loc).Format("2006-01-02 15:04"),
		Messages:        lines,
		MessageCount:    len(c.Messages),
		Unanswered:      c.Unanswered,
	}
}

// SummarizeAll summarizes convs preserving their order.
func SummarizeAll(convs []Conversation, loc *time.Location) []Summary {
	out := make([]Summary, 0, len(convs))
	for _, c := range convs {
		out = append(out, Summarize(c, loc))
	}
	return out
}
