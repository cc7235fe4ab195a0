package triage

import (
	"sort"
	"time"
)

// DefaultMaxMessagesPerChat is the conversation window size used when none is configured.
const DefaultMaxMessagesPerChat = 4

// UnknownName is the display name used when no sender field is populated.
const UnknownName = "unknown"

// Conversation is the per-chat view over the trailing window of its messages.
type Conversation struct {
	ChatID        string
	Name          string
	Messages      []Message // ascending by timestamp
	LastMessageAt time.Time
	Unanswered    bool
}

// Grouper turns a flat message stream into per-chat conversations.
type Grouper struct {
	maxPerChat int
}

// NewGrouper creates a grouper keeping at most maxPerChat trailing messages per chat.
func NewGrouper(maxPerChat int) *Grouper {
	if maxPerChat <= 0 {
		maxPerChat = DefaultMaxMessagesPerChat
	}
	return &Grouper{maxPerChat: maxPerChat}
}

// MaxPerChat returns the window size.
func (g *Grouper) MaxPerChat() int {
	return g.maxPerChat
}

// Group partitions msgs by chat id and returns one conversation per chat,
// most recently active first. Chat ids are not validated.
func (g *Grouper) Group(msgs []Message) []Conversation {
	if len(msgs) == 0 {
		return nil
	}

	var order []string
	byChat := make(map[string][]Message)
	for _, m := range msgs {
		if _, seen := byChat[m.ChatID]; !seen {
			order = append(order, m.ChatID)
		}
		byChat[m.ChatID] = append(byChat[m.ChatID], m)
	}

	convs := make([]Conversation, 0, len(order))
	for _, chatID := range order {
		chatMsgs := byChat[chatID]
		sort.SliceStable(chatMsgs, func(i, j int) bool {
			return chatMsgs[i].Timestamp < chatMsgs[j].Timestamp
		})

		window := chatMsgs
		if len(window) > g.maxPerChat {
			window = window[len(window)-g.maxPerChat:]
		}

		last := window[len(window)-1]
		convs = append(convs, Conversation{
			ChatID:        chatID,
			Name:          displayName(last),
			Messages:      window,
			LastMessageAt: last.Time(),
			Unanswered:    IsUnanswered(window),
		})
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
	return convs
}

// IsUnanswered reports whether the chronologically last message of the window
// is incoming. Older outgoing replies are not considered.
func IsUnanswered(window []Message) bool {
	if len(window) == 0 {
		return false
	}
	return window[len(window)-1].Direction == Incoming
}

// SelectOpen keeps the unanswered conversations, longest-waiting first.
func SelectOpen(convs []Conversation, now time.Time) []Conversation {
	open := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		if c.Unanswered {
			open = append(open, c)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return hoursSince(now, open[i].LastMessageAt) > hoursSince(now, open[j].LastMessageAt)
	})
	return open
}

// FilterGroups drops group chats unless includeGroups is set.
func FilterGroups(convs []Conversation, includeGroups bool) []Conversation {
	if includeGroups {
		return convs
	}
	kept := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		if !IsGroupChat(c.ChatID) {
			kept = append(kept, c)
		}
	}
	return kept
}

func hoursSince(now, t time.Time) float64 {
	return now.Sub(t).Hours()
}

func displayName(m Message) string {
	if m.SenderContactName != "" {
		return m.SenderContactName
	}
	if m.SenderName != "" {
		return m.SenderName
	}
	return UnknownName
}
