package analysis

import (
	"sync"
	"time"
)

// Stats are the process-lifetime dashboard counters.
type Stats struct {
	TotalMessages           int       `json:"total_messages"`
	UnansweredConversations int       `json:"unanswered_conversations"`
	UrgentConversations     int       `json:"urgent_conversations"`
	ActiveChats             int       `json:"active_chats"`
	LastAnalysisTime        time.Time `json:"last_analysis_time,omitzero"`
}

type statsBox struct {
	mu sync.RWMutex
	s  Stats
}

func (b *statsBox) get() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s
}

func (b *statsBox) update(fn func(*Stats)) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.s)
	return b.s
}
