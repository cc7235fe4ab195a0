package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wpptriage/internal/triage"
)

// MaxNormalShown is how many normal-priority entries Format lists before
// collapsing the rest into a "+N more" line.
const MaxNormalShown = 3

// Formatter renders a PriorityReport as a WhatsApp-friendly text message.
type Formatter struct {
	now func() time.Time
}

// NewFormatter creates a formatter stamping headers with now (time.Now when nil).
func NewFormatter(now func() time.Time) *Formatter {
	if now == nil {
		now = time.Now
	}
	return &Formatter{now: now}
}

// Format renders r. Output depends only on r and the clock.
func (f *Formatter) Format(r *PriorityReport) string {
	var lines []string
	lines = append(lines,
		"📊 *Open Conversations Report*",
		"📅 Generated: "+f.now().Format("2006-01-02 15:04"),
		fmt.Sprintf("📈 Open conversations: %d", r.TotalConversations),
		"",
	)

	if len(r.Urgent) > 0 {
		lines = append(lines, "🚨 *Urgent:*")
		lines = appendDetailed(lines, r.Urgent)
		lines = append(lines, "")
	}
	if len(r.Important) > 0 {
		lines = append(lines, "⭐ *Important:*")
		lines = appendDetailed(lines, r.Important)
		lines = append(lines, "")
	}
	if len(r.Normal) > 0 {
		lines = append(lines, "📝 *Normal:*")
		for i, e := range r.Normal {
			if i == MaxNormalShown {
				lines = append(lines, fmt.Sprintf("• +%d more", len(r.Normal)-MaxNormalShown))
				break
			}
			lines = append(lines, fmt.Sprintf("• %s (%s)", nameOf(e), Phone(e.ChatID)))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "📋 *Summary:*", r.Summary)
	return strings.Join(lines, "\n")
}

func appendDetailed(lines []string, entries []Entry) []string {
	for _, e := range entries {
		if triage.IsGroupChat(e.ChatID) {
			lines = append(lines, fmt.Sprintf("• %s (group)", nameOf(e)))
		} else {
			lines = append(lines,
				fmt.Sprintf("• %s (%s)", nameOf(e), Phone(e.ChatID)),
				"  💬 "+ContactLink(e.ChatID),
			)
		}
		lines = append(lines, "  📌 Reason: "+e.Reason)
		if e.SuggestedResponse != "" {
			lines = append(lines, "  💡 Suggested: "+e.SuggestedResponse)
		}
	}
	return lines
}

// Phone strips the provider chat suffixes from a chat id.
func Phone(chatID string) string {
	return strings.NewReplacer(triage.DirectSuffix, "", triage.GroupSuffix, "").Replace(chatID)
}

// ContactLink returns the wa.me link for a direct chat id.
func ContactLink(chatID string) string {
	return "https://wa.me/" + Phone(chatID)
}

func nameOf(e Entry) string {
	if e.ChatName == "" {
		return "unknown"
	}
	return e.ChatName
}
