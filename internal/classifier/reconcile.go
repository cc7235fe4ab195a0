package classifier

import (
	"github.com/matheus3301/wpptriage/internal/report"
	"github.com/matheus3301/wpptriage/internal/triage"
)

// UnclassifiedReason is attached to conversations the oracle left out.
const UnclassifiedReason = "not classified by the assistant"

// Reconcile makes r partition summaries: entries for unknown chats are
// dropped, a chat listed twice keeps its highest priority, omitted chats are
// appended as normal and TotalConversations is set to len(summaries).
func Reconcile(r *report.PriorityReport, summaries []triage.Summary) *report.PriorityReport {
	known := make(map[string]triage.Summary, len(summaries))
	for _, s := range summaries {
		known[s.ChatID] = s
	}

	seen := make(map[string]bool, len(summaries))
	keep := func(in []report.Entry) []report.Entry {
		out := make([]report.Entry, 0, len(in))
		for _, e := range in {
			s, ok := known[e.ChatID]
			if !ok || seen[e.ChatID] {
				continue
			}
			seen[e.ChatID] = true
			if e.ChatName == "" {
				e.ChatName = s.ChatName
			}
			out = append(out, e)
		}
		return out
	}

	out := &report.PriorityReport{
		Urgent:    keep(r.Urgent),
		Important: keep(r.Important),
		Normal:    keep(r.Normal),
		Summary:   r.Summary,
	}
	for _, s := range summaries {
		if seen[s.ChatID] {
			continue
		}
		seen[s.ChatID] = true
		out.Normal = append(out.Normal, report.Entry{
			ChatID:   s.ChatID,
			ChatName: s.ChatName,
			Reason:   UnclassifiedReason,
		})
	}
	out.TotalConversations = len(summaries)
	return out
}
