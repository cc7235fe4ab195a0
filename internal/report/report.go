// Package report defines the prioritized triage report and its text rendering.
package report

// EmptySummary is the summary text of the canonical report for a run with
// nothing open.
const EmptySummary = "No open conversations to analyze."

// Entry is one classified conversation.
type Entry struct {
	ChatID            string `json:"chat_id"`
	ChatName          string `json:"chat_name"`
	Reason            string `json:"reason"`
	SuggestedResponse string `json:"suggested_response,omitempty"`
}

// PriorityReport is the classifier outcome for one analysis run. The three
// lists are expected to partition the open conversations but this is not
// enforced.
type PriorityReport struct {
	Urgent             []Entry `json:"urgent_conversations"`
	Important          []Entry `json:"important_conversations"`
	Normal             []Entry `json:"normal_conversations"`
	Summary            string  `json:"summary"`
	TotalConversations int     `json:"total_conversations"`
}

// Empty returns the canonical all-clear report.
func Empty() *PriorityReport {
	return &PriorityReport{
		Urgent:    []Entry{},
		Important: []Entry{},
		Normal:    []Entry{},
		Summary:   EmptySummary,
	}
}

// Degraded returns a report with empty lists carrying summary as its explanation.
func Degraded(summary string) *PriorityReport {
	r := Empty()
	r.Summary = summary
	return r
}

// Entries returns every entry in urgent, important, normal order.
func (r *PriorityReport) Entries() []Entry {
	out := make([]Entry, 0, len(r.Urgent)+len(r.Important)+len(r.Normal))
	out = append(out, r.Urgent...)
	out = append(out, r.Important...)
	return append(out, r.Normal...)
}
