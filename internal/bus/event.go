package bus

import "time"

// Event kinds. Subscribers filter by prefix, e.g. "analysis.".
const (
	KindAnalysisStarted   = "analysis.started"
	KindAnalysisProgress  = "analysis.progress"
	KindAnalysisCompleted = "analysis.completed"
	KindAnalysisFailed    = "analysis.failed"
	KindIngestStored      = "ingest.stored"
	KindOutboxSent        = "outbox.sent"
	KindOutboxFailed      = "outbox.failed"
	KindSchedulerFired    = "scheduler.fired"
	KindConfigUpdated     = "config.updated"
	KindStatusChanged     = "status.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// IngestPayload accompanies KindIngestStored.
type IngestPayload struct {
	Received int
	Stored   int
	Failed   int
}

// OutboxPayload accompanies outbox events.
type OutboxPayload struct {
	ClientMsgID string
	ChatID      string
	ServerMsgID string
	Error       string
}

// ConfigPayload accompanies KindConfigUpdated.
type ConfigPayload struct {
	Configured bool
}
