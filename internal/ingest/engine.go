// Package ingest fetches recent messages from the provider and records them locally.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/bus"
	"github.com/matheus3301/wpptriage/internal/store"
	"github.com/matheus3301/wpptriage/internal/triage"
)

// Source is the slice of the messaging provider the engine reads from.
type Source interface {
	LastIncomingMessages(ctx context.Context, minutes int) ([]triage.Message, error)
	LastOutgoingMessages(ctx context.Context, minutes int) ([]triage.Message, error)
}

// Result counts what a Store call did.
type Result struct {
	Received int `json:"received"`
	Stored   int `json:"stored"`
	Failed   int `json:"failed"`
}

// Engine handles idempotent ingestion of messages into the store.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewEngine creates a new ingest engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Fetch returns the messages of the last minutes. Outgoing messages are
// merged in when includeOutgoing is set; they are what marks a chat as answered.
func (e *Engine) Fetch(ctx context.Context, src Source, minutes int, includeOutgoing bool) ([]triage.Message, error) {
	msgs, err := src.LastIncomingMessages(ctx, minutes)
	if err != nil {
		return nil, fmt.Errorf("fetch incoming: %w", err)
	}
	if !includeOutgoing {
		return msgs, nil
	}
	out, err := src.LastOutgoingMessages(ctx, minutes)
	if err != nil {
		return nil, fmt.Errorf("fetch outgoing: %w", err)
	}
	return merge(msgs, out), nil
}

// merge appends b to a, skipping ids already present.
func merge(a, b []triage.Message) []triage.Message {
	seen := make(map[string]bool, len(a)+len(b))
	merged := make([]triage.Message, 0, len(a)+len(b))
	for _, list := range [][]triage.Message{a, b} {
		for _, m := range list {
			if m.ID != "" && seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}
	return merged
}

// Store writes msgs to the local database. Duplicates are ignored and a
// message that fails to store is logged and skipped.
func (e *Engine) Store(msgs []triage.Message) Result {
	res := Result{Received: len(msgs)}
	for i := range msgs {
		inserted, err := e.db.InsertMessage(&msgs[i])
		if err != nil {
			e.logger.Warn("failed to store message",
				zap.String("message_id", msgs[i].ID),
				zap.String("chat_id", msgs[i].ChatID),
				zap.Error(err))
			res.Failed++
			continue
		}
		if inserted {
			res.Stored++
		}
	}

	e.logger.Debug("messages stored",
		zap.Int("received", res.Received),
		zap.Int("stored", res.Stored),
		zap.Int("failed", res.Failed))
	e.bus.Emit(bus.KindIngestStored, bus.IngestPayload{
		Received: res.Received,
		Stored:   res.Stored,
		Failed:   res.Failed,
	})
	return res
}

// Refresh fetches the last minutes from src and stores them.
func (e *Engine) Refresh(ctx context.Context, src Source, minutes int, includeOutgoing bool) (Result, error) {
	msgs, err := e.Fetch(ctx, src, minutes, includeOutgoing)
	if err != nil {
		return Result{}, err
	}
	res := e.Store(msgs)
	if err := e.db.SetState(store.StateLastRefresh, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("failed to record refresh time", zap.Error(err))
	}
	return res, nil
}

// Snapshot persists one row per conversation from the latest grouping.
// Failures are logged and skipped.
func (e *Engine) Snapshot(convs []triage.Conversation) int {
	saved := 0
	for _, c := range convs {
		err := e.db.UpsertConversation(&store.Conversation{
			ChatID:          c.ChatID,
			ChatName:        c.Name,
			LastMessageTime: c.LastMessageAt.Unix(),
			MessageCount:    len(c.Messages),
			IsUnanswered:    c.Unanswered,
		})
		if err != nil {
			e.logger.Warn("failed to save conversation", zap.String("chat_id", c.ChatID), zap.Error(err))
			continue
		}
		saved++
	}
	return saved
}
