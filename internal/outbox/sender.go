// Package outbox records and delivers outgoing WhatsApp messages.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/bus"
	"github.com/matheus3301/wpptriage/internal/store"
	"github.com/matheus3301/wpptriage/internal/triage"
)

const (
	// DefaultInterval is how often queued and failed entries are retried.
	DefaultInterval = 30 * time.Second
	// MaxAttempts bounds how many times one entry is sent before it stays failed.
	MaxAttempts = 5
)

// ErrEmptyMessage is returned for a blank chat id or body.
var ErrEmptyMessage = errors.New("chat id and message are required")

// TextSender is the interface for sending text messages via WhatsApp.
type TextSender interface {
	SendMessage(ctx context.Context, chatID, text string) (serverMsgID string, err error)
}

// Delivery identifies a sent message.
type Delivery struct {
	ClientMsgID string `json:"client_msg_id"`
	ServerMsgID string `json:"message_id"`
}

// Sender records outgoing messages in the outbox and delivers them.
type Sender struct {
	db       *store.DB
	sender   TextSender
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex // serializes sends
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender TextSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		sender:   sender,
		bus:      b,
		logger:   logger,
		interval: DefaultInterval,
	}
}

// SetInterval changes the retry interval. It must be called before Start.
func (s *Sender) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// SetTextSender swaps the transport used by subsequent sends.
func (s *Sender) SetTextSender(ts TextSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = ts
}

// Deliver queues body for chatID and sends it immediately. The entry stays
// in the outbox with its final status either way.
func (s *Sender) Deliver(ctx context.Context, chatID, body string) (*Delivery, error) {
	if chatID == "" || strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clientMsgID := uuid.NewString()
	if err := s.db.QueueOutbox(clientMsgID, chatID, body); err != nil {
		return nil, fmt.Errorf("queue outbox: %w", err)
	}
	serverMsgID, err := s.send(ctx, store.OutboxEntry{ClientMsgID: clientMsgID, ChatID: chatID, Body: body})
	if err != nil {
		return nil, err
	}
	return &Delivery{ClientMsgID: clientMsgID, ServerMsgID: serverMsgID}, nil
}

// Enqueue stores body for later delivery by the background loop.
func (s *Sender) Enqueue(chatID, body string) (string, error) {
	if chatID == "" || strings.TrimSpace(body) == "" {
		return "", ErrEmptyMessage
	}
	clientMsgID := uuid.NewString()
	if err := s.db.QueueOutbox(clientMsgID, chatID, body); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}
	return clientMsgID, nil
}

// Start requeues entries interrupted mid-send and begins polling the outbox.
func (s *Sender) Start(ctx context.Context) {
	s.mu.Lock()
	n, err := s.db.RequeueStaleOutbox()
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("failed to requeue stale outbox entries", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued stale outbox entries", zap.Int64("count", n))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	s.Flush(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Flush attempts every queued entry, and every failed entry under
// MaxAttempts, once. It returns how many were sent.
func (s *Sender) Flush(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.db.PendingOutbox(MaxAttempts)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return 0
	}

	sent := 0
	for _, entry := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.send(ctx, entry); err == nil {
			sent++
		}
	}
	return sent
}

// send delivers one entry and records the outcome. Callers hold s.mu.
func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) (string, error) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		return "", fmt.Errorf("mark sending: %w", err)
	}

	serverMsgID, err := s.sender.SendMessage(ctx, entry.ChatID, entry.Body)
	if err != nil {
		s.logger.Error("failed to send message",
			zap.Error(err),
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.Int("attempt", entry.Attempts+1),
		)
		if markErr := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark failed", zap.Error(markErr), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.bus.Emit(bus.KindOutboxFailed, bus.OutboxPayload{
			ClientMsgID: entry.ClientMsgID,
			ChatID:      entry.ChatID,
			Error:       err.Error(),
		})
		return "", fmt.Errorf("send message: %w", err)
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}

	// Record the reply locally so the chat reads as answered before the
	// provider reports it back.
	id := serverMsgID
	if id == "" {
		id = entry.ClientMsgID
	}
	if _, err := s.db.InsertMessage(&triage.Message{
		ID:        id,
		ChatID:    entry.ChatID,
		Direction: triage.Outgoing,
		Timestamp: time.Now().Unix(),
		Kind:      "textMessage",
		Text:      entry.Body,
	}); err != nil {
		s.logger.Warn("failed to record sent message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}

	s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", serverMsgID))
	s.bus.Emit(bus.KindOutboxSent, bus.OutboxPayload{
		ClientMsgID: entry.ClientMsgID,
		ChatID:      entry.ChatID,
		ServerMsgID: serverMsgID,
	})
	return serverMsgID, nil
}
