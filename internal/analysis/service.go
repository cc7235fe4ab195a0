// Package analysis runs the triage pipeline: fetch, store, group, classify,
// format and deliver.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/bus"
	"github.com/matheus3301/wpptriage/internal/classifier"
	"github.com/matheus3301/wpptriage/internal/config"
	"github.com/matheus3301/wpptriage/internal/ingest"
	"github.com/matheus3301/wpptriage/internal/outbox"
	"github.com/matheus3301/wpptriage/internal/progress"
	"github.com/matheus3301/wpptriage/internal/report"
	"github.com/matheus3301/wpptriage/internal/store"
	"github.com/matheus3301/wpptriage/internal/triage"
)

// ErrNotConfigured is returned when the providers lack credentials.
var ErrNotConfigured = errors.New("analysis: providers not configured")

// Request describes one analysis run. Zero fields fall back to configuration.
type Request struct {
	TargetChatID string          `json:"target_chat_id,omitempty"`
	Minutes      int             `json:"minutes,omitempty"`
	Model        string          `json:"model,omitempty"`
	Override     config.Override `json:"config,omitzero"`
}

// Result is the outcome of a completed run.
type Result struct {
	RunID    string                 `json:"run_id"`
	Message  string                 `json:"message"`
	Report   *report.PriorityReport `json:"report"`
	Stored   bool                   `json:"stored"`
	Delivery *outbox.Delivery       `json:"delivery,omitempty"`
	Stats    Stats                  `json:"stats"`
}

// Service owns the pipeline and its shared state.
type Service struct {
	db      *store.DB
	ingest  *ingest.Engine
	tracker *progress.Tracker
	bus     *bus.Bus
	factory ClientFactory
	logger  *zap.Logger
	now     func() time.Time
	loc     *time.Location

	mu      sync.RWMutex
	cfg     config.Config
	clients Clients
	cls     *classifier.Classifier
	sender  *outbox.Sender

	stats statsBox
}

// NewService creates the pipeline with clients built by factory from cfg.
func NewService(cfg config.Config, factory ClientFactory, db *store.DB, ing *ingest.Engine,
	tracker *progress.Tracker, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		db:      db,
		ingest:  ing,
		tracker: tracker,
		bus:     b,
		factory: factory,
		logger:  logger,
		now:     time.Now,
		loc:     time.Local,
	}
	s.setConfig(cfg)
	return s
}

func (s *Service) setConfig(cfg config.Config) {
	clients := s.factory(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.clients = clients
	s.cls = s.newClassifier(cfg, clients.Oracle)
	if s.sender == nil {
		s.sender = outbox.NewSender(s.db, clients.Provider, s.bus, s.logger)
	}
	sender := s.sender
	s.mu.Unlock()
	sender.SetTextSender(clients.Provider)
}

func (s *Service) newClassifier(cfg config.Config, o classifier.Oracle) *classifier.Classifier {
	return classifier.New(o,
		classifier.WithModel(cfg.OpenRouter.Model),
		classifier.WithLogger(s.logger),
		classifier.WithReconcile(cfg.Analysis.Reconcile),
	)
}

// Config returns the active configuration.
func (s *Service) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig applies o to the active configuration and rebuilds the clients.
// Runs already in flight keep the configuration they started with.
func (s *Service) UpdateConfig(o config.Override, minutes int) config.Config {
	cfg := s.Config().WithOverride(o)
	if minutes > 0 {
		cfg.Analysis.Minutes = minutes
	}
	s.setConfig(cfg)
	s.logger.Info("configuration updated", zap.Bool("configured", cfg.Configured()))
	s.bus.Emit(bus.KindConfigUpdated, bus.ConfigPayload{Configured: cfg.Configured()})
	return cfg
}

// Sender returns the outbox sender bound to the active provider.
func (s *Service) Sender() *outbox.Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sender
}

// Provider returns the active messaging provider.
func (s *Service) Provider() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients.Provider
}

// Stats returns the dashboard counters.
func (s *Service) Stats() Stats {
	return s.stats.get()
}

type runEnv struct {
	cfg     config.Config
	clients Clients
	cls     *classifier.Classifier
	sender  *outbox.Sender
}

// resolve returns the collaborators for req, applying its override.
func (s *Service) resolve(req Request) (runEnv, error) {
	s.mu.RLock()
	env := runEnv{cfg: s.cfg, clients: s.clients, cls: s.cls, sender: s.sender}
	s.mu.RUnlock()

	if !req.Override.Empty() {
		if err := req.Override.Validate(); err != nil {
			return runEnv{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
		}
		env.cfg = env.cfg.WithOverride(req.Override)
		env.clients = s.factory(env.cfg)
		env.cls = s.newClassifier(env.cfg, env.clients.Oracle)
		env.sender = outbox.NewSender(s.db, env.clients.Provider, s.bus, s.logger)
	}
	if err := env.cfg.Validate(); err != nil {
		return runEnv{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	env.cls = env.cls.ForModel(req.Model)
	return env, nil
}

// Run executes one analysis. Transport failures abort the run with an
// error; an unparsable classification is still stored and delivered.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.NewString()
	s.tracker.Start(runID, "Starting analysis", "Connecting to Green API")
	s.bus.Emit(bus.KindAnalysisStarted, runID)

	res, err := s.run(ctx, runID, req)
	if err != nil {
		s.logger.Error("analysis failed", zap.String("run_id", runID), zap.Error(err))
		if ferr := s.tracker.Fail(runID, err); ferr != nil && !errors.Is(ferr, progress.ErrStaleRun) {
			s.logger.Warn("progress update rejected", zap.String("run_id", runID), zap.Error(ferr))
		}
		s.bus.Emit(bus.KindAnalysisFailed, err)
		return nil, err
	}
	s.bus.Emit(bus.KindAnalysisCompleted, res)
	return res, nil
}

func (s *Service) run(ctx context.Context, runID string, req Request) (*Result, error) {
	env, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	minutes := req.Minutes
	if minutes <= 0 {
		minutes = env.cfg.Analysis.Minutes
	}
	target := req.TargetChatID
	if target == "" {
		target = env.cfg.Recipient()
	}
	log := s.logger.With(zap.String("run_id", runID), zap.Int("minutes", minutes))
	log.Info("starting analysis")

	s.advance(runID, progress.Fetching, "Fetching messages", "Connecting to Green API")
	msgs, err := s.ingest.Fetch(ctx, env.clients.Provider, minutes, env.cfg.Analysis.IncludeOutgoing)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		log.Info("no messages found")
		return s.allClear(ctx, runID, env, target, "No messages found for analysis")
	}

	s.advance(runID, progress.Storing, "Finding open conversations", fmt.Sprintf("Found %d messages", len(msgs)))
	stored := s.ingest.Store(msgs)
	log.Info("messages stored", zap.Int("new", stored.Stored), zap.Int("failed", stored.Failed))

	now := s.now()
	s.stats.update(func(st *Stats) {
		st.TotalMessages = len(msgs)
		st.LastAnalysisTime = now
	})

	s.advance(runID, progress.Grouping, "Grouping messages by chat", "Detecting unanswered conversations")
	grouper := triage.NewGrouper(env.cfg.Analysis.MaxMessagesPerChat)
	convs := triage.FilterGroups(grouper.Group(msgs), env.cfg.Analysis.IncludeGroups)
	log.Debug("messages grouped", zap.Int("conversations", len(convs)), zap.Int("window", grouper.MaxPerChat()))
	s.ingest.Snapshot(convs)
	open := triage.SelectOpen(convs, now)
	s.stats.update(func(st *Stats) {
		st.ActiveChats = len(convs)
		st.UnansweredConversations = len(open)
	})
	if len(open) == 0 {
		log.Info("no open conversations", zap.Int("conversations", len(convs)))
		return s.allClear(ctx, runID, env, target, "No open conversations found")
	}

	s.advance(runID, progress.Classifying, "Prioritizing with AI", fmt.Sprintf("Analyzing %d conversations", len(open)))
	r, err := env.cls.Classify(ctx, triage.SummarizeAll(open, s.loc))
	if err != nil {
		return nil, err
	}
	stats := s.stats.update(func(st *Stats) { st.UrgentConversations = len(r.Urgent) })

	if _, err := s.db.InsertReport(runID, r, now); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	if err := s.db.RecordDailyStats(store.DailyStats{
		Date:                    store.DateKey(now),
		TotalMessages:           stats.TotalMessages,
		UnansweredConversations: stats.UnansweredConversations,
		UrgentConversations:     stats.UrgentConversations,
		ActiveChats:             stats.ActiveChats,
	}); err != nil {
		log.Warn("failed to record daily stats", zap.Error(err))
	}
	if err := s.db.SetState(store.StateLastAnalysis, now.UTC().Format(time.RFC3339)); err != nil {
		log.Warn("failed to record analysis time", zap.Error(err))
	}

	s.advance(runID, progress.Delivering, "Sending report", target)
	delivery, err := s.deliver(ctx, env, target, r)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Analysis completed. Found %d open conversations.", r.TotalConversations)
	s.advance(runID, progress.Completed, "Analysis completed", msg)
	log.Info("analysis completed",
		zap.Int("open", len(open)),
		zap.Int("classified", len(r.Entries())),
		zap.Int("urgent", len(r.Urgent)),
		zap.Int("important", len(r.Important)),
		zap.Int("normal", len(r.Normal)),
	)
	return &Result{
		RunID:    runID,
		Message:  msg,
		Report:   r,
		Stored:   true,
		Delivery: delivery,
		Stats:    s.stats.get(),
	}, nil
}

// allClear sends the canonical empty report. It is not stored.
func (s *Service) allClear(ctx context.Context, runID string, env runEnv, target, message string) (*Result, error) {
	r := report.Empty()
	s.advance(runID, progress.Delivering, "Sending report", target)
	delivery, err := s.deliver(ctx, env, target, r)
	if err != nil {
		return nil, err
	}
	s.advance(runID, progress.Completed, "Analysis completed", message)
	return &Result{
		RunID:    runID,
		Message:  message,
		Report:   r,
		Delivery: delivery,
		Stats:    s.stats.get(),
	}, nil
}

func (s *Service) deliver(ctx context.Context, env runEnv, target string, r *report.PriorityReport) (*outbox.Delivery, error) {
	text := report.NewFormatter(s.now).Format(r)
	d, err := env.sender.Deliver(ctx, target, text)
	if err != nil {
		return nil, fmt.Errorf("deliver report: %w", err)
	}
	return d, nil
}

// advance moves the progress tracker. A superseded run keeps going; its
// progress is simply no longer observable.
func (s *Service) advance(runID string, to progress.Phase, message, details string) {
	if err := s.tracker.Advance(runID, to, message, details); err != nil && !errors.Is(err, progress.ErrStaleRun) {
		s.logger.Warn("progress update rejected", zap.String("run_id", runID), zap.Error(err))
	}
}

// RefreshStatsFromReport resets the urgent and unanswered counters from the
// latest stored report and rewrites today's daily stats with them.
func (s *Service) RefreshStatsFromReport() (Stats, error) {
	latest, err := s.db.LatestReport()
	if err != nil {
		return Stats{}, err
	}
	if latest == nil {
		return s.Stats(), nil
	}
	stats := s.stats.update(func(st *Stats) {
		st.UrgentConversations = len(latest.Report.Urgent)
		st.UnansweredConversations = latest.Report.TotalConversations
	})
	today, err := s.db.GetDailyStats(store.DateKey(s.now()))
	if err != nil {
		return stats, err
	}
	today.UnansweredConversations = stats.UnansweredConversations
	today.UrgentConversations = stats.UrgentConversations
	return stats, s.db.ReplaceDailyStats(*today)
}

// Status returns the counters with the urgent and unanswered figures taken
// from the latest stored report when there is one. It makes no provider calls.
func (s *Service) Status() (Stats, error) {
	stats := s.Stats()
	latest, err := s.db.LatestReport()
	if err != nil {
		return stats, err
	}
	if latest != nil {
		stats.UnansweredConversations = latest.Report.TotalConversations
		stats.UrgentConversations = len(latest.Report.Urgent)
	}
	return stats, nil
}
