package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/analysis"
	"github.com/matheus3301/wpptriage/internal/config"
	"github.com/matheus3301/wpptriage/internal/greenapi"
	"github.com/matheus3301/wpptriage/internal/oracle"
	"github.com/matheus3301/wpptriage/internal/outbox"
	"github.com/matheus3301/wpptriage/internal/report"
	"github.com/matheus3301/wpptriage/internal/store"
	"github.com/matheus3301/wpptriage/internal/triage"
)

const (
	defaultMessagesMinutes = 60
	urgentMessageLimit     = 4
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]any{"success": false, "detail": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	// A run outlives the request that started it.
	res, err := s.deps.Analysis.Run(context.WithoutCancel(r.Context()), req)
	switch {
	case errors.Is(err, analysis.ErrNotConfigured):
		s.writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*analysis.Result
	}{true, res})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tracker.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Analysis.Status()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	cfg := s.deps.Analysis.Config()
	snap := s.deps.Tracker.Snapshot()
	resp := map[string]any{
		"account_status":   "cached",
		"bot_stats":        stats,
		"configured":       cfg.Configured(),
		"model":            cfg.OpenRouter.Model,
		"progress":         snap,
		"analysis_running": snap.Running(),
		"message":          "Data from cache and database",
	}
	if s.deps.Status != nil {
		resp["daemon_state"] = s.deps.Status.Current()
	}
	writeJSON(w, http.StatusOK, resp)
}

type connectionChecker interface {
	State(ctx context.Context, force bool) greenapi.ConnectionStatus
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	checker, ok := s.deps.Analysis.Provider().(connectionChecker)
	if !ok {
		s.writeError(w, http.StatusNotImplemented, errors.New("provider does not report connection state"))
		return
	}
	writeJSON(w, http.StatusOK, checker.State(r.Context(), queryBool(r, "force")))
}

type settingsFetcher interface {
	AccountSettings(ctx context.Context) (map[string]any, error)
}

func (s *Server) handleAccountSettings(w http.ResponseWriter, r *http.Request) {
	fetcher, ok := s.deps.Analysis.Provider().(settingsFetcher)
	if !ok {
		s.writeError(w, http.StatusNotImplemented, errors.New("provider does not expose account settings"))
		return
	}
	settings, err := fetcher.AccountSettings(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": settings})
}

type sendMessageRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
	Queue   bool   `json:"queue"` // leave for the retry loop instead of sending now
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Queue {
		id, err := s.deps.Analysis.Sender().Enqueue(req.ChatID, req.Message)
		switch {
		case errors.Is(err, outbox.ErrEmptyMessage):
			s.writeError(w, http.StatusBadRequest, err)
		case err != nil:
			s.writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "queued": true, "client_msg_id": id})
		}
		return
	}

	d, err := s.deps.Analysis.Sender().Deliver(r.Context(), req.ChatID, req.Message)
	switch {
	case errors.Is(err, outbox.ErrEmptyMessage):
		s.writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": d})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	minutes, err := queryInt(r, "minutes", defaultMessagesMinutes)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	since := s.now().Add(-time.Duration(minutes) * time.Minute)
	msgs, err := s.deps.DB.MessagesSince(since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if queryBool(r, "exclude_groups") {
		kept := msgs[:0]
		for _, m := range msgs {
			if !triage.IsGroupChat(m.ChatID) {
				kept = append(kept, m)
			}
		}
		msgs = kept
	}
	writeMessages(w, msgs)
}

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("q is required"))
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	msgs, err := s.deps.DB.SearchMessages(q, r.URL.Query().Get("chat_id"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeMessages(w, msgs)
}

// handleChatMessages returns stored messages of a chat, newest first.
func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	msgs, err := s.deps.DB.RecentMessages(r.PathValue("chat_id"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeMessages(w, msgs)
}

type historyFetcher interface {
	ChatHistory(ctx context.Context, chatID string, count int) []triage.Message
}

// handleChatHistory reads the chat history from the provider, oldest first.
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", urgentMessageLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	fetcher, ok := s.deps.Analysis.Provider().(historyFetcher)
	if !ok {
		s.writeError(w, http.StatusNotImplemented, errors.New("provider does not expose chat history"))
		return
	}
	writeMessages(w, fetcher.ChatHistory(r.Context(), r.PathValue("chat_id"), count))
}

func writeMessages(w http.ResponseWriter, msgs []triage.Message) {
	if msgs == nil {
		msgs = []triage.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": msgs})
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.deps.DB.ListOutbox(r.URL.Query().Get("status"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []store.OutboxEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	minutes, err := queryInt(r, "minutes", defaultMessagesMinutes)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg := s.deps.Analysis.Config()
	if err := cfg.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.deps.Ingest.Refresh(r.Context(), s.deps.Analysis.Provider(), minutes, cfg.Analysis.IncludeOutgoing)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        fmt.Sprintf("Fetched %d messages from Green API", res.Received),
		"messages_count": res.Received,
		"stored":         res.Stored,
	})
}

func (s *Server) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.DB.Counts()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	today, err := s.deps.DB.GetDailyStats(store.DateKey(s.now()))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	history, err := s.deps.DB.ConversationHistory(7)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if history == nil {
		history = []store.HistoryDay{}
	}
	version, dirty, err := s.deps.DB.SchemaVersion()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	lastRefresh, _ := s.deps.DB.GetState(store.StateLastRefresh)
	lastAnalysis, _ := s.deps.DB.GetState(store.StateLastAnalysis)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats": map[string]any{
			"counts":         counts,
			"today":          today,
			"history":        history,
			"schema_version": version,
			"schema_dirty":   dirty,
			"last_refresh":   lastRefresh,
			"last_analysis":  lastAnalysis,
		},
	})
}

type urgentConversation struct {
	ChatID   string           `json:"chat_id"`
	ChatName string           `json:"chat_name"`
	Reason   string           `json:"reason"`
	Link     string           `json:"link,omitempty"`
	Messages []triage.Message `json:"messages"`
}

func (s *Server) handleUrgentConversations(w http.ResponseWriter, r *http.Request) {
	latest, err := s.deps.DB.LatestReport()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	convs := []urgentConversation{}
	if latest != nil {
		for _, e := range latest.Report.Urgent {
			msgs, err := s.deps.DB.MessagesByChat(e.ChatID, urgentMessageLimit)
			if err != nil {
				s.writeError(w, http.StatusInternalServerError, err)
				return
			}
			if msgs == nil {
				msgs = []triage.Message{}
			}
			uc := urgentConversation{ChatID: e.ChatID, ChatName: e.ChatName, Reason: e.Reason, Messages: msgs}
			if !triage.IsGroupChat(e.ChatID) {
				uc.Link = report.ContactLink(e.ChatID)
			}
			convs = append(convs, uc)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversations": convs})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	reports, err := s.deps.DB.ListReports(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if reports == nil {
		reports = []store.StoredReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reports": reports})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sr, err := s.deps.DB.GetReport(r.PathValue("run_id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sr == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("report %q not found", r.PathValue("run_id")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "report": sr})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	convs, err := s.deps.DB.ListConversations(queryBool(r, "unanswered"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversations": convs})
}

func (s *Server) handleRefreshStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Analysis.RefreshStatsFromReport()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

type configUpdate struct {
	GreenAPIURL      string `json:"green_api_url"`
	GreenAPIID       string `json:"green_api_id_instance"`
	GreenAPIToken    string `json:"green_api_token_instance"`
	UserPhoneNumber  string `json:"user_phone_number"`
	OpenRouterKey    string `json:"openrouter_api_key"`
	OpenRouterModel  string `json:"openrouter_model"`
	AnalysisInterval int    `json:"analysis_interval"`
	Persist          bool   `json:"persist"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpdate
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AnalysisInterval < 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("analysis_interval must not be negative"))
		return
	}

	updates := map[string]any{}
	mark := func(key, value string) {
		if value != "" {
			updates[key] = "Updated"
		}
	}
	mark("green_api_url", req.GreenAPIURL)
	mark("green_api_id_instance", req.GreenAPIID)
	mark("green_api_token_instance", req.GreenAPIToken)
	mark("user_phone_number", req.UserPhoneNumber)
	mark("openrouter_api_key", req.OpenRouterKey)
	if req.OpenRouterModel != "" {
		updates["openrouter_model"] = req.OpenRouterModel
	}
	if req.AnalysisInterval > 0 {
		updates["analysis_interval"] = req.AnalysisInterval
	}

	cfg := s.deps.Analysis.UpdateConfig(config.Override{
		GreenAPIURL:     req.GreenAPIURL,
		GreenAPIID:      req.GreenAPIID,
		GreenAPIToken:   req.GreenAPIToken,
		UserPhoneNumber: req.UserPhoneNumber,
		OpenRouterKey:   req.OpenRouterKey,
		AIModel:         req.OpenRouterModel,
	}, req.AnalysisInterval)

	persisted := false
	if req.Persist && s.deps.ConfigPath != "" {
		if err := config.Save(s.deps.ConfigPath, cfg); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("save config: %w", err))
			return
		}
		persisted = true
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Configuration updated",
		"updates":   updates,
		"persisted": persisted,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"models":    oracle.Models(r.URL.Query().Get("provider")),
		"providers": oracle.Providers(),
	})
}

func (s *Server) handleCronStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Scheduler.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"enabled":  st.Enabled,
		"schedule": st.Schedule,
		"next_run": st.NextRun,
	})
}

type cronUpdate struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

func (s *Server) handleCronUpdate(w http.ResponseWriter, r *http.Request) {
	var req cronUpdate
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := s.deps.Scheduler.Update(req.Enabled, req.Schedule)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	msg := "Cron scheduler disabled"
	if st.Enabled {
		msg = "Cron scheduler enabled with schedule: " + st.Schedule
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg, "status": st})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}
