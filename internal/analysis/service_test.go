package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wpptriage/internal/bus"
	"github.com/matheus3301/wpptriage/internal/classifier"
	"github.com/matheus3301/wpptriage/internal/config"
	"github.com/matheus3301/wpptriage/internal/ingest"
	"github.com/matheus3301/wpptriage/internal/progress"
	"github.com/matheus3301/wpptriage/internal/report"
	"github.com/matheus3301/wpptriage/internal/store"
	"github.com/matheus3301/wpptriage/internal/triage"
)

type fakeProvider struct {
	mu       sync.Mutex
	incoming []triage.Message
	outgoing []triage.Message
	fetchErr error
	sendErr  error
	sent     []sentMessage
}

type sentMessage struct {
	ChatID string
	Text   string
}

func (p *fakeProvider) LastIncomingMessages(context.Context, int) ([]triage.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.incoming, p.fetchErr
}

func (p *fakeProvider) LastOutgoingMessages(context.Context, int) ([]triage.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outgoing, nil
}

func (p *fakeProvider) SendMessage(_ context.Context, chatID, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sent = append(p.sent, sentMessage{ChatID: chatID, Text: text})
	return fmt.Sprintf("sent-%d", len(p.sent)), nil
}

type fakeOracle struct {
	response string
	err      error
	prompts  []string
	models   []string
}

func (o *fakeOracle) Complete(_ context.Context, req classifier.Request) (string, error) {
	o.prompts = append(o.prompts, req.Prompt)
	o.models = append(o.models, req.Model)
	return o.response, o.err
}

type harness struct {
	svc      *Service
	db       *store.DB
	tracker  *progress.Tracker
	provider *fakeProvider
	oracle   *fakeOracle
	built    []config.Config
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.GreenAPI.IDInstance = "1101"
	cfg.GreenAPI.APIToken = "tok"
	cfg.OpenRouter.APIKey = "key"
	cfg.Analysis.UserPhone = "5585999990000"
	return cfg
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		db:       db,
		provider: &fakeProvider{},
		oracle:   &fakeOracle{},
	}
	factory := func(c config.Config) Clients {
		h.built = append(h.built, c)
		return Clients{Provider: h.provider, Oracle: h.oracle}
	}
	b := bus.New()
	h.tracker = progress.NewTracker(b)
	h.svc = NewService(cfg, factory, db, ingest.NewEngine(db, b, nil), h.tracker, b, nil)
	return h
}

func incoming(id, chat, name string, ts int64) triage.Message {
	return triage.Message{ID: id, ChatID: chat, Direction: triage.Incoming, Timestamp: ts, Kind: "textMessage", Text: "msg " + id, SenderName: name}
}

func outgoing(id, chat string, ts int64) triage.Message {
	return triage.Message{ID: id, ChatID: chat, Direction: triage.Outgoing, Timestamp: ts, Kind: "textMessage", Text: "reply " + id}
}

const classified = `Here is the analysis:
{
  "urgent_conversations": [{"chat_id": "111@c.us", "chat_name": "Alice", "reason": "needs help now"}],
  "important_conversations": [],
  "normal_conversations": [{"chat_id": "333@c.us", "chat_name": "Carol", "reason": "chat"}],
  "summary": "1 urgent, 1 normal",
  "total_conversations": 2
}`

func TestRunFullPipeline(t *testing.T) {
	h := newHarness(t, testConfig())
	now := time.Now().Unix()
	h.provider.incoming = []triage.Message{
		incoming("a1", "111@c.us", "Alice", now-600),
		incoming("b1", "222@c.us", "Bob", now-500),
		incoming("c1", "333@c.us", "Carol", now-400),
	}
	h.provider.outgoing = []triage.Message{outgoing("b2", "222@c.us", now-300)}
	h.oracle.response = classified

	res, err := h.svc.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}

	if len(h.oracle.prompts) != 1 {
		t.Fatalf("oracle called %d times, want 1", len(h.oracle.prompts))
	}
	prompt := h.oracle.prompts[0]
	if !strings.Contains(prompt, "111@c.us") || !strings.Contains(prompt, "333@c.us") || strings.Contains(prompt, "222@c.us") {
		t.Errorf("prompt should list only open chats 111 and 333:\n%s", prompt)
	}

	if !res.Stored || len(res.Report.Urgent) != 1 || res.Report.Urgent[0].ChatID != "111@c.us" {
		t.Errorf("result = %+v", res)
	}
	if res.Stats.ActiveChats != 3 || res.Stats.UnansweredConversations != 2 || res.Stats.UrgentConversations != 1 || res.Stats.TotalMessages != 4 {
		t.Errorf("stats = %+v", res.Stats)
	}

	latest, err := h.db.LatestReport()
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.RunID != res.RunID {
		t.Errorf("latest report = %+v, want run %s", latest, res.RunID)
	}
	daily, err := h.db.GetDailyStats(store.DateKey(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if daily.AnalysesRun != 1 || daily.UrgentConversations != 1 {
		t.Errorf("daily = %+v", daily)
	}

	if len(h.provider.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.provider.sent))
	}
	sent := h.provider.sent[0]
	if sent.ChatID != "5585999990000@c.us" {
		t.Errorf("report sent to %q", sent.ChatID)
	}
	if !strings.Contains(sent.Text, "Open Conversations Report") || !strings.Contains(sent.Text, "needs help now") {
		t.Errorf("report text:\n%s", sent.Text)
	}
	if res.Delivery == nil || res.Delivery.ServerMsgID != "sent-1" {
		t.Errorf("delivery = %+v", res.Delivery)
	}

	snap := h.tracker.Snapshot()
	if snap.Phase != progress.Completed || snap.Percent != 100 || snap.RunID != res.RunID {
		t.Errorf("progress = %+v", snap)
	}

	open, err := h.db.ListConversations(true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Errorf("open snapshots = %+v, want 2", open)
	}
}

func TestReplyClosesConversation(t *testing.T) {
	h := newHarness(t, testConfig())
	now := time.Now().Unix()
	h.provider.incoming = []triage.Message{
		incoming("a1", "111@c.us", "Alice", now-600),
		incoming("b1", "222@c.us", "Bob", now-500),
		incoming("c1", "333@c.us", "Carol", now-400),
	}
	h.oracle.response = classified

	first, err := h.svc.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Stats.UnansweredConversations != 3 {
		t.Fatalf("first run open = %d, want 3", first.Stats.UnansweredConversations)
	}

	h.provider.outgoing = []triage.Message{outgoing("a2", "111@c.us", now-100)}
	second, err := h.svc.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if second.Stats.UnansweredConversations != 2 {
		t.Errorf("second run open = %d, want 2", second.Stats.UnansweredConversations)
	}
	if strings.Contains(h.oracle.prompts[1], "111@c.us") {
		t.Error("answered chat 111 still sent to the oracle")
	}
}

func TestRunNoMessagesSendsAllClear(t *testing.T) {
	h := newHarness(t, testConfig())

	res, err := h.svc.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored || res.Report.Summary != report.EmptySummary {
		t.Errorf("result = %+v", res)
	}
	if len(h.oracle.prompts) != 0 {
		t.Error("oracle called without messages")
	}
	if len(h.provider.sent) != 1 || !strings.Contains(h.provider.sent[0].Text, "Open conversations: 0") {
		t.Errorf("sent = %+v", h.provider.sent)
	}

	latest, err := h.db.LatestReport()
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Errorf("all-clear report was stored: %+v", latest)
	}
	daily, err := h.db.GetDailyStats(store.DateKey(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if daily.AnalysesRun != 0 {
		t.Errorf("analyses_run = %d, want 0", daily.AnalysesRun)
	}
	if snap := h.tracker.Snapshot(); snap.Phase != progress.Completed {
		t.Errorf("phase = %s", snap.Phase)
	}
}

func TestRunAllAnsweredSendsAllClear(t *testing.T) {
	h := newHarness(t, testConfig())
	now := time.Now().Unix()
	h.provider.incoming = []triage.Message{incoming("a1", "111@c.us", "Alice", now-600)}
	h.provider.outgoing = []triage.Message{outgoing("a2", "111@c.us", now-60)}

	res, err := h.svc.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "No open conversations found" || res.Stats.ActiveChats != 1 || res.Stats.UnansweredConversations != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(h.oracle.prompts) != 0 {
		t.Error("oracle called with nothing open")
	}
	if len(h.provider.sent) != 1 {
		t.Errorf("sent %d messages, want the all-clear", len(h.provider.sent))
	}
}

func TestRunGroupChatsExcluded(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.IncludeGroups = false
	h := newHarness(t, cfg)
	now := time.Now().Unix()
	h.provider.incoming = []triage.Message{incoming("g1", "120363@g.us", "Team", now-60)}

	res, err := h.svc.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.ActiveChats != 0 || len(h.oracle.prompts) != 0 {
		t.Errorf("group chat analyzed: %+v", res.Stats)
	}
}

func TestRunMalformedOracleOutputIsDegraded(t *testing.T) {
	h := newHarness(t, testConfig())
	h.provider.incoming = []triage.Message{incoming("a1", "111@c.us", "Alice", time.Now().Unix())}
	h.oracle.response = "I am sorry, I cannot help with that."

	res, err := h.svc.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Report.Summary, "Could not parse the AI response") {
		t.Errorf("summary = %q", res.Report.Summary)
	}
	if !res.Stored {
		t.Error("degraded report should be stored")
	}
	if len(h.provider.sent) != 1 {
		t.Errorf("degraded report not sent")
	}
}

func TestRunFetchFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	boom := errors.New("connection refused")
	h.provider.fetchErr = boom

	if _, err := h.svc.Run(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want fetch error", err)
	}
	snap := h.tracker.Snapshot()
	if snap.Phase != progress.Failed || !strings.Contains(snap.Details, "connection refused") {
		t.Errorf("progress = %+v", snap)
	}
	if latest, _ := h.db.LatestReport(); latest != nil {
		t.Error("report stored after fetch failure")
	}
	if len(h.provider.sent) != 0 {
		t.Error("message sent after fetch failure")
	}
}

func TestRunOracleFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.provider.incoming = []triage.Message{incoming("a1", "111@c.us", "Alice", time.Now().Unix())}
	h.oracle.err = errors.New("401 unauthorized")

	if _, err := h.svc.Run(context.Background(), Request{}); err == nil {
		t.Fatal("expected oracle error")
	}
	if latest, _ := h.db.LatestReport(); latest != nil {
		t.Error("report stored after oracle failure")
	}
	if h.tracker.Snapshot().Phase != progress.Failed {
		t.Errorf("phase = %s, want error", h.tracker.Snapshot().Phase)
	}
}

func TestRunSendFailureKeepsReport(t *testing.T) {
	h := newHarness(t, testConfig())
	h.provider.incoming = []triage.Message{incoming("a1", "111@c.us", "Alice", time.Now().Unix())}
	h.oracle.response = classified
	h.provider.sendErr = errors.New("quota exceeded")

	if _, err := h.svc.Run(context.Background(), Request{}); err == nil {
		t.Fatal("expected send error")
	}
	if latest, _ := h.db.LatestReport(); latest == nil {
		t.Error("report should be stored before delivery")
	}
	failed, err := h.db.ListOutbox("failed", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Errorf("failed outbox entries = %d, want 1", len(failed))
	}
}

func TestRunNotConfigured(t *testing.T) {
	h := newHarness(t, config.Default())
	if _, err := h.svc.Run(context.Background(), Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestRunOverrideAndTarget(t *testing.T) {
	h := newHarness(t, config.Default())

	_, err := h.svc.Run(context.Background(), Request{Override: config.Override{GreenAPIID: "9"}})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("incomplete override: err = %v", err)
	}

	req := Request{
		TargetChatID: "4444@c.us",
		Override:     config.Override{GreenAPIID: "9", GreenAPIToken: "t", OpenRouterKey: "k", AIModel: "x-ai/grok-3"},
	}
	if _, err := h.svc.Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	last := h.built[len(h.built)-1]
	if last.GreenAPI.IDInstance != "9" || last.OpenRouter.Model != "x-ai/grok-3" {
		t.Errorf("clients built with %+v", last)
	}
	if h.svc.Config().GreenAPI.IDInstance != "" {
		t.Error("override leaked into the service configuration")
	}
	if len(h.provider.sent) != 1 || h.provider.sent[0].ChatID != "4444@c.us" {
		t.Errorf("sent = %+v", h.provider.sent)
	}
}

func TestRunModelOverride(t *testing.T) {
	h := newHarness(t, testConfig())
	now := time.Now().Unix()
	h.provider.incoming = []triage.Message{incoming("m1", "111@c.us", "Alice", now-600)}
	h.oracle.response = classified

	if _, err := h.svc.Run(context.Background(), Request{Model: "x-ai/grok-4"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Run(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	if len(h.oracle.models) != 2 || h.oracle.models[0] != "x-ai/grok-4" || h.oracle.models[1] != config.DefaultModel {
		t.Errorf("models = %v", h.oracle.models)
	}
}

func TestStatusUsesLatestReport(t *testing.T) {
	h := newHarness(t, testConfig())
	r := &report.PriorityReport{
		Urgent:             []report.Entry{{ChatID: "1@c.us"}, {ChatID: "2@c.us"}},
		TotalConversations: 5,
	}
	if _, err := h.db.InsertReport("r1", r, time.Now()); err != nil {
		t.Fatal(err)
	}

	st, err := h.svc.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.UrgentConversations != 2 || st.UnansweredConversations != 5 {
		t.Errorf("status = %+v", st)
	}

	if err := h.db.RecordDailyStats(store.DailyStats{Date: store.DateKey(time.Now())}); err != nil {
		t.Fatal(err)
	}
	refreshed, err := h.svc.RefreshStatsFromReport()
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.UrgentConversations != 2 || h.svc.Stats().UnansweredConversations != 5 {
		t.Errorf("refreshed = %+v", refreshed)
	}
	daily, err := h.db.GetDailyStats(store.DateKey(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if daily.UrgentConversations != 2 || daily.AnalysesRun != 1 {
		t.Errorf("daily = %+v", daily)
	}
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t, config.Default())
	cfg := h.svc.UpdateConfig(config.Override{GreenAPIID: "1", GreenAPIToken: "t", OpenRouterKey: "k"}, 60)
	if !cfg.Configured() || cfg.Analysis.Minutes != 60 {
		t.Errorf("cfg = %+v", cfg)
	}
	if h.svc.Config() != cfg {
		t.Error("service config not replaced")
	}
	if len(h.built) != 2 {
		t.Errorf("factory called %d times, want 2", len(h.built))
	}
}
