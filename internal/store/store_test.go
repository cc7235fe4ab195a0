package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wpptriage/internal/report"
	"github.com/matheus3301/wpptriage/internal/triage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2", result.Version)
	}

	version, dirty, err := db.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 2 || dirty {
		t.Errorf("SchemaVersion = %d dirty=%v, want 2 clean", version, dirty)
	}
}

func TestOpenMigrated(t *testing.T) {
	db, result, err := OpenMigrated(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if !result.Changed {
		t.Error("first migration on a fresh db should report Changed=true")
	}
}

func TestInsertMessageDedup(t *testing.T) {
	db := testDB(t)

	m := &triage.Message{ID: "m1", ChatID: "1@c.us", Direction: triage.Incoming, Timestamp: 100, Kind: "textMessage", Text: "hi"}
	inserted, err := db.InsertMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("first insert should report inserted=true")
	}

	m.Text = "changed"
	inserted, err = db.InsertMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate insert should report inserted=false")
	}

	msgs, err := db.RecentMessages("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Text != "hi" {
		t.Errorf("text = %q, want original hi", msgs[0].Text)
	}
	if msgs[0].Direction != triage.Incoming {
		t.Errorf("direction = %q, want incoming", msgs[0].Direction)
	}
}

func seedMessages(t *testing.T, db *DB) {
	t.Helper()
	for i, ts := range []int64{100, 200, 300, 400, 500, 600} {
		m := &triage.Message{
			ID:        string(rune('a' + i)),
			ChatID:    "1@c.us",
			Direction: triage.Incoming,
			Timestamp: ts,
			Text:      "hello world",
		}
		if _, err := db.InsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	other := &triage.Message{ID: "z", ChatID: "2@c.us", Direction: triage.Outgoing, Timestamp: 50, Caption: "photo"}
	if _, err := db.InsertMessage(other); err != nil {
		t.Fatal(err)
	}
}

func TestMessagesByChatChronological(t *testing.T) {
	db := testDB(t)
	seedMessages(t, db)

	msgs, err := db.MessagesByChat("1@c.us", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d, want 4", len(msgs))
	}
	for i, want := range []int64{300, 400, 500, 600} {
		if msgs[i].Timestamp != want {
			t.Errorf("msgs[%d].Timestamp = %d, want %d", i, msgs[i].Timestamp, want)
		}
	}
}

func TestRecentMessagesFilter(t *testing.T) {
	db := testDB(t)
	seedMessages(t, db)

	msgs, err := db.RecentMessages("2@c.us", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "z" {
		t.Errorf("got %+v, want only z", msgs)
	}

	all, err := db.RecentMessages("", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Timestamp != 600 {
		t.Errorf("got %d messages, first ts %d; want 3 newest first", len(all), all[0].Timestamp)
	}
}

func TestMessagesSince(t *testing.T) {
	db := testDB(t)
	seedMessages(t, db)

	msgs, err := db.MessagesSince(time.Unix(450, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Timestamp != 500 {
		t.Errorf("got %+v, want ts 500, 600", msgs)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	seedMessages(t, db)

	results, err := db.SearchMessages("photo", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "z" {
		t.Errorf("got %+v, want caption match z", results)
	}

	results, err = db.SearchMessages("world", "2@c.us", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results in chat 2, want 0", len(results))
	}

	results, err = db.SearchMessages("100%", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("literal %% should not act as wildcard, got %d", len(results))
	}
}

func TestUpsertConversation(t *testing.T) {
	db := testDB(t)

	c := &Conversation{ChatID: "1@c.us", ChatName: "Alice", LastMessageTime: time.Now().Unix(), MessageCount: 2, IsUnanswered: true}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	c.IsUnanswered = false
	c.MessageCount = 3
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(&Conversation{ChatID: "2@c.us", LastMessageTime: time.Now().Unix(), IsUnanswered: true}); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListConversations(false, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d conversations, want 2", len(all))
	}

	open, err := db.ListConversations(true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ChatID != "2@c.us" {
		t.Errorf("open = %+v, want only 2@c.us", open)
	}

	history, err := db.ConversationHistory(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Conversations != 2 || history[0].Unanswered != 1 {
		t.Errorf("history = %+v", history)
	}
}

func TestReports(t *testing.T) {
	db := testDB(t)

	latest, err := db.LatestReport()
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Fatalf("LatestReport on empty db = %+v, want nil", latest)
	}

	base := time.Now()
	first := &report.PriorityReport{Summary: "first", TotalConversations: 1, Urgent: []report.Entry{{ChatID: "1@c.us"}}}
	second := &report.PriorityReport{Summary: "second", TotalConversations: 2}
	if _, err := db.InsertReport("run-1", first, base); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertReport("run-2", second, base.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	latest, err = db.LatestReport()
	if err != nil {
		t.Fatal(err)
	}
	if latest.RunID != "run-2" || latest.Report.Summary != "second" {
		t.Errorf("latest = %+v, want run-2", latest)
	}

	reports, err := db.ListReports(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}

	got, err := db.GetReport("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got.Report.Urgent) != 1 || got.Report.Urgent[0].ChatID != "1@c.us" {
		t.Errorf("GetReport(run-1) = %+v", got)
	}

	missing, err := db.GetReport("nope")
	if err != nil || missing != nil {
		t.Errorf("GetReport(nope) = %v, %v; want nil, nil", missing, err)
	}
}

func TestDailyStats(t *testing.T) {
	db := testDB(t)
	date := "2024-05-01"

	empty, err := db.GetDailyStats(date)
	if err != nil {
		t.Fatal(err)
	}
	if empty.AnalysesRun != 0 || empty.Date != date {
		t.Errorf("empty stats = %+v", empty)
	}

	for i := 1; i <= 2; i++ {
		if err := db.RecordDailyStats(DailyStats{Date: date, TotalMessages: 10 * i, UrgentConversations: i}); err != nil {
			t.Fatal(err)
		}
	}
	s, err := db.GetDailyStats(date)
	if err != nil {
		t.Fatal(err)
	}
	if s.AnalysesRun != 2 {
		t.Errorf("AnalysesRun = %d, want 2", s.AnalysesRun)
	}
	if s.TotalMessages != 20 || s.UrgentConversations != 2 {
		t.Errorf("snapshot = %+v, want latest values", s)
	}

	if err := db.ReplaceDailyStats(DailyStats{Date: date, AnalysesRun: 7}); err != nil {
		t.Fatal(err)
	}
	s, err = db.GetDailyStats(date)
	if err != nil {
		t.Fatal(err)
	}
	if s.AnalysesRun != 7 || s.TotalMessages != 0 {
		t.Errorf("after replace = %+v", s)
	}
}

func TestCleanupOldData(t *testing.T) {
	db := testDB(t)

	old := time.Now().AddDate(0, 0, -40)
	if _, err := db.InsertMessage(&triage.Message{ID: "old", ChatID: "1@c.us", Direction: triage.Incoming, Timestamp: old.Unix()}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(&triage.Message{ID: "new", ChatID: "1@c.us", Direction: triage.Incoming, Timestamp: time.Now().Unix()}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertReport("old-run", report.Empty(), old); err != nil {
		t.Fatal(err)
	}

	result, err := db.CleanupOldData(30)
	if err != nil {
		t.Fatal(err)
	}
	if result.Messages != 1 || result.Reports != 1 {
		t.Errorf("cleanup = %+v, want 1 message, 1 report", result)
	}

	counts, err := db.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if counts.Messages != 1 || counts.Reports != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "1@c.us", "report text"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("client2", "1@c.us", "second"); err != nil {
		t.Fatal(err)
	}

	queued, err := db.ListOutbox("queued", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 {
		t.Fatalf("got %d queued, want 2", len(queued))
	}
	pending, err := db.PendingOutbox(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ClientMsgID != "client1" {
		t.Fatalf("pending = %+v, want client1 first", pending)
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "server1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending("client2"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("client2", "boom"); err != nil {
		t.Fatal(err)
	}

	sent, err := db.ListOutbox("sent", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0].ServerMsgID != "server1" {
		t.Errorf("sent = %+v", sent)
	}
	failed, err := db.ListOutbox("failed", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "boom" || failed[0].Attempts != 1 {
		t.Errorf("failed = %+v", failed)
	}

	// A failed entry is retried until it reaches the attempt limit.
	pending, err = db.PendingOutbox(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "client2" {
		t.Errorf("pending = %+v, want client2 up for retry", pending)
	}
	pending, err = db.PendingOutbox(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending at the attempt limit, want 0", len(pending))
	}
	all, err := db.ListOutbox("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func TestRequeueStaleOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "1@c.us", "stuck"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	n, err := db.RequeueStaleOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("requeued %d, want 1", n)
	}
	queued, err := db.ListOutbox("queued", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 || queued[0].Attempts != 1 {
		t.Errorf("queued = %+v", queued)
	}
}

func TestState(t *testing.T) {
	db := testDB(t)

	v, err := db.GetState(StateLastRefresh)
	if err != nil || v != "" {
		t.Fatalf("GetState unset = %q, %v", v, err)
	}
	if err := db.SetState(StateLastRefresh, "a"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState(StateLastRefresh, "b"); err != nil {
		t.Fatal(err)
	}
	v, err = db.GetState(StateLastRefresh)
	if err != nil || v != "b" {
		t.Errorf("GetState = %q, %v; want b", v, err)
	}
}
