package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wpptriage/internal/bus"
	"github.com/matheus3301/wpptriage/internal/store"
	"github.com/matheus3301/wpptriage/internal/triage"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeSource struct {
	incoming    []triage.Message
	outgoing    []triage.Message
	incomingErr error
	outgoingErr error
	outCalls    int
}

func (f *fakeSource) LastIncomingMessages(ctx context.Context, minutes int) ([]triage.Message, error) {
	return f.incoming, f.incomingErr
}

func (f *fakeSource) LastOutgoingMessages(ctx context.Context, minutes int) ([]triage.Message, error) {
	f.outCalls++
	return f.outgoing, f.outgoingErr
}

func msg(id, chat string, dir triage.Direction, ts int64) triage.Message {
	return triage.Message{ID: id, ChatID: chat, Direction: dir, Timestamp: ts, Kind: "textMessage", Text: id}
}

func TestStoreIdempotent(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)

	ch, unsub := b.Subscribe("ingest.", 10)
	defer unsub()

	msgs := []triage.Message{
		msg("m1", "1@c.us", triage.Incoming, 100),
		msg("m2", "1@c.us", triage.Incoming, 200),
	}
	res := e.Store(msgs)
	if res.Received != 2 || res.Stored != 2 || res.Failed != 0 {
		t.Errorf("first store = %+v", res)
	}

	select {
	case evt := <-ch:
		p, ok := evt.Payload.(bus.IngestPayload)
		if evt.Kind != bus.KindIngestStored || !ok || p.Stored != 2 {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ingest.stored event")
	}

	res = e.Store(msgs)
	if res.Stored != 0 || res.Failed != 0 {
		t.Errorf("second store = %+v, want nothing new", res)
	}

	stored, err := db.RecentMessages("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Errorf("got %d stored messages, want 2", len(stored))
	}
}

func TestStoreSkipsFailures(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, nil, nil)

	// The closed database makes every insert fail; Store must still return.
	_ = db.Close()
	res := e.Store([]triage.Message{msg("m1", "1@c.us", triage.Incoming, 1)})
	if res.Failed != 1 || res.Stored != 0 {
		t.Errorf("result = %+v, want one failure", res)
	}
}

func TestFetchMergesOutgoing(t *testing.T) {
	e := NewEngine(testDB(t), nil, nil)
	src := &fakeSource{
		incoming: []triage.Message{msg("a", "1@c.us", triage.Incoming, 100)},
		outgoing: []triage.Message{
			msg("a", "1@c.us", triage.Incoming, 100),
			msg("b", "1@c.us", triage.Outgoing, 200),
		},
	}

	got, err := e.Fetch(context.Background(), src, 60, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].ID != "b" {
		t.Errorf("merged = %+v, want a then b", got)
	}

	got, err = e.Fetch(context.Background(), src, 60, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || src.outCalls != 1 {
		t.Errorf("incoming only = %+v, outgoing calls = %d", got, src.outCalls)
	}
}

func TestFetchErrors(t *testing.T) {
	e := NewEngine(testDB(t), nil, nil)
	boom := errors.New("boom")

	_, err := e.Fetch(context.Background(), &fakeSource{incomingErr: boom}, 60, true)
	if !errors.Is(err, boom) {
		t.Errorf("incoming err = %v", err)
	}
	_, err = e.Fetch(context.Background(), &fakeSource{outgoingErr: boom}, 60, true)
	if !errors.Is(err, boom) {
		t.Errorf("outgoing err = %v", err)
	}
}

func TestRefreshRecordsCheckpoint(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, nil, nil)
	src := &fakeSource{incoming: []triage.Message{msg("a", "1@c.us", triage.Incoming, 100)}}

	res, err := e.Refresh(context.Background(), src, 30, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored != 1 {
		t.Errorf("result = %+v", res)
	}
	at, err := db.GetState(store.StateLastRefresh)
	if err != nil {
		t.Fatal(err)
	}
	if at == "" {
		t.Error("last refresh checkpoint not recorded")
	}
}

func TestSnapshot(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, nil, nil)

	convs := triage.NewGrouper(4).Group([]triage.Message{
		msg("a", "1@c.us", triage.Incoming, time.Now().Unix()),
		msg("b", "2@c.us", triage.Incoming, time.Now().Unix()-10),
		msg("c", "2@c.us", triage.Outgoing, time.Now().Unix()),
	})
	if n := e.Snapshot(convs); n != 2 {
		t.Errorf("saved = %d, want 2", n)
	}

	open, err := db.ListConversations(true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ChatID != "1@c.us" {
		t.Errorf("open = %+v, want only 1@c.us", open)
	}
}
