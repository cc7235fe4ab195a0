package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/wpptriage/internal/analysis"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8000", "http://127.0.0.1:8000"},
		{"0.0.0.0:9000", "http://127.0.0.1:9000"},
		{"localhost:8000", "http://localhost:8000"},
		{"[::]:8000", "http://127.0.0.1:8000"},
		{"example", "http://example"},
	}
	for _, tt := range tests {
		if got := BaseURL(tt.addr); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(filepath.Join(t.TempDir(), "none.sock"), srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAnalyzeAndSend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analyze", func(w http.ResponseWriter, r *http.Request) {
		var req analysis.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TargetChatID != "9@c.us" || req.Minutes != 30 {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"success":true,"run_id":"r1","message":"done","stored":true,"report":{"summary":"ok","total_conversations":2}}`))
	})
	mux.HandleFunc("POST /api/send-message", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"success":false,"detail":"send message: boom"}`))
	})
	c := newTestClient(t, mux)

	res, err := c.Analyze(context.Background(), analysis.Request{TargetChatID: "9@c.us", Minutes: 30})
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID != "r1" || !res.Stored || res.Report.TotalConversations != 2 {
		t.Errorf("result = %+v", res)
	}

	_, err = c.Send(context.Background(), "1@c.us", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway || apiErr.Detail != "send message: boom" {
		t.Errorf("err = %v", err)
	}
}

func TestCronAndReports(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/cron/update", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"status":{"enabled":true,"schedule":"0 8 * * *","next_run":"2026-01-02T08:00:00Z"}}`))
	})
	mux.HandleFunc("GET /api/reports", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		_, _ = w.Write([]byte(`{"success":true,"reports":[{"id":1,"run_id":"r1","report":{"summary":"s","urgent_conversations":[{"chat_id":"1@c.us"}]}}]}`))
	})
	c := newTestClient(t, mux)

	st, err := c.CronUpdate(context.Background(), true, "0 8 * * *")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Enabled || st.NextRun == nil {
		t.Errorf("status = %+v", st)
	}

	r, err := c.LatestReport(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || len(r.Urgent) != 1 || r.Summary != "s" {
		t.Errorf("report = %+v", r)
	}
}

func TestServing(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "wt-c-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()
	socketPath := filepath.Join(dir, "d.sock")

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	hs := health.NewServer()
	hs.SetServingStatus("svc", healthpb.HealthCheckResponse_NOT_SERVING)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(ln) }()
	defer srv.GracefulStop()

	c, err := New(socketPath, "http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if ok, err := c.Serving(context.Background(), "svc"); err != nil || ok {
		t.Errorf("Serving = %v, %v; want false", ok, err)
	}
	hs.SetServingStatus("svc", healthpb.HealthCheckResponse_SERVING)
	if ok, err := c.Serving(context.Background(), "svc"); err != nil || !ok {
		t.Errorf("Serving = %v, %v; want true", ok, err)
	}
}
