// Package client talks to a running triage daemon: the gRPC health service on
// the session socket and the JSON API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/wpptriage/internal/analysis"
	"github.com/matheus3301/wpptriage/internal/outbox"
	"github.com/matheus3301/wpptriage/internal/progress"
	"github.com/matheus3301/wpptriage/internal/report"
	"github.com/matheus3301/wpptriage/internal/scheduler"
	"github.com/matheus3301/wpptriage/internal/store"
)

// Client wraps the daemon's control socket and HTTP API.
type Client struct {
	conn    *grpc.ClientConn
	Health  healthpb.HealthClient
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New dials the daemon's Unix domain socket and prepares the HTTP client for
// baseURL. A nil logger is replaced by a no-op logger.
func New(socketPath, baseURL string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:    conn,
		Health:  healthpb.NewHealthClient(conn),
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Minute},
		logger:  logger,
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// BaseURL turns a listen address such as ":8000" into a loopback URL.
func BaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Serving reports the health of service on the control socket.
func (c *Client) Serving(ctx context.Context, service string) (bool, error) {
	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return false, err
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

// APIError is a non-2xx response from the HTTP API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		var e struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Detail: e.Detail}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Status is the response of GET /api/status.
type Status struct {
	AccountStatus   string            `json:"account_status"`
	BotStats        analysis.Stats    `json:"bot_stats"`
	Configured      bool              `json:"configured"`
	Model           string            `json:"model"`
	DaemonState     string            `json:"daemon_state"`
	Progress        progress.Snapshot `json:"progress"`
	AnalysisRunning bool              `json:"analysis_running"`
}

// Status fetches counters and daemon state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Analyze runs an analysis and waits for its result.
func (c *Client) Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	var out analysis.Result
	if err := c.do(ctx, http.MethodPost, "/api/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send delivers text to chatID through the daemon's outbox.
func (c *Client) Send(ctx context.Context, chatID, text string) (*outbox.Delivery, error) {
	var out struct {
		Result outbox.Delivery `json:"result"`
	}
	body := map[string]string{"chat_id": chatID, "message": text}
	if err := c.do(ctx, http.MethodPost, "/api/send-message", body, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// DatabaseStats is the response of GET /api/database-stats.
type DatabaseStats struct {
	Counts  store.Counts       `json:"counts"`
	Today   store.DailyStats   `json:"today"`
	History []store.HistoryDay `json:"history"`
}

// DatabaseStats fetches stored counters.
func (c *Client) DatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	var out struct {
		Stats DatabaseStats `json:"stats"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/database-stats", nil, &out); err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

// RefreshStats recomputes the counters from the latest stored report.
func (c *Client) RefreshStats(ctx context.Context) (*analysis.Stats, error) {
	var out struct {
		Stats analysis.Stats `json:"stats"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/stats/refresh-from-report", nil, &out); err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

// CronStatus fetches the analysis schedule.
func (c *Client) CronStatus(ctx context.Context) (*scheduler.Status, error) {
	var out scheduler.Status
	if err := c.do(ctx, http.MethodGet, "/api/cron/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CronUpdate enables or disables the analysis schedule.
func (c *Client) CronUpdate(ctx context.Context, enabled bool, schedule string) (*scheduler.Status, error) {
	var out struct {
		Status scheduler.Status `json:"status"`
	}
	body := map[string]any{"enabled": enabled, "schedule": schedule}
	if err := c.do(ctx, http.MethodPost, "/api/cron/update", body, &out); err != nil {
		return nil, err
	}
	return &out.Status, nil
}

// Reports lists the most recent stored reports.
func (c *Client) Reports(ctx context.Context, limit int) ([]store.StoredReport, error) {
	var out struct {
		Reports []store.StoredReport `json:"reports"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "/api/reports?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Reports, nil
}

// LatestReport returns the most recent stored report, or nil when none exist.
func (c *Client) LatestReport(ctx context.Context) (*report.PriorityReport, error) {
	reports, err := c.Reports(ctx, 1)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0].Report, nil
}
