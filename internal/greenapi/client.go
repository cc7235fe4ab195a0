// Package greenapi is a client for the Green API WhatsApp REST gateway.
package greenapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/triage"
)

// DefaultBaseURL is the public Green API endpoint.
const DefaultBaseURL = "https://api.green-api.com"

const (
	defaultTimeout = 30 * time.Second
	stateTimeout   = 10 * time.Second
	stateCacheTTL  = 60 * time.Second
	maxErrorBody   = 512
)

// Config holds instance credentials.
type Config struct {
	BaseURL    string
	IDInstance string
	APIToken   string
	Timeout    time.Duration
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("green api %s: HTTP %d: %s", e.Method, e.Code, e.Body)
}

// Client talks to one Green API instance.
type Client struct {
	baseURL string
	id      string
	token   string
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	state    *ConnectionStatus
	stateAt  time.Time
	stateSet bool
}

// New creates a client. A nil logger is replaced by a no-op logger.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: base,
		id:      cfg.IDInstance,
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		now:     time.Now,
	}
}

// Configured reports whether instance credentials are present.
func (c *Client) Configured() bool {
	return c.id != "" && c.token != ""
}

// InstanceChatID returns the instance's own direct chat id.
func (c *Client) InstanceChatID() string {
	if c.id == "" {
		return ""
	}
	return c.id + triage.DirectSuffix
}

func (c *Client) endpoint(method string, query url.Values) string {
	u := fmt.Sprintf("%s/waInstance%s/%s/%s", c.baseURL, c.id, method, c.token)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, httpMethod, method string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", method, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, c.endpoint(method, query), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("green api %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// LastIncomingMessages returns messages received in the last minutes minutes.
func (c *Client) LastIncomingMessages(ctx context.Context, minutes int) ([]triage.Message, error) {
	return c.lastMessages(ctx, "lastIncomingMessages", minutes, triage.Incoming)
}

// LastOutgoingMessages returns messages sent in the last minutes minutes.
func (c *Client) LastOutgoingMessages(ctx context.Context, minutes int) ([]triage.Message, error) {
	return c.lastMessages(ctx, "lastOutgoingMessages", minutes, triage.Outgoing)
}

func (c *Client) lastMessages(ctx context.Context, method string, minutes int, dir triage.Direction) ([]triage.Message, error) {
	c.logger.Info("fetching messages", zap.String("method", method), zap.Int("minutes", minutes))

	var raw []apiMessage
	q := url.Values{"minutes": {strconv.Itoa(minutes)}}
	if err := c.do(ctx, http.MethodGet, method, q, nil, &raw); err != nil {
		return nil, err
	}

	msgs := make([]triage.Message, 0, len(raw))
	for _, m := range raw {
		msgs = append(msgs, m.toMessage(dir))
	}
	c.logger.Info("fetched messages", zap.String("method", method), zap.Int("count", len(msgs)))
	return msgs, nil
}

// SendMessage sends text to chatID and returns the provider message id.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	var resp struct {
		IDMessage string `json:"idMessage"`
	}
	body := map[string]string{"chatId": chatID, "message": text}
	if err := c.do(ctx, http.MethodPost, "sendMessage", nil, body, &resp); err != nil {
		return "", err
	}
	c.logger.Info("message sent", zap.String("chat_id", chatID), zap.String("id_message", resp.IDMessage))
	return resp.IDMessage, nil
}

// ChatHistory returns the last count messages of chatID, oldest first.
// Errors are logged and yield an empty slice.
func (c *Client) ChatHistory(ctx context.Context, chatID string, count int) []triage.Message {
	var raw []apiMessage
	body := map[string]any{"chatId": chatID, "count": count}
	if err := c.do(ctx, http.MethodPost, "getChatHistory", nil, body, &raw); err != nil {
		c.logger.Warn("chat history unavailable", zap.String("chat_id", chatID), zap.Error(err))
		return []triage.Message{}
	}

	msgs := make([]triage.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		msgs = append(msgs, raw[i].toMessage(triage.Incoming))
	}
	return msgs
}

// AccountSettings returns the raw getWaSettings payload.
func (c *Client) AccountSettings(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "getWaSettings", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
