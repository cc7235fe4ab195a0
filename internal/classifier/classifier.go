// Package classifier asks a reasoning oracle to sort open conversations into
// urgent, important and normal buckets.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/extract"
	"github.com/matheus3301/wpptriage/internal/report"
	"github.com/matheus3301/wpptriage/internal/triage"
)

// Generation bounds applied to every oracle request.
const (
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.1
)

// Request is a single-prompt completion request.
type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Oracle completes a prompt. Transport failures are returned as errors.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModel sets the oracle model identifier.
func WithModel(model string) Option {
	return func(c *Classifier) { c.model = model }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReconcile enables the post-classification reconciliation pass.
func WithReconcile(enabled bool) Option {
	return func(c *Classifier) { c.reconcile = enabled }
}

// Classifier turns conversation summaries into a PriorityReport.
type Classifier struct {
	oracle    Oracle
	model     string
	reconcile bool
	logger    *zap.Logger
}

// New creates a classifier backed by o.
func New(o Oracle, opts ...Option) *Classifier {
	c := &Classifier{oracle: o, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model identifier.
func (c *Classifier) Model() string {
	return c.model
}

// ForModel returns a copy of c using model, or c itself when model is empty.
func (c *Classifier) ForModel(model string) *Classifier {
	if model == "" || model == c.model {
		return c
	}
	cp := *c
	cp.model = model
	return &cp
}

// Classify prioritizes summaries. An empty input returns report.Empty without
// contacting the oracle. Unparsable oracle output yields a degraded report;
// oracle transport errors are returned.
func (c *Classifier) Classify(ctx context.Context, summaries []triage.Summary) (*report.PriorityReport, error) {
	if len(summaries) == 0 {
		return report.Empty(), nil
	}

	prompt, err := BuildPrompt(summaries)
	if err != nil {
		return nil, err
	}

	c.logger.Info("requesting classification",
		zap.Int("conversations", len(summaries)),
		zap.String("model", c.model),
	)

	raw, err := c.oracle.Complete(ctx, Request{
		Model:       c.model,
		Prompt:      prompt,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}

	res := extract.Structured(raw)
	value, ok := res.Recovered()
	if !ok {
		f, _ := res.Failure()
		c.logger.Error("unparsable oracle response",
			zap.Error(f.Err),
			zap.String("raw", f.Original),
		)
		return report.Degraded(fmt.Sprintf("Could not parse the AI response. Received invalid content. (error: %v)", f.Err)), nil
	}

	r := fromValue(value)
	if c.reconcile {
		r = Reconcile(r, summaries)
	}

	c.logger.Info("classified conversations",
		zap.Int("urgent", len(r.Urgent)),
		zap.Int("important", len(r.Important)),
		zap.Int("normal", len(r.Normal)),
	)
	return r, nil
}

func fromValue(v map[string]any) *report.PriorityReport {
	return &report.PriorityReport{
		Urgent:             entries(v["urgent_conversations"]),
		Important:          entries(v["important_conversations"]),
		Normal:             entries(v["normal_conversations"]),
		Summary:            stringField(v, "summary"),
		TotalConversations: intField(v["total_conversations"]),
	}
}

func entries(v any) []report.Entry {
	items, _ := v.([]any)
	out := make([]report.Entry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, report.Entry{
			ChatID:            stringField(m, "chat_id"),
			ChatName:          stringField(m, "chat_name"),
			Reason:            stringField(m, "reason"),
			SuggestedResponse: stringField(m, "suggested_response"),
		})
	}
	return out
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intField(v any) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 0
}
