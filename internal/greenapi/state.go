package greenapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Instance states reported by getStateInstance.
const (
	StateAuthorized    = "authorized"
	StateNotAuthorized = "notAuthorized"
	StateBlocked       = "blocked"
	StateSleepMode     = "sleepMode"
	StateStarting      = "starting"
)

// ConnectionStatus is the result of a connectivity check.
type ConnectionStatus struct {
	Connected bool      `json:"connected"`
	State     string    `json:"state,omitempty"`
	Message   string    `json:"message"`
	Cached    bool      `json:"cached"`
	CheckedAt time.Time `json:"checked_at"`
}

// State checks the instance state. Results are cached for a minute unless
// force is set. A rate-limited check falls back to the last cached status.
func (c *Client) State(ctx context.Context, force bool) ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !force && c.stateSet && now.Sub(c.stateAt) < stateCacheTTL {
		s := *c.state
		s.Cached = true
		return s
	}

	if !c.Configured() {
		return c.remember(ConnectionStatus{Message: "Green API credentials not configured"}, now)
	}

	ctx, cancel := context.WithTimeout(ctx, stateTimeout)
	defer cancel()

	var resp struct {
		StateInstance string `json:"stateInstance"`
	}
	err := c.do(ctx, http.MethodGet, "getStateInstance", nil, nil, &resp)

	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusTooManyRequests {
		c.logger.Warn("green api rate limit reached")
		if c.stateSet {
			s := *c.state
			s.Cached = true
			s.Message += " (cached, rate limited)"
			return s
		}
		return c.remember(ConnectionStatus{Message: "Rate limit reached. Please wait."}, now)
	}
	if err != nil {
		c.logger.Error("verify green api connection", zap.Error(err))
		msg := fmt.Sprintf("Error: %v", err)
		if se != nil {
			msg = fmt.Sprintf("HTTP error: %d", se.Code)
		}
		return ConnectionStatus{Message: msg, CheckedAt: now}
	}

	status := ConnectionStatus{State: resp.StateInstance, CheckedAt: now}
	switch resp.StateInstance {
	case StateAuthorized:
		status.Connected = true
		status.Message = "Connected and authorized"
	case StateNotAuthorized:
		status.Message = "WhatsApp not authorized. Please scan QR code."
	case StateBlocked:
		status.Message = "Instance is blocked"
	case StateSleepMode:
		status.Message = "Instance is in sleep mode"
	case StateStarting:
		status.Message = "Instance is starting..."
	default:
		status.Message = "Unknown state: " + resp.StateInstance
	}
	c.logger.Info("green api state", zap.String("state", resp.StateInstance))
	return c.remember(status, now)
}

func (c *Client) remember(s ConnectionStatus, now time.Time) ConnectionStatus {
	s.CheckedAt = now
	c.state = &s
	c.stateAt = now
	c.stateSet = true
	return s
}
