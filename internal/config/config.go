// Package config loads the daemon configuration from TOML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/matheus3301/wpptriage/internal/greenapi"
	"github.com/matheus3301/wpptriage/internal/oracle"
	"github.com/matheus3301/wpptriage/internal/triage"
)

// Defaults.
const (
	DefaultGreenAPIURL        = greenapi.DefaultBaseURL
	DefaultModel              = oracle.DefaultModel
	DefaultMinutes            = 1440
	DefaultMaxMessagesPerChat = triage.DefaultMaxMessagesPerChat
	DefaultCronSchedule       = "0 9 * * *"
	DefaultCleanupSchedule    = "30 3 * * *"
	DefaultRetentionDays      = 30
	DefaultHTTPAddr           = ":8000"
)

// ErrNotConfigured is returned by Validate when required credentials are missing.
var ErrNotConfigured = errors.New("not configured")

// Config represents ~/.wpptriage/config.toml. It is treated as an immutable
// value: overrides return a modified copy.
type Config struct {
	GreenAPI   GreenAPI   `toml:"green_api"`
	OpenRouter OpenRouter `toml:"openrouter"`
	Analysis   Analysis   `toml:"analysis"`
	Cron       Cron       `toml:"cron"`
	HTTP       HTTP       `toml:"http"`
	Retention  Retention  `toml:"retention"`
}

// GreenAPI holds the messaging provider credentials.
type GreenAPI struct {
	URL        string `toml:"url"`
	IDInstance string `toml:"id_instance"`
	APIToken   string `toml:"api_token"`
}

// OpenRouter holds the reasoning oracle credentials.
type OpenRouter struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url,omitempty"`
}

// Analysis tunes the triage pipeline.
type Analysis struct {
	UserPhone          string `toml:"user_phone"`
	Minutes            int    `toml:"minutes"`
	MaxMessagesPerChat int    `toml:"max_messages_per_chat"`
	IncludeGroups      bool   `toml:"include_groups"`
	IncludeOutgoing    bool   `toml:"include_outgoing"`
	Reconcile          bool   `toml:"reconcile"`
}

// Cron configures the scheduled analysis.
type Cron struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

// HTTP configures the dashboard API listener.
type HTTP struct {
	Addr string `toml:"addr"`
}

// Retention configures the periodic cleanup job. Days <= 0 disables it.
type Retention struct {
	Days     int    `toml:"days"`
	Schedule string `toml:"schedule"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GreenAPI:   GreenAPI{URL: DefaultGreenAPIURL},
		OpenRouter: OpenRouter{Model: DefaultModel},
		Analysis: Analysis{
			Minutes:            DefaultMinutes,
			MaxMessagesPerChat: DefaultMaxMessagesPerChat,
			IncludeGroups:      true,
			IncludeOutgoing:    true,
		},
		Cron:      Cron{Schedule: DefaultCronSchedule},
		HTTP:      HTTP{Addr: DefaultHTTPAddr},
		Retention: Retention{Days: DefaultRetentionDays, Schedule: DefaultCleanupSchedule},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Configured reports whether both providers have credentials.
func (c Config) Configured() bool {
	return c.Validate() == nil
}

// Validate checks that the credentials needed for an analysis are present.
func (c Config) Validate() error {
	var missing []string
	if c.GreenAPI.IDInstance == "" {
		missing = append(missing, "green_api.id_instance")
	}
	if c.GreenAPI.APIToken == "" {
		missing = append(missing, "green_api.api_token")
	}
	if c.OpenRouter.APIKey == "" {
		missing = append(missing, "openrouter.api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	if c.Analysis.MaxMessagesPerChat < 0 || c.Analysis.Minutes < 0 {
		return errors.New("analysis.minutes and analysis.max_messages_per_chat must not be negative")
	}
	return nil
}

// Recipient returns the chat id reports are sent to: the user's phone, or
// the instance's own number when no phone is configured.
func (c Config) Recipient() string {
	phone := strings.TrimPrefix(strings.TrimSpace(c.Analysis.UserPhone), "+")
	if phone != "" {
		if strings.Contains(phone, "@") {
			return phone
		}
		return phone + "@c.us"
	}
	if c.GreenAPI.IDInstance != "" {
		return c.GreenAPI.IDInstance + "@c.us"
	}
	return ""
}
