package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv loads envFile (if present) into the process environment and applies
// the recognized variables on top of cfg. Variables already set in the
// environment win over the file.
func LoadEnv(cfg Config, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	strs := map[string]*string{
		"GREEN_API_URL":            &cfg.GreenAPI.URL,
		"GREEN_API_ID_INSTANCE":    &cfg.GreenAPI.IDInstance,
		"GREEN_API_TOKEN_INSTANCE": &cfg.GreenAPI.APIToken,
		"USER_PHONE_NUMBER":        &cfg.Analysis.UserPhone,
		"OPENROUTER_API_KEY":       &cfg.OpenRouter.APIKey,
		"OPENROUTER_MODEL":         &cfg.OpenRouter.Model,
		"OPENROUTER_BASE_URL":      &cfg.OpenRouter.BaseURL,
		"CRON_SCHEDULE":            &cfg.Cron.Schedule,
		"HTTP_ADDR":                &cfg.HTTP.Addr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_MESSAGES_PER_CHAT":    &cfg.Analysis.MaxMessagesPerChat,
		"MESSAGE_ANALYSIS_MINUTES": &cfg.Analysis.Minutes,
		"RETENTION_DAYS":           &cfg.Retention.Days,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"ANALYZE_GROUP_CHATS":       &cfg.Analysis.IncludeGroups,
		"ANALYZE_OUTGOING_MESSAGES": &cfg.Analysis.IncludeOutgoing,
		"CRON_ENABLED":              &cfg.Cron.Enabled,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup("APP_PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("APP_PORT: %w", err)
		}
		cfg.HTTP.Addr = ":" + v
	}
	return cfg, nil
}
