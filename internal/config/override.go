package config

import "fmt"

// Override carries per-request credentials from the dashboard. Empty fields
// leave the base configuration untouched.
type Override struct {
	GreenAPIURL     string `json:"green_api_url,omitempty"`
	GreenAPIID      string `json:"green_api_id,omitempty"`
	GreenAPIToken   string `json:"green_api_token,omitempty"`
	UserPhoneNumber string `json:"user_phone_number,omitempty"`
	OpenRouterKey   string `json:"openrouter_key,omitempty"`
	AIModel         string `json:"ai_model,omitempty"`
}

// Empty reports whether o sets nothing.
func (o Override) Empty() bool {
	return o == Override{}
}

// Validate checks that an override is complete enough to run on its own.
func (o Override) Validate() error {
	switch {
	case o.GreenAPIID == "":
		return fmt.Errorf("%w: missing green_api_id", ErrNotConfigured)
	case o.GreenAPIToken == "":
		return fmt.Errorf("%w: missing green_api_token", ErrNotConfigured)
	case o.OpenRouterKey == "":
		return fmt.Errorf("%w: missing openrouter_key", ErrNotConfigured)
	}
	return nil
}

// WithOverride returns a copy of c with the non-empty fields of o applied.
func (c Config) WithOverride(o Override) Config {
	if o.GreenAPIURL != "" {
		c.GreenAPI.URL = o.GreenAPIURL
	}
	if o.GreenAPIID != "" {
		c.GreenAPI.IDInstance = o.GreenAPIID
	}
	if o.GreenAPIToken != "" {
		c.GreenAPI.APIToken = o.GreenAPIToken
	}
	if o.UserPhoneNumber != "" {
		c.Analysis.UserPhone = o.UserPhoneNumber
	}
	if o.OpenRouterKey != "" {
		c.OpenRouter.APIKey = o.OpenRouterKey
	}
	if o.AIModel != "" {
		c.OpenRouter.Model = o.AIModel
	}
	return c
}
