package oracle

import "sort"

// Model describes a selectable OpenRouter model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
	Context     string `json:"context"`
}

var catalog = []Model{
	{"anthropic/claude-opus-4.5", "Claude Opus 4.5", "Anthropic", "Most capable Claude model for complex reasoning", "200K tokens"},
	{"anthropic/claude-3.7-sonnet", "Claude 3.7 Sonnet", "Anthropic", "Balanced performance and speed", "200K tokens"},
	{"anthropic/claude-3.5-sonnet", "Claude 3.5 Sonnet", "Anthropic", "Fast and efficient Claude model", "200K tokens"},
	{"google/gemini-3-pro", "Gemini 3 Pro", "Google", "Flagship multimodal reasoning model", "1M tokens"},
	{"google/gemini-2.5-pro", "Gemini 2.5 Pro", "Google", "Advanced reasoning and coding", "1M tokens"},
	{"google/gemini-2.5-flash", "Gemini 2.5 Flash", "Google", "Fast and efficient Gemini model", "1M tokens"},
	{"google/gemini-flash-1.5", "Gemini Flash 1.5", "Google", "Lightweight and fast", "1M tokens"},
	{"openai/gpt-5.1", "GPT-5.1", "OpenAI", "Latest frontier-grade reasoning model", "128K tokens"},
	{"openai/gpt-5.1-chat", "GPT-5.1 Chat (Instant)", "OpenAI", "Fast, low-latency chat optimized", "128K tokens"},
	{"openai/gpt-5", "GPT-5", "OpenAI", "Advanced reasoning and complex tasks", "128K tokens"},
	{"openai/gpt-4o", "GPT-4o", "OpenAI", "Optimized GPT-4 model", "128K tokens"},
	{"openai/gpt-4-turbo", "GPT-4 Turbo", "OpenAI", "Faster GPT-4 variant", "128K tokens"},
	{"x-ai/grok-4.1-fast", "Grok 4.1 Fast", "xAI", "Best agentic tool-calling model", "2M tokens"},
	{"x-ai/grok-4", "Grok 4", "xAI", "Latest reasoning model with vision", "256K tokens"},
	{"x-ai/grok-3", "Grok 3", "xAI", "Flagship model for enterprise use", "256K tokens"},
	{"x-ai/grok-3-mini", "Grok 3 Mini", "xAI", "Lightweight reasoning model", "128K tokens"},
}

// Models returns the catalog, optionally filtered by provider.
func Models(provider string) []Model {
	out := make([]Model, 0, len(catalog))
	for _, m := range catalog {
		if provider == "" || m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

// LookupModel returns the catalog entry for id.
func LookupModel(id string) (Model, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Providers returns the distinct providers in sorted order.
func Providers() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range catalog {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			out = append(out, m.Provider)
		}
	}
	sort.Strings(out)
	return out
}
