package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Supported adapter providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// AdapterConfig describes one model backend handle.
type AdapterConfig struct {
	ID              string        `mapstructure:"id" json:"id"`
	Provider        string        `mapstructure:"provider" json:"provider"`
	Model           string        `mapstructure:"model" json:"model"`
	BaseURL         string        `mapstructure:"base_url" json:"base_url,omitempty"`
	Region          string        `mapstructure:"region" json:"region,omitempty"`
	APIKey          string        `mapstructure:"api_key" json:"-"`
	APIKeyEnv       string        `mapstructure:"api_key_env" json:"api_key_env,omitempty"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxTokens       int           `mapstructure:"max_tokens" json:"max_tokens"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input" json:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output" json:"cost_per_1k_output"`
}

// Credential returns the inline API key, falling back to the named environment variable.
func (a AdapterConfig) Credential() string {
	if a.APIKey != "" {
		return a.APIKey
	}
	if a.APIKeyEnv != "" {
		return os.Getenv(a.APIKeyEnv)
	}
	return ""
}

func (a AdapterConfig) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("adapters: id required")
	}
	switch a.Provider {
	case ProviderAnthropic, ProviderBedrock, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("adapters[%s]: unsupported provider %q", a.ID, a.Provider)
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("adapters[%s]: model required", a.ID)
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("adapters[%s]: max_retries must be >= 0", a.ID)
	}
	return nil
}

// ValidateAdapters checks each adapter and rejects duplicate ids.
func ValidateAdapters(adapters []AdapterConfig) error {
	seen := make(map[string]struct{}, len(adapters))
	for _, a := range adapters {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("adapters: duplicate id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// ValidateFallbackChains fails when a chain is keyed by, or lists, an adapter id
// that is not configured. The error names the offending id.
func ValidateFallbackChains(adapters []AdapterConfig, chains map[string][]string) error {
	known := make(map[string]struct{}, len(adapters))
	for _, a := range adapters {
		known[a.ID] = struct{}{}
	}
	keys := make([]string, 0, len(chains))
	for k := range chains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, id := range keys {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("fallback_chains: unknown adapter id %q", id)
		}
		for _, alt := range chains[id] {
			if _, ok := known[alt]; !ok {
				return fmt.Errorf("fallback_chains[%s]: unknown adapter id %q", id, alt)
			}
			if alt == id {
				return fmt.Errorf("fallback_chains[%s]: adapter cannot fall back to itself", id)
			}
		}
	}
	return nil
}

// AgentConfig holds static per-agent-type settings.
type AgentConfig struct {
	Adapter        string        `mapstructure:"adapter"`
	Fallbacks      []string      `mapstructure:"fallbacks"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PromptTemplate string        `mapstructure:"prompt_template"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
}

// AgentsConfig configures the two model-backed agents.
type AgentsConfig struct {
	Classification AgentConfig `mapstructure:"classification"`
	Decomposition  AgentConfig `mapstructure:"decomposition"`
}

func (a AgentsConfig) Validate(adapters []AdapterConfig) error {
	known := make(map[string]struct{}, len(adapters))
	for _, ad := range adapters {
		known[ad.ID] = struct{}{}
	}
	check := func(name string, ac AgentConfig) error {
		if ac.Adapter == "" {
			return fmt.Errorf("agents.%s.adapter required", name)
		}
		if _, ok := known[ac.Adapter]; !ok {
			return fmt.Errorf("agents.%s: unknown adapter id %q", name, ac.Adapter)
		}
		for _, fb := range ac.Fallbacks {
			if _, ok := known[fb]; !ok {
				return fmt.Errorf("agents.%s.fallbacks: unknown adapter id %q", name, fb)
			}
		}
		if ac.MaxRetries < 1 {
			return fmt.Errorf("agents.%s.max_retries must be >= 1", name)
		}
		if ac.Temperature < 0 || ac.Temperature > 2 {
			return fmt.Errorf("agents.%s.temperature must be within [0,2]", name)
		}
		return nil
	}
	if err := check("classification", a.Classification); err != nil {
		return err
	}
	return check("decomposition", a.Decomposition)
}
