package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models agentline.yml.
type Config struct {
	Quota struct {
		DailyRequests int `yaml:"daily_requests"`
		DailyTokens   int `yaml:"daily_tokens"`
	} `yaml:"quota"`
	Limits struct {
		MinTemperature     float64 `yaml:"min_temperature"`
		MaxTemperature     float64 `yaml:"max_temperature"`
		DefaultTemperature float64 `yaml:"default_temperature"`
		MinMaxTokens       int     `yaml:"min_max_tokens"`
		MaxMaxTokens       int     `yaml:"max_max_tokens"`
		DefaultMaxTokens   int     `yaml:"default_max_tokens"`
		DefaultModel       string  `yaml:"default_model"`
	} `yaml:"limits"`
	Costs struct {
		PerKInputUSD  float64 `yaml:"per_k_input_usd"`
		PerKOutputUSD float64 `yaml:"per_k_output_usd"`
	} `yaml:"costs"`
	Audit struct {
		MaxEntries int `yaml:"max_entries"`
	} `yaml:"audit"`
	Provider struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
		RetryAttempts uint    `yaml:"retry_attempts"`
		BreakerTrips  uint32  `yaml:"breaker_trips"`
	} `yaml:"provider"`
	Agent struct {
		Name         string `yaml:"name"`
		DisplayName  string `yaml:"display_name"`
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"agent"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with al config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Quota.DailyRequests <= 0 {
		return fmt.Errorf("config.quota.daily_requests must be positive")
	}
	if c.Quota.DailyTokens <= 0 {
		return fmt.Errorf("config.quota.daily_tokens must be positive")
	}
	if c.Limits.MinTemperature > c.Limits.MaxTemperature {
		return fmt.Errorf("config.limits: min_temperature above max_temperature")
	}
	if c.Limits.DefaultTemperature < c.Limits.MinTemperature || c.Limits.DefaultTemperature > c.Limits.MaxTemperature {
		return fmt.Errorf("config.limits.default_temperature outside [min,max]")
	}
	if c.Limits.MinMaxTokens <= 0 || c.Limits.MaxMaxTokens < c.Limits.MinMaxTokens {
		return fmt.Errorf("config.limits: invalid max_tokens bounds")
	}
	if c.Limits.DefaultMaxTokens < c.Limits.MinMaxTokens || c.Limits.DefaultMaxTokens > c.Limits.MaxMaxTokens {
		return fmt.Errorf("config.limits.default_max_tokens outside [min,max]")
	}
	if c.Limits.DefaultModel == "" {
		return fmt.Errorf("config.limits.default_model is required")
	}
	if c.Costs.PerKInputUSD < 0 || c.Costs.PerKOutputUSD < 0 {
		return fmt.Errorf("config.costs must not be negative")
	}
	if c.Audit.MaxEntries <= 0 {
		return fmt.Errorf("config.audit.max_entries must be positive")
	}
	if c.Agent.Name == "" {
		return fmt.Errorf("config.agent.name is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agentline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `quota:
  daily_requests: 100
  daily_tokens: 100000

limits:
  min_temperature: 0.0
  max_temperature: 1.5
  default_temperature: 0.7
  min_max_tokens: 50
  max_max_tokens: 8192
  default_max_tokens: 2048
  default_model: gpt-4o-mini

costs:
  per_k_input_usd: 0.0015
  per_k_output_usd: 0.0075

audit:
  max_entries: 10000

provider:
  rate_per_second: 100
  burst: 20
  retry_attempts: 3
  breaker_trips: 5

agent:
  name: business_agent
  display_name: Business CRUD Agent
  system_prompt: |
    You are an assistant for a firm that manages audit projects, tax return
    cases, billable hours and revenue records. Use the registered tools to
    create, update, delete and query records. Extract required fields from
    the request, confirm what you did, and remember that every action is
    logged and can be rolled back.
`
