// Package config loads and validates the gateway's YAML configuration:
// server addresses, the database connection, the default LLM provider,
// per-agent definitions, and logging.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root configuration for one gateway process.
type Config struct {
	Version  int            `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Agents   []AgentConfig  `yaml:"agents"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig configures the process's listening addresses.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the Postgres connection pool backing every
// durable store (consciousness, inbox, runs, plans, space messages).
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ProviderConfig names the external LLM provider and the environment
// variable holding its credential. The provider itself is wired outside
// this package, per agent.LLMProvider.
type ProviderConfig struct {
	Name       string `yaml:"name"`
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Endpoint   string `yaml:"endpoint,omitempty"`
}

// AgentConfig is one agent's static definition: identity, tool
// membership, and cycle limits.
type AgentConfig struct {
	ID             string   `yaml:"id"`
	AgentEntityID  string   `yaml:"agent_entity_id"`
	Name           string   `yaml:"name"`
	SystemPrompt   string   `yaml:"system_prompt"`
	IdentityPath   string   `yaml:"identity_path,omitempty"`
	Tools          []string `yaml:"tools,omitempty"`
	AsyncTools     []string `yaml:"async_tools,omitempty"`
	VisibleTools   []string `yaml:"visible_tools,omitempty"`
	Spaces         []string `yaml:"spaces,omitempty"`
	SoftCapTokens  int      `yaml:"soft_cap_tokens"`
	HardCapTokens  int      `yaml:"hard_cap_tokens"`
	MaxSteps       int      `yaml:"max_steps"`
}

// LoggingConfig configures the process's slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures the OpenTelemetry exporter. An empty
// Endpoint disables tracing.
type TracingConfig struct {
	Endpoint       string  `yaml:"endpoint,omitempty"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	EnableInsecure bool    `yaml:"enable_insecure"`
}

// Load reads, merges $include directives, and validates the
// configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults().Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() *Config {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.MaxSteps == 0 {
			a.MaxSteps = 8
		}
		if a.SoftCapTokens == 0 {
			a.SoftCapTokens = 40000
		}
		if a.HardCapTokens == 0 {
			a.HardCapTokens = 60000
		}
	}
	return c
}

// Validate checks invariants Load cannot silently default: a version,
// a database URL, a named provider, and at least one agent with a
// unique entity ID.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if strings.TrimSpace(c.Provider.Name) == "" {
		return fmt.Errorf("config: provider.name is required")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent is required")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if strings.TrimSpace(a.AgentEntityID) == "" {
			return fmt.Errorf("config: agent %q is missing agent_entity_id", a.ID)
		}
		if seen[a.AgentEntityID] {
			return fmt.Errorf("config: duplicate agent_entity_id %q", a.AgentEntityID)
		}
		seen[a.AgentEntityID] = true
	}
	return nil
}

// ProviderAPIKey reads the provider credential from its configured
// environment variable.
func (c *Config) ProviderAPIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}
