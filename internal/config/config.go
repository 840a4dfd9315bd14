package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OPSBRIDGE_MODEL_NAME.
const EnvPrefix = "OPSBRIDGE"

// Config is the top-level opsbridge client configuration.
type Config struct {
	Model   ModelConfig   `mapstructure:"model"`
	MCP     MCPConfig     `mapstructure:"mcp"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
}

// ModelConfig holds LLM provider settings.
type ModelConfig struct {
	Provider string         `mapstructure:"provider"` // "ollama" (default) or "openai"
	BaseURL  string         `mapstructure:"base_url"`
	APIKey   string         `mapstructure:"api_key"`
	Name     string         `mapstructure:"name"`
	Settings map[string]any `mapstructure:"settings"`
}

// MCPConfig controls how server scripts are launched.
type MCPConfig struct {
	PythonCommand string `mapstructure:"python_command"`
	NodeCommand   string `mapstructure:"node_command"`
	AuthToken     string `mapstructure:"auth_token"` // for http(s) servers behind a Bearer key
}

// SessionConfig controls transcript lifetime and persistence.
type SessionConfig struct {
	History string `mapstructure:"history"` // "session" or "query"
	DBPath  string `mapstructure:"db_path"` // empty disables persistence
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "text" or "json"
	BufferSize int    `mapstructure:"buffer_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.provider", "ollama")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.name", "")
	v.SetDefault("mcp.python_command", "python")
	v.SetDefault("mcp.node_command", "node")
	v.SetDefault("mcp.auth_token", "")
	v.SetDefault("session.history", "session")
	v.SetDefault("session.db_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.buffer_size", 200)
}

// Load reads configuration from an optional file (YAML, JSON or TOML by
// extension), applies OPSBRIDGE_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.Model.APIKey = os.ExpandEnv(cfg.Model.APIKey)
	cfg.Model.BaseURL = os.ExpandEnv(cfg.Model.BaseURL)
	cfg.MCP.AuthToken = os.ExpandEnv(cfg.MCP.AuthToken)
	for k, val := range cfg.Model.Settings {
		if s, ok := val.(string); ok {
			cfg.Model.Settings[k] = os.ExpandEnv(s)
		}
	}

	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyProviderDefaults fills in the URL and model that depend on the provider.
func (c *Config) applyProviderDefaults() {
	switch c.Model.Provider {
	case "ollama":
		if c.Model.BaseURL == "" {
			c.Model.BaseURL = "http://localhost:11434"
		}
		if c.Model.Name == "" {
			c.Model.Name = "llama3.2:3b"
		}
	case "openai":
		if c.Model.Name == "" {
			c.Model.Name = "gpt-4o"
		}
	}
}

// Validate checks for required fields and known enum values.
func (c *Config) Validate() error {
	var errs []string

	switch c.Model.Provider {
	case "ollama":
	case "openai":
		if c.Model.APIKey == "" && c.Model.BaseURL == "" {
			errs = append(errs, "model.api_key is required for the hosted openai provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("model.provider %q is not one of ollama, openai", c.Model.Provider))
	}
	if c.Model.Name == "" {
		errs = append(errs, "model.name is required")
	}

	if c.MCP.PythonCommand == "" {
		errs = append(errs, "mcp.python_command is required")
	}
	if c.MCP.NodeCommand == "" {
		errs = append(errs, "mcp.node_command is required")
	}

	if c.Session.History != "session" && c.Session.History != "query" {
		errs = append(errs, fmt.Sprintf("session.history %q is not one of session, query", c.Session.History))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}
	if c.Log.BufferSize < 0 {
		errs = append(errs, "log.buffer_size must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", level)
}
