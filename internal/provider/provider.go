package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// Provider is the abstraction over LLM APIs.
type Provider interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Type     string // "ollama" (default) or "openai"
	BaseURL  string
	APIKey   string
	Model    string
	Settings map[string]any
}

// Settings are the provider knobs that come from the free-form settings map.
type Settings struct {
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	KeepAlive   string        `mapstructure:"keep_alive"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DecodeSettings decodes a settings map. Keys match case-insensitively and
// ignore '_' and '-', so "maxTokens", "max-tokens" and "max_tokens" are equivalent.
func DecodeSettings(input map[string]any) (Settings, error) {
	var s Settings
	if len(input) == 0 {
		return s, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &s,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return s, err
	}
	if err := decoder.Decode(input); err != nil {
		return s, fmt.Errorf("provider settings: %w", err)
	}
	return s, nil
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}

// New builds the provider described by cfg.
func New(cfg Config) (Provider, error) {
	settings, err := DecodeSettings(cfg.Settings)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "", "ollama":
		opts := []OllamaOption{WithOllamaSettings(settings)}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOllamaBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithOllamaModel(cfg.Model))
		}
		return NewOllama(opts...), nil
	case "openai":
		opts := []OpenAIOption{WithSettings(settings)}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		return NewOpenAI(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("provider: unknown type %q", cfg.Type)
	}
}
