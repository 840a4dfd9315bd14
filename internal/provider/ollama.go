package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// OllamaProvider implements Provider on the Ollama API client.
// Ollama returns tool-call arguments as structured JSON rather than a string.
type OllamaProvider struct {
	client   *http.Client
	baseURL  string
	model    string
	settings Settings
}

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithOllamaBaseURL sets the server URL.
func WithOllamaBaseURL(baseURL string) OllamaOption {
	return func(p *OllamaProvider) { p.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithOllamaModel sets the default model.
func WithOllamaModel(model string) OllamaOption {
	return func(p *OllamaProvider) { p.model = model }
}

// WithOllamaHTTPClient sets a custom HTTP client.
func WithOllamaHTTPClient(c *http.Client) OllamaOption {
	return func(p *OllamaProvider) { p.client = c }
}

// WithOllamaSettings applies decoded provider settings.
func WithOllamaSettings(s Settings) OllamaOption {
	return func(p *OllamaProvider) {
		p.settings = s
		if s.Timeout > 0 {
			p.client = &http.Client{Timeout: s.Timeout}
		}
	}
}

// NewOllama creates a provider for http://localhost:11434 and llama3.2:3b unless overridden.
func NewOllama(opts ...OllamaOption) *OllamaProvider {
	p := &OllamaProvider{
		client:  &http.Client{Timeout: 300 * time.Second},
		baseURL: "http://localhost:11434",
		model:   "llama3.2:3b",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	base, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: base url: %w", err)
	}
	client := api.NewClient(base, p.client)

	tools, err := toOllamaTools(req.Tools)
	if err != nil {
		return nil, err
	}
	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   &stream,
		Tools:    tools,
	}
	if p.settings.KeepAlive != "" {
		d, err := time.ParseDuration(p.settings.KeepAlive)
		if err != nil {
			return nil, fmt.Errorf("ollama: keep_alive: %w", err)
		}
		chatReq.KeepAlive = &api.Duration{Duration: d}
	}

	options := map[string]any{}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.settings.Temperature
	}
	if temperature > 0 {
		options["temperature"] = temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.settings.MaxTokens
	}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	if len(options) > 0 {
		chatReq.Options = options
	}

	var final api.ChatResponse
	err = client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return nil, fmt.Errorf("ollama error (status %d): %w", statusErr.StatusCode, err)
		}
		return nil, fmt.Errorf("http request: %w", err)
	}

	return parseOllamaResponse(final), nil
}

// --- Conversion helpers ---

func toOllamaMessages(msgs []protocol.ChatMessage) []api.Message {
	out := make([]api.Message, len(msgs))
	for i, m := range msgs {
		om := api.Message{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.Role == protocol.RoleTool {
			om.ToolName = m.Name
		}
		for _, tc := range m.ToolCalls {
			args := api.ToolCallFunctionArguments{}
			for k, v := range tc.Arguments {
				args[k] = v
			}
			om.ToolCalls = append(om.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		out[i] = om
	}
	return out
}

// toOllamaTools converts the function-calling schema through JSON, which both
// sides share, so free-form parameter schemas carry over unchanged.
func toOllamaTools(defs []protocol.ToolDefinition) (api.Tools, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(defs)
	if err != nil {
		return nil, fmt.Errorf("ollama: encode tools: %w", err)
	}
	var tools api.Tools
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("ollama: convert tools: %w", err)
	}
	return tools, nil
}

func parseOllamaResponse(resp api.ChatResponse) *protocol.ChatResponse {
	msg := resp.Message

	var toolCalls []protocol.ToolCall
	for _, tc := range msg.ToolCalls {
		var raw any
		if tc.Function.Arguments != nil {
			raw = map[string]any(tc.Function.Arguments)
		}
		toolCalls = append(toolCalls, protocol.ToolCall{
			ID:           "call_" + uuid.NewString(),
			Name:         tc.Function.Name,
			RawArguments: raw,
		})
	}

	return &protocol.ChatResponse{
		Content:   msg.Content,
		ToolCalls: toolCalls,
		Usage: protocol.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
		},
	}
}
