// Package dispatch runs one user query through discovery, a completion, at most
// one tool invocation and a final completion.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opsbridge/opsbridge/internal/provider"
	"github.com/opsbridge/opsbridge/internal/tool"
	"github.com/opsbridge/opsbridge/internal/transcript"
	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// AnswerPrefix marks an answer produced after a tool round trip.
const AnswerPrefix = "Answer: "

// State is a step of the per-query state machine.
type State int

const (
	AwaitingCompletion State = iota
	TextReturned
	ToolRequested
	ToolExecuting
	ResultFolded
	FinalCompletion
	Failed
	NoOp
)

var stateNames = [...]string{
	AwaitingCompletion: "awaiting_completion",
	TextReturned:       "text_returned",
	ToolRequested:      "tool_requested",
	ToolExecuting:      "tool_executing",
	ResultFolded:       "result_folded",
	FinalCompletion:    "final_completion",
	Failed:             "failed",
	NoOp:               "noop",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether s ends a query cycle.
func (s State) Terminal() bool {
	switch s {
	case TextReturned, FinalCompletion, Failed, NoOp:
		return true
	}
	return false
}

// Registry is the tool catalogue the dispatcher consults. *tool.Registry implements it.
type Registry interface {
	Discover(ctx context.Context) ([]protocol.ToolDescriptor, error)
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Reply is the outcome of one query cycle.
type Reply struct {
	State    State
	Answer   string
	ToolCall *protocol.ToolCall // the invoked call, if any
}

// Dispatcher owns the transcript for the duration of each query.
// Queries must not be handled concurrently.
type Dispatcher struct {
	Provider   provider.Provider
	Tools      Registry
	Transcript *transcript.Transcript
	History    string // transcript.HistorySession or transcript.HistoryQuery
	Model      string
	Logger     *slog.Logger

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// New creates a Dispatcher that keeps one transcript for the whole session.
func New(prov provider.Provider, tools Registry, tr *transcript.Transcript) *Dispatcher {
	if tr == nil {
		tr = transcript.New(nil, nil)
	}
	return &Dispatcher{
		Provider:   prov,
		Tools:      tools,
		Transcript: tr,
		History:    transcript.HistorySession,
		Logger:     slog.Default(),
	}
}

type cycle struct {
	d     *Dispatcher
	state State
}

func (c *cycle) enter(next State) {
	prev := c.state
	c.state = next
	c.d.Logger.Debug("dispatch transition", "from", prev.String(), "to", next.String())
	if c.d.OnTransition != nil {
		c.d.OnTransition(prev, next)
	}
}

func (c *cycle) fail(call *protocol.ToolCall, err error) (*Reply, error) {
	c.enter(Failed)
	return &Reply{State: Failed, ToolCall: call}, err
}

// Handle runs query to a terminal state. On failure the returned Reply has
// State Failed and the error is returned unchanged for errors.As matching.
// Messages appended before a failure stay in the transcript.
func (d *Dispatcher) Handle(ctx context.Context, query string) (*Reply, error) {
	c := &cycle{d: d, state: AwaitingCompletion}

	if d.History == transcript.HistoryQuery {
		d.Transcript.Reset()
	}
	d.Transcript.Append(protocol.UserMessage(query))

	descs, err := d.Tools.Discover(ctx)
	if err != nil {
		return c.fail(nil, err)
	}

	resp, err := d.Provider.Chat(ctx, protocol.ChatRequest{
		Model:    d.Model,
		Messages: d.Transcript.Messages(),
		Tools:    tool.Definitions(descs),
	})
	if err != nil {
		return c.fail(nil, fmt.Errorf("completion: %w", err))
	}

	if resp.Content != "" {
		d.Transcript.Append(protocol.AssistantMessage(resp.Content))
		c.enter(TextReturned)
		return &Reply{State: TextReturned, Answer: resp.Content}, nil
	}

	if len(resp.ToolCalls) == 0 {
		d.Logger.Warn("completion had neither content nor a tool call")
		c.enter(NoOp)
		return &Reply{State: NoOp}, nil
	}
	if len(resp.ToolCalls) > 1 {
		d.Logger.Warn("ignoring extra tool calls", "requested", len(resp.ToolCalls), "using", resp.ToolCalls[0].Name)
	}

	call := resp.ToolCalls[0]
	c.enter(ToolRequested)

	raw := call.RawArguments
	if raw == nil && call.Arguments != nil {
		raw = call.Arguments
	}
	args, err := NormalizeArguments(call.Name, raw)
	if err != nil {
		return c.fail(&call, err)
	}
	call.Arguments = args
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}

	c.enter(ToolExecuting)
	d.Logger.Info(fmt.Sprintf("tool call: %s", call.Name), "call_id", call.ID)
	output, err := d.Tools.Invoke(ctx, call.Name, args)
	if err != nil {
		d.Logger.Warn(fmt.Sprintf("tool error: %s", call.Name), "error", err)
		return c.fail(&call, err)
	}
	d.Logger.Info(fmt.Sprintf("tool result: %s", call.Name), "result_len", len(output))

	d.Transcript.Append(
		protocol.ChatMessage{Role: protocol.RoleAssistant, ToolCalls: []protocol.ToolCall{call}},
		protocol.ToolResultMessage(call, output),
	)
	c.enter(ResultFolded)

	final, err := d.Provider.Chat(ctx, protocol.ChatRequest{
		Model:    d.Model,
		Messages: d.Transcript.Messages(),
	})
	if err != nil {
		return c.fail(&call, fmt.Errorf("final completion: %w", err))
	}
	d.Transcript.Append(protocol.AssistantMessage(final.Content))
	c.enter(FinalCompletion)

	return &Reply{State: FinalCompletion, Answer: AnswerPrefix + final.Content, ToolCall: &call}, nil
}
