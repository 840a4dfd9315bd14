package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// Server exposes a set of tools as an MCP server.
type Server struct {
	mcp     *mcpsdk.Server
	catalog []protocol.ToolDescriptor
	logger  *slog.Logger
}

// NewServer creates an MCP server named name and registers tools on it.
func NewServer(name, version string, logger *slog.Logger, tools ...Tool) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:    mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: version}, nil),
		logger: logger.With("component", "toolkit"),
	}
	for _, t := range tools {
		s.Register(t)
	}
	return s
}

// Register adds a tool. Registering a name twice replaces the earlier tool.
func (s *Server) Register(t Tool) {
	schema := t.Parameters()
	if schema == nil {
		schema = emptySchema()
	}
	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: schema,
	}, s.handler(t))
	desc := protocol.ToolDescriptor{Name: t.Name(), Description: t.Description(), InputSchema: schema}
	for i, d := range s.catalog {
		if d.Name == desc.Name {
			s.catalog[i] = desc
			return
		}
	}
	s.catalog = append(s.catalog, desc)
}

// Names returns the registered tool names in registration order.
func (s *Server) Names() []string {
	names := make([]string, len(s.catalog))
	for i, d := range s.catalog {
		names[i] = d.Name
	}
	return names
}

// Catalog returns the descriptors of the registered tools in registration order.
func (s *Server) Catalog() []protocol.ToolDescriptor {
	return append([]protocol.ToolDescriptor(nil), s.catalog...)
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// ServeStdio serves a single client over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler serves the tools over the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

// handler adapts a Tool to the SDK. A failing tool yields an isError result
// carrying its message so the client sees the failure as tool output.
func (s *Server) handler(t Tool) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		params, err := decodeParams(req.Params.Arguments)
		if err != nil {
			return errorResult(fmt.Errorf("%s: %w", t.Name(), err)), nil
		}

		start := time.Now()
		out, err := t.Execute(ctx, params)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("tool error: %s", t.Name()), "error", err, "duration", time.Since(start))
			return errorResult(err), nil
		}
		s.logger.Info(fmt.Sprintf("tool result: %s", t.Name()), "result_len", len(out), "duration", time.Since(start))
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
		}, nil
	}
}

func decodeParams(raw json.RawMessage) (map[string]any, error) {
	params := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
