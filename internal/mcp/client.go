// Package mcp connects to a tool-providing MCP server and exposes its tools
// as protocol descriptors and text results.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// UnsupportedServerTypeError is returned when the server target is neither a
// .py/.js script nor an http(s) URL. It aborts startup.
type UnsupportedServerTypeError struct {
	Target string
}

func (e *UnsupportedServerTypeError) Error() string {
	return fmt.Sprintf("unsupported server type %q: server script must be a .py or .js file", e.Target)
}

// Options configures how a server target is launched and how the client identifies itself.
type Options struct {
	PythonCommand string    // default "python"
	NodeCommand   string    // default "node"
	Stderr        io.Writer // server process stderr; nil discards it
	AuthToken     string    // Bearer token sent to http(s) servers
	ClientName    string
	ClientVersion string
}

func (o Options) python() string {
	if o.PythonCommand != "" {
		return o.PythonCommand
	}
	return "python"
}

func (o Options) node() string {
	if o.NodeCommand != "" {
		return o.NodeCommand
	}
	return "node"
}

// Client is a live session with one MCP server.
type Client struct {
	target  string
	session *mcpsdk.ClientSession
}

// Connect launches or dials target and performs the MCP initialize handshake.
// The returned client must be closed to release the session and any child process.
func Connect(ctx context.Context, target string, opts Options) (*Client, error) {
	transport, err := BuildTransport(target, opts)
	if err != nil {
		return nil, err
	}
	return connect(ctx, target, transport, opts)
}

func connect(ctx context.Context, target string, transport mcpsdk.Transport, opts Options) (*Client, error) {
	name := opts.ClientName
	if name == "" {
		name = "opsbridge"
	}
	version := opts.ClientVersion
	if version == "" {
		version = "0.1.0"
	}

	impl := mcpsdk.NewClient(&mcpsdk.Implementation{Name: name, Version: version}, nil)
	session, err := impl.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect %s: %w", target, err)
	}
	return &Client{target: target, session: session}, nil
}

// BuildTransport picks the transport for target: an http(s) URL is dialled with the
// streamable HTTP transport, a .py or .js script is spawned over stdio.
func BuildTransport(target string, opts Options) (mcpsdk.Transport, error) {
	target = strings.TrimSpace(target)
	lowered := strings.ToLower(target)
	if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") {
		transport := &mcpsdk.StreamableClientTransport{Endpoint: target}
		if opts.AuthToken != "" {
			transport.HTTPClient = &http.Client{Transport: &bearerTransport{token: opts.AuthToken}}
		}
		return transport, nil
	}

	cmd, err := ServerCommand(target, opts)
	if err != nil {
		return nil, err
	}
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return base.RoundTrip(req)
}

// ServerCommand returns the command that runs a server script: python for .py, node for .js.
// The process lives as long as the session, so it is not bound to a context.
func ServerCommand(target string, opts Options) (*exec.Cmd, error) {
	var command string
	switch filepath.Ext(target) {
	case ".py":
		command = opts.python()
	case ".js":
		command = opts.node()
	default:
		return nil, &UnsupportedServerTypeError{Target: target}
	}

	// #nosec G204 -- the script path comes from the operator's command line
	cmd := exec.Command(command, target)
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}
	return cmd, nil
}

// Target returns the script path or URL this client is connected to.
func (c *Client) Target() string { return c.target }

// ListTools fetches the server's full tool list, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	var descs []protocol.ToolDescriptor
	for t, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp: tools/list: %w", err)
		}
		d, err := toDescriptor(t)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// CallTool invokes a tool on the server and returns its text segments.
// A result flagged isError is returned as an error carrying the joined text.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (protocol.ToolResult, error) {
	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return protocol.ToolResult{}, fmt.Errorf("mcp: tools/call %s: %w", name, err)
	}

	result := toResult(res)
	if res.IsError {
		msg := result.Text()
		if msg == "" {
			msg = "tool reported an error"
		}
		return protocol.ToolResult{}, errors.New(msg)
	}
	return result, nil
}

// Close ends the session; for stdio servers this also stops the child process.
func (c *Client) Close() error {
	if c == nil || c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

func toDescriptor(t *mcpsdk.Tool) (protocol.ToolDescriptor, error) {
	if t == nil || t.Name == "" {
		return protocol.ToolDescriptor{}, errors.New("mcp: tools/list returned a tool without a name")
	}
	schema, err := normalizeSchema(t.InputSchema)
	if err != nil {
		return protocol.ToolDescriptor{}, fmt.Errorf("mcp: tool %s: %w", t.Name, err)
	}
	return protocol.ToolDescriptor{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}, nil
}

// normalizeSchema turns whatever the SDK decoded the input schema into
// (a map, raw JSON, or a typed schema) into a plain JSON object.
func normalizeSchema(raw any) (map[string]any, error) {
	switch s := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return s, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("input schema is not a JSON object: %w", err)
	}
	return schema, nil
}

func toResult(res *mcpsdk.CallToolResult) protocol.ToolResult {
	var segments []string
	for _, content := range res.Content {
		switch c := content.(type) {
		case *mcpsdk.TextContent:
			segments = append(segments, c.Text)
		case *mcpsdk.ImageContent:
			segments = append(segments, fmt.Sprintf("[image %s omitted]", c.MIMEType))
		default:
			data, err := json.Marshal(content)
			if err != nil {
				continue
			}
			segments = append(segments, string(data))
		}
	}
	if len(segments) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			segments = append(segments, string(data))
		}
	}
	return protocol.ToolResult{Segments: segments}
}
