// Package bridge exposes the tool registry as an MCP server.
//
// Every registered tool is served under its own name and argument schema.
// Unlike the model-facing path, MCP clients receive the full, untrimmed tool
// data as JSON text. Each MCP session has its own tool context, so
// get-correlation-summary works over the data tools called earlier in the
// same session. Calls without a session get a fresh context each time.
//
// Typical usage:
//
//	b := bridge.New(holder, bridge.WithRegion("north-east"))
//	mux.Handle("/mcp", b.Handler())
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/floodwatch/internal/tools"
)

// DefaultMaxSessions bounds the number of per-session tool contexts kept.
const DefaultMaxSessions = 256

// Implementation identifies the server to MCP clients.
var Implementation = &mcpsdk.Implementation{Name: "floodwatch", Version: "1.0.0"}

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithRegion sets the region of every tool context.
func WithRegion(region string) Option {
	return func(b *Bridge) { b.region = region }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMaxSessions bounds the per-session tool contexts. The oldest session
// context is dropped first.
func WithMaxSessions(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.maxSessions = n
		}
	}
}

// Bridge serves the current tool registry over MCP. When the registry is
// swapped the next request gets a server built from the new registry.
// Bridge is safe for concurrent use.
type Bridge struct {
	holder      *tools.Holder
	region      string
	logger      *slog.Logger
	maxSessions int

	mu       sync.Mutex
	registry *tools.Registry
	server   *mcpsdk.Server
	contexts map[*mcpsdk.ServerSession]*tools.Context
	order    []*mcpsdk.ServerSession
}

// New creates a Bridge over holder.
func New(holder *tools.Holder, opts ...Option) *Bridge {
	b := &Bridge{
		holder:      holder,
		logger:      slog.Default(),
		maxSessions: DefaultMaxSessions,
		contexts:    make(map[*mcpsdk.ServerSession]*tools.Context),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handler returns the streamable HTTP handler for the MCP endpoint.
func (b *Bridge) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return b.Server()
	}, nil)
}

// Server returns the MCP server for the registry currently published by the
// holder, building it on first use after a swap.
func (b *Bridge) Server() *mcpsdk.Server {
	reg := b.holder.Load()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.server != nil && b.registry == reg {
		return b.server
	}

	server := mcpsdk.NewServer(Implementation, nil)
	for _, t := range reg.Tools() {
		def := t.Definition()
		schema := def.Parameters
		if schema == nil {
			schema = tools.EmptySchema()
		}
		server.AddTool(&mcpsdk.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		}, b.handler(reg, def.Name))
	}
	b.registry = reg
	b.server = server
	b.logger.Info("mcp server built", "tools", len(reg.Tools()))
	return server
}

func (b *Bridge) handler(reg *tools.Registry, name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args string
		if req.Params != nil {
			args = string(req.Params.Arguments)
		}
		tc := b.sessionContext(req.Session)

		res, _, err := reg.Dispatch(ctx, name, args, tc)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		if res.Failed() {
			return errorResult(res.Error), nil
		}
		tc.Record(tools.ResultKey(name), res)

		data, err := json.Marshal(res.Data)
		if err != nil {
			return errorResult("encode result: " + err.Error()), nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
		}, nil
	}
}

// sessionContext returns the tool context of the session, creating it when
// needed. A nil session gets an unshared context.
func (b *Bridge) sessionContext(ss *mcpsdk.ServerSession) *tools.Context {
	if ss == nil {
		return tools.NewContext(b.region, 0, 0)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if tc, ok := b.contexts[ss]; ok {
		return tc
	}
	tc := tools.NewContext(b.region, 0, 0)
	b.contexts[ss] = tc
	b.order = append(b.order, ss)
	for len(b.order) > b.maxSessions {
		delete(b.contexts, b.order[0])
		b.order = b.order[1:]
	}
	return tc
}

// Sessions returns the number of tool contexts currently held.
func (b *Bridge) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contexts)
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	data, _ := json.Marshal(tools.ErrorView(msg))
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}
}
