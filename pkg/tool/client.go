// Package tool is the Tool role's effector transport: it speaks the
// Model Context Protocol to whatever tool server a playbook step names,
// generalizing tarsy's "MCP server providing tools to an LLM agent" into
// "MCP server providing one declared remediation tool to the Step
// handler." Unlike tarsy's registry of many-tools-per-server, each
// declared tool here is its own MCP server exposing exactly one callable
// tool, matching spec.md's idempotency key of (exception_id, step_order,
// tool_id) — there is no multi-tool selection to route.
package tool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/excproc/pkg/config"
)

// Client manages MCP sessions for declared tools, one session per
// tool_id. Thread-safe: many worker goroutines may invoke different
// tools concurrently.
type Client struct {
	mu          sync.RWMutex
	sessions    map[string]*mcpsdk.ClientSession
	clients     map[string]*mcpsdk.Client
	failedTools map[string]string
	decls       map[string]config.ToolYAML
	reinitMu    sync.Map // toolID → *sync.Mutex

	logger *slog.Logger
}

// NewClient creates an empty Client.
func NewClient() *Client {
	return &Client{
		sessions:    make(map[string]*mcpsdk.ClientSession),
		clients:     make(map[string]*mcpsdk.Client),
		failedTools: make(map[string]string),
		decls:       make(map[string]config.ToolYAML),
		logger:      slog.Default(),
	}
}

// Initialize connects to every declared tool server, recording failures
// rather than aborting — a playbook naming an unreachable tool should
// fail that one step, not keep the whole worker from starting.
func (c *Client) Initialize(ctx context.Context, tools map[string]config.ToolYAML) {
	for id, decl := range tools {
		if err := c.InitializeTool(ctx, id, decl); err != nil {
			c.mu.Lock()
			c.failedTools[id] = err.Error()
			c.mu.Unlock()
			c.logger.Warn("tool server failed to initialize", "tool_id", id, "error", err)
		}
	}
}

// InitializeTool connects to a single tool's server. Returns nil if
// already connected.
func (c *Client) InitializeTool(ctx context.Context, id string, decl config.ToolYAML) error {
	muI, _ := c.reinitMu.LoadOrStore(id, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return c.initializeLocked(ctx, id, decl)
}

func (c *Client) initializeLocked(ctx context.Context, id string, decl config.ToolYAML) error {
	c.mu.Lock()
	if _, ok := c.sessions[id]; ok {
		c.mu.Unlock()
		return nil
	}
	c.decls[id] = decl
	c.mu.Unlock()

	transport, err := createTransport(decl)
	if err != nil {
		return fmt.Errorf("tool: create transport for %q: %w", id, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "excproc", Version: "1"}, nil)
	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("tool: connect to %q: %w", id, err)
	}

	c.mu.Lock()
	c.sessions[id] = session
	c.clients[id] = client
	delete(c.failedTools, id)
	c.mu.Unlock()

	c.logger.Info("tool server connected", "tool_id", id)
	return nil
}

// CallTool invokes name (the MCP tool name, usually decl.ToolName or the
// tool_id itself) on the session for id, retrying once with a fresh
// session on a transport-level failure.
func (c *Client) CallTool(ctx context.Context, id, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: name, Arguments: args}

	result, err := c.callOnce(ctx, id, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := c.recreateSession(ctx, id); err != nil {
		return nil, fmt.Errorf("tool: session recreation failed for %q: %w", id, err)
	}

	result, err = c.callOnce(ctx, id, params)
	if err != nil {
		return nil, fmt.Errorf("tool: retry failed for %q.%s: %w", id, name, err)
	}
	return result, nil
}

func (c *Client) callOnce(ctx context.Context, id string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	c.mu.RLock()
	session, ok := c.sessions[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool: no session for %q", id)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	return session.CallTool(opCtx, params)
}

func (c *Client) recreateSession(ctx context.Context, id string) error {
	muI, _ := c.reinitMu.LoadOrStore(id, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if session, ok := c.sessions[id]; ok {
		_ = session.Close()
		delete(c.sessions, id)
		delete(c.clients, id)
	}
	decl := c.decls[id]
	c.mu.Unlock()

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()
	return c.initializeLocked(reinitCtx, id, decl)
}

// Close shuts down every session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tool: close session %q: %w", id, err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.clients = make(map[string]*mcpsdk.Client)
	c.failedTools = make(map[string]string)
	return firstErr
}

// HasSession reports whether id has an active session.
func (c *Client) HasSession(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[id]
	return ok
}

// FailedTools returns the tools that failed to initialize, keyed by id.
func (c *Client) FailedTools() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.failedTools))
	for k, v := range c.failedTools {
		out[k] = v
	}
	return out
}
