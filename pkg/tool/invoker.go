package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/masking"
	"github.com/codeready-toolchain/excproc/pkg/metrics"
	"github.com/codeready-toolchain/excproc/pkg/resilience"
)

// Invoker implements roles.Invoker backed by real MCP tool servers, one
// circuit breaker per declared tool so a misbehaving remediation tool
// trips its own breaker without affecting unrelated steps on other
// tools.
type Invoker struct {
	client *Client
	masker *masking.Service

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// NewInvoker creates an Invoker over an already-initialized Client.
func NewInvoker(client *Client) *Invoker {
	return &Invoker{client: client, masker: masking.NewService(), breakers: make(map[string]*resilience.CircuitBreaker)}
}

// Invoke calls the tool declared by decl, returning its result decoded
// as a JSON object when possible, or {"text": "..."} for plain-text
// results.
func (inv *Invoker) Invoke(ctx context.Context, decl config.ToolYAML, input map[string]any) (map[string]any, error) {
	breaker := inv.breakerFor(decl.ToolID)

	name := decl.ToolName
	if name == "" {
		name = decl.ToolID
	}

	start := time.Now()
	var result *mcpsdk.CallToolResult
	err := breaker.Execute(ctx, func() error {
		if !inv.client.HasSession(decl.ToolID) {
			if err := inv.client.InitializeTool(ctx, decl.ToolID, decl); err != nil {
				return err
			}
		}
		r, callErr := inv.client.CallTool(ctx, decl.ToolID, name, input)
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	})
	if err != nil {
		metrics.RecordToolInvocation(decl.ToolID, "error", time.Since(start))
		return nil, fmt.Errorf("tool: invoke %q: %w", decl.ToolID, err)
	}
	if result.IsError {
		metrics.RecordToolInvocation(decl.ToolID, "failure", time.Since(start))
		return nil, fmt.Errorf("tool: %q reported an error: %s", decl.ToolID, inv.masker.Mask(extractText(result)))
	}

	metrics.RecordToolInvocation(decl.ToolID, "success", time.Since(start))
	return decodeResult(inv.masker.Mask(extractText(result))), nil
}

func (inv *Invoker) breakerFor(toolID string) *resilience.CircuitBreaker {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if b, ok := inv.breakers[toolID]; ok {
		return b
	}
	b := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "tool:" + toolID,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("tool circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})
	inv.breakers[toolID] = b
	return b
}

func extractText(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// decodeResult turns a tool's (already masked) text content into a JSON
// object if it parses as one, otherwise wraps the raw text — the Tool
// role handler stores whatever comes back as the ToolExecution's
// OutputPayload without needing to know which shape a given tool returns.
func decodeResult(text string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj
	}
	return map[string]any{"text": text}
}
