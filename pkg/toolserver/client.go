package toolserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/models"
)

// HealthStatus is the tool server health as seen from this process.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// ToolInfo describes one remote tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CallResult is the outcome of one tool invocation.
type CallResult struct {
	Success   bool
	Text      string
	Error     string
	LatencyMS float64
}

// Client is the tool server contract consumed by the orchestrator.
type Client interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error)
	Health(ctx context.Context) HealthStatus
	Close() error
}

// MCPClient talks to the tool server over MCP streamable HTTP. A single
// session is shared across requests and recreated on transport failure.
type MCPClient struct {
	cfg config.ToolServerConfig

	mu      sync.RWMutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession

	// Serializes session recreation so concurrent failures reconnect once.
	reinitMu sync.Mutex

	newTransport func() mcpsdk.Transport

	logger *slog.Logger
}

// NewMCPClient builds a client for the configured endpoint. The connection
// is established lazily on first use so startup does not require the tool
// server to be up unless the caller probes Health.
func NewMCPClient(cfg config.ToolServerConfig) *MCPClient {
	return &MCPClient{
		cfg: cfg,
		newTransport: func() mcpsdk.Transport {
			return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		},
		logger: slog.With("component", "toolserver"),
	}
}

// newMCPClientWithTransport is used by tests to connect over an in-memory
// transport instead of HTTP.
func newMCPClientWithTransport(cfg config.ToolServerConfig, factory func() mcpsdk.Transport) *MCPClient {
	c := NewMCPClient(cfg)
	c.newTransport = factory
	return c
}

func (c *MCPClient) timeout() time.Duration {
	if c.cfg.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.cfg.TimeoutMS) * time.Millisecond
}

// connect ensures there is a live session, dialing if necessary.
func (c *MCPClient) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session != nil {
		return session, nil
	}

	c.reinitMu.Lock()
	defer c.reinitMu.Unlock()

	c.mu.RLock()
	session = c.session
	c.mu.RUnlock()
	if session != nil {
		return session, nil
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "hlcs",
		Version: "2.0",
	}, nil)

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	session, err := client.Connect(dialCtx, c.newTransport(), nil)
	if err != nil {
		return nil, models.Wrap(models.KindBackendUnavailable, "connecting to tool server", err)
	}

	c.mu.Lock()
	c.client = client
	c.session = session
	c.mu.Unlock()

	c.logger.Info("Tool server connected", "url", c.cfg.URL)
	return session, nil
}

// dropSession discards the current session so the next call reconnects.
func (c *MCPClient) dropSession() {
	c.mu.Lock()
	if c.session != nil {
		_ = c.session.Close()
	}
	c.session = nil
	c.client = nil
	c.mu.Unlock()
}

// ListTools returns the remote tool catalog.
func (c *MCPClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		c.dropSession()
		return nil, models.Wrap(models.KindBackendUnavailable, "listing tools", err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description})
	}
	return tools, nil
}

// CallTool invokes a tool by its concrete name, retrying transport failures
// up to the configured attempt budget with a fresh session each time.
func (c *MCPClient) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	attempts := c.cfg.Retries
	if attempts < 1 {
		attempts = 1
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := c.callOnce(ctx, name, args)
		if err == nil {
			result.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
			return result, nil
		}
		lastErr = err
		c.dropSession()
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			c.logger.Warn("Tool call failed, retrying",
				"tool", name, "attempt", attempt, "error", err)
		}
	}

	latency := float64(time.Since(start).Microseconds()) / 1000
	if ctx.Err() == context.DeadlineExceeded {
		return CallResult{LatencyMS: latency},
			models.Wrap(models.KindTimeout, fmt.Sprintf("tool %s deadline exceeded", name), lastErr)
	}
	return CallResult{LatencyMS: latency},
		models.Wrap(models.KindBackendUnavailable, fmt.Sprintf("tool %s unavailable", name), lastErr)
}

func (c *MCPClient) callOnce(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return CallResult{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return CallResult{}, err
	}

	text := flattenContent(result.Content)
	if result.IsError {
		// Tool-level failure is a result, not a transport error; no retry.
		return CallResult{Success: false, Error: text}, nil
	}
	return CallResult{Success: true, Text: text}, nil
}

// Health probes the server with a ping.
func (c *MCPClient) Health(ctx context.Context) HealthStatus {
	session, err := c.connect(ctx)
	if err != nil {
		return HealthDown
	}

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := session.Ping(opCtx, nil); err != nil {
		c.dropSession()
		return HealthDegraded
	}
	return HealthOK
}

func (c *MCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.client = nil
	return err
}

func flattenContent(content []mcpsdk.Content) string {
	var parts []string
	for _, item := range content {
		if tc, ok := item.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
