// Package tools implements the tool catalog and parallel executor that sit
// between the Orchestrator and every tool invocation a dispatch makes.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/starkbot/starkbot/internal/events"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20 // 10MB
)

// Tool is a single invokable capability: a system tool, a domain tool, or
// one surfaced by an installed module's RPC-backed create_tools().
type Tool interface {
	Name() string
	Description() string
	Group() policy.Group
	Safety() policy.Safety
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage, tc *Context) *models.ToolResponse
}

// Context is what every tool execution receives (§4.4's "Tool context").
// Agent is the per-session runtime state the system tools (define_tasks,
// add_task, set_agent_subtype, task_fully_completed...) mutate directly;
// it is owned exclusively by the Orchestrator for the duration of one
// dispatch. Registers, on Agent, are shared by reference within the
// dispatch so one tool call can leave values for a later one to read
// (e.g. token_lookup -> web3_tx).
type Context struct {
	SessionID      string
	ChannelID      string
	ChannelType    models.ChannelType
	SafeMode       bool
	Agent          *models.AgentContext
	Events         *events.Broadcaster
	APIKeyResolver func(name string) (string, bool)
	TxQueue        TxEnqueuer
}

// TxEnqueuer is the narrow slice of the transaction-queue coordinator a
// tool needs; avoids an import cycle between tools and txqueue.
type TxEnqueuer interface {
	Enqueue(ctx context.Context, sessionID string, intent any) (string, error)
}

// RegisterSet stores a named value for later tool calls in the same dispatch.
func (c *Context) RegisterSet(name, value string) {
	if c.Agent == nil {
		return
	}
	if c.Agent.Registers == nil {
		c.Agent.Registers = make(map[string]string)
	}
	c.Agent.Registers[name] = value
}

// RegisterGet reads a previously stored register value.
func (c *Context) RegisterGet(name string) (string, bool) {
	if c.Agent == nil {
		return "", false
	}
	v, ok := c.Agent.Registers[name]
	return v, ok
}

// Registry is the thread-safe catalog of every tool the process knows
// about, independent of any one session's filtered view of it.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	resolver *policy.Resolver
}

// NewRegistry creates an empty registry backed by the given policy resolver.
func NewRegistry(resolver *policy.Resolver) *Registry {
	if resolver == nil {
		resolver = policy.NewResolver()
	}
	return &Registry{
		tools:    make(map[string]Tool),
		resolver: resolver,
	}
}

// Register adds a tool, replacing any existing tool of the same name, and
// ensures its name is a member of its declared group (for modules adding
// tools outside the built-in groups).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := policy.NormalizeTool(t.Name())
	r.tools[name] = t
	r.resolver.RegisterGroupTools(t.Group(), name)
}

// Unregister removes a tool, used on module uninstall.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, policy.NormalizeTool(name))
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[policy.NormalizeTool(name)]
	return t, ok
}

// Filtered returns the tools visible under a policy: §4.4's filtering
// precedence (safe-mode allow-list, explicit deny, subtype group, profile
// default) is entirely delegated to the Resolver; this just intersects
// the catalog against the names it allows.
func (r *Registry) Filtered(p *policy.Policy) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	for name, t := range r.tools {
		if r.resolver.IsAllowed(p, name) {
			out = append(out, t)
		}
	}
	return out
}

// Resolver exposes the underlying policy resolver, e.g. for the Dispatcher
// to build a palette before any tools have executed.
func (r *Registry) Resolver() *policy.Resolver {
	return r.resolver
}

// invoke runs one tool call's arguments through its schema-less validation
// (name/size limits) and the tool's Execute method.
func (r *Registry) invoke(ctx context.Context, call models.ToolCall, tc *Context, p *policy.Policy) *models.ToolResponse {
	name := policy.NormalizeTool(call.ToolName)

	if len(name) > MaxToolNameLength {
		return &models.ToolResponse{
			CallID:  call.CallID,
			Success: false,
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
		}
	}
	if len(call.Arguments) > MaxToolParamsSize {
		return &models.ToolResponse{
			CallID:  call.CallID,
			Success: false,
			Content: fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolParamsSize),
		}
	}

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResponse{
			CallID:  call.CallID,
			Success: false,
			Content: "tool not found: " + call.ToolName,
		}
	}

	if p != nil && !r.resolver.IsAllowed(p, name) {
		return &models.ToolResponse{
			CallID:  call.CallID,
			Success: false,
			Content: "tool not permitted under current policy: " + name,
		}
	}

	return t.Execute(ctx, call.Arguments, tc)
}
