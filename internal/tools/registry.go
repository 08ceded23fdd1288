package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/llm"
	"github.com/modalbot/backend/pkg/logger"
	"github.com/modalbot/backend/pkg/utils"
)

// Cache stores tool output for a short TTL so repeated selections of the
// same tool with the same arguments skip the upstream call.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// Descriptor is one callable tool: its selection-call schema plus the
// function that runs it. Call receives the requesting user as owner; tools
// that read owner-scoped data filter by it. Call never returns a Go error;
// failures come back as "Error: ..." strings so a broken tool degrades the
// answer instead of aborting the query.
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Call        func(ctx context.Context, args map[string]interface{}, owner string) string
}

type Registry struct {
	tools map[string]Descriptor
	order []string
	cache Cache
}

func NewRegistry(cache Cache) *Registry {
	return &Registry{
		tools: make(map[string]Descriptor),
		cache: cache,
	}
}

func (r *Registry) Register(d Descriptor) {
	if _, exists := r.tools[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.tools[d.Name] = d
	logger.Debug("Tool registered", zap.String("tool", d.Name))
}

// Definitions returns the selection-call schemas in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		d := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return defs
}

// Execute runs every selected call for owner and joins the outputs. Unknown
// tool names produce an error line in the output rather than failing the
// batch.
func (r *Registry) Execute(ctx context.Context, calls []llm.ToolCall, owner string) string {
	if len(calls) == 0 {
		return ""
	}

	outputs := make([]string, 0, len(calls))
	for _, call := range calls {
		d, ok := r.tools[call.Name]
		if !ok {
			logger.Warn("Unknown tool selected", zap.String("tool", call.Name))
			outputs = append(outputs, fmt.Sprintf("Error: unknown tool '%s'.", call.Name))
			continue
		}

		key := cacheKey(call, owner)
		if r.cache != nil {
			if cached, ok := r.cache.Get(ctx, key); ok {
				logger.Debug("Tool output served from cache", zap.String("tool", call.Name))
				outputs = append(outputs, cached)
				continue
			}
		}

		out := d.Call(ctx, call.Arguments, owner)
		if r.cache != nil && !strings.HasPrefix(out, "Error:") {
			r.cache.Set(ctx, key, out)
		}
		outputs = append(outputs, out)
	}

	return strings.Join(outputs, "\n\n")
}

// cacheKey includes the owner so owner-scoped tool output is never shared
// across users.
func cacheKey(call llm.ToolCall, owner string) string {
	keys := make([]string, 0, len(call.Arguments))
	for k := range call.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(call.Name)
	b.WriteString("|owner=")
	b.WriteString(owner)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, call.Arguments[k])
	}
	return "tool:" + utils.HashString(b.String())
}

func stringArg(args map[string]interface{}, name string) string {
	if v, ok := args[name].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
