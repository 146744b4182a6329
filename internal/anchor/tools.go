package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/sysinfo"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrBlockedTool = errors.New("tool is blocked")
)

// ToolFunc runs one tool. params is the command's JSON object; the returned
// value is marshalled as the command result.
type ToolFunc func(ctx context.Context, params json.RawMessage) (any, error)

type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object describing params.
	Parameters map[string]any
	Run        ToolFunc
}

// ToolSpec is the part of a Tool a completion backend sees.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry maps command names to tools. Blocked names are refused even when
// registered.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	blocked map[string]struct{}
}

func NewRegistry(blocked []string) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		blocked: make(map[string]struct{}, len(blocked)),
	}
	for _, name := range blocked {
		r.blocked[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return r
}

func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" || tool.Run == nil {
		return fmt.Errorf("tool needs a name and a func")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	if tool.Parameters == nil {
		tool.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	r.tools[tool.Name] = tool
	return nil
}

func (r *Registry) isBlocked(name string) bool {
	_, ok := r.blocked[strings.ToLower(name)]
	return ok
}

// Names lists the runnable tools, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if !r.isBlocked(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(r.tools))
	for name, tool := range r.tools {
		if r.isBlocked(name) {
			continue
		}
		specs = append(specs, ToolSpec{Name: name, Description: tool.Description, Parameters: tool.Parameters})
	}
	slices.SortFunc(specs, func(a, b ToolSpec) int { return strings.Compare(a.Name, b.Name) })
	return specs
}

// Execute runs name and returns its marshalled result. Unknown and blocked
// names fail with ErrUnknownTool and ErrBlockedTool.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	blocked := r.isBlocked(name)
	r.mu.RUnlock()

	if blocked {
		return nil, fmt.Errorf("%w: %s", ErrBlockedTool, name)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{}`)
	}

	out, err := tool.Run(ctx, params)
	if err != nil {
		return nil, err
	}

	result, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", name, err)
	}
	return result, nil
}

// RegisterBuiltins adds the tools every anchor carries.
func RegisterBuiltins(r *Registry, clk clock.Clock, startedAt time.Time) error {
	builtins := []Tool{
		{
			Name:        "get_current_time",
			Description: "Get the current date and time on the anchor",
			Run: func(ctx context.Context, _ json.RawMessage) (any, error) {
				now := clk.Now().Local()
				return map[string]string{
					"date": now.Format("2006-01-02"),
					"time": now.Format("15:04:05"),
					"day":  now.Weekday().String(),
					"iso":  now.Format(time.RFC3339),
				}, nil
			},
		},
		{
			Name:        "system_info",
			Description: "Get host information of the anchor machine",
			Run: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return sysinfo.Collect(startedAt), nil
			},
		},
		{
			Name:        "echo",
			Description: "Return the given text unchanged",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "Text to echo"},
				},
				"required": []string{"text"},
			},
			Run: func(ctx context.Context, params json.RawMessage) (any, error) {
				var in struct {
					Text *string `json:"text"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return nil, fmt.Errorf("invalid params: %w", err)
				}
				if in.Text == nil {
					return nil, fmt.Errorf("text is required")
				}
				return map[string]string{"text": *in.Text}, nil
			},
		},
		{
			Name:        "list_tools",
			Description: "List the tools this anchor can run",
			Run: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return map[string]any{"tools": r.Names()}, nil
			},
		},
	}

	for _, tool := range builtins {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
