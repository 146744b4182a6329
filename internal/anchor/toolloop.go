package anchor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

const DefaultMaxToolRounds = 5

var ErrToolLoopExhausted = errors.New("tool loop exceeded its round limit")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Completion is one backend answer. A completion with tool calls asks for
// their results before it answers.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Completer is an AI completion backend.
type Completer interface {
	Complete(ctx context.Context, messages []Message, tools []ToolSpec) (*Completion, error)
}

// StaticCompleter needs no backend. It answers every prompt with the tools
// the anchor can run.
type StaticCompleter struct {
	BotName string
}

func (c StaticCompleter) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (*Completion, error) {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	name := c.BotName
	if name == "" {
		name = "Cora"
	}
	if len(names) == 0 {
		return &Completion{Content: fmt.Sprintf("%s has no tools enabled on this anchor.", name)}, nil
	}
	return &Completion{
		Content: fmt.Sprintf("%s can run: %s. Ask about the time, the system status or the tool list.", name, strings.Join(names, ", ")),
	}, nil
}

type loopState int

const (
	awaitingResponse loopState = iota
	toolRequested
	toolExecuted
)

// ToolLoop resolves tool calls between a completer and the registry. Each
// completion request is one round; the loop fails once maxRounds requests
// have all asked for tools.
type ToolLoop struct {
	completer Completer
	tools     *Registry
	maxRounds int
}

func NewToolLoop(completer Completer, tools *Registry, maxRounds int) *ToolLoop {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	return &ToolLoop{completer: completer, tools: tools, maxRounds: maxRounds}
}

// Run returns the final answer and the conversation including every tool
// round. The given messages are not modified.
func (l *ToolLoop) Run(ctx context.Context, messages []Message) (string, []Message, error) {
	history := append([]Message(nil), messages...)
	specs := l.tools.Specs()

	var (
		state   = awaitingResponse
		pending []ToolCall
		rounds  int
	)
	for {
		switch state {
		case awaitingResponse:
			if rounds == l.maxRounds {
				return "", history, fmt.Errorf("%w (%d)", ErrToolLoopExhausted, l.maxRounds)
			}
			rounds++

			completion, err := l.completer.Complete(ctx, history, specs)
			if err != nil {
				return "", history, fmt.Errorf("completion round %d: %w", rounds, err)
			}
			history = append(history, Message{
				Role:      RoleAssistant,
				Content:   completion.Content,
				ToolCalls: completion.ToolCalls,
			})
			if len(completion.ToolCalls) == 0 {
				return completion.Content, history, nil
			}
			pending = completion.ToolCalls
			state = toolRequested

		case toolRequested:
			for _, call := range pending {
				history = append(history, Message{
					Role:       RoleTool,
					Content:    l.runCall(ctx, call),
					ToolCallID: call.ID,
				})
			}
			state = toolExecuted

		case toolExecuted:
			pending = nil
			state = awaitingResponse
		}
	}
}

// runCall never fails the loop; a tool error becomes the tool's answer.
func (l *ToolLoop) runCall(ctx context.Context, call ToolCall) string {
	args := []byte(call.Arguments)
	result, err := l.tools.Execute(ctx, call.Name, args)
	if err != nil {
		log.Debug().Err(err).Str("tool", call.Name).Msg("tool call failed")
		return string(failurePayload(call.Name, err.Error()))
	}
	return string(result)
}
