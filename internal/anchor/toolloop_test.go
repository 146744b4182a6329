package anchor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCompleter returns its completions in order and repeats the last.
type scriptedCompleter struct {
	script []Completion
	err    error
	calls  int
	seen   [][]Message
}

func (c *scriptedCompleter) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (*Completion, error) {
	c.seen = append(c.seen, append([]Message(nil), messages...))
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	i := min(c.calls-1, len(c.script)-1)
	out := c.script[i]
	return &out, nil
}

func TestToolLoop(t *testing.T) {
	ctx := context.Background()
	prompt := []Message{{Role: RoleUser, Content: "hi"}}

	t.Run("plain answer takes one round", func(t *testing.T) {
		c := &scriptedCompleter{script: []Completion{{Content: "hello"}}}
		loop := NewToolLoop(c, newBuiltinRegistry(t), 0)

		answer, history, err := loop.Run(ctx, prompt)
		require.NoError(t, err)
		assert.Equal(t, "hello", answer)
		assert.Equal(t, 1, c.calls)
		require.Len(t, history, 2)
		assert.Equal(t, RoleAssistant, history[1].Role)
	})

	t.Run("feeds tool results back", func(t *testing.T) {
		c := &scriptedCompleter{script: []Completion{
			{ToolCalls: []ToolCall{{ID: "call-1", Name: "echo", Arguments: `{"text":"ping"}`}}},
			{Content: "it said ping"},
		}}
		loop := NewToolLoop(c, newBuiltinRegistry(t), 0)

		answer, history, err := loop.Run(ctx, prompt)
		require.NoError(t, err)
		assert.Equal(t, "it said ping", answer)
		assert.Equal(t, 2, c.calls)

		require.Len(t, history, 4)
		toolMsg := history[2]
		assert.Equal(t, RoleTool, toolMsg.Role)
		assert.Equal(t, "call-1", toolMsg.ToolCallID)
		assert.JSONEq(t, `{"text":"ping"}`, toolMsg.Content)

		// The second round saw the tool result.
		require.Len(t, c.seen, 2)
		assert.Len(t, c.seen[1], 3)
		assert.Len(t, prompt, 1)
	})

	t.Run("tool errors become tool answers", func(t *testing.T) {
		c := &scriptedCompleter{script: []Completion{
			{ToolCalls: []ToolCall{{ID: "call-1", Name: "rm_rf"}}},
			{Content: "could not"},
		}}
		loop := NewToolLoop(c, newBuiltinRegistry(t), 0)

		answer, history, err := loop.Run(ctx, prompt)
		require.NoError(t, err)
		assert.Equal(t, "could not", answer)
		assert.JSONEq(t, `{"error":"unknown tool: rm_rf","command":"rm_rf"}`, history[2].Content)
	})

	t.Run("stops at the round cap", func(t *testing.T) {
		c := &scriptedCompleter{script: []Completion{
			{ToolCalls: []ToolCall{{ID: "again", Name: "list_tools"}}},
		}}
		loop := NewToolLoop(c, newBuiltinRegistry(t), 0)

		_, _, err := loop.Run(ctx, prompt)
		assert.ErrorIs(t, err, ErrToolLoopExhausted)
		assert.Equal(t, DefaultMaxToolRounds, c.calls)
	})

	t.Run("completer errors end the loop", func(t *testing.T) {
		boom := errors.New("backend down")
		c := &scriptedCompleter{err: boom}
		loop := NewToolLoop(c, newBuiltinRegistry(t), 3)

		_, _, err := loop.Run(ctx, prompt)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, c.calls)
	})
}

func TestStaticCompleter(t *testing.T) {
	ctx := context.Background()

	t.Run("lists the tools", func(t *testing.T) {
		out, err := StaticCompleter{BotName: "Mini"}.Complete(ctx, nil, newBuiltinRegistry(t).Specs())
		require.NoError(t, err)
		assert.Empty(t, out.ToolCalls)
		assert.Contains(t, out.Content, "Mini can run: echo, get_current_time, list_tools, system_info.")
	})

	t.Run("handles an empty registry", func(t *testing.T) {
		out, err := StaticCompleter{}.Complete(ctx, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "Cora has no tools enabled on this anchor.", out.Content)
	})
}
