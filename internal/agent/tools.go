package agent

import (
	"context"
)

// Tool is something an agent can invoke during its reasoning loop.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input string) (string, error)
}

// FuncTool adapts a plain function to the Tool interface.
type FuncTool struct {
	name        string
	description string
	fn          func(ctx context.Context, input string) (string, error)
}

func NewFuncTool(name, description string, fn func(ctx context.Context, input string) (string, error)) *FuncTool {
	return &FuncTool{name: name, description: description, fn: fn}
}

func (t *FuncTool) Name() string        { return t.name }
func (t *FuncTool) Description() string { return t.description }

func (t *FuncTool) Execute(ctx context.Context, input string) (string, error) {
	return t.fn(ctx, input)
}
