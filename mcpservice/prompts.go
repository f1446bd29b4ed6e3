package mcpservice

import (
	"context"
	"fmt"

	"github.com/ggoodman/salon-mcp/mcp"
)

// PromptHandler materializes a prompt from its arguments.
type PromptHandler func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with a handler that can materialize it.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// PromptsContainer owns a fixed set of prompts. List order is registration
// order.
type PromptsContainer struct {
	prompts  []mcp.Prompt
	handlers map[string]StaticPrompt // name -> definition
}

// NewPromptsContainer constructs a PromptsContainer. It panics on duplicate
// or empty names.
func NewPromptsContainer(defs ...StaticPrompt) *PromptsContainer {
	pc := &PromptsContainer{handlers: make(map[string]StaticPrompt, len(defs))}
	for _, d := range defs {
		name := d.Descriptor.Name
		if name == "" || d.Handler == nil {
			panic(fmt.Sprintf("mcpservice: incomplete prompt %q", name))
		}
		if _, dup := pc.handlers[name]; dup {
			panic(fmt.Sprintf("mcpservice: duplicate prompt %q", name))
		}
		pc.handlers[name] = d
		pc.prompts = append(pc.prompts, d.Descriptor)
	}
	return pc
}

// ListPrompts returns a copy of the prompt descriptors.
func (pc *PromptsContainer) ListPrompts() []mcp.Prompt {
	out := make([]mcp.Prompt, len(pc.prompts))
	copy(out, pc.prompts)
	return out
}

// HasPrompt reports whether name is registered.
func (pc *PromptsContainer) HasPrompt(name string) bool {
	_, ok := pc.handlers[name]
	return ok
}

// GetPrompt dispatches to the named prompt. Unknown names yield ErrNotFound;
// a missing required argument yields a ParamsError before the handler runs.
func (pc *PromptsContainer) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	d, ok := pc.handlers[name]
	if !ok {
		return nil, fmt.Errorf("prompt %q: %w", name, ErrNotFound)
	}
	for _, a := range d.Descriptor.Arguments {
		if a.Required && args[a.Name] == "" {
			return nil, InvalidParams("Missing required argument: %s", a.Name)
		}
	}
	if args == nil {
		args = map[string]string{}
	}
	return d.Handler(ctx, args)
}

// UserPrompt builds a single-message prompt result.
func UserPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{Role: mcp.RoleUser, Content: mcp.TextContent(text)},
		},
	}
}
