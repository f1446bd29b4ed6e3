package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ggoodman/salon-mcp/mcp"
	"github.com/invopop/jsonschema"
)

// ToolHandler handles a tool invocation and returns its textual result.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
	// Touches lists resource URIs whose contents change when a call succeeds
	// and marks a change with MarkChanged.
	Touches []string
}

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
	touches                   []string
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// WithToolTouches declares resources a call may update. The handler reports
// an actual update with MarkChanged.
func WithToolTouches(uris ...string) ToolOption {
	return func(c *toolConfig) { c.touches = append(c.touches, uris...) }
}

// NewTool constructs a StaticTool from a typed args struct A. It:
//   - reflects a JSON Schema from A using invopop/jsonschema
//   - down-converts it to MCP's simplified ToolInputSchema
//   - wraps fn with runtime decoding that enforces required properties and,
//     unless relaxed, rejects unknown ones
//
// Decoding failures are reported as ParamsError.
func NewTool[A any](name string, fn func(ctx context.Context, args A) (string, error), opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	input := reflectToMCPInputSchema[A](cfg.allowAdditionalProperties)

	handler := func(ctx context.Context, raw json.RawMessage) (string, error) {
		a, err := decodeArgs[A](raw, input.Required, cfg.allowAdditionalProperties)
		if err != nil {
			return "", err
		}
		return fn(ctx, a)
	}

	return StaticTool{
		Descriptor: mcp.Tool{Name: name, Description: cfg.description, InputSchema: input},
		Handler:    handler,
		Touches:    cfg.touches,
	}
}

func decodeArgs[A any](raw json.RawMessage, required []string, allowAdditional bool) (A, error) {
	var a A
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return a, InvalidParams("invalid arguments: expected an object")
	}
	for _, key := range required {
		if v, ok := present[key]; !ok || bytes.Equal(v, []byte("null")) {
			return a, InvalidParams("invalid arguments: missing required property %q", key)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if !allowAdditional {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&a); err != nil {
		return a, InvalidParams("invalid arguments: %v", err)
	}
	return a, nil
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. Unknown field policy is
// surfaced via the AdditionalProperties flag on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map cleanly to MCP ToolInputSchema.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Format:      s.Format,
		Pattern:     s.Pattern,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer owns a threadsafe set of tool descriptors and handlers. List
// order is registration order.
type ToolsContainer struct {
	mu    sync.RWMutex
	tools []mcp.Tool
	defs  map[string]StaticTool
}

// NewToolsContainer constructs a ToolsContainer. It panics on duplicate or
// empty names since the catalog is assembled once at startup.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	tc := &ToolsContainer{defs: make(map[string]StaticTool, len(defs))}
	for _, d := range defs {
		if err := tc.add(d); err != nil {
			panic(err)
		}
	}
	return tc
}

func (tc *ToolsContainer) add(d StaticTool) error {
	name := d.Descriptor.Name
	if name == "" {
		return fmt.Errorf("mcpservice: tool without a name")
	}
	if d.Handler == nil {
		return fmt.Errorf("mcpservice: tool %q has no handler", name)
	}
	if _, dup := tc.defs[name]; dup {
		return fmt.Errorf("mcpservice: duplicate tool %q", name)
	}
	tc.defs[name] = d
	tc.tools = append(tc.tools, d.Descriptor)
	return nil
}

// ListTools returns a copy of the tool descriptors.
func (tc *ToolsContainer) ListTools() []mcp.Tool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]mcp.Tool, len(tc.tools))
	copy(out, tc.tools)
	return out
}

// Lookup returns the tool registered under name.
func (tc *ToolsContainer) Lookup(name string) (StaticTool, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	d, ok := tc.defs[name]
	return d, ok
}

// Names returns the registered tool names, sorted.
func (tc *ToolsContainer) Names() []string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	names := make([]string, 0, len(tc.defs))
	for n := range tc.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CallTool invokes the named tool. It returns ErrNotFound for unknown names.
func (tc *ToolsContainer) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	d, ok := tc.Lookup(name)
	if !ok {
		return "", fmt.Errorf("tool %q: %w", name, ErrNotFound)
	}
	return d.Handler(ctx, args)
}
