// Package engine implements the MCP protocol dispatcher: it validates
// JSON-RPC envelopes, routes request methods through a fixed handler table
// and turns handler outcomes into success or error envelopes. It holds no
// per-session state of its own.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/salon-mcp/broker"
	"github.com/ggoodman/salon-mcp/internal/jsonrpc"
	"github.com/ggoodman/salon-mcp/internal/logctx"
	"github.com/ggoodman/salon-mcp/mcp"
	"github.com/ggoodman/salon-mcp/mcpservice"
)

// methodHandler answers one request method. Exactly one of the results is
// non-nil.
type methodHandler func(ctx context.Context, sessionID string, msg *jsonrpc.Message) (any, *jsonrpc.Error)

// Engine dispatches decoded JSON-RPC messages.
type Engine struct {
	srv    *mcpservice.Server
	broker broker.Broker
	log    *slog.Logger

	routes map[mcp.Method]methodHandler

	inflightMu sync.Mutex
	inflight   map[string]context.CancelCauseFunc // session + request id -> cancel
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithBroker enables server-initiated notifications: tools that touch a
// resource publish notifications/resources/updated to the caller's outbox.
func WithBroker(b broker.Broker) EngineOption {
	return func(e *Engine) { e.broker = b }
}

// ErrCancelled is the cause attached to tool contexts cancelled by the client.
var ErrCancelled = errors.New("request cancelled by client")

// NewEngine builds the routing table and verifies that it covers exactly
// mcp.RoutedMethods.
func NewEngine(srv *mcpservice.Server, opts ...EngineOption) (*Engine, error) {
	if srv == nil {
		return nil, fmt.Errorf("engine: nil server")
	}
	e := &Engine{
		srv:      srv,
		log:      slog.Default(),
		inflight: make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.routes = map[mcp.Method]methodHandler{
		mcp.InitializeMethod:    e.handleInitialize,
		mcp.ToolsListMethod:     e.handleToolsList,
		mcp.ToolsCallMethod:     e.handleToolCall,
		mcp.ResourcesListMethod: e.handleResourcesList,
		mcp.ResourcesReadMethod: e.handleResourcesRead,
		mcp.PromptsListMethod:   e.handlePromptsList,
		mcp.PromptsGetMethod:    e.handlePromptsGet,
	}
	if err := validateRoutes(e.routes); err != nil {
		return nil, err
	}
	return e, nil
}

func validateRoutes(routes map[mcp.Method]methodHandler) error {
	for _, m := range mcp.RoutedMethods {
		if h, ok := routes[m]; !ok || h == nil {
			return fmt.Errorf("engine: no handler for method %q", m)
		}
	}
	if len(routes) != len(mcp.RoutedMethods) {
		return fmt.Errorf("engine: %d handlers registered for %d routed methods", len(routes), len(mcp.RoutedMethods))
	}
	return nil
}

// ProtocolVersion reports the MCP protocol version the engine negotiates.
func (e *Engine) ProtocolVersion() string { return e.srv.ProtocolVersion() }

// HandleRequest dispatches a request and always returns a response envelope
// carrying the request's id.
func (e *Engine) HandleRequest(ctx context.Context, sessionID string, msg *jsonrpc.Message) *jsonrpc.Response {
	start := time.Now()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: "request"})

	if msg.JSONRPCVersion != jsonrpc.ProtocolVersion {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("jsonrpc", msg.JSONRPCVersion))
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidRequest, jsonrpc.MessageInvalidRequest, nil)
	}

	h, ok := e.routes[mcp.Method(msg.Method)]
	if !ok {
		e.log.InfoContext(ctx, "engine.handle_request.unknown_method")
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound, jsonrpc.MessageMethodNotFound, nil)
	}

	result, rpcErr := h(ctx, sessionID, msg)
	if rpcErr != nil {
		e.log.InfoContext(ctx, "engine.handle_request.error",
			slog.Int("code", int(rpcErr.Code)),
			slog.String("message", rpcErr.Message),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(msg.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}

	res, err := jsonrpc.NewResultResponse(msg.ID, result)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.Any("err", err))
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, nil)
	}

	e.log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return res
}

// HandleNotification processes a client notification for its side effects.
func (e *Engine) HandleNotification(ctx context.Context, sessionID string, msg *jsonrpc.Message) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, Type: "notification"})

	if msg.JSONRPCVersion != jsonrpc.ProtocolVersion {
		e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("jsonrpc", msg.JSONRPCVersion))
		return
	}

	switch mcp.Method(msg.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.InfoContext(ctx, "engine.session.initialized")
	case mcp.CancelledNotificationMethod:
		var note mcp.CancelledNotification
		if err := json.Unmarshal(msg.Params, &note); err != nil || len(note.RequestID) == 0 {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", "missing requestId"))
			return
		}
		reqID := jsonrpc.ParseRequestID(note.RequestID)
		if e.cancelInFlight(sessionID, reqID.String()) {
			e.log.InfoContext(ctx, "engine.request.cancelled", slog.String("request_id", reqID.String()), slog.String("reason", note.Reason))
		}
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored")
	}
}

// HandleResponse accepts a client response. The server never issues requests
// to clients, so responses are logged and dropped.
func (e *Engine) HandleResponse(ctx context.Context, sessionID string, msg *jsonrpc.Message) {
	e.log.DebugContext(ctx, "engine.handle_response.dropped", slog.String("id", msg.ID.String()))
}

func (e *Engine) handleInitialize(ctx context.Context, sessionID string, msg *jsonrpc.Message) (any, *jsonrpc.Error) {
	var req mcp.InitializeRequest
	if len(msg.Params) > 0 {
		// Client details are informational; a malformed payload is not fatal.
		_ = json.Unmarshal(msg.Params, &req)
	}
	e.log.InfoContext(ctx, "engine.initialize",
		slog.String("client_name", req.ClientInfo.Name),
		slog.String("client_version", req.ClientInfo.Version),
		slog.String("client_protocol_version", req.ProtocolVersion),
		slog.Bool("client_roots", req.Capabilities.Roots != nil),
		slog.Bool("client_sampling", req.Capabilities.Sampling != nil))

	return &mcp.InitializeResult{
		ProtocolVersion: e.srv.ProtocolVersion(),
		Capabilities:    mcp.ServerCapabilities{},
		ServerInfo:      e.srv.Info(),
	}, nil
}

func (e *Engine) handleToolsList(ctx context.Context, sessionID string, msg *jsonrpc.Message) (any, *jsonrpc.Error) {
	return &mcp.ListToolsResult{Tools: e.srv.Tools().ListTools()}, nil
}

func (e *Engine) handleToolCall(ctx context.Context, sessionID string, msg *jsonrpc.Message) (any, *jsonrpc.Error) {
	tool, ok := e.srv.Tools().Lookup(identifier(msg.Params, "name"))
	if !ok {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "Tool not found"}
	}
	var params mcp.CallToolRequestReceived
	if err := decodeParams(msg.Params, &params); err != nil {
		return nil, invalidParams(jsonrpc.MessageInvalidParams)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	toolCtx, done := e.trackInFlight(ctx, sessionID, msg.ID)
	defer done()
	toolCtx, changed := mcpservice.TrackChanges(toolCtx)

	text, err := tool.Handler(toolCtx, params.Arguments)
	if err != nil {
		var pe *mcpservice.ParamsError
		switch {
		case errors.As(err, &pe):
			return nil, invalidParams(pe.Message)
		case errors.Is(context.Cause(toolCtx), ErrCancelled):
			e.log.InfoContext(ctx, "engine.tool.cancelled")
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: "Request cancelled"}
		default:
			e.log.ErrorContext(ctx, "engine.tool.fail", slog.Any("err", err))
			return nil, internalError()
		}
	}

	if changed() {
		for _, uri := range tool.Touches {
			e.notifyResourceUpdated(ctx, sessionID, uri)
		}
	}

	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(text)}}, nil
}

func (e *Engine) handleResourcesList(ctx context.Context, sessionID string, msg *jsonrpc.Message) (any, *jsonrpc.Error) {
	return &mcp.ListResourcesResult{Resources: e.srv.Resources().ListResources()}, nil
}

func (e *Engine) handleResourcesRead(ctx context.Context, sessionID string, msg *jsonrpc.Message) (any, *jsonrpc.Error) {
	uri := identifier(msg.Params, "uri")
	contents, err := e.srv.Resources().ReadResource(ctx, uri)
	switch {
	case errors.Is(err, mcpservice.ErrNotFound):
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "Resource not found"}
	case err != nil:
		e.log.ErrorContext(ctx, "engine.resource.fail", slog.String("uri", uri), slog.Any("err", err))
		return nil, internalError()
	}
	return &mcp.ReadResourceResult{Contents: contents}, nil
}

func (e *Engine) handlePromptsList(ctx context.Context, sessionID string, msg *jsonrpc.Message) (any, *jsonrpc.Error) {
	return &mcp.ListPromptsResult{Prompts: e.srv.Prompts().ListPrompts()}, nil
}

func (e *Engine) handlePromptsGet(ctx context.Context, sessionID string, msg *jsonrpc.Message) (any, *jsonrpc.Error) {
	if !e.srv.Prompts().HasPrompt(identifier(msg.Params, "name")) {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "Prompt not found"}
	}
	var params mcp.GetPromptRequestReceived
	if err := decodeParams(msg.Params, &params); err != nil {
		return nil, invalidParams(jsonrpc.MessageInvalidParams)
	}

	res, err := e.srv.Prompts().GetPrompt(ctx, params.Name, params.Arguments)
	if err != nil {
		var pe *mcpservice.ParamsError
		switch {
		case errors.Is(err, mcpservice.ErrNotFound):
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "Prompt not found"}
		case errors.As(err, &pe):
			return nil, invalidParams(pe.Message)
		default:
			e.log.ErrorContext(ctx, "engine.prompt.fail", slog.String("prompt", params.Name), slog.Any("err", err))
			return nil, internalError()
		}
	}
	return res, nil
}

// notifyResourceUpdated enqueues a resources/updated notification on the
// session's outbox. Delivery is best effort.
func (e *Engine) notifyResourceUpdated(ctx context.Context, sessionID, uri string) {
	if e.broker == nil || sessionID == "" {
		return
	}
	note, err := jsonrpc.NewNotification(string(mcp.ResourcesUpdatedNotificationMethod), mcp.ResourceUpdatedNotification{URI: uri})
	if err != nil {
		e.log.ErrorContext(ctx, "engine.notify.fail", slog.Any("err", err))
		return
	}
	b, err := json.Marshal(note)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.notify.fail", slog.Any("err", err))
		return
	}
	if err := e.broker.Publish(ctx, sessionID, b); err != nil {
		e.log.ErrorContext(ctx, "engine.notify.fail", slog.String("uri", uri), slog.Any("err", err))
		return
	}
	e.log.DebugContext(ctx, "engine.notify.ok", slog.String("uri", uri))
}

func (e *Engine) trackInFlight(ctx context.Context, sessionID string, id *jsonrpc.RequestID) (context.Context, func()) {
	toolCtx, cancel := context.WithCancelCause(ctx)
	if id.IsNil() {
		return toolCtx, func() { cancel(context.Canceled) }
	}

	key := inflightKey(sessionID, id.String())
	e.inflightMu.Lock()
	e.inflight[key] = cancel
	e.inflightMu.Unlock()

	return toolCtx, func() {
		e.inflightMu.Lock()
		delete(e.inflight, key)
		e.inflightMu.Unlock()
		cancel(context.Canceled)
	}
}

func (e *Engine) cancelInFlight(sessionID, reqID string) bool {
	e.inflightMu.Lock()
	cancel, ok := e.inflight[inflightKey(sessionID, reqID)]
	e.inflightMu.Unlock()
	if ok {
		cancel(ErrCancelled)
	}
	return ok
}

func inflightKey(sessionID, reqID string) string { return sessionID + "\x00" + reqID }

// decodeParams unmarshals params into v, treating absent or null params as an
// empty object.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	return json.Unmarshal(params, v)
}

// identifier extracts a string field naming the target of a request. Missing,
// empty and non-string values yield "", which names nothing.
func identifier(params json.RawMessage, key string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(params, &fields); err != nil {
		return ""
	}
	var v string
	if err := json.Unmarshal(fields[key], &v); err != nil {
		return ""
	}
	return v
}

func invalidParams(message string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: message}
}

func internalError() *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: jsonrpc.MessageInternalError}
}
