// Package mcp contains the Model Context Protocol data types and constants
// used by the salon server. It mirrors the wire representation of the subset
// of MCP the server speaks (initialize, tools, resources, prompts) while
// keeping the surface Go-friendly: exported structs with json tags and string
// constants for method names.
//
// The package is free of transport logic. The streaminghttp package owns
// framing and sessions; the engine package owns JSON-RPC dispatch; mcpservice
// builds results from these types.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). RoutedMethods lists the request methods the server
// answers; the dispatcher refuses to start unless each has a handler.
//
// # Protocol Version
//
// ProtocolVersion is the date-stamped revision returned from initialize and
// advertised on transport responses.
package mcp
