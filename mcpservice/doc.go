// Package mcpservice provides the static catalog the dispatcher serves:
// typed tools with reflected input schemas, readable resources, prompts and
// the server's identity.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool("echo", func(ctx context.Context, a EchoArgs) (string, error) {
//	        return a.Message, nil
//	    }, mcpservice.WithToolDescription("Echo a message back to the caller")),
//	)
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "echo", Version: "1.0.0"}),
//	    mcpservice.WithToolsContainer(tools),
//	)
//
// Handlers report domain outcomes in their text result. Errors are reserved
// for failures of the call itself: InvalidParams for arguments that cannot be
// honored and anything else for internal failures.
package mcpservice
