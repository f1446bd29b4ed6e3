package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/salon-mcp/mcp"
	"github.com/ggoodman/salon-mcp/mcpservice"
)

const (
	// ServerName is the serverInfo name reported by initialize.
	ServerName = "Salon MCP Server"

	// ClientsResourceURI names the read-only client directory resource.
	ClientsResourceURI = "salon://clients"

	clientSummaryPrompt = "client_summary"
)

// Tools returns the salon's MCP tools in listing order.
func (s *Salon) Tools() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("find_client", s.FindClient,
			mcpservice.WithToolDescription("Search for existing client by first and last name")),
		mcpservice.NewTool("create_client", s.CreateClient,
			mcpservice.WithToolDescription("Create a new client record"),
			mcpservice.WithToolTouches(ClientsResourceURI)),
		mcpservice.NewTool("list_services", s.ListServices,
			mcpservice.WithToolDescription("Get all available services")),
		mcpservice.NewTool("get_client_history", s.GetClientHistory,
			mcpservice.WithToolDescription("Get past bookings for a client")),
		mcpservice.NewTool("check_availability", s.CheckAvailability,
			mcpservice.WithToolDescription("Find the next available time slot for a service on or after a preferred date")),
		mcpservice.NewTool("create_booking", s.CreateBooking,
			mcpservice.WithToolDescription("Create a new booking")),
	}
}

// Resources returns the salon's MCP resources.
func (s *Salon) Resources() []mcpservice.StaticResource {
	return []mcpservice.StaticResource{{
		Descriptor: mcp.Resource{
			URI:         ClientsResourceURI,
			Name:        "Clients Database",
			Description: "Access to client information",
			MimeType:    "application/json",
		},
		Read: s.readClients,
	}}
}

type clientRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Salon) readClients(ctx context.Context) (string, error) {
	clients, err := s.store.ListClients(ctx, clientsListLimit)
	if err != nil {
		return "", fmt.Errorf("list clients: %w", err)
	}
	out := make([]clientRecord, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientRecord{c.ID, c.Name, c.Email, c.Phone, c.CreatedAt.In(s.hours.Location)})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode clients: %w", err)
	}
	return string(b), nil
}

// Prompts returns the salon's MCP prompts.
func (s *Salon) Prompts() []mcpservice.StaticPrompt {
	return []mcpservice.StaticPrompt{{
		Descriptor: mcp.Prompt{
			Name:        clientSummaryPrompt,
			Description: "Generate a summary of client activity",
			Arguments: []mcp.PromptArgument{{
				Name:        "client_email",
				Description: "Client's email address",
				Required:    true,
			}},
		},
		Handler: s.clientSummary,
	}}
}

func (s *Salon) clientSummary(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	c, err := s.store.GetClientByEmail(ctx, args["client_email"])
	if errors.Is(err, ErrNotFound) {
		return nil, mcpservice.InvalidParams("Client not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	n, err := s.store.CountBookings(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}
	text := fmt.Sprintf("Please provide a summary for client %s (Email: %s). They have %d bookings and joined on %s.",
		c.Name, c.Email, n, c.CreatedAt.In(s.hours.Location).Format(dateLayout))
	return mcpservice.UserPrompt("Client summary prompt", text), nil
}

// ServerOptions wires the salon catalog into an mcpservice.Server.
func (s *Salon) ServerOptions(version string) []mcpservice.ServerOption {
	return []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: ServerName, Version: version}),
		mcpservice.WithToolsContainer(mcpservice.NewToolsContainer(s.Tools()...)),
		mcpservice.WithResourcesContainer(mcpservice.NewResourcesContainer(s.Resources()...)),
		mcpservice.WithPromptsContainer(mcpservice.NewPromptsContainer(s.Prompts()...)),
	}
}
