package booking_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/salon-mcp/booking"
	"github.com/ggoodman/salon-mcp/mcp"
	"github.com/ggoodman/salon-mcp/mcpservice"
)

// Tuesday afternoon; tomorrow is Wednesday March 11.
var fixedNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func newFixture() *memStore {
	return &memStore{
		clients: []booking.Client{
			{ID: 1, Name: "Sarah Johnson", Email: "sarah.johnson@example.com", Phone: "(555) 123-4567", CreatedAt: time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)},
			{ID: 2, Name: "Michael Chen", Email: "m.chen@example.com", Phone: "(555) 234-5678", CreatedAt: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)},
		},
		services: []booking.Service{
			{ID: 1, Name: "Women's Haircut & Style", Description: "Cut and style.", DurationMinutes: 60, PriceCents: 8500, Active: true},
			{ID: 2, Name: "Blowout & Style", Description: "Blow dry.", DurationMinutes: 45, PriceCents: 5500, Active: true},
			{ID: 3, Name: "Hair Wash & Basic Dry", Description: "Wash.", DurationMinutes: 20, PriceCents: 2500, Active: false},
		},
		bookings: []booking.Booking{
			{ID: 1, ClientID: 1, ServiceID: 1, StartTime: at(2, 14, 0), EndTime: at(2, 15, 0), Status: booking.StatusCompleted, Notes: "Great session!"},
			{ID: 2, ClientID: 1, ServiceID: 2, StartTime: at(6, 10, 0), EndTime: at(6, 10, 45), Status: booking.StatusCompleted},
		},
	}
}

func newSalon(t *testing.T, store booking.Store) *booking.Salon {
	t.Helper()
	s, err := booking.New(store, booking.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return s
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := booking.New(nil)
	assert.Error(t, err)

	h := booking.DefaultHours()
	h.Open, h.Close = 18, 9
	_, err = booking.New(newFixture(), booking.WithHours(h))
	assert.Error(t, err)
}

func TestHoursValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*booking.Hours)
		ok     bool
	}{
		{"default", func(*booking.Hours) {}, true},
		{"open equals close", func(h *booking.Hours) { h.Close = h.Open }, false},
		{"close past midnight", func(h *booking.Hours) { h.Close = 25 }, false},
		{"negative open", func(h *booking.Hours) { h.Open = -1 }, false},
		{"zero step", func(h *booking.Hours) { h.Step = 0 }, false},
		{"negative search", func(h *booking.Hours) { h.SearchDays = -1 }, false},
		{"zero search", func(h *booking.Hours) { h.SearchDays = 0 }, false},
		{"nil location", func(h *booking.Hours) { h.Location = nil }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := booking.DefaultHours()
			tc.mutate(&h)
			if tc.ok {
				assert.NoError(t, h.Validate())
			} else {
				assert.Error(t, h.Validate())
			}
		})
	}
}

func TestFindClient(t *testing.T) {
	s := newSalon(t, newFixture())
	ctx := context.Background()

	out, err := s.FindClient(ctx, booking.FindClientArgs{FirstName: "sarah", LastName: "JOHNSON"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":true,"client":{"id":1,"name":"Sarah Johnson","phone":"(555) 123-4567","total_bookings":2,"last_visit":"March 06, 2026"}}`, out)

	out, err = s.FindClient(ctx, booking.FindClientArgs{FirstName: "Chen", LastName: "Michael"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":true,"client":{"id":2,"name":"Michael Chen","phone":"(555) 234-5678","total_bookings":0,"last_visit":null}}`, out)

	out, err = s.FindClient(ctx, booking.FindClientArgs{FirstName: " Nobody ", LastName: "Here"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":false,"message":"No client found matching 'Nobody Here'"}`, out)
}

func TestCreateClient(t *testing.T) {
	store := newFixture()
	s := newSalon(t, store)
	ctx := context.Background()

	out, err := s.CreateClient(ctx, booking.CreateClientArgs{Name: "  Ada Lovelace ", Phone: "(555) 000-1111"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"client":{"id":3,"name":"Ada Lovelace","phone":"(555) 000-1111"},"message":"Client Ada Lovelace created successfully"}`, out)
	require.Len(t, store.clients, 3)
	assert.Regexp(t, `^ada\.lovelace\.[0-9a-f]{8}@clients\.salon\.local$`, store.clients[2].Email)

	out, err = s.CreateClient(ctx, booking.CreateClientArgs{Name: "Ada Lovelace"})
	require.NoError(t, err)
	assert.Contains(t, out, `"success":true`)
	assert.NotEqual(t, store.clients[2].Email, store.clients[3].Email)

	out, err = s.CreateClient(ctx, booking.CreateClientArgs{Name: "   "})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"Name can't be blank"}`, out)

	store.createErr = errors.New("disk full")
	out, err = s.CreateClient(ctx, booking.CreateClientArgs{Name: "Grace Hopper"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"disk full"}`, out)
}

func TestCreateClientMarksChangeOnlyOnInsert(t *testing.T) {
	store := newFixture()
	s := newSalon(t, store)

	cases := []struct {
		name      string
		args      booking.CreateClientArgs
		createErr error
		want      bool
	}{
		{"created", booking.CreateClientArgs{Name: "Ada Lovelace"}, nil, true},
		{"blank name", booking.CreateClientArgs{Name: " "}, nil, false},
		{"store failure", booking.CreateClientArgs{Name: "Grace Hopper"}, errors.New("disk full"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store.createErr = tc.createErr
			ctx, changed := mcpservice.TrackChanges(context.Background())
			_, err := s.CreateClient(ctx, tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.want, changed())
		})
	}
}

func TestListServices(t *testing.T) {
	s := newSalon(t, newFixture())

	out, err := s.ListServices(context.Background(), booking.ListServicesArgs{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"services":[
		{"id":2,"name":"Blowout & Style","description":"Blow dry.","duration_minutes":45,"price":"$55","duration_display":"45 minutes"},
		{"id":1,"name":"Women's Haircut & Style","description":"Cut and style.","duration_minutes":60,"price":"$85","duration_display":"60 minutes"}
	]}`, out)
}

func TestGetClientHistory(t *testing.T) {
	s := newSalon(t, newFixture())
	ctx := context.Background()

	out, err := s.GetClientHistory(ctx, booking.GetClientHistoryArgs{ClientID: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_name":"Sarah Johnson","total_bookings":2,"recent_bookings":[
		{"id":2,"service_name":"Blowout & Style","date":"March 06, 2026","time":"10:00 AM","status":"completed","notes":""},
		{"id":1,"service_name":"Women's Haircut & Style","date":"March 02, 2026","time":"02:00 PM","status":"completed","notes":"Great session!"}
	]}`, out)

	out, err = s.GetClientHistory(ctx, booking.GetClientHistoryArgs{ClientID: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_name":"Michael Chen","total_bookings":0,"recent_bookings":[]}`, out)

	out, err = s.GetClientHistory(ctx, booking.GetClientHistoryArgs{ClientID: 99})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Client not found"}`, out)
}

type slotResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ServiceName     string `json:"service_name"`
	ServiceDuration string `json:"service_duration"`
	RecommendedSlot struct {
		Date         string `json:"date"`
		StartTime    string `json:"start_time"`
		EndTime      string `json:"end_time"`
		ISOStartTime string `json:"iso_start_time"`
	} `json:"recommended_slot"`
}

func checkAvailability(t *testing.T, s *booking.Salon, args booking.CheckAvailabilityArgs) slotResult {
	t.Helper()
	out, err := s.CheckAvailability(context.Background(), args)
	require.NoError(t, err)
	var res slotResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return res
}

func TestCheckAvailabilityDefaultsToTomorrow(t *testing.T) {
	store := newFixture()
	store.bookings = append(store.bookings,
		booking.Booking{ID: 3, ClientID: 2, ServiceID: 1, StartTime: at(11, 9, 0), EndTime: at(11, 10, 0), Status: booking.StatusConfirmed},
		booking.Booking{ID: 4, ClientID: 2, ServiceID: 2, StartTime: at(11, 10, 0), EndTime: at(11, 10, 45), Status: booking.StatusCancelled},
	)
	s := newSalon(t, store)

	res := checkAvailability(t, s, booking.CheckAvailabilityArgs{ServiceID: 1})
	require.True(t, res.Success)
	assert.Equal(t, "Women's Haircut & Style", res.ServiceName)
	assert.Equal(t, "60 minutes", res.ServiceDuration)
	assert.Equal(t, "Wednesday, March 11, 2026", res.RecommendedSlot.Date)
	assert.Equal(t, "10:00 AM", res.RecommendedSlot.StartTime)
	assert.Equal(t, "11:00 AM", res.RecommendedSlot.EndTime)
	assert.Equal(t, "2026-03-11T10:00:00Z", res.RecommendedSlot.ISOStartTime)
}

func TestCheckAvailabilityPreferredDate(t *testing.T) {
	s := newSalon(t, newFixture())

	res := checkAvailability(t, s, booking.CheckAvailabilityArgs{ServiceID: 2, PreferredDate: "2026-03-13"})
	require.True(t, res.Success)
	assert.Equal(t, "Friday, March 13, 2026", res.RecommendedSlot.Date)
	assert.Equal(t, "09:00 AM", res.RecommendedSlot.StartTime)
	assert.Equal(t, "09:45 AM", res.RecommendedSlot.EndTime)

	// A past or same-day preference is clamped to tomorrow.
	res = checkAvailability(t, s, booking.CheckAvailabilityArgs{ServiceID: 2, PreferredDate: "2026-03-01"})
	require.True(t, res.Success)
	assert.Equal(t, "Wednesday, March 11, 2026", res.RecommendedSlot.Date)

	res = checkAvailability(t, s, booking.CheckAvailabilityArgs{ServiceID: 2, PreferredDate: "2026-03-10"})
	assert.Equal(t, "Wednesday, March 11, 2026", res.RecommendedSlot.Date)
}

func TestCheckAvailabilitySkipsFullDays(t *testing.T) {
	store := newFixture()
	store.bookings = append(store.bookings,
		booking.Booking{ID: 3, ClientID: 2, ServiceID: 1, StartTime: at(11, 9, 0), EndTime: at(11, 17, 30), Status: booking.StatusScheduled},
	)
	s := newSalon(t, store)

	res := checkAvailability(t, s, booking.CheckAvailabilityArgs{ServiceID: 1})
	require.True(t, res.Success)
	assert.Equal(t, "Thursday, March 12, 2026", res.RecommendedSlot.Date)
	assert.Equal(t, "09:00 AM", res.RecommendedSlot.StartTime)

	// The 45 minute service still fits before close.
	res = checkAvailability(t, s, booking.CheckAvailabilityArgs{ServiceID: 2})
	assert.Equal(t, "Thursday, March 12, 2026", res.RecommendedSlot.Date)

	res = checkAvailability(t, s, booking.CheckAvailabilityArgs{ServiceID: 3})
	assert.Equal(t, "Wednesday, March 11, 2026", res.RecommendedSlot.Date)
	assert.Equal(t, "05:30 PM", res.RecommendedSlot.StartTime)
}

func TestCheckAvailabilityNoSlots(t *testing.T) {
	store := newFixture()
	store.bookings = append(store.bookings,
		booking.Booking{ID: 3, ClientID: 2, ServiceID: 1, StartTime: at(11, 0, 0), EndTime: at(25, 0, 0), Status: booking.StatusConfirmed},
	)
	s := newSalon(t, store)

	res := checkAvailability(t, s, booking.CheckAvailabilityArgs{ServiceID: 1})
	assert.False(t, res.Success)
	assert.Equal(t, "Sorry, no availability found in the next week. Please try a different time period.", res.Message)

	// Preferences past the horizon find nothing either.
	s = newSalon(t, newFixture())
	res = checkAvailability(t, s, booking.CheckAvailabilityArgs{ServiceID: 1, PreferredDate: "2026-04-30"})
	assert.False(t, res.Success)
}

func TestCheckAvailabilityErrors(t *testing.T) {
	s := newSalon(t, newFixture())
	ctx := context.Background()

	out, err := s.CheckAvailability(ctx, booking.CheckAvailabilityArgs{ServiceID: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Service not found"}`, out)

	_, err = s.CheckAvailability(ctx, booking.CheckAvailabilityArgs{ServiceID: 1, PreferredDate: "next tuesday"})
	require.Error(t, err)
	assert.ErrorIs(t, err, mcpservice.ErrInvalidParams)
	var pe *mcpservice.ParamsError
	assert.ErrorAs(t, err, &pe)
}

func TestCreateBooking(t *testing.T) {
	store := newFixture()
	s := newSalon(t, store)
	ctx := context.Background()

	out, err := s.CreateBooking(ctx, booking.CreateBookingArgs{ClientID: 2, ServiceID: 1, StartTime: "2026-03-12T15:04:00"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"booking":{"id":3,"client_name":"Michael Chen","service_name":"Women's Haircut & Style","date":"Thursday, March 12, 2026","time":"03:04 PM - 04:04 PM","status":"confirmed"},"message":"Booking confirmed for Michael Chen"}`, out)
	require.Len(t, store.bookings, 3)
	assert.Equal(t, at(12, 16, 4), store.bookings[2].EndTime)

	out, err = s.CreateBooking(ctx, booking.CreateBookingArgs{ClientID: 1, ServiceID: 2, StartTime: "2026-03-12T15:30:00Z"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"Time slot no longer available"}`, out)

	// Back to back is fine.
	out, err = s.CreateBooking(ctx, booking.CreateBookingArgs{ClientID: 1, ServiceID: 2, StartTime: "2026-03-12T16:04:00Z"})
	require.NoError(t, err)
	assert.Contains(t, out, `"success":true`)
}

func TestCreateBookingFailures(t *testing.T) {
	s := newSalon(t, newFixture())
	ctx := context.Background()

	cases := []struct {
		name string
		args booking.CreateBookingArgs
		want string
	}{
		{"unknown client", booking.CreateBookingArgs{ClientID: 9, ServiceID: 1, StartTime: "2026-03-12T10:00:00"}, `{"success":false,"error":"Client not found"}`},
		{"unknown service", booking.CreateBookingArgs{ClientID: 1, ServiceID: 9, StartTime: "2026-03-12T10:00:00"}, `{"success":false,"error":"Service not found"}`},
		{"bad time", booking.CreateBookingArgs{ClientID: 1, ServiceID: 1, StartTime: "tomorrow-ish"}, `{"success":false,"error":"Invalid start_time: tomorrow-ish"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := s.CreateBooking(ctx, tc.args)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, out)
		})
	}
}

func TestToolCatalog(t *testing.T) {
	s := newSalon(t, newFixture())
	tools := s.Tools()

	names := make([]string, 0, len(tools))
	byName := map[string]mcpservice.StaticTool{}
	for _, tool := range tools {
		names = append(names, tool.Descriptor.Name)
		byName[tool.Descriptor.Name] = tool
	}
	assert.Equal(t, []string{"find_client", "create_client", "list_services", "get_client_history", "check_availability", "create_booking"}, names)

	assert.Equal(t, []string{booking.ClientsResourceURI}, byName["create_client"].Touches)
	assert.Empty(t, byName["create_booking"].Touches)

	find := byName["find_client"].Descriptor.InputSchema
	assert.ElementsMatch(t, []string{"first_name", "last_name"}, find.Required)
	assert.Equal(t, "Client's first name", find.Properties["first_name"].Description)

	avail := byName["check_availability"].Descriptor.InputSchema
	assert.Equal(t, []string{"service_id"}, avail.Required)
	assert.Equal(t, "integer", avail.Properties["service_id"].Type)

	create := byName["create_client"].Descriptor.InputSchema
	assert.Equal(t, []string{"name"}, create.Required)

	assert.Empty(t, byName["list_services"].Descriptor.InputSchema.Required)
}

func TestToolsDispatchThroughContainer(t *testing.T) {
	s := newSalon(t, newFixture())
	srv := mcpservice.NewServer(s.ServerOptions("test")...)

	assert.Equal(t, booking.ServerName, srv.Info().Name)
	assert.Equal(t, "test", srv.Info().Version)

	out, err := srv.Tools().CallTool(context.Background(), "find_client", json.RawMessage(`{"first_name":"Sarah","last_name":"Johnson"}`))
	require.NoError(t, err)
	assert.Contains(t, out, `"found":true`)

	_, err = srv.Tools().CallTool(context.Background(), "find_client", json.RawMessage(`{"first_name":"Sarah"}`))
	assert.ErrorIs(t, err, mcpservice.ErrInvalidParams)
}

func TestClientsResource(t *testing.T) {
	s := newSalon(t, newFixture())
	rc := mcpservice.NewResourcesContainer(s.Resources()...)

	listed := rc.ListResources()
	require.Len(t, listed, 1)
	assert.Equal(t, mcp.Resource{
		URI:         "salon://clients",
		Name:        "Clients Database",
		Description: "Access to client information",
		MimeType:    "application/json",
	}, listed[0])

	contents, err := rc.ReadResource(context.Background(), booking.ClientsResourceURI)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "application/json", contents[0].MimeType)
	assert.Contains(t, contents[0].Text, "\n  {")
	assert.JSONEq(t, `[
		{"id":1,"name":"Sarah Johnson","email":"sarah.johnson@example.com","phone":"(555) 123-4567","created_at":"2025-12-01T10:00:00Z"},
		{"id":2,"name":"Michael Chen","email":"m.chen@example.com","phone":"(555) 234-5678","created_at":"2026-01-05T10:00:00Z"}
	]`, contents[0].Text)
}

func TestClientSummaryPrompt(t *testing.T) {
	s := newSalon(t, newFixture())
	pc := mcpservice.NewPromptsContainer(s.Prompts()...)
	ctx := context.Background()

	res, err := pc.GetPrompt(ctx, "client_summary", map[string]string{"client_email": "sarah.johnson@example.com"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, mcp.RoleUser, res.Messages[0].Role)
	assert.Equal(t, "Please provide a summary for client Sarah Johnson (Email: sarah.johnson@example.com). They have 2 bookings and joined on December 01, 2025.", res.Messages[0].Content.Text)

	_, err = pc.GetPrompt(ctx, "client_summary", map[string]string{"client_email": "nobody@example.com"})
	assert.ErrorIs(t, err, mcpservice.ErrInvalidParams)

	_, err = pc.GetPrompt(ctx, "client_summary", nil)
	assert.ErrorIs(t, err, mcpservice.ErrInvalidParams)
}
