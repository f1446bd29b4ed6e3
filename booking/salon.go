package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/salon-mcp/mcpservice"
	"github.com/google/uuid"
)

const (
	dateLayout     = "January 02, 2006"
	longDateLayout = "Monday, January 02, 2006"
	clockLayout    = "03:04 PM"

	historyLimit     = 10
	clientsListLimit = 100

	syntheticEmailDomain = "clients.salon.local"
)

// Option configures a Salon.
type Option func(*Salon)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Salon) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHours overrides DefaultHours.
func WithHours(h Hours) Option {
	return func(s *Salon) { s.hours = h }
}

// WithClock overrides the time source used to decide what "tomorrow" is.
func WithClock(now func() time.Time) Option {
	return func(s *Salon) {
		if now != nil {
			s.now = now
		}
	}
}

// Salon implements the booking tools on top of a Store.
type Salon struct {
	store Store
	hours Hours
	now   func() time.Time
	log   *slog.Logger
}

// New constructs a Salon.
func New(store Store, opts ...Option) (*Salon, error) {
	if store == nil {
		return nil, errors.New("booking: nil store")
	}
	s := &Salon{
		store: store,
		hours: DefaultHours(),
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.hours.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func render(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

type FindClientArgs struct {
	FirstName string `json:"first_name" jsonschema:"description=Client's first name"`
	LastName  string `json:"last_name" jsonschema:"description=Client's last name"`
}

type clientSummary struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Phone         string  `json:"phone"`
	TotalBookings int     `json:"total_bookings"`
	LastVisit     *string `json:"last_visit"`
}

// FindClient looks a client up by first and last name.
func (s *Salon) FindClient(ctx context.Context, a FindClientArgs) (string, error) {
	first := strings.TrimSpace(a.FirstName)
	last := strings.TrimSpace(a.LastName)

	c, err := s.store.FindClientByName(ctx, first, last)
	if errors.Is(err, ErrNotFound) {
		return render(struct {
			Found   bool   `json:"found"`
			Message string `json:"message"`
		}{false, fmt.Sprintf("No client found matching '%s %s'", first, last)})
	}
	if err != nil {
		return "", fmt.Errorf("find client: %w", err)
	}

	total, err := s.store.CountBookings(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("count bookings: %w", err)
	}
	lastVisit, ok, err := s.store.LastVisit(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("last visit: %w", err)
	}

	summary := clientSummary{ID: c.ID, Name: c.Name, Phone: c.Phone, TotalBookings: total}
	if ok {
		v := lastVisit.In(s.hours.Location).Format(dateLayout)
		summary.LastVisit = &v
	}
	return render(struct {
		Found  bool          `json:"found"`
		Client clientSummary `json:"client"`
	}{true, summary})
}

type CreateClientArgs struct {
	Name  string `json:"name" jsonschema:"description=Full name of the client"`
	Phone string `json:"phone,omitempty" jsonschema:"description=Phone number"`
}

type clientRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// CreateClient registers a client. Validation and store failures are reported
// in the result rather than as errors.
func (s *Salon) CreateClient(ctx context.Context, a CreateClientArgs) (string, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return render(failure{Error: "Name can't be blank"})
	}

	c, err := s.store.CreateClient(ctx, NewClient{
		Name:  name,
		Email: syntheticEmail(name),
		Phone: strings.TrimSpace(a.Phone),
	})
	if err != nil {
		s.log.WarnContext(ctx, "booking.create_client.fail", slog.String("err", err.Error()))
		return render(failure{Error: err.Error()})
	}

	mcpservice.MarkChanged(ctx)
	s.log.InfoContext(ctx, "booking.create_client.ok", slog.Int64("client_id", c.ID))
	return render(struct {
		Success bool      `json:"success"`
		Client  clientRef `json:"client"`
		Message string    `json:"message"`
	}{true, clientRef{c.ID, c.Name, c.Phone}, fmt.Sprintf("Client %s created successfully", c.Name)})
}

// syntheticEmail derives a unique address for clients registered by phone.
func syntheticEmail(name string) string {
	local := strings.Join(strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}), ".")
	if local == "" {
		local = "client"
	}
	return fmt.Sprintf("%s.%s@%s", local, uuid.NewString()[:8], syntheticEmailDomain)
}

type ListServicesArgs struct{}

type serviceListing struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           string `json:"price"`
	DurationDisplay string `json:"duration_display"`
}

// ListServices returns the active catalog ordered by name.
func (s *Salon) ListServices(ctx context.Context, _ ListServicesArgs) (string, error) {
	svcs, err := s.store.ListActiveServices(ctx)
	if err != nil {
		return "", fmt.Errorf("list services: %w", err)
	}
	out := make([]serviceListing, 0, len(svcs))
	for _, svc := range svcs {
		out = append(out, serviceListing{
			ID:              svc.ID,
			Name:            svc.Name,
			Description:     svc.Description,
			DurationMinutes: svc.DurationMinutes,
			Price:           fmt.Sprintf("$%d", svc.PriceCents/100),
			DurationDisplay: minutes(svc.DurationMinutes),
		})
	}
	return render(struct {
		Services []serviceListing `json:"services"`
	}{out})
}

func minutes(n int) string { return fmt.Sprintf("%d minutes", n) }

type GetClientHistoryArgs struct {
	ClientID int64 `json:"client_id" jsonschema:"description=ID of the client"`
}

type historyItem struct {
	ID          int64  `json:"id"`
	ServiceName string `json:"service_name"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Status      Status `json:"status"`
	Notes       string `json:"notes"`
}

// GetClientHistory returns the client's most recent bookings.
func (s *Salon) GetClientHistory(ctx context.Context, a GetClientHistoryArgs) (string, error) {
	c, err := s.store.GetClient(ctx, a.ClientID)
	if errors.Is(err, ErrNotFound) {
		return render(map[string]string{"error": "Client not found"})
	}
	if err != nil {
		return "", fmt.Errorf("get client: %w", err)
	}

	total, err := s.store.CountBookings(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("count bookings: %w", err)
	}
	recent, err := s.store.RecentBookings(ctx, c.ID, historyLimit)
	if err != nil {
		return "", fmt.Errorf("recent bookings: %w", err)
	}

	items := make([]historyItem, 0, len(recent))
	for _, e := range recent {
		start := e.StartTime.In(s.hours.Location)
		items = append(items, historyItem{
			ID:          e.ID,
			ServiceName: e.ServiceName,
			Date:        start.Format(dateLayout),
			Time:        start.Format(clockLayout),
			Status:      e.Status,
			Notes:       e.Notes,
		})
	}
	return render(struct {
		ClientName     string        `json:"client_name"`
		TotalBookings  int           `json:"total_bookings"`
		RecentBookings []historyItem `json:"recent_bookings"`
	}{c.Name, total, items})
}

type CheckAvailabilityArgs struct {
	ServiceID     int64  `json:"service_id" jsonschema:"description=ID of the service"`
	PreferredDate string `json:"preferred_date,omitempty" jsonschema:"description=Preferred date in YYYY-MM-DD format (optional; defaults to tomorrow)"`
}

type recommendedSlot struct {
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	ISOStartTime string `json:"iso_start_time"`
}

// CheckAvailability finds the first open slot for a service on or after the
// preferred date, never earlier than tomorrow.
func (s *Salon) CheckAvailability(ctx context.Context, a CheckAvailabilityArgs) (string, error) {
	svc, err := s.store.GetService(ctx, a.ServiceID)
	if errors.Is(err, ErrNotFound) {
		return render(map[string]string{"error": "Service not found"})
	}
	if err != nil {
		return "", fmt.Errorf("get service: %w", err)
	}

	today := s.hours.day(s.now())
	day := today.AddDate(0, 0, 1)
	if a.PreferredDate != "" {
		preferred, err := time.ParseInLocation(time.DateOnly, a.PreferredDate, s.hours.Location)
		if err != nil {
			return "", mcpservice.InvalidParams("Invalid preferred_date %q: expected YYYY-MM-DD", a.PreferredDate)
		}
		if preferred.After(day) {
			day = preferred
		}
	}
	horizon := today.AddDate(0, 0, s.hours.SearchDays)

	for ; !day.After(horizon); day = day.AddDate(0, 0, 1) {
		open, closing := s.hours.window(day)
		busy, err := s.store.BookingsBetween(ctx, open, closing)
		if err != nil {
			return "", fmt.Errorf("load bookings: %w", err)
		}
		if start, ok := FirstFreeSlot(open, closing, s.hours.Step, svc.Duration(), busy); ok {
			end := start.Add(svc.Duration())
			return render(struct {
				Success         bool            `json:"success"`
				ServiceName     string          `json:"service_name"`
				ServiceDuration string          `json:"service_duration"`
				RecommendedSlot recommendedSlot `json:"recommended_slot"`
			}{
				Success:         true,
				ServiceName:     svc.Name,
				ServiceDuration: minutes(svc.DurationMinutes),
				RecommendedSlot: recommendedSlot{
					Date:         day.Format(longDateLayout),
					StartTime:    start.Format(clockLayout),
					EndTime:      end.Format(clockLayout),
					ISOStartTime: start.Format(time.RFC3339),
				},
			})
		}
	}

	return render(struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{false, "Sorry, no availability found in the next week. Please try a different time period."})
}

type CreateBookingArgs struct {
	ClientID  int64  `json:"client_id" jsonschema:"description=ID of the client"`
	ServiceID int64  `json:"service_id" jsonschema:"description=ID of the service"`
	StartTime string `json:"start_time" jsonschema:"description=Start time in ISO datetime format"`
}

// CreateBooking books a confirmed appointment. Business failures are reported
// in the result.
func (s *Salon) CreateBooking(ctx context.Context, a CreateBookingArgs) (string, error) {
	c, err := s.store.GetClient(ctx, a.ClientID)
	if errors.Is(err, ErrNotFound) {
		return render(failure{Error: "Client not found"})
	}
	if err != nil {
		return "", fmt.Errorf("get client: %w", err)
	}
	svc, err := s.store.GetService(ctx, a.ServiceID)
	if errors.Is(err, ErrNotFound) {
		return render(failure{Error: "Service not found"})
	}
	if err != nil {
		return "", fmt.Errorf("get service: %w", err)
	}

	start, err := s.parseStart(a.StartTime)
	if err != nil {
		return render(failure{Error: fmt.Sprintf("Invalid start_time: %s", a.StartTime)})
	}
	end := start.Add(svc.Duration())

	b, err := s.store.CreateBooking(ctx, NewBooking{
		ClientID:  c.ID,
		ServiceID: svc.ID,
		StartTime: start,
		EndTime:   end,
		Status:    StatusConfirmed,
	})
	if errors.Is(err, ErrSlotTaken) {
		return render(failure{Error: "Time slot no longer available"})
	}
	if err != nil {
		s.log.ErrorContext(ctx, "booking.create_booking.fail", slog.String("err", err.Error()))
		return render(failure{Error: err.Error()})
	}

	s.log.InfoContext(ctx, "booking.create_booking.ok", slog.Int64("booking_id", b.ID))
	type bookingView struct {
		ID          int64  `json:"id"`
		ClientName  string `json:"client_name"`
		ServiceName string `json:"service_name"`
		Date        string `json:"date"`
		Time        string `json:"time"`
		Status      Status `json:"status"`
	}
	return render(struct {
		Success bool        `json:"success"`
		Booking bookingView `json:"booking"`
		Message string      `json:"message"`
	}{
		Success: true,
		Booking: bookingView{
			ID:          b.ID,
			ClientName:  c.Name,
			ServiceName: svc.Name,
			Date:        start.Format(longDateLayout),
			Time:        start.Format(clockLayout) + " - " + end.Format(clockLayout),
			Status:      b.Status,
		},
		Message: fmt.Sprintf("Booking confirmed for %s", c.Name),
	})
}

// parseStart accepts RFC 3339 or a zoneless local timestamp in the salon's
// location. The result is expressed in the salon's location.
func (s *Salon) parseStart(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(s.hours.Location), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", time.DateTime} {
		if t, err := time.ParseInLocation(layout, v, s.hours.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}
