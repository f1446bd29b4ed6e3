package sqlitestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/salon-mcp/booking"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "salon.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustService(t *testing.T, s *Store, name string, minutes int) booking.Service {
	t.Helper()
	res, err := s.db.Exec(`INSERT INTO services (name, description, duration_minutes, price_cents, active) VALUES (?, '', ?, 1000, 1)`, name, minutes)
	if err != nil {
		t.Fatalf("insert service: %v", err)
	}
	id, _ := res.LastInsertId()
	return booking.Service{ID: id, Name: name, DurationMinutes: minutes, PriceCents: 1000, Active: true}
}

func mustClient(t *testing.T, s *Store, name, email string) booking.Client {
	t.Helper()
	c, err := s.CreateClient(context.Background(), booking.NewClient{Name: name, Email: email})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	return c
}

func day(h, m int) time.Time {
	return time.Date(2026, 3, 12, h, m, 0, 0, time.UTC)
}

func TestOpenCreatesDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "salon.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	mustClient(t, s, "Sarah Johnson", "sarah@example.com")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening keeps data and tolerates the existing schema.
	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	clients, err := s.ListClients(ctx, 10)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if len(clients) != 1 || clients[0].Name != "Sarah Johnson" {
		t.Fatalf("clients after reopen = %+v", clients)
	}
}

func TestClientLookups(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sarah := mustClient(t, s, "Sarah Johnson", "sarah@example.com")
	mustClient(t, s, "Sarah Jones", "sjones@example.com")

	for _, q := range [][2]string{{"sarah", "johnson"}, {"JOHNSON", "Sarah"}, {"sar", "john"}} {
		got, err := s.FindClientByName(ctx, q[0], q[1])
		if err != nil {
			t.Fatalf("FindClientByName(%q, %q): %v", q[0], q[1], err)
		}
		if got.ID != sarah.ID {
			t.Fatalf("FindClientByName(%q, %q) = %d, want %d", q[0], q[1], got.ID, sarah.ID)
		}
	}
	if _, err := s.FindClientByName(ctx, "michael", "chen"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := s.GetClient(ctx, sarah.ID)
	if err != nil || got.Email != "sarah@example.com" {
		t.Fatalf("GetClient = %+v, %v", got, err)
	}
	if !got.CreatedAt.Equal(sarah.CreatedAt) {
		t.Fatalf("created_at = %s, want %s", got.CreatedAt, sarah.CreatedAt)
	}
	if _, err := s.GetClient(ctx, 999); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("GetClient(999) err = %v", err)
	}
	if got, err := s.GetClientByEmail(ctx, "sjones@example.com"); err != nil || got.Name != "Sarah Jones" {
		t.Fatalf("GetClientByEmail = %+v, %v", got, err)
	}
	if _, err := s.GetClientByEmail(ctx, "nobody@example.com"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("GetClientByEmail(unknown) err = %v", err)
	}

	if _, err := s.CreateClient(ctx, booking.NewClient{Name: "Dup", Email: "sarah@example.com"}); err == nil {
		t.Fatal("expected duplicate email to fail")
	}
}

func TestCreateBookingRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := mustClient(t, s, "Michael Chen", "m.chen@example.com")
	svc := mustService(t, s, "Haircut", 60)

	book := func(start, end time.Time, status booking.Status) (booking.Booking, error) {
		return s.CreateBooking(ctx, booking.NewBooking{ClientID: c.ID, ServiceID: svc.ID, StartTime: start, EndTime: end, Status: status})
	}

	first, err := book(day(10, 0), day(11, 0), booking.StatusConfirmed)
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := book(day(10, 30), day(11, 30), booking.StatusConfirmed); !errors.Is(err, booking.ErrSlotTaken) {
		t.Fatalf("overlap err = %v, want ErrSlotTaken", err)
	}
	if _, err := book(day(9, 0), day(12, 0), booking.StatusScheduled); !errors.Is(err, booking.ErrSlotTaken) {
		t.Fatalf("enclosing err = %v, want ErrSlotTaken", err)
	}
	if _, err := book(day(11, 0), day(12, 0), booking.StatusConfirmed); err != nil {
		t.Fatalf("adjacent booking: %v", err)
	}

	// Cancelled bookings neither block nor are blocked.
	if _, err := book(day(14, 0), day(15, 0), booking.StatusCancelled); err != nil {
		t.Fatalf("cancelled booking: %v", err)
	}
	if _, err := book(day(14, 0), day(15, 0), booking.StatusConfirmed); err != nil {
		t.Fatalf("booking over cancelled slot: %v", err)
	}
	if _, err := book(day(10, 0), day(11, 0), booking.StatusCancelled); err != nil {
		t.Fatalf("cancelled booking over taken slot: %v", err)
	}

	busy, err := s.BookingsBetween(ctx, day(9, 0), day(18, 0))
	if err != nil {
		t.Fatalf("BookingsBetween: %v", err)
	}
	if len(busy) != 3 {
		t.Fatalf("BookingsBetween returned %d bookings, want 3: %+v", len(busy), busy)
	}
	if busy[0].ID != first.ID || !busy[0].StartTime.Equal(day(10, 0)) {
		t.Fatalf("first busy booking = %+v", busy[0])
	}
	for _, b := range busy {
		if b.Status == booking.StatusCancelled {
			t.Fatalf("cancelled booking returned: %+v", b)
		}
	}

	if _, err := s.CreateBooking(ctx, booking.NewBooking{ClientID: 999, ServiceID: svc.ID, StartTime: day(16, 0), EndTime: day(17, 0), Status: booking.StatusConfirmed}); err == nil || errors.Is(err, booking.ErrSlotTaken) {
		t.Fatalf("unknown client err = %v, want foreign key failure", err)
	}
}

func TestBookingTimesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := mustClient(t, s, "Emma Rodriguez", "emma@example.com")
	svc := mustService(t, s, "Highlights", 150)

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	start := time.Date(2026, 3, 12, 9, 0, 0, 0, ny)
	if _, err := s.CreateBooking(ctx, booking.NewBooking{ClientID: c.ID, ServiceID: svc.ID, StartTime: start, EndTime: start.Add(svc.Duration()), Status: booking.StatusScheduled}); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	// 09:00 New York is 13:00 UTC.
	busy, err := s.BookingsBetween(ctx, day(12, 0), day(16, 0))
	if err != nil || len(busy) != 1 {
		t.Fatalf("BookingsBetween = %+v, %v", busy, err)
	}
	if !busy[0].StartTime.Equal(start) || !busy[0].EndTime.Equal(start.Add(150*time.Minute)) {
		t.Fatalf("round trip = %s-%s, want %s", busy[0].StartTime, busy[0].EndTime, start)
	}
}

func TestHistoryQueries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := mustClient(t, s, "David Thompson", "dt@example.com")
	cut := mustService(t, s, "Haircut", 30)
	color := mustService(t, s, "Color", 90)

	if _, ok, err := s.LastVisit(ctx, c.ID); err != nil || ok {
		t.Fatalf("LastVisit with no bookings = %v, %v", ok, err)
	}

	for i, svc := range []booking.Service{cut, color, cut} {
		start := day(9, 0).AddDate(0, 0, i*7)
		if _, err := s.CreateBooking(ctx, booking.NewBooking{ClientID: c.ID, ServiceID: svc.ID, StartTime: start, EndTime: start.Add(svc.Duration()), Status: booking.StatusCompleted}); err != nil {
			t.Fatalf("CreateBooking %d: %v", i, err)
		}
	}

	n, err := s.CountBookings(ctx, c.ID)
	if err != nil || n != 3 {
		t.Fatalf("CountBookings = %d, %v", n, err)
	}
	last, ok, err := s.LastVisit(ctx, c.ID)
	if err != nil || !ok || !last.Equal(day(9, 0).AddDate(0, 0, 14)) {
		t.Fatalf("LastVisit = %s, %v, %v", last, ok, err)
	}

	recent, err := s.RecentBookings(ctx, c.ID, 2)
	if err != nil {
		t.Fatalf("RecentBookings: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("RecentBookings returned %d, want 2", len(recent))
	}
	if recent[0].ServiceName != "Haircut" || recent[1].ServiceName != "Color" {
		t.Fatalf("RecentBookings order = %q, %q", recent[0].ServiceName, recent[1].ServiceName)
	}
	if !recent[0].StartTime.After(recent[1].StartTime) {
		t.Fatalf("RecentBookings not newest first")
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	seeded, err := s.Seed(ctx, now, time.UTC)
	if err != nil || !seeded {
		t.Fatalf("Seed = %v, %v", seeded, err)
	}
	seeded, err = s.Seed(ctx, now, time.UTC)
	if err != nil || seeded {
		t.Fatalf("second Seed = %v, %v; want false, nil", seeded, err)
	}

	services, err := s.ListActiveServices(ctx)
	if err != nil {
		t.Fatalf("ListActiveServices: %v", err)
	}
	if len(services) != len(seedServices)-1 {
		t.Fatalf("active services = %d, want %d", len(services), len(seedServices)-1)
	}
	for i := 1; i < len(services); i++ {
		if services[i-1].Name > services[i].Name {
			t.Fatalf("services not sorted by name: %q before %q", services[i-1].Name, services[i].Name)
		}
	}
	for _, svc := range services {
		if !svc.Active {
			t.Fatalf("inactive service listed: %q", svc.Name)
		}
	}

	clients, err := s.ListClients(ctx, 100)
	if err != nil || len(clients) != len(seedClients) {
		t.Fatalf("ListClients = %d clients, %v", len(clients), err)
	}

	lisa, err := s.FindClientByName(ctx, "Lisa", "Park")
	if err != nil {
		t.Fatalf("FindClientByName: %v", err)
	}
	recent, err := s.RecentBookings(ctx, lisa.ID, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("RecentBookings = %+v, %v", recent, err)
	}
	if recent[0].ServiceName != "Bridal Hair & Makeup" || !strings.HasPrefix(recent[0].Notes, "WEDDING DAY!") {
		t.Fatalf("latest Lisa Park booking = %+v", recent[0])
	}
	if recent[0].StartTime.Weekday() == time.Sunday {
		t.Fatalf("seeded booking on a Sunday: %s", recent[0].StartTime)
	}
}
