// Package booking implements the hair-salon domain exposed over MCP: client
// lookup and registration, the service catalog, booking history, slot search
// and booking creation.
//
// Salon holds the business rules and renders every tool result as JSON text.
// Persistence sits behind the Store interface; booking/sqlitestore is the
// production implementation.
package booking

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Store lookups that match nothing.
	ErrNotFound = errors.New("booking: not found")
	// ErrSlotTaken is returned by Store.CreateBooking when the requested
	// interval overlaps a booking that still holds its slot.
	ErrSlotTaken = errors.New("booking: time slot taken")
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// HoldsSlot reports whether a booking in this state blocks its time slot.
func (s Status) HoldsSlot() bool { return s != StatusCancelled }

type Client struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	Notes     string
	CreatedAt time.Time
}

type Service struct {
	ID              int64
	Name            string
	Description     string
	DurationMinutes int
	PriceCents      int64
	Active          bool
}

// Duration is the length of one appointment for the service.
func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Booking struct {
	ID        int64
	ClientID  int64
	ServiceID int64
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Notes     string
}

// Overlaps reports whether the booking intersects the half-open interval
// [start, end).
func (b Booking) Overlaps(start, end time.Time) bool {
	return start.Before(b.EndTime) && end.After(b.StartTime)
}

// HistoryEntry is a booking joined with its service name.
type HistoryEntry struct {
	Booking
	ServiceName string
}

type NewClient struct {
	Name  string
	Email string
	Phone string
	Notes string
}

type NewBooking struct {
	ClientID  int64
	ServiceID int64
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Notes     string
}

// Store persists the salon's clients, services and bookings.
type Store interface {
	// FindClientByName returns the lowest-id client whose name contains first
	// and last, in either order, ignoring case.
	FindClientByName(ctx context.Context, first, last string) (Client, error)
	GetClient(ctx context.Context, id int64) (Client, error)
	GetClientByEmail(ctx context.Context, email string) (Client, error)
	CreateClient(ctx context.Context, c NewClient) (Client, error)
	// ListClients returns up to limit clients ordered by id.
	ListClients(ctx context.Context, limit int) ([]Client, error)

	ListActiveServices(ctx context.Context) ([]Service, error)
	GetService(ctx context.Context, id int64) (Service, error)

	CountBookings(ctx context.Context, clientID int64) (int, error)
	// LastVisit returns the latest booking start for the client; ok is false
	// when the client has no bookings.
	LastVisit(ctx context.Context, clientID int64) (t time.Time, ok bool, err error)
	// RecentBookings returns up to limit bookings for the client, newest first.
	RecentBookings(ctx context.Context, clientID int64, limit int) ([]HistoryEntry, error)
	// BookingsBetween returns slot-holding bookings that overlap [from, to).
	BookingsBetween(ctx context.Context, from, to time.Time) ([]Booking, error)
	// CreateBooking inserts b unless it overlaps a slot-holding booking, in
	// which case it returns ErrSlotTaken. The check and insert are atomic.
	CreateBooking(ctx context.Context, b NewBooking) (Booking, error)
}
