package booking_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/salon-mcp/booking"
)

// memStore is an in-memory booking.Store for exercising Salon.
type memStore struct {
	mu        sync.Mutex
	clients   []booking.Client
	services  []booking.Service
	bookings  []booking.Booking
	createErr error
}

var _ booking.Store = (*memStore)(nil)

func (m *memStore) FindClientByName(_ context.Context, first, last string) (booking.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	first, last = strings.ToLower(first), strings.ToLower(last)
	for _, c := range m.clients {
		name := strings.ToLower(c.Name)
		if inOrder(name, first, last) || inOrder(name, last, first) {
			return c, nil
		}
	}
	return booking.Client{}, booking.ErrNotFound
}

func inOrder(s, a, b string) bool {
	i := strings.Index(s, a)
	return i >= 0 && strings.Contains(s[i+len(a):], b)
}

func (m *memStore) GetClient(_ context.Context, id int64) (booking.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return booking.Client{}, booking.ErrNotFound
}

func (m *memStore) GetClientByEmail(_ context.Context, email string) (booking.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.Email == email {
			return c, nil
		}
	}
	return booking.Client{}, booking.ErrNotFound
}

func (m *memStore) CreateClient(_ context.Context, nc booking.NewClient) (booking.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return booking.Client{}, m.createErr
	}
	c := booking.Client{
		ID:        int64(len(m.clients) + 1),
		Name:      nc.Name,
		Email:     nc.Email,
		Phone:     nc.Phone,
		Notes:     nc.Notes,
		CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	m.clients = append(m.clients, c)
	return c, nil
}

func (m *memStore) ListClients(_ context.Context, limit int) ([]booking.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) < limit {
		limit = len(m.clients)
	}
	return append([]booking.Client(nil), m.clients[:limit]...), nil
}

func (m *memStore) ListActiveServices(context.Context) ([]booking.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []booking.Service
	for _, s := range m.services {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetService(_ context.Context, id int64) (booking.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.services {
		if s.ID == id {
			return s, nil
		}
	}
	return booking.Service{}, booking.ErrNotFound
}

func (m *memStore) CountBookings(_ context.Context, clientID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bookings {
		if b.ClientID == clientID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) LastVisit(_ context.Context, clientID int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	ok := false
	for _, b := range m.bookings {
		if b.ClientID == clientID && (!ok || b.StartTime.After(last)) {
			last, ok = b.StartTime, true
		}
	}
	return last, ok, nil
}

func (m *memStore) RecentBookings(_ context.Context, clientID int64, limit int) ([]booking.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []booking.HistoryEntry
	for _, b := range m.bookings {
		if b.ClientID != clientID {
			continue
		}
		e := booking.HistoryEntry{Booking: b}
		for _, s := range m.services {
			if s.ID == b.ServiceID {
				e.ServiceName = s.Name
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) BookingsBetween(_ context.Context, from, to time.Time) ([]booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []booking.Booking
	for _, b := range m.bookings {
		if b.Status.HoldsSlot() && b.Overlaps(from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) CreateBooking(_ context.Context, nb booking.NewBooking) (booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.Status.HoldsSlot() && b.Overlaps(nb.StartTime, nb.EndTime) {
			return booking.Booking{}, booking.ErrSlotTaken
		}
	}
	if nb.ClientID == 0 {
		return booking.Booking{}, errors.New("constraint failed")
	}
	b := booking.Booking{
		ID:        int64(len(m.bookings) + 1),
		ClientID:  nb.ClientID,
		ServiceID: nb.ServiceID,
		StartTime: nb.StartTime,
		EndTime:   nb.EndTime,
		Status:    nb.Status,
		Notes:     nb.Notes,
	}
	m.bookings = append(m.bookings, b)
	return b, nil
}
