package sqlitestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/salon-mcp/booking"
)

var seedServices = []booking.Service{
	{Name: "Women's Haircut & Style", Description: "Professional haircut with wash, cut, and styling. Includes consultation on best style for your face shape.", DurationMinutes: 60, PriceCents: 8500, Active: true},
	{Name: "Men's Haircut", Description: "Classic men's haircut including wash, cut, and basic styling.", DurationMinutes: 30, PriceCents: 4500, Active: true},
	{Name: "Hair Color - Full", Description: "Complete hair coloring service including consultation, color application, and styling.", DurationMinutes: 180, PriceCents: 15000, Active: true},
	{Name: "Highlights", Description: "Partial or full highlights with foil technique. Includes toning and styling.", DurationMinutes: 150, PriceCents: 12000, Active: true},
	{Name: "Blowout & Style", Description: "Professional wash, blow dry, and styling without a cut.", DurationMinutes: 45, PriceCents: 5500, Active: true},
	{Name: "Deep Conditioning Treatment", Description: "Intensive hair treatment to repair and moisturize damaged hair.", DurationMinutes: 30, PriceCents: 3500, Active: true},
	{Name: "Perm", Description: "Traditional perm service including consultation, perm application, and styling.", DurationMinutes: 120, PriceCents: 9500, Active: true},
	{Name: "Hair Extensions Application", Description: "Professional application of clip-in or semi-permanent hair extensions.", DurationMinutes: 90, PriceCents: 18000, Active: true},
	{Name: "Bridal Hair & Makeup", Description: "Complete bridal hair styling and makeup application for your special day.", DurationMinutes: 180, PriceCents: 25000, Active: true},
	{Name: "Hair Wash & Basic Dry", Description: "Simple hair wash and basic blow dry service.", DurationMinutes: 20, PriceCents: 2500, Active: false},
}

var seedClients = []booking.NewClient{
	{Name: "Sarah Johnson", Email: "sarah.johnson@example.com", Phone: "(555) 123-4567", Notes: "Prefers appointments after 2 PM. Allergic to certain hair dyes - check before coloring."},
	{Name: "Michael Chen", Email: "m.chen@example.com", Phone: "(555) 234-5678", Notes: "Regular client. Usually gets a trim every 6 weeks."},
	{Name: "Emma Rodriguez", Email: "emma.r@example.com", Phone: "(555) 345-6789", Notes: "New client. Interested in highlights. Has very fine hair."},
	{Name: "David Thompson", Email: "dthompson@example.com", Phone: "(555) 456-7890", Notes: "Business executive. Prefers early morning appointments."},
	{Name: "Lisa Park", Email: "lisa.park@example.com", Phone: "(555) 567-8901", Notes: "Getting married next month. Booked for bridal trial and wedding day."},
	{Name: "James Wilson", Email: "jwilson@example.com", Phone: "(555) 678-9012", Notes: "Prefers male stylists. Usually gets a fade cut."},
	{Name: "Amanda Foster", Email: "amanda.foster@example.com", Phone: "(555) 789-0123", Notes: "Comes in every 3 months for color touch-ups. Uses premium products only."},
	{Name: "Robert Martinez", Email: "r.martinez@example.com", Phone: "(555) 890-1234", Notes: "Senior citizen discount applied. Very loyal customer for over 10 years."},
	{Name: "Jennifer Lee", Email: "jlee@example.com", Phone: "(555) 901-2345", Notes: "Travels frequently for work. Often reschedules appointments."},
	{Name: "Christopher Davis", Email: "chris.davis@example.com", Phone: "(555) 012-3456", Notes: "First-time client. Referred by Jennifer Lee."},
}

const (
	seedLisaPark      = 4
	seedWomensHaircut = 0
	seedBridalService = 8
)

// Seed loads the demo catalog, clients and a booking history around now.
// It does nothing and reports false when any service already exists.
func (s *Store) Seed(ctx context.Context, now time.Time, loc *time.Location) (bool, error) {
	if loc == nil {
		loc = time.UTC
	}

	var existing int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM services`).Scan(&existing); err != nil {
		return false, fmt.Errorf("counting services: %w", err)
	}
	if existing > 0 {
		s.log.InfoContext(ctx, "sqlitestore.seed.skip", slog.Int("services", existing))
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	services := make([]booking.Service, len(seedServices))
	var active []booking.Service
	for i, svc := range seedServices {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO services (name, description, duration_minutes, price_cents, active) VALUES (?, ?, ?, ?, ?)`,
			svc.Name, svc.Description, svc.DurationMinutes, svc.PriceCents, svc.Active)
		if err != nil {
			return false, fmt.Errorf("inserting service %q: %w", svc.Name, err)
		}
		if svc.ID, err = res.LastInsertId(); err != nil {
			return false, fmt.Errorf("reading service id: %w", err)
		}
		services[i] = svc
		if svc.Active {
			active = append(active, svc)
		}
	}

	clients := make([]booking.Client, len(seedClients))
	for i, nc := range seedClients {
		c, err := s.insertClient(ctx, tx, nc, now.AddDate(0, -i-1, 0))
		if err != nil {
			return false, err
		}
		clients[i] = c
	}

	today := time.Date(now.In(loc).Year(), now.In(loc).Month(), now.In(loc).Day(), 0, 0, 0, 0, loc)
	at := func(dayOffset, hour int) time.Time {
		d := today.AddDate(0, 0, dayOffset)
		if d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, -1)
		}
		return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
	}

	var bookings []booking.NewBooking
	add := func(client booking.Client, svc booking.Service, start time.Time, status booking.Status, notes string) {
		bookings = append(bookings, booking.NewBooking{
			ClientID:  client.ID,
			ServiceID: svc.ID,
			StartTime: start,
			EndTime:   start.Add(svc.Duration()),
			Status:    status,
			Notes:     notes,
		})
	}

	pastNotes := []string{"Great session!", "Client loved the result", "Regular maintenance appointment", ""}
	for i := 0; i < 15; i++ {
		add(clients[i%len(clients)], active[(i*3)%len(active)], at(-(2*i + 1), 9+(i%4)*2), booking.StatusCompleted, pastNotes[i%len(pastNotes)])
	}

	upcomingNotes := []string{"First-time service", "Regular appointment", "Special occasion", ""}
	for i := 0; i < 6; i++ {
		status := booking.StatusScheduled
		if i%2 == 1 {
			status = booking.StatusConfirmed
		}
		add(clients[(i*3)%len(clients)], active[(i*2)%len(active)], at(i+2, 10+(i%3)*2), status, upcomingNotes[i%len(upcomingNotes)])
	}

	missedNotes := []string{"Client called to cancel", "Family emergency", "Didn't show up"}
	for i, status := range []booking.Status{booking.StatusCancelled, booking.StatusNoShow, booking.StatusCancelled} {
		add(clients[(i*4+1)%len(clients)], active[(i+5)%len(active)], at(-(i + 2), 14), status, missedNotes[i])
	}

	lisa := clients[seedLisaPark]
	add(lisa, services[seedWomensHaircut], at(14, 10), booking.StatusScheduled, "Bridal trial run - practice for wedding day")
	add(lisa, services[seedBridalService], at(30, 8), booking.StatusScheduled, "WEDDING DAY! Very important - double check all details")

	for _, nb := range bookings {
		if _, err := insertBooking(ctx, tx, nb, false); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing seed: %w", err)
	}
	s.log.InfoContext(ctx, "sqlitestore.seed.ok",
		slog.Int("services", len(services)),
		slog.Int("clients", len(clients)),
		slog.Int("bookings", len(bookings)))
	return true, nil
}
