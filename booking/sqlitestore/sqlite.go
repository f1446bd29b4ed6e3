// Package sqlitestore implements booking.Store on SQLite using the pure-Go
// modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggoodman/salon-mcp/booking"
	_ "modernc.org/sqlite"
)

var _ booking.Store = (*Store)(nil)

const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL UNIQUE,
		phone      TEXT NOT NULL DEFAULT '',
		notes      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS services (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		name             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
		price_cents      INTEGER NOT NULL,
		active           INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id  INTEGER NOT NULL REFERENCES clients(id),
		service_id INTEGER NOT NULL REFERENCES services(id),
		start_time TEXT NOT NULL,
		end_time   TEXT NOT NULL,
		status     TEXT NOT NULL,
		notes      TEXT NOT NULL DEFAULT '',

		CHECK (status IN ('scheduled', 'confirmed', 'completed', 'cancelled', 'no_show')),
		CHECK (end_time > start_time)
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_client ON bookings(client_id, start_time);
	CREATE INDEX IF NOT EXISTS idx_bookings_window ON bookings(start_time, end_time);
`

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Store is a booking.Store backed by a single SQLite database file.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database at path with WAL journaling
// and foreign keys enabled, and creates the schema. Parent directories are
// created as needed.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes the conflict check and insert in
	// CreateBooking.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.db = db
	s.log.InfoContext(ctx, "sqlitestore.open.ok", slog.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", v, err)
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

const clientColumns = "id, name, email, phone, notes, created_at"

func scanClient(row scanner) (booking.Client, error) {
	var (
		c         booking.Client
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, booking.ErrNotFound
		}
		return c, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return c, err
	}
	c.CreatedAt = t
	return c, nil
}

const serviceColumns = "id, name, description, duration_minutes, price_cents, active"

func scanService(row scanner) (booking.Service, error) {
	var svc booking.Service
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.DurationMinutes, &svc.PriceCents, &svc.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return svc, booking.ErrNotFound
		}
		return svc, err
	}
	return svc, nil
}

const bookingColumns = "b.id, b.client_id, b.service_id, b.start_time, b.end_time, b.status, b.notes"

func scanBooking(row scanner, extra ...any) (booking.Booking, error) {
	var (
		b          booking.Booking
		start, end string
		status     string
	)
	dest := append([]any{&b.ID, &b.ClientID, &b.ServiceID, &start, &end, &status, &b.Notes}, extra...)
	if err := row.Scan(dest...); err != nil {
		return b, err
	}
	var err error
	if b.StartTime, err = parseTime(start); err != nil {
		return b, err
	}
	if b.EndTime, err = parseTime(end); err != nil {
		return b, err
	}
	b.Status = booking.Status(status)
	return b, nil
}

func (s *Store) FindClientByName(ctx context.Context, first, last string) (booking.Client, error) {
	forward := "%" + strings.ToLower(first) + "%" + strings.ToLower(last) + "%"
	reverse := "%" + strings.ToLower(last) + "%" + strings.ToLower(first) + "%"
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients
		 WHERE LOWER(name) LIKE ? OR LOWER(name) LIKE ?
		 ORDER BY id LIMIT 1`, forward, reverse)
	c, err := scanClient(row)
	if err != nil && !errors.Is(err, booking.ErrNotFound) {
		return c, fmt.Errorf("querying client by name: %w", err)
	}
	return c, err
}

func (s *Store) GetClient(ctx context.Context, id int64) (booking.Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err != nil && !errors.Is(err, booking.ErrNotFound) {
		return c, fmt.Errorf("querying client %d: %w", id, err)
	}
	return c, err
}

func (s *Store) GetClientByEmail(ctx context.Context, email string) (booking.Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE email = ?`, email)
	c, err := scanClient(row)
	if err != nil && !errors.Is(err, booking.ErrNotFound) {
		return c, fmt.Errorf("querying client by email: %w", err)
	}
	return c, err
}

func (s *Store) CreateClient(ctx context.Context, nc booking.NewClient) (booking.Client, error) {
	return s.insertClient(ctx, s.db, nc, time.Now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertClient(ctx context.Context, db execer, nc booking.NewClient, now time.Time) (booking.Client, error) {
	createdAt := now.UTC().Truncate(time.Second)
	res, err := db.ExecContext(ctx,
		`INSERT INTO clients (name, email, phone, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		nc.Name, nc.Email, nc.Phone, nc.Notes, formatTime(createdAt))
	if err != nil {
		return booking.Client{}, fmt.Errorf("inserting client: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return booking.Client{}, fmt.Errorf("reading client id: %w", err)
	}
	return booking.Client{
		ID:        id,
		Name:      nc.Name,
		Email:     nc.Email,
		Phone:     nc.Phone,
		Notes:     nc.Notes,
		CreatedAt: createdAt,
	}, nil
}

func (s *Store) ListClients(ctx context.Context, limit int) ([]booking.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying clients: %w", err)
	}
	defer rows.Close()

	var out []booking.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveServices(ctx context.Context) ([]booking.Service, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE active = 1 ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying services: %w", err)
	}
	defer rows.Close()

	var out []booking.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *Store) GetService(ctx context.Context, id int64) (booking.Service, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	svc, err := scanService(row)
	if err != nil && !errors.Is(err, booking.ErrNotFound) {
		return svc, fmt.Errorf("querying service %d: %w", id, err)
	}
	return svc, err
}

func (s *Store) CountBookings(ctx context.Context, clientID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE client_id = ?`, clientID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting bookings: %w", err)
	}
	return n, nil
}

func (s *Store) LastVisit(ctx context.Context, clientID int64) (time.Time, bool, error) {
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(start_time) FROM bookings WHERE client_id = ?`, clientID).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("querying last visit: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseTime(last.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *Store) RecentBookings(ctx context.Context, clientID int64, limit int) ([]booking.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookingColumns+`, s.name
		 FROM bookings b JOIN services s ON s.id = b.service_id
		 WHERE b.client_id = ?
		 ORDER BY b.start_time DESC, b.id DESC
		 LIMIT ?`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.HistoryEntry
	for rows.Next() {
		var name string
		b, err := scanBooking(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		out = append(out, booking.HistoryEntry{Booking: b, ServiceName: name})
	}
	return out, rows.Err()
}

func (s *Store) BookingsBetween(ctx context.Context, from, to time.Time) ([]booking.Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings b
		 WHERE b.status != 'cancelled' AND b.start_time < ? AND b.end_time > ?
		 ORDER BY b.start_time`, formatTime(to), formatTime(from))
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CreateBooking(ctx context.Context, nb booking.NewBooking) (booking.Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := insertBooking(ctx, tx, nb, true)
	if err != nil {
		return booking.Booking{}, err
	}
	if err := tx.Commit(); err != nil {
		return booking.Booking{}, fmt.Errorf("committing booking: %w", err)
	}
	return b, nil
}

type queryExecer interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertBooking writes nb, first rejecting overlaps with slot-holding
// bookings when checkConflicts is set.
func insertBooking(ctx context.Context, db queryExecer, nb booking.NewBooking, checkConflicts bool) (booking.Booking, error) {
	start, end := formatTime(nb.StartTime), formatTime(nb.EndTime)

	if checkConflicts && nb.Status.HoldsSlot() {
		var taken bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM bookings WHERE status != 'cancelled' AND start_time < ? AND end_time > ?)`,
			end, start).Scan(&taken)
		if err != nil {
			return booking.Booking{}, fmt.Errorf("checking conflicts: %w", err)
		}
		if taken {
			return booking.Booking{}, booking.ErrSlotTaken
		}
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO bookings (client_id, service_id, start_time, end_time, status, notes) VALUES (?, ?, ?, ?, ?, ?)`,
		nb.ClientID, nb.ServiceID, start, end, string(nb.Status), nb.Notes)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("inserting booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return booking.Booking{}, fmt.Errorf("reading booking id: %w", err)
	}
	return booking.Booking{
		ID:        id,
		ClientID:  nb.ClientID,
		ServiceID: nb.ServiceID,
		StartTime: nb.StartTime.UTC().Truncate(time.Second),
		EndTime:   nb.EndTime.UTC().Truncate(time.Second),
		Status:    nb.Status,
		Notes:     nb.Notes,
	}, nil
}
