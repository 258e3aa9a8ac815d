package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const defaultEventsTable = "eventos"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository writes and queries the event log.
type Repository struct {
	db    DBTX
	table string
	now   func() time.Time
}

// Option configures the repository.
type Option func(*Repository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(r *Repository) {
		if table != "" {
			r.table = table
		}
	}
}

// WithNow overrides the timestamp source for new events.
func WithNow(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRepository constructs an event repository.
func NewRepository(db DBTX, opts ...Option) *Repository {
	if db == nil {
		return nil
	}
	r := &Repository{db: db, table: defaultEventsTable, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends an event.
func (r *Repository) Record(ctx context.Context, event Event) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if event.Type == "" {
		return errors.New("audit repo: empty event type")
	}
	if event.TS.IsZero() {
		event.TS = r.now()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (ts, tipo_evento, username, id_sensor, detalle)
VALUES ($1, $2, $3, $4, $5)`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		event.TS.UTC(),
		event.Type,
		nullString(event.Username),
		nullString(event.SensorID),
		event.Detail,
	)
	return err
}

// List returns events for a category, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	if _, ok := ParseCategory(string(filter.Category)); !ok {
		return nil, fmt.Errorf("audit repo: unknown category %q", filter.Category)
	}

	var (
		where []string
		args  []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Category == CategoryAudit {
		where = append(where, "tipo_evento <> ALL("+arg(pq.Array(excludedFromAudit()))+")")
	} else {
		where = append(where, "tipo_evento = ANY("+arg(pq.Array(filter.Category.Types()))+")")
	}
	if filter.From != nil {
		where = append(where, "ts >= "+arg(filter.From.UTC()))
	}
	if filter.To != nil {
		where = append(where, "ts < "+arg(filter.To.UTC()))
	}
	if filter.Username != "" {
		where = append(where, "username = "+arg(filter.Username))
	}
	if filter.SensorID != "" {
		where = append(where, "id_sensor = "+arg(filter.SensorID))
	}
	limit := filter.Limit
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	query := fmt.Sprintf(`
SELECT id, ts, tipo_evento, username, id_sensor, detalle
FROM %s
WHERE %s
ORDER BY ts DESC, id DESC
LIMIT %s`, r.table, strings.Join(where, "\n\tAND "), arg(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			username sql.NullString
			sensorID sql.NullString
			detail   sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.TS, &event.Type, &username, &sensorID, &detail); err != nil {
			return nil, err
		}
		event.TS = event.TS.UTC()
		event.Username = username.String
		event.SensorID = sensorID.String
		event.Detail = detail.String
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
