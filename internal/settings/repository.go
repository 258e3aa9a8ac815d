package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"hisens-cloud/internal/audit"
)

const defaultSettingsTable = "configuracion"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Repository reads and writes the configuracion table.
type Repository struct {
	db    DBTX
	table string
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

// NewRepository constructs a settings repository.
func NewRepository(db DBTX, opts ...Option) *Repository {
	r := &Repository{db: db, table: defaultSettingsTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads all rows and parses them into Settings.
func (r *Repository) Load(ctx context.Context) (Settings, error) {
	if r == nil || r.db == nil {
		return Settings{}, errors.New("settings repo: nil db")
	}
	query := fmt.Sprintf(`SELECT id, valor FROM %s`, r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return Settings{}, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var (
			key   string
			value sql.NullString
		)
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, err
		}
		if value.Valid {
			values[key] = value.String
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, err
	}
	return Parse(values), nil
}

// Save upserts every recognized key.
func (r *Repository) Save(ctx context.Context, s Settings) error {
	if r == nil || r.db == nil {
		return errors.New("settings repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, valor)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET valor = EXCLUDED.valor`, r.table)

	values := s.Values()
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := r.db.ExecContext(ctx, query, key, values[key]); err != nil {
			return fmt.Errorf("settings repo: save %s: %w", key, err)
		}
	}
	return nil
}

// Service updates settings and records the change in one transaction.
type Service struct {
	db *sql.DB
}

// NewService constructs a settings service.
func NewService(db *sql.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("settings: nil db")
	}
	return &Service{db: db}, nil
}

// Load reads current settings.
func (s *Service) Load(ctx context.Context) (Settings, error) {
	return NewRepository(s.db).Load(ctx)
}

// Update validates, persists and audits a settings change.
func (s *Service) Update(ctx context.Context, next Settings, actor string) error {
	if err := next.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := NewRepository(tx).Save(ctx, next); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := audit.NewRepository(tx).Record(ctx, audit.Event{
		Type:     audit.TypeConfigChanged,
		Username: actor,
		Detail:   "Configuracion actualizada",
	}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
