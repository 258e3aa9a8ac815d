package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/lib/pq"
)

const defaultUsersTable = "usuarios"

// Roles stored in usuarios.rol.
const (
	RoleAdmin      = "Admin"
	RoleSupervisor = "Supervisor"
	RoleTecnico    = "Tecnico"
	RoleSystem     = "System"
)

// AlertRoles receive alarm notifications.
var AlertRoles = []string{RoleAdmin, RoleSupervisor}

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Repository reads users for recipient resolution.
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

// NewRepository constructs a users repository.
func NewRepository(db DBTX, opts ...Option) *Repository {
	r := &Repository{db: db, table: defaultUsersTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListActiveEmailsByRoles returns distinct, syntactically valid addresses of
// active users holding one of roles.
func (r *Repository) ListActiveEmailsByRoles(ctx context.Context, roles []string) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("users repo: nil db")
	}
	if len(roles) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
SELECT email
FROM %s
WHERE activo = TRUE
	AND rol = ANY($1)
	AND email IS NOT NULL
ORDER BY username`, r.table)

	rows, err := r.db.QueryContext(ctx, query, pq.Array(roles))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raw []string
	for rows.Next() {
		var email sql.NullString
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		if email.Valid {
			raw = append(raw, email.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ValidEmails(raw), nil
}

// ValidEmails keeps bare, parseable addresses and drops duplicates.
func ValidEmails(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		addr, ok := ParseEmail(candidate)
		if !ok {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// ParseEmail accepts a single bare address such as ops@example.com.
func ParseEmail(candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	parsed, err := mail.ParseAddress(candidate)
	if err != nil || parsed.Address != candidate {
		return "", false
	}
	at := strings.LastIndex(parsed.Address, "@")
	if at <= 0 || at == len(parsed.Address)-1 {
		return "", false
	}
	return parsed.Address, true
}
