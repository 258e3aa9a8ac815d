package postgres

import (
	"context"
	"database/sql"
	"errors"

	"hisens-cloud/internal/audit"
	"hisens-cloud/internal/telemetry/application"
)

// UnitOfWork binds the telemetry repositories and the event log to one
// database transaction.
type UnitOfWork struct {
	db        *sql.DB
	opts      []RepositoryOption
	auditOpts []audit.Option
}

// NewUnitOfWork constructs a unit of work over db.
func NewUnitOfWork(db *sql.DB, opts ...RepositoryOption) (*UnitOfWork, error) {
	if db == nil {
		return nil, errors.New("telemetry uow: nil db")
	}
	return &UnitOfWork{db: db, opts: opts}, nil
}

// WithAuditOptions configures the event repository created per transaction.
func (u *UnitOfWork) WithAuditOptions(opts ...audit.Option) *UnitOfWork {
	u.auditOpts = append(u.auditOpts, opts...)
	return u
}

// Do runs fn in a transaction and commits when fn returns nil.
func (u *UnitOfWork) Do(ctx context.Context, fn func(repos application.Repositories) error) error {
	if u == nil || u.db == nil {
		return errors.New("telemetry uow: nil db")
	}
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	repos := application.Repositories{
		Nodes:    NewNodeRepository(tx, u.opts...),
		Sensors:  NewSensorRepository(tx, u.opts...),
		Readings: NewReadingRepository(tx, u.opts...),
		Events:   audit.NewRepository(tx, u.auditOpts...),
	}

	if err := fn(repos); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
