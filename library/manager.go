package library

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Options configures a Manager.
type Options struct {
	Driver Driver
	// DSN is a file path for SQLite and a connection URL for PostgreSQL.
	DSN string
	// PasswordCost is the bcrypt work factor; 0 uses bcrypt.DefaultCost.
	PasswordCost   int
	LoanPeriod     time.Duration
	MemberLogScope LogScope
	// Now overrides the lending clock in tests.
	Now func() time.Time
}

// Manager is a thin façade over the Database, wiring the services that the
// HTTP server and the command line use.
type Manager struct {
	db *Database

	Users *UserService
	Books *BookService
	Logs  *BookLogService
}

// NewManager opens (or creates) the database and builds the services on it.
func NewManager(opts Options) (*Manager, error) {
	db, err := NewDatabase(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}
	return newManagerWithStore(db, opts), nil
}

func newManagerWithStore(db *Database, opts Options) *Manager {
	return &Manager{
		db:    db,
		Users: NewUserService(db, opts.PasswordCost),
		Books: NewBookService(db),
		Logs: NewBookLogService(db, LendingPolicy{
			LoanPeriod:     opts.LoanPeriod,
			MemberLogScope: opts.MemberLogScope,
		}, opts.Now),
	}
}

// Close closes the underlying database.
func (m *Manager) Close() error { return m.db.Close() }

// DB exposes the shared connection, e.g. for the SQL session store.
func (m *Manager) DB() *sqlx.DB { return m.db.DB() }

// Dialect returns the goqu dialect name of the database.
func (m *Manager) Dialect() string { return m.db.Dialect() }

// Ping checks that the database answers.
func (m *Manager) Ping(ctx context.Context) error { return m.db.Ping(ctx) }

// SetObserver reports every store operation to fn.
func (m *Manager) SetObserver(fn QueryObserver) { m.db.SetObserver(fn) }
