package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
        token TEXT PRIMARY KEY,
        user_id INTEGER NOT NULL,
        created_at TIMESTAMP NOT NULL,
        expires_at TIMESTAMP
    );`,
	`CREATE INDEX IF NOT EXISTS ix_sessions_user ON sessions(user_id);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
        token TEXT PRIMARY KEY,
        user_id BIGINT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        expires_at TIMESTAMPTZ
    );`,
	`CREATE INDEX IF NOT EXISTS ix_sessions_user ON sessions(user_id);`,
}

// SQLStore keeps sessions in the library database.
type SQLStore struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	ttl     time.Duration
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates the sessions table if needed. dialect is the goqu
// dialect name ("sqlite3" or "postgres"); a zero ttl never expires sessions.
func NewSQLStore(db *sqlx.DB, dialect string, ttl time.Duration) (*SQLStore, error) {
	schema := sqliteSchema
	if dialect == "postgres" {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create sessions table: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: goqu.Dialect(dialect), ttl: ttl, now: time.Now}, nil
}

func (s *SQLStore) clock() time.Time { return s.now().UTC().Truncate(time.Microsecond) }

func (s *SQLStore) run(ctx context.Context, b interface {
	ToSQL() (string, []interface{}, error)
}) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) Create(ctx context.Context, userID int64) (string, error) {
	token := newToken()
	now := s.clock()
	rec := goqu.Record{"token": token, "user_id": userID, "created_at": now, "expires_at": nil}
	if s.ttl > 0 {
		rec["expires_at"] = now.Add(s.ttl)
	}
	if _, err := s.run(ctx, s.dialect.Insert("sessions").Prepared(true).Rows(rec)); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

func (s *SQLStore) Lookup(ctx context.Context, token string) (int64, error) {
	query, args, err := s.dialect.From("sessions").Prepared(true).
		Select("user_id", "expires_at").
		Where(goqu.C("token").Eq(token)).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var row struct {
		UserID    int64      `db:"user_id"`
		ExpiresAt *time.Time `db:"expires_at"`
	}
	err = s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup session: %w", err)
	}
	if row.ExpiresAt != nil && !s.clock().Before(*row.ExpiresAt) {
		_ = s.Delete(ctx, token)
		return 0, ErrNotFound
	}
	return row.UserID, nil
}

func (s *SQLStore) Delete(ctx context.Context, token string) error {
	_, err := s.run(ctx, s.dialect.Delete("sessions").Prepared(true).Where(goqu.C("token").Eq(token)))
	return err
}

func (s *SQLStore) DeleteUser(ctx context.Context, userID int64) error {
	_, err := s.run(ctx, s.dialect.Delete("sessions").Prepared(true).Where(goqu.C("user_id").Eq(userID)))
	return err
}

// PurgeExpired drops sessions whose TTL has passed and reports how many.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	return s.run(ctx, s.dialect.Delete("sessions").Prepared(true).Where(
		goqu.C("expires_at").IsNotNull(), goqu.C("expires_at").Lte(s.clock())))
}

// Close is a no-op; the connection belongs to the library database.
func (s *SQLStore) Close() error { return nil }
