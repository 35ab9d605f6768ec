package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// QueryObserver receives the outcome of every store operation.
type QueryObserver func(operation, table string, d time.Duration, err error)

// Database provides the persistence operations of the library on top of a
// SQL connection.
type Database struct {
	db      *sqlx.DB
	driver  Driver
	dialect goqu.DialectWrapper
	observe QueryObserver
}

var _ Store = (*Database)(nil)

// NewDatabase opens (or creates) the database and applies schema migrations.
// For SQLite dsn is a file path; for PostgreSQL it is a connection URL.
func NewDatabase(driver Driver, dsn string) (*Database, error) {
	var (
		db      *sqlx.DB
		err     error
		dialect string
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		dialect = "sqlite3"
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		// Enable busy_timeout and foreign keys; IMMEDIATE transactions serialize
		// writers instead of failing snapshot upgrades.
		db, err = sqlx.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
	case DriverPostgres:
		dialect = "postgres"
		db, err = sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := applyMigrations(db, driver); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db, driver: driver, dialect: goqu.Dialect(dialect)}, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// DB exposes the connection so other components can share it.
func (d *Database) DB() *sqlx.DB { return d.db }

// Dialect returns the goqu dialect name of the connection.
func (d *Database) Dialect() string {
	if d.driver == DriverPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// Ping checks the connection.
func (d *Database) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// SetObserver installs fn as the query observer.
func (d *Database) SetObserver(fn QueryObserver) { d.observe = fn }

func (d *Database) track(operation, table string, start time.Time, err *error) {
	if d.observe != nil {
		d.observe(operation, table, time.Since(start), *err)
	}
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT NOT NULL UNIQUE,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin','member')),
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS books (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        genre TEXT NOT NULL DEFAULT '',
        published_year INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        UNIQUE (title, author)
    );`,
	`CREATE TABLE IF NOT EXISTS book_logs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
        user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        issued_at DATETIME NOT NULL,
        due_at DATETIME NOT NULL,
        returned_at DATETIME
    );`,
	// At most one active loan per book.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_book_logs_active ON book_logs(book_id) WHERE returned_at IS NULL;`,
	`CREATE INDEX IF NOT EXISTS ix_book_logs_user ON book_logs(user_id);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id BIGSERIAL PRIMARY KEY,
        username TEXT NOT NULL UNIQUE,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin','member')),
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS books (
        id BIGSERIAL PRIMARY KEY,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        genre TEXT NOT NULL DEFAULT '',
        published_year INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        UNIQUE (title, author)
    );`,
	`CREATE TABLE IF NOT EXISTS book_logs (
        id BIGSERIAL PRIMARY KEY,
        book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
        user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        issued_at TIMESTAMPTZ NOT NULL,
        due_at TIMESTAMPTZ NOT NULL,
        returned_at TIMESTAMPTZ
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_book_logs_active ON book_logs(book_id) WHERE returned_at IS NULL;`,
	`CREATE INDEX IF NOT EXISTS ix_book_logs_user ON book_logs(user_id);`,
}

func applyMigrations(db *sqlx.DB, driver Driver) error {
	stmts := sqliteSchema
	upsertVersion := `INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	if driver == DriverPostgres {
		stmts = postgresSchema
		upsertVersion = `INSERT INTO meta(key,value) VALUES('schema_version',$1)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	} else {
		// WAL improves write concurrency.
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	var raw string
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&raw)
	if current, _ := strconv.Atoi(raw); current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(upsertVersion, strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Query helpers
// ---------------------------------------------------------------------------

type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

func (d *Database) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func get(ctx context.Context, q sqlx.QueryerContext, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func list(ctx context.Context, q sqlx.QueryerContext, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

func exec(ctx context.Context, q sqlx.ExecerContext, b sqlBuilder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func exists(ctx context.Context, q sqlx.QueryerContext, ds *goqu.SelectDataset) (bool, error) {
	var one int
	err := get(ctx, q, &one, ds.Select(goqu.L("1")).Limit(1))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// insert runs ds and returns the new row id. SQLite reports it through
// LastInsertId, PostgreSQL needs a RETURNING clause.
func (d *Database) insert(ctx context.Context, q queryer, ds *goqu.InsertDataset) (int64, error) {
	if d.driver == DriverPostgres {
		var id int64
		if err := get(ctx, q, &id, ds.Returning("id")); err != nil {
			return 0, err
		}
		return id, nil
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *Database) from(table any) *goqu.SelectDataset {
	return d.dialect.From(table).Prepared(true)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// uniqueViolationOn guesses the violated column from the driver message:
// SQLite reports "UNIQUE constraint failed: users.email", PostgreSQL names
// the constraint "users_email_key".
func uniqueViolationOn(err error, column string) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), column)
}

func nowUTC() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

var userColumns = []any{"id", "username", "email", "password_hash", "role", "created_at", "updated_at"}

func (d *Database) users() *goqu.SelectDataset {
	return d.from("users").Select(userColumns...)
}

// CreateUser inserts user and sets its ID and timestamps. Taken usernames and
// emails are reported as validation errors.
func (d *Database) CreateUser(ctx context.Context, user *User) (err error) {
	defer d.track("insert", "users", time.Now(), &err)
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := d.checkUserUnique(ctx, tx, 0, &user.Username, &user.Email); err != nil {
			return err
		}

		now := nowUTC()
		id, err := d.insert(ctx, tx, d.dialect.Insert("users").Prepared(true).Rows(goqu.Record{
			"username":      user.Username,
			"email":         user.Email,
			"password_hash": user.PasswordHash,
			"role":          string(user.Role),
			"created_at":    now,
			"updated_at":    now,
		}))
		if err != nil {
			return mapUserUniqueErr(err)
		}
		user.ID, user.CreatedAt, user.UpdatedAt = id, now, now
		return nil
	})
}

func (d *Database) checkUserUnique(ctx context.Context, q sqlx.QueryerContext, selfID int64, username, email *string) error {
	if username != nil {
		taken, err := exists(ctx, q, d.from("users").Where(goqu.C("username").Eq(*username), goqu.C("id").Neq(selfID)))
		if err != nil {
			return err
		}
		if taken {
			return invalid("username", ReasonNotAbsent)
		}
	}
	if email != nil {
		taken, err := exists(ctx, q, d.from("users").Where(goqu.C("email").Eq(*email), goqu.C("id").Neq(selfID)))
		if err != nil {
			return err
		}
		if taken {
			return invalid("email", ReasonNotAbsent)
		}
	}
	return nil
}

func mapUserUniqueErr(err error) error {
	switch {
	case uniqueViolationOn(err, "email"):
		return invalid("email", ReasonNotAbsent)
	case uniqueViolationOn(err, "username"):
		return invalid("username", ReasonNotAbsent)
	}
	return err
}

func (d *Database) getUser(ctx context.Context, q sqlx.QueryerContext, where goqu.Expression, key any) (*User, error) {
	var u User
	err := get(ctx, q, &u, d.users().Where(where))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, userNotFound(key)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID fetches a single user.
func (d *Database) GetUserByID(ctx context.Context, id int64) (u *User, err error) {
	defer d.track("select", "users", time.Now(), &err)
	return d.getUser(ctx, d.db, goqu.C("id").Eq(id), id)
}

// GetUserByUsername fetches a single user by its unique username.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (u *User, err error) {
	defer d.track("select", "users", time.Now(), &err)
	return d.getUser(ctx, d.db, goqu.C("username").Eq(username), username)
}

// ListUsers returns all users.
func (d *Database) ListUsers(ctx context.Context) (users []*User, err error) {
	defer d.track("select", "users", time.Now(), &err)
	users = []*User{}
	if err := list(ctx, d.db, &users, d.users().Order(goqu.C("id").Asc())); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUser writes the non-nil fields of upd and returns the stored user.
func (d *Database) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (user *User, err error) {
	defer d.track("update", "users", time.Now(), &err)
	err = d.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := d.getUser(ctx, tx, goqu.C("id").Eq(id), id); err != nil {
			return err
		}
		if !upd.empty() {
			if err := d.checkUserUnique(ctx, tx, id, upd.Username, upd.Email); err != nil {
				return err
			}
			rec := goqu.Record{"updated_at": nowUTC()}
			if upd.Username != nil {
				rec["username"] = *upd.Username
			}
			if upd.Email != nil {
				rec["email"] = *upd.Email
			}
			if upd.PasswordHash != nil {
				rec["password_hash"] = *upd.PasswordHash
			}
			if upd.Role != nil {
				rec["role"] = string(*upd.Role)
			}
			if _, err := exec(ctx, tx, d.dialect.Update("users").Prepared(true).Set(rec).Where(goqu.C("id").Eq(id))); err != nil {
				return mapUserUniqueErr(err)
			}
		}
		var err error
		user, err = d.getUser(ctx, tx, goqu.C("id").Eq(id), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user and its loan history. Users holding a book are
// kept.
func (d *Database) DeleteUser(ctx context.Context, id int64) (err error) {
	defer d.track("delete", "users", time.Now(), &err)
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		holding, err := exists(ctx, tx, d.from("book_logs").Where(
			goqu.C("user_id").Eq(id), goqu.C("returned_at").IsNull()))
		if err != nil {
			return err
		}
		if holding {
			return conflict(ConflictIsHoldingBook)
		}
		n, err := exec(ctx, tx, d.dialect.Delete("users").Prepared(true).Where(goqu.C("id").Eq(id)))
		if err != nil {
			return err
		}
		if n == 0 {
			return userNotFound(id)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (d *Database) books() *goqu.SelectDataset {
	return d.from(goqu.T("books").As("b")).Select(
		goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author"), goqu.I("b.genre"),
		goqu.I("b.published_year"), goqu.I("b.created_at"), goqu.I("b.updated_at"),
		goqu.L("NOT EXISTS (SELECT 1 FROM book_logs l WHERE l.book_id = b.id AND l.returned_at IS NULL)").As("available"),
	)
}

func (d *Database) getBook(ctx context.Context, q sqlx.QueryerContext, id int64) (*Book, error) {
	var b Book
	err := get(ctx, q, &b, d.books().Where(goqu.I("b.id").Eq(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bookNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *Database) titleAndAuthorTaken(ctx context.Context, q sqlx.QueryerContext, selfID int64, title, author string) error {
	taken, err := exists(ctx, q, d.from("books").Where(
		goqu.C("title").Eq(title), goqu.C("author").Eq(author), goqu.C("id").Neq(selfID)))
	if err != nil {
		return err
	}
	if taken {
		return conflict(ConflictTitleAndAuthorAlreadyExists)
	}
	return nil
}

// CreateBook inserts book and sets its ID and timestamps.
func (d *Database) CreateBook(ctx context.Context, book *Book) (err error) {
	defer d.track("insert", "books", time.Now(), &err)
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := d.titleAndAuthorTaken(ctx, tx, 0, book.Title, book.Author); err != nil {
			return err
		}
		now := nowUTC()
		id, err := d.insert(ctx, tx, d.dialect.Insert("books").Prepared(true).Rows(goqu.Record{
			"title":          book.Title,
			"author":         book.Author,
			"genre":          book.Genre,
			"published_year": book.PublishedYear,
			"created_at":     now,
			"updated_at":     now,
		}))
		if isUniqueViolation(err) {
			return conflict(ConflictTitleAndAuthorAlreadyExists)
		}
		if err != nil {
			return err
		}
		book.ID, book.CreatedAt, book.UpdatedAt, book.Available = id, now, now, true
		return nil
	})
}

// GetBook fetches a single book.
func (d *Database) GetBook(ctx context.Context, id int64) (b *Book, err error) {
	defer d.track("select", "books", time.Now(), &err)
	return d.getBook(ctx, d.db, id)
}

// ListBooks returns the catalog ordered by id. A search term matches title or
// author case-insensitively.
func (d *Database) ListBooks(ctx context.Context, q BookQuery) (books []*Book, err error) {
	defer d.track("select", "books", time.Now(), &err)
	ds := d.books().Order(goqu.I("b.id").Asc())
	if term := strings.TrimSpace(q.Search); term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		ds = ds.Where(goqu.Or(
			goqu.L("LOWER(b.title) LIKE ?", pattern),
			goqu.L("LOWER(b.author) LIKE ?", pattern),
		))
	}
	books = []*Book{}
	if err := list(ctx, d.db, &books, ds); err != nil {
		return nil, err
	}
	return books, nil
}

// UpdateBook writes the non-nil fields of upd and returns the stored book.
func (d *Database) UpdateBook(ctx context.Context, id int64, upd BookUpdate) (book *Book, err error) {
	defer d.track("update", "books", time.Now(), &err)
	err = d.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := d.getBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if !upd.empty() {
			title, author := current.Title, current.Author
			if upd.Title != nil {
				title = *upd.Title
			}
			if upd.Author != nil {
				author = *upd.Author
			}
			if err := d.titleAndAuthorTaken(ctx, tx, id, title, author); err != nil {
				return err
			}
			rec := goqu.Record{"title": title, "author": author, "updated_at": nowUTC()}
			if upd.Genre != nil {
				rec["genre"] = *upd.Genre
			}
			if upd.PublishedYear != nil {
				rec["published_year"] = *upd.PublishedYear
			}
			_, err := exec(ctx, tx, d.dialect.Update("books").Prepared(true).Set(rec).Where(goqu.C("id").Eq(id)))
			if isUniqueViolation(err) {
				return conflict(ConflictTitleAndAuthorAlreadyExists)
			}
			if err != nil {
				return err
			}
		}
		book, err = d.getBook(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// DeleteBook removes a book and its loan history unless it is held.
func (d *Database) DeleteBook(ctx context.Context, id int64) (err error) {
	defer d.track("delete", "books", time.Now(), &err)
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		found, err := exists(ctx, tx, d.from("books").Where(goqu.C("id").Eq(id)))
		if err != nil {
			return err
		}
		if !found {
			return bookNotFound(id)
		}
		held, err := exists(ctx, tx, d.from("book_logs").Where(
			goqu.C("book_id").Eq(id), goqu.C("returned_at").IsNull()))
		if err != nil {
			return err
		}
		if held {
			return conflict(ConflictIsHeld)
		}
		_, err = exec(ctx, tx, d.dialect.Delete("books").Prepared(true).Where(goqu.C("id").Eq(id)))
		return err
	})
}

// ---------------------------------------------------------------------------
// Book logs
// ---------------------------------------------------------------------------

func (d *Database) logs() *goqu.SelectDataset {
	return d.from(goqu.T("book_logs").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Select(
			goqu.I("l.id"), goqu.I("l.book_id"), goqu.I("b.title").As("book_title"),
			goqu.I("l.user_id"), goqu.I("u.username"),
			goqu.I("l.issued_at"), goqu.I("l.due_at"), goqu.I("l.returned_at"),
		)
}

func (d *Database) getLog(ctx context.Context, q sqlx.QueryerContext, id int64) (*BookLog, error) {
	var l BookLog
	err := get(ctx, q, &l, d.logs().Where(goqu.I("l.id").Eq(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, logNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// IssueBook records a new active loan. The active-loan check and the insert
// share one transaction and the partial unique index on book_logs rejects
// any concurrent duplicate that slips past the check.
func (d *Database) IssueBook(ctx context.Context, log *BookLog) (err error) {
	defer d.track("insert", "book_logs", time.Now(), &err)
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		found, err := exists(ctx, tx, d.from("books").Where(goqu.C("id").Eq(log.BookID)))
		if err != nil {
			return err
		}
		if !found {
			return bookNotFound(log.BookID)
		}
		found, err = exists(ctx, tx, d.from("users").Where(goqu.C("id").Eq(log.UserID)))
		if err != nil {
			return err
		}
		if !found {
			return userNotFound(log.UserID)
		}
		held, err := exists(ctx, tx, d.from("book_logs").Where(
			goqu.C("book_id").Eq(log.BookID), goqu.C("returned_at").IsNull()))
		if err != nil {
			return err
		}
		if held {
			return conflict(ConflictIsHeld)
		}

		id, err := d.insert(ctx, tx, d.dialect.Insert("book_logs").Prepared(true).Rows(goqu.Record{
			"book_id":   log.BookID,
			"user_id":   log.UserID,
			"issued_at": log.IssuedAt,
			"due_at":    log.DueAt,
		}))
		if isUniqueViolation(err) {
			return conflict(ConflictIsHeld)
		}
		if err != nil {
			return err
		}

		stored, err := d.getLog(ctx, tx, id)
		if err != nil {
			return err
		}
		*log = *stored
		return nil
	})
}

// LatestLog returns the active log of a book, or its most recent log when
// none is active.
func (d *Database) LatestLog(ctx context.Context, bookID int64) (l *BookLog, err error) {
	defer d.track("select", "book_logs", time.Now(), &err)
	var out BookLog
	err = get(ctx, d.db, &out, d.logs().Where(goqu.I("l.book_id").Eq(bookID)).
		Order(goqu.L("l.returned_at IS NULL").Desc(), goqu.I("l.id").Desc()).Limit(1))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, logNotFound(fmt.Sprintf("for book %d", bookID))
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseLog marks an active log as returned. A log that is already closed
// yields ConflictAlreadyReturned.
func (d *Database) CloseLog(ctx context.Context, id int64, returnedAt time.Time) (l *BookLog, err error) {
	defer d.track("update", "book_logs", time.Now(), &err)
	err = d.withTx(ctx, func(tx *sqlx.Tx) error {
		n, err := exec(ctx, tx, d.dialect.Update("book_logs").Prepared(true).
			Set(goqu.Record{"returned_at": returnedAt}).
			Where(goqu.C("id").Eq(id), goqu.C("returned_at").IsNull()))
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := d.getLog(ctx, tx, id); err != nil {
				return err
			}
			return conflict(ConflictAlreadyReturned)
		}
		l, err = d.getLog(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GetLog fetches a single log.
func (d *Database) GetLog(ctx context.Context, id int64) (l *BookLog, err error) {
	defer d.track("select", "book_logs", time.Now(), &err)
	return d.getLog(ctx, d.db, id)
}

// ListLogs returns logs matching f, newest first.
func (d *Database) ListLogs(ctx context.Context, f LogFilter) (logs []*BookLog, err error) {
	defer d.track("select", "book_logs", time.Now(), &err)
	ds := d.logs().Order(goqu.I("l.id").Desc())
	if f.BookID != 0 {
		ds = ds.Where(goqu.I("l.book_id").Eq(f.BookID))
	}
	if f.UserID != 0 {
		ds = ds.Where(goqu.I("l.user_id").Eq(f.UserID))
	}
	if f.ActiveOnly {
		ds = ds.Where(goqu.I("l.returned_at").IsNull())
	}
	logs = []*BookLog{}
	if err := list(ctx, d.db, &logs, ds); err != nil {
		return nil, err
	}
	return logs, nil
}

// UpdateLog overwrites the mutable columns of a log. Reopening a log while
// another loan of the same book is active yields ConflictIsHeld.
func (d *Database) UpdateLog(ctx context.Context, id int64, upd BookLogUpdate) (l *BookLog, err error) {
	defer d.track("update", "book_logs", time.Now(), &err)
	err = d.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := d.getLog(ctx, tx, id)
		if err != nil {
			return err
		}
		if upd.ReturnedAt == nil && !current.Active() {
			held, err := exists(ctx, tx, d.from("book_logs").Where(
				goqu.C("book_id").Eq(current.BookID), goqu.C("returned_at").IsNull(), goqu.C("id").Neq(id)))
			if err != nil {
				return err
			}
			if held {
				return conflict(ConflictIsHeld)
			}
		}

		rec := goqu.Record{"issued_at": upd.IssuedAt, "due_at": upd.DueAt, "returned_at": nil}
		if upd.ReturnedAt != nil {
			rec["returned_at"] = *upd.ReturnedAt
		}
		_, err = exec(ctx, tx, d.dialect.Update("book_logs").Prepared(true).Set(rec).Where(goqu.C("id").Eq(id)))
		if isUniqueViolation(err) {
			return conflict(ConflictIsHeld)
		}
		if err != nil {
			return err
		}
		l, err = d.getLog(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// DeleteLog removes a log record.
func (d *Database) DeleteLog(ctx context.Context, id int64) (err error) {
	defer d.track("delete", "book_logs", time.Now(), &err)
	n, err := exec(ctx, d.db, d.dialect.Delete("book_logs").Prepared(true).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return err
	}
	if n == 0 {
		return logNotFound(id)
	}
	return nil
}
