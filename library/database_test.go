package library

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(DriverSQLite, filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func addUser(t *testing.T, db *Database, name string) *User {
	t.Helper()
	u := &User{Username: name, Email: name + "@example.com", PasswordHash: "hash", Role: RoleMember}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func addBook(t *testing.T, db *Database, title, author string) *Book {
	t.Helper()
	b := &Book{Title: title, Author: author}
	if err := db.CreateBook(context.Background(), b); err != nil {
		t.Fatalf("create book %s: %v", title, err)
	}
	return b
}

func issue(t *testing.T, db *Database, bookID, userID int64) *BookLog {
	t.Helper()
	now := nowUTC()
	l := &BookLog{BookID: bookID, UserID: userID, IssuedAt: now, DueAt: now.Add(DefaultLoanPeriod)}
	if err := db.IssueBook(context.Background(), l); err != nil {
		t.Fatalf("issue book %d: %v", bookID, err)
	}
	return l
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	db, err := NewDatabase(DriverSQLite, path)
	require.NoError(t, err)
	addUser(t, db, "alice")
	require.NoError(t, db.Close())

	db, err = NewDatabase(DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()

	u, err := db.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
}

func TestUnknownDriver(t *testing.T) {
	_, err := NewDatabase("oracle", "x")
	require.Error(t, err)
}

func TestCreateUserRejectsTakenUsernameAndEmail(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := addUser(t, db, "alice")
	assert.NotZero(t, alice.ID)
	assert.False(t, alice.CreatedAt.IsZero())

	err := db.CreateUser(ctx, &User{Username: "alice", Email: "other@example.com", PasswordHash: "h", Role: RoleMember})
	assert.True(t, IsValidation(err, "username", ReasonNotAbsent), "got %v", err)

	err = db.CreateUser(ctx, &User{Username: "bob", Email: "alice@example.com", PasswordHash: "h", Role: RoleMember})
	assert.True(t, IsValidation(err, "email", ReasonNotAbsent), "got %v", err)

	bob := addUser(t, db, "bob")
	taken := "alice"
	_, err = db.UpdateUser(ctx, bob.ID, UserUpdate{Username: &taken})
	assert.True(t, IsValidation(err, "username", ReasonNotAbsent), "got %v", err)

	// Keeping one's own name is not a clash.
	same := "bob"
	updated, err := db.UpdateUser(ctx, bob.ID, UserUpdate{Username: &same})
	require.NoError(t, err)
	assert.Equal(t, "bob", updated.Username)
}

func TestGetUserNotFound(t *testing.T) {
	db := tempDB(t)
	_, err := db.GetUserByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetUserByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBookAvailabilityAndSearch(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := addUser(t, db, "alice")
	dune := addBook(t, db, "Dune", "Frank Herbert")
	addBook(t, db, "Emma", "Jane Austen")
	addBook(t, db, "Persuasion", "Jane Austen")

	assert.True(t, dune.Available)
	issue(t, db, dune.ID, alice.ID)

	got, err := db.GetBook(ctx, dune.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)

	books, err := db.ListBooks(ctx, BookQuery{Search: "austen"})
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Emma", books[0].Title)
	assert.True(t, books[0].Available)

	books, err = db.ListBooks(ctx, BookQuery{Search: "DUNE"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.False(t, books[0].Available)

	books, err = db.ListBooks(ctx, BookQuery{})
	require.NoError(t, err)
	assert.Len(t, books, 3)
}

func TestBookTitleAndAuthorUnique(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	addBook(t, db, "Dune", "Frank Herbert")
	other := addBook(t, db, "Dune Messiah", "Frank Herbert")

	err := db.CreateBook(ctx, &Book{Title: "Dune", Author: "Frank Herbert"})
	assert.True(t, IsConflict(err, ConflictTitleAndAuthorAlreadyExists), "got %v", err)

	title := "Dune"
	_, err = db.UpdateBook(ctx, other.ID, BookUpdate{Title: &title})
	assert.True(t, IsConflict(err, ConflictTitleAndAuthorAlreadyExists), "got %v", err)

	// Same title by a different author is fine.
	addBook(t, db, "Dune", "Someone Else")
}

func TestIssueAndCloseLog(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := addUser(t, db, "alice")
	bob := addUser(t, db, "bob")
	book := addBook(t, db, "Dune", "Frank Herbert")

	l := issue(t, db, book.ID, alice.ID)
	assert.Equal(t, "Dune", l.BookTitle)
	assert.Equal(t, "alice", l.Username)
	assert.True(t, l.Active())

	dup := &BookLog{BookID: book.ID, UserID: bob.ID, IssuedAt: nowUTC(), DueAt: nowUTC()}
	err := db.IssueBook(ctx, dup)
	assert.True(t, IsConflict(err, ConflictIsHeld), "got %v", err)

	closed, err := db.CloseLog(ctx, l.ID, nowUTC())
	require.NoError(t, err)
	assert.Equal(t, LogReturned, closed.State())

	_, err = db.CloseLog(ctx, l.ID, nowUTC())
	assert.True(t, IsConflict(err, ConflictAlreadyReturned), "got %v", err)

	_, err = db.CloseLog(ctx, 999, nowUTC())
	assert.ErrorIs(t, err, ErrNotFound)

	// Returned books can be lent again.
	again := issue(t, db, book.ID, bob.ID)
	latest, err := db.LatestLog(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, again.ID, latest.ID)
}

func TestIssueMissingBookOrUser(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := addUser(t, db, "alice")
	book := addBook(t, db, "Dune", "Frank Herbert")

	err := db.IssueBook(ctx, &BookLog{BookID: 77, UserID: alice.ID, IssuedAt: nowUTC(), DueAt: nowUTC()})
	assert.ErrorIs(t, err, ErrNotFound)
	err = db.IssueBook(ctx, &BookLog{BookID: book.ID, UserID: 77, IssuedAt: nowUTC(), DueAt: nowUTC()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveLoanIndex(t *testing.T) {
	db := tempDB(t)
	alice := addUser(t, db, "alice")
	book := addBook(t, db, "Dune", "Frank Herbert")
	issue(t, db, book.ID, alice.ID)

	// Bypass the transactional check: the index alone must reject it.
	_, err := db.DB().Exec(`INSERT INTO book_logs(book_id, user_id, issued_at, due_at) VALUES (?, ?, ?, ?)`,
		book.ID, alice.ID, time.Now().UTC(), time.Now().UTC())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), "got %v", err)
}

// TestConcurrentIssue checks that only one of many simultaneous loans of the
// same book goes through.
func TestConcurrentIssue(t *testing.T) {
	db := tempDB(t)
	book := addBook(t, db, "Dune", "Frank Herbert")

	const n = 8
	users := make([]*User, n)
	for i := range users {
		users[i] = addUser(t, db, fmt.Sprintf("user%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, u := range users {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			now := nowUTC()
			errs <- db.IssueBook(context.Background(), &BookLog{BookID: book.ID, UserID: userID, IssuedAt: now, DueAt: now})
		}(u.ID)
	}
	wg.Wait()
	close(errs)

	var ok, held int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case IsConflict(err, ConflictIsHeld):
			held++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || held != n-1 {
		t.Fatalf("want 1 success and %d conflicts, got %d and %d", n-1, ok, held)
	}

	active, err := db.ListLogs(context.Background(), LogFilter{BookID: book.ID, ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestDeleteRules(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := addUser(t, db, "alice")
	book := addBook(t, db, "Dune", "Frank Herbert")
	l := issue(t, db, book.ID, alice.ID)

	assert.True(t, IsConflict(db.DeleteUser(ctx, alice.ID), ConflictIsHoldingBook))
	assert.True(t, IsConflict(db.DeleteBook(ctx, book.ID), ConflictIsHeld))

	_, err := db.CloseLog(ctx, l.ID, nowUTC())
	require.NoError(t, err)

	require.NoError(t, db.DeleteBook(ctx, book.ID))
	assert.ErrorIs(t, db.DeleteBook(ctx, book.ID), ErrNotFound)

	// History goes with the book.
	_, err = db.GetLog(ctx, l.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.DeleteUser(ctx, alice.ID))
	assert.ErrorIs(t, db.DeleteUser(ctx, alice.ID), ErrNotFound)
}

func TestDeleteUserCascadesLogs(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := addUser(t, db, "alice")
	book := addBook(t, db, "Dune", "Frank Herbert")
	l := issue(t, db, book.ID, alice.ID)
	_, err := db.CloseLog(ctx, l.ID, nowUTC())
	require.NoError(t, err)

	require.NoError(t, db.DeleteUser(ctx, alice.ID))
	logs, err := db.ListLogs(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestUpdateLogReopen(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := addUser(t, db, "alice")
	bob := addUser(t, db, "bob")
	book := addBook(t, db, "Dune", "Frank Herbert")

	first := issue(t, db, book.ID, alice.ID)
	_, err := db.CloseLog(ctx, first.ID, nowUTC())
	require.NoError(t, err)
	second := issue(t, db, book.ID, bob.ID)

	_, err = db.UpdateLog(ctx, first.ID, BookLogUpdate{IssuedAt: first.IssuedAt, DueAt: first.DueAt})
	assert.True(t, IsConflict(err, ConflictIsHeld), "got %v", err)

	_, err = db.CloseLog(ctx, second.ID, nowUTC())
	require.NoError(t, err)
	reopened, err := db.UpdateLog(ctx, first.ID, BookLogUpdate{IssuedAt: first.IssuedAt, DueAt: first.DueAt})
	require.NoError(t, err)
	assert.True(t, reopened.Active())

	// The reopened older log is the one that holds the book.
	latest, err := db.LatestLog(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	logs := NewBookLogService(db, LendingPolicy{}, nil)
	borrower := &Caller{UserID: alice.ID, Username: alice.Username, Role: RoleMember}
	returned, err := logs.ReturnBook(ctx, book.ID, borrower)
	require.NoError(t, err)
	assert.Equal(t, first.ID, returned.ID)
	assert.False(t, returned.Active())

	latest, err = db.LatestLog(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID, "newest log once none is active")
	issue(t, db, book.ID, bob.ID)

	_, err = db.UpdateLog(ctx, 999, BookLogUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.DeleteLog(ctx, first.ID))
	assert.ErrorIs(t, db.DeleteLog(ctx, first.ID), ErrNotFound)
}

func TestListLogsFilters(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := addUser(t, db, "alice")
	bob := addUser(t, db, "bob")
	dune := addBook(t, db, "Dune", "Frank Herbert")
	emma := addBook(t, db, "Emma", "Jane Austen")

	l := issue(t, db, dune.ID, alice.ID)
	_, err := db.CloseLog(ctx, l.ID, nowUTC())
	require.NoError(t, err)
	issue(t, db, dune.ID, bob.ID)
	issue(t, db, emma.ID, alice.ID)

	all, err := db.ListLogs(ctx, LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Greater(t, all[0].ID, all[2].ID, "newest first")

	mine, err := db.ListLogs(ctx, LogFilter{UserID: alice.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	active, err := db.ListLogs(ctx, LogFilter{BookID: dune.ID, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "bob", active[0].Username)
}

func TestObserverSeesOperations(t *testing.T) {
	db := tempDB(t)
	var mu sync.Mutex
	seen := map[string]int{}
	db.SetObserver(func(op, table string, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		key := op + " " + table
		if err != nil {
			key += " error"
		}
		seen[key]++
	})

	addUser(t, db, "alice")
	_, _ = db.GetUserByUsername(context.Background(), "ghost")

	assert.Equal(t, 1, seen["insert users"])
	assert.Equal(t, 1, seen["select users error"])
}
