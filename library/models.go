package library

import (
	"bytes"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Role is the permission level of a User.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// User represents a registered library account.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // Don't serialize password hash
	Role         Role      `json:"role" db:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Book represents catalog metadata and current availability of a book.
// Available is derived: it is false while an active BookLog references the book.
type Book struct {
	ID            int64     `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Author        string    `json:"author" db:"author"`
	Genre         string    `json:"genre" db:"genre"`
	PublishedYear int       `json:"publishedYear" db:"published_year"`
	Available     bool      `json:"available" db:"available"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// LogState is the lifecycle state of a BookLog.
type LogState string

const (
	LogActive   LogState = "active"
	LogReturned LogState = "returned"
)

// BookLog records one loan of a book to a user. A nil ReturnedAt means the
// book is still held.
type BookLog struct {
	ID         int64      `json:"id" db:"id"`
	BookID     int64      `json:"bookId" db:"book_id"`
	BookTitle  string     `json:"bookTitle" db:"book_title"`
	UserID     int64      `json:"userId" db:"user_id"`
	Username   string     `json:"username" db:"username"`
	IssuedAt   time.Time  `json:"issuedAt" db:"issued_at"`
	DueAt      time.Time  `json:"dueAt" db:"due_at"`
	ReturnedAt *time.Time `json:"returnedAt" db:"returned_at"`
}

// Active reports whether the loan is still open.
func (l *BookLog) Active() bool { return l.ReturnedAt == nil }

// State returns the lifecycle state of the log.
func (l *BookLog) State() LogState {
	if l.Active() {
		return LogActive
	}
	return LogReturned
}

// MarshalJSON adds the derived state to the wire form.
func (l BookLog) MarshalJSON() ([]byte, error) {
	type plain BookLog
	return json.Marshal(struct {
		plain
		State LogState `json:"state"`
	}{plain(l), l.State()})
}

// ------------------ Inputs ------------------

// NewUser is the self-service registration payload.
type NewUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserPatch carries the fields an edit changes; nil fields are left alone.
type UserPatch struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Role     *Role   `json:"role"`
}

// NewBook is the payload for adding a book to the catalog.
type NewBook struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	Genre         string `json:"genre"`
	PublishedYear int    `json:"publishedYear"`
}

// BookPatch carries the fields an edit changes; nil fields are left alone.
type BookPatch struct {
	Title         *string `json:"title"`
	Author        *string `json:"author"`
	Genre         *string `json:"genre"`
	PublishedYear *int    `json:"publishedYear"`
}

// BookQuery narrows a catalog listing.
type BookQuery struct {
	Search string
}

// IssueRequest names the borrower when an admin lends on behalf of another
// user. An empty Username lends to the caller.
type IssueRequest struct {
	Username string
}

// LogFilter narrows a book log listing. UserID is forced to the caller for
// members.
type LogFilter struct {
	BookID     int64
	UserID     int64
	ActiveOnly bool
}

// OptionalTime distinguishes an absent JSON field from an explicit null.
type OptionalTime struct {
	Set  bool
	Time *time.Time
}

// UnmarshalJSON is only invoked when the field is present.
func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Time = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Time = &t
	return nil
}

// BookLogPatch is an admin correction of a log record.
type BookLogPatch struct {
	IssuedAt   *time.Time   `json:"issuedAt"`
	DueAt      *time.Time   `json:"dueAt"`
	ReturnedAt OptionalTime `json:"returnedAt"`
}
