package library

import (
	"context"
	"time"
)

// UserUpdate lists the columns an UpdateUser call writes; nil fields are
// left untouched.
type UserUpdate struct {
	Username     *string
	Email        *string
	PasswordHash *string
	Role         *Role
}

func (u UserUpdate) empty() bool {
	return u.Username == nil && u.Email == nil && u.PasswordHash == nil && u.Role == nil
}

// BookUpdate lists the columns an UpdateBook call writes.
type BookUpdate struct {
	Title         *string
	Author        *string
	Genre         *string
	PublishedYear *int
}

func (u BookUpdate) empty() bool {
	return u.Title == nil && u.Author == nil && u.Genre == nil && u.PublishedYear == nil
}

// BookLogUpdate carries the full set of mutable log columns after an admin
// correction.
type BookLogUpdate struct {
	IssuedAt   time.Time
	DueAt      time.Time
	ReturnedAt *time.Time
}

// UserStore persists users. CreateUser and UpdateUser report taken usernames
// and emails as a ValidationError with ReasonNotAbsent; DeleteUser refuses
// users with an active loan.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, id int64, upd UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// BookStore persists the catalog.
type BookStore interface {
	CreateBook(ctx context.Context, book *Book) error
	GetBook(ctx context.Context, id int64) (*Book, error)
	ListBooks(ctx context.Context, q BookQuery) ([]*Book, error)
	UpdateBook(ctx context.Context, id int64, upd BookUpdate) (*Book, error)
	DeleteBook(ctx context.Context, id int64) error
}

// BookLogStore persists loans. IssueBook must check for an active loan and
// insert in one atomic step; CloseLog only closes a log that is still active.
type BookLogStore interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	IssueBook(ctx context.Context, log *BookLog) error
	LatestLog(ctx context.Context, bookID int64) (*BookLog, error)
	CloseLog(ctx context.Context, id int64, returnedAt time.Time) (*BookLog, error)
	GetLog(ctx context.Context, id int64) (*BookLog, error)
	ListLogs(ctx context.Context, f LogFilter) ([]*BookLog, error)
	UpdateLog(ctx context.Context, id int64, upd BookLogUpdate) (*BookLog, error)
	DeleteLog(ctx context.Context, id int64) error
}

// Store is everything the services need from persistence.
type Store interface {
	UserStore
	BookStore
	BookLogStore
}
