package library

import (
	"errors"
	"fmt"
)

// Error kinds returned by the services. Typed errors below match one of these
// through errors.Is so the HTTP layer can map them to status codes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	Key    any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationReason says why a field was rejected.
type ValidationReason string

const (
	// ReasonNotAbsent means the value is already taken by another record.
	ReasonNotAbsent ValidationReason = "not_absent"
	ReasonMalformed ValidationReason = "malformed"
	ReasonRequired  ValidationReason = "required"
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason ValidationReason
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonNotAbsent:
		return fmt.Sprintf("%s already exists", e.Field)
	case ReasonRequired:
		return fmt.Sprintf("%s is required", e.Field)
	default:
		return fmt.Sprintf("%s is invalid", e.Field)
	}
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictReason names the business rule a request ran into.
type ConflictReason string

const (
	ConflictIsHeld                      ConflictReason = "is_held"
	ConflictIsHoldingBook               ConflictReason = "is_holding_book"
	ConflictAlreadyReturned             ConflictReason = "already_returned"
	ConflictTitleAndAuthorAlreadyExists ConflictReason = "title_and_author_already_exists"
)

var conflictMessages = map[ConflictReason]string{
	ConflictIsHeld:                      "book is currently held",
	ConflictIsHoldingBook:               "user is holding a book",
	ConflictAlreadyReturned:             "book was already returned",
	ConflictTitleAndAuthorAlreadyExists: "a book with this title and author already exists",
}

// ConflictError reports a request that the current state does not allow.
type ConflictError struct {
	Reason ConflictReason
}

func (e *ConflictError) Error() string {
	if msg, ok := conflictMessages[e.Reason]; ok {
		return msg
	}
	return string(e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsConflict reports whether err is a conflict with the given reason.
func IsConflict(err error, reason ConflictReason) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Reason == reason
}

// IsValidation reports whether err rejects field for reason.
func IsValidation(err error, field string, reason ValidationReason) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Field == field && ve.Reason == reason
}

func conflict(reason ConflictReason) error { return &ConflictError{Reason: reason} }

func invalid(field string, reason ValidationReason) error {
	return &ValidationError{Field: field, Reason: reason}
}

func userNotFound(key any) error { return &NotFoundError{Entity: "user", Key: key} }
func bookNotFound(id int64) error { return &NotFoundError{Entity: "book", Key: id} }
func logNotFound(key any) error  { return &NotFoundError{Entity: "book log", Key: key} }
