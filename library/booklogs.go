package library

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultLoanPeriod is how long a book may be kept when no period is configured.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// LogScope controls which book logs a member may list.
type LogScope string

const (
	// ScopeOwn lets members list their own loans.
	ScopeOwn LogScope = "own"
	// ScopeNone keeps the log listing admin only.
	ScopeNone LogScope = "none"
)

// ParseLogScope accepts "own" or "none"; empty means ScopeOwn.
func ParseLogScope(s string) (LogScope, error) {
	switch LogScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeOwn, "":
		return ScopeOwn, nil
	case ScopeNone:
		return ScopeNone, nil
	default:
		return "", fmt.Errorf("unknown member log scope %q", s)
	}
}

// LendingPolicy holds the tunable lending rules.
type LendingPolicy struct {
	LoanPeriod     time.Duration
	MemberLogScope LogScope
}

// BookLogService issues and returns books and lets admins correct the
// resulting records.
type BookLogService struct {
	store  BookLogStore
	policy LendingPolicy
	now    func() time.Time
}

// NewBookLogService builds the service. A nil now uses the wall clock.
func NewBookLogService(store BookLogStore, policy LendingPolicy, now func() time.Time) *BookLogService {
	if policy.LoanPeriod <= 0 {
		policy.LoanPeriod = DefaultLoanPeriod
	}
	if policy.MemberLogScope == "" {
		policy.MemberLogScope = ScopeOwn
	}
	if now == nil {
		now = time.Now
	}
	return &BookLogService{store: store, policy: policy, now: now}
}

func (s *BookLogService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// IssueBook lends bookID. Members borrow for themselves; admins may name
// another borrower in req.
func (s *BookLogService) IssueBook(ctx context.Context, bookID int64, req IssueRequest, caller *Caller) (*BookLog, error) {
	if err := requireAuthenticated(caller); err != nil {
		return nil, err
	}

	borrower := caller.UserID
	if name := strings.TrimSpace(req.Username); name != "" && name != caller.Username {
		if !caller.IsAdmin() {
			return nil, ErrUnauthorized
		}
		u, err := s.store.GetUserByUsername(ctx, name)
		if err != nil {
			return nil, err
		}
		borrower = u.ID
	}

	issued := s.clock()
	log := &BookLog{
		BookID:   bookID,
		UserID:   borrower,
		IssuedAt: issued,
		DueAt:    issued.Add(s.policy.LoanPeriod),
	}
	if err := s.store.IssueBook(ctx, log); err != nil {
		return nil, err
	}
	return log, nil
}

// ReturnBook closes the latest loan of bookID. Only the borrower or an admin
// may return it.
func (s *BookLogService) ReturnBook(ctx context.Context, bookID int64, caller *Caller) (*BookLog, error) {
	if err := requireAuthenticated(caller); err != nil {
		return nil, err
	}
	latest, err := s.store.LatestLog(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if latest.UserID != caller.UserID && !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if !latest.Active() {
		return nil, conflict(ConflictAlreadyReturned)
	}
	return s.store.CloseLog(ctx, latest.ID, s.clock())
}

// GetAll lists logs. Admins see everything; members see their own logs
// unless the policy hides the listing from them.
func (s *BookLogService) GetAll(ctx context.Context, f LogFilter, caller *Caller) ([]*BookLog, error) {
	if err := requireAuthenticated(caller); err != nil {
		return nil, err
	}
	if !caller.IsAdmin() {
		if s.policy.MemberLogScope != ScopeOwn {
			return nil, ErrUnauthorized
		}
		f.UserID = caller.UserID
	}
	return s.store.ListLogs(ctx, f)
}

// Edit corrects a log record. An explicit null returnedAt reopens the loan.
func (s *BookLogService) Edit(ctx context.Context, id int64, patch BookLogPatch, caller *Caller) (*BookLog, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	current, err := s.store.GetLog(ctx, id)
	if err != nil {
		return nil, err
	}

	upd := BookLogUpdate{IssuedAt: current.IssuedAt, DueAt: current.DueAt, ReturnedAt: current.ReturnedAt}
	if patch.IssuedAt != nil {
		upd.IssuedAt = patch.IssuedAt.UTC()
	}
	if patch.DueAt != nil {
		upd.DueAt = patch.DueAt.UTC()
	}
	if patch.ReturnedAt.Set {
		upd.ReturnedAt = nil
		if patch.ReturnedAt.Time != nil {
			t := patch.ReturnedAt.Time.UTC()
			upd.ReturnedAt = &t
		}
	}

	if upd.DueAt.Before(upd.IssuedAt) {
		return nil, invalid("dueAt", ReasonMalformed)
	}
	if upd.ReturnedAt != nil && upd.ReturnedAt.Before(upd.IssuedAt) {
		return nil, invalid("returnedAt", ReasonMalformed)
	}
	return s.store.UpdateLog(ctx, id, upd)
}

// Delete removes a log record.
func (s *BookLogService) Delete(ctx context.Context, id int64, caller *Caller) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	return s.store.DeleteLog(ctx, id)
}

