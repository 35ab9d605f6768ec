package library

import (
	"context"
	"errors"
	"strings"
)

// UserService owns accounts: credentials, registration and the rules on who
// may read, change or remove an account.
type UserService struct {
	store UserStore
	cost  int
}

// NewUserService builds the service. cost is the bcrypt work factor.
func NewUserService(store UserStore, cost int) *UserService {
	return &UserService{store: store, cost: cost}
}

// Login checks credentials and returns the matching user.
func (s *UserService) Login(ctx context.Context, username, password string) (*User, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(password, u.PasswordHash) {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// Register creates a member account. No session is required.
func (s *UserService) Register(ctx context.Context, in NewUser) (*User, error) {
	return s.create(ctx, in, RoleMember)
}

func (s *UserService) create(ctx context.Context, in NewUser, role Role) (*User, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}
	u := &User{Username: username, Email: email, PasswordHash: hash, Role: role}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureAdmin makes sure an admin account named in.Username exists. An
// existing member with that name is promoted; its password is left alone.
func (s *UserService) EnsureAdmin(ctx context.Context, in NewUser) (u *User, created bool, err error) {
	existing, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(in.Username))
	switch {
	case err == nil:
		if existing.Role == RoleAdmin {
			return existing, false, nil
		}
		role := RoleAdmin
		u, err = s.store.UpdateUser(ctx, existing.ID, UserUpdate{Role: &role})
		return u, false, err
	case errors.Is(err, ErrNotFound):
		u, err = s.create(ctx, in, RoleAdmin)
		return u, err == nil, err
	default:
		return nil, false, err
	}
}

// Resolve returns the caller identity of the user behind a session.
func (s *UserService) Resolve(ctx context.Context, userID int64) (*Caller, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return CallerFor(u), nil
}

// GetAll lists every account. Admin only.
func (s *UserService) GetAll(ctx context.Context, caller *Caller) ([]*User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

// GetByUsername returns one account to its owner or an admin.
func (s *UserService) GetByUsername(ctx context.Context, username string, caller *Caller) (*User, error) {
	if !caller.CanActOn(username) {
		return nil, ErrUnauthorized
	}
	return s.store.GetUserByUsername(ctx, username)
}

// EditUser applies patch to the account. Changed fields are validated again;
// only admins may change a role.
func (s *UserService) EditUser(ctx context.Context, username string, patch UserPatch, caller *Caller) (*User, error) {
	if !caller.CanActOn(username) {
		return nil, ErrUnauthorized
	}
	target, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	var upd UserUpdate
	if patch.Username != nil {
		name := strings.TrimSpace(*patch.Username)
		if err := validateUsername(name); err != nil {
			return nil, err
		}
		upd.Username = &name
	}
	if patch.Email != nil {
		email := normalizeEmail(*patch.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		upd.Email = &email
	}
	if patch.Password != nil {
		if err := validatePassword(*patch.Password); err != nil {
			return nil, err
		}
		hash, err := HashPassword(*patch.Password, s.cost)
		if err != nil {
			return nil, err
		}
		upd.PasswordHash = &hash
	}
	if patch.Role != nil && *patch.Role != target.Role {
		if !caller.IsAdmin() {
			return nil, ErrUnauthorized
		}
		if !patch.Role.Valid() {
			return nil, invalid("role", ReasonMalformed)
		}
		role := *patch.Role
		upd.Role = &role
	}

	return s.store.UpdateUser(ctx, target.ID, upd)
}

// DeleteUser removes the account unless it holds a book. The removed user is
// returned so callers can revoke its sessions.
func (s *UserService) DeleteUser(ctx context.Context, username string, caller *Caller) (*User, error) {
	if !caller.CanActOn(username) {
		return nil, ErrUnauthorized
	}
	target, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteUser(ctx, target.ID); err != nil {
		return nil, err
	}
	return target, nil
}
