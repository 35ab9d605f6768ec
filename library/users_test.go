package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	u, err := mgr.Users.Register(ctx, NewUser{Username: "alice", Email: " Alice@Example.com ", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, RoleMember, u.Role)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.NotEqual(t, "secret123", u.PasswordHash)

	got, err := mgr.Users.Login(ctx, "alice", "secret123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = mgr.Users.Login(ctx, "alice", "wrongpass1")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = mgr.Users.Login(ctx, "nobody", "secret123")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRegisterDuplicates(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	register(t, mgr, "alice")

	_, err := mgr.Users.Register(ctx, NewUser{Username: "alice", Email: "new@example.com", Password: "secret123"})
	assert.True(t, IsValidation(err, "username", ReasonNotAbsent), "got %v", err)

	_, err = mgr.Users.Register(ctx, NewUser{Username: "alice2", Email: "ALICE@example.com", Password: "secret123"})
	assert.True(t, IsValidation(err, "email", ReasonNotAbsent), "got %v", err)
}

func TestRegisterValidation(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		in     NewUser
		field  string
		reason ValidationReason
	}{
		{"empty username", NewUser{Email: "a@b.co", Password: "secret123"}, "username", ReasonRequired},
		{"short username", NewUser{Username: "ab", Email: "a@b.co", Password: "secret123"}, "username", ReasonMalformed},
		{"username with space", NewUser{Username: "a b c", Email: "a@b.co", Password: "secret123"}, "username", ReasonMalformed},
		{"bad email", NewUser{Username: "alice", Email: "alice.example.com", Password: "secret123"}, "email", ReasonMalformed},
		{"short password", NewUser{Username: "alice", Email: "a@b.co", Password: "abc1"}, "password", ReasonMalformed},
		{"password without digit", NewUser{Username: "alice", Email: "a@b.co", Password: "secretpass"}, "password", ReasonMalformed},
		{"missing password", NewUser{Username: "alice", Email: "a@b.co"}, "password", ReasonRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mgr.Users.Register(ctx, tc.in)
			assert.ErrorIs(t, err, ErrValidation)
			assert.True(t, IsValidation(err, tc.field, tc.reason), "got %v", err)
		})
	}
}

func TestGetAllUsersAdminOnly(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	alice := register(t, mgr, "alice")
	root := admin(t, mgr)

	_, err := mgr.Users.GetAll(ctx, alice)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = mgr.Users.GetAll(ctx, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	users, err := mgr.Users.GetAll(ctx, root)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestGetByUsernameAuthorization(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	alice := register(t, mgr, "alice")
	register(t, mgr, "bob")
	root := admin(t, mgr)

	u, err := mgr.Users.GetByUsername(ctx, "alice", alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = mgr.Users.GetByUsername(ctx, "bob", alice)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = mgr.Users.GetByUsername(ctx, "ghost", alice)
	assert.ErrorIs(t, err, ErrUnauthorized, "members cannot probe for usernames")

	_, err = mgr.Users.GetByUsername(ctx, "bob", root)
	require.NoError(t, err)
	_, err = mgr.Users.GetByUsername(ctx, "ghost", root)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditUser(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	alice := register(t, mgr, "alice")
	register(t, mgr, "bob")
	root := admin(t, mgr)

	email := "alice@new.example.com"
	u, err := mgr.Users.EditUser(ctx, "alice", UserPatch{Email: &email}, alice)
	require.NoError(t, err)
	assert.Equal(t, email, u.Email)

	password := "another42"
	_, err = mgr.Users.EditUser(ctx, "alice", UserPatch{Password: &password}, alice)
	require.NoError(t, err)
	_, err = mgr.Users.Login(ctx, "alice", password)
	require.NoError(t, err)

	taken := "bob@example.com"
	_, err = mgr.Users.EditUser(ctx, "alice", UserPatch{Email: &taken}, alice)
	assert.True(t, IsValidation(err, "email", ReasonNotAbsent), "got %v", err)

	bad := "x"
	_, err = mgr.Users.EditUser(ctx, "alice", UserPatch{Username: &bad}, alice)
	assert.True(t, IsValidation(err, "username", ReasonMalformed), "got %v", err)

	_, err = mgr.Users.EditUser(ctx, "bob", UserPatch{Email: &email}, alice)
	assert.ErrorIs(t, err, ErrUnauthorized)

	promote := RoleAdmin
	_, err = mgr.Users.EditUser(ctx, "alice", UserPatch{Role: &promote}, alice)
	assert.ErrorIs(t, err, ErrUnauthorized, "members cannot promote themselves")

	u, err = mgr.Users.EditUser(ctx, "alice", UserPatch{Role: &promote}, root)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)

	bogus := Role("librarian")
	_, err = mgr.Users.EditUser(ctx, "bob", UserPatch{Role: &bogus}, root)
	assert.True(t, IsValidation(err, "role", ReasonMalformed), "got %v", err)

	_, err = mgr.Users.EditUser(ctx, "ghost", UserPatch{Email: &email}, root)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserHoldingBook(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	alice := register(t, mgr, "alice")
	root := admin(t, mgr)
	book := createBook(t, mgr, root, "Dune", "Frank Herbert")

	_, err := mgr.Logs.IssueBook(ctx, book.ID, IssueRequest{}, alice)
	require.NoError(t, err)

	_, err = mgr.Users.DeleteUser(ctx, "alice", alice)
	assert.True(t, IsConflict(err, ConflictIsHoldingBook), "got %v", err)

	_, err = mgr.Logs.ReturnBook(ctx, book.ID, alice)
	require.NoError(t, err)

	deleted, err := mgr.Users.DeleteUser(ctx, "alice", alice)
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, deleted.ID)

	_, err = mgr.Users.DeleteUser(ctx, "alice", root)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureAdmin(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	in := NewUser{Username: "root", Email: "root@example.com", Password: "rootpass1"}

	u, created, err := mgr.Users.EnsureAdmin(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, RoleAdmin, u.Role)

	_, created, err = mgr.Users.EnsureAdmin(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)

	register(t, mgr, "carol")
	u, created, err = mgr.Users.EnsureAdmin(ctx, NewUser{Username: "carol"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, RoleAdmin, u.Role, "existing member is promoted")
}

func TestResolve(t *testing.T) {
	mgr := newManager(t)
	alice := register(t, mgr, "alice")

	c, err := mgr.Users.Resolve(context.Background(), alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, *alice, *c)

	_, err = mgr.Users.Resolve(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
