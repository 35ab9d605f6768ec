package library

// Caller is the identity a request acts as, resolved once per request from
// its session. A nil *Caller is an anonymous request.
type Caller struct {
	UserID   int64
	Username string
	Role     Role
}

// CallerFor builds the caller identity of u.
func CallerFor(u *User) *Caller {
	return &Caller{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// Authenticated reports whether the request carries a session.
func (c *Caller) Authenticated() bool { return c != nil }

// IsAdmin reports whether the caller holds the admin role.
func (c *Caller) IsAdmin() bool { return c != nil && c.Role == RoleAdmin }

// CanActOn reports whether the caller may read or change the account named
// username: its owner or an admin.
func (c *Caller) CanActOn(username string) bool {
	return c.IsAdmin() || (c != nil && c.Username == username)
}

func requireAuthenticated(c *Caller) error {
	if !c.Authenticated() {
		return ErrUnauthorized
	}
	return nil
}

func requireAdmin(c *Caller) error {
	if !c.IsAdmin() {
		return ErrUnauthorized
	}
	return nil
}
