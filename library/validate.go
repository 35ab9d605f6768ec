package library

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const (
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
)

func validateUsername(username string) error {
	if username == "" {
		return invalid("username", ReasonRequired)
	}
	if !usernamePattern.MatchString(username) {
		return invalid("username", ReasonMalformed)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email", ReasonRequired)
	}
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return invalid("email", ReasonMalformed)
	}
	return nil
}

// validatePassword requires 8-72 bytes with at least one letter and one digit.
func validatePassword(password string) error {
	if password == "" {
		return invalid("password", ReasonRequired)
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return invalid("password", ReasonMalformed)
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return invalid("password", ReasonMalformed)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword hashes password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(b), err
}

// CheckPassword reports whether password matches hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
