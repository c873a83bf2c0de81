// Package directory is the user-management collaborator: it owns principal
// records and password digests, and hands the token lifecycle engine a
// read-only view through authcore.UserDirectory.
package directory

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/alekolar/authd/internal/authcore"
)

var (
	// ErrLoginTaken indicates the login is already registered.
	ErrLoginTaken = errors.New("directory.login_taken")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("directory.email_taken")
	// ErrLoginFormat indicates the login fails the format rules.
	ErrLoginFormat = errors.New("directory.login_format")
	// ErrPasswordWeak indicates the password fails the strength rules.
	ErrPasswordWeak = errors.New("directory.password_weak")
	// ErrFieldMissing indicates a required registration field is empty or out
	// of range.
	ErrFieldMissing = errors.New("directory.field_missing")
)

// NewUser is the registration payload. Login doubles as the token subject.
type NewUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Age      int    `json:"age"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Registrar creates accounts after validating the payload and hashing the
// password. Both implementations also satisfy authcore.UserDirectory.
type Registrar interface {
	Register(ctx context.Context, user NewUser) (authcore.Principal, error)
}

const (
	loginMinLength    = 4
	loginMaxLength    = 11
	passwordMinLength = 8
)

// ValidateNewUser applies the registration rules: login of 4-11 word
// characters mixing lower, upper, and digit; password of at least 8
// characters mixing the same classes.
func ValidateNewUser(user NewUser) error {
	if strings.TrimSpace(user.Username) == "" || strings.TrimSpace(user.Email) == "" {
		return ErrFieldMissing
	}
	if !strings.Contains(user.Email, "@") {
		return ErrFieldMissing
	}
	if user.Age < 0 || user.Age > 150 {
		return ErrFieldMissing
	}
	if !validLogin(user.Login) {
		return ErrLoginFormat
	}
	if !strongPassword(user.Password) {
		return ErrPasswordWeak
	}
	return nil
}

func validLogin(login string) bool {
	if len(login) < loginMinLength || len(login) > loginMaxLength {
		return false
	}
	var hasLower, hasUpper, hasDigit bool
	for _, character := range login {
		switch {
		case character >= 'a' && character <= 'z':
			hasLower = true
		case character >= 'A' && character <= 'Z':
			hasUpper = true
		case character >= '0' && character <= '9':
			hasDigit = true
		case character == '_':
		default:
			return false
		}
	}
	return hasLower && hasUpper && hasDigit
}

func strongPassword(password string) bool {
	if len(password) < passwordMinLength {
		return false
	}
	var hasLower, hasUpper, hasDigit bool
	for _, character := range password {
		switch {
		case unicode.IsLower(character):
			hasLower = true
		case unicode.IsUpper(character):
			hasUpper = true
		case unicode.IsDigit(character):
			hasDigit = true
		}
	}
	return hasLower && hasUpper && hasDigit
}
