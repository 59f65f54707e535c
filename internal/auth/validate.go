package auth

import (
	"net/mail"
	"regexp"
	"strings"
)

const minPasswordBytes = 8

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,32}$`)

// NormalizeEmail trims and lower-cases an address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(in RegisterInput) map[string]string {
	fields := make(map[string]string)
	if in.Email == "" {
		fields["email"] = "is required"
	} else if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		fields["email"] = "must be a valid address"
	}
	switch {
	case len(in.Password) < minPasswordBytes:
		fields["password"] = "must be at least 8 characters"
	case len(in.Password) > MaxPasswordBytes:
		fields["password"] = "must be at most 72 bytes"
	}
	if strings.TrimSpace(in.FirstName) == "" {
		fields["firstName"] = "is required"
	}
	if strings.TrimSpace(in.LastName) == "" {
		fields["lastName"] = "is required"
	}
	if in.Username != "" && !usernamePattern.MatchString(in.Username) {
		fields["username"] = "must be 3-32 letters, digits, dots, dashes or underscores"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
