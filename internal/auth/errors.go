package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Storage sentinels returned by repositories.
var (
	ErrNotFound = errors.New("auth: not found")
	ErrConflict = errors.New("auth: conflict")
)

// Kind classifies authentication and authorization failures.
type Kind string

const (
	KindValidation              Kind = "validation"
	KindUserExists              Kind = "user_exists"
	KindInvalidCredentials      Kind = "invalid_credentials"
	KindInvalidAccessToken      Kind = "invalid_access_token"
	KindInvalidRefreshToken     Kind = "invalid_refresh_token"
	KindNotAuthenticated        Kind = "not_authenticated"
	KindInsufficientPermissions Kind = "insufficient_permissions"
	KindUserNotFound            Kind = "user_not_found"
	KindInternal                Kind = "internal"
)

// Error is the failure type returned by the auth package. Message is safe to
// show to callers; the wrapped cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.cause)
	}
	return "auth: " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation              = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrUserExists              = &Error{Kind: KindUserExists, Message: "user already exists"}
	ErrInvalidCredentials      = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrInvalidAccessToken      = &Error{Kind: KindInvalidAccessToken, Message: "invalid access token"}
	ErrInvalidRefreshToken     = &Error{Kind: KindInvalidRefreshToken, Message: "invalid refresh token"}
	ErrNotAuthenticated        = &Error{Kind: KindNotAuthenticated, Message: "not authenticated"}
	ErrInsufficientPermissions = &Error{Kind: KindInsufficientPermissions, Message: "insufficient permissions"}
	ErrUserNotFound            = &Error{Kind: KindUserNotFound, Message: "user not found"}
	ErrInternal                = &Error{Kind: KindInternal, Message: "internal error"}
)

// KindOf reports the kind carried by err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ValidationError builds a validation failure with per-field detail.
func ValidationError(fields map[string]string) *Error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Error{
		Kind:    KindValidation,
		Message: "invalid fields: " + strings.Join(keys, ", "),
		Fields:  fields,
	}
}

func internalError(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: op + " failed", cause: cause}
}
