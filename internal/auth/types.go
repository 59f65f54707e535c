package auth

import "time"

// User is an account as stored by the persistence layer.
type User struct {
	ID                string
	Email             string
	Username          string
	FirstName         string
	LastName          string
	PasswordHash      string
	Roles             []string
	DirectPermissions []string
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PublicUser is the sanitized representation of a user. It has no secret fields.
type PublicUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username,omitempty"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Roles       []string   `json:"roles"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Sanitize strips secrets from the user.
func (u *User) Sanitize() PublicUser {
	if u == nil {
		return PublicUser{}
	}
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Roles:       roles,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// RoleDefinition is a named bundle of permissions. Seeded reference data.
type RoleDefinition struct {
	Name        string
	Description string
	Permissions []string
}

// Permission is the smallest named unit of authorization.
type Permission struct {
	Name        string
	Description string
}

// AccessPayload is the identity embedded in a signed access credential.
type AccessPayload struct {
	UserID string
	Email  string
	Roles  []string
}

// RefreshCredential is one persisted refresh token row. TokenHash is the
// SHA-256 digest of the raw token; the raw value is never stored.
type RefreshCredential struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenPair holds freshly minted credentials.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Session is the result of register and login.
type Session struct {
	User   PublicUser
	Tokens TokenPair
}

// Profile is a sanitized user with its effective permissions.
type Profile struct {
	User        PublicUser `json:"user"`
	Permissions []string   `json:"permissions"`
}

// RegisterInput carries registration fields.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Username  string
}
