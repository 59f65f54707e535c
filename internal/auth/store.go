package auth

import (
	"context"
	"time"
)

// UserRepository manages user accounts and their role and permission grants.
type UserRepository interface {
	// Create stores u, assigning ID and timestamps. Duplicate email returns ErrConflict.
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	AssignRole(ctx context.Context, userID, role string) error
	RevokeRole(ctx context.Context, userID, role string) error
	GrantPermission(ctx context.Context, userID, permission string) error
	RevokePermission(ctx context.Context, userID, permission string) error
}

// RoleRepository reads seeded role and permission reference data.
type RoleRepository interface {
	FindRole(ctx context.Context, name string) (*RoleDefinition, error)
	PermissionExists(ctx context.Context, name string) (bool, error)
}

// RefreshTokenRepository persists refresh credentials keyed by token digest.
type RefreshTokenRepository interface {
	// Persist inserts cred and returns its row id. A duplicate digest returns ErrConflict.
	Persist(ctx context.Context, cred *RefreshCredential) (string, error)
	FindByToken(ctx context.Context, tokenHash string) (*RefreshCredential, error)
	// ConsumeByToken deletes the row and reports whether it existed.
	ConsumeByToken(ctx context.Context, tokenHash string) (bool, error)
	// Rotate deletes oldHash and inserts next atomically. It reports false and
	// inserts nothing when oldHash was already gone.
	Rotate(ctx context.Context, oldHash string, next *RefreshCredential) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteForUserAndToken(ctx context.Context, userID, tokenHash string) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is one audit record handed to an AuditLogger.
type AuditEntry struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Metadata   map[string]any
	OccurredAt time.Time
}

// AuditLogger receives audit events. Failures never fail the calling operation.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEntry) error { return nil }

// Audit actions.
const (
	ActionRegister         = "user.register"
	ActionLogin            = "user.login"
	ActionLoginFailed      = "user.login_failed"
	ActionRefresh          = "user.refresh"
	ActionLogout           = "user.logout"
	ActionLogoutAll        = "user.logout_all"
	ActionRoleAssign       = "rbac.role.assign"
	ActionRoleRevoke       = "rbac.role.revoke"
	ActionPermissionGrant  = "rbac.permission.grant"
	ActionPermissionRevoke = "rbac.permission.revoke"
)
