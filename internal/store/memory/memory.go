// Package memory provides mutex-guarded in-memory repositories for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/ids"
)

// Store implements auth.UserRepository, auth.RoleRepository and
// auth.RefreshTokenRepository.
type Store struct {
	mu          sync.Mutex
	users       map[string]*auth.User
	byEmail     map[string]string
	roles       map[string]auth.RoleDefinition
	permissions map[string]struct{}
	tokens      map[string]*auth.RefreshCredential
	now         func() time.Time

	onRoleChange func(role string)
}

// New returns a store seeded with the built-in roles and permissions.
func New() *Store {
	s := &Store{
		users:       make(map[string]*auth.User),
		byEmail:     make(map[string]string),
		roles:       make(map[string]auth.RoleDefinition),
		permissions: make(map[string]struct{}),
		tokens:      make(map[string]*auth.RefreshCredential),
		now:         time.Now,
	}
	for _, p := range auth.BuiltinPermissions {
		s.permissions[p.Name] = struct{}{}
	}
	for _, r := range auth.BuiltinRoles {
		s.PutRole(r)
	}
	return s
}

// OnRoleChange registers fn to run after PutRole, typically
// PermissionResolver.Invalidate so cached definitions do not go stale.
func (s *Store) OnRoleChange(fn func(role string)) {
	s.mu.Lock()
	s.onRoleChange = fn
	s.mu.Unlock()
}

// PutRole adds or replaces a role definition.
func (s *Store) PutRole(def auth.RoleDefinition) {
	s.mu.Lock()
	def.Permissions = append([]string(nil), def.Permissions...)
	for _, p := range def.Permissions {
		s.permissions[p] = struct{}{}
	}
	s.roles[def.Name] = def
	notify := s.onRoleChange
	s.mu.Unlock()

	if notify != nil {
		notify(def.Name)
	}
}

// DeleteUser removes a user and its refresh credentials.
func (s *Store) DeleteUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return
	}
	delete(s.byEmail, u.Email)
	delete(s.users, id)
	for h, t := range s.tokens {
		if t.UserID == id {
			delete(s.tokens, h)
		}
	}
}

// TokenCount reports how many refresh credentials are stored.
func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Store) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[u.Email]; exists {
		return fmt.Errorf("user %s: %w", u.Email, auth.ErrConflict)
	}
	now := s.now().UTC()
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = cloneUser(u)
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, auth.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, auth.ErrNotFound)
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return s.mutateUser(id, func(u *auth.User) {
		t := at
		u.LastLoginAt = &t
	})
}

func (s *Store) AssignRole(_ context.Context, userID, role string) error {
	return s.mutateUser(userID, func(u *auth.User) {
		u.Roles = addUnique(u.Roles, role)
	})
}

func (s *Store) RevokeRole(_ context.Context, userID, role string) error {
	return s.mutateUser(userID, func(u *auth.User) {
		u.Roles = remove(u.Roles, role)
	})
}

func (s *Store) GrantPermission(_ context.Context, userID, permission string) error {
	return s.mutateUser(userID, func(u *auth.User) {
		u.DirectPermissions = addUnique(u.DirectPermissions, permission)
	})
}

func (s *Store) RevokePermission(_ context.Context, userID, permission string) error {
	return s.mutateUser(userID, func(u *auth.User) {
		u.DirectPermissions = remove(u.DirectPermissions, permission)
	})
}

func (s *Store) FindRole(_ context.Context, name string) (*auth.RoleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.roles[name]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", name, auth.ErrNotFound)
	}
	def.Permissions = append([]string(nil), def.Permissions...)
	return &def, nil
}

func (s *Store) PermissionExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.permissions[name]
	return ok, nil
}

func (s *Store) Persist(_ context.Context, cred *auth.RefreshCredential) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(cred)
}

func (s *Store) FindByToken(_ context.Context, tokenHash string) (*auth.RefreshCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenHash]
	if !ok {
		return nil, fmt.Errorf("refresh token: %w", auth.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ConsumeByToken(_ context.Context, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tokenHash]; !ok {
		return false, nil
	}
	delete(s.tokens, tokenHash)
	return true, nil
}

func (s *Store) Rotate(_ context.Context, oldHash string, next *auth.RefreshCredential) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[oldHash]; !ok {
		return false, nil
	}
	if _, dup := s.tokens[next.TokenHash]; dup {
		return false, fmt.Errorf("refresh token: %w", auth.ErrConflict)
	}
	delete(s.tokens, oldHash)
	if _, err := s.insertLocked(next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, h)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteForUserAndToken(_ context.Context, userID, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenHash]
	if !ok || t.UserID != userID {
		return false, nil
	}
	delete(s.tokens, tokenHash)
	return true, nil
}

func (s *Store) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, t := range s.tokens {
		if !t.ExpiresAt.After(before) {
			delete(s.tokens, h)
			n++
		}
	}
	return n, nil
}

func (s *Store) insertLocked(cred *auth.RefreshCredential) (string, error) {
	if _, dup := s.tokens[cred.TokenHash]; dup {
		return "", fmt.Errorf("refresh token: %w", auth.ErrConflict)
	}
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = s.now().UTC()
	}
	cp := *cred
	s.tokens[cred.TokenHash] = &cp
	return cred.ID, nil
}

func (s *Store) mutateUser(id string, fn func(*auth.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, auth.ErrNotFound)
	}
	fn(u)
	u.UpdatedAt = s.now().UTC()
	return nil
}

func cloneUser(u *auth.User) *auth.User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	cp.DirectPermissions = append([]string(nil), u.DirectPermissions...)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp
}

func addUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
