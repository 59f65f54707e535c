package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PermissionResolver computes effective permissions from assigned roles plus
// direct grants. User assignments are read on every call; only role
// definitions may be cached, and the cache is dropped through Invalidate or
// Purge when definitions change.
type PermissionResolver struct {
	users UserRepository
	roles RoleRepository
	cache *expirable.LRU[string, RoleDefinition]
}

// ResolverOption configures PermissionResolver.
type ResolverOption func(*PermissionResolver)

// WithRoleCache caches up to size role definitions for ttl.
func WithRoleCache(size int, ttl time.Duration) ResolverOption {
	return func(r *PermissionResolver) {
		if size <= 0 {
			return
		}
		r.cache = expirable.NewLRU[string, RoleDefinition](size, nil, ttl)
	}
}

func NewPermissionResolver(users UserRepository, roles RoleRepository, opts ...ResolverOption) *PermissionResolver {
	r := &PermissionResolver{users: users, roles: roles}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the user's deduplicated permission names in sorted order.
func (r *PermissionResolver) Resolve(ctx context.Context, userID string) ([]string, error) {
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	set, err := r.permissionSet(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// HasPermission reports whether name is in the user's effective set. Direct
// grants are checked before any role is loaded.
func (r *PermissionResolver) HasPermission(ctx context.Context, userID, name string) (bool, error) {
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range user.DirectPermissions {
		if p == name {
			return true, nil
		}
	}
	for _, roleName := range user.Roles {
		def, ok, err := r.role(ctx, roleName)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		for _, p := range def.Permissions {
			if p == name {
				return true, nil
			}
		}
	}
	return false, nil
}

// HasAnyRole reports whether the user holds at least one of roles.
func (r *PermissionResolver) HasAnyRole(ctx context.Context, userID string, roles ...string) (bool, error) {
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, held := range user.Roles {
		for _, want := range roles {
			if held == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// Invalidate drops a cached role definition.
func (r *PermissionResolver) Invalidate(role string) {
	if r.cache != nil {
		r.cache.Remove(role)
	}
}

// Purge drops every cached role definition.
func (r *PermissionResolver) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

func (r *PermissionResolver) permissionSet(ctx context.Context, user *User) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, roleName := range user.Roles {
		def, ok, err := r.role(ctx, roleName)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, p := range def.Permissions {
			set[p] = struct{}{}
		}
	}
	for _, p := range user.DirectPermissions {
		set[p] = struct{}{}
	}
	return set, nil
}

// role loads a definition; unknown roles contribute nothing.
func (r *PermissionResolver) role(ctx context.Context, name string) (RoleDefinition, bool, error) {
	if r.cache != nil {
		if def, ok := r.cache.Get(name); ok {
			return def, true, nil
		}
	}
	def, err := r.roles.FindRole(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return RoleDefinition{}, false, nil
	}
	if err != nil {
		return RoleDefinition{}, false, fmt.Errorf("load role %s: %w", name, err)
	}
	if r.cache != nil {
		r.cache.Add(name, *def)
	}
	return *def, true, nil
}
