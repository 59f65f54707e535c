package auth

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type fakeUsers struct {
	UserRepository
	users map[string]*User
	calls int
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*User, error) {
	f.calls++
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type fakeRoles struct {
	defs  map[string]RoleDefinition
	err   error
	calls int
}

func (f *fakeRoles) FindRole(_ context.Context, name string) (*RoleDefinition, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	def, ok := f.defs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &def, nil
}

func (f *fakeRoles) PermissionExists(context.Context, string) (bool, error) { return true, nil }

func newFakeRoles() *fakeRoles {
	return &fakeRoles{defs: map[string]RoleDefinition{
		RoleAuthor: {Name: RoleAuthor, Permissions: []string{PermCreatePost, PermEditPost}},
		RoleEditor: {Name: RoleEditor, Permissions: []string{PermEditPost, PermPublishPost, PermDeletePost}},
	}}
}

func TestResolveAuthorWithDirectGrant(t *testing.T) {
	users := &fakeUsers{users: map[string]*User{
		"u1": {ID: "u1", Roles: []string{RoleAuthor}, DirectPermissions: []string{PermDeletePost}},
	}}
	r := NewPermissionResolver(users, newFakeRoles())
	got, err := r.Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{PermCreatePost, PermDeletePost, PermEditPost}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolveIgnoresOrderAndDedupes(t *testing.T) {
	users := &fakeUsers{users: map[string]*User{
		"a": {ID: "a", Roles: []string{RoleAuthor, RoleEditor}, DirectPermissions: []string{PermEditPost}},
		"b": {ID: "b", Roles: []string{RoleEditor, RoleAuthor}, DirectPermissions: []string{PermEditPost}},
	}}
	r := NewPermissionResolver(users, newFakeRoles())
	a, err := r.Resolve(context.Background(), "a")
	if err != nil {
		t.Fatalf("resolve a: %v", err)
	}
	b, err := r.Resolve(context.Background(), "b")
	if err != nil {
		t.Fatalf("resolve b: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("order changed result: %v vs %v", a, b)
	}
	seen := map[string]bool{}
	for _, p := range a {
		if seen[p] {
			t.Fatalf("duplicate permission %q in %v", p, a)
		}
		seen[p] = true
	}
	if len(a) != 4 {
		t.Fatalf("expected 4 permissions, got %v", a)
	}
}

func TestResolveUnknownRoleContributesNothing(t *testing.T) {
	users := &fakeUsers{users: map[string]*User{
		"u1": {ID: "u1", Roles: []string{"GHOST"}},
	}}
	r := NewPermissionResolver(users, newFakeRoles())
	got, err := r.Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}

func TestResolveMissingUser(t *testing.T) {
	r := NewPermissionResolver(&fakeUsers{users: map[string]*User{}}, newFakeRoles())
	if _, err := r.Resolve(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.HasPermission(context.Background(), "nope", PermEditPost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveRoleStoreFailure(t *testing.T) {
	users := &fakeUsers{users: map[string]*User{"u1": {ID: "u1", Roles: []string{RoleAuthor}}}}
	roles := newFakeRoles()
	roles.err = errors.New("db down")
	r := NewPermissionResolver(users, roles)
	if _, err := r.Resolve(context.Background(), "u1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestHasPermissionAndRole(t *testing.T) {
	users := &fakeUsers{users: map[string]*User{
		"u1": {ID: "u1", Roles: []string{RoleAuthor}, DirectPermissions: []string{PermViewUsers}},
	}}
	roles := newFakeRoles()
	r := NewPermissionResolver(users, roles)
	ctx := context.Background()

	ok, err := r.HasPermission(ctx, "u1", PermViewUsers)
	if err != nil || !ok {
		t.Fatalf("direct grant: ok=%v err=%v", ok, err)
	}
	if roles.calls != 0 {
		t.Fatalf("direct grant should not load roles, got %d calls", roles.calls)
	}
	ok, err = r.HasPermission(ctx, "u1", PermEditPost)
	if err != nil || !ok {
		t.Fatalf("role grant: ok=%v err=%v", ok, err)
	}
	ok, err = r.HasPermission(ctx, "u1", PermManageUsers)
	if err != nil || ok {
		t.Fatalf("missing grant: ok=%v err=%v", ok, err)
	}

	ok, err = r.HasAnyRole(ctx, "u1", RoleAdmin, RoleAuthor)
	if err != nil || !ok {
		t.Fatalf("HasAnyRole: ok=%v err=%v", ok, err)
	}
	ok, err = r.HasAnyRole(ctx, "u1", RoleAdmin)
	if err != nil || ok {
		t.Fatalf("HasAnyRole admin: ok=%v err=%v", ok, err)
	}
	ok, err = r.HasAnyRole(ctx, "u1")
	if err != nil || ok {
		t.Fatalf("HasAnyRole empty: ok=%v err=%v", ok, err)
	}
}

func TestRoleCacheReadsAssignmentsFresh(t *testing.T) {
	users := &fakeUsers{users: map[string]*User{
		"u1": {ID: "u1", Roles: []string{RoleAuthor}},
	}}
	roles := newFakeRoles()
	r := NewPermissionResolver(users, roles, WithRoleCache(8, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, "u1"); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if roles.calls != 1 {
		t.Fatalf("expected one role load, got %d", roles.calls)
	}

	// Revoking the role takes effect immediately even with a warm cache.
	users.users["u1"].Roles = nil
	got, err := r.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no permissions after revoke, got %v", got)
	}

	users.users["u1"].Roles = []string{RoleAuthor}
	roles.defs[RoleAuthor] = RoleDefinition{Name: RoleAuthor, Permissions: []string{PermReadPost}}
	r.Invalidate(RoleAuthor)
	got, err = r.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(got, []string{PermReadPost}) {
		t.Fatalf("expected refreshed definition, got %v", got)
	}
	r.Purge()
	if _, err := r.Resolve(ctx, "u1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if roles.calls != 3 {
		t.Fatalf("expected 3 role loads, got %d", roles.calls)
	}
}
