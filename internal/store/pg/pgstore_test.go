package pg

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"taxpilot.io/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestCreateUserInsertsRoles(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "a@b.com", sqlmock.AnyArg(), "Ada", "Lovelace", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("insert into user_roles").
		WithArgs(sqlmock.AnyArg(), auth.RoleUser).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u := &auth.User{Email: "a@b.com", FirstName: "Ada", LastName: "Lovelace", PasswordHash: "hash", Roles: []string{auth.RoleUser}}
	if err := s.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" || !u.CreatedAt.Equal(now) {
		t.Fatalf("unexpected user %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := s.Create(context.Background(), &auth.User{Email: "a@b.com"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFindUserAggregatesGrants(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	cols := []string{"id", "email", "username", "first_name", "last_name", "password_hash",
		"last_login_at", "created_at", "updated_at", "roles", "perms"}
	mock.ExpectQuery("from users u\\s+where u.email = \\$1").
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"u1", "a@b.com", "", "Ada", "Lovelace", "hash", nil, now, now, "USER,AUTHOR", "delete_post"))

	u, err := s.FindByEmail(context.Background(), "a@b.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if !reflect.DeepEqual(u.Roles, []string{"USER", "AUTHOR"}) {
		t.Fatalf("roles = %v", u.Roles)
	}
	if !reflect.DeepEqual(u.DirectPermissions, []string{"delete_post"}) {
		t.Fatalf("permissions = %v", u.DirectPermissions)
	}
	if u.LastLoginAt != nil {
		t.Fatalf("expected nil last login, got %v", u.LastLoginAt)
	}
}

func TestFindUserNotFound(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"id"}
	mock.ExpectQuery("from users u\\s+where u.id = \\$1").WithArgs("missing").WillReturnRows(sqlmock.NewRows(cols))

	if _, err := s.FindByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateLastLoginMissingUser(t *testing.T) {
	s, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec("update users set last_login_at").WithArgs("u1", at).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.UpdateLastLogin(context.Background(), "u1", at); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRoleForeignKey(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into user_roles").
		WithArgs("ghost", auth.RoleAdmin).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	if err := s.AssignRole(context.Background(), "ghost", auth.RoleAdmin); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeUnheldRoleIsNoop(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from user_roles").WithArgs("u1", auth.RoleAdmin).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("u1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if err := s.RevokeRole(context.Background(), "u1", auth.RoleAdmin); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}

	mock.ExpectExec("delete from user_permissions").WithArgs("ghost", auth.PermEditPost).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if err := s.RevokePermission(context.Background(), "ghost", auth.PermEditPost); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindRole(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from roles r").
		WithArgs(auth.RoleAuthor).
		WillReturnRows(sqlmock.NewRows([]string{"name", "description", "perms"}).AddRow(auth.RoleAuthor, "Writes", "create_post,edit_post"))
	def, err := s.FindRole(context.Background(), auth.RoleAuthor)
	if err != nil {
		t.Fatalf("FindRole: %v", err)
	}
	if !reflect.DeepEqual(def.Permissions, []string{"create_post", "edit_post"}) {
		t.Fatalf("permissions = %v", def.Permissions)
	}

	mock.ExpectQuery("from roles r").WithArgs("NOPE").WillReturnRows(sqlmock.NewRows([]string{"name", "description", "perms"}))
	if _, err := s.FindRole(context.Background(), "NOPE"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistDuplicateDigest(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into refresh_tokens").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	_, err := s.Persist(context.Background(), &auth.RefreshCredential{UserID: "u1", TokenHash: "h", ExpiresAt: time.Now()})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestConsumeByTokenReportsRow(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from refresh_tokens where token_hash").WithArgs("h").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from refresh_tokens where token_hash").WithArgs("h").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := s.ConsumeByToken(context.Background(), "h")
	if err != nil || !first {
		t.Fatalf("first consume: %v %v", first, err)
	}
	second, err := s.ConsumeByToken(context.Background(), "h")
	if err != nil || second {
		t.Fatalf("second consume: %v %v", second, err)
	}
}

func TestRotateCommitsOnlyWhenOldRowExisted(t *testing.T) {
	s, mock := newMock(t)
	exp := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("delete from refresh_tokens where token_hash").WithArgs("old").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(sqlmock.AnyArg(), "u1", "new", exp, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next := &auth.RefreshCredential{UserID: "u1", TokenHash: "new", ExpiresAt: exp}
	ok, err := s.Rotate(context.Background(), "old", next)
	if err != nil || !ok {
		t.Fatalf("Rotate: %v %v", ok, err)
	}
	if next.ID == "" {
		t.Fatal("expected assigned id")
	}

	mock.ExpectBegin()
	mock.ExpectExec("delete from refresh_tokens where token_hash").WithArgs("old").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	ok, err = s.Rotate(context.Background(), "old", &auth.RefreshCredential{UserID: "u1", TokenHash: "newer", ExpiresAt: exp})
	if err != nil || ok {
		t.Fatalf("stale Rotate: %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeletes(t *testing.T) {
	s, mock := newMock(t)
	cutoff := time.Now()
	mock.ExpectExec("delete from refresh_tokens where user_id = \\$1$").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from refresh_tokens where user_id = \\$1 and token_hash").WithArgs("u1", "h").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from refresh_tokens where expires_at").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := s.DeleteAllForUser(context.Background(), "u1")
	if err != nil || n != 3 {
		t.Fatalf("DeleteAllForUser: %d %v", n, err)
	}
	ok, err := s.DeleteForUserAndToken(context.Background(), "u1", "h")
	if err != nil || ok {
		t.Fatalf("DeleteForUserAndToken: %v %v", ok, err)
	}
	n, err = s.DeleteExpired(context.Background(), cutoff)
	if err != nil || n != 5 {
		t.Fatalf("DeleteExpired: %d %v", n, err)
	}
}

func TestEnsureCatalogUpsertsInOneTransaction(t *testing.T) {
	s, mock := newMock(t)
	perms := []auth.Permission{{Name: auth.PermReadPost, Description: "Read"}}
	roles := []auth.RoleDefinition{{Name: auth.RoleUser, Description: "Default", Permissions: []string{auth.PermReadPost}}}

	mock.ExpectBegin()
	mock.ExpectExec("insert into permissions").WithArgs(auth.PermReadPost, "Read").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into roles").WithArgs(auth.RoleUser, "Default").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs(auth.RoleUser, auth.PermReadPost).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.EnsureCatalog(context.Background(), perms, roles); err != nil {
		t.Fatalf("EnsureCatalog: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
