package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/ids"
)

const selectUser = `
		select u.id, u.email, coalesce(u.username, ''), u.first_name, u.last_name,
		       u.password_hash, u.last_login_at, u.created_at, u.updated_at,
		       coalesce((select string_agg(ur.role_name, ',' order by ur.assigned_at, ur.role_name)
		                 from user_roles ur where ur.user_id = u.id), ''),
		       coalesce((select string_agg(up.permission_name, ',' order by up.permission_name)
		                 from user_permissions up where up.user_id = u.id), '')
		from users u
	`

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		insert into users (id, email, username, first_name, last_name, password_hash)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, u.ID, u.Email, nullIfEmpty(u.Username), u.FirstName, u.LastName, u.PasswordHash).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, auth.ErrConflict)
		}
		return err
	}
	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_name) values ($1, $2)
			on conflict do nothing
		`, u.ID, role); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("role %s: %w", role, auth.ErrNotFound)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return s.findUser(ctx, selectUser+` where u.id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findUser(ctx, selectUser+` where u.email = $1`, email)
}

func (s *Store) findUser(ctx context.Context, query, arg string) (*auth.User, error) {
	var (
		u           auth.User
		lastLogin   sql.NullTime
		roles, perm string
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName,
		&u.PasswordHash, &lastLogin, &u.CreatedAt, &u.UpdatedAt,
		&roles, &perm,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", arg, auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	u.Roles = splitList(roles)
	u.DirectPermissions = splitList(perm)
	return &u, nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set last_login_at = $2, updated_at = $2 where id = $1
	`, id, at)
	if err != nil {
		return err
	}
	return expectRow(res, "user "+id)
}

func (s *Store) AssignRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_name) values ($1, $2)
		on conflict do nothing
	`, userID, role)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("user %s or role %s: %w", userID, role, auth.ErrNotFound)
	}
	return err
}

func (s *Store) RevokeRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_name = $2
	`, userID, role)
	if err != nil {
		return err
	}
	return s.noopUnlessMissing(ctx, res, userID)
}

func (s *Store) GrantPermission(ctx context.Context, userID, permission string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions (user_id, permission_name) values ($1, $2)
		on conflict do nothing
	`, userID, permission)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("user %s or permission %s: %w", userID, permission, auth.ErrNotFound)
	}
	return err
}

func (s *Store) RevokePermission(ctx context.Context, userID, permission string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_permissions where user_id = $1 and permission_name = $2
	`, userID, permission)
	if err != nil {
		return err
	}
	return s.noopUnlessMissing(ctx, res, userID)
}

// noopUnlessMissing treats a delete that matched nothing as success, unless
// the user itself does not exist.
func (s *Store) noopUnlessMissing(ctx context.Context, res sql.Result, userID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from users where id = $1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("user %s: %w", userID, auth.ErrNotFound)
	}
	return nil
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, auth.ErrNotFound)
	}
	return nil
}
