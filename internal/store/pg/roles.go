package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taxpilot.io/internal/auth"
)

func (s *Store) FindRole(ctx context.Context, name string) (*auth.RoleDefinition, error) {
	var (
		def   auth.RoleDefinition
		perms string
	)
	err := s.db.QueryRowContext(ctx, `
		select r.name, coalesce(r.description, ''),
		       coalesce((select string_agg(rp.permission_name, ',' order by rp.permission_name)
		                 from role_permissions rp where rp.role_name = r.name), '')
		from roles r
		where r.name = $1
	`, name).Scan(&def.Name, &def.Description, &perms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", name, auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	def.Permissions = splitList(perms)
	return &def, nil
}

func (s *Store) PermissionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from permissions where name = $1)`, name).Scan(&exists)
	return exists, err
}

// EnsureCatalog upserts the built-in permissions and roles. It is idempotent.
func (s *Store) EnsureCatalog(ctx context.Context, perms []auth.Permission, roles []auth.RoleDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (name, description) values ($1, $2)
			on conflict (name) do update set description = excluded.description
		`, p.Name, p.Description); err != nil {
			return fmt.Errorf("ensure permission %s: %w", p.Name, err)
		}
	}
	for _, r := range roles {
		if _, err := tx.ExecContext(ctx, `
			insert into roles (name, description) values ($1, $2)
			on conflict (name) do update set description = excluded.description
		`, r.Name, r.Description); err != nil {
			return fmt.Errorf("ensure role %s: %w", r.Name, err)
		}
		for _, p := range r.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (role_name, permission_name) values ($1, $2)
				on conflict do nothing
			`, r.Name, p); err != nil {
				return fmt.Errorf("ensure role %s permission %s: %w", r.Name, p, err)
			}
		}
	}
	return tx.Commit()
}
