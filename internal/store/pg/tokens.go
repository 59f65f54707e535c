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

func (s *Store) Persist(ctx context.Context, cred *auth.RefreshCredential) (string, error) {
	if err := insertToken(ctx, s.db, cred, s.now); err != nil {
		return "", err
	}
	return cred.ID, nil
}

func (s *Store) FindByToken(ctx context.Context, tokenHash string) (*auth.RefreshCredential, error) {
	var c auth.RefreshCredential
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at
		from refresh_tokens
		where token_hash = $1
	`, tokenHash).Scan(&c.ID, &c.UserID, &c.TokenHash, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("refresh token: %w", auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConsumeByToken is a single delete; Postgres row locking makes concurrent
// callers observe exactly one affected row between them.
func (s *Store) ConsumeByToken(ctx context.Context, tokenHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where token_hash = $1`, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) Rotate(ctx context.Context, oldHash string, next *auth.RefreshCredential) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from refresh_tokens where token_hash = $1`, oldHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := insertToken(ctx, tx, next, s.now); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteForUserAndToken(ctx context.Context, userID, tokenHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from refresh_tokens where user_id = $1 and token_hash = $2
	`, userID, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, cred *auth.RefreshCredential, now func() time.Time) error {
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, cred.ID, cred.UserID, cred.TokenHash, cred.ExpiresAt, cred.CreatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("refresh token: %w", auth.ErrConflict)
		case isForeignKeyViolation(err):
			return fmt.Errorf("user %s: %w", cred.UserID, auth.ErrNotFound)
		}
		return err
	}
	return nil
}
