package pgtrack

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

func (s *Storage) InsertToken(ctx context.Context, token, description string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO api_tokens (token, description, created_at)
VALUES ($1,$2,$3)
ON CONFLICT (token) DO UPDATE SET description = EXCLUDED.description, active = TRUE
`, token, description, time.Now().UTC())
	return errors.Wrap(err, "insert token")
}

func (s *Storage) RevokeToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `UPDATE api_tokens SET active = FALSE WHERE token = $1`, token)
	return errors.Wrap(err, "revoke token")
}

func (s *Storage) IsTokenValid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var ok bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM api_tokens WHERE token = $1 AND active)`, token).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "select token")
	}
	return ok, nil
}
