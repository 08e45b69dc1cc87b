package pgconfig

import (
	"context"

	"github.com/pkg/errors"
)

// CreateAPIKey registers a webservice credential and returns its id. The key
// value itself is issued by the caller.
func (s *Storage) CreateAPIKey(ctx context.Context, key, description string) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
		INSERT INTO api_keys (key, description, active, created_at)
		VALUES ($1, $2, TRUE, NOW())
		RETURNING id`,
		key, description,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert api key")
	}
	return id, nil
}

func (s *Storage) APIKeyExists(ctx context.Context, id uint64) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM api_keys WHERE id = $1 AND active)`, id,
	).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "check api key")
	}
	return ok, nil
}

func (s *Storage) DeleteAPIKey(ctx context.Context, id uint64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "delete api key")
	}
	return nil
}
