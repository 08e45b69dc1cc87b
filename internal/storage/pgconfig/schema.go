package pgconfig

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		// No UNIQUE(name, shop_id) here: the host platform tolerates several
		// rows per name+shop and so must we. Readers pick the newest row,
		// the intake deletes the rest.
		`
CREATE TABLE IF NOT EXISTS configuration (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  shop_id BIGINT NOT NULL DEFAULT 0,
  value TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_configuration_name_shop ON configuration(name, shop_id)`,
		`
CREATE TABLE IF NOT EXISTS api_keys (
  id BIGSERIAL PRIMARY KEY,
  key TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
