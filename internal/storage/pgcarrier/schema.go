package pgcarrier

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS carriers (
  id BIGSERIAL PRIMARY KEY,
  reference_id BIGINT NOT NULL DEFAULT 0,
  name TEXT NOT NULL,
  owner_tag TEXT NOT NULL DEFAULT '',
  tracking_url TEXT NOT NULL DEFAULT '',
  active BOOLEAN NOT NULL DEFAULT TRUE,
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  grade INT NOT NULL DEFAULT 0,
  max_width DOUBLE PRECISION NOT NULL DEFAULT 0,
  max_height DOUBLE PRECISION NOT NULL DEFAULT 0,
  max_depth DOUBLE PRECISION NOT NULL DEFAULT 0,
  max_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
  delay JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_carriers_reference ON carriers(reference_id)`,
		`CREATE INDEX IF NOT EXISTS idx_carriers_owner_active ON carriers(owner_tag, active, deleted)`,
		`
CREATE TABLE IF NOT EXISTS carrier_shops (
  carrier_id BIGINT NOT NULL REFERENCES carriers(id) ON DELETE CASCADE,
  shop_id BIGINT NOT NULL,
  UNIQUE (carrier_id, shop_id)
)`,
		`
CREATE TABLE IF NOT EXISTS customer_groups (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE
)`,
		`
CREATE TABLE IF NOT EXISTS carrier_groups (
  carrier_id BIGINT NOT NULL REFERENCES carriers(id) ON DELETE CASCADE,
  group_id BIGINT NOT NULL,
  UNIQUE (carrier_id, group_id)
)`,
		`
CREATE TABLE IF NOT EXISTS zones (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE
)`,
		`
CREATE TABLE IF NOT EXISTS carrier_zones (
  carrier_id BIGINT NOT NULL REFERENCES carriers(id) ON DELETE CASCADE,
  zone_id BIGINT NOT NULL,
  UNIQUE (carrier_id, zone_id)
)`,
		`
CREATE TABLE IF NOT EXISTS carrier_price_ranges (
  id BIGSERIAL PRIMARY KEY,
  carrier_id BIGINT NOT NULL REFERENCES carriers(id) ON DELETE CASCADE,
  range_min DOUBLE PRECISION NOT NULL,
  range_max DOUBLE PRECISION NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS carrier_weight_ranges (
  id BIGSERIAL PRIMARY KEY,
  carrier_id BIGINT NOT NULL REFERENCES carriers(id) ON DELETE CASCADE,
  range_min DOUBLE PRECISION NOT NULL,
  range_max DOUBLE PRECISION NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS payment_modules (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE
)`,
		// Payment relations are keyed by lineage reference, not carrier id:
		// they must survive carrier re-versioning.
		`
CREATE TABLE IF NOT EXISTS carrier_payments (
  module_id BIGINT NOT NULL,
  shop_id BIGINT NOT NULL,
  reference_id BIGINT NOT NULL,
  UNIQUE (module_id, shop_id, reference_id)
)`,
		`
CREATE TABLE IF NOT EXISTS shop_settings (
  shop_id BIGINT PRIMARY KEY,
  default_carrier_id BIGINT NOT NULL DEFAULT 0
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
