package pgconfig

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/packlane/pointsync/internal/models"
	"github.com/pkg/errors"
)

// GlobalShopID marks a configuration row that is not scoped to any shop.
const GlobalShopID = 0

// Get returns the newest value stored under name for the given shop. The
// second return is false when no row exists.
func (s *Storage) Get(ctx context.Context, name string, shopID uint64) (string, bool, error) {
	var value string
	err := s.db.QueryRow(ctx, `
SELECT value FROM configuration
WHERE name = $1 AND shop_id = $2
ORDER BY id DESC
LIMIT 1
`, name, shopID).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "select configuration")
	}
	return value, true, nil
}

func (s *Storage) GetGlobal(ctx context.Context, name string) (string, bool, error) {
	return s.Get(ctx, name, GlobalShopID)
}

// Insert adds a new row even when rows for name+shop already exist. Panel
// callbacks are persisted this way; the intake removes superseded rows
// afterwards. Returns the new row id.
func (s *Storage) Insert(ctx context.Context, name string, shopID uint64, value string) (uint64, error) {
	now := time.Now().UTC()
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO configuration (name, shop_id, value, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
RETURNING id
`, name, shopID, value, now).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert configuration")
	}
	return id, nil
}

// Set updates the newest row for name+shop, or inserts one when none exists.
// Engine-owned keys (tracking state, connection settings) go through here so
// they never accumulate duplicates themselves.
func (s *Storage) Set(ctx context.Context, name string, shopID uint64, value string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE configuration SET value = $3, updated_at = $4
WHERE id = (
  SELECT id FROM configuration WHERE name = $1 AND shop_id = $2 ORDER BY id DESC LIMIT 1
)
`, name, shopID, value, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "update configuration")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = s.Insert(ctx, name, shopID, value)
	return err
}

func (s *Storage) SetGlobal(ctx context.Context, name, value string) error {
	return s.Set(ctx, name, GlobalShopID, value)
}

// DeleteByName removes every row with the given name across all shops.
func (s *Storage) DeleteByName(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM configuration WHERE name = $1`, name)
	return errors.Wrap(err, "delete configuration by name")
}

// DeleteForShop removes every row with the given name for one shop only.
func (s *Storage) DeleteForShop(ctx context.Context, name string, shopID uint64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM configuration WHERE name = $1 AND shop_id = $2`, name, shopID)
	return errors.Wrap(err, "delete configuration for shop")
}

// DeleteByPrefix removes every row whose name starts with prefix. Used when
// the whole integration is torn down.
func (s *Storage) DeleteByPrefix(ctx context.Context, prefix string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM configuration WHERE name LIKE $1 || '%'`, prefix)
	return errors.Wrap(err, "delete configuration by prefix")
}

// DeleteOrphans removes all rows sharing name+shop except keepID. Repeated
// failed panel writes leave such rows behind; keeping more than one makes
// "newest value" reads ambiguous.
func (s *Storage) DeleteOrphans(ctx context.Context, name string, shopID uint64, keepID uint64) error {
	_, err := s.db.Exec(ctx, `
DELETE FROM configuration
WHERE name = $1 AND shop_id = $2 AND id != $3
`, name, shopID, keepID)
	return errors.Wrap(err, "delete orphan configurations")
}

// ListByPrefix returns the newest row per (name, shop) among rows whose name
// starts with prefix.
func (s *Storage) ListByPrefix(ctx context.Context, prefix string) ([]*models.ConfigEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT ON (name, shop_id) id, name, shop_id, value
FROM configuration
WHERE name LIKE $1 || '%'
ORDER BY name, shop_id, id DESC
`, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "select configurations by prefix")
	}
	defer rows.Close()

	var out []*models.ConfigEntry
	for rows.Next() {
		var e models.ConfigEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.ShopID, &e.Value); err != nil {
			return nil, errors.Wrap(err, "scan configuration")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CountByNameElsewhere counts shop-scoped rows with the given name belonging
// to shops other than excludeShopID. A positive count means another shop
// still depends on the configuration.
func (s *Storage) CountByNameElsewhere(ctx context.Context, name string, excludeShopID uint64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(1) FROM configuration
WHERE name = $1 AND shop_id != $2 AND shop_id != $3
`, name, excludeShopID, GlobalShopID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count configurations elsewhere")
	}
	return n, nil
}
