package pgcarrier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/packlane/pointsync/internal/models"
	"github.com/pkg/errors"
)

const carrierColumns = `
  id, reference_id, name, owner_tag, tracking_url,
  active, deleted, grade,
  max_width, max_height, max_depth, max_weight,
  delay, created_at, updated_at
`

// Create inserts the first version of a new carrier lineage. The row
// references itself: reference_id = id.
func (s *Storage) Create(ctx context.Context, spec models.CarrierSpec) (*models.Carrier, error) {
	now := time.Now().UTC()

	delay, err := json.Marshal(spec.Delay)
	if err != nil {
		return nil, errors.Wrap(err, "marshal delay")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO carriers (
  reference_id, name, owner_tag, tracking_url, active, deleted, grade,
  max_width, max_height, max_depth, max_weight, delay, created_at, updated_at
)
VALUES (0, $1, $2, $3, $4, FALSE, $5, $6, $7, $8, $9, $10, $11, $11)
RETURNING id
`, spec.Name, spec.OwnerTag, spec.TrackingURL, spec.Active, spec.Grade,
		spec.MaxWidth, spec.MaxHeight, spec.MaxDepth, spec.MaxWeight, delay, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert carrier")
	}

	if _, err := tx.Exec(ctx, `UPDATE carriers SET reference_id = id WHERE id = $1`, id); err != nil {
		return nil, errors.Wrap(err, "set carrier reference")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.Get(ctx, id)
}

// Get returns one carrier version by id, or nil when it does not exist.
func (s *Storage) Get(ctx context.Context, id uint64) (*models.Carrier, error) {
	row := s.db.QueryRow(ctx, `SELECT `+carrierColumns+` FROM carriers WHERE id = $1`, id)
	c, err := scanCarrier(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select carrier")
	}
	return c, nil
}

// FindActive returns the active, non-deleted member of the lineage identified
// by referenceID and owned by ownerTag, or nil when the lineage has no active
// member. With referenceID = 0 it matches any lineage of the owner, which is
// how pre-lineage installs located their single carrier.
func (s *Storage) FindActive(ctx context.Context, ownerTag string, referenceID uint64) (*models.Carrier, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+carrierColumns+` FROM carriers
WHERE owner_tag = $1
  AND active = TRUE AND deleted = FALSE
  AND ($2 = 0 OR reference_id = $2)
ORDER BY id DESC
LIMIT 1
`, ownerTag, referenceID)
	c, err := scanCarrier(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active carrier")
	}
	return c, nil
}

// Reversion emulates a host platform edit: a new row is inserted under the
// same reference and the old row is soft-deleted. Returns the new version id.
func (s *Storage) Reversion(ctx context.Context, id uint64, newName string) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var newID uint64
	err = tx.QueryRow(ctx, `
INSERT INTO carriers (
  reference_id, name, owner_tag, tracking_url, active, deleted, grade,
  max_width, max_height, max_depth, max_weight, delay, created_at, updated_at
)
SELECT reference_id, COALESCE(NULLIF($2, ''), name), owner_tag, tracking_url,
       TRUE, FALSE, grade,
       max_width, max_height, max_depth, max_weight, delay, created_at, now()
FROM carriers WHERE id = $1
RETURNING id
`, id, newName).Scan(&newID)
	if err != nil {
		return 0, errors.Wrap(err, "insert carrier version")
	}

	if _, err := tx.Exec(ctx, `
UPDATE carriers SET deleted = TRUE, active = FALSE, updated_at = now() WHERE id = $1
`, id); err != nil {
		return 0, errors.Wrap(err, "retire old carrier version")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return newID, nil
}

// Delete soft-deletes a carrier version, matching the host platform's own
// delete semantics. Returns false when the id does not exist.
func (s *Storage) Delete(ctx context.Context, id uint64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE carriers SET deleted = TRUE, active = FALSE, updated_at = now() WHERE id = $1
`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete carrier")
	}
	return tag.RowsAffected() > 0, nil
}

// CountOwnedActive counts active, non-deleted carriers owned by ownerTag
// across all shops.
func (s *Storage) CountOwnedActive(ctx context.Context, ownerTag string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(1) FROM carriers
WHERE owner_tag = $1 AND active = TRUE AND deleted = FALSE
`, ownerTag).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count owned carriers")
	}
	return n, nil
}

// ListActiveForShop returns active, non-deleted carriers associated with the
// shop, any owner.
func (s *Storage) ListActiveForShop(ctx context.Context, shopID uint64) ([]*models.Carrier, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+carrierColumns+` FROM carriers c
JOIN carrier_shops cs ON cs.carrier_id = c.id
WHERE cs.shop_id = $1 AND c.active = TRUE AND c.deleted = FALSE
ORDER BY c.id
`, shopID)
	if err != nil {
		return nil, errors.Wrap(err, "select shop carriers")
	}
	defer rows.Close()

	var out []*models.Carrier
	for rows.Next() {
		c, err := scanCarrier(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan carrier")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanCarrier(row pgx.Row) (*models.Carrier, error) {
	var c models.Carrier
	var delay []byte
	if err := row.Scan(
		&c.ID, &c.ReferenceID, &c.Name, &c.OwnerTag, &c.TrackingURL,
		&c.Active, &c.Deleted, &c.Grade,
		&c.MaxWidth, &c.MaxHeight, &c.MaxDepth, &c.MaxWeight,
		&delay, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(delay) > 0 {
		if err := json.Unmarshal(delay, &c.Delay); err != nil {
			return nil, errors.Wrap(err, "unmarshal delay")
		}
	}
	return &c, nil
}
