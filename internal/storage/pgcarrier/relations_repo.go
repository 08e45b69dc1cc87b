package pgcarrier

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// EnsureShopAssociation links a carrier version to a shop. The existence
// check comes first on purpose: a concurrent writer may have inserted the row
// between two callbacks and the storage layer is the only consistency
// boundary we have.
func (s *Storage) EnsureShopAssociation(ctx context.Context, carrierID, shopID uint64) error {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(1) FROM carrier_shops WHERE carrier_id = $1 AND shop_id = $2
`, carrierID, shopID).Scan(&n)
	if err != nil {
		return errors.Wrap(err, "check carrier shop")
	}
	if n > 0 {
		return nil
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO carrier_shops (carrier_id, shop_id) VALUES ($1, $2)
ON CONFLICT (carrier_id, shop_id) DO NOTHING
`, carrierID, shopID)
	return errors.Wrap(err, "insert carrier shop")
}

// AssociatedShops lists the shops a carrier version is enabled for.
func (s *Storage) AssociatedShops(ctx context.Context, carrierID uint64) ([]uint64, error) {
	rows, err := s.db.Query(ctx, `SELECT shop_id FROM carrier_shops WHERE carrier_id = $1`, carrierID)
	if err != nil {
		return nil, errors.Wrap(err, "select carrier shops")
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan shop id")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// EnsureGroups gives the carrier its customer-group visibility. Groups the
// carrier already carries are kept; with none, every active customer group is
// attached as the default.
func (s *Storage) EnsureGroups(ctx context.Context, carrierID uint64) error {
	rows, err := s.db.Query(ctx, `
SELECT g.id FROM customer_groups g
WHERE g.active = TRUE
  AND NOT EXISTS (
    SELECT 1 FROM carrier_groups cg WHERE cg.carrier_id = $1 AND cg.group_id = g.id
  )
`, carrierID)
	if err != nil {
		return errors.Wrap(err, "select missing groups")
	}
	defer rows.Close()

	var missing []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return errors.Wrap(err, "scan group id")
		}
		missing = append(missing, id)
	}
	if rows.Err() != nil {
		return errors.Wrap(rows.Err(), "rows")
	}

	for _, gid := range missing {
		_, err := s.db.Exec(ctx, `
INSERT INTO carrier_groups (carrier_id, group_id) VALUES ($1, $2)
ON CONFLICT (carrier_id, group_id) DO NOTHING
`, carrierID, gid)
		if err != nil {
			return errors.Wrap(err, "insert carrier group")
		}
	}
	return nil
}

// EnsureZones attaches the carrier version to every active shipping zone it
// does not cover yet. A carrier without a zone cannot be offered at checkout,
// so new versions default to full coverage.
func (s *Storage) EnsureZones(ctx context.Context, carrierID uint64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO carrier_zones (carrier_id, zone_id)
SELECT $1, z.id FROM zones z WHERE z.active = TRUE
ON CONFLICT (carrier_id, zone_id) DO NOTHING
`, carrierID)
	return errors.Wrap(err, "insert carrier zones")
}

// HasZones reports whether the carrier version covers at least one shipping
// zone.
func (s *Storage) HasZones(ctx context.Context, carrierID uint64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM carrier_zones WHERE carrier_id = $1)
`, carrierID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check carrier zones")
	}
	return exists, nil
}

// EnsureDefaultRanges creates the default price and weight brackets for a
// carrier, skipping each when an equal or overlapping range already exists.
func (s *Storage) EnsureDefaultRanges(ctx context.Context, carrierID uint64, priceMin, priceMax, weightMin, weightMax float64) error {
	if err := s.ensureRange(ctx, "carrier_price_ranges", carrierID, priceMin, priceMax); err != nil {
		return err
	}
	return s.ensureRange(ctx, "carrier_weight_ranges", carrierID, weightMin, weightMax)
}

func (s *Storage) ensureRange(ctx context.Context, table string, carrierID uint64, min, max float64) error {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(1) FROM `+table+`
WHERE carrier_id = $1 AND range_min < $3 AND range_max > $2
`, carrierID, min, max).Scan(&n)
	if err != nil {
		return errors.Wrap(err, "check range overlap")
	}
	if n > 0 {
		return nil
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO `+table+` (carrier_id, range_min, range_max) VALUES ($1, $2, $3)
`, carrierID, min, max)
	return errors.Wrap(err, "insert range")
}

// IsPaymentRestricted reports whether a carrier lineage has no payment module
// relation for the shop. The lookup matches both the version id and the
// lineage reference because a freshly inserted version may not expose its
// reference yet.
func (s *Storage) IsPaymentRestricted(ctx context.Context, carrierID, referenceID, shopID uint64) (bool, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(1) FROM carrier_payments
WHERE shop_id = $1 AND (reference_id = $2 OR reference_id = $3)
`, shopID, carrierID, referenceID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "check carrier payments")
	}
	return n == 0, nil
}

// BackfillPayments relates every active payment module to the carrier lineage
// for the shop. Used when a lineage ends up with no payment relation at all,
// which would hide the carrier at checkout.
func (s *Storage) BackfillPayments(ctx context.Context, referenceID, shopID uint64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO carrier_payments (module_id, shop_id, reference_id)
SELECT id, $2, $1 FROM payment_modules WHERE active = TRUE
ON CONFLICT (module_id, shop_id, reference_id) DO NOTHING
`, referenceID, shopID)
	return errors.Wrap(err, "backfill carrier payments")
}

// DefaultCarrier returns the shop's default carrier id, 0 when unset.
func (s *Storage) DefaultCarrier(ctx context.Context, shopID uint64) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
SELECT default_carrier_id FROM shop_settings WHERE shop_id = $1
`, shopID).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "select default carrier")
	}
	return id, nil
}

// SetDefaultCarrier records the shop's default carrier.
func (s *Storage) SetDefaultCarrier(ctx context.Context, shopID, carrierID uint64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO shop_settings (shop_id, default_carrier_id) VALUES ($1, $2)
ON CONFLICT (shop_id) DO UPDATE SET default_carrier_id = EXCLUDED.default_carrier_id
`, shopID, carrierID)
	return errors.Wrap(err, "set default carrier")
}
