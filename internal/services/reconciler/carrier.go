package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/packlane/pointsync/internal/models"
	"github.com/pkg/errors"
)

// createOrRestoreCarrier materializes a carrier record for a newly selected
// code. All-or-nothing for the code: tracking state is written only after the
// record and its relations are in place, so a failed create leaves no trace.
func (e *Engine) createOrRestoreCarrier(ctx context.Context, rc *requestCache, shopID uint64, code, displayName string) error {
	res, err := e.resolve(ctx, rc, shopID, code)
	if err != nil {
		return err
	}
	if res.State != ResolutionAbsent {
		// Already materialized; only the shop relation may be missing.
		return errors.Wrap(e.carriers.EnsureShopAssociation(ctx, res.Carrier.ID, shopID), "ensure shop association")
	}

	c, err := e.carriers.Create(ctx, e.carrierSpec(code, displayName))
	if err != nil {
		return errors.Wrap(err, "create carrier")
	}

	if err := e.synchronize(ctx, shopID, c); err != nil {
		return err
	}

	if err := e.saveTracked(ctx, rc, code, models.TrackedCarrier{
		LastKnownID: c.ID,
		ReferenceID: c.ReferenceID,
	}); err != nil {
		return err
	}

	slog.Info("carrier materialized", "shop", shopID, "code", code, "carrier", c.ID)
	return nil
}

// carrierSpec builds the fixed default carrier configuration for a code. The
// panel display name is appended so merchants can tell several service point
// carriers apart.
func (e *Engine) carrierSpec(code, displayName string) models.CarrierSpec {
	name := models.DelayLabels[models.DefaultLocale]
	if displayName != "" {
		name = fmt.Sprintf("%s (%s)", name, displayName)
	}

	delay := make(map[string]string, len(models.DelayLabels))
	for locale, label := range models.DelayLabels {
		delay[locale] = label
	}

	return models.CarrierSpec{
		Name:        name,
		OwnerTag:    e.ownerTag,
		TrackingURL: e.trackingURL,
		Active:      true,
		Grade:       e.defaults.Grade,
		MaxWidth:    e.defaults.MaxWidth,
		MaxHeight:   e.defaults.MaxHeight,
		MaxDepth:    e.defaults.MaxDepth,
		MaxWeight:   e.defaults.WeightRangeMax,
		Delay:       delay,
	}
}

// removeCarrier decommissions the carrier record of a deselected code. The
// record survives when it is the only viable default carrier of the shop, or
// when another shop still selects the same code (unless force).
func (e *Engine) removeCarrier(ctx context.Context, rc *requestCache, shopID uint64, code string, force bool) error {
	res, err := e.resolve(ctx, rc, shopID, code)
	if err != nil {
		return err
	}
	if res.State == ResolutionAbsent {
		// The code may never have been materialized, or the record is gone
		// already. Stray tracking rows still need to go.
		return e.deleteTracked(ctx, rc, code)
	}
	c := res.Carrier

	defaultID, err := e.carriers.DefaultCarrier(ctx, shopID)
	if err != nil {
		return errors.Wrap(err, "read default carrier")
	}
	if defaultID == c.ID {
		if err := e.reassignDefaultCarrier(ctx, shopID, c.ID); err != nil {
			// Deleting anyway would leave the shop without any usable
			// default carrier; keep the record instead.
			return err
		}
	}

	if !force {
		used, err := e.codeSelectedElsewhere(ctx, shopID, code)
		if err != nil {
			return err
		}
		if used {
			slog.Info("carrier still selected by another shop, keeping", "shop", shopID, "code", code)
			return nil
		}
	}

	removed, err := e.carriers.Delete(ctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "delete carrier")
	}
	if !removed {
		return errors.Errorf("carrier %d was not deleted", c.ID)
	}
	if err := e.deleteTracked(ctx, rc, code); err != nil {
		return err
	}
	slog.Info("carrier removed", "shop", shopID, "code", code, "carrier", c.ID)

	// With the last owned carrier gone, a lingering script configuration
	// would make the feature look enabled while nothing can be selected.
	remaining, err := e.carriers.CountOwnedActive(ctx, e.ownerTag)
	if err != nil {
		return errors.Wrap(err, "count owned carriers")
	}
	if remaining == 0 {
		if err := e.cfg.DeleteForShop(ctx, KeyScript, shopID); err != nil {
			return errors.Wrap(err, "purge script config")
		}
	}
	return nil
}

// reassignDefaultCarrier moves the shop default off the given carrier to any
// other active one. Fails with ErrNoDefaultFallback when no candidate exists.
func (e *Engine) reassignDefaultCarrier(ctx context.Context, shopID, excludeID uint64) error {
	others, err := e.carriers.ListActiveForShop(ctx, shopID)
	if err != nil {
		return errors.Wrap(err, "list shop carriers")
	}
	for _, other := range others {
		if other.ID == excludeID {
			continue
		}
		if err := e.carriers.SetDefaultCarrier(ctx, shopID, other.ID); err != nil {
			return errors.Wrap(err, "set default carrier")
		}
		slog.Info("default carrier reassigned", "shop", shopID, "carrier", other.ID)
		return nil
	}
	return ErrNoDefaultFallback
}

// codeSelectedElsewhere reports whether any other shop's selection still
// contains code. Shops share carrier lineages, so a record in use elsewhere
// must survive this shop deselecting it. Single-shop installs settle on the
// row count alone; only multi-shop setups pay for the selection scan.
func (e *Engine) codeSelectedElsewhere(ctx context.Context, shopID uint64, code string) (bool, error) {
	n, err := e.cfg.CountByNameElsewhere(ctx, KeySelected, shopID)
	if err != nil {
		return false, errors.Wrap(err, "count selections")
	}
	if n == 0 {
		return false, nil
	}

	entries, err := e.cfg.ListByPrefix(ctx, KeySelected)
	if err != nil {
		return false, errors.Wrap(err, "list selections")
	}
	for _, entry := range entries {
		if entry.Name != KeySelected || entry.ShopID == shopID {
			continue
		}
		var sel models.SelectedCarriers
		if err := json.Unmarshal([]byte(entry.Value), &sel); err != nil {
			continue
		}
		if _, ok := sel[code]; ok {
			return true, nil
		}
	}
	return false, nil
}
