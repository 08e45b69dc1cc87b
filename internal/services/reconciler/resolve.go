package reconciler

import (
	"context"
	"log/slog"

	"github.com/packlane/pointsync/internal/models"
	"github.com/pkg/errors"
)

// ResolutionState tags the outcome of resolving a carrier code against the
// carrier store.
type ResolutionState int

const (
	// ResolutionAbsent: no active owned record exists for the code's lineage.
	ResolutionAbsent ResolutionState = iota
	// ResolutionResolved: the tracked pointer matches the active record.
	ResolutionResolved
	// ResolutionDesynced: the host platform re-versioned the carrier behind
	// our back; the tracked pointer has been repaired.
	ResolutionDesynced
)

// Resolution is the result of a Resolve call. Carrier is nil iff State is
// ResolutionAbsent.
type Resolution struct {
	State   ResolutionState
	Carrier *models.Carrier
}

// Resolve returns the carrier record currently active for code, healing any
// drift between the tracked pointer and what the store considers active.
//
// The host platform can silently replace a carrier version: a validation
// rollback during a manual edit soft-deletes the version we created and
// activates a fresh one, without the update notification ever firing. The
// tracked pointer is therefore a hint, not the truth, and has to be checked
// against the store on every resolution. Drift is repaired here and never
// surfaces as an error.
func (e *Engine) Resolve(ctx context.Context, shopID uint64, code string) (Resolution, error) {
	return e.resolve(ctx, newRequestCache(e.cfg), shopID, code)
}

func (e *Engine) resolve(ctx context.Context, rc *requestCache, shopID uint64, code string) (Resolution, error) {
	tracked, ok, err := e.loadTracked(ctx, rc, code)
	if err != nil {
		return Resolution{}, err
	}

	referenceID := tracked.ReferenceID
	adopted := false
	if !ok {
		// Best effort for pre-lineage installs: an old bare tracking id may
		// still point into a lineage we can adopt. Its reference lookup can
		// fail too, in which case the code is simply absent.
		legacyID, legacyOK, err := e.legacyTrackedID(ctx, rc)
		if err != nil {
			return Resolution{}, err
		}
		if !legacyOK {
			return Resolution{State: ResolutionAbsent}, nil
		}
		legacy, err := e.carriers.Get(ctx, legacyID)
		if err != nil {
			return Resolution{}, errors.Wrap(err, "load legacy carrier")
		}
		if legacy == nil || legacy.OwnerTag != e.ownerTag {
			return Resolution{State: ResolutionAbsent}, nil
		}
		slog.Warn("adopting legacy carrier lineage", "code", code, "carrier", legacy.ID, "reference", legacy.ReferenceID)
		referenceID = legacy.ReferenceID
		adopted = true
	}

	found, err := e.carriers.FindActive(ctx, e.ownerTag, referenceID)
	if err != nil {
		return Resolution{}, errors.Wrap(err, "find active carrier")
	}
	if found == nil {
		return Resolution{State: ResolutionAbsent}, nil
	}

	if ok && found.ID == tracked.LastKnownID {
		return Resolution{State: ResolutionResolved, Carrier: found}, nil
	}

	slog.Warn("carrier out of sync, repairing",
		"code", code, "tracked", tracked.LastKnownID, "active", found.ID)

	if err := e.synchronize(ctx, shopID, found); err != nil {
		return Resolution{}, errors.Wrap(err, "synchronize carrier")
	}
	if err := e.saveTracked(ctx, rc, code, models.TrackedCarrier{
		LastKnownID: found.ID,
		ReferenceID: found.ReferenceID,
	}); err != nil {
		return Resolution{}, err
	}

	// The bare key can back only one code. Retire it with the adoption, or
	// every further code resolved in the same pass would latch onto this
	// lineage too.
	if adopted {
		if err := e.dropLegacyTracked(ctx, rc); err != nil {
			return Resolution{}, err
		}
	}

	return Resolution{State: ResolutionDesynced, Carrier: found}, nil
}

// synchronize applies the relation side effects a carrier version needs to be
// usable: customer-group visibility, shipping-zone coverage, default
// price/weight brackets, payment module relations and the shop association.
// Every step is an insert-if-absent, so re-running it on an already
// synchronized carrier does nothing.
func (e *Engine) synchronize(ctx context.Context, shopID uint64, c *models.Carrier) error {
	if err := e.carriers.EnsureGroups(ctx, c.ID); err != nil {
		return errors.Wrap(err, "ensure groups")
	}
	if err := e.carriers.EnsureZones(ctx, c.ID); err != nil {
		return errors.Wrap(err, "ensure zones")
	}
	if err := e.carriers.EnsureDefaultRanges(ctx, c.ID,
		e.defaults.PriceRangeMin, e.defaults.PriceRangeMax,
		e.defaults.WeightRangeMin, e.defaults.WeightRangeMax,
	); err != nil {
		return errors.Wrap(err, "ensure ranges")
	}

	// A carrier lineage with zero payment relations is invisible at checkout.
	// Relate all installed payment modules in that case.
	restricted, err := e.carriers.IsPaymentRestricted(ctx, c.ID, c.ReferenceID, shopID)
	if err != nil {
		return errors.Wrap(err, "check payment restriction")
	}
	if restricted {
		ref := c.ReferenceID
		if ref == 0 {
			ref = c.ID
		}
		if err := e.carriers.BackfillPayments(ctx, ref, shopID); err != nil {
			return errors.Wrap(err, "backfill payments")
		}
	}

	if err := e.carriers.EnsureShopAssociation(ctx, c.ID, shopID); err != nil {
		return errors.Wrap(err, "ensure shop association")
	}
	return nil
}
