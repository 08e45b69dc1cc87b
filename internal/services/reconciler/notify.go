package reconciler

import (
	"context"
	"log/slog"

	"github.com/packlane/pointsync/internal/models"
	"github.com/pkg/errors"
)

// HandleCarrierChanged reacts to a host platform notification about a carrier
// version transition. Edits to owned carriers move the tracked pointer to the
// new version; everything else is ignored. An owned carrier no tracked code
// accounts for means the tracking data is gone, which is unrecoverable here:
// ErrUnmatchedCarrier tells the caller the integration needs a reconnect.
func (e *Engine) HandleCarrierChanged(ctx context.Context, carrierID uint64) error {
	c, err := e.carriers.Get(ctx, carrierID)
	if err != nil {
		return errors.Wrap(err, "load notified carrier")
	}
	if c == nil || c.OwnerTag != e.ownerTag {
		// Manual edits to unrelated carriers also fire this notification.
		return nil
	}

	tracked, err := e.trackedCodes(ctx)
	if err != nil {
		return err
	}

	rc := newRequestCache(e.cfg)
	for code, tc := range tracked {
		if tc.LastKnownID != c.ID && tc.ReferenceID != c.ReferenceID {
			continue
		}
		if tc.LastKnownID == c.ID {
			return nil
		}
		slog.Info("carrier re-versioned by host platform",
			"code", code, "old", tc.LastKnownID, "new", c.ID)
		return e.saveTracked(ctx, rc, code, models.TrackedCarrier{
			LastKnownID: c.ID,
			ReferenceID: c.ReferenceID,
		})
	}

	return errors.Wrapf(ErrUnmatchedCarrier, "carrier %d", carrierID)
}
