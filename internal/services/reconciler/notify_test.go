package reconciler

import (
	"context"
	"testing"

	"github.com/packlane/pointsync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestEngine_HandleCarrierChanged_movesPointer(t *testing.T) {
	e, cfg, cs := newTestEngine()
	enableScript(cfg, 1)
	require.NoError(t, e.Reconcile(context.Background(), 1, models.SelectedCarriers{"dpd": "DPD"}))
	old := trackedEntry(t, cfg, "dpd")

	repl := cs.reversion(old.LastKnownID)
	require.NoError(t, e.HandleCarrierChanged(context.Background(), repl.ID))

	tc := trackedEntry(t, cfg, "dpd")
	require.Equal(t, repl.ID, tc.LastKnownID)
	require.Equal(t, old.ReferenceID, tc.ReferenceID)
}

func TestEngine_HandleCarrierChanged_currentVersionIsNoop(t *testing.T) {
	e, cfg, _ := newTestEngine()
	enableScript(cfg, 1)
	require.NoError(t, e.Reconcile(context.Background(), 1, models.SelectedCarriers{"dpd": "DPD"}))
	tc := trackedEntry(t, cfg, "dpd")

	writes := cfg.setCalls
	require.NoError(t, e.HandleCarrierChanged(context.Background(), tc.LastKnownID))
	require.Equal(t, writes, cfg.setCalls)
}

func TestEngine_HandleCarrierChanged_ignoresForeign(t *testing.T) {
	e, cfg, cs := newTestEngine()

	c, err := cs.Create(context.Background(), models.CarrierSpec{
		Name: "Colissimo", OwnerTag: "other_module", Active: true,
	})
	require.NoError(t, err)

	require.NoError(t, e.HandleCarrierChanged(context.Background(), c.ID))
	require.Empty(t, cfg.rows)
}

func TestEngine_HandleCarrierChanged_ignoresUnknownID(t *testing.T) {
	e, _, _ := newTestEngine()
	require.NoError(t, e.HandleCarrierChanged(context.Background(), 999))
}

func TestEngine_HandleCarrierChanged_unmatchedOwnedIsFatal(t *testing.T) {
	e, _, cs := newTestEngine()

	c, err := cs.Create(context.Background(), models.CarrierSpec{
		Name: "Service Point Delivery", OwnerTag: "pointsync", Active: true,
	})
	require.NoError(t, err)

	err = e.HandleCarrierChanged(context.Background(), c.ID)
	require.ErrorIs(t, err, ErrUnmatchedCarrier)
}
