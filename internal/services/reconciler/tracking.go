package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/packlane/pointsync/internal/models"
	"github.com/pkg/errors"
)

// trackedCodes scans the tracking keys and returns every code the engine has
// materialized a carrier for. Entries violating the both-fields-set invariant
// are skipped, not fatal: a half-written entry behaves like an absent one and
// the next reconcile recreates it.
func (e *Engine) trackedCodes(ctx context.Context) (map[string]models.TrackedCarrier, error) {
	entries, err := e.cfg.ListByPrefix(ctx, carrierKeyPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list tracking configs")
	}

	out := make(map[string]models.TrackedCarrier, len(entries))
	for _, entry := range entries {
		code, ok := codeFromKey(entry.Name)
		if !ok {
			continue
		}
		tc, err := parseTracked(entry.Value)
		if err != nil {
			slog.Warn("malformed tracking entry", "code", code, "error", err.Error())
			continue
		}
		out[code] = tc
	}
	return out, nil
}

func (e *Engine) loadTracked(ctx context.Context, rc *requestCache, code string) (models.TrackedCarrier, bool, error) {
	raw, ok, err := rc.getGlobal(ctx, carrierKey(code))
	if err != nil {
		return models.TrackedCarrier{}, false, errors.Wrap(err, "read tracking config")
	}
	if !ok {
		return models.TrackedCarrier{}, false, nil
	}
	tc, err := parseTracked(raw)
	if err != nil {
		slog.Warn("malformed tracking entry", "code", code, "error", err.Error())
		return models.TrackedCarrier{}, false, nil
	}
	return tc, true, nil
}

func (e *Engine) saveTracked(ctx context.Context, rc *requestCache, code string, tc models.TrackedCarrier) error {
	b, err := json.Marshal(tc)
	if err != nil {
		return errors.Wrap(err, "marshal tracking entry")
	}
	if err := e.cfg.SetGlobal(ctx, carrierKey(code), string(b)); err != nil {
		return errors.Wrap(err, "save tracking entry")
	}
	rc.forget(carrierKey(code), 0)
	return nil
}

func (e *Engine) deleteTracked(ctx context.Context, rc *requestCache, code string) error {
	if err := e.cfg.DeleteByName(ctx, carrierKey(code)); err != nil {
		return errors.Wrap(err, "delete tracking entry")
	}
	rc.forget(carrierKey(code), 0)
	return nil
}

func parseTracked(raw string) (models.TrackedCarrier, error) {
	var tc models.TrackedCarrier
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		return models.TrackedCarrier{}, err
	}
	if tc.LastKnownID == 0 || tc.ReferenceID == 0 {
		return models.TrackedCarrier{}, errors.New("tracking entry missing id or reference")
	}
	return tc, nil
}

// legacyTrackedID reads the bare pre-lineage tracking key left behind by
// single-carrier installs.
func (e *Engine) legacyTrackedID(ctx context.Context, rc *requestCache) (uint64, bool, error) {
	raw, ok, err := rc.getGlobal(ctx, legacyCarrierKey)
	if err != nil || !ok {
		return 0, false, errors.Wrap(err, "read legacy tracking config")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false, nil
	}
	return id, true, nil
}

func (e *Engine) dropLegacyTracked(ctx context.Context, rc *requestCache) error {
	if err := e.cfg.DeleteByName(ctx, legacyCarrierKey); err != nil {
		return errors.Wrap(err, "delete legacy tracking entry")
	}
	rc.forget(legacyCarrierKey, 0)
	return nil
}

// purgeLegacyTracking drops the pre-lineage key once per-code tracking
// entries exist; at that point the old pointer can only mislead.
func (e *Engine) purgeLegacyTracking(ctx context.Context, rc *requestCache) error {
	_, ok, err := e.legacyTrackedID(ctx, rc)
	if err != nil || !ok {
		return err
	}
	tracked, err := e.trackedCodes(ctx)
	if err != nil {
		return err
	}
	if len(tracked) == 0 {
		return nil
	}
	slog.Info("removing legacy carrier tracking entry")
	return e.dropLegacyTracked(ctx, rc)
}
