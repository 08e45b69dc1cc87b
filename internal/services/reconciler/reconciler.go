package reconciler

import (
	"context"
	"log/slog"

	"github.com/packlane/pointsync/internal/models"
	"github.com/pkg/errors"
)

// ConfigStore is the host platform's configuration table. Several rows may
// exist for one name+shop; reads return the newest.
type ConfigStore interface {
	Get(ctx context.Context, name string, shopID uint64) (string, bool, error)
	GetGlobal(ctx context.Context, name string) (string, bool, error)
	Set(ctx context.Context, name string, shopID uint64, value string) error
	SetGlobal(ctx context.Context, name, value string) error
	DeleteByName(ctx context.Context, name string) error
	DeleteForShop(ctx context.Context, name string, shopID uint64) error
	ListByPrefix(ctx context.Context, prefix string) ([]*models.ConfigEntry, error)
	CountByNameElsewhere(ctx context.Context, name string, excludeShopID uint64) (int64, error)
}

// CarrierStore is the host platform's carrier model: versioned rows grouped
// into lineages by reference id, plus the relations hanging off them.
type CarrierStore interface {
	Create(ctx context.Context, spec models.CarrierSpec) (*models.Carrier, error)
	Get(ctx context.Context, id uint64) (*models.Carrier, error)
	FindActive(ctx context.Context, ownerTag string, referenceID uint64) (*models.Carrier, error)
	Delete(ctx context.Context, id uint64) (bool, error)
	CountOwnedActive(ctx context.Context, ownerTag string) (int64, error)
	ListActiveForShop(ctx context.Context, shopID uint64) ([]*models.Carrier, error)
	EnsureShopAssociation(ctx context.Context, carrierID, shopID uint64) error
	EnsureGroups(ctx context.Context, carrierID uint64) error
	EnsureZones(ctx context.Context, carrierID uint64) error
	EnsureDefaultRanges(ctx context.Context, carrierID uint64, priceMin, priceMax, weightMin, weightMax float64) error
	IsPaymentRestricted(ctx context.Context, carrierID, referenceID, shopID uint64) (bool, error)
	BackfillPayments(ctx context.Context, referenceID, shopID uint64) error
	DefaultCarrier(ctx context.Context, shopID uint64) (uint64, error)
	SetDefaultCarrier(ctx context.Context, shopID, carrierID uint64) error
}

var (
	// ErrNoDefaultFallback aborts a removal that would leave the shop with no
	// viable default carrier.
	ErrNoDefaultFallback = errors.New("no other active carrier can become the shop default")

	// ErrUnmatchedCarrier means a host platform notification referenced an
	// owned carrier no tracked code points at. Tracking data is lost or
	// corrupted and the merchant has to reconnect.
	ErrUnmatchedCarrier = errors.New("carrier does not match any tracked carrier code")
)

// Defaults is the fixed configuration applied to every carrier the engine
// materializes.
type Defaults struct {
	PriceRangeMin  float64
	PriceRangeMax  float64
	WeightRangeMin float64 // kg
	WeightRangeMax float64
	MaxWidth       float64
	MaxHeight      float64
	MaxDepth       float64
	Grade          int32
}

func DefaultCarrierDefaults() Defaults {
	return Defaults{
		PriceRangeMin:  0,
		PriceRangeMax:  10000,
		WeightRangeMin: 0,
		WeightRangeMax: 50,
		MaxWidth:       150,
		MaxHeight:      150,
		MaxDepth:       150,
		Grade:          4,
	}
}

// Engine converges the locally materialized carrier records of one shop onto
// the carrier codes selected in the external panel.
type Engine struct {
	cfg      ConfigStore
	carriers CarrierStore

	ownerTag    string
	trackingURL string
	defaults    Defaults
}

func New(cfg ConfigStore, carriers CarrierStore, ownerTag, trackingURL string) *Engine {
	return &Engine{
		cfg:         cfg,
		carriers:    carriers,
		ownerTag:    ownerTag,
		trackingURL: trackingURL,
		defaults:    DefaultCarrierDefaults(),
	}
}

func (e *Engine) WithDefaults(d Defaults) *Engine {
	e.defaults = d
	return e
}

// Reconcile makes the set of active owned carrier records for the shop match
// selected. Safe to re-run: a second pass over unchanged state mutates
// nothing. Failures local to one code are logged and do not stop the others.
func (e *Engine) Reconcile(ctx context.Context, shopID uint64, selected models.SelectedCarriers) error {
	rc := newRequestCache(e.cfg)

	// Without the script configuration the feature is not enabled end to end
	// for this shop; materializing carriers now would leave them pointing at
	// nothing.
	script, ok, err := rc.get(ctx, KeyScript, shopID)
	if err != nil {
		return errors.Wrap(err, "read script config")
	}
	if !ok || script == "" {
		slog.Info("service points not enabled, skipping reconcile", "shop", shopID)
		return nil
	}

	registered, err := e.trackedCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list tracked codes")
	}

	var toCreate, toRemove, toPreserve []string
	for code := range registered {
		if _, ok := selected[code]; !ok {
			toRemove = append(toRemove, code)
		} else {
			toPreserve = append(toPreserve, code)
		}
	}
	for code := range selected {
		if _, ok := registered[code]; !ok {
			toCreate = append(toCreate, code)
		}
	}

	for _, code := range toRemove {
		if err := e.removeCarrier(ctx, rc, shopID, code, false); err != nil {
			slog.Error("remove carrier", "shop", shopID, "code", code, "error", err.Error())
		}
	}

	for _, code := range toCreate {
		if err := e.createOrRestoreCarrier(ctx, rc, shopID, code, selected[code]); err != nil {
			slog.Error("create carrier", "shop", shopID, "code", code, "error", err.Error())
		}
	}

	// Codes present on both sides stay as they are, modulo drift repair.
	for _, code := range toPreserve {
		if _, err := e.resolve(ctx, rc, shopID, code); err != nil {
			slog.Error("resolve carrier", "shop", shopID, "code", code, "error", err.Error())
		}
	}

	if err := e.purgeLegacyTracking(ctx, rc); err != nil {
		slog.Error("purge legacy tracking", "error", err.Error())
	}

	return nil
}

// RemoveAll decommissions every tracked carrier code. force skips the
// shared-by-other-shops check; disconnect passes true.
func (e *Engine) RemoveAll(ctx context.Context, shopID uint64, force bool) error {
	rc := newRequestCache(e.cfg)

	registered, err := e.trackedCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list tracked codes")
	}

	var firstErr error
	for code := range registered {
		if err := e.removeCarrier(ctx, rc, shopID, code, force); err != nil {
			slog.Error("remove carrier", "shop", shopID, "code", code, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
