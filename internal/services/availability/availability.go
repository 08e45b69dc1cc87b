// Package availability answers the storefront's only question: can service
// point delivery be offered for this shop right now. The answer aggregates
// connection state, the script configuration and the carrier records, so it
// is cached per shop with a short TTL.
package availability

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/packlane/pointsync/internal/cache"
	"github.com/packlane/pointsync/internal/models"
	"github.com/packlane/pointsync/internal/services/reconciler"
	"github.com/pkg/errors"
)

type ConfigStore interface {
	Get(ctx context.Context, name string, shopID uint64) (string, bool, error)
}

type CarrierStore interface {
	ListActiveForShop(ctx context.Context, shopID uint64) ([]*models.Carrier, error)
	HasZones(ctx context.Context, carrierID uint64) (bool, error)
	IsPaymentRestricted(ctx context.Context, carrierID, referenceID, shopID uint64) (bool, error)
}

type Connection interface {
	IsConnected(ctx context.Context) (bool, error)
}

type Service struct {
	cfg      ConfigStore
	carriers CarrierStore
	conn     Connection
	ownerTag string

	cache cache.BytesCache // optional
	ttl   time.Duration
}

func New(cfg ConfigStore, carriers CarrierStore, conn Connection, ownerTag string, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{cfg: cfg, carriers: carriers, conn: conn, ownerTag: ownerTag, cache: c, ttl: ttl}
}

// Available reports whether service points can be offered at checkout for the
// shop: the integration is connected, the script is configured and at least
// one owned carrier is live, covers a shipping zone and has a usable payment
// relation.
func (s *Service) Available(ctx context.Context, shopID uint64) (bool, error) {
	key := cacheKey(shopID)
	if s.cache != nil {
		if b, ok, err := s.cache.Get(ctx, key); err != nil {
			slog.Warn("availability cache read failed", "shop", shopID, "error", err.Error())
		} else if ok {
			return string(b) == "1", nil
		}
	}

	avail, err := s.compute(ctx, shopID)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		v := []byte("0")
		if avail {
			v = []byte("1")
		}
		if err := s.cache.Set(ctx, key, v, s.ttl); err != nil {
			slog.Warn("availability cache write failed", "shop", shopID, "error", err.Error())
		}
	}
	return avail, nil
}

// Invalidate drops the cached answer after a reconciliation pass changed the
// carrier set.
func (s *Service) Invalidate(ctx context.Context, shopID uint64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, cacheKey(shopID))
}

func (s *Service) compute(ctx context.Context, shopID uint64) (bool, error) {
	connected, err := s.conn.IsConnected(ctx)
	if err != nil {
		return false, errors.Wrap(err, "check connection")
	}
	if !connected {
		return false, nil
	}

	script, ok, err := s.cfg.Get(ctx, reconciler.KeyScript, shopID)
	if err != nil {
		return false, errors.Wrap(err, "read script config")
	}
	if !ok || script == "" {
		return false, nil
	}

	carriers, err := s.carriers.ListActiveForShop(ctx, shopID)
	if err != nil {
		return false, errors.Wrap(err, "list shop carriers")
	}
	for _, c := range carriers {
		if c.OwnerTag != s.ownerTag {
			continue
		}
		// A carrier with no zone coverage never shows up at checkout even
		// when everything else is in place.
		hasZones, err := s.carriers.HasZones(ctx, c.ID)
		if err != nil {
			return false, errors.Wrap(err, "check carrier zones")
		}
		if !hasZones {
			continue
		}
		restricted, err := s.carriers.IsPaymentRestricted(ctx, c.ID, c.ReferenceID, shopID)
		if err != nil {
			return false, errors.Wrap(err, "check payment restriction")
		}
		if !restricted {
			return true, nil
		}
	}
	return false, nil
}

func cacheKey(shopID uint64) string {
	return "availability:" + strconv.FormatUint(shopID, 10)
}
