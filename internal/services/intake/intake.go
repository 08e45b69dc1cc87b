// Package intake turns the panel's asynchronous configuration-write callbacks
// into reconciliation passes. It owns payload validation and the duplicate-row
// cleanup the configuration store itself does not enforce.
package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/packlane/pointsync/internal/broker/messages"
	"github.com/packlane/pointsync/internal/models"
	"github.com/packlane/pointsync/internal/services/reconciler"
	"github.com/pkg/errors"
)

// ConfigStore is the subset of the configuration table the intake needs.
type ConfigStore interface {
	Get(ctx context.Context, name string, shopID uint64) (string, bool, error)
	DeleteForShop(ctx context.Context, name string, shopID uint64) error
	DeleteOrphans(ctx context.Context, name string, shopID, keepID uint64) error
}

// Reconciler converges carrier records onto a selection.
type Reconciler interface {
	Reconcile(ctx context.Context, shopID uint64, selected models.SelectedCarriers) error
	RemoveAll(ctx context.Context, shopID uint64, force bool) error
}

// Invalidator drops derived per-shop state after the carrier set changed.
type Invalidator interface {
	Invalidate(ctx context.Context, shopID uint64) error
}

// Publisher emits broker events about completed passes.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

var (
	// ErrInvalidSelection marks a malformed or empty selected-carriers
	// payload. The offending row is discarded before this is returned.
	ErrInvalidSelection = errors.New("invalid selected carriers payload")

	// ErrOrphanCleanup means duplicate configuration rows could not be
	// removed. Reconciling against a store with ambiguous newest reads is
	// unsafe, so the whole intake pass is aborted.
	ErrOrphanCleanup = errors.New("orphan configuration cleanup failed")
)

type Service struct {
	cfg ConfigStore
	rec Reconciler
	inv Invalidator // optional

	pub      Publisher // optional
	pubTopic string
}

func New(cfg ConfigStore, rec Reconciler, inv Invalidator) *Service {
	return &Service{cfg: cfg, rec: rec, inv: inv}
}

// WithPublisher makes the service announce completed passes on topic.
func (s *Service) WithPublisher(pub Publisher, topic string) *Service {
	s.pub = pub
	s.pubTopic = topic
	return s
}

// HandleSelectionWrite processes a panel write of the selected-carriers value.
// rowID is the configuration row the platform just persisted; every other row
// under the same name+shop is an orphan of an earlier partial write.
func (s *Service) HandleSelectionWrite(ctx context.Context, shopID, rowID uint64, payload string) error {
	sel, err := parseSelection(payload)
	if err != nil {
		slog.Warn("discarding invalid selection payload", "shop", shopID, "error", err.Error())
		if derr := s.cfg.DeleteForShop(ctx, reconciler.KeySelected, shopID); derr != nil {
			return errors.Wrap(derr, "discard invalid selection row")
		}
		return errors.Wrap(ErrInvalidSelection, err.Error())
	}

	if err := s.cfg.DeleteOrphans(ctx, reconciler.KeySelected, shopID, rowID); err != nil {
		return errors.Wrap(ErrOrphanCleanup, err.Error())
	}

	if err := s.rec.Reconcile(ctx, shopID, sel); err != nil {
		return errors.Wrap(err, "reconcile selection")
	}
	return s.completePass(ctx, shopID, sel)
}

// HandleScriptWrite processes a panel write of the service-point script value.
// The script alone has nothing to reconcile; the pass runs against whatever
// selection is currently stored, if any.
func (s *Service) HandleScriptWrite(ctx context.Context, shopID, rowID uint64) error {
	if err := s.cfg.DeleteOrphans(ctx, reconciler.KeyScript, shopID, rowID); err != nil {
		return errors.Wrap(ErrOrphanCleanup, err.Error())
	}
	return s.ReconcileStored(ctx, shopID)
}

// ReconcileStored runs a pass against whatever selection is currently stored
// for the shop. Used when an external event may have invalidated carrier
// records out from under us.
func (s *Service) ReconcileStored(ctx context.Context, shopID uint64) error {
	raw, ok, err := s.cfg.Get(ctx, reconciler.KeySelected, shopID)
	if err != nil {
		return errors.Wrap(err, "read selection")
	}
	if !ok {
		slog.Info("no selection stored, nothing to reconcile", "shop", shopID)
		return nil
	}
	sel, err := parseSelection(raw)
	if err != nil {
		slog.Warn("stored selection payload is invalid, skipping reconcile", "shop", shopID, "error", err.Error())
		return nil
	}

	if err := s.rec.Reconcile(ctx, shopID, sel); err != nil {
		return errors.Wrap(err, "reconcile stored selection")
	}
	return s.completePass(ctx, shopID, sel)
}

// HandleConfigDeleted reacts to the platform dropping one of the keys the
// feature is gated on. Losing either one deactivates service points for the
// shop: owned carriers come down unless another shop still uses them.
func (s *Service) HandleConfigDeleted(ctx context.Context, shopID uint64, name string) error {
	if name != reconciler.KeySelected && name != reconciler.KeyScript {
		return nil
	}
	slog.Info("service point configuration removed, deactivating", "shop", shopID, "name", name)
	if err := s.rec.RemoveAll(ctx, shopID, false); err != nil {
		return errors.Wrap(err, "deactivate service points")
	}
	return s.completePass(ctx, shopID, nil)
}

// completePass runs the best-effort epilogue of a successful pass: the
// derived availability state is dropped and the outcome announced. Neither
// step may fail the intake retroactively.
func (s *Service) completePass(ctx context.Context, shopID uint64, sel models.SelectedCarriers) error {
	if s.pub != nil {
		codes := make([]string, 0, len(sel))
		for code := range sel {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		b, err := json.Marshal(messages.ReconcileCompleted{
			ShopID:     shopID,
			Codes:      codes,
			OccurredAt: time.Now().UTC(),
		})
		if err == nil {
			err = s.pub.Publish(ctx, s.pubTopic, []byte(strconv.FormatUint(shopID, 10)), b)
		}
		if err != nil {
			slog.Warn("publish reconcile event failed", "shop", shopID, "error", err.Error())
		}
	}

	if s.inv != nil {
		if err := s.inv.Invalidate(ctx, shopID); err != nil {
			// Stale availability is self-correcting once the TTL runs out.
			slog.Warn("availability cache invalidation failed", "shop", shopID, "error", err.Error())
		}
	}
	return nil
}

func parseSelection(payload string) (models.SelectedCarriers, error) {
	var sel models.SelectedCarriers
	if err := json.Unmarshal([]byte(payload), &sel); err != nil {
		return nil, errors.Wrap(err, "unmarshal selection")
	}
	if len(sel) == 0 {
		return nil, errors.New("selection is empty")
	}
	for code := range sel {
		if code == "" {
			return nil, errors.New("selection contains an empty carrier code")
		}
	}
	return sel, nil
}
