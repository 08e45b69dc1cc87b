// Package connection manages the integration's credential lifecycle: issuing
// the webservice key on connect, validating it on every settings read and
// tearing everything down on disconnect.
package connection

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/packlane/pointsync/internal/services/reconciler"
	"github.com/pkg/errors"
)

type ConfigStore interface {
	GetGlobal(ctx context.Context, name string) (string, bool, error)
	SetGlobal(ctx context.Context, name, value string) error
	DeleteByName(ctx context.Context, name string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// KeyStore holds the webservice credentials the panel calls back with.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key, description string) (uint64, error)
	APIKeyExists(ctx context.Context, id uint64) (bool, error)
	DeleteAPIKey(ctx context.Context, id uint64) error
}

type Reconciler interface {
	RemoveAll(ctx context.Context, shopID uint64, force bool) error
}

// ErrAlreadyConnected guards against a second connect silently rotating the
// key the panel already holds.
var ErrAlreadyConnected = errors.New("integration is already connected")

// Settings is the connection state persisted as one global configuration
// value.
type Settings struct {
	KeyID uint64   `json:"id"`
	Key   string   `json:"key"`
	Shops []uint64 `json:"shops"`
}

type Service struct {
	cfg  ConfigStore
	keys KeyStore
	rec  Reconciler
}

func New(cfg ConfigStore, keys KeyStore, rec Reconciler) *Service {
	return &Service{cfg: cfg, keys: keys, rec: rec}
}

// Connect issues a fresh webservice key for the given shops and persists the
// connection settings. Connecting twice without a disconnect in between is an
// error.
func (s *Service) Connect(ctx context.Context, shops []uint64) (*Settings, error) {
	if existing, err := s.Settings(ctx); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAlreadyConnected
	}
	if len(shops) == 0 {
		return nil, errors.New("connect requires at least one shop")
	}

	key := uuid.NewString()
	id, err := s.keys.CreateAPIKey(ctx, key, "service point panel access")
	if err != nil {
		return nil, errors.Wrap(err, "issue api key")
	}

	set := &Settings{KeyID: id, Key: key, Shops: shops}
	b, err := json.Marshal(set)
	if err != nil {
		return nil, errors.Wrap(err, "marshal settings")
	}
	if err := s.cfg.SetGlobal(ctx, reconciler.KeyConnect, string(b)); err != nil {
		return nil, errors.Wrap(err, "save settings")
	}

	slog.Info("integration connected", "key_id", id, "shops", shops)
	return set, nil
}

// Settings loads the stored connection state. A settings row whose key was
// revoked out-of-band is stale: it is deleted and nil is returned, so the
// merchant sees "not connected" instead of a half-working integration.
func (s *Service) Settings(ctx context.Context) (*Settings, error) {
	raw, ok, err := s.cfg.GetGlobal(ctx, reconciler.KeyConnect)
	if err != nil {
		return nil, errors.Wrap(err, "read settings")
	}
	if !ok {
		return nil, nil
	}

	var set Settings
	if err := json.Unmarshal([]byte(raw), &set); err != nil || set.KeyID == 0 {
		slog.Warn("removing malformed connection settings")
		return nil, s.dropSettings(ctx)
	}

	exists, err := s.keys.APIKeyExists(ctx, set.KeyID)
	if err != nil {
		return nil, errors.Wrap(err, "check api key")
	}
	if !exists {
		slog.Warn("api key revoked, removing stale connection settings", "key_id", set.KeyID)
		return nil, s.dropSettings(ctx)
	}
	return &set, nil
}

func (s *Service) IsConnected(ctx context.Context) (bool, error) {
	set, err := s.Settings(ctx)
	return set != nil, err
}

// Disconnect tears the integration down: every connected shop's carriers are
// force-removed, the key revoked and every plugin-owned configuration row
// dropped.
func (s *Service) Disconnect(ctx context.Context) error {
	set, err := s.Settings(ctx)
	if err != nil {
		return err
	}
	if set == nil {
		return nil
	}

	for _, shop := range set.Shops {
		if err := s.rec.RemoveAll(ctx, shop, true); err != nil {
			return errors.Wrapf(err, "remove carriers for shop %d", shop)
		}
	}
	if err := s.keys.DeleteAPIKey(ctx, set.KeyID); err != nil {
		return errors.Wrap(err, "revoke api key")
	}
	if err := s.cfg.DeleteByPrefix(ctx, reconciler.KeyPrefix); err != nil {
		return errors.Wrap(err, "purge configuration")
	}

	slog.Info("integration disconnected", "shops", set.Shops)
	return nil
}

func (s *Service) dropSettings(ctx context.Context) error {
	return errors.Wrap(s.cfg.DeleteByName(ctx, reconciler.KeyConnect), "drop settings")
}
