package connection

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/packlane/pointsync/internal/services/reconciler"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct {
	values map[string]string
}

func (f *fakeConfig) GetGlobal(ctx context.Context, name string) (string, bool, error) {
	v, ok := f.values[name]
	return v, ok, nil
}

func (f *fakeConfig) SetGlobal(ctx context.Context, name, value string) error {
	f.values[name] = value
	return nil
}

func (f *fakeConfig) DeleteByName(ctx context.Context, name string) error {
	delete(f.values, name)
	return nil
}

func (f *fakeConfig) DeleteByPrefix(ctx context.Context, prefix string) error {
	for name := range f.values {
		if strings.HasPrefix(name, prefix) {
			delete(f.values, name)
		}
	}
	return nil
}

type fakeKeys struct {
	nextID uint64
	keys   map[uint64]string
}

func (f *fakeKeys) CreateAPIKey(ctx context.Context, key, description string) (uint64, error) {
	f.nextID++
	f.keys[f.nextID] = key
	return f.nextID, nil
}

func (f *fakeKeys) APIKeyExists(ctx context.Context, id uint64) (bool, error) {
	_, ok := f.keys[id]
	return ok, nil
}

func (f *fakeKeys) DeleteAPIKey(ctx context.Context, id uint64) error {
	delete(f.keys, id)
	return nil
}

type fakeReconciler struct {
	removed []uint64
	forced  bool
}

func (f *fakeReconciler) RemoveAll(ctx context.Context, shopID uint64, force bool) error {
	f.removed = append(f.removed, shopID)
	f.forced = force
	return nil
}

func newTestService() (*Service, *fakeConfig, *fakeKeys, *fakeReconciler) {
	cfg := &fakeConfig{values: map[string]string{}}
	keys := &fakeKeys{keys: map[uint64]string{}}
	rec := &fakeReconciler{}
	return New(cfg, keys, rec), cfg, keys, rec
}

func TestService_Connect(t *testing.T) {
	s, cfg, keys, _ := newTestService()

	set, err := s.Connect(context.Background(), []uint64{1, 2})
	require.NoError(t, err)
	require.NotZero(t, set.KeyID)
	require.NotEmpty(t, set.Key)
	require.Equal(t, set.Key, keys.keys[set.KeyID])

	var stored Settings
	require.NoError(t, json.Unmarshal([]byte(cfg.values[reconciler.KeyConnect]), &stored))
	require.Equal(t, *set, stored)

	_, err = s.Connect(context.Background(), []uint64{1})
	require.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestService_Connect_requiresShops(t *testing.T) {
	s, _, _, _ := newTestService()
	_, err := s.Connect(context.Background(), nil)
	require.Error(t, err)
}

func TestService_Settings_selfCleansRevokedKey(t *testing.T) {
	s, cfg, keys, _ := newTestService()

	set, err := s.Connect(context.Background(), []uint64{1})
	require.NoError(t, err)

	// The key is revoked behind our back (merchant deleted it manually).
	require.NoError(t, keys.DeleteAPIKey(context.Background(), set.KeyID))

	got, err := s.Settings(context.Background())
	require.NoError(t, err)
	require.Nil(t, got)
	require.NotContains(t, cfg.values, reconciler.KeyConnect)

	ok, err := s.IsConnected(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestService_Settings_selfCleansMalformed(t *testing.T) {
	s, cfg, _, _ := newTestService()
	cfg.values[reconciler.KeyConnect] = `{"id":0}`

	got, err := s.Settings(context.Background())
	require.NoError(t, err)
	require.Nil(t, got)
	require.NotContains(t, cfg.values, reconciler.KeyConnect)
}

func TestService_Disconnect(t *testing.T) {
	s, cfg, keys, rec := newTestService()

	_, err := s.Connect(context.Background(), []uint64{1, 2})
	require.NoError(t, err)
	cfg.values["POINTSYNC_SCRIPT"] = "<script/>"
	cfg.values["PS_SHOP_NAME"] = "keepme"

	require.NoError(t, s.Disconnect(context.Background()))

	require.ElementsMatch(t, []uint64{1, 2}, rec.removed)
	require.True(t, rec.forced)
	require.Empty(t, keys.keys)
	require.NotContains(t, cfg.values, reconciler.KeyConnect)
	require.NotContains(t, cfg.values, "POINTSYNC_SCRIPT")
	require.Contains(t, cfg.values, "PS_SHOP_NAME")

	// Disconnecting again is a no-op.
	require.NoError(t, s.Disconnect(context.Background()))
}
